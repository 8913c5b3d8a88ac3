// Package gc implements the metadata-log and mapping-region garbage
// collectors of spec.md §4.5: section-at-a-time compaction under a
// dedicated GC mutex per region, copy-forward of VALID metadata blocks, and
// discard-only reclamation of the mapping region (correctness resting on
// version supersession, spec.md §4.5.2 and §9).
//
// Grounded on the teacher's buffer_pool/buffer_lru.go free-list reclamation
// pass and storage/store/extents' bitmap-driven occupancy tracking,
// generalized from "evict one page" to "compact one section".
package gc

import (
	"sync"

	"github.com/juju/errors"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/alloc"
	"github.com/flashmeta/alfs/internal/alfs/device"
	"github.com/flashmeta/alfs/internal/alfs/geom"
	"github.com/flashmeta/alfs/internal/alfs/mapping"
	"github.com/flashmeta/alfs/internal/alfs/summary"
	"github.com/flashmeta/alfs/logger"
)

// Engine owns both region GC passes for one mounted instance.
type Engine struct {
	geometry geom.Geometry
	dev      device.Device
	table    *mapping.Table
	metalog  *alloc.Region
	mappingR *alloc.Region
	barrier  device.Barrier

	metalogMu sync.Mutex
	mappingMu sync.Mutex
}

// New constructs a GC engine over the given region allocators and mapping
// table. metalog.Summary must be non-nil; mappingR.Summary must be nil
// (spec.md §4.5.2 tracks no per-block validity there).
func New(g geom.Geometry, dev device.Device, table *mapping.Table, metalog, mappingR *alloc.Region, noBarrier bool) *Engine {
	return &Engine{
		geometry: g,
		dev:      dev,
		table:    table,
		metalog:  metalog,
		mappingR: mappingR,
		barrier:  device.DefaultBarrier(noBarrier),
	}
}

// RunMetalogGC compacts the section at the current metalog tail (spec.md
// §4.5.1). Precondition: metalog.Start() is section-aligned, which holds
// as long as only recovery and this function ever move the tail.
func (e *Engine) RunMetalogGC() error {
	e.metalogMu.Lock()
	defer e.metalogMu.Unlock()

	secStart := e.metalog.Start()
	bps := e.metalog.BlocksPerSec
	sm := e.metalog.Summary

	log := logger.WithFields(logger.Fields{"region": "metalog", "section": secStart})
	log.Debug("gc: compacting section")

	for b := uint32(0); b < bps; b++ {
		off := (secStart + b) % e.metalog.Length
		src := e.metalog.Base + off

		switch sm.Get(src) {
		case summary.Free, summary.Invalid:
			sm.Set(src, summary.Free)
			continue
		}

		if err := e.relocateBlock(src); err != nil {
			// Best-effort: log and continue to the next block rather than
			// aborting the whole section (spec.md §7).
			log.Errorf("gc: relocate block %d failed: %+v", src, errors.ErrorStack(errors.Trace(err)))
		}
	}

	if _, err := e.dev.Discard(e.metalog.Base+secStart, bps); err != nil {
		log.Warnf("gc: discard reclaimed section failed: %v", err)
	}
	e.metalog.AdvanceStart(bps)
	return nil
}

// relocateBlock copies one VALID block from src to a freshly allocated
// destination, rewrites its L2P entry, and updates the summary table
// (spec.md §4.5.1 step 2).
func (e *Engine) relocateBlock(src uint32) error {
	l, found := e.table.FindPhysical(src)
	if !found {
		return alfserr.Wrap("gc: metalog relocate", errors.Annotatef(alfserr.CorruptMapping, "no L2P entry points at pblk %d", src))
	}

	page := device.NewPageBuf()
	if err := e.dev.ReadBlock(page, src); err != nil {
		return alfserr.Wrap("gc: read relocation source", err)
	}

	dst, err := e.metalog.Allocate()
	if err != nil {
		return alfserr.Wrap("gc: allocate relocation target", err)
	}

	out := device.NewPageBufFrom(page.Data)
	if err := e.dev.WriteBlock(out, dst, true, e.barrier); err != nil {
		return alfserr.Wrap("gc: write relocation target", err)
	}

	if _, err := e.dev.Discard(src, 1); err != nil {
		logger.Warnf("gc: discard relocated source %d failed: %v", src, err)
	}

	e.table.Lock()
	err = e.table.Assign(l, dst)
	e.table.Unlock()
	if err != nil {
		return alfserr.Wrap("gc: rewrite L2P after relocation", err)
	}

	e.metalog.Summary.Set(src, summary.Free)
	logger.WithFields(logger.Fields{"l": l, "src": src, "dst": dst}).Debug("gc: relocated block")
	return nil
}

// RunMappingGC discards the section at the mapping region's current tail.
// No copying is required: the newest version per window is retained
// through append order and recovery's tie-break rule (spec.md §4.5.2).
func (e *Engine) RunMappingGC() error {
	e.mappingMu.Lock()
	defer e.mappingMu.Unlock()

	secStart := e.mappingR.Start()
	bps := e.mappingR.BlocksPerSec

	if _, err := e.dev.Discard(e.mappingR.Base+secStart, bps); err != nil {
		logger.Warnf("gc: discard mapping section failed: %v", err)
	}
	e.mappingR.AdvanceStart(bps)
	logger.WithFields(logger.Fields{"region": "mapping", "section": secStart}).Debug("gc: reclaimed section")
	return nil
}

// Append implements mapping.Sink: it is the destination FlushDirty writes
// serialized mapping blocks to. It enforces the §9 design note's slack
// precondition by running mapping GC first whenever free space has reached
// the one-section threshold, so the region always retains at least one
// dead section's worth of slack before the append that might consume it.
func (e *Engine) Append(page []byte) (uint32, error) {
	if e.mappingR.NeedsGC() {
		if err := e.RunMappingGC(); err != nil {
			return 0, alfserr.Wrap("gc: mapping precondition flush", err)
		}
	}
	pblk, err := e.mappingR.Allocate()
	if err != nil {
		return 0, alfserr.Wrap("gc: allocate mapping log slot", err)
	}
	buf := device.NewPageBufFrom(page)
	if err := e.dev.WriteBlock(buf, pblk, true, e.barrier); err != nil {
		return 0, alfserr.Wrap("gc: append mapping block", err)
	}
	return pblk, nil
}
