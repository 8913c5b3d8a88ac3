// Package alfs assembles the append-log metadata remapper's components
// (device, summary, mapping, alloc, gc, recovery, remap) into a single
// mount handle. Grounded on the teacher's server.Server construction in
// server/server.go, which wires together the storage manager, buffer pool,
// and connection dispatcher behind one handle rather than global state.
package alfs

import (
	"github.com/flashmeta/alfs/internal/alfs/alloc"
	"github.com/flashmeta/alfs/internal/alfs/device"
	"github.com/flashmeta/alfs/internal/alfs/gc"
	"github.com/flashmeta/alfs/internal/alfs/geom"
	"github.com/flashmeta/alfs/internal/alfs/mapping"
	"github.com/flashmeta/alfs/internal/alfs/recovery"
	"github.com/flashmeta/alfs/internal/alfs/remap"
	"github.com/flashmeta/alfs/internal/alfs/summary"
	"github.com/flashmeta/alfs/logger"
)

// Options are the host-configurable mount switches (spec.md §6).
type Options struct {
	NoBarrier bool
	Discard   bool
}

// Instance is one mounted ALFS handle: every public operation is a method
// on it, deliberately avoiding the package-level mutable state the §9
// design note calls out as a non-goal.
type Instance struct {
	Geometry geom.Geometry
	Device   device.Device

	Table         *mapping.Table
	Summary       *summary.Table
	MetalogRegion *alloc.Region
	MappingRegion *alloc.Region

	GC       *gc.Engine
	Frontend *remap.Frontend
}

// Mount runs recovery against dev under geometry g and assembles the GC
// engine and remap front end over the recovered state (spec.md §4.6 then
// §4.7's steady-state operation).
func Mount(dev device.Device, g geom.Geometry, opts Options) (*Instance, error) {
	result, err := recovery.Recover(dev, g, recovery.Options{UseReverseIndex: true})
	if err != nil {
		return nil, err
	}

	gcEngine := gc.New(g, dev, result.Table, result.MetalogRegion, result.MappingRegion, opts.NoBarrier)
	frontend := remap.New(g, dev, result.Table, result.MetalogRegion, gcEngine, opts.NoBarrier)

	logger.WithFields(logger.Fields{
		"metalog_logi_blks": g.NrMetalogLogiBlks,
		"metalog_phys_blks": g.NrMetalogPhysBlks,
		"mapping_phys_blks": g.NrMappingPhysBlks(),
	}).Info("alfs: mounted")

	return &Instance{
		Geometry:      g,
		Device:        dev,
		Table:         result.Table,
		Summary:       result.Summary,
		MetalogRegion: result.MetalogRegion,
		MappingRegion: result.MappingRegion,
		GC:            gcEngine,
		Frontend:      frontend,
	}, nil
}

// Submit forwards one batched host I/O request to the remap front end
// (spec.md §4.7).
func (inst *Instance) Submit(req *remap.Request) error {
	return inst.Frontend.Submit(req)
}

// Checkpoint forces a flush of every dirty mapping block, the operation the
// host normally triggers implicitly by writing the checkpoint block
// (spec.md §4.7 step 1). Exposed directly for orderly unmount.
func (inst *Instance) Checkpoint() (int, error) {
	return inst.Table.FlushDirty(inst.GC)
}

// MaybeRunGC invokes both region GC passes if their free-space thresholds
// have been crossed (spec.md §4.4's "free_blocks() <= blks_per_sec" rule),
// a no-op otherwise. The host is expected to call this periodically from an
// idle or low-priority context, outside the write path itself (spec.md §5).
func (inst *Instance) MaybeRunGC() error {
	if inst.MetalogRegion.NeedsGC() {
		if err := inst.GC.RunMetalogGC(); err != nil {
			return err
		}
	}
	if inst.MappingRegion.NeedsGC() {
		if err := inst.GC.RunMappingGC(); err != nil {
			return err
		}
	}
	return nil
}

// Unmount flushes the mapping table one last time so recovery will find a
// fully up-to-date L2P state on next mount (spec.md §5 ordering guarantee
// ii), then closes the device if it supports it.
func (inst *Instance) Unmount() error {
	if _, err := inst.Checkpoint(); err != nil {
		return err
	}
	if closer, ok := inst.Device.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
