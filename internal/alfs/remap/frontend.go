// Package remap implements the front end that intercepts the host's
// batched I/O requests (spec.md §4.7): checkpoint-trigger flush, remapping
// writes to freshly allocated physical locations, resolving reads through
// the L2P table, and passing through addresses outside the metadata-log
// range untouched. Grounded on the teacher's
// server/dispatcher/query_dispatcher.go request routing (decode request,
// route by kind, reply), generalized from a single command dispatch to a
// batched page-range dispatch.
package remap

import (
	"fmt"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/alloc"
	"github.com/flashmeta/alfs/internal/alfs/device"
	"github.com/flashmeta/alfs/internal/alfs/geom"
	"github.com/flashmeta/alfs/internal/alfs/mapping"
	"github.com/flashmeta/alfs/internal/alfs/summary"
	"github.com/flashmeta/alfs/logger"
)

// Op identifies the kind of batched request a Request carries.
type Op int

const (
	// OpRead resolves each page through the L2P table before reading.
	OpRead Op = iota
	// OpWrite allocates a fresh physical block for each page and rewrites
	// the L2P table before writing.
	OpWrite
	// OpOther covers any operation ALFS does not interpret (spec.md §4.7
	// step 5). Submit logs a warning when one targets the metadata range;
	// no device I/O is issued for it, inside or outside that range.
	OpOther
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "other"
	}
}

// Request is one batched I/O request covering one or more contiguous 4 KB
// pages starting at sector Sector. Pages[i] is the caller-owned buffer for
// page i; on OpRead it is filled in place, on OpWrite it is the source data.
type Request struct {
	Sector uint64
	Op     Op
	Pages  [][]byte
	Sync   bool
}

// TraceFunc is an I/O trace callback a host may attach to a Frontend.
// event is "enter" or "exit"; ALFS assigns no further meaning to trace
// events beyond marking the front end's request boundary (the original's
// trace.h traces many more call sites than this; out-of-scope here per
// spec.md, this just keeps an attachment point for whatever the host
// wants to do with it).
type TraceFunc func(event string, op Op, l uint32)

// Frontend is the mounted remap front end for one ALFS instance.
type Frontend struct {
	geometry geom.Geometry
	dev      device.Device
	table    *mapping.Table
	metalog  *alloc.Region
	sink     mapping.Sink
	barrier  device.Barrier
	trace    TraceFunc
}

// New constructs a Frontend. sink is where flush_dirty appends serialized
// mapping blocks (the GC engine, which also enforces the mapping region's
// GC precondition on append).
func New(g geom.Geometry, dev device.Device, table *mapping.Table, metalog *alloc.Region, sink mapping.Sink, noBarrier bool) *Frontend {
	return &Frontend{
		geometry: g,
		dev:      dev,
		table:    table,
		metalog:  metalog,
		sink:     sink,
		barrier:  device.DefaultBarrier(noBarrier),
	}
}

// SetTraceFunc attaches fn as the Frontend's trace callback, replacing any
// previous one. Passing nil disables tracing (the default).
func (f *Frontend) SetTraceFunc(fn TraceFunc) {
	f.trace = fn
}

// isCheckpointTrigger reports whether logical address l is the host's
// checkpoint block or its second copy (spec.md §4.7 step 1).
func (f *Frontend) isCheckpointTrigger(l uint32) bool {
	return l == f.geometry.CheckpointBlk || l == f.geometry.CheckpointBlk+f.geometry.BlocksPerSeg
}

// Submit implements the five-step procedure of spec.md §4.7 for one
// batched request.
func (f *Frontend) Submit(req *Request) error {
	l := uint32(geom.LogicalToSector(req.Sector))

	if f.trace != nil {
		f.trace("enter", req.Op, l)
		defer f.trace("exit", req.Op, l)
	}

	if f.isCheckpointTrigger(l) {
		if n, err := f.table.FlushDirty(f.sink); err != nil {
			return alfserr.Wrap("remap: checkpoint flush", err)
		} else if n > 0 {
			logger.WithFields(logger.Fields{"blocks": n}).Info("remap: checkpoint flush")
		}
	}

	if !f.geometry.InMetalogRange(l) {
		return f.passThrough(req, l)
	}

	switch req.Op {
	case OpWrite:
		return f.submitWrite(req, l)
	case OpRead:
		return f.submitRead(req, l)
	default:
		logger.Warnf("remap: unrecognized op %s at logical %d, passing through", req.Op, l)
		return f.passThrough(req, l)
	}
}

// passThrough forwards a request untouched for logical addresses outside
// the metadata-log range (spec.md §4.7 step 2): the logical address is
// already the physical one. Reads and writes are forwarded; any other Op
// returns nil without touching the device.
func (f *Frontend) passThrough(req *Request, l uint32) error {
	switch req.Op {
	case OpWrite:
		bufs := make([]*device.PageBuf, len(req.Pages))
		for i, p := range req.Pages {
			bufs[i] = device.NewPageBufFrom(p)
		}
		return alfserr.Wrap("remap: pass-through write", f.dev.WriteBatch(bufs, l, req.Sync, f.barrier))
	case OpRead:
		for i, p := range req.Pages {
			buf := device.NewPageBuf()
			if err := f.dev.ReadBlock(buf, l+uint32(i)); err != nil {
				return alfserr.Wrap("remap: pass-through read", err)
			}
			copy(p, buf.Data)
		}
		return nil
	default:
		return nil
	}
}

// submitWrite implements spec.md §4.7 step 3: under the mapping spinlock,
// allocate a fresh physical block and rewrite the L2P entry for every page
// in order, invalidating (but not yet discarding — discard is device I/O
// and must happen outside the lock) each page's prior physical location.
// Writes are then issued outside the lock, batched into contiguous runs
// where the circular allocator happened to hand back adjacent addresses.
func (f *Frontend) submitWrite(req *Request, l uint32) error {
	dests := make([]uint32, len(req.Pages))
	var toDiscard []uint32

	rel := l - f.geometry.MetalogBase
	f.table.Lock()
	blocks := f.table.Blocks()
	for i := range req.Pages {
		logical := rel + uint32(i)
		// Table.Lookup takes the mapping lock itself, so the prior location
		// is read straight from the mapping block while the lock is held.
		var oldP uint32
		var hadOld bool
		if idx := logical / mapping.EntriesPerBlock; int(idx) < len(blocks) {
			oldP, hadOld = blocks[idx].Get(logical % mapping.EntriesPerBlock)
		}

		newP, err := f.metalog.Allocate()
		if err != nil {
			f.table.Unlock()
			return alfserr.Wrap("remap: allocate metalog block", err)
		}
		if err := f.table.Assign(logical, newP); err != nil {
			f.table.Unlock()
			return alfserr.Wrap("remap: assign L2P entry", err)
		}
		if hadOld && f.metalog.Summary != nil {
			f.metalog.Summary.Set(oldP, summary.Invalid)
			toDiscard = append(toDiscard, oldP)
		}
		dests[i] = newP
	}
	f.table.Unlock()

	if err := f.writeRuns(req.Pages, dests, req.Sync); err != nil {
		return err
	}

	for _, p := range toDiscard {
		if _, err := f.dev.Discard(p, 1); err != nil {
			logger.Warnf("remap: discard superseded block %d failed: %v", p, err)
		}
	}
	return nil
}

// writeRuns submits pages to dest addresses, using WriteBatch for maximal
// contiguous runs (spec.md §4.7 step 3's "assemble a contiguous batch when
// physical addresses are adjacent") and WriteBlock otherwise.
func (f *Frontend) writeRuns(pages [][]byte, dests []uint32, sync bool) error {
	i := 0
	for i < len(pages) {
		j := i + 1
		for j < len(pages) && dests[j] == dests[j-1]+1 {
			j++
		}
		run := make([]*device.PageBuf, 0, j-i)
		for k := i; k < j; k++ {
			run = append(run, device.NewPageBufFrom(pages[k]))
		}
		var err error
		if len(run) == 1 {
			err = f.dev.WriteBlock(run[0], dests[i], sync, f.barrier)
		} else {
			err = f.dev.WriteBatch(run, dests[i], sync, f.barrier)
		}
		if err != nil {
			return alfserr.Wrap(fmt.Sprintf("remap: write run at %d", dests[i]), err)
		}
		i = j
	}
	return nil
}

// submitRead implements spec.md §4.7 step 4: a single scratch buffer
// resolves each target page through the L2P table in turn.
func (f *Frontend) submitRead(req *Request, l uint32) error {
	scratch := device.NewPageBuf()
	rel := l - f.geometry.MetalogBase
	for i, p := range req.Pages {
		logical := rel + uint32(i)
		phys, ok := f.table.Lookup(logical)
		if !ok {
			return alfserr.Wrap(fmt.Sprintf("remap: read logical %d", logical), alfserr.UnmappedRead)
		}
		if err := f.dev.ReadBlock(scratch, phys); err != nil {
			return alfserr.Wrap(fmt.Sprintf("remap: read physical %d", phys), err)
		}
		copy(p, scratch.Data)
	}
	return nil
}
