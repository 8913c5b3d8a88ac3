// Package alloc implements the circular-log allocator shared by the two
// physical regions ALFS manages (spec.md §4.4): head/tail pointers
// advancing modulo the region length, with the metadata-log region also
// tracking per-block validity through a summary.Table. Grounded on the
// teacher's circular free/used accounting in storage/store/extents and
// buffer_pool/buffer_lru.go's free-list bookkeeping.
package alloc

import (
	"sync"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/summary"
)

// Region is a circular log over one physical region: start (tail, GC
// reclaims here) and end (head, writes append here), both block offsets
// relative to Base, advancing modulo Length.
//
// Summary is nil for the mapping region (spec.md §4.5.2: no per-block
// validity tracking there, only version supersession) and non-nil for the
// metadata-log region.
type Region struct {
	mu sync.Mutex

	Base         uint32
	Length       uint32
	BlocksPerSec uint32
	Summary      *summary.Table

	start, end    uint32
	everAllocated bool
}

// NewRegion constructs a circular-log allocator for a region of length
// blocks starting at base, with start and end both at 0 (the "empty"
// state). Mount-time recovery repositions start/end via SetPointers once it
// has located a dead section.
func NewRegion(base, length, blocksPerSec uint32, summaryTable *summary.Table) *Region {
	return &Region{Base: base, Length: length, BlocksPerSec: blocksPerSec, Summary: summaryTable}
}

// SetPointers repositions start/end, used once by mount-time recovery.
func (r *Region) SetPointers(start, end uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.end = start, end
}

// Start returns the current tail pointer (block offset relative to Base).
func (r *Region) Start() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

// End returns the current head pointer (block offset relative to Base).
func (r *Region) End() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.end
}

// FreeBlocks implements spec.md §4.4's three-way comparison: start < end
// wraps one way, start > end the other, and start == end is the degenerate
// exhausted state (callers must have run GC before reaching it).
func (r *Region) FreeBlocks() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freeBlocksLocked()
}

func (r *Region) freeBlocksLocked() uint32 {
	switch {
	case r.start < r.end:
		return r.Length - r.end + r.start
	case r.start > r.end:
		return r.start - r.end
	default:
		return 0
	}
}

// NeedsGC reports whether free space has fallen to the GC threshold of one
// section (spec.md §4.4).
func (r *Region) NeedsGC() bool {
	return r.FreeBlocks() <= r.BlocksPerSec
}

// Allocate returns the next physical block address and advances the head
// pointer. It requires (for the metadata-log region) that the target cell
// be FREE, and marks it VALID before returning, folding spec.md §4.4's
// "post-assignment, caller advances... sets summary[...]=VALID" into one
// atomic step under the allocator's own lock.
//
// Returns alfserr.Exhausted if start == end (the full-wrap collision
// spec.md §4.4 calls fatal) and alfserr.InvalidAddress if the target cell
// is not FREE, which should never happen given the region invariants and
// indicates a GC/accounting bug upstream.
func (r *Region) Allocate() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.start == r.end && r.allocatedOnceLocked() {
		return 0, alfserr.Exhausted
	}

	off := r.end
	pblk := r.Base + off
	if r.Summary != nil {
		if r.Summary.Get(pblk) != summary.Free {
			return 0, alfserr.InvalidAddress
		}
	}
	r.end = (r.end + 1) % r.Length
	if r.Summary != nil {
		r.Summary.Set(pblk, summary.Valid)
	}
	r.everAllocated = true
	return pblk, nil
}

// allocatedOnceLocked distinguishes the initial empty state (start == end
// == 0, the whole region free) from the degenerate full-wrap collision
// (start == end after allocations have happened) that spec.md §4.4 treats
// as fatal. Caller must hold r.mu.
func (r *Region) allocatedOnceLocked() bool { return r.everAllocated }

// AdvanceStart moves the tail pointer forward by n blocks modulo Length,
// used by GC after reclaiming a section.
func (r *Region) AdvanceStart(n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = (r.start + n) % r.Length
}
