package mapping

import (
	"fmt"
	"sync"

	"github.com/juju/errors"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/logger"
)

// Sink is where FlushDirty appends a serialized mapping block. The mapping
// region's circular-log allocator implements it; kept as an interface here
// so package mapping never imports package alloc.
type Sink interface {
	Append(page []byte) (pblk uint32, err error)
}

// Table is the in-memory L2P map: a vector of mapping blocks, one per
// window of EntriesPerBlock logical addresses (spec.md §3, §4.3). L
// addresses are relative to the host's metadata logical range (offset 0 is
// geom.Geometry.MetalogBase); callers translate before calling in.
//
// mu is "the mapping spinlock" of spec.md §5: the write path holds it for
// the entire allocate/assign/invalidate step of a page, never across device
// I/O. Lookup takes it for the brief array read, so reads still observe a
// consistent snapshot without needing their own lock.
type Table struct {
	mu sync.Mutex

	blocks []*Block

	// reverse is the optional P -> L index the §9 design note permits, used
	// by GC instead of the O(N) linear scan baseline.
	useReverse bool
	reverse    map[uint32]uint32
}

// New allocates ceil(nrLogiBlks / EntriesPerBlock) zeroed mapping blocks
// (spec.md §4.6 step 1).
func New(nrLogiBlks uint32, useReverse bool) *Table {
	n := (nrLogiBlks + EntriesPerBlock - 1) / EntriesPerBlock
	t := &Table{blocks: make([]*Block, n)}
	for i := range t.blocks {
		t.blocks[i] = NewBlock(uint32(i) * EntriesPerBlock)
	}
	if useReverse {
		t.useReverse = true
		t.reverse = make(map[uint32]uint32)
	}
	return t
}

// Lock acquires the mapping spinlock for the duration of a write's
// allocate/assign/invalidate step. Must not be held across device I/O.
func (t *Table) Lock() { t.mu.Lock() }

// Unlock releases the mapping spinlock.
func (t *Table) Unlock() { t.mu.Unlock() }

func (t *Table) blockFor(l uint32) (*Block, uint32) {
	idx := l / EntriesPerBlock
	if int(idx) >= len(t.blocks) {
		return nil, 0
	}
	return t.blocks[idx], l % EntriesPerBlock
}

// Lookup returns the physical address L maps to, or ok=false if L is
// UNMAPPED (spec.md §4.3).
func (t *Table) Lookup(l uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	blk, off := t.blockFor(l)
	if blk == nil {
		return 0, false
	}
	return blk.Get(off)
}

// Assign sets L's entry to P and marks the owning block dirty. It does not
// advance the block's version; FlushDirty does that. Caller must hold the
// mapping spinlock (Lock/Unlock).
func (t *Table) Assign(l, p uint32) error {
	blk, off := t.blockFor(l)
	if blk == nil {
		return fmt.Errorf("mapping: logical block %d out of range", l)
	}
	if t.useReverse {
		if old, ok := blk.Get(off); ok {
			delete(t.reverse, old)
		}
		t.reverse[p] = l
	}
	blk.Set(off, p)
	return nil
}

// Unassign clears L's entry, for a caller that needs to mark a logical
// address UNMAPPED without an accompanying replacement write (GC itself
// never needs this: relocation always calls Assign with a fresh physical
// block, which already clears the stale reverse-index entry on its own).
// Caller must hold the mapping spinlock.
func (t *Table) Unassign(l uint32) {
	blk, off := t.blockFor(l)
	if blk == nil {
		return
	}
	if t.useReverse {
		if old, ok := blk.Get(off); ok {
			delete(t.reverse, old)
		}
	}
	blk.Set(off, Unmapped)
}

// ReverseLookup returns the logical address currently mapped to p, using the
// optional reverse index. ok is false if the index is disabled or p is not
// currently mapped.
func (t *Table) ReverseLookup(p uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.useReverse {
		return 0, false
	}
	l, ok := t.reverse[p]
	return l, ok
}

// ScanForPhysical performs the O(N) linear reverse-map scan spec.md §4.5.1
// describes as the baseline GC behavior: iterate every logical entry to
// find the unique L with Lookup(L) == p. Used when the reverse index is
// disabled, and exercised directly in tests to cover the spec's literal
// algorithm alongside the reverse-index fast path.
func (t *Table) ScanForPhysical(p uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, blk := range t.blocks {
		for off, e := range blk.Entries {
			if e == p {
				return blk.Index + uint32(off), true
			}
		}
	}
	return 0, false
}

// FindPhysical resolves p to its logical owner, preferring the reverse
// index when enabled and falling back to the linear scan otherwise. It takes
// the mapping spinlock itself, so the caller must not hold it (GC calls it
// under its own GC mutex only).
func (t *Table) FindPhysical(p uint32) (uint32, bool) {
	if t.useReverse {
		t.mu.Lock()
		l, ok := t.reverse[p]
		t.mu.Unlock()
		if ok {
			return l, true
		}
		return 0, false
	}
	return t.ScanForPhysical(p)
}

// RestoreFromRecovery installs blk as window blk.Index's in-memory block if
// blk.Ver is newer than (or equal to, for idempotent re-reads) the block
// currently held there (spec.md §4.6 step 2's ">=" tie-break). Used only by
// package recovery while scanning the mapping region.
func (t *Table) RestoreFromRecovery(blk *Block) {
	idx := blk.Index / EntriesPerBlock
	if int(idx) >= len(t.blocks) {
		return
	}
	cur := t.blocks[idx]
	if blk.Ver >= cur.Ver {
		t.blocks[idx] = blk
	}
}

// RebuildReverseIndex repopulates the optional P -> L index from the
// current mapping blocks; called once after recovery installs the final
// in-memory state.
func (t *Table) RebuildReverseIndex() {
	if !t.useReverse {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reverse = make(map[uint32]uint32)
	for _, blk := range t.blocks {
		for off, e := range blk.Entries {
			if e != Unmapped {
				t.reverse[e] = blk.Index + uint32(off)
			}
		}
	}
}

// Blocks returns the live mapping blocks, for recovery/GC/tests that need
// direct iteration. The returned slice aliases internal state and must not
// be mutated without holding the mapping spinlock.
func (t *Table) Blocks() []*Block { return t.blocks }

// FlushDirty appends every dirty mapping block to sink, bumping its version
// before encoding it and clearing the dirty flag only after a successful
// append (spec.md §4.3); a failed append leaves the block dirty with its
// version already bumped. Returns the number of blocks flushed.
func (t *Table) FlushDirty(sink Sink) (int, error) {
	t.mu.Lock()
	dirty := make([]*Block, 0)
	for _, blk := range t.blocks {
		if blk.Dirty {
			dirty = append(dirty, blk)
		}
	}
	t.mu.Unlock()

	flushed := 0
	for _, blk := range dirty {
		t.mu.Lock()
		blk.Ver++
		page := blk.Encode()
		t.mu.Unlock()

		if _, err := sink.Append(page); err != nil {
			return flushed, alfserr.Wrap("mapping: flush dirty block", errors.Annotatef(err, "index=%d ver=%d", blk.Index, blk.Ver))
		}

		t.mu.Lock()
		blk.Dirty = false
		t.mu.Unlock()
		flushed++
		logger.WithFields(logger.Fields{
			"index": blk.Index, "ver": blk.Ver, "fingerprint": blk.Fingerprint(),
		}).Debug("mapping: block flushed")
	}
	if flushed > 0 {
		logger.WithFields(logger.Fields{"blocks": flushed}).Debug("mapping: flushed dirty blocks")
	}
	return flushed, nil
}
