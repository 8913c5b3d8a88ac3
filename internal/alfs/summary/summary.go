// Package summary implements the per-physical-block state table over the
// metadata-log region (spec.md §4.2): a byte array indexed by pblk-base,
// with cells in {FREE, VALID, INVALID}. Grounded on the teacher's
// storage/store/extents bitmap-style state tracking, generalized from a
// 2-bit-per-page bitmap to a byte-per-block table since ALFS tracks three
// states rather than two.
package summary

import "fmt"

// State is a physical block's membership in the current L2P mapping.
type State byte

const (
	// Free blocks have never been written, or were reclaimed by GC.
	Free State = iota
	// Valid blocks are referenced by exactly one L2P entry.
	Valid
	// Invalid blocks held data that has since been superseded by an
	// overwrite, and await reclamation.
	Invalid
)

func (s State) String() string {
	switch s {
	case Free:
		return "FREE"
	case Valid:
		return "VALID"
	case Invalid:
		return "INVALID"
	default:
		return fmt.Sprintf("State(%d)", byte(s))
	}
}

// Table is the summary table for one physical region. It has no internal
// locking: callers hold whatever write serialization applies (the mapping
// spinlock for the write path, the GC mutex during compaction) per
// spec.md §4.2 and §5.
type Table struct {
	base  uint32
	cells []State
}

// New allocates a summary table of length blocks, all cells FREE, for a
// region starting at base.
func New(base, length uint32) *Table {
	return &Table{base: base, cells: make([]State, length)}
}

func (t *Table) index(pblk uint32) int {
	if pblk < t.base || int(pblk-t.base) >= len(t.cells) {
		panic(fmt.Sprintf("summary: pblk %d out of range [%d, %d)", pblk, t.base, t.base+uint32(len(t.cells))))
	}
	return int(pblk - t.base)
}

// Get returns the state of the cell for pblk.
func (t *Table) Get(pblk uint32) State {
	return t.cells[t.index(pblk)]
}

// Set assigns the state of the cell for pblk.
func (t *Table) Set(pblk uint32, s State) {
	t.cells[t.index(pblk)] = s
}

// Len returns the number of cells (the region's length in blocks).
func (t *Table) Len() uint32 { return uint32(len(t.cells)) }

// Base returns the region's base physical block address.
func (t *Table) Base() uint32 { return t.base }

// FillAll sets every cell in the table to s. Recovery uses this to
// initialize the table to INVALID (spec.md §4.6 step 4) before marking the
// cells backing live L2P entries VALID.
func (t *Table) FillAll(s State) {
	for i := range t.cells {
		t.cells[i] = s
	}
}

// ClearSection sets every cell in the section starting at block offset
// secStart (relative to base) to FREE, for blocksPerSec blocks.
func (t *Table) ClearSection(secStart, blocksPerSec uint32) {
	for b := secStart; b < secStart+blocksPerSec; b++ {
		t.Set(t.base+b, Free)
	}
}

// SectionAllInvalid reports whether every cell in the section starting at
// block offset secStart is INVALID, used by mount-time recovery (spec.md
// §4.6 step 5) to locate a dead section.
func (t *Table) SectionAllInvalid(secStart, blocksPerSec uint32) bool {
	for b := secStart; b < secStart+blocksPerSec; b++ {
		if t.Get(t.base+b) != Invalid {
			return false
		}
	}
	return true
}

// CountValid returns the number of VALID cells in the table, used by tests
// and diagnostics to cross-check against the L2P map's cardinality
// (spec.md §8 property 2).
func (t *Table) CountValid() int {
	n := 0
	for _, c := range t.cells {
		if c == Valid {
			n++
		}
	}
	return n
}
