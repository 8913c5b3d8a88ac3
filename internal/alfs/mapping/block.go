// Package mapping implements the L2P mapping table (spec.md §4.3): an
// in-memory array of 4KB mapping blocks, each describing a contiguous
// window of 1020 logical entries, persisted through a versioned append-only
// log. Grounded on the teacher's storage/wrapper/page fixed-size page
// records (magic + header fields + payload) and the bitmap/version fields of
// storage/store/extents/extent.go's Serialize/Deserialize pair.
package mapping

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"

	"github.com/flashmeta/alfs/internal/alfs/geom"
)

// Magic identifies a valid on-disk mapping block (spec.md §6).
const Magic uint32 = 0xEF

// EntriesPerBlock is the number of L2P entries a mapping block persists.
const EntriesPerBlock = 1020

// Unmapped is the sentinel entry value meaning "no physical block assigned".
const Unmapped uint32 = 0xFFFFFFFF

// recordSize is magic + index + ver + dirty + 1020 entries, all 4-byte LE
// fields; it equals geom.BlockSize exactly.
const recordSize = 4*4 + EntriesPerBlock*4

func init() {
	if recordSize != geom.BlockSize {
		panic(fmt.Sprintf("mapping: record size %d does not match block size %d", recordSize, geom.BlockSize))
	}
}

// Block is one mapping record: the in-memory representation doubles as the
// on-disk layout described in spec.md §6, with Dirty held only in memory
// (ignored when decoding, and always encoded as 0).
type Block struct {
	Index   uint32
	Ver     uint32
	Dirty   bool
	Entries [EntriesPerBlock]uint32
}

// NewBlock returns a mapping block for window index, with every entry
// Unmapped.
func NewBlock(index uint32) *Block {
	b := &Block{Index: index}
	for i := range b.Entries {
		b.Entries[i] = Unmapped
	}
	return b
}

// Encode serializes b into a freshly allocated geom.BlockSize-byte page, per
// the on-disk layout in spec.md §6: magic, index, ver, dirty (always 0 on
// disk), then the 1020 LE entries.
func (b *Block) Encode() []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], b.Index)
	binary.LittleEndian.PutUint32(buf[8:12], b.Ver)
	binary.LittleEndian.PutUint32(buf[12:16], 0)
	for i, e := range b.Entries {
		off := 16 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], e)
	}
	return buf
}

// Decode parses a geom.BlockSize-byte page into a Block. It returns
// ok=false (no error) when the page's magic does not match — that is the
// normal, expected shape of an unwritten mapping-region block, not a fault.
func Decode(page []byte) (blk *Block, ok bool, err error) {
	if len(page) != recordSize {
		return nil, false, fmt.Errorf("mapping: page is %d bytes, want %d", len(page), recordSize)
	}
	magic := binary.LittleEndian.Uint32(page[0:4])
	if magic != Magic {
		return nil, false, nil
	}
	b := &Block{
		Index: binary.LittleEndian.Uint32(page[4:8]),
		Ver:   binary.LittleEndian.Uint32(page[8:12]),
	}
	for i := range b.Entries {
		off := 16 + i*4
		b.Entries[i] = binary.LittleEndian.Uint32(page[off : off+4])
	}
	return b, true, nil
}

// Get returns the physical address of local entry offset (0..EntriesPerBlock-1).
func (b *Block) Get(offset uint32) (uint32, bool) {
	v := b.Entries[offset]
	if v == Unmapped {
		return 0, false
	}
	return v, true
}

// Set assigns local entry offset to p (or clears it, if p is the Unmapped
// sentinel) and marks the block dirty.
func (b *Block) Set(offset uint32, p uint32) {
	b.Entries[offset] = p
	b.Dirty = true
}

// Fingerprint hashes the block's encoded form, for the debug-level
// integrity trace FlushDirty emits alongside a flushed block's index and
// version.
func (b *Block) Fingerprint() uint64 {
	return xxhash.Checksum64(b.Encode())
}
