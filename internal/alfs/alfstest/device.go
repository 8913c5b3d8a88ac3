// Package alfstest provides an in-memory fake of device.Device for unit
// tests, avoiding real file I/O. Grounded on the teacher's storage/store/ibd
// test doubles that back a tablespace with a plain byte slice instead of an
// *os.File.
package alfstest

import (
	"fmt"
	"sync"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/device"
	"github.com/flashmeta/alfs/internal/alfs/geom"
)

// MemDevice is a fixed-size, in-memory device.Device. Reads/writes/discards
// are all synchronous and take an internal lock; Discards records every
// discarded range for assertions.
type MemDevice struct {
	mu       sync.Mutex
	blocks   [][]byte
	Discards []DiscardCall
}

// DiscardCall records one Discard invocation, for tests to assert against.
type DiscardCall struct {
	Pblk, NBlocks uint32
}

// NewMemDevice allocates a zeroed device of nblocks blocks.
func NewMemDevice(nblocks uint32) *MemDevice {
	d := &MemDevice{blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, geom.BlockSize)
	}
	return d
}

func (d *MemDevice) ReadBlock(page *device.PageBuf, pblk uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(pblk) >= len(d.blocks) {
		return alfserr.Wrap(fmt.Sprintf("alfstest: read block %d", pblk), alfserr.IoError)
	}
	copy(page.Data, d.blocks[pblk])
	return nil
}

func (d *MemDevice) WriteBlock(page *device.PageBuf, pblk uint32, sync bool, barrier device.Barrier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(pblk) >= len(d.blocks) {
		return alfserr.Wrap(fmt.Sprintf("alfstest: write block %d", pblk), alfserr.IoError)
	}
	copy(d.blocks[pblk], page.Data)
	return nil
}

func (d *MemDevice) WriteBatch(pages []*device.PageBuf, pblk uint32, sync bool, barrier device.Barrier) error {
	for i, p := range pages {
		if err := d.WriteBlock(p, pblk+uint32(i), sync, barrier); err != nil {
			return err
		}
	}
	return nil
}

func (d *MemDevice) Discard(pblk, nblocks uint32) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := uint32(0); i < nblocks; i++ {
		if int(pblk+i) < len(d.blocks) {
			d.blocks[pblk+i] = make([]byte, geom.BlockSize)
		}
	}
	d.Discards = append(d.Discards, DiscardCall{Pblk: pblk, NBlocks: nblocks})
	return true, nil
}

// Raw returns a copy of the raw bytes currently stored at pblk, for test
// assertions that bypass the Device interface's page-buffer convention.
func (d *MemDevice) Raw(pblk uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, geom.BlockSize)
	copy(out, d.blocks[pblk])
	return out
}

var _ device.Device = (*MemDevice)(nil)
