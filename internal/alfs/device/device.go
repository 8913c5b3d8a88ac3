// Package device implements the synchronous and asynchronous single-page
// and multi-page block I/O primitives ALFS issues against the underlying
// block device (spec.md §4.1), plus the discard primitive. Grounded on the
// teacher's storage/store/ibd/ibd_file.go (ReadAt/WriteAt/Sync against a
// plain file) and on the request/completion-callback shape of biscuit's
// fs/blk.go (Bdev_req_t, Disk_i.Start).
package device

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/flashmeta/alfs/internal/alfs/alfserr"
	"github.com/flashmeta/alfs/internal/alfs/geom"
	"github.com/flashmeta/alfs/logger"
)

// Barrier captures the write-barrier flags a metadata write carries:
// PREFLUSH + META + PRIO are always set; FUA is set unless the host runs
// with NoBarrier (spec.md §4.1, §6).
type Barrier struct {
	Preflush bool
	Meta     bool
	Prio     bool
	FUA      bool
}

// DefaultBarrier returns the barrier flags ALFS issues metadata writes
// with, honoring the NO_BARRIER option.
func DefaultBarrier(noBarrier bool) Barrier {
	return Barrier{Preflush: true, Meta: true, Prio: true, FUA: !noBarrier}
}

// PageBuf is a single 4KB buffer owned by the I/O completion callback: on
// completion release clears the uptodate flag and signals any synchronous
// waiter blocked in Wait. This replaces the source's raw
// page-pointer-plus-completion-function pair (spec.md §9) with a buffer
// that owns its own lifecycle.
type PageBuf struct {
	Data     []byte
	mu       sync.Mutex
	uptodate bool
	done     chan struct{}
}

// NewPageBuf allocates a zeroed page-sized buffer.
func NewPageBuf() *PageBuf {
	return &PageBuf{Data: make([]byte, geom.BlockSize), done: make(chan struct{})}
}

// NewPageBufFrom copies data into a fresh page buffer. len(data) must equal
// geom.BlockSize.
func NewPageBufFrom(data []byte) *PageBuf {
	p := NewPageBuf()
	copy(p.Data, data)
	return p
}

// release clears uptodate and, if anyone is waiting synchronously, wakes
// them. Idempotent.
func (p *PageBuf) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uptodate {
		p.uptodate = false
	}
	select {
	case <-p.done:
		// already released
	default:
		close(p.done)
	}
}

// Wait blocks until the buffer's owning request completes.
func (p *PageBuf) Wait() { <-p.done }

// Device is the block-I/O primitive surface ALFS issues requests against.
// FileDevice is the concrete implementation used outside tests; package
// alfstest provides an in-memory fake for unit tests.
type Device interface {
	// ReadBlock synchronously reads one block at pblk into page.Data.
	ReadBlock(page *PageBuf, pblk uint32) error
	// WriteBlock writes page.Data to pblk under barrier. If sync, the call
	// blocks until the write (and FUA flush, if set) completes; otherwise
	// it returns immediately and the completion callback releases page.
	WriteBlock(page *PageBuf, pblk uint32, sync bool, barrier Barrier) error
	// WriteBatch writes a contiguous run of pages sequentially starting at
	// pblk.
	WriteBatch(pages []*PageBuf, pblk uint32, sync bool, barrier Barrier) error
	// Discard issues a TRIM over nblocks blocks starting at pblk if the
	// discard option is enabled; otherwise it is a no-op reporting
	// issued=false, err=nil (spec.md §9 open question: "not issued" is
	// treated identically to success).
	Discard(pblk, nblocks uint32) (issued bool, err error)
}

// FileDevice backs Device with a regular file, exactly as the teacher's
// IBD_File backs InnoDB tablespace pages: ReadAt/WriteAt/Sync against an
// *os.File, guarded by a read-write semaphore per spec.md §5 ("a read holds
// the read side, a write holds the write side").
type FileDevice struct {
	rw             sync.RWMutex
	file           *os.File
	discardEnabled bool
}

// OpenFileDevice opens (or creates) path as the backing store for a block
// device of at least size bytes.
func OpenFileDevice(path string, size int64, discardEnabled bool) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "device: open backing file")
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "device: truncate backing file")
	}
	return &FileDevice{file: f, discardEnabled: discardEnabled}, nil
}

// Close releases the backing file.
func (d *FileDevice) Close() error {
	d.rw.Lock()
	defer d.rw.Unlock()
	return d.file.Close()
}

func offsetOf(pblk uint32) int64 { return int64(pblk) * int64(geom.BlockSize) }

func (d *FileDevice) ReadBlock(page *PageBuf, pblk uint32) error {
	d.rw.RLock()
	defer d.rw.RUnlock()

	n, err := d.file.ReadAt(page.Data, offsetOf(pblk))
	if err != nil {
		return alfserr.Wrap(fmt.Sprintf("device: read block %d", pblk), fmt.Errorf("%w: %v", alfserr.IoError, err))
	}
	if n != len(page.Data) {
		return alfserr.Wrap(fmt.Sprintf("device: read block %d", pblk), fmt.Errorf("%w: short read (%d bytes)", alfserr.IoError, n))
	}
	page.mu.Lock()
	page.uptodate = true
	page.mu.Unlock()
	return nil
}

func (d *FileDevice) writeAt(data []byte, pblk uint32, barrier Barrier) error {
	d.rw.Lock()
	defer d.rw.Unlock()

	n, err := d.file.WriteAt(data, offsetOf(pblk))
	if err != nil {
		return fmt.Errorf("%w: %v", alfserr.IoError, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: short write (%d bytes)", alfserr.IoError, n)
	}
	if barrier.FUA || barrier.Preflush {
		if err := d.file.Sync(); err != nil {
			return fmt.Errorf("%w: fsync: %v", alfserr.IoError, err)
		}
	}
	return nil
}

func (d *FileDevice) WriteBlock(page *PageBuf, pblk uint32, sync bool, barrier Barrier) error {
	op := fmt.Sprintf("device: write block %d", pblk)
	if sync {
		err := d.writeAt(page.Data, pblk, barrier)
		page.release()
		return alfserr.Wrap(op, err)
	}
	go func() {
		if err := d.writeAt(page.Data, pblk, barrier); err != nil {
			logger.WithFields(logger.Fields{"pblk": pblk}).Errorf("async write failed: %v", err)
		}
		page.release()
	}()
	return nil
}

// WriteBatch writes pages sequentially starting at pblk, the contiguous
// form used by the remap front end when the allocator hands back a run of
// adjacent physical addresses (spec.md §4.7 step 3).
func (d *FileDevice) WriteBatch(pages []*PageBuf, pblk uint32, sync bool, barrier Barrier) error {
	op := fmt.Sprintf("device: write batch at %d (%d pages)", pblk, len(pages))
	do := func() error {
		for i, p := range pages {
			if err := d.writeAt(p.Data, pblk+uint32(i), barrier); err != nil {
				return err
			}
		}
		return nil
	}
	if sync {
		err := do()
		for _, p := range pages {
			p.release()
		}
		return alfserr.Wrap(op, err)
	}
	go func() {
		if err := do(); err != nil {
			logger.WithFields(logger.Fields{"pblk": pblk}).Errorf("async batch write failed: %v", err)
		}
		for _, p := range pages {
			p.release()
		}
	}()
	return nil
}

func (d *FileDevice) Discard(pblk, nblocks uint32) (bool, error) {
	if !d.discardEnabled {
		return false, nil
	}
	d.rw.Lock()
	defer d.rw.Unlock()

	offset := offsetOf(pblk)
	length := int64(nblocks) * geom.BlockSize
	if err := discardRange(d.file, offset, length); err != nil {
		return false, fmt.Errorf("%w: discard: %v", alfserr.IoError, err)
	}
	return true, nil
}
