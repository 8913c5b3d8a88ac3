//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// discardRange punches a hole over [offset, offset+length) in f, the
// closest a regular file gets to a block device's TRIM/BLKDISCARD. Errors
// from filesystems that don't support hole punching are surfaced to the
// caller, which logs and continues (spec.md §7: discard failures are
// best-effort).
func discardRange(f *os.File, offset, length int64) error {
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
}
