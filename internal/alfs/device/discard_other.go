//go:build !linux

package device

import "os"

// discardRange is a no-op on platforms without hole-punching support; the
// discard is still considered issued since the caller only needs TRIM as a
// wear hint, never a correctness requirement.
func discardRange(f *os.File, offset, length int64) error {
	return nil
}
