// Package alfserr defines the error taxonomy of spec.md §7, following the
// teacher's buffer_pool/errors.go pattern: package-level sentinels plus a
// thin wrapper that carries operation context and unwraps to the sentinel.
package alfserr

import "errors"

var (
	// IoError wraps an underlying device read/write/discard failure.
	IoError = errors.New("alfs: device i/o error")
	// NoFreeMapSpace means mount could not locate a dead section in the
	// mapping region; fatal for Mount.
	NoFreeMapSpace = errors.New("alfs: no free section in mapping region")
	// NoFreeMetaSpace means mount could not locate a dead section in the
	// metadata-log region; fatal for Mount.
	NoFreeMetaSpace = errors.New("alfs: no free section in metadata-log region")
	// UnmappedRead means a read targeted a logical metadata address with no
	// L2P entry.
	UnmappedRead = errors.New("alfs: read of unmapped logical block")
	// CorruptMapping means a GC pass could not find the reverse L2P entry
	// for a physical block it scanned; logged as an integrity error.
	CorruptMapping = errors.New("alfs: mapping integrity error")
	// Exhausted means the metadata-log allocator found start == end; GC
	// failed to keep pace with writes.
	Exhausted = errors.New("alfs: metadata-log region exhausted")
	// InvalidAddress means a physical address computed from the map falls
	// outside the metadata-log region.
	InvalidAddress = errors.New("alfs: physical address outside metadata-log region")
)

// Error attaches the failing operation's name to a sentinel so log lines and
// returned errors read as e.g. "remap: write run at 1000: alfs: device i/o
// error".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches op to err. Wrap(op, nil) returns nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

func Is(err, target error) bool { return errors.Is(err, target) }

func IsIoError(err error) bool         { return errors.Is(err, IoError) }
func IsUnmappedRead(err error) bool    { return errors.Is(err, UnmappedRead) }
func IsExhausted(err error) bool       { return errors.Is(err, Exhausted) }
func IsCorruptMapping(err error) bool  { return errors.Is(err, CorruptMapping) }
func IsInvalidAddress(err error) bool  { return errors.Is(err, InvalidAddress) }
func IsNoFreeMapSpace(err error) bool  { return errors.Is(err, NoFreeMapSpace) }
func IsNoFreeMetaSpace(err error) bool { return errors.Is(err, NoFreeMetaSpace) }
