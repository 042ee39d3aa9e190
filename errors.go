package mmarr

import "errors"

// Error classification values.
//
// Operations wrap these sentinels with context (offending index, value,
// path). Callers classify with errors.Is.
var (
	// ErrCorrupt indicates the store file is corrupted: unreadable header
	// fields, capacity below the published count, or a reserved zero
	// timestamp observed on read.
	ErrCorrupt = errors.New("mmarr: corrupt")

	// ErrOutOfRange indicates a checked indexed access outside [0, count).
	ErrOutOfRange = errors.New("mmarr: index out of range")

	// ErrTruncated indicates an indexed access at or above the current count
	// on a reader handle, where the writer may have truncated concurrently.
	// The choice depends only on the handle's mode: writer handles report
	// [ErrOutOfRange] instead, and callers cannot select it per access.
	ErrTruncated = errors.New("mmarr: truncated")

	// ErrReadOnly indicates a mutation attempted on a reader handle.
	ErrReadOnly = errors.New("mmarr: read-only")

	// ErrResetDisallowed indicates a grow or shrink was attempted after
	// [Array.DisallowRemap] latched the mapping in place.
	ErrResetDisallowed = errors.New("mmarr: remap disallowed")

	// ErrDataTypeOverflow indicates an integer write outside the current
	// encoding's domain for which no wider encoding exists, or a
	// second-precision timestamp outside the int32 range.
	ErrDataTypeOverflow = errors.New("mmarr: data type overflow")

	// ErrOutOfOrder indicates a time-series write that would violate the
	// configured ordering mode.
	ErrOutOfOrder = errors.New("mmarr: out of order")

	// ErrLockTimeout indicates the writer lock was not acquired before the
	// deadline.
	ErrLockTimeout = errors.New("mmarr: lock timeout")

	// ErrLockContention indicates the writer lock is held by a live owner.
	ErrLockContention = errors.New("mmarr: lock contention")

	// ErrLength32 indicates a span request longer than 2^31-1 elements.
	ErrLength32 = errors.New("mmarr: span length exceeds 32-bit limit")

	// ErrDisposed indicates the handle has been closed.
	ErrDisposed = errors.New("mmarr: disposed")
)
