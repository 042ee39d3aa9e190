package mmarr

import (
	"fmt"
	"path/filepath"
	"unsafe"
)

// Element is the set of fixed-width value types the typed engine can map
// directly: every element is bitwise-identical to its raw storage.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// dataTypeOf maps an element type to its on-disk discriminant.
func dataTypeOf[T Element]() DataType {
	var zero T

	switch any(zero).(type) {
	case int8:
		return SByte
	case uint8:
		return Byte
	case int16:
		return Int16
	case uint16:
		return UInt16
	case int32:
		return Int32
	case uint32:
		return UInt32
	case int64:
		return Int64
	case uint64:
		return UInt64
	case float32:
		return Single
	default:
		return Double
	}
}

// Array is a persistent memory-mapped array of T.
//
// A writer handle (opened [ReadWrite]) is the single mutator for the file
// and must be serialised by the caller. Reader handles are cheap and may
// coexist with one writer in other processes, but a single handle is not
// safe for concurrent use across goroutines.
//
// An Array must be obtained via [OpenArray]; the zero value is not usable.
type Array[T Element] struct {
	_  [0]func() // prevent external construction
	st *store
}

// OpenArray opens or creates the array file at path.
//
// A new file is created only in [ReadWrite] mode; its header records the
// discriminant derived from T. Opening an existing file whose header records
// a different element encoding fails with [ErrCorrupt].
//
// Possible errors:
//   - [ErrCorrupt]: header mismatch or capacity below count
//   - [ErrLockTimeout]: another writer holds the file
//   - I/O errors from open, truncate or mmap
func OpenArray[T Element](path string, opts Options) (*Array[T], error) {
	st, err := openStore(path, dataTypeOf[T](), 0, opts)
	if err != nil {
		return nil, err
	}

	return &Array[T]{st: st}, nil
}

// slice views the element region of the mapping as []T. Recomputed on every
// use because a grow or shrink moves the mapping.
func (a *Array[T]) slice() []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&a.st.data[a.st.headerLen])), a.st.capacity)
}

// Count returns the number of elements. Lock-free; 0 after Close.
func (a *Array[T]) Count() int64 { return a.st.count() }

// Capacity returns the number of element slots the current mapping holds.
func (a *Array[T]) Capacity() int64 { return a.st.capacity }

// Path returns the backing file path.
func (a *Array[T]) Path() string { return a.st.path }

// Type returns the on-disk element encoding.
func (a *Array[T]) Type() DataType { return a.st.dt }

// Get returns element i.
//
// An index at or above the count fails with [ErrTruncated] on a reader
// handle (the writer may have truncated concurrently) and [ErrOutOfRange]
// on a writer handle; negative indexes are always [ErrOutOfRange].
func (a *Array[T]) Get(i int64) (T, error) {
	var zero T

	if err := a.st.readable(); err != nil {
		return zero, err
	}

	current := a.st.visible()
	if i < 0 {
		return zero, fmt.Errorf("index %d: %w", i, ErrOutOfRange)
	}

	if i >= current {
		if a.st.mode == ReadOnly {
			return zero, fmt.Errorf("index %d of %d: %w", i, current, ErrTruncated)
		}

		return zero, fmt.Errorf("index %d of %d: %w", i, current, ErrOutOfRange)
	}

	return a.slice()[i], nil
}

// GetUnchecked returns element i without bounds checks. The caller asserts
// i is in [0, Count()) on a live handle; violating that reads garbage or
// faults.
func (a *Array[T]) GetUnchecked(i int64) T {
	return a.slice()[i]
}

// Append writes v at the current count and publishes the new count. Grows
// capacity when needed.
//
// Possible errors: [ErrReadOnly], [ErrResetDisallowed], [ErrDisposed], I/O.
func (a *Array[T]) Append(v T) error {
	st := a.st

	if err := st.writable(); err != nil {
		return err
	}

	n := st.count()

	if err := st.ensureCapacity(n + 1); err != nil {
		return err
	}

	a.slice()[n] = v
	st.setCount(n + 1)

	return nil
}

// AppendRange appends all values, reserving capacity up front. The count is
// published once, after every element byte is in place.
//
// Possible errors: [ErrReadOnly], [ErrResetDisallowed], [ErrDisposed], I/O.
func (a *Array[T]) AppendRange(values []T) error {
	st := a.st

	if err := st.writable(); err != nil {
		return err
	}

	if len(values) == 0 {
		return nil
	}

	n := st.count()

	if err := st.ensureCapacity(n + int64(len(values))); err != nil {
		return err
	}

	copy(a.slice()[n:], values)
	st.setCount(n + int64(len(values)))

	return nil
}

// SetLast overwrites the most recent element.
//
// Possible errors: [ErrOutOfRange] (empty array), [ErrReadOnly], [ErrDisposed].
func (a *Array[T]) SetLast(v T) error {
	st := a.st

	if err := st.writable(); err != nil {
		return err
	}

	n := st.count()
	if n == 0 {
		return fmt.Errorf("set last of empty array: %w", ErrOutOfRange)
	}

	a.slice()[n-1] = v

	return nil
}

// TruncateTail keeps the first n elements and releases capacity beyond them
// on a best-effort basis.
func (a *Array[T]) TruncateTail(n int64) error {
	return a.st.truncateTail(n)
}

// TruncateHead keeps the last n elements, sliding them to the front.
// Capacity is unchanged. progress may be nil.
func (a *Array[T]) TruncateHead(n int64, progress Progress) error {
	return a.st.truncateHead(n, progress, filepath.Base(a.st.path))
}

// TrimExcess shrinks capacity to the count when utilisation is below 90%.
func (a *Array[T]) TrimExcess() error {
	return a.st.trimExcess()
}

// DisallowRemap latches the mapping in place; see [ErrResetDisallowed].
func (a *Array[T]) DisallowRemap() {
	a.st.disallowRemap()
}

// Span borrows the contiguous region [start, start+length) of the mapping.
//
// The returned slice is zero-copy: it aliases mapped memory and is
// invalidated by any operation that remaps (grow, shrink, close). Callers
// that hold spans across appends must call [Array.DisallowRemap] first.
//
// Possible errors: [ErrOutOfRange], [ErrLength32], [ErrDisposed].
func (a *Array[T]) Span(start, length int64) ([]T, error) {
	if err := a.st.checkSpan(start, length); err != nil {
		return nil, err
	}

	return a.slice()[start : start+length : start+length], nil
}

// Close releases the mapping, the file and (for writers) the lock, in that
// order. Idempotent; afterwards Count reports 0 and operations fail with
// [ErrDisposed].
func (a *Array[T]) Close() error {
	return a.st.close()
}
