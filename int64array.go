package mmarr

import (
	"fmt"
	"os"
	"path/filepath"
)

// Int64Options configures opening an [Int64Array].
type Int64Options struct {
	// Mode selects reader or writer access. The zero value is ReadOnly.
	Mode Mode

	// Type is the element encoding for a newly created file. Ignored when
	// the file exists (the header's encoding is adopted). Zero means Int64.
	Type DataType

	// InitialCapacity sizes a newly created file, in elements.
	InitialCapacity int64

	// Lock configures writer-lock acquisition. Ignored for readers.
	Lock LockOptions

	// Progress receives migration progress. May be nil.
	Progress Progress
}

// Int64Array exposes any integer-typed store file as an int64 sequence.
//
// The element encoding can be as narrow as one byte or one of the odd
// 24/40/48/56-bit widths; reads decode and writes encode through the codec
// table. A write outside the current encoding's domain triggers an offline
// widening migration on a writer handle (see [SmallestType]); reader handles
// fail such reads never and such writes always.
//
// Like [Array], a handle is single-threaded from the caller's perspective.
type Int64Array struct {
	_  [0]func() // prevent external construction
	st *store
	c  codec

	lockOpts LockOptions
	progress Progress

	hasObserved bool
	observedMin int64
	observedMax int64

	warnThreshold float64
	warnFn        func(UtilisationStatus)
	warned        bool
}

// OpenInt64 opens or creates an integer store file at path and adapts it to
// int64 values.
//
// An existing file's encoding is adopted whatever opts.Type says; a new file
// (writer mode only) is created with opts.Type. Non-integer encodings
// (Bit, Single, Double, DateTime, UnixSeconds) are rejected.
//
// Possible errors:
//   - [ErrCorrupt]: bad header or non-integer encoding
//   - [ErrLockTimeout]: another writer holds the file
//   - I/O errors
func OpenInt64(path string, opts Int64Options) (*Int64Array, error) {
	want := AnyStruct

	if opts.Mode == ReadWrite {
		if info, err := os.Stat(path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
			want = opts.Type
			if want == AnyStruct {
				want = Int64
			}

			if !want.integerKind() {
				return nil, fmt.Errorf("%v is not an integer encoding", want)
			}
		}
	}

	st, err := openStore(path, want, 0, Options{
		Mode:            opts.Mode,
		InitialCapacity: opts.InitialCapacity,
		Lock:            opts.Lock,
	})
	if err != nil {
		return nil, err
	}

	if !st.dt.integerKind() {
		dt := st.dt
		_ = st.close()

		return nil, fmt.Errorf("data type %v cannot be adapted to int64: %w", dt, ErrCorrupt)
	}

	return &Int64Array{
		st:       st,
		c:        codecFor(st.dt),
		lockOpts: opts.Lock,
		progress: opts.Progress,
	}, nil
}

// Count returns the number of elements. Lock-free; 0 after Close.
func (a *Int64Array) Count() int64 { return a.st.count() }

// Capacity returns the number of element slots in the current mapping.
func (a *Int64Array) Capacity() int64 { return a.st.capacity }

// Path returns the backing file path.
func (a *Int64Array) Path() string { return a.st.path }

// Type returns the current element encoding. It changes after a migration.
func (a *Int64Array) Type() DataType { return a.st.dt }

// Get returns element i decoded to int64. Index errors follow [Array.Get].
func (a *Int64Array) Get(i int64) (int64, error) {
	if err := a.st.readable(); err != nil {
		return 0, err
	}

	current := a.st.visible()
	if i < 0 {
		return 0, fmt.Errorf("index %d: %w", i, ErrOutOfRange)
	}

	if i >= current {
		if a.st.mode == ReadOnly {
			return 0, fmt.Errorf("index %d of %d: %w", i, current, ErrTruncated)
		}

		return 0, fmt.Errorf("index %d of %d: %w", i, current, ErrOutOfRange)
	}

	return a.c.get(a.st.elem(i)), nil
}

// GetUnchecked returns element i without bounds checks; the caller asserts
// i is in [0, Count()) on a live handle.
func (a *Int64Array) GetUnchecked(i int64) int64 {
	return a.c.get(a.st.elem(i))
}

// Append writes v at the current count. A value outside the current domain
// migrates the file to a wider encoding first (writer handles only).
//
// Possible errors: [ErrReadOnly] (readers, before any domain check),
// [ErrDataTypeOverflow] (no wider encoding exists), [ErrResetDisallowed],
// [ErrDisposed], I/O and migration errors.
func (a *Int64Array) Append(v int64) error {
	if err := a.st.writable(); err != nil {
		return err
	}

	if err := a.fit(v, v); err != nil {
		return err
	}

	n := a.st.count()

	if err := a.st.ensureCapacity(n + 1); err != nil {
		return err
	}

	a.c.put(a.st.elem(n), v)
	a.st.setCount(n + 1)
	a.noteObserved(v, v)

	return nil
}

// AppendRange appends all values, widening at most once for the whole batch.
// The count is published once, after every element is encoded.
func (a *Int64Array) AppendRange(values []int64) error {
	if err := a.st.writable(); err != nil {
		return err
	}

	if len(values) == 0 {
		return nil
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}

		if v > hi {
			hi = v
		}
	}

	if err := a.fit(lo, hi); err != nil {
		return err
	}

	n := a.st.count()

	if err := a.st.ensureCapacity(n + int64(len(values))); err != nil {
		return err
	}

	for j, v := range values {
		a.c.put(a.st.elem(n+int64(j)), v)
	}

	a.st.setCount(n + int64(len(values)))
	a.noteObserved(lo, hi)

	return nil
}

// SetLast overwrites the most recent element, widening first if needed.
func (a *Int64Array) SetLast(v int64) error {
	if err := a.st.writable(); err != nil {
		return err
	}

	n := a.st.count()
	if n == 0 {
		return fmt.Errorf("set last of empty array: %w", ErrOutOfRange)
	}

	if err := a.fit(v, v); err != nil {
		return err
	}

	a.c.put(a.st.elem(a.st.count()-1), v)
	a.noteObserved(v, v)

	return nil
}

// Span decodes the region [start, start+length) into a fresh []int64.
//
// Unlike [Array.Span] this is never zero-copy: odd-width elements have no
// int64 representation in the mapping, so the adapter always copies.
func (a *Int64Array) Span(start, length int64) ([]int64, error) {
	if err := a.st.checkSpan(start, length); err != nil {
		return nil, err
	}

	out := make([]int64, length)
	for j := int64(0); j < length; j++ {
		out[j] = a.c.get(a.st.elem(start + j))
	}

	return out, nil
}

// TruncateTail keeps the first n elements.
func (a *Int64Array) TruncateTail(n int64) error {
	return a.st.truncateTail(n)
}

// TruncateHead keeps the last n elements. progress may be nil.
func (a *Int64Array) TruncateHead(n int64, progress Progress) error {
	return a.st.truncateHead(n, progress, filepath.Base(a.st.path))
}

// TrimExcess shrinks capacity to the count when utilisation is below 90%.
func (a *Int64Array) TrimExcess() error {
	return a.st.trimExcess()
}

// DisallowRemap latches the mapping in place; see [ErrResetDisallowed].
// It also forecloses migration, since migration replaces the mapping.
func (a *Int64Array) DisallowRemap() {
	a.st.disallowRemap()
}

// Close releases all resources. Idempotent.
func (a *Int64Array) Close() error {
	return a.st.close()
}
