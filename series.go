package mmarr

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// OrderMode is the invariant a series enforces on successive timestamps.
type OrderMode int

const (
	// OrderNone performs no ordering checks.
	OrderNone OrderMode = iota

	// OrderAscending requires each appended timestamp to be strictly
	// greater than the previous one.
	OrderAscending

	// OrderAscendingOrEqual requires each appended timestamp to be greater
	// than or equal to the previous one.
	OrderAscendingOrEqual
)

// Precision selects the timestamp resolution of a new series file.
type Precision int

const (
	// PrecisionTicks stores 100-nanosecond ticks as int64 (DateTime files).
	PrecisionTicks Precision = iota

	// PrecisionSeconds stores Unix seconds as int32 (UnixSeconds files).
	// math.MinInt32 is the reserved minimum-timestamp sentinel.
	PrecisionSeconds
)

// SeriesOptions configures opening a [Series].
type SeriesOptions struct {
	// Mode selects reader or writer access. The zero value is ReadOnly.
	Mode Mode

	// Order is the invariant enforced on writes through this handle.
	Order OrderMode

	// Precision selects the encoding of a newly created file. An existing
	// file's encoding is adopted from its header.
	Precision Precision

	// InitialCapacity sizes a newly created file, in elements.
	InitialCapacity int64

	// Lock configures writer-lock acquisition. Ignored for readers.
	Lock LockOptions
}

// Series is a persistent timestamp array with an ordering invariant and
// O(log n) search primitives.
//
// Values are int64 throughout: ticks for [PrecisionTicks] files, Unix
// seconds for [PrecisionSeconds] files. Zero is reserved as a corruption
// signal in both encodings: it is never written and a read that finds one
// fails with [ErrCorrupt] and the position of the most recent sound entry.
type Series struct {
	_       [0]func() // prevent external construction
	st      *store
	c       codec
	order   OrderMode
	seconds bool
}

// OpenSeries opens or creates the series file at path.
//
// Possible errors: as [OpenArray], plus [ErrCorrupt] when an existing file
// is not a DateTime or UnixSeconds store.
func OpenSeries(path string, opts SeriesOptions) (*Series, error) {
	want := AnyStruct

	if opts.Mode == ReadWrite {
		if info, err := os.Stat(path); os.IsNotExist(err) || (err == nil && info.Size() == 0) {
			want = DateTime
			if opts.Precision == PrecisionSeconds {
				want = UnixSeconds
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

	if st.dt != DateTime && st.dt != UnixSeconds {
		dt := st.dt
		_ = st.close()

		return nil, fmt.Errorf("data type %v is not a time series: %w", dt, ErrCorrupt)
	}

	s := &Series{
		st:      st,
		order:   opts.Order,
		seconds: st.dt == UnixSeconds,
	}

	if s.seconds {
		s.c = codecFor(Int32)
	} else {
		s.c = codecFor(Int64)
	}

	return s, nil
}

// Count returns the number of timestamps. Lock-free; 0 after Close.
func (s *Series) Count() int64 { return s.st.count() }

// Capacity returns the number of element slots in the current mapping.
func (s *Series) Capacity() int64 { return s.st.capacity }

// Path returns the backing file path.
func (s *Series) Path() string { return s.st.path }

// Type returns DateTime or UnixSeconds.
func (s *Series) Type() DataType { return s.st.dt }

// Order returns the ordering mode this handle enforces.
func (s *Series) Order() OrderMode { return s.order }

// rawAt reads element i with no bounds or zero checks.
func (s *Series) rawAt(i int64) int64 {
	return s.c.get(s.st.elem(i))
}

// Get returns timestamp i.
//
// A stored zero fails with [ErrCorrupt]; the error reports the index and
// value of the most recent non-zero entry, found by scanning backwards in
// 1000-element chunks.
func (s *Series) Get(i int64) (int64, error) {
	if err := s.st.readable(); err != nil {
		return 0, err
	}

	current := s.st.visible()
	if i < 0 {
		return 0, fmt.Errorf("index %d: %w", i, ErrOutOfRange)
	}

	if i >= current {
		if s.st.mode == ReadOnly {
			return 0, fmt.Errorf("index %d of %d: %w", i, current, ErrTruncated)
		}

		return 0, fmt.Errorf("index %d of %d: %w", i, current, ErrOutOfRange)
	}

	v := s.rawAt(i)
	if v == 0 {
		lastIdx, lastVal := s.lastNonZeroBefore(i)

		return 0, fmt.Errorf("zero timestamp at index %d (most recent non-zero: index %d value %d): %w",
			i, lastIdx, lastVal, ErrCorrupt)
	}

	return v, nil
}

// GetUnchecked returns timestamp i without bounds or zero checks.
func (s *Series) GetUnchecked(i int64) int64 {
	return s.rawAt(i)
}

// lastNonZeroBefore scans backwards from index i-1 in 1000-element chunks
// for the most recent non-zero entry. Returns (-1, 0) when none exists.
func (s *Series) lastNonZeroBefore(i int64) (int64, int64) {
	const chunk = 1000

	for hi := i; hi > 0; {
		lo := hi - chunk
		if lo < 0 {
			lo = 0
		}

		for j := hi - 1; j >= lo; j-- {
			if v := s.rawAt(j); v != 0 {
				return j, v
			}
		}

		hi = lo
	}

	return -1, 0
}

// checkValue rejects the reserved zero and, for second-precision files,
// values outside the int32 range.
func (s *Series) checkValue(v int64) error {
	if v == 0 {
		return fmt.Errorf("zero timestamp is reserved: %w", ErrCorrupt)
	}

	if s.seconds && (v < math.MinInt32 || v > math.MaxInt32) {
		return fmt.Errorf("timestamp %d outside the 32-bit second range: %w", v, ErrDataTypeOverflow)
	}

	return nil
}

// checkOrder enforces the ordering mode of v against the predecessor prev.
func (s *Series) checkOrder(prev, v int64) error {
	switch s.order {
	case OrderAscending:
		if v <= prev {
			return fmt.Errorf("timestamp %d not greater than predecessor %d: %w", v, prev, ErrOutOfOrder)
		}
	case OrderAscendingOrEqual:
		if v < prev {
			return fmt.Errorf("timestamp %d less than predecessor %d: %w", v, prev, ErrOutOfOrder)
		}
	case OrderNone:
	}

	return nil
}

// Append writes timestamp v at the current count.
//
// Possible errors: [ErrOutOfOrder], [ErrCorrupt] (zero value, or a zero
// predecessor), [ErrReadOnly], [ErrResetDisallowed], [ErrDisposed], I/O.
func (s *Series) Append(v int64) error {
	if err := s.st.writable(); err != nil {
		return err
	}

	if err := s.checkValue(v); err != nil {
		return err
	}

	n := s.st.count()

	if s.order != OrderNone && n > 0 {
		prev := s.rawAt(n - 1)
		if prev == 0 {
			return fmt.Errorf("zero timestamp at index %d: %w", n-1, ErrCorrupt)
		}

		if err := s.checkOrder(prev, v); err != nil {
			return err
		}
	}

	if err := s.st.ensureCapacity(n + 1); err != nil {
		return err
	}

	s.c.put(s.st.elem(n), v)
	s.st.setCount(n + 1)

	return nil
}

// AppendRange appends all timestamps. The whole batch is validated before
// any element is written; the count is published once.
func (s *Series) AppendRange(values []int64) error {
	if err := s.st.writable(); err != nil {
		return err
	}

	if len(values) == 0 {
		return nil
	}

	n := s.st.count()

	prevKnown := false

	var prev int64

	if s.order != OrderNone && n > 0 {
		prev = s.rawAt(n - 1)
		if prev == 0 {
			return fmt.Errorf("zero timestamp at index %d: %w", n-1, ErrCorrupt)
		}

		prevKnown = true
	}

	for _, v := range values {
		if err := s.checkValue(v); err != nil {
			return err
		}

		if s.order != OrderNone && prevKnown {
			if err := s.checkOrder(prev, v); err != nil {
				return err
			}
		}

		prev = v
		prevKnown = true
	}

	if err := s.st.ensureCapacity(n + int64(len(values))); err != nil {
		return err
	}

	for j, v := range values {
		s.c.put(s.st.elem(n+int64(j)), v)
	}

	s.st.setCount(n + int64(len(values)))

	return nil
}

// SetLast overwrites the most recent timestamp, enforcing ordering against
// its predecessor.
func (s *Series) SetLast(v int64) error {
	if err := s.st.writable(); err != nil {
		return err
	}

	n := s.st.count()
	if n == 0 {
		return fmt.Errorf("set last of empty series: %w", ErrOutOfRange)
	}

	if err := s.checkValue(v); err != nil {
		return err
	}

	if s.order != OrderNone && n > 1 {
		prev := s.rawAt(n - 2)
		if prev == 0 {
			return fmt.Errorf("zero timestamp at index %d: %w", n-2, ErrCorrupt)
		}

		if err := s.checkOrder(prev, v); err != nil {
			return err
		}
	}

	s.c.put(s.st.elem(n-1), v)

	return nil
}

// checkWindow validates a search window against the current count.
func (s *Series) checkWindow(start, length int64) error {
	if err := s.st.readable(); err != nil {
		return err
	}

	current := s.st.visible()
	if start < 0 || length < 0 || start+length > current {
		return fmt.Errorf("window [%d, %d) of %d elements: %w", start, start+length, current, ErrOutOfRange)
	}

	return nil
}

// BinarySearch looks for v in the sorted window [start, start+length).
// It returns the index of a matching element, or the bitwise complement of
// the insertion point when v is absent. Pass (0, Count()) for the whole
// series.
func (s *Series) BinarySearch(v, start, length int64) (int64, error) {
	if err := s.checkWindow(start, length); err != nil {
		return 0, err
	}

	lo, hi := start, start+length-1

	for lo <= hi {
		mid := lo + (hi-lo)/2

		switch mv := s.rawAt(mid); {
		case mv == v:
			return mid, nil
		case mv < v:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	return ^lo, nil
}

// LowerBound returns the least index in [start, start+length) whose value
// is not less than v; start+length when no such element exists.
func (s *Series) LowerBound(v, start, length int64) (int64, error) {
	if err := s.checkWindow(start, length); err != nil {
		return 0, err
	}

	lo, hi := start, start+length

	for lo < hi {
		mid := lo + (hi-lo)/2
		if s.rawAt(mid) < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo, nil
}

// UpperBound returns the least index in [start, start+length) whose value
// is strictly greater than v; start+length when no such element exists.
func (s *Series) UpperBound(v, start, length int64) (int64, error) {
	if err := s.checkWindow(start, length); err != nil {
		return 0, err
	}

	lo, hi := start, start+length

	for lo < hi {
		mid := lo + (hi-lo)/2
		if s.rawAt(mid) <= v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo, nil
}

// IndexOf returns the index of v in the window, or -1 when v is strictly
// below the first or strictly above the last element, or the index of the
// first element greater than v when v is absent but inside the range.
func (s *Series) IndexOf(v, start, length int64) (int64, error) {
	if err := s.checkWindow(start, length); err != nil {
		return 0, err
	}

	if length == 0 {
		return -1, nil
	}

	if v < s.rawAt(start) || v > s.rawAt(start+length-1) {
		return -1, nil
	}

	idx, err := s.BinarySearch(v, start, length)
	if err != nil {
		return 0, err
	}

	if idx >= 0 {
		return idx, nil
	}

	return ^idx, nil
}

// Span copies the raw timestamps [start, start+length) into a fresh []int64.
func (s *Series) Span(start, length int64) ([]int64, error) {
	if err := s.st.checkSpan(start, length); err != nil {
		return nil, err
	}

	out := make([]int64, length)
	for j := int64(0); j < length; j++ {
		out[j] = s.rawAt(start + j)
	}

	return out, nil
}

// TruncateTail keeps the first n timestamps.
func (s *Series) TruncateTail(n int64) error {
	return s.st.truncateTail(n)
}

// TruncateHead keeps the last n timestamps. progress may be nil.
func (s *Series) TruncateHead(n int64, progress Progress) error {
	return s.st.truncateHead(n, progress, filepath.Base(s.st.path))
}

// TrimExcess shrinks capacity to the count when utilisation is below 90%.
func (s *Series) TrimExcess() error {
	return s.st.trimExcess()
}

// DisallowRemap latches the mapping in place; see [ErrResetDisallowed].
func (s *Series) DisallowRemap() {
	s.st.disallowRemap()
}

// Close releases all resources. Idempotent.
func (s *Series) Close() error {
	return s.st.close()
}

// TimeToTicks converts a time to 100-nanosecond ticks since 0001-01-01.
func TimeToTicks(t time.Time) int64 {
	return unixEpochTicks + t.UnixNano()/100
}

// TicksToTime converts ticks since 0001-01-01 to a UTC time.
func TicksToTime(ticks int64) time.Time {
	return time.Unix(0, (ticks-unixEpochTicks)*100).UTC()
}

// AppendTime appends t in this series' precision.
func (s *Series) AppendTime(t time.Time) error {
	if s.seconds {
		return s.Append(t.Unix())
	}

	return s.Append(TimeToTicks(t))
}

// TimeAt returns timestamp i as a UTC time. For second-precision files the
// reserved math.MinInt32 sentinel decodes to the zero time.
func (s *Series) TimeAt(i int64) (time.Time, error) {
	v, err := s.Get(i)
	if err != nil {
		return time.Time{}, err
	}

	if s.seconds {
		if v == minSecondsValue {
			return time.Time{}, nil
		}

		return time.Unix(v, 0).UTC(), nil
	}

	return TicksToTime(v), nil
}
