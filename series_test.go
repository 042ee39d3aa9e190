package mmarr

import (
	"encoding/binary"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTicks(t *testing.T, name string, order OrderMode) *Series {
	t.Helper()

	s, err := OpenSeries(tempStorePath(t, name), SeriesOptions{
		Mode:  ReadWrite,
		Order: order,
	})
	if err != nil {
		t.Fatalf("open series: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func Test_Series_Enforces_Strict_Ascending_Order(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "asc.mmarr", OrderAscending)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	if err := s.AppendTime(t0); err != nil {
		t.Fatalf("append t0: %v", err)
	}

	if err := s.AppendTime(t1); err != nil {
		t.Fatalf("append t1: %v", err)
	}

	// A duplicate violates strict ascending.
	if err := s.AppendTime(t1); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("duplicate append = %v, want ErrOutOfOrder", err)
	}

	if got := s.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	upper, err := s.UpperBound(TimeToTicks(t0), 0, s.Count())
	if err != nil {
		t.Fatalf("upper bound: %v", err)
	}

	if upper != 1 {
		t.Fatalf("upper bound = %d, want 1", upper)
	}

	idx, err := s.BinarySearch(TimeToTicks(t1), 0, s.Count())
	if err != nil {
		t.Fatalf("binary search: %v", err)
	}

	if idx != 1 {
		t.Fatalf("binary search = %d, want 1", idx)
	}
}

func Test_Series_AscendingOrEqual_Accepts_Duplicates_Only(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "asceq.mmarr", OrderAscendingOrEqual)

	if err := s.AppendRange([]int64{100, 100, 200, 200, 300}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	if err := s.Append(250); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("backwards append = %v, want ErrOutOfOrder", err)
	}

	if err := s.SetLast(199); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("set last below predecessor = %v, want ErrOutOfOrder", err)
	}

	if err := s.SetLast(200); err != nil {
		t.Fatalf("set last equal to predecessor: %v", err)
	}
}

func Test_Series_Rejects_Batch_That_Breaks_Order_Midway(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "batch.mmarr", OrderAscending)

	if err := s.Append(10); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.AppendRange([]int64{20, 30, 25}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("append range = %v, want ErrOutOfOrder", err)
	}

	// The failed batch must not have been partially applied.
	if got := s.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func Test_Series_Rejects_Zero_Timestamp_Writes(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "zero.mmarr", OrderNone)

	if err := s.Append(0); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("append zero = %v, want ErrCorrupt", err)
	}

	if err := s.AppendRange([]int64{5, 0, 7}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("append range with zero = %v, want ErrCorrupt", err)
	}

	if got := s.Count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
}

func Test_Series_Reports_Corruption_With_Last_Sound_Entry_On_Zero_Read(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "corrupt.mmarr")

	s, err := OpenSeries(path, SeriesOptions{Mode: ReadWrite, Order: OrderAscending})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := int64(1); i <= 2500; i++ {
		if err := s.Append(i * 1000); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Zero out element 2400 behind the library's back.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}

	var zero [8]byte

	if _, err := f.WriteAt(zero[:], baseHeaderSize+2400*8); err != nil {
		t.Fatalf("plant zero: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	r, err := OpenSeries(path, SeriesOptions{Mode: ReadOnly})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	_, err = r.Get(2400)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("get over zero = %v, want ErrCorrupt", err)
	}

	// The diagnostic names the most recent non-zero entry.
	wantFragment := "index 2399 value 2400000"
	if got := err.Error(); !strings.Contains(got, wantFragment) {
		t.Fatalf("error %q does not mention %q", got, wantFragment)
	}

	if v, err := r.Get(2399); err != nil || v != 2_400_000 {
		t.Fatalf("get(2399) = %d, %v", v, err)
	}
}

func Test_Series_Search_Bounds_Agree_For_Every_Probe(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "bounds.mmarr", OrderAscendingOrEqual)

	values := []int64{10, 20, 20, 20, 30, 40, 40, 50}
	if err := s.AppendRange(values); err != nil {
		t.Fatalf("append range: %v", err)
	}

	n := s.Count()

	probes := []struct {
		v            int64
		lower, upper int64
	}{
		{5, 0, 0},
		{10, 0, 1},
		{15, 1, 1},
		{20, 1, 4},
		{25, 4, 4},
		{40, 5, 7},
		{50, 7, 8},
		{55, 8, 8},
	}

	for _, p := range probes {
		lower, err := s.LowerBound(p.v, 0, n)
		if err != nil {
			t.Fatalf("lower bound %d: %v", p.v, err)
		}

		upper, err := s.UpperBound(p.v, 0, n)
		if err != nil {
			t.Fatalf("upper bound %d: %v", p.v, err)
		}

		if lower != p.lower || upper != p.upper {
			t.Fatalf("probe %d: bounds = (%d, %d), want (%d, %d)", p.v, lower, upper, p.lower, p.upper)
		}

		if lower > upper {
			t.Fatalf("probe %d: lower %d > upper %d", p.v, lower, upper)
		}
	}
}

func Test_Series_BinarySearch_Complements_Insertion_Point_On_Miss(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "bs.mmarr", OrderAscending)

	if err := s.AppendRange([]int64{10, 20, 30, 40}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	idx, err := s.BinarySearch(25, 0, s.Count())
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if idx >= 0 {
		t.Fatalf("found absent value at %d", idx)
	}

	if ins := ^idx; ins != 2 {
		t.Fatalf("insertion point = %d, want 2", ins)
	}

	idx, err = s.BinarySearch(40, 1, 3)
	if err != nil {
		t.Fatalf("windowed search: %v", err)
	}

	if idx != 3 {
		t.Fatalf("windowed search = %d, want 3", idx)
	}
}

func Test_Series_IndexOf_Follows_Range_Rules(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "indexof.mmarr", OrderAscending)

	if err := s.AppendRange([]int64{10, 20, 30, 40}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	cases := []struct {
		v    int64
		want int64
	}{
		{5, -1},   // strictly below the first
		{45, -1},  // strictly above the last
		{20, 1},   // exact hit
		{25, 2},   // absent inside: first greater
		{10, 0},
		{40, 3},
	}

	for _, tc := range cases {
		got, err := s.IndexOf(tc.v, 0, s.Count())
		if err != nil {
			t.Fatalf("index of %d: %v", tc.v, err)
		}

		if got != tc.want {
			t.Fatalf("index of %d = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func Test_Series_Second_Precision_Stores_Int32_Elements(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "secs.mmarr")

	s, err := OpenSeries(path, SeriesOptions{
		Mode:      ReadWrite,
		Order:     OrderAscending,
		Precision: PrecisionSeconds,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	moments := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC),
		time.Date(2024, 6, 15, 12, 30, 0, 0, time.UTC),
	}

	for _, m := range moments {
		if err := s.AppendTime(m); err != nil {
			t.Fatalf("append %v: %v", m, err)
		}
	}

	// Out of the 32-bit second range entirely.
	if err := s.Append(int64(1) << 40); !errors.Is(err, ErrDataTypeOverflow) {
		t.Fatalf("wide append = %v, want ErrDataTypeOverflow", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Element width on disk is four bytes.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}

	if got := DataType(binary.LittleEndian.Uint32(raw[offDataType:])); got != UnixSeconds {
		t.Fatalf("data type = %v, want UnixSeconds", got)
	}

	first := int32(binary.LittleEndian.Uint32(raw[baseHeaderSize:]))
	if int64(first) != moments[0].Unix() {
		t.Fatalf("element 0 = %d, want %d", first, moments[0].Unix())
	}

	r, err := OpenSeries(path, SeriesOptions{Mode: ReadOnly})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()

	for i, m := range moments {
		got, err := r.TimeAt(int64(i))
		if err != nil {
			t.Fatalf("time at %d: %v", i, err)
		}

		if !got.Equal(m) {
			t.Fatalf("time at %d = %v, want %v", i, got, m)
		}
	}
}

func Test_Series_Tick_Conversions_Roundtrip(t *testing.T) {
	t.Parallel()

	moments := []time.Time{
		time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 23, 59, 59, 999_999_900, time.UTC),
		time.Date(1812, 6, 24, 6, 0, 0, 0, time.UTC),
	}

	for _, m := range moments {
		if got := TicksToTime(TimeToTicks(m)); !got.Equal(m) {
			t.Fatalf("roundtrip %v -> %v", m, got)
		}
	}
}

func Test_Series_Span_Returns_Raw_Values(t *testing.T) {
	t.Parallel()

	s := openTicks(t, "span.mmarr", OrderAscending)

	if err := s.AppendRange([]int64{100, 200, 300, 400}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	got, err := s.Span(1, 2)
	if err != nil {
		t.Fatalf("span: %v", err)
	}

	if diff := cmp.Diff([]int64{200, 300}, got); diff != "" {
		t.Fatalf("span mismatch (-want +got):\n%s", diff)
	}
}
