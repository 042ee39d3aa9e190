package mmarr

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tempStorePath(t *testing.T, name string) string {
	t.Helper()

	return filepath.Join(t.TempDir(), name)
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}

	return info.Size()
}

func Test_Array_Roundtrips_Appends_Across_Reopen(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "s1.mmarr")

	w, err := OpenArray[int32](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	for _, v := range []int32{1, 2, 3, 4, 5} {
		if err := w.Append(v); err != nil {
			t.Fatalf("append %d: %v", v, err)
		}
	}

	if got := w.Count(); got != 5 {
		t.Fatalf("count = %d, want 5", got)
	}

	if v, err := w.Get(2); err != nil || v != 3 {
		t.Fatalf("get(2) = %d, %v, want 3", v, err)
	}

	span, err := w.Span(1, 3)
	if err != nil {
		t.Fatalf("span: %v", err)
	}

	if diff := cmp.Diff([]int32{2, 3, 4}, span); diff != "" {
		t.Fatalf("span mismatch (-want +got):\n%s", diff)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := OpenArray[int32](path, Options{Mode: ReadOnly})
	if err != nil {
		t.Fatalf("reopen reader: %v", err)
	}
	defer r.Close()

	if got := r.Count(); got != 5 {
		t.Fatalf("reader count = %d, want 5", got)
	}

	if v, err := r.Get(4); err != nil || v != 5 {
		t.Fatalf("reader get(4) = %d, %v, want 5", v, err)
	}
}

func Test_Array_Grows_File_By_Pages_When_Capacity_Exhausted(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "grow.mmarr")

	w, err := OpenArray[uint8](path, Options{Mode: ReadWrite, InitialCapacity: 0})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if got := fileSize(t, path); got != 4096 {
		t.Fatalf("new file size = %d, want 4096", got)
	}

	for i := range 4096 {
		if err := w.Append(uint8(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if got := fileSize(t, path); got != 8192 {
		t.Fatalf("grown file size = %d, want 8192", got)
	}

	if got := w.Count(); got != 4096 {
		t.Fatalf("count = %d, want 4096", got)
	}

	if v, err := w.Get(4095); err != nil || v != 255 {
		t.Fatalf("get(4095) = %d, %v, want 255", v, err)
	}
}

func Test_Array_TruncateTail_Is_Idempotent_And_Full_Length_Is_Noop(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "tail.mmarr")

	w, err := OpenArray[int64](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	for i := int64(0); i < 100; i++ {
		if err := w.Append(i * 7); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if err := w.TruncateTail(100); err != nil {
		t.Fatalf("truncate to full length: %v", err)
	}

	if got := w.Count(); got != 100 {
		t.Fatalf("count after no-op truncate = %d, want 100", got)
	}

	if err := w.TruncateTail(40); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if err := w.TruncateTail(40); err != nil {
		t.Fatalf("repeat truncate: %v", err)
	}

	if got := w.Count(); got != 40 {
		t.Fatalf("count = %d, want 40", got)
	}

	if v, err := w.Get(39); err != nil || v != 39*7 {
		t.Fatalf("get(39) = %d, %v, want %d", v, err, 39*7)
	}

	if _, err := w.Get(40); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("get(40) error = %v, want ErrOutOfRange", err)
	}
}

func Test_Array_TruncateHead_Keeps_Tail_And_Capacity(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "head.mmarr")

	w, err := OpenArray[int32](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if err := w.AppendRange([]int32{10, 20, 30, 40, 50}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	capBefore := w.Capacity()

	var calls int

	progress := func(current, total int64, label string) {
		calls++

		if current > total {
			t.Errorf("progress current %d > total %d", current, total)
		}
	}

	if err := w.TruncateHead(2, progress); err != nil {
		t.Fatalf("truncate head: %v", err)
	}

	if calls == 0 {
		t.Fatal("progress callback never fired")
	}

	if got := w.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	if v, _ := w.Get(0); v != 40 {
		t.Fatalf("get(0) = %d, want 40", v)
	}

	if v, _ := w.Get(1); v != 50 {
		t.Fatalf("get(1) = %d, want 50", v)
	}

	if got := w.Capacity(); got != capBefore {
		t.Fatalf("capacity changed %d -> %d", capBefore, got)
	}
}

func Test_Array_TruncateHead_Preserves_Tail_For_All_Lengths(t *testing.T) {
	t.Parallel()

	for _, keep := range []int64{0, 1, 500, 999, 1000} {
		path := tempStorePath(t, "head-prop.mmarr")

		w, err := OpenArray[uint64](path, Options{Mode: ReadWrite})
		if err != nil {
			t.Fatalf("open writer: %v", err)
		}

		values := make([]uint64, 1000)
		for i := range values {
			values[i] = uint64(i)*2654435761 + 17
		}

		if err := w.AppendRange(values); err != nil {
			t.Fatalf("append range: %v", err)
		}

		if err := w.TruncateHead(keep, nil); err != nil {
			t.Fatalf("truncate head %d: %v", keep, err)
		}

		got, err := w.Span(0, keep)
		if err != nil {
			t.Fatalf("span: %v", err)
		}

		want := values[int64(len(values))-keep:]
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("keep=%d tail mismatch (-want +got):\n%s", keep, diff)
		}

		_ = w.Close()
	}
}

func Test_Array_TrimExcess_Shrinks_Underused_Capacity(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "trim.mmarr")

	w, err := OpenArray[int64](path, Options{Mode: ReadWrite, InitialCapacity: 100_000})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	for i := int64(0); i < 10; i++ {
		if err := w.Append(i); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	capBefore := w.Capacity()

	if err := w.TrimExcess(); err != nil {
		t.Fatalf("trim: %v", err)
	}

	if w.Capacity() >= capBefore {
		t.Fatalf("capacity did not shrink: %d -> %d", capBefore, w.Capacity())
	}

	if got := w.Count(); got != 10 {
		t.Fatalf("count = %d, want 10", got)
	}

	if v, err := w.Get(9); err != nil || v != 9 {
		t.Fatalf("get(9) = %d, %v, want 9", v, err)
	}
}

func Test_Array_DisallowRemap_Blocks_Grow_And_Shrink(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "latch.mmarr")

	// Several pages worth of capacity, so a tail truncation would actually
	// shorten the file.
	w, err := OpenArray[int64](path, Options{Mode: ReadWrite, InitialCapacity: 2000})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	for i := int64(0); i < 16; i++ {
		if err := w.Append(i); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	w.DisallowRemap()

	// Appends within mapped capacity still work.
	if err := w.Append(99); err != nil {
		t.Fatalf("append into mapped capacity: %v", err)
	}

	if err := w.TruncateTail(1); !errors.Is(err, ErrResetDisallowed) {
		t.Fatalf("shrink error = %v, want ErrResetDisallowed", err)
	}

	for i := w.Count(); i < w.Capacity(); i++ {
		if err := w.Append(i); err != nil {
			t.Fatalf("fill capacity at %d: %v", i, err)
		}
	}

	if err := w.Append(1); !errors.Is(err, ErrResetDisallowed) {
		t.Fatalf("grow error = %v, want ErrResetDisallowed", err)
	}
}

func Test_Array_SetLast_Overwrites_Only_Final_Element(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "setlast.mmarr")

	w, err := OpenArray[float64](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	if err := w.SetLast(1.0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("set last on empty = %v, want ErrOutOfRange", err)
	}

	if err := w.AppendRange([]float64{1.5, 2.5, 3.5}); err != nil {
		t.Fatalf("append range: %v", err)
	}

	if err := w.SetLast(9.25); err != nil {
		t.Fatalf("set last: %v", err)
	}

	got, err := w.Span(0, 3)
	if err != nil {
		t.Fatalf("span: %v", err)
	}

	if diff := cmp.Diff([]float64{1.5, 2.5, 9.25}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func Test_Array_Reports_Disposed_After_Close(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "closed.mmarr")

	w, err := OpenArray[int32](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	if err := w.Append(1); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if got := w.Count(); got != 0 {
		t.Fatalf("count after close = %d, want 0", got)
	}

	if _, err := w.Get(0); !errors.Is(err, ErrDisposed) {
		t.Fatalf("get error = %v, want ErrDisposed", err)
	}

	if err := w.Append(2); !errors.Is(err, ErrDisposed) {
		t.Fatalf("append error = %v, want ErrDisposed", err)
	}
}

func Test_Array_Rejects_Mutations_On_Reader_Handles(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "ro.mmarr")

	w, err := OpenArray[int16](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	if err := w.Append(11); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenArray[int16](path, Options{Mode: ReadOnly})
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	if err := r.Append(1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("append error = %v, want ErrReadOnly", err)
	}

	if err := r.TruncateTail(0); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("truncate error = %v, want ErrReadOnly", err)
	}

	// Beyond-count reads on a reader signal possible concurrent truncation.
	if _, err := r.Get(5); !errors.Is(err, ErrTruncated) {
		t.Fatalf("get(5) error = %v, want ErrTruncated", err)
	}
}

func Test_Array_Rejects_Wrong_Element_Type_On_Open(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "mismatch.mmarr")

	w, err := OpenArray[int32](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := OpenArray[int64](path, Options{Mode: ReadOnly}); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("open error = %v, want ErrCorrupt", err)
	}
}

func Test_Array_Missing_File_Fails_ReadOnly_Open(t *testing.T) {
	t.Parallel()

	_, err := OpenArray[int32](tempStorePath(t, "nope.mmarr"), Options{Mode: ReadOnly})
	if err == nil {
		t.Fatal("expected error opening missing file read-only")
	}
}

func Test_Array_Registers_Open_Handles(t *testing.T) {
	t.Parallel()

	path := tempStorePath(t, "registry.mmarr")

	w, err := OpenArray[int32](path, Options{Mode: ReadWrite})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}

	found := false

	for _, info := range OpenHandles() {
		if info.Path == path {
			found = true

			if info.Mode != ReadWrite || info.Type != Int32 {
				t.Fatalf("handle info = %+v", info)
			}
		}
	}

	if !found {
		t.Fatal("open handle not listed")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, info := range OpenHandles() {
		if info.Path == path {
			t.Fatal("closed handle still listed")
		}
	}
}

func Test_Reader_Observes_Complete_Elements_During_Concurrent_Appends(t *testing.T) {
	t.Parallel()

	const total = 20_000

	path := tempStorePath(t, "pub.mmarr")

	// Preallocate so no grow happens: the reader's mapping then covers every
	// element the writer will ever publish.
	w, err := OpenArray[uint64](path, Options{Mode: ReadWrite, InitialCapacity: total})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer w.Close()

	r, err := OpenArray[uint64](path, Options{Mode: ReadOnly})
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	pattern := func(i int64) uint64 { return uint64(i)*0x9E3779B97F4A7C15 + 1 }

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()

		for i := int64(0); i < total; i++ {
			if err := w.Append(pattern(i)); err != nil {
				t.Errorf("append %d: %v", i, err)

				return
			}
		}
	}()

	go func() {
		defer wg.Done()

		for {
			n := r.Count()

			// Sample count, then verify everything below it is complete.
			for i := n - 1; i >= 0 && i >= n-16; i-- {
				if got := r.GetUnchecked(i); got != pattern(i) {
					t.Errorf("index %d = %#x, want %#x", i, got, pattern(i))

					return
				}
			}

			if n == total {
				return
			}
		}
	}()

	wg.Wait()
}
