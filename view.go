package mmarr

import "fmt"

// Reader is the read surface a [View] windows over. [Array], [Int64Array]
// and [Series] all satisfy Reader for their value types.
type Reader[T any] interface {
	Count() int64
	Get(i int64) (T, error)
}

// View exposes a read-only window over an underlying array.
//
// The window starts at a fixed offset. With a fixed count the view's length
// is capped at that count, clamped down when the underlying array shrinks;
// without one the view tracks the underlying length as it grows and
// shrinks. A View never owns the underlying array and holds no resources.
type View[T any] struct {
	r     Reader[T]
	off   int64
	fixed int64 // -1 tracks the underlying length
}

// NewView creates a view of r starting at offset, tracking the underlying
// length.
func NewView[T any](r Reader[T], offset int64) (*View[T], error) {
	return newView(r, offset, -1)
}

// NewFixedView creates a view of r starting at offset with at most count
// elements.
func NewFixedView[T any](r Reader[T], offset, count int64) (*View[T], error) {
	if count < 0 {
		return nil, fmt.Errorf("view count %d: %w", count, ErrOutOfRange)
	}

	return newView(r, offset, count)
}

func newView[T any](r Reader[T], offset, fixed int64) (*View[T], error) {
	if offset < 0 {
		return nil, fmt.Errorf("view offset %d: %w", offset, ErrOutOfRange)
	}

	return &View[T]{r: r, off: offset, fixed: fixed}, nil
}

// Count returns the current window length.
func (v *View[T]) Count() int64 {
	available := v.r.Count() - v.off
	if available < 0 {
		available = 0
	}

	if v.fixed >= 0 && v.fixed < available {
		return v.fixed
	}

	return available
}

// Get returns element i of the window.
//
// Possible errors: [ErrOutOfRange], plus whatever the underlying Get raises.
func (v *View[T]) Get(i int64) (T, error) {
	if i < 0 || i >= v.Count() {
		var zero T

		return zero, fmt.Errorf("view index %d of %d: %w", i, v.Count(), ErrOutOfRange)
	}

	return v.r.Get(v.off + i)
}
