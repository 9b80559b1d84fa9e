package models

import (
	"fmt"
	"math"
)

// Window is a half-open [Start, End) range of epoch nanoseconds. The int64
// extremes mean the side is unbounded.
type Window struct {
	Start int64
	End   int64
}

// Unbounded matches every timestamp.
var Unbounded = Window{Start: math.MinInt64, End: math.MaxInt64}

// NewWindow builds a window from optional bounds.
func NewWindow(start, end *int64) (Window, error) {
	w := Unbounded
	if start != nil {
		w.Start = *start
	}
	if end != nil {
		w.End = *end
	}
	if start != nil && end != nil && *end <= *start {
		return Window{}, fmt.Errorf("%w: end time %d must be after start time %d", ErrInvalidArgument, *end, *start)
	}
	return w, nil
}

func (w Window) HasStart() bool { return w.Start != math.MinInt64 }

func (w Window) HasEnd() bool { return w.End != math.MaxInt64 }

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return (!w.HasStart() || ts >= w.Start) && (!w.HasEnd() || ts < w.End)
}

// Overlaps reports whether the closed range [lo, hi] may hold a timestamp in
// the window.
func (w Window) Overlaps(lo, hi int64) bool {
	if w.HasStart() && hi < w.Start {
		return false
	}
	if w.HasEnd() && lo >= w.End {
		return false
	}
	return true
}

func (w Window) String() string {
	start, end := "-inf", "+inf"
	if w.HasStart() {
		start = fmt.Sprint(w.Start)
	}
	if w.HasEnd() {
		end = fmt.Sprint(w.End)
	}
	return "[" + start + ", " + end + ")"
}
