package interval

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidInterval is returned when an interval would end before it starts.
var ErrInvalidInterval = errors.New("interval: start is after end")

// Interval is a closed time range [Start, End].
//
// Start == End is allowed and describes a single instant; the algebra uses
// such instants to test point membership.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New builds an Interval, rejecting start > end.
func New(start, end time.Time) (Interval, error) {
	if start.After(end) {
		return Interval{}, fmt.Errorf("%w: %s > %s", ErrInvalidInterval,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Interval{Start: start, End: end}, nil
}

// Instant returns the zero-length interval [t, t].
func Instant(t time.Time) Interval {
	return Interval{Start: t, End: t}
}

// Span returns [start, start+d]. A negative d is treated as zero.
func Span(start time.Time, d time.Duration) Interval {
	if d < 0 {
		d = 0
	}
	return Interval{Start: start, End: start.Add(d)}
}

// Equal reports whether both endpoints match.
func (i Interval) Equal(o Interval) bool {
	return i.Start.Equal(o.Start) && i.End.Equal(o.End)
}

// Duration is End - Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// IsInstant reports whether the interval has zero length.
func (i Interval) IsInstant() bool {
	return i.Start.Equal(i.End)
}

// Contains reports whether o lies within i, both ends inclusive.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// ContainsTime reports whether t lies within i, both ends inclusive.
func (i Interval) ContainsTime(t time.Time) bool {
	return i.Contains(Instant(t))
}

func (i Interval) String() string {
	return i.Start.Format("2006-01-02 15:04:05") + " --> " + i.End.Format("2006-01-02 15:04:05")
}

// Overlap returns the intersection of a and b. Touching endpoints count as
// overlap and yield an instant.
func Overlap(a, b Interval) (Interval, bool) {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	if start.After(end) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Merge returns the hull of a and b when they overlap. When they do not,
// ok is false and the caller keeps both operands unchanged.
func Merge(a, b Interval) (merged Interval, ok bool) {
	if _, ok := Overlap(a, b); !ok {
		return Interval{}, false
	}
	start := a.Start
	if b.Start.Before(start) {
		start = b.Start
	}
	end := a.End
	if b.End.After(end) {
		end = b.End
	}
	return Interval{Start: start, End: end}, true
}

// Difference returns a minus b.
//
//   - a == b, or a inside b: nil.
//   - b strictly inside a: up to two fragments [a.Start, b.Start] and
//     [b.End, a.End]. The cut points stay closed, so b's boundary instants
//     belong to both the fragments and b. A fragment collapsing to a single
//     instant (b sharing an endpoint with a) is dropped.
//   - partial overlap: the part of a outside b, closed at the cut.
//   - disjoint: a alone.
func Difference(a, b Interval) []Interval {
	if a.Equal(b) || b.Contains(a) {
		return nil
	}
	if _, ok := Overlap(a, b); !ok {
		return []Interval{a}
	}
	if a.Contains(b) {
		out := make([]Interval, 0, 2)
		if a.Start.Before(b.Start) {
			out = append(out, Interval{Start: a.Start, End: b.Start})
		}
		if b.End.Before(a.End) {
			out = append(out, Interval{Start: b.End, End: a.End})
		}
		return out
	}
	if !a.Start.After(b.Start) {
		return []Interval{{Start: a.Start, End: b.Start}}
	}
	return []Interval{{Start: b.End, End: a.End}}
}

// Compare orders by start, then by end so equal-start intervals sort
// deterministically.
func Compare(a, b Interval) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}

// Sort sorts ivs in place by Compare.
func Sort(ivs []Interval) {
	slices.SortStableFunc(ivs, Compare)
}

// Sorted returns a sorted copy of ivs.
func Sorted(ivs []Interval) []Interval {
	out := slices.Clone(ivs)
	Sort(out)
	return out
}
