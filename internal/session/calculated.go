package session

import (
	"time"

	"srules/internal/interval"
)

// Calculated is a static occurrence set produced by the algebra. It has no
// backing rules and never changes after construction, so it can be shared
// freely between goroutines.
type Calculated struct {
	occurrenceSet
}

var _ Schedule = (*Calculated)(nil)

// NewCalculated sorts a copy of ivs into a new Calculated.
func NewCalculated(ivs []interval.Interval) *Calculated {
	return &Calculated{occurrenceSet{occs: interval.Sorted(ivs)}}
}

// Empty returns a Calculated with no occurrences.
func Empty() *Calculated {
	return &Calculated{}
}

// newSorted wraps a list the caller guarantees is sorted and owned.
func newSorted(ivs []interval.Interval) *Calculated {
	return &Calculated{occurrenceSet{occs: ivs}}
}

func (c *Calculated) occurrences() []interval.Interval {
	if c == nil {
		return nil
	}
	return c.occs
}

func (c *Calculated) Union(o Operand) *Calculated      { return Union(c, o) }
func (c *Calculated) Difference(o Operand) *Calculated { return Difference(c, o) }
func (c *Calculated) Intersect(o Operand) *Calculated  { return Intersect(c, o) }

// Next returns the occurrence containing t when inclusive, otherwise the
// first occurrence starting after t. A t earlier than every occurrence
// yields the first one rather than no result.
func (c *Calculated) Next(t time.Time, inclusive bool) (interval.Interval, bool) {
	for _, occ := range c.occs {
		if inclusive && occ.ContainsTime(t) {
			return occ, true
		}
		if occ.Start.After(t) {
			return occ, true
		}
	}
	return interval.Interval{}, false
}

// Prev returns the occurrence containing t when inclusive, otherwise the
// last occurrence that ended before t. A t later than every occurrence
// yields the last one rather than no result.
func (c *Calculated) Prev(t time.Time, inclusive bool) (interval.Interval, bool) {
	var last interval.Interval
	found := false
	for _, occ := range c.occs {
		if inclusive && occ.ContainsTime(t) {
			return occ, true
		}
		if occ.Start.After(t) {
			break
		}
		if occ.End.Before(t) {
			last, found = occ, true
		}
	}
	return last, found
}

// Between returns the occurrences touching [start, end] when inclusive, or
// lying strictly inside (start, end) otherwise.
func (c *Calculated) Between(start, end time.Time, inclusive bool) *Calculated {
	if end.Before(start) {
		return Empty()
	}
	window := interval.Interval{Start: start, End: end}
	var out []interval.Interval
	for _, occ := range c.occs {
		if inclusive {
			if _, ok := interval.Overlap(occ, window); ok {
				out = append(out, occ)
			}
			continue
		}
		if occ.Start.After(start) && occ.End.Before(end) {
			out = append(out, occ)
		}
	}
	return newSorted(out)
}
