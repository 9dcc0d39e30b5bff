package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Source expands recurrence specs into anchor timestamps. All sequences are
// ascending and free of duplicates.
type Source interface {
	All() []time.Time
	After(t time.Time, inclusive bool) (time.Time, bool)
	Before(t time.Time, inclusive bool) (time.Time, bool)
	Between(start, end time.Time, inclusive bool) []time.Time
}

// Set is a Source backed by an rrule-go set. An rrule.Set carries a single
// RRULE, so every include spec is expanded into RDATEs and every exclude
// spec into EXDATEs. Anchors of exclude specs are removed from the anchors
// of include specs when they coincide exactly.
type Set struct {
	set rrule.Set
}

// NewSet builds a Set from include and exclude specs. Specs must already be
// bounded (Until or Count) and carry a time of day.
func NewSet(include, exclude []Spec) (*Set, error) {
	rdates, err := expandAll(include)
	if err != nil {
		return nil, err
	}
	exdates, err := expandAll(exclude)
	if err != nil {
		return nil, err
	}

	s := &Set{}
	s.set.SetRDates(rdates)
	s.set.SetExDates(exdates)
	return s, nil
}

// expandAll returns the anchors of every spec in one slice. Ordering and
// duplicates are left to the set iterator.
func expandAll(specs []Spec) ([]time.Time, error) {
	var out []time.Time
	for _, spec := range specs {
		r, err := spec.RRule()
		if err != nil {
			return nil, err
		}
		out = append(out, r.All()...)
	}
	return out, nil
}

// All returns every anchor of the set.
func (s *Set) All() []time.Time {
	return s.set.All()
}

// After returns the first anchor after t (or at t when inclusive).
func (s *Set) After(t time.Time, inclusive bool) (time.Time, bool) {
	next := s.set.After(t, inclusive)
	return next, !next.IsZero()
}

// Before returns the last anchor before t (or at t when inclusive).
func (s *Set) Before(t time.Time, inclusive bool) (time.Time, bool) {
	prev := s.set.Before(t, inclusive)
	return prev, !prev.IsZero()
}

// Between returns anchors within [start, end], or (start, end) when not
// inclusive.
func (s *Set) Between(start, end time.Time, inclusive bool) []time.Time {
	return s.set.Between(start, end, inclusive)
}
