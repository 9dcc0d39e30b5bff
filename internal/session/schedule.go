package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"srules/internal/interval"
)

var (
	// ErrUnsupportedOperand is returned by AsOperand and Combine for values
	// the algebra cannot combine.
	ErrUnsupportedOperand = errors.New("session: unsupported operand")
	// ErrInvalidClock is returned for a clock offset outside 00:00-23:59.
	ErrInvalidClock = errors.New("session: invalid clock offset")
)

// Operand is anything the algebra accepts: *Session, *Calculated, Span and
// Point. A nil Operand is the empty set.
type Operand interface {
	occurrences() []interval.Interval
}

// Schedule is the read-only query surface shared by rule-backed sessions and
// calculated results.
type Schedule interface {
	Operand
	Occurrences() []interval.Interval
	Len() int
	Contains(t time.Time) bool
	Find(iv interval.Interval) (interval.Interval, bool)
	Next(t time.Time, inclusive bool) (interval.Interval, bool)
	Prev(t time.Time, inclusive bool) (interval.Interval, bool)
	Between(start, end time.Time, inclusive bool) *Calculated
	TotalDuration() time.Duration
}

// Kind flags how a session takes part in a composition.
type Kind int

const (
	Add Kind = iota
	Exclude
)

func (k Kind) String() string {
	switch k {
	case Exclude:
		return "exclude"
	default:
		return "add"
	}
}

// ParseKind accepts "add" and "exclude"; empty means add.
func ParseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "add":
		return Add, nil
	case "exclude":
		return Exclude, nil
	default:
		return Add, fmt.Errorf("session: unknown kind %q", v)
	}
}

// Span turns a single interval into an Operand.
type Span interval.Interval

func (s Span) occurrences() []interval.Interval {
	return []interval.Interval{interval.Interval(s)}
}

// Point turns an instant into an Operand; it behaves as [t, t].
type Point time.Time

func (p Point) occurrences() []interval.Interval {
	return []interval.Interval{interval.Instant(time.Time(p))}
}

// AsOperand converts v into an Operand. Accepted: nil, any Operand,
// interval.Interval, time.Time and []interval.Interval.
func AsOperand(v any) (Operand, error) {
	switch o := v.(type) {
	case nil:
		return nil, nil
	case Operand:
		return o, nil
	case interval.Interval:
		return Span(o), nil
	case time.Time:
		return Point(o), nil
	case []interval.Interval:
		return NewCalculated(o), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedOperand, v)
	}
}

func occurrencesOf(o Operand) []interval.Interval {
	if o == nil {
		return nil
	}
	return o.occurrences()
}

// Equal reports whether a and b hold the same occurrences in the same order.
func Equal(a, b Operand) bool {
	return slices.EqualFunc(occurrencesOf(a), occurrencesOf(b), interval.Interval.Equal)
}

// occurrenceSet holds the sorted occurrence list and answers the queries
// that do not depend on how the list was produced.
type occurrenceSet struct {
	occs []interval.Interval
}

// Occurrences returns a copy of the sorted occurrence list.
func (s *occurrenceSet) Occurrences() []interval.Interval {
	return slices.Clone(s.occs)
}

// Len is the number of occurrences, not their total duration.
func (s *occurrenceSet) Len() int {
	return len(s.occs)
}

// At returns the i-th occurrence.
func (s *occurrenceSet) At(i int) interval.Interval {
	return s.occs[i]
}

// Contains reports whether t falls inside any occurrence.
func (s *occurrenceSet) Contains(t time.Time) bool {
	_, ok := s.Find(interval.Instant(t))
	return ok
}

// Find returns the first occurrence that wholly contains iv.
func (s *occurrenceSet) Find(iv interval.Interval) (interval.Interval, bool) {
	for _, occ := range s.occs {
		if occ.Contains(iv) {
			return occ, true
		}
	}
	return interval.Interval{}, false
}

// TotalDuration sums the occurrence durations.
func (s *occurrenceSet) TotalDuration() time.Duration {
	var total time.Duration
	for _, occ := range s.occs {
		total += occ.Duration()
	}
	return total
}
