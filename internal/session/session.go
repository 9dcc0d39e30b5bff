package session

import (
	"fmt"
	"slices"
	"time"

	"srules/internal/interval"
	appLog "srules/internal/log"
	"srules/internal/recurrence"
)

// DefaultDuration is the occurrence length of a session built without
// WithDuration.
const DefaultDuration = 60 * time.Minute

// Clock is the time of day every date-only rule of a session starts at.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) validate() error {
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("%w: %s", ErrInvalidClock, c)
	}
	return nil
}

// Rule is a labelled recurrence spec stored by a session, with the session
// clock and termination already applied.
type Rule struct {
	Label string
	Kind  Kind
	Spec  recurrence.Spec
}

// Session is a rule-backed occurrence set. Every rule shares the session's
// clock offset and occurrence duration. Each anchor t produced by the rules
// yields the occurrence [t, t+duration].
//
// Occurrences are the raw expansion: sorted by start, but two add rules that
// coincide may yield overlapping occurrences. Exclude rules drop anchors that
// match an add anchor exactly.
//
// A Session is not safe for concurrent mutation.
type Session struct {
	occurrenceSet

	name        string
	description string
	duration    time.Duration
	clock       Clock
	kind        Kind
	now         func() time.Time

	rules  []Rule
	source recurrence.Source
}

var _ Schedule = (*Session)(nil)

type Option func(*Session)

// WithDuration sets the length of every occurrence.
func WithDuration(d time.Duration) Option {
	return func(s *Session) { s.duration = d }
}

// WithClock sets the time of day applied to date-only rules.
func WithClock(hour, minute int) Option {
	return func(s *Session) { s.clock = Clock{Hour: hour, Minute: minute} }
}

// WithKind marks the session as add or exclude for composition.
func WithKind(k Kind) Option {
	return func(s *Session) { s.kind = k }
}

func WithDescription(d string) Option {
	return func(s *Session) { s.description = d }
}

// WithNow replaces the wall clock used to bound open-ended rules.
func WithNow(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a session with no rules and therefore no occurrences.
func New(name string, opts ...Option) (*Session, error) {
	s := &Session{
		name:     name,
		duration: DefaultDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.clock.validate(); err != nil {
		return nil, err
	}
	if s.duration < 0 {
		return nil, fmt.Errorf("session %q: negative duration %s", name, s.duration)
	}
	return s, nil
}

func (s *Session) Name() string            { return s.name }
func (s *Session) Description() string     { return s.description }
func (s *Session) Duration() time.Duration { return s.duration }
func (s *Session) Clock() Clock            { return s.clock }
func (s *Session) Kind() Kind              { return s.kind }

// Rules returns the stored rules in insertion order.
func (s *Session) Rules() []Rule {
	return slices.Clone(s.rules)
}

func (s *Session) occurrences() []interval.Interval {
	if s == nil {
		return nil
	}
	return s.occs
}

func (s *Session) Union(o Operand) *Calculated      { return Union(s, o) }
func (s *Session) Difference(o Operand) *Calculated { return Difference(s, o) }
func (s *Session) Intersect(o Operand) *Calculated  { return Intersect(s, o) }

// AddRule appends an add rule and recomputes the occurrences.
func (s *Session) AddRule(label string, spec recurrence.Spec) error {
	return s.appendRule(Rule{Label: label, Kind: Add, Spec: spec})
}

// ExcludeRule appends an exclude rule and recomputes the occurrences.
func (s *Session) ExcludeRule(label string, spec recurrence.Spec) error {
	return s.appendRule(Rule{Label: label, Kind: Exclude, Spec: spec})
}

func (s *Session) appendRule(r Rule) error {
	r.Spec = r.Spec.AtClock(s.clock.Hour, s.clock.Minute).Bounded(s.now())
	if err := r.Spec.Validate(); err != nil {
		return fmt.Errorf("session %q rule %q: %w", s.name, r.Label, err)
	}
	s.rules = append(s.rules, r)
	if err := s.Recompute(); err != nil {
		s.rules = s.rules[:len(s.rules)-1]
		return err
	}
	return nil
}

// Recompute rebuilds the occurrence list from the full rule list.
func (s *Session) Recompute() error {
	if len(s.rules) == 0 {
		s.source = nil
		s.occs = nil
		return nil
	}

	var include, exclude []recurrence.Spec
	for _, r := range s.rules {
		if r.Kind == Exclude {
			exclude = append(exclude, r.Spec)
		} else {
			include = append(include, r.Spec)
		}
	}

	src, err := recurrence.NewSet(include, exclude)
	if err != nil {
		return fmt.Errorf("session %q: %w", s.name, err)
	}

	anchors := src.All()
	occs := make([]interval.Interval, 0, len(anchors))
	for _, t := range anchors {
		occs = append(occs, interval.Span(t, s.duration))
	}
	interval.Sort(occs)

	s.source = src
	s.occs = occs

	appLog.Debug("session recomputed",
		"session", s.name,
		"rules", len(s.rules),
		"occurrences", len(occs),
	)
	return nil
}

// Next returns the occurrence containing t when inclusive, otherwise the
// occurrence of the first anchor strictly after t.
func (s *Session) Next(t time.Time, inclusive bool) (interval.Interval, bool) {
	if cur, ok := s.Find(interval.Instant(t)); ok && inclusive {
		return cur, true
	}
	if s.source == nil {
		return interval.Interval{}, false
	}
	anchor, ok := s.source.After(t, false)
	if !ok {
		return interval.Interval{}, false
	}
	return interval.Span(anchor, s.duration), true
}

// Prev returns the occurrence containing t when inclusive, otherwise the
// occurrence of the last anchor before t. When t is inside an occurrence,
// that occurrence's own anchor is skipped.
func (s *Session) Prev(t time.Time, inclusive bool) (interval.Interval, bool) {
	cur, in := s.Find(interval.Instant(t))
	if in && inclusive {
		return cur, true
	}
	if s.source == nil {
		return interval.Interval{}, false
	}
	ref := t
	if in {
		ref = cur.Start
	}
	anchor, ok := s.source.Before(ref, false)
	if !ok {
		return interval.Interval{}, false
	}
	return interval.Span(anchor, s.duration), true
}

// Between returns the occurrences whose anchors fall within [start, end],
// or (start, end) when not inclusive.
func (s *Session) Between(start, end time.Time, inclusive bool) *Calculated {
	if s.source == nil || end.Before(start) {
		return Empty()
	}
	anchors := s.source.Between(start, end, inclusive)
	occs := make([]interval.Interval, 0, len(anchors))
	for _, t := range anchors {
		occs = append(occs, interval.Span(t, s.duration))
	}
	return NewCalculated(occs)
}
