package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultHorizonYears bounds a spec that has neither Until nor Count.
const DefaultHorizonYears = 5

var (
	ErrMissingStart = errors.New("recurrence: spec has no start")
	ErrInvalidSpec  = errors.New("recurrence: invalid spec")
)

// Spec describes a repeating pattern of anchor timestamps.
type Spec struct {
	Freq     rrule.Frequency
	Start    time.Time
	Interval int // step between anchors in Freq units; 0 means 1
	Until    time.Time
	Count    int
	Weekdays []rrule.Weekday

	ByMonth    []int
	ByMonthDay []int

	// DateOnly marks Start and Until as calendar dates. The owning session
	// supplies the time of day through AtClock.
	DateOnly bool
}

// Daily is a convenience for the common "every n days from a date" pattern.
func Daily(start time.Time, every int, until time.Time) Spec {
	return Spec{
		Freq:     rrule.DAILY,
		Start:    start,
		Interval: every,
		Until:    until,
		DateOnly: true,
	}
}

// AtClock returns a copy with the clock time applied to Start and Until when
// the spec is date-only. Date-time specs are returned unchanged.
func (s Spec) AtClock(hour, minute int) Spec {
	if !s.DateOnly {
		return s
	}
	out := s
	out.Start = atClock(s.Start, hour, minute)
	if !s.Until.IsZero() {
		out.Until = atClock(s.Until, hour, minute)
	}
	out.DateOnly = false
	return out
}

func atClock(t time.Time, hour, minute int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, t.Location())
}

// Bounded returns a copy whose termination is explicit: specs with neither
// Until nor Count end DefaultHorizonYears after now.
func (s Spec) Bounded(now time.Time) Spec {
	if !s.Until.IsZero() || s.Count > 0 {
		return s
	}
	out := s
	out.Until = now.In(locationOf(s.Start)).AddDate(DefaultHorizonYears, 0, 0)
	return out
}

func locationOf(t time.Time) *time.Location {
	if t.Location() == nil {
		return time.Local
	}
	return t.Location()
}

// Validate checks the fields rrule-go does not.
func (s Spec) Validate() error {
	if s.Start.IsZero() {
		return ErrMissingStart
	}
	if s.Interval < 0 {
		return fmt.Errorf("%w: negative interval %d", ErrInvalidSpec, s.Interval)
	}
	if s.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrInvalidSpec, s.Count)
	}
	if !s.Until.IsZero() && s.Until.Before(s.Start) {
		return fmt.Errorf("%w: until %s before start %s", ErrInvalidSpec,
			s.Until.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	}
	return nil
}

func (s Spec) option() rrule.ROption {
	return rrule.ROption{
		Freq:       s.Freq,
		Dtstart:    s.Start,
		Interval:   s.Interval,
		Until:      s.Until,
		Count:      s.Count,
		Byweekday:  s.Weekdays,
		Bymonth:    s.ByMonth,
		Bymonthday: s.ByMonthDay,
	}
}

// RRule builds the rrule-go rule for the spec.
func (s Spec) RRule() (*rrule.RRule, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(s.option())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	return r, nil
}

// String renders the spec as an RRULE line, useful in logs.
func (s Spec) String() string {
	opt := s.option()
	return opt.RRuleString()
}

// FromOption converts a parsed RRULE into a Spec. Rules using parts a Spec
// cannot carry (BYSETPOS, BYYEARDAY, BYWEEKNO, BYHOUR, BYMINUTE, BYSECOND,
// BYEASTER) are rejected rather than silently widened.
func FromOption(opt rrule.ROption) (Spec, error) {
	unsupported := len(opt.Bysetpos) + len(opt.Byyearday) + len(opt.Byweekno) +
		len(opt.Byhour) + len(opt.Byminute) + len(opt.Bysecond) + len(opt.Byeaster)
	if unsupported > 0 {
		return Spec{}, fmt.Errorf("%w: unsupported parts in %q", ErrInvalidSpec, opt.RRuleString())
	}
	s := Spec{
		Freq:       opt.Freq,
		Start:      opt.Dtstart,
		Interval:   opt.Interval,
		Until:      opt.Until,
		Count:      opt.Count,
		Weekdays:   opt.Byweekday,
		ByMonth:    opt.Bymonth,
		ByMonthDay: opt.Bymonthday,
	}
	return s, nil
}

// ParseFreq accepts RRULE frequency names case-insensitively.
func ParseFreq(v string) (rrule.Frequency, error) {
	f, err := rrule.StrToFreq(strings.ToUpper(strings.TrimSpace(v)))
	if err != nil {
		return 0, fmt.Errorf("%w: frequency %q", ErrInvalidSpec, v)
	}
	return f, nil
}

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

// ParseWeekdays accepts two-letter RRULE day codes ("MO", "tu", ...).
func ParseWeekdays(vs []string) ([]rrule.Weekday, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]rrule.Weekday, 0, len(vs))
	for _, v := range vs {
		wd, ok := weekdays[strings.ToUpper(strings.TrimSpace(v))]
		if !ok {
			return nil, fmt.Errorf("%w: weekday %q", ErrInvalidSpec, v)
		}
		out = append(out, wd)
	}
	return out, nil
}
