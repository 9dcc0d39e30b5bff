package model

import (
	"time"

	"srules/internal/interval"
)

// Period is the API and calendar facing view of one occupied interval of a
// schedule.
type Period struct {
	Schedule string `json:"schedule,omitempty"`

	// InstanceKey uniquely identifies the period within its schedule,
	// derived from the local start and end times.
	InstanceKey string `json:"key"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	DurationMinutes float64 `json:"duration_minutes"`
	Instant         bool    `json:"instant,omitempty"`
}

const keyLayout = "20060102T150405"

// NewPeriod converts iv to the display timezone loc. A nil loc keeps the
// interval's own location.
func NewPeriod(schedule string, iv interval.Interval, loc *time.Location) Period {
	start, end := iv.Start, iv.End
	if loc != nil {
		start, end = start.In(loc), end.In(loc)
	}
	return Period{
		Schedule:        schedule,
		InstanceKey:     start.Format(keyLayout) + "/" + end.Format(keyLayout),
		Start:           start,
		End:             end,
		DurationMinutes: iv.Duration().Minutes(),
		Instant:         iv.IsInstant(),
	}
}

// Periods converts a whole occurrence list.
func Periods(schedule string, ivs []interval.Interval, loc *time.Location) []Period {
	out := make([]Period, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, NewPeriod(schedule, iv, loc))
	}
	return out
}

// SessionSummary describes one session of a composed schedule.
type SessionSummary struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Rules       int    `json:"rules"`
	Occurrences int    `json:"occurrences"`
}

// ScheduleSummary describes a composed schedule and its fold order.
type ScheduleSummary struct {
	Name         string           `json:"name"`
	AutoRefresh  bool             `json:"auto_refresh"`
	Sessions     []SessionSummary `json:"sessions"`
	Occurrences  int              `json:"occurrences"`
	TotalMinutes float64          `json:"total_minutes"`
	First        *Period          `json:"first,omitempty"`
	Last         *Period          `json:"last,omitempty"`
}
