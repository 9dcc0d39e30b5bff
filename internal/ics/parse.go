package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "srules/internal/log"
	"srules/internal/recurrence"
)

// ImportedRule is a VEVENT translated into recurrence specs. A VEVENT without
// RRULE becomes a single-anchor rule.
type ImportedRule struct {
	UID         string
	Summary     string
	Description string

	Spec     recurrence.Spec
	Duration time.Duration
	AllDay   bool

	// Excludes holds one single-anchor spec per EXDATE value.
	Excludes []recurrence.Spec
}

// Label names the rule in logs and session rule lists.
func (r ImportedRule) Label() string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.UID
}

// ParseRules parses a single ICS payload into rules.
//
//   - It relies on the underlying library's VTIMEZONE/TZID handling to
//     construct proper time.Time values (with Location set).
//   - It detects all-day events by inspecting the DTSTART value format.
//   - Overrides (RECURRENCE-ID) and RRULEs using parts a recurrence spec
//     cannot express are logged and skipped.
func ParseRules(src Source, body []byte) ([]ImportedRule, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	rules := make([]ImportedRule, 0)
	for _, ve := range cal.Events() {
		r, perr := parseVEvent(ve)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent skipped", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		rules = append(rules, r)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "rule_count", len(rules))
	return rules, nil
}

func parseVEvent(ve *ical.VEvent) (ImportedRule, error) {
	var out ImportedRule

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if ve.GetProperty("RECURRENCE-ID") != nil {
		return out, fmt.Errorf("event %s: overridden instances are not supported", out.UID)
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	out.AllDay = isDateValue(dtStart)

	var start, end time.Time
	var err error
	if out.AllDay {
		start, err = ve.GetAllDayStartAt()
		if err == nil {
			end, _ = ve.GetAllDayEndAt()
		}
	} else {
		start, err = ve.GetStartAt()
		if err == nil {
			end, _ = ve.GetEndAt()
		}
	}
	if err != nil {
		return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
	}

	switch {
	case end.After(start):
		out.Duration = end.Sub(start)
	case out.AllDay:
		out.Duration = 24 * time.Hour
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		opt, err := rrule.StrToROption(p.Value)
		if err != nil {
			return out, fmt.Errorf("event %s: RRULE: %w", out.UID, err)
		}
		opt.Dtstart = start
		out.Spec, err = recurrence.FromOption(*opt)
		if err != nil {
			return out, fmt.Errorf("event %s: %w", out.UID, err)
		}
	} else {
		out.Spec = single(start)
	}

	// EXDATE (can appear multiple times, each possibly a list)
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := start.Location()
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, loc)
			if err != nil {
				return out, fmt.Errorf("event %s: EXDATE %q: %w", out.UID, part, err)
			}
			out.Excludes = append(out.Excludes, single(t))
		}
	}

	return out, nil
}

func single(t time.Time) recurrence.Spec {
	return recurrence.Spec{Freq: rrule.DAILY, Start: t, Count: 1}
}

// isDateValue reports whether the property holds a DATE rather than a
// DATE-TIME: VALUE=DATE or no 'T' in the value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime parses a basic ICS date/date-time string. Floating and
// date-only values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
