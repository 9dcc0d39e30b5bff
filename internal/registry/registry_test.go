package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"srules/internal/config"
	"srules/internal/ics"
)

const standup = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20110301T000000Z
DTSTART:20110301T090000Z
DTEND:20110301T091500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20110303T090000Z
SUMMARY:Standup
END:VEVENT
END:VCALENDAR
`

const meetings = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup@example.com
DTSTAMP:20110301T000000Z
DTSTART:20110301T090000Z
DTEND:20110301T091500Z
RRULE:FREQ=DAILY;COUNT=10
EXDATE:20110303T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:review@example.com
DTSTAMP:20110301T000000Z
DTSTART:20110310T140000Z
DTEND:20110310T150000Z
RRULE:FREQ=WEEKLY;COUNT=3
EXDATE:20110317T140000Z
SUMMARY:Review
END:VEVENT
END:VCALENDAR
`

func fixedNow() time.Time { return time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC) }

func person() config.ScheduleConfig {
	return config.ScheduleConfig{
		Name: "person",
		Sessions: []config.SessionConfig{
			{
				Name:            "Work8to18daily",
				Start:           "08:00",
				DurationMinutes: 600,
				Rules: []config.RuleConfig{{
					Label: "spring", Freq: "DAILY", From: "2011-03-01", Until: "2011-05-31",
				}},
			},
			{
				Name:            "HolidaysAprilFirstToThirteenth",
				Kind:            "exclude",
				Start:           "00:00",
				DurationMinutes: 1440,
				Rules: []config.RuleConfig{{
					Label: "break", Freq: "DAILY", From: "2011-04-01", Until: "2011-04-13",
				}},
			},
		},
	}
}

func testConfig(schedules ...config.ScheduleConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Schedules = schedules
	cfg.Normalize()
	return cfg
}

func at(m time.Month, d, h int) time.Time {
	return time.Date(2011, m, d, h, 0, 0, 0, time.UTC)
}

func TestReloadBuildsComposedSchedules(t *testing.T) {
	r := New(nil, WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(person())))

	s, err := r.Get("person")
	require.NoError(t, err)
	assert.False(t, s.Result.Contains(at(time.April, 5, 10)))
	assert.True(t, s.Result.Contains(at(time.April, 20, 10)))
	require.Len(t, s.Sessions, 2)
	assert.Equal(t, "exclude", s.Sessions[1].Kind)
	assert.Equal(t, 13, s.Sessions[1].Occurrences)

	sum := s.Summary()
	assert.Equal(t, s.Result.Len(), sum.Occurrences)
	require.NotNil(t, sum.First)
	assert.Equal(t, 8, sum.First.Start.Hour())

	_, err = r.Get("nobody")
	assert.True(t, errors.Is(err, ErrUnknownSchedule))
}

func TestManualRefreshScheduleIsStillComputed(t *testing.T) {
	sc := person()
	manual := false
	sc.AutoRefresh = &manual

	r := New(nil, WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(sc)))

	s, err := r.Get("person")
	require.NoError(t, err)
	assert.False(t, s.AutoRefresh)
	assert.True(t, s.Result.Contains(at(time.April, 20, 10)))
}

func TestICSBackedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standup.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(standup, "\n", "\r\n")), 0o600))

	sc := config.ScheduleConfig{
		Name:     "meetings",
		Sessions: []config.SessionConfig{{Name: "Standup", ICS: path}},
	}
	r := New(ics.NewLoader(nil), WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(sc)))

	s, err := r.Get("meetings")
	require.NoError(t, err)
	assert.Equal(t, 9, s.Result.Len(), "EXDATE drops one of ten anchors")
	assert.Equal(t, 15*time.Minute, s.Result.At(0).Duration(), "duration comes from the event")
	assert.False(t, s.Result.Contains(time.Date(2011, 3, 3, 9, 5, 0, 0, time.UTC)))
}

func TestICSEventsAndRulesShareOneSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meetings.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(meetings, "\n", "\r\n")), 0o600))

	sc := config.ScheduleConfig{
		Name: "meetings",
		Sessions: []config.SessionConfig{{
			Name:  "Meetings",
			Start: "16:00",
			ICS:   path,
			Rules: []config.RuleConfig{{
				Label: "retro", Freq: "DAILY", From: "2011-04-01", Until: "2011-04-02",
			}},
		}},
	}
	r := New(ics.NewLoader(nil), WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(sc)))

	s, err := r.Get("meetings")
	require.NoError(t, err)
	// 9 standups, 2 reviews, 2 retros
	assert.Equal(t, 13, s.Result.Len())

	minute := func(m time.Month, d, h int) time.Time { return at(m, d, h).Add(5 * time.Minute) }
	assert.True(t, s.Result.Contains(minute(time.March, 1, 9)), "first event")
	assert.False(t, s.Result.Contains(minute(time.March, 3, 9)), "first event EXDATE")
	assert.True(t, s.Result.Contains(minute(time.March, 10, 14)), "second event")
	assert.False(t, s.Result.Contains(minute(time.March, 17, 14)), "second event EXDATE")
	assert.True(t, s.Result.Contains(minute(time.March, 24, 14)))
	assert.True(t, s.Result.Contains(minute(time.April, 2, 16)), "config rule")
}

func TestFailedScheduleKeepsPreviousSnapshot(t *testing.T) {
	r := New(nil, WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(person())))
	before, err := r.Get("person")
	require.NoError(t, err)

	broken := person()
	broken.Sessions = append(broken.Sessions, config.SessionConfig{
		Name: "Remote", ICS: filepath.Join(t.TempDir(), "missing.ics"),
	})
	orphan := config.ScheduleConfig{
		Name:     "orphan",
		Sessions: []config.SessionConfig{{Name: "Bad", Start: "99:99", Rules: person().Sessions[0].Rules}},
	}

	err = r.Reload(context.Background(), testConfig(broken, orphan))
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	after, err := r.Get("person")
	require.NoError(t, err)
	assert.Same(t, before.Result, after.Result)

	_, err = r.Get("orphan")
	assert.True(t, errors.Is(err, ErrUnknownSchedule), "a schedule never built has no snapshot")

	names := make([]string, 0)
	for _, s := range r.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"person"}, names)
}

func TestReloadDropsRemovedSchedules(t *testing.T) {
	r := New(nil, WithNow(fixedNow))
	require.NoError(t, r.Reload(context.Background(), testConfig(person())))
	require.NoError(t, r.Reload(context.Background(), testConfig()))
	assert.Empty(t, r.List())
}
