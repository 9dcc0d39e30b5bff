package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAtClockAppliesOnlyToDates(t *testing.T) {
	spec := Daily(date(2011, 8, 20), 6, date(2012, 8, 30)).AtClock(13, 30)
	assert.Equal(t, time.Date(2011, 8, 20, 13, 30, 0, 0, time.UTC), spec.Start)
	assert.Equal(t, time.Date(2012, 8, 30, 13, 30, 0, 0, time.UTC), spec.Until)
	assert.False(t, spec.DateOnly)

	dt := Spec{Freq: rrule.DAILY, Start: time.Date(2011, 8, 20, 9, 15, 0, 0, time.UTC)}
	assert.Equal(t, dt, dt.AtClock(13, 30))
}

func TestBoundedDefaultsToHorizon(t *testing.T) {
	now := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	open := Spec{Freq: rrule.DAILY, Start: date(2019, 1, 1)}
	assert.Equal(t, now.AddDate(DefaultHorizonYears, 0, 0), open.Bounded(now).Until)

	counted := Spec{Freq: rrule.DAILY, Start: date(2019, 1, 1), Count: 3}
	assert.True(t, counted.Bounded(now).Until.IsZero())
}

func TestValidate(t *testing.T) {
	assert.True(t, errors.Is(Spec{}.Validate(), ErrMissingStart))
	assert.True(t, errors.Is(Spec{Start: date(2011, 1, 1), Interval: -1}.Validate(), ErrInvalidSpec))
	assert.True(t, errors.Is(Spec{Start: date(2011, 1, 2), Until: date(2011, 1, 1)}.Validate(), ErrInvalidSpec))
	assert.NoError(t, Daily(date(2011, 1, 1), 1, date(2011, 2, 1)).Validate())
}

func TestSetExpandsAndExcludes(t *testing.T) {
	every := Daily(date(2011, 8, 20), 1, date(2011, 8, 26)).AtClock(8, 0)
	// every other day from the 21st drops the 21st, 23rd and 25th.
	skip := Daily(date(2011, 8, 21), 2, date(2011, 8, 26)).AtClock(8, 0)

	set, err := NewSet([]Spec{every}, []Spec{skip})
	require.NoError(t, err)

	got := set.All()
	want := []time.Time{
		time.Date(2011, 8, 20, 8, 0, 0, 0, time.UTC),
		time.Date(2011, 8, 22, 8, 0, 0, 0, time.UTC),
		time.Date(2011, 8, 24, 8, 0, 0, 0, time.UTC),
		time.Date(2011, 8, 26, 8, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, got)
}

func TestSetMergesEveryIncludeSpec(t *testing.T) {
	early := Daily(date(2011, 1, 1), 1, date(2011, 1, 3)).AtClock(9, 0)
	late := Daily(date(2011, 1, 10), 1, date(2011, 1, 12)).AtClock(9, 0)
	// shares the 2nd and 3rd with early
	overlap := Daily(date(2011, 1, 2), 1, date(2011, 1, 4)).AtClock(9, 0)
	// removes anchors of two different include specs
	holes := Daily(date(2011, 1, 3), 8, date(2011, 1, 11)).AtClock(9, 0)

	set, err := NewSet([]Spec{late, early, overlap}, []Spec{holes})
	require.NoError(t, err)

	at := func(d int) time.Time { return time.Date(2011, 1, d, 9, 0, 0, 0, time.UTC) }
	assert.Equal(t, []time.Time{at(1), at(2), at(4), at(10), at(12)}, set.All())

	next, ok := set.After(at(4), false)
	require.True(t, ok)
	assert.Equal(t, at(10), next)

	prev, ok := set.Before(at(10), false)
	require.True(t, ok)
	assert.Equal(t, at(4), prev)

	assert.Equal(t, []time.Time{at(2), at(4), at(10)}, set.Between(at(2), at(11), true))
}

func TestSetQueries(t *testing.T) {
	set, err := NewSet([]Spec{Daily(date(2011, 8, 20), 2, date(2011, 8, 30)).AtClock(10, 0)}, nil)
	require.NoError(t, err)

	anchor := time.Date(2011, 8, 22, 10, 0, 0, 0, time.UTC)

	next, ok := set.After(anchor, true)
	require.True(t, ok)
	assert.Equal(t, anchor, next)

	next, ok = set.After(anchor, false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2011, 8, 24, 10, 0, 0, 0, time.UTC), next)

	prev, ok := set.Before(anchor, false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2011, 8, 20, 10, 0, 0, 0, time.UTC), prev)

	_, ok = set.Before(time.Date(2011, 8, 1, 0, 0, 0, 0, time.UTC), true)
	assert.False(t, ok)

	_, ok = set.After(time.Date(2011, 9, 1, 0, 0, 0, 0, time.UTC), true)
	assert.False(t, ok)

	between := set.Between(date(2011, 8, 21), date(2011, 8, 25), true)
	assert.Len(t, between, 2)
}

func TestParseHelpers(t *testing.T) {
	f, err := ParseFreq("weekly")
	require.NoError(t, err)
	assert.Equal(t, rrule.WEEKLY, f)

	_, err = ParseFreq("fortnightly")
	assert.True(t, errors.Is(err, ErrInvalidSpec))

	wds, err := ParseWeekdays([]string{"mo", "FR"})
	require.NoError(t, err)
	assert.Equal(t, []rrule.Weekday{rrule.MO, rrule.FR}, wds)

	_, err = ParseWeekdays([]string{"XX"})
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}

func TestFromOption(t *testing.T) {
	opt, err := rrule.StrToROption("FREQ=MONTHLY;BYMONTHDAY=15;COUNT=3")
	require.NoError(t, err)
	opt.Dtstart = time.Date(2011, 8, 1, 9, 0, 0, 0, time.UTC)

	spec, err := FromOption(*opt)
	require.NoError(t, err)
	assert.Equal(t, []int{15}, spec.ByMonthDay)

	set, err := NewSet([]Spec{spec}, nil)
	require.NoError(t, err)
	all := set.All()
	require.Len(t, all, 3)
	assert.True(t, time.Date(2011, 8, 15, 9, 0, 0, 0, time.UTC).Equal(all[0]))
	assert.True(t, time.Date(2011, 10, 15, 9, 0, 0, 0, time.UTC).Equal(all[2]))

	opt, err = rrule.StrToROption("FREQ=MONTHLY;BYSETPOS=-1;BYDAY=FR")
	require.NoError(t, err)
	_, err = FromOption(*opt)
	assert.True(t, errors.Is(err, ErrInvalidSpec))
}
