package composer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"srules/internal/recurrence"
	"srules/internal/session"
)

func day(m time.Month, d int) time.Time {
	return time.Date(2011, m, d, 0, 0, 0, 0, time.UTC)
}

func at(m time.Month, d, h int) time.Time {
	return time.Date(2011, m, d, h, 0, 0, 0, time.UTC)
}

func work(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("Work8to18daily",
		session.WithDuration(10*time.Hour),
		session.WithClock(8, 0),
	)
	require.NoError(t, err)
	require.NoError(t, s.AddRule("weekdays and weekends", recurrence.Daily(day(time.March, 1), 1, day(time.May, 31))))
	return s
}

func holidays(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("HolidaysAprilFirstToThirteenth",
		session.WithDuration(24*time.Hour),
		session.WithKind(session.Exclude),
	)
	require.NoError(t, err)
	require.NoError(t, s.AddRule("april break", recurrence.Daily(day(time.April, 1), 1, day(time.April, 13))))
	return s
}

func extra(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New("ExtraSunday",
		session.WithDuration(3*time.Hour),
		session.WithClock(14, 0),
	)
	require.NoError(t, err)
	require.NoError(t, s.AddRule("one sunday", recurrence.Spec{Freq: rrule.DAILY, Start: day(time.April, 10), Count: 1, DateOnly: true}))
	return s
}

func TestWorkMinusHolidays(t *testing.T) {
	c := New("person", true)
	c.Add(work(t))
	c.Add(holidays(t))

	assert.False(t, c.Contains(at(time.April, 5, 10)), "holiday must exclude work hours")
	assert.True(t, c.Contains(at(time.April, 20, 10)))
	assert.True(t, c.Contains(at(time.March, 31, 10)))
	assert.False(t, c.Contains(at(time.April, 20, 19)))
}

func TestFoldOrderMatters(t *testing.T) {
	addFirst := New("add first", true)
	addFirst.Add(work(t))
	addFirst.Add(holidays(t))

	excludeFirst := New("exclude first", true)
	excludeFirst.Add(holidays(t))
	excludeFirst.Add(work(t))

	probe := at(time.April, 5, 10)
	assert.False(t, addFirst.Contains(probe))
	assert.True(t, excludeFirst.Contains(probe), "exclude against the empty set is a no-op")
	assert.False(t, session.Equal(addFirst.Result(), excludeFirst.Result()))
	assert.True(t, session.Equal(work(t), excludeFirst.Result()))
}

func TestLaterAddRestoresExcludedTime(t *testing.T) {
	c := New("person", true)
	c.Add(work(t))
	c.Add(holidays(t))
	c.Add(extra(t))

	assert.False(t, c.Contains(at(time.April, 10, 10)))
	assert.True(t, c.Contains(at(time.April, 10, 15)))
}

func TestMoveReordersAndRecomputes(t *testing.T) {
	c := New("person", true)
	c.Add(holidays(t))
	c.Add(work(t))
	require.True(t, c.Contains(at(time.April, 5, 10)))

	require.NoError(t, c.Move(0, 1))
	assert.Equal(t, "Work8to18daily", c.Sessions()[0].Name())
	assert.False(t, c.Contains(at(time.April, 5, 10)))

	assert.True(t, errors.Is(c.Move(0, 5), ErrOutOfRange))
	assert.True(t, errors.Is(c.Move(-1, 0), ErrOutOfRange))
}

func TestRemove(t *testing.T) {
	c := New("person", true)
	c.Add(work(t))
	c.Add(holidays(t))

	require.NoError(t, c.Remove("HolidaysAprilFirstToThirteenth"))
	assert.True(t, c.Contains(at(time.April, 5, 10)))
	assert.Len(t, c.Sessions(), 1)

	err := c.Remove("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, c.RemoveAt(0))
	assert.Zero(t, c.Len())
	assert.True(t, errors.Is(c.RemoveAt(0), ErrOutOfRange))
}

func TestManualRefresh(t *testing.T) {
	c := New("person", false)
	c.Add(work(t))
	assert.Zero(t, c.Len(), "result is stale until Recompute")

	res := c.Recompute()
	assert.Equal(t, res.Len(), c.Len())
	assert.True(t, c.Contains(at(time.April, 5, 10)))

	c.Add(holidays(t))
	assert.True(t, c.Contains(at(time.April, 5, 10)), "still the previous result")
	c.Recompute()
	assert.False(t, c.Contains(at(time.April, 5, 10)))
}

func TestQueriesDelegateToResult(t *testing.T) {
	c := New("person", true)
	c.Add(work(t))
	c.Add(holidays(t))

	next, ok := c.Next(at(time.March, 31, 20), false)
	require.True(t, ok)
	assert.Equal(t, at(time.April, 14, 8), next.Start)

	prev, ok := c.Prev(at(time.April, 14, 7), false)
	require.True(t, ok)
	assert.Equal(t, at(time.March, 31, 8), prev.Start)

	april := c.Between(day(time.April, 1), day(time.May, 1), true)
	assert.Equal(t, 17, april.Len())
	assert.Equal(t, time.Duration(c.Len())*10*time.Hour, c.TotalDuration())
}

func TestFoldCoalescesFromTheSecondEntry(t *testing.T) {
	shifts, err := session.New("Shifts", session.WithDuration(2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, shifts.AddRule("early", recurrence.Spec{Freq: rrule.DAILY, Start: at(time.March, 1, 8), Until: at(time.March, 3, 8)}))
	require.NoError(t, shifts.AddRule("late", recurrence.Spec{Freq: rrule.DAILY, Start: at(time.March, 1, 9), Until: at(time.March, 3, 9)}))

	alone := Fold([]Entry{shifts})
	assert.Equal(t, 6, alone.Len(), "a single entry keeps its overlapping occurrences")

	both := Fold([]Entry{shifts, extra(t)})
	require.Equal(t, 4, both.Len())
	assert.True(t, at(time.March, 1, 8).Equal(both.At(0).Start))
	assert.True(t, at(time.March, 1, 11).Equal(both.At(0).End))
}
