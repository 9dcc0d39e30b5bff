package composer

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"srules/internal/interval"
	appLog "srules/internal/log"
	"srules/internal/session"
)

var (
	ErrNotFound   = errors.New("composer: session not found")
	ErrOutOfRange = errors.New("composer: position out of range")
)

// Entry is a named occurrence set taking part in a composition as an add or
// an exclude. *session.Session satisfies it.
type Entry interface {
	session.Operand
	Name() string
	Kind() session.Kind
}

// Composer folds an ordered list of sessions into one occupancy set.
// Starting from the empty set, each add session is united with the running
// result and each exclude session is subtracted from it. The fold is order
// dependent: an exclude placed before any add removes nothing.
//
// With auto refresh on, every structural change recomputes the result;
// otherwise Result is only current right after Recompute.
//
// A Composer is not safe for concurrent mutation. Its result is a
// *session.Calculated and may be shared once obtained.
type Composer struct {
	name        string
	autoRefresh bool
	entries     []Entry
	result      *session.Calculated
}

func New(name string, autoRefresh bool) *Composer {
	return &Composer{
		name:        name,
		autoRefresh: autoRefresh,
		result:      session.Empty(),
	}
}

func (c *Composer) Name() string      { return c.name }
func (c *Composer) AutoRefresh() bool { return c.autoRefresh }

// Sessions returns the entries in fold order.
func (c *Composer) Sessions() []Entry {
	return slices.Clone(c.entries)
}

// Add appends e at the end of the fold order.
func (c *Composer) Add(e Entry) {
	c.entries = append(c.entries, e)
	c.refresh()
}

// RemoveAt removes the entry at position i.
func (c *Composer) RemoveAt(i int) error {
	if i < 0 || i >= len(c.entries) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, len(c.entries))
	}
	c.entries = slices.Delete(c.entries, i, i+1)
	c.refresh()
	return nil
}

// Remove removes the first entry called name.
func (c *Composer) Remove(name string) error {
	i := slices.IndexFunc(c.entries, func(e Entry) bool { return e.Name() == name })
	if i < 0 {
		return fmt.Errorf("%w: %q in %q", ErrNotFound, name, c.name)
	}
	return c.RemoveAt(i)
}

// Move takes the entry at from out of the order and reinserts it at to.
func (c *Composer) Move(from, to int) error {
	n := len(c.entries)
	if from < 0 || from >= n {
		return fmt.Errorf("%w: from %d not in [0, %d)", ErrOutOfRange, from, n)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("%w: to %d not in [0, %d)", ErrOutOfRange, to, n)
	}
	e := c.entries[from]
	c.entries = slices.Delete(c.entries, from, from+1)
	c.entries = slices.Insert(c.entries, to, e)
	c.refresh()
	return nil
}

func (c *Composer) refresh() {
	if c.autoRefresh {
		c.Recompute()
	}
}

// Recompute folds the entries and stores the result.
func (c *Composer) Recompute() *session.Calculated {
	c.result = Fold(c.entries)
	appLog.Debug("composer recomputed",
		"composer", c.name,
		"sessions", len(c.entries),
		"occurrences", c.result.Len(),
	)
	return c.result
}

// Fold left-folds entries from the empty set. A single add entry comes back
// as its own occurrences, which may still overlap; the result is coalesced
// once a second entry is folded in.
func Fold(entries []Entry) *session.Calculated {
	result := session.Empty()
	for _, e := range entries {
		if e.Kind() == session.Exclude {
			result = result.Difference(e)
		} else {
			result = result.Union(e)
		}
	}
	return result
}

// Result returns the last computed occupancy set.
func (c *Composer) Result() *session.Calculated {
	return c.result
}

func (c *Composer) Occurrences() []interval.Interval { return c.result.Occurrences() }
func (c *Composer) Len() int                         { return c.result.Len() }
func (c *Composer) TotalDuration() time.Duration     { return c.result.TotalDuration() }
func (c *Composer) Contains(t time.Time) bool        { return c.result.Contains(t) }

func (c *Composer) Find(iv interval.Interval) (interval.Interval, bool) {
	return c.result.Find(iv)
}

func (c *Composer) Next(t time.Time, inclusive bool) (interval.Interval, bool) {
	return c.result.Next(t, inclusive)
}

func (c *Composer) Prev(t time.Time, inclusive bool) (interval.Interval, bool) {
	return c.result.Prev(t, inclusive)
}

func (c *Composer) Between(start, end time.Time, inclusive bool) *session.Calculated {
	return c.result.Between(start, end, inclusive)
}
