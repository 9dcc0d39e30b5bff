package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"

	"srules/internal/composer"
	"srules/internal/config"
	"srules/internal/ics"
	appLog "srules/internal/log"
	"srules/internal/model"
	"srules/internal/session"
)

var ErrUnknownSchedule = errors.New("registry: unknown schedule")

// Schedule is an immutable snapshot of one composed schedule. It may be used
// without holding any lock.
type Schedule struct {
	Name        string
	AutoRefresh bool
	Sessions    []model.SessionSummary
	Result      *session.Calculated
	Location    *time.Location
	BuiltAt     time.Time
}

// Summary describes the snapshot for listings.
func (s Schedule) Summary() model.ScheduleSummary {
	out := model.ScheduleSummary{
		Name:         s.Name,
		AutoRefresh:  s.AutoRefresh,
		Sessions:     s.Sessions,
		Occurrences:  s.Result.Len(),
		TotalMinutes: s.Result.TotalDuration().Minutes(),
	}
	if n := s.Result.Len(); n > 0 {
		first := model.NewPeriod(s.Name, s.Result.At(0), s.Location)
		last := model.NewPeriod(s.Name, s.Result.At(n-1), s.Location)
		out.First, out.Last = &first, &last
	}
	return out
}

// Registry holds the named schedules served by the process. Reload swaps
// in freshly built schedules under the write lock; readers only ever see
// complete snapshots.
type Registry struct {
	loader *ics.Loader
	now    func() time.Time

	mu        sync.RWMutex
	schedules map[string]Schedule
	order     []string
}

type Option func(*Registry)

// WithNow replaces the wall clock used to bound open-ended rules.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(loader *ics.Loader, opts ...Option) *Registry {
	if loader == nil {
		loader = ics.NewLoader(nil)
	}
	r := &Registry{
		loader:    loader,
		now:       time.Now,
		schedules: make(map[string]Schedule),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload builds every schedule of cfg. A schedule that fails to build keeps
// its previous snapshot, if any; schedules no longer in cfg are dropped.
// The returned error aggregates every failure.
func (r *Registry) Reload(ctx context.Context, cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	built := make(map[string]Schedule, len(cfg.Schedules))
	order := make([]string, 0, len(cfg.Schedules))
	var errs error
	for _, sc := range cfg.Schedules {
		order = append(order, sc.Name)
		s, err := r.build(ctx, sc, loc)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: %w", sc.Name, err))
			continue
		}
		built[sc.Name] = s
	}

	r.mu.Lock()
	for _, name := range order {
		if _, ok := built[name]; ok {
			continue
		}
		if prev, ok := r.schedules[name]; ok {
			built[name] = prev
		}
	}
	r.order = slices.DeleteFunc(order, func(name string) bool {
		_, ok := built[name]
		return !ok
	})
	r.schedules = built
	r.mu.Unlock()

	if errs != nil {
		appLog.Error("registry reload incomplete", errs, "schedules", len(built), "failed", len(multierr.Errors(errs)))
	} else {
		appLog.Info("registry reloaded", "schedules", len(built))
	}
	return errs
}

// Get returns the snapshot of the named schedule.
func (r *Registry) Get(name string) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[name]
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	return s, nil
}

// List returns every snapshot in config order.
func (r *Registry) List() []Schedule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schedule, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.schedules[name])
	}
	return out
}

func (r *Registry) build(ctx context.Context, sc config.ScheduleConfig, loc *time.Location) (Schedule, error) {
	c := composer.New(sc.Name, sc.AutoRefreshEnabled())
	summaries := make([]model.SessionSummary, 0, len(sc.Sessions))

	var errs error
	for _, ssc := range sc.Sessions {
		s, err := BuildSession(ctx, ssc, loc, r.loader, r.now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		c.Add(s)
		summaries = append(summaries, model.SessionSummary{
			Name:        s.Name(),
			Kind:        s.Kind().String(),
			Description: s.Description(),
			Rules:       len(s.Rules()),
			Occurrences: s.Len(),
		})
	}
	if errs != nil {
		return Schedule{}, errs
	}

	result := c.Result()
	if !c.AutoRefresh() {
		result = c.Recompute()
	}
	return Schedule{
		Name:        sc.Name,
		AutoRefresh: c.AutoRefresh(),
		Sessions:    summaries,
		Result:      result,
		Location:    loc,
		BuiltAt:     r.now(),
	}, nil
}

// BuildSession creates a session from its config, importing the rules of its
// ICS source when one is set. A session with no configured duration takes the
// duration of its first imported event.
func BuildSession(ctx context.Context, sc config.SessionConfig, loc *time.Location, loader *ics.Loader, now func() time.Time) (*session.Session, error) {
	hour, minute, err := config.ParseClock(sc.Start)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sc.Name, err)
	}
	kind, err := session.ParseKind(sc.Kind)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sc.Name, err)
	}

	var imported []ics.ImportedRule
	if sc.ICS != "" {
		imported, err = loader.LoadRules(ctx, ics.Source{ID: sc.Name, URL: sc.ICS})
		if err != nil {
			return nil, fmt.Errorf("session %q: %w", sc.Name, err)
		}
	}

	duration := sc.Duration()
	if duration == 0 && len(imported) > 0 {
		duration = imported[0].Duration
	}

	s, err := session.New(sc.Name,
		session.WithDuration(duration),
		session.WithClock(hour, minute),
		session.WithKind(kind),
		session.WithDescription(sc.Description),
		session.WithNow(now),
	)
	if err != nil {
		return nil, err
	}

	for _, rc := range sc.Rules {
		spec, err := rc.Spec(loc)
		if err != nil {
			return nil, fmt.Errorf("session %q rule %q: %w", sc.Name, rc.Label, err)
		}
		if rc.Exclude {
			err = s.ExcludeRule(rc.Label, spec)
		} else {
			err = s.AddRule(rc.Label, spec)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, ir := range imported {
		if err := s.AddRule(ir.Label(), ir.Spec); err != nil {
			return nil, err
		}
		for _, ex := range ir.Excludes {
			if err := s.ExcludeRule(ir.Label()+" exdate", ex); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}
