package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"srules/internal/recurrence"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Schedules are declared here and built by the registry.

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04"
	ClockLayout    = "15:04"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RuleConfig is one recurrence rule of a session.
type RuleConfig struct {
	Label string `yaml:"label" json:"label"`

	// Exclude turns the rule into an exclusion rule: its anchors are
	// removed from the anchors of the session's other rules.
	Exclude bool `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	// Freq is an RRULE frequency name (DAILY, WEEKLY, ...).
	Freq string `yaml:"freq" json:"freq"`

	// From and Until accept "YYYY-MM-DD" (the session start clock applies)
	// or "YYYY-MM-DDTHH:MM[:SS]".
	From  string `yaml:"from" json:"from"`
	Until string `yaml:"until,omitempty" json:"until,omitempty"`

	Interval int      `yaml:"interval,omitempty" json:"interval,omitempty"`
	Count    int      `yaml:"count,omitempty" json:"count,omitempty"`
	Weekdays []string `yaml:"weekdays,omitempty" json:"weekdays,omitempty"`
}

// SessionConfig declares a session taking part in a schedule.
type SessionConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Kind is "add" (default) or "exclude".
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`

	// Start is the "HH:MM" time of day of date-only rules.
	Start string `yaml:"start,omitempty" json:"start,omitempty"`

	DurationMinutes int `yaml:"duration_minutes" json:"duration_minutes"`

	// ICS optionally points at a file path or http(s) URL whose recurring
	// events are imported as additional rules.
	ICS string `yaml:"ics,omitempty" json:"ics,omitempty"`

	Rules []RuleConfig `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// ScheduleConfig declares a named composition of sessions. Sessions are
// folded in the listed order.
type ScheduleConfig struct {
	Name        string          `yaml:"name" json:"name"`
	AutoRefresh *bool           `yaml:"auto_refresh,omitempty" json:"auto_refresh,omitempty"`
	Sessions    []SessionConfig `yaml:"sessions" json:"sessions"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone dates and clock times are read in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used to reload the config and re-import ICS sources in server mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RateLimit caps API requests per client IP and minute; 0 disables it.
	RateLimit int `yaml:"rate_limit" json:"rate_limit"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// DefaultConfig returns an in-memory default configuration with one example
// schedule.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		RateLimit:   120,
		CORSOrigins: []string{},
		Schedules: []ScheduleConfig{
			{
				Name: "office",
				Sessions: []SessionConfig{
					{
						Name:            "Work",
						Description:     "weekday office hours",
						Start:           "09:00",
						DurationMinutes: 480,
						Rules: []RuleConfig{{
							Label:    "weekdays",
							Freq:     "WEEKLY",
							From:     "2025-01-06",
							Weekdays: []string{"MO", "TU", "WE", "TH", "FR"},
						}},
					},
					{
						Name:            "Lunch",
						Kind:            "exclude",
						Start:           "12:00",
						DurationMinutes: 60,
						Rules: []RuleConfig{{
							Label: "every day",
							Freq:  "DAILY",
							From:  "2025-01-06",
						}},
					},
				},
			},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.Schedules == nil {
		c.Schedules = []ScheduleConfig{}
	}
	for i := range c.Schedules {
		for j := range c.Schedules[i].Sessions {
			s := &c.Schedules[i].Sessions[j]
			s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
			if s.Kind == "" {
				s.Kind = "add"
			}
			if s.Start == "" {
				s.Start = "00:00"
			}
		}
	}
}

// AutoRefreshEnabled reports whether the composer should recompute on every
// change. Unset means true.
func (s ScheduleConfig) AutoRefreshEnabled() bool {
	return s.AutoRefresh == nil || *s.AutoRefresh
}

// Duration returns the occurrence length of the session.
func (s SessionConfig) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// Schedule returns the schedule called name.
func (c *Config) Schedule(name string) (ScheduleConfig, bool) {
	for _, s := range c.Schedules {
		if s.Name == name {
			return s, true
		}
	}
	return ScheduleConfig{}, false
}

// Validate checks the whole config and reports every problem found, not just
// the first one.
func (c *Config) Validate() error {
	var errs error

	loc, err := c.Location()
	if err != nil {
		errs = multierr.Append(errs, err)
		loc = time.UTC
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: refresh %q: %v", ErrInvalid, c.RefreshCron, err))
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel))
	}
	if c.RateLimit < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: negative rate_limit", ErrInvalid))
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: basic_auth without username", ErrInvalid))
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, sc := range c.Schedules {
		where := fmt.Sprintf("schedules[%d]", i)
		if sc.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: empty name", ErrInvalid, where))
		} else if seen[sc.Name] {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: duplicate name %q", ErrInvalid, where, sc.Name))
		}
		seen[sc.Name] = true

		for j, ss := range sc.Sessions {
			errs = multierr.Append(errs, ss.validate(fmt.Sprintf("%s.sessions[%d]", where, j), loc))
		}
	}
	return errs
}

func (s SessionConfig) validate(where string, loc *time.Location) error {
	var errs error
	if s.Name == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s: empty name", ErrInvalid, where))
	}
	switch s.Kind {
	case "", "add", "exclude":
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: %s: kind %q", ErrInvalid, where, s.Kind))
	}
	if _, _, err := ParseClock(s.Start); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", where, err))
	}
	if s.DurationMinutes < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s: negative duration_minutes", ErrInvalid, where))
	}
	if len(s.Rules) == 0 && s.ICS == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: %s: no rules and no ics source", ErrInvalid, where))
	}
	for k, r := range s.Rules {
		if _, err := r.Spec(loc); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s.rules[%d]: %w", where, k, err))
		}
	}
	return errs
}

// Spec converts the rule into a recurrence spec read in loc.
func (r RuleConfig) Spec(loc *time.Location) (recurrence.Spec, error) {
	freq, err := recurrence.ParseFreq(r.Freq)
	if err != nil {
		return recurrence.Spec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	wds, err := recurrence.ParseWeekdays(r.Weekdays)
	if err != nil {
		return recurrence.Spec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	from, dateOnly, err := ParseTime(r.From, loc)
	if err != nil {
		return recurrence.Spec{}, fmt.Errorf("from: %w", err)
	}

	var until time.Time
	if r.Until != "" {
		var untilDateOnly bool
		until, untilDateOnly, err = ParseTime(r.Until, loc)
		if err != nil {
			return recurrence.Spec{}, fmt.Errorf("until: %w", err)
		}
		switch {
		case dateOnly && !untilDateOnly:
			return recurrence.Spec{}, fmt.Errorf("%w: until %q must be a date when from is a date", ErrInvalid, r.Until)
		case !dateOnly && untilDateOnly:
			// a date bound on a date-time rule ends at the rule's own clock
			until = time.Date(until.Year(), until.Month(), until.Day(),
				from.Hour(), from.Minute(), from.Second(), 0, loc)
		}
	}

	spec := recurrence.Spec{
		Freq:     freq,
		Start:    from,
		Interval: r.Interval,
		Until:    until,
		Count:    r.Count,
		Weekdays: wds,
		DateOnly: dateOnly,
	}
	if err := spec.Validate(); err != nil {
		return recurrence.Spec{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return spec, nil
}

// ParseClock parses "HH:MM".
func ParseClock(v string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: clock %q, want HH:MM", ErrInvalid, v)
	}
	return t.Hour(), t.Minute(), nil
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	DateTimeLayout,
}

// ParseTime parses a date or a date-time in loc. dateOnly is true for the
// "YYYY-MM-DD" form.
func ParseTime(v string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty time", ErrInvalid)
	}
	if t, err := time.ParseInLocation(DateLayout, v, loc); err == nil {
		return t, true, nil
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: time %q, want YYYY-MM-DD or YYYY-MM-DDTHH:MM", ErrInvalid, v)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".srules-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
