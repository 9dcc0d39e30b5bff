package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"srules/internal/config"
	"srules/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Schedules = []config.ScheduleConfig{{
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
				DurationMinutes: 1440,
				Rules: []config.RuleConfig{{
					Label: "break", Freq: "DAILY", From: "2011-04-01", Until: "2011-04-13",
				}},
			},
		},
	}}
	cfg.Normalize()

	reg := registry.New(nil)
	require.NoError(t, reg.Reload(context.Background(), cfg))
	return reg
}

func TestQueryAt(t *testing.T) {
	var out bytes.Buffer
	err := query(&out, flagConfig{at: "2011-04-05T10:00"}, testRegistry(t))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "contains  false")
	assert.Contains(t, out.String(), "next      2011-04-14T08:00:00Z")
	assert.Contains(t, out.String(), "prev      2011-03-31T08:00:00Z")
}

func TestQueryRange(t *testing.T) {
	var out bytes.Buffer
	err := query(&out, flagConfig{schedule: "person", from: "2011-04-13", to: "2011-04-16"}, testRegistry(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2011-04-14T08:00:00Z"))
}

func TestQueryExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "person.ics")
	err := query(&bytes.Buffer{}, flagConfig{from: "2011-04-14", to: "2011-04-16", export: path}, testRegistry(t))
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(body), "BEGIN:VEVENT"))
}

func TestQueryUnknownSchedule(t *testing.T) {
	err := query(&bytes.Buffer{}, flagConfig{schedule: "nobody"}, testRegistry(t))
	assert.Error(t, err)
}
