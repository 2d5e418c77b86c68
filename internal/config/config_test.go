package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	s := cfg.Simulation
	if s.TickRateHz != 1 || s.TimeMultiplier != 60 {
		t.Errorf("clock defaults = %v Hz, %vx", s.TickRateHz, s.TimeMultiplier)
	}
	if s.BatchSize != 10 || s.MaxConcurrent != 5 {
		t.Errorf("loop defaults = %d/%d, want 10/5", s.BatchSize, s.MaxConcurrent)
	}
	if s.ReflectionThreshold != 150 || s.ReflectionWindowHrs != 24 || s.ReflectionMinCount != 3 {
		t.Errorf("reflection defaults = %d/%d/%d", s.ReflectionThreshold, s.ReflectionWindowHrs, s.ReflectionMinCount)
	}
	if s.RetrievalTopN != 20 || s.RecencyHalfLifeHrs != 24 {
		t.Errorf("retrieval defaults = %d/%v", s.RetrievalTopN, s.RecencyHalfLifeHrs)
	}
	if cfg.World.ID != "default" || cfg.Migrations != "migrations" {
		t.Errorf("world = %q migrations = %q", cfg.World.ID, cfg.Migrations)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("VIVARIUM_TEST_PORT", "9191")
	os.Unsetenv("VIVARIUM_TEST_DSN")

	path := writeConfig(t, `{
		"server": {"port": ${VIVARIUM_TEST_PORT:8080}},
		"database": {"postgres": {"dsn": "${VIVARIUM_TEST_DSN:postgres://localhost/vivarium}"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want env value 9191", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://localhost/vivarium" {
		t.Errorf("dsn = %q, want fallback default", cfg.Database.Postgres.DSN)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errPart string
	}{
		{
			"negative tick rate",
			`{"simulation": {"tick_rate_hz": -1}}`,
			"tick_rate_hz",
		},
		{
			"negative multiplier",
			`{"simulation": {"time_multiplier": -2}}`,
			"time_multiplier",
		},
		{
			"negative batch size",
			`{"simulation": {"batch_size": -1}}`,
			"batch_size",
		},
		{
			"bad time start",
			`{"world": {"time_start": "yesterday"}}`,
			"time_start",
		},
		{
			"cognition missing id",
			`{"cognition": [{"endpoint": "http://localhost:1234/v1"}]}`,
			"id required",
		},
		{
			"cognition missing endpoint",
			`{"cognition": [{"id": "local"}]}`,
			"endpoint required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load succeeded, want validation error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("err = %v, want mention of %q", err, tt.errPart)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("Load succeeded on missing file")
	}
}

func TestTimeOrigin(t *testing.T) {
	path := writeConfig(t, `{"world": {"time_start": "2026-06-01T08:00:00Z"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	if !cfg.TimeOrigin().Equal(want) {
		t.Errorf("TimeOrigin = %v, want %v", cfg.TimeOrigin(), want)
	}

	empty, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !empty.TimeOrigin().IsZero() {
		t.Errorf("TimeOrigin = %v, want zero when unset", empty.TimeOrigin())
	}
}
