// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asrhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)
	require.Equal(t, ":8990", cfg.Listen)
	require.Equal(t, 100, cfg.Session.MaxSessions)
	require.Equal(t, 700*time.Millisecond, cfg.Pipeline.MinSilenceDuration)
	require.Equal(t, "test", cfg.Version)
	require.InDelta(t, 0.8, cfg.Pipeline.QueueHighWater, 1e-9)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9001"
session:
  maxSessions: 7
pipeline:
  vadThreshold: 0.65
  minSilenceDuration: 450ms
pool:
  maxSize: 4
  agingFactor: 0.2
`)

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	require.Equal(t, ":9001", cfg.Listen)
	require.Equal(t, 7, cfg.Session.MaxSessions)
	require.InDelta(t, 0.65, cfg.Pipeline.VADThreshold, 1e-9)
	require.Equal(t, 450*time.Millisecond, cfg.Pipeline.MinSilenceDuration)
	require.Equal(t, 4, cfg.Pool.MaxSize)

	// Untouched sections keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Pool.LeaseTimeout)
	if diff := cmp.Diff(Default().HTTP, cfg.HTTP); diff != "" {
		t.Errorf("http defaults changed by unrelated file keys (-want +got):\n%s", diff)
	}
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "session:\n  maxSessions: 7\n")
	t.Setenv("ASRHUB_MAX_SESSIONS", "3")
	t.Setenv("ASRHUB_VAD_THRESHOLD", "0.72")

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Session.MaxSessions)
	require.InDelta(t, 0.72, cfg.Pipeline.VADThreshold, 1e-9)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "sesion:\n  maxSessions: 7\n")
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadRejectsNonYAMLExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asrhub.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))
	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
}

func TestValidateBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max sessions", func(c *Config) { c.Session.MaxSessions = 0 }},
		{"vad threshold above one", func(c *Config) { c.Pipeline.VADThreshold = 1.5 }},
		{"negative aging factor", func(c *Config) { c.Pool.AgingFactor = -1 }},
		{"min above max pool", func(c *Config) { c.Pool.MinSize = 9; c.Pool.MaxSize = 2 }},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestHolderReloadSwapsAtomically(t *testing.T) {
	path := writeConfig(t, "session:\n  maxSessions: 5\n")
	loader := NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(cfg, loader, path)
	require.Equal(t, 5, h.Get().Session.MaxSessions)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  maxSessions: 9\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))
	require.Equal(t, 9, h.Get().Session.MaxSessions)

	// A broken rewrite is rejected and the old config survives.
	require.NoError(t, os.WriteFile(path, []byte("session:\n  maxSessions: 0\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))
	require.Equal(t, 9, h.Get().Session.MaxSessions)
}

func TestHolderNotifiesListeners(t *testing.T) {
	path := writeConfig(t, "session:\n  maxSessions: 5\n")
	loader := NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)

	h := NewHolder(cfg, loader, path)
	ch := make(chan Config, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("session:\n  maxSessions: 11\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	select {
	case got := <-ch:
		require.Equal(t, 11, got.Session.MaxSessions)
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}
}
