// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
	"os"
)

// ErrInvalid is the sentinel every validation failure wraps.
var ErrInvalid = errors.New("invalid configuration")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks cross-field consistency. It is called after every load
// and before every hot-reload swap; a failing config is never applied.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return invalidf("listen address must not be empty")
	}

	switch cfg.Log.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return invalidf("unknown log level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "console", "":
	default:
		return invalidf("unknown log format %q (json or console)", cfg.Log.Format)
	}

	if cfg.Session.MaxSessions <= 0 {
		return invalidf("session.maxSessions must be positive (got %d)", cfg.Session.MaxSessions)
	}

	if cfg.Pipeline.VADThreshold < 0 || cfg.Pipeline.VADThreshold > 1 {
		return invalidf("pipeline.vadThreshold must be in [0,1] (got %g)", cfg.Pipeline.VADThreshold)
	}
	if cfg.Pipeline.WakeThreshold < 0 || cfg.Pipeline.WakeThreshold > 1 {
		return invalidf("pipeline.wakeThreshold must be in [0,1] (got %g)", cfg.Pipeline.WakeThreshold)
	}
	if cfg.Pipeline.QueueHighWater < 0 || cfg.Pipeline.QueueHighWater > 1 {
		return invalidf("pipeline.queueHighWater must be in [0,1] (got %g)", cfg.Pipeline.QueueHighWater)
	}
	if cfg.Pipeline.MinSilenceDuration < 0 {
		return invalidf("pipeline.minSilenceDuration must not be negative")
	}

	if cfg.Pool.MaxSize <= 0 {
		return invalidf("pool.maxSize must be positive (got %d)", cfg.Pool.MaxSize)
	}
	if cfg.Pool.MinSize > cfg.Pool.MaxSize {
		return invalidf("pool.minSize %d exceeds pool.maxSize %d", cfg.Pool.MinSize, cfg.Pool.MaxSize)
	}
	if cfg.Pool.AgingFactor < 0 {
		return invalidf("pool.agingFactor must not be negative (got %g)", cfg.Pool.AgingFactor)
	}

	for _, m := range cfg.Wake.Models {
		if m.Name == "" {
			return invalidf("wake model without a name")
		}
		for _, p := range []string{m.Model, m.Melspec, m.Embedding} {
			if p == "" {
				return invalidf("wake model %q is missing a model path", m.Name)
			}
			if _, err := os.Stat(p); err != nil {
				return invalidf("wake model %q: %v", m.Name, err)
			}
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.OTLPEndpoint == "" {
		return invalidf("telemetry enabled without an OTLP endpoint")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return invalidf("telemetry.sampleRatio must be in [0,1] (got %g)", cfg.Telemetry.SampleRatio)
	}

	return nil
}
