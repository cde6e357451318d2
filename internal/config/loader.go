// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with the precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader builds a loader. configPath may be empty for ENV-only setups.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load runs the full pipeline: defaults, strict file parse, ENV overrides,
// then validation. A validation failure returns the broken config alongside
// the error so callers can log what was rejected.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = filepath.Join(cfg.DataDir, "snapshots")
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses strict YAML over the defaults; unknown fields fail.
func (l *Loader) loadFile(cfg *Config) error {
	path := filepath.Clean(l.configPath)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies ASRHUB_* overrides on top of the merged config.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Listen = ParseString("ASRHUB_LISTEN", cfg.Listen)
	cfg.DataDir = ParseString("ASRHUB_DATA_DIR", cfg.DataDir)

	cfg.Log.Level = ParseString("ASRHUB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = ParseString("ASRHUB_LOG_FORMAT", cfg.Log.Format)

	cfg.HTTP.RateLimit = ParseInt("ASRHUB_HTTP_RATE_LIMIT", cfg.HTTP.RateLimit)
	cfg.HTTP.RateWindow = ParseDuration("ASRHUB_HTTP_RATE_WINDOW", cfg.HTTP.RateWindow)
	cfg.HTTP.MaxUploadBytes = ParseInt64("ASRHUB_HTTP_MAX_UPLOAD_BYTES", cfg.HTTP.MaxUploadBytes)
	cfg.HTTP.ShutdownTimeout = ParseDuration("ASRHUB_HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout)

	cfg.Session.MaxSessions = ParseInt("ASRHUB_MAX_SESSIONS", cfg.Session.MaxSessions)
	cfg.Session.AwakeTimeout = ParseDuration("ASRHUB_AWAKE_TIMEOUT", cfg.Session.AwakeTimeout)
	cfg.Session.LLMClaimTimeout = ParseDuration("ASRHUB_LLM_CLAIM_TIMEOUT", cfg.Session.LLMClaimTimeout)
	cfg.Session.TTSClaimTimeout = ParseDuration("ASRHUB_TTS_CLAIM_TIMEOUT", cfg.Session.TTSClaimTimeout)
	cfg.Session.SessionIdleTimeout = ParseDuration("ASRHUB_SESSION_IDLE_TIMEOUT", cfg.Session.SessionIdleTimeout)

	cfg.Pipeline.VADThreshold = ParseFloat("ASRHUB_VAD_THRESHOLD", cfg.Pipeline.VADThreshold)
	cfg.Pipeline.AdaptiveThreshold = ParseBool("ASRHUB_VAD_ADAPTIVE", cfg.Pipeline.AdaptiveThreshold)
	cfg.Pipeline.MinSilenceDuration = ParseDuration("ASRHUB_MIN_SILENCE", cfg.Pipeline.MinSilenceDuration)
	cfg.Pipeline.WakeThreshold = ParseFloat("ASRHUB_WAKE_THRESHOLD", cfg.Pipeline.WakeThreshold)
	cfg.Pipeline.WakeCooldown = ParseDuration("ASRHUB_WAKE_COOLDOWN", cfg.Pipeline.WakeCooldown)
	cfg.Pipeline.MaxRecordingTime = ParseDuration("ASRHUB_MAX_RECORDING_TIME", cfg.Pipeline.MaxRecordingTime)
	cfg.Pipeline.MaxStreamingTime = ParseDuration("ASRHUB_MAX_STREAMING_TIME", cfg.Pipeline.MaxStreamingTime)
	cfg.Pipeline.QueueMaxBytes = ParseInt("ASRHUB_QUEUE_MAX_BYTES", cfg.Pipeline.QueueMaxBytes)
	cfg.Pipeline.QueueHighWater = ParseFloat("ASRHUB_QUEUE_HIGH_WATER", cfg.Pipeline.QueueHighWater)
	cfg.Pipeline.VADModel = ParseString("ASRHUB_VAD_MODEL", cfg.Pipeline.VADModel)
	cfg.Pipeline.OnnxLib = ParseString("ASRHUB_ONNX_LIB", cfg.Pipeline.OnnxLib)

	cfg.Pool.MinSize = ParseInt("ASRHUB_POOL_MIN_SIZE", cfg.Pool.MinSize)
	cfg.Pool.MaxSize = ParseInt("ASRHUB_POOL_MAX_SIZE", cfg.Pool.MaxSize)
	cfg.Pool.PerSessionQuota = ParseInt("ASRHUB_POOL_SESSION_QUOTA", cfg.Pool.PerSessionQuota)
	cfg.Pool.MaxConsecutiveFailures = ParseInt("ASRHUB_POOL_MAX_FAILURES", cfg.Pool.MaxConsecutiveFailures)
	cfg.Pool.LeaseTimeout = ParseDuration("ASRHUB_POOL_LEASE_TIMEOUT", cfg.Pool.LeaseTimeout)
	cfg.Pool.AgingFactor = ParseFloat("ASRHUB_POOL_AGING_FACTOR", cfg.Pool.AgingFactor)
	cfg.Pool.DefaultPriority = ParseInt("ASRHUB_POOL_DEFAULT_PRIORITY", cfg.Pool.DefaultPriority)

	cfg.Engine.Encoder = ParseString("ASRHUB_ENGINE_ENCODER", cfg.Engine.Encoder)
	cfg.Engine.Decoder = ParseString("ASRHUB_ENGINE_DECODER", cfg.Engine.Decoder)
	cfg.Engine.Joiner = ParseString("ASRHUB_ENGINE_JOINER", cfg.Engine.Joiner)
	cfg.Engine.Tokens = ParseString("ASRHUB_ENGINE_TOKENS", cfg.Engine.Tokens)
	cfg.Engine.OnlineEncoder = ParseString("ASRHUB_ENGINE_ONLINE_ENCODER", cfg.Engine.OnlineEncoder)
	cfg.Engine.OnlineDecoder = ParseString("ASRHUB_ENGINE_ONLINE_DECODER", cfg.Engine.OnlineDecoder)
	cfg.Engine.OnlineJoiner = ParseString("ASRHUB_ENGINE_ONLINE_JOINER", cfg.Engine.OnlineJoiner)
	cfg.Engine.NumThreads = ParseInt("ASRHUB_ENGINE_THREADS", cfg.Engine.NumThreads)
	cfg.Engine.Provider = ParseString("ASRHUB_ENGINE_PROVIDER", cfg.Engine.Provider)
	cfg.Engine.Language = ParseString("ASRHUB_ENGINE_LANGUAGE", cfg.Engine.Language)

	cfg.Telemetry.Enabled = ParseBool("ASRHUB_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = ParseString("ASRHUB_OTEL_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.SampleRatio = ParseFloat("ASRHUB_OTEL_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)
	cfg.Telemetry.ServiceName = ParseString("ASRHUB_OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)

	cfg.Snapshot.Enabled = ParseBool("ASRHUB_SNAPSHOT_ENABLED", cfg.Snapshot.Enabled)
	cfg.Snapshot.Dir = ParseString("ASRHUB_SNAPSHOT_DIR", cfg.Snapshot.Dir)
	cfg.Snapshot.Retention = ParseDuration("ASRHUB_SNAPSHOT_RETENTION", cfg.Snapshot.Retention)
}
