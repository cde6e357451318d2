// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads and validates the hub configuration with the
// precedence ENV > file > defaults. The file is strict YAML: unknown keys
// are a startup error, not a warning.
package config

import (
	"time"

	"github.com/ManuGH/asrhub/internal/provider/sherpa"
)

// Config is the full runtime configuration of the hub.
type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"dataDir"`
	Version string `yaml:"-"`

	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Session   SessionConfig   `yaml:"session"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Pool      PoolConfig      `yaml:"pool"`
	Engine    sherpa.Config   `yaml:"engine"`
	Wake      WakeConfig      `yaml:"wake"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace..panic
	Format string `yaml:"format"` // "json" or "console"
}

// HTTPConfig bounds the API surface.
type HTTPConfig struct {
	RateLimit       int           `yaml:"rateLimit"` // requests per window, per client IP
	RateWindow      time.Duration `yaml:"rateWindow"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SessionConfig bounds the control plane.
type SessionConfig struct {
	MaxSessions        int           `yaml:"maxSessions"`
	AwakeTimeout       time.Duration `yaml:"awakeTimeout"`
	LLMClaimTimeout    time.Duration `yaml:"llmClaimTimeout"`
	TTSClaimTimeout    time.Duration `yaml:"ttsClaimTimeout"`
	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`
}

// PipelineConfig sets per-session DSP defaults. Sessions may override them
// at creation; changes here only affect sessions created afterwards.
type PipelineConfig struct {
	VADThreshold       float64       `yaml:"vadThreshold"`
	AdaptiveThreshold  bool          `yaml:"adaptiveThreshold"`
	MinSilenceDuration time.Duration `yaml:"minSilenceDuration"`
	WakeThreshold      float64       `yaml:"wakeThreshold"`
	WakeCooldown       time.Duration `yaml:"wakeCooldown"`
	MaxRecordingTime   time.Duration `yaml:"maxRecordingTime"`
	MaxStreamingTime   time.Duration `yaml:"maxStreamingTime"`
	QueueMaxBytes      int           `yaml:"queueMaxBytes"`
	QueueHighWater     float64       `yaml:"queueHighWater"`
	VADModel           string        `yaml:"vadModel"` // Silero ONNX path; empty uses the energy scorer
	OnnxLib            string        `yaml:"onnxLib"`
}

// PoolConfig bounds the provider pool.
type PoolConfig struct {
	MinSize                int           `yaml:"minSize"`
	MaxSize                int           `yaml:"maxSize"`
	PerSessionQuota        int           `yaml:"perSessionQuota"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	LeaseTimeout           time.Duration `yaml:"leaseTimeout"`
	AgingFactor            float64       `yaml:"agingFactor"`
	DefaultPriority        int           `yaml:"defaultPriority"`
}

// WakeModel is one openWakeWord model triple.
type WakeModel struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`
	Melspec   string `yaml:"melspec"`
	Embedding string `yaml:"embedding"`
}

// WakeConfig lists the wake-word models loaded per session.
type WakeConfig struct {
	Models []WakeModel `yaml:"models"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SampleRatio  float64 `yaml:"sampleRatio"`
	ServiceName  string  `yaml:"serviceName"`
}

// SnapshotConfig controls the terminal-session archive.
type SnapshotConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Retention time.Duration `yaml:"retention"`
}

// Default returns the built-in configuration before file and ENV merging.
func Default() Config {
	return Config{
		Listen:  ":8990",
		DataDir: "./data",
		Log:     LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			RateLimit:       300,
			RateWindow:      time.Minute,
			MaxUploadBytes:  64 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:        100,
			AwakeTimeout:       8 * time.Second,
			LLMClaimTimeout:    30 * time.Second,
			TTSClaimTimeout:    30 * time.Second,
			SessionIdleTimeout: 5 * time.Minute,
		},
		Pipeline: PipelineConfig{
			VADThreshold:       0.5,
			MinSilenceDuration: 700 * time.Millisecond,
			WakeThreshold:      0.5,
			WakeCooldown:       1500 * time.Millisecond,
			MaxRecordingTime:   60 * time.Second,
			MaxStreamingTime:   5 * time.Minute,
			QueueMaxBytes:      320_000,
			QueueHighWater:     0.8,
		},
		Pool: PoolConfig{
			MinSize:                0,
			MaxSize:                2,
			PerSessionQuota:        1,
			MaxConsecutiveFailures: 3,
			LeaseTimeout:           30 * time.Second,
			AgingFactor:            0.1,
			DefaultPriority:        5,
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1.0,
			ServiceName: "asrhub",
		},
		Snapshot: SnapshotConfig{
			Retention: 7 * 24 * time.Hour,
		},
	}
}
