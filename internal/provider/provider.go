// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package provider defines the ASR engine interface and the pool that
// leases engine instances to sessions with fairness, quota and health
// guarantees.
package provider

import (
	"context"
	"time"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// Options tunes a single transcription call.
type Options struct {
	Language string
	Format   audio.Format
	Hints    []string
}

// StreamChunk is one element of a streaming transcription.
type StreamChunk struct {
	Transcript model.Transcript
	Err        error
}

// Provider is one ASR engine instance. Exclusive while leased: the
// leaseholder is the only code that may call into it.
type Provider interface {
	// Transcribe runs recognition over a complete utterance.
	Transcribe(ctx context.Context, pcm []byte, opts Options) (model.Transcript, error)

	// TranscribeStream consumes an audio stream and emits partial and
	// final transcripts until the input channel closes or ctx is done.
	TranscribeStream(ctx context.Context, in <-chan []byte, opts Options) (<-chan StreamChunk, error)

	// Initialize prepares the engine; called once before first use.
	Initialize(ctx context.Context) error
	// Warmup primes caches so the first real call is not an outlier.
	Warmup(ctx context.Context) error
	// Cleanup releases engine resources.
	Cleanup() error
	// HealthCheck reports whether the engine can serve.
	HealthCheck(ctx context.Context) bool
}

// Factory constructs a fresh provider instance for the pool.
type Factory func(ctx context.Context) (Provider, error)

// LeaseInfo is the introspection record of one outstanding lease.
type LeaseInfo struct {
	SessionID  string
	ProviderID string
	LeasedAt   time.Time
}
