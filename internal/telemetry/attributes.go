// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans. Session ids are allowed on spans
// (unlike metric labels, spans are not aggregated by cardinality).
const (
	SessionIDKey   = "session.id"
	StrategyKey    = "session.strategy"
	StateKey       = "session.state"
	AudioBytesKey  = "audio.bytes"
	AudioFormatKey = "audio.format"
	ProviderIDKey  = "provider.id"
	OutcomeKey     = "outcome"
	ErrorKey       = "error"
	ErrorKindKey   = "error.kind"
)

// SessionAttributes builds the span attributes for one session.
func SessionAttributes(sessionID, strategy, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.String(StrategyKey, strategy),
		attribute.String(StateKey, state),
	}
}

// AudioAttributes describes an audio payload on a span.
func AudioAttributes(bytes int, format string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AudioBytesKey, bytes),
		attribute.String(AudioFormatKey, format),
	}
}

// ErrorAttributes marks a span as failed with the taxonomy kind.
func ErrorAttributes(kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, kind),
	}
}
