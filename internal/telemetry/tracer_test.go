// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	// Spans from a noop provider must be inert but usable.
	_, span := Tracer("test").Start(context.Background(), "op")
	span.End()
}

func TestSessionAttributes(t *testing.T) {
	attrs := SessionAttributes("abc", "STREAMING", "RECORDING")
	require.Len(t, attrs, 3)

	want := map[attribute.Key]string{
		SessionIDKey: "abc",
		StrategyKey:  "STREAMING",
		StateKey:     "RECORDING",
	}
	for _, kv := range attrs {
		require.Equal(t, want[kv.Key], kv.Value.AsString())
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes("provider_error")
	require.Len(t, attrs, 2)
	require.Equal(t, attribute.Key(ErrorKey), attrs[0].Key)
	require.True(t, attrs[0].Value.AsBool())
	require.Equal(t, "provider_error", attrs[1].Value.AsString())
}
