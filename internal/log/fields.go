// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldRequestID  = "request_id"
	FieldProviderID = "provider_id"
	FieldTimerName  = "timer_name"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBranch    = "branch"
	FieldAction    = "action"

	// Audio fields
	FieldSampleRate = "sample_rate"
	FieldChannels   = "channels"
	FieldEncoding   = "encoding"
	FieldChunkSeq   = "chunk_seq"
	FieldBytes      = "bytes"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStrategy = "strategy"
	FieldReason   = "reason"
)
