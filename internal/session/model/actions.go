// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"time"

	"github.com/ManuGH/asrhub/internal/audio"
)

// ActionType discriminates actions on the control-plane stream.
type ActionType string

const (
	ActionCreateSession   ActionType = "create_session"
	ActionSessionRejected ActionType = "session_rejected"
	ActionDestroySession  ActionType = "destroy_session"

	ActionStartListening     ActionType = "start_listening"
	ActionAudioChunkReceived ActionType = "audio_chunk_received"
	ActionAudioMetadata      ActionType = "audio_metadata"
	ActionClearAudioBuffer   ActionType = "clear_audio_buffer"

	ActionWakeTriggered   ActionType = "wake_triggered"
	ActionSpeechDetected  ActionType = "speech_detected"
	ActionSilenceDetected ActionType = "silence_detected"

	ActionStartRecording     ActionType = "start_recording"
	ActionEndRecording       ActionType = "end_recording"
	ActionBeginTranscription ActionType = "begin_transcription"
	ActionTranscriptPartial  ActionType = "transcript_partial"
	ActionTranscriptionDone  ActionType = "transcription_done"
	ActionStartASRStreaming  ActionType = "start_asr_streaming"
	ActionEndASRStreaming    ActionType = "end_asr_streaming"

	ActionLLMReplyStarted  ActionType = "llm_reply_started"
	ActionLLMReplyFinished ActionType = "llm_reply_finished"
	ActionTTSStarted       ActionType = "tts_playback_started"
	ActionTTSFinished      ActionType = "tts_playback_finished"
	ActionInterruptReply   ActionType = "interrupt_reply"

	ActionUploadFile       ActionType = "upload_file"
	ActionChunkUploadStart ActionType = "chunk_upload_start"
	ActionChunkUploadData  ActionType = "chunk_upload_data"
	ActionChunkUploadDone  ActionType = "chunk_upload_done"

	ActionTimeout      ActionType = "timeout"
	ActionSessionError ActionType = "session_error"
	ActionRecover      ActionType = "recover"
	ActionReset        ActionType = "reset"

	ActionStateChanged ActionType = "state_changed"
	ActionBackpressure ActionType = "backpressure"
	ActionTouch        ActionType = "touch"
	ActionSetActive    ActionType = "set_active"
)

// Action is the single unit of change propagated through the store.
// Immutable once dispatched.
type Action struct {
	Type      ActionType
	SessionID string
	At        time.Time
	Payload   any
}

// NewAction stamps an action with the current time.
func NewAction(t ActionType, sessionID string, payload any) Action {
	return Action{Type: t, SessionID: sessionID, At: time.Now(), Payload: payload}
}

// ── Payloads (typed per action type) ───────────────────────────────────

// CreateSessionPayload carries pre-validated creation options plus the
// identifier minted by the facade.
type CreateSessionPayload struct {
	ID      string
	Options CreateOptions
}

// RejectedPayload is the diagnostic emitted instead of an error state.
type RejectedPayload struct {
	Reason string
}

// StartListeningPayload declares the client's input format.
type StartListeningPayload struct {
	Format audio.Format
}

// AudioChunkPayload wraps one ingress chunk. Enqueued marks chunks the
// facade already pushed onto the session queue (to return the disposition
// synchronously); the audio effect only routes chunks that are not.
type AudioChunkPayload struct {
	Chunk    audio.Chunk
	Enqueued bool
}

// AudioMetadataPayload updates declared-format metadata before listening.
type AudioMetadataPayload struct {
	Format   audio.Format
	Metadata map[string]string
}

// WakeTriggeredPayload reports an activation.
type WakeTriggeredPayload struct {
	Source  WakeSource
	Trigger string  // model name or UI identifier
	Score   float64 // detector score, zero for non-detector sources
}

// EndRecordingPayload explains why recording stopped.
type EndRecordingPayload struct {
	Trigger  string // "client", "timeout", "vad_timeout"
	Duration time.Duration
}

// TranscriptPayload carries a partial or final transcript.
type TranscriptPayload struct {
	Transcript Transcript
}

// ErrorPayload carries a session-scoped error.
type ErrorPayload struct {
	Err SessionError
}

// StateChangedPayload records an FSM transition computed by the FSM effect.
type StateChangedPayload struct {
	From  State
	To    State
	Event EventKind
}

// BackpressureLevel grades how urgently the client must slow down.
type BackpressureLevel string

const (
	BackpressureLow      BackpressureLevel = "low"
	BackpressureMedium   BackpressureLevel = "medium"
	BackpressureHigh     BackpressureLevel = "high"
	BackpressureCritical BackpressureLevel = "critical"
)

// BackpressurePayload is the ingress slow-down notice.
type BackpressurePayload struct {
	Level        BackpressureLevel
	RetryAfterMs int
}

// TimeoutPayload names the timer that fired.
type TimeoutPayload struct {
	Timer string
}

// UploadFilePayload carries a complete audio file (WAV container).
type UploadFilePayload struct {
	Name string
	Data []byte
}

// ChunkUploadDataPayload carries one piece of a chunked upload.
type ChunkUploadDataPayload struct {
	Data []byte
}
