// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the session data model: states, strategies, actions,
// events and the error taxonomy. It is the vocabulary of the control plane
// and must stay dependency-light.
package model

// State is the per-session FSM state.
type State string

const (
	StateIdle         State = "IDLE"
	StateListening    State = "LISTENING"
	StateActivated    State = "ACTIVATED"
	StateRecording    State = "RECORDING"
	StateStreaming    State = "STREAMING"
	StateTranscribing State = "TRANSCRIBING"
	StateBusy         State = "BUSY"
	StateError        State = "ERROR"
	StateTerminated   State = "TERMINATED"
)

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// CapturesAudio reports whether a session in this state is accumulating
// speech for a later transcription.
func (s State) CapturesAudio() bool {
	return s == StateRecording || s == StateStreaming
}

// Strategy selects which FSM table applies to a session. Immutable after
// creation.
type Strategy string

const (
	StrategyNonStreaming Strategy = "NON_STREAMING"
	StrategyStreaming    Strategy = "STREAMING"
	StrategyBatch        Strategy = "BATCH"
)

// Valid reports whether the strategy is one of the known tables.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNonStreaming, StrategyStreaming, StrategyBatch:
		return true
	}
	return false
}

// EventKind is a canonical FSM event.
type EventKind string

const (
	EvStartListening     EventKind = "START_LISTENING"
	EvWakeTriggered      EventKind = "WAKE_TRIGGERED"
	EvSpeechDetected     EventKind = "SPEECH_DETECTED"
	EvStartRecording     EventKind = "START_RECORDING"
	EvEndRecording       EventKind = "END_RECORDING"
	EvBeginTranscription EventKind = "BEGIN_TRANSCRIPTION"
	EvTranscriptionDone  EventKind = "TRANSCRIPTION_DONE"
	EvStartASRStreaming  EventKind = "START_ASR_STREAMING"
	EvEndASRStreaming    EventKind = "END_ASR_STREAMING"
	EvLLMReplyStarted    EventKind = "LLM_REPLY_STARTED"
	EvLLMReplyFinished   EventKind = "LLM_REPLY_FINISHED"
	EvTTSStarted         EventKind = "TTS_PLAYBACK_STARTED"
	EvTTSFinished        EventKind = "TTS_PLAYBACK_FINISHED"
	EvInterruptReply     EventKind = "INTERRUPT_REPLY"
	EvTimeout            EventKind = "TIMEOUT"
	EvError              EventKind = "ERROR"
	EvRecover            EventKind = "RECOVER"
	EvReset              EventKind = "RESET"
)

// WakeSource identifies what activated a session.
type WakeSource string

const (
	WakeSourceWakeWord WakeSource = "wake_word"
	WakeSourceUI       WakeSource = "ui"
	WakeSourceVisual   WakeSource = "visual"
)
