// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "time"

// EventType classifies events on a session subscription stream.
type EventType string

const (
	EventStateChange      EventType = "state_change"
	EventProgress         EventType = "progress"
	EventBackpressure     EventType = "backpressure"
	EventTranscriptPart   EventType = "transcript_partial"
	EventTranscriptFinal  EventType = "transcript_final"
	EventError            EventType = "error"
	EventSessionDestroyed EventType = "destroyed"
)

// Event is what a subscribed protocol server receives for one session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`

	From  State     `json:"from,omitempty"`
	To    State     `json:"to,omitempty"`
	Event EventKind `json:"event,omitempty"`

	Transcript *Transcript `json:"transcript,omitempty"`

	Level        BackpressureLevel `json:"level,omitempty"`
	RetryAfterMs int               `json:"retryAfterMs,omitempty"`

	ErrorKind    ErrorKind `json:"errorKind,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`

	Progress map[string]any `json:"progress,omitempty"`
}
