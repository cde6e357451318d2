// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import "fmt"

// ErrorKind is the symbolic error taxonomy surfaced to clients. Keep these
// stable: metrics and client UX depend on them.
type ErrorKind string

const (
	ErrKindValidation    ErrorKind = "validation_error"
	ErrKindAudioFormat   ErrorKind = "audio_format_error"
	ErrKindPipeline      ErrorKind = "pipeline_error"
	ErrKindStream        ErrorKind = "stream_error"
	ErrKindSession       ErrorKind = "session_error"
	ErrKindProvider      ErrorKind = "provider_error"
	ErrKindResource      ErrorKind = "resource_error"
	ErrKindTimeout       ErrorKind = "timeout_error"
	ErrKindState         ErrorKind = "state_error"
	ErrKindConfiguration ErrorKind = "configuration_error"
)

// SessionError is the client-safe error payload: a symbolic kind plus a
// human-readable message. Never carries stack traces or internal IDs.
type SessionError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e SessionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsZero reports whether no error is set.
func (e SessionError) IsZero() bool {
	return e.Kind == "" && e.Message == ""
}

// NewSessionError builds a SessionError with a formatted message.
func NewSessionError(kind ErrorKind, format string, args ...any) SessionError {
	return SessionError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
