// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"time"

	"github.com/ManuGH/asrhub/internal/audio"
)

// PipelineConfig carries the per-session DSP tunables. Immutable once the
// session exists; config hot reload only affects sessions created later.
type PipelineConfig struct {
	VADThreshold       float64       `json:"vadThreshold" yaml:"vadThreshold"`
	AdaptiveThreshold  bool          `json:"adaptiveThreshold" yaml:"adaptiveThreshold"`
	MinSilenceDuration time.Duration `json:"minSilenceDuration" yaml:"minSilenceDuration"`
	WakeThreshold      float64       `json:"wakeThreshold" yaml:"wakeThreshold"`
	WakeCooldown       time.Duration `json:"wakeCooldown" yaml:"wakeCooldown"`
	ConversionQuality  string        `json:"conversionQuality" yaml:"conversionQuality"`
	MaxRecordingTime   time.Duration `json:"maxRecordingTime" yaml:"maxRecordingTime"`
	MaxStreamingTime   time.Duration `json:"maxStreamingTime" yaml:"maxStreamingTime"`
}

// CreateOptions is what a protocol server supplies to create a session.
type CreateOptions struct {
	Strategy    Strategy          `json:"strategy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Pipeline    PipelineConfig    `json:"pipeline,omitempty"`
	Priority    int               `json:"priority,omitempty"`
	WakeTimeout time.Duration     `json:"wakeTimeout,omitempty"`
}

// Session is the central entity: one per logical client conversation.
// All mutation happens inside the reducer; everyone else sees copies.
type Session struct {
	ID            string   `json:"id"`
	Strategy      Strategy `json:"strategy"`
	FSMState      State    `json:"fsmState"`
	PreviousState State    `json:"previousState"`

	AudioFormat        *audio.Format `json:"audioFormat,omitempty"`
	ConversionStrategy string        `json:"conversionStrategy,omitempty"`

	AudioBytesReceived uint64    `json:"audioBytesReceived"`
	AudioChunksCount   uint64    `json:"audioChunksCount"`
	LastAudioTimestamp time.Time `json:"lastAudioTimestamp,omitempty"`

	WakeTrigger string        `json:"wakeTrigger,omitempty"`
	WakeTime    *time.Time    `json:"wakeTime,omitempty"`
	WakeTimeout time.Duration `json:"wakeTimeout,omitempty"`
	WakeSource  WakeSource    `json:"wakeSource,omitempty"`

	Transcription *Transcript  `json:"transcription,omitempty"`
	Error         SessionError `json:"error,omitempty"`

	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Pipeline PipelineConfig    `json:"pipeline"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy safe to hand outside the reducer.
func (s *Session) Clone() *Session {
	cp := *s
	if s.AudioFormat != nil {
		f := *s.AudioFormat
		cp.AudioFormat = &f
	}
	if s.WakeTime != nil {
		t := *s.WakeTime
		cp.WakeTime = &t
	}
	if s.Transcription != nil {
		t := *s.Transcription
		t.Segments = append([]Segment(nil), s.Transcription.Segments...)
		cp.Transcription = &t
	}
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Snapshot is the export unit for hosts that embed the hub with
// persistence: the session fields minus raw audio and hidden DSP state.
type Snapshot = Session
