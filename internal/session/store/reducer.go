// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"time"

	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/session/fsm"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// reduce is the single writer of session state: (state, action) → state'
// plus diagnostic follow-up actions. It is total — malformed input yields
// the unchanged state and, where useful, a diagnostic — and it never
// blocks, never panics and never calls effect code.
func reduce(st *State, a model.Action, cfg Config) (*State, []model.Action) {
	switch a.Type {
	case model.ActionCreateSession:
		return reduceCreate(st, a, cfg)

	case model.ActionDestroySession:
		if st.get(a.SessionID) == nil {
			return st, nil
		}
		next := st.clone()
		strategy := next.Sessions[a.SessionID].Strategy
		delete(next.Sessions, a.SessionID)
		if next.ActiveID == a.SessionID {
			next.ActiveID = ""
		}
		metrics.SessionsDestroyedTotal.Inc()
		metrics.ActiveSessions.WithLabelValues(string(strategy)).Dec()
		return next, nil

	case model.ActionSetActive:
		if st.get(a.SessionID) == nil {
			return st, nil
		}
		next := st.clone()
		next.ActiveID = a.SessionID
		return next, nil

	case model.ActionSessionRejected, model.ActionBackpressure:
		// Diagnostics; observed by subscribers, no state change.
		return st, nil
	}

	// Everything below mutates exactly one existing session. Unknown ids
	// yield no state change.
	sess := st.get(a.SessionID)
	if sess == nil {
		return st, nil
	}

	next := st.clone()
	cp := sess.Clone()
	cp.UpdatedAt = a.At
	next.Sessions[a.SessionID] = cp

	switch a.Type {
	case model.ActionStartListening:
		if p, ok := a.Payload.(model.StartListeningPayload); ok {
			f := p.Format
			cp.AudioFormat = &f
		}

	case model.ActionAudioMetadata:
		if p, ok := a.Payload.(model.AudioMetadataPayload); ok {
			f := p.Format
			cp.AudioFormat = &f
			if len(p.Metadata) > 0 {
				if cp.Metadata == nil {
					cp.Metadata = make(map[string]string, len(p.Metadata))
				}
				for k, v := range p.Metadata {
					cp.Metadata[k] = v
				}
			}
		}

	case model.ActionAudioChunkReceived:
		if p, ok := a.Payload.(model.AudioChunkPayload); ok {
			cp.AudioBytesReceived += uint64(len(p.Chunk.Data))
			cp.AudioChunksCount++
			cp.LastAudioTimestamp = p.Chunk.ReceivedAt
		}

	case model.ActionWakeTriggered:
		// Wake fields are only meaningful while the session can activate.
		if cp.FSMState == model.StateListening || cp.FSMState == model.StateActivated {
			if p, ok := a.Payload.(model.WakeTriggeredPayload); ok {
				cp.WakeTrigger = p.Trigger
				cp.WakeSource = p.Source
			}
			t := a.At
			cp.WakeTime = &t
		}

	case model.ActionTranscriptPartial:
		if p, ok := a.Payload.(model.TranscriptPayload); ok {
			t := p.Transcript
			t.Final = false
			cp.Transcription = &t
		}

	case model.ActionTranscriptionDone:
		if p, ok := a.Payload.(model.TranscriptPayload); ok {
			t := p.Transcript
			t.Final = true
			cp.Transcription = &t
		}

	case model.ActionSessionError:
		if p, ok := a.Payload.(model.ErrorPayload); ok {
			cp.Error = p.Err
			metrics.RecordSessionError(string(p.Err.Kind))
		}

	case model.ActionRecover:
		cp.Error = model.SessionError{}

	case model.ActionReset:
		cp.WakeTrigger = ""
		cp.WakeTime = nil
		cp.WakeSource = ""
		cp.Transcription = nil
		cp.Error = model.SessionError{}
		// The audio counters are monotonic between resets; this is the one
		// action allowed to zero them.
		cp.AudioBytesReceived = 0
		cp.AudioChunksCount = 0
		cp.LastAudioTimestamp = time.Time{}

	case model.ActionStateChanged:
		if p, ok := a.Payload.(model.StateChangedPayload); ok {
			cp.PreviousState = p.From
			cp.FSMState = p.To
			metrics.RecordTransition(string(cp.Strategy), string(p.To))
		}

	case model.ActionTouch, model.ActionSpeechDetected, model.ActionSilenceDetected:
		// UpdatedAt only.

	default:
		// Control-flow actions with no reducer-visible fields (recording
		// bounds, LLM/TTS claims, uploads, timeouts): UpdatedAt only; the
		// FSM and async effects carry their meaning.
	}

	return next, nil
}

func reduceCreate(st *State, a model.Action, cfg Config) (*State, []model.Action) {
	p, ok := a.Payload.(model.CreateSessionPayload)
	if !ok || p.ID == "" {
		return st, nil
	}
	if st.get(p.ID) != nil {
		return st, nil
	}
	if !p.Options.Strategy.Valid() {
		metrics.SessionsRejectedTotal.WithLabelValues("invalid_strategy").Inc()
		return st, []model.Action{model.NewAction(model.ActionSessionRejected, p.ID,
			model.RejectedPayload{Reason: "invalid_strategy"})}
	}
	if len(st.Sessions) >= cfg.MaxSessions {
		metrics.SessionsRejectedTotal.WithLabelValues("max_sessions").Inc()
		return st, []model.Action{model.NewAction(model.ActionSessionRejected, p.ID,
			model.RejectedPayload{Reason: "max_sessions"})}
	}

	now := a.At
	if now.IsZero() {
		now = time.Now()
	}

	sess := &model.Session{
		ID:          p.ID,
		Strategy:    p.Options.Strategy,
		FSMState:    fsm.Initial(p.Options.Strategy),
		Priority:    p.Options.Priority,
		WakeTimeout: p.Options.WakeTimeout,
		CreatedAt:   now,
		UpdatedAt:   now,
		Pipeline:    withPipelineDefaults(p.Options.Pipeline),
		Metadata:    p.Options.Metadata,
	}

	next := st.clone()
	next.Sessions[p.ID] = sess
	metrics.SessionsCreatedTotal.WithLabelValues(string(sess.Strategy)).Inc()
	metrics.ActiveSessions.WithLabelValues(string(sess.Strategy)).Inc()
	return next, nil
}

func withPipelineDefaults(p model.PipelineConfig) model.PipelineConfig {
	if p.VADThreshold <= 0 {
		p.VADThreshold = 0.5
	}
	if p.MinSilenceDuration <= 0 {
		p.MinSilenceDuration = 700 * time.Millisecond
	}
	if p.WakeThreshold <= 0 {
		p.WakeThreshold = 0.5
	}
	if p.WakeCooldown <= 0 {
		p.WakeCooldown = 1500 * time.Millisecond
	}
	if p.ConversionQuality == "" {
		p.ConversionQuality = "high"
	}
	if p.MaxRecordingTime <= 0 {
		p.MaxRecordingTime = 60 * time.Second
	}
	if p.MaxStreamingTime <= 0 {
		p.MaxStreamingTime = 5 * time.Minute
	}
	return p
}
