// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"time"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/session/fsm"
	"github.com/ManuGH/asrhub/internal/session/model"
	"github.com/ManuGH/asrhub/internal/timer"
)

// fsmEffect computes the FSM transition for event-bearing actions and
// returns a state_changed follow-up when the state moves. Events without
// a table entry are logged and counted, never errors.
func (s *Store) fsmEffect(a model.Action, next *State) []model.Action {
	ev, ok := fsm.EventFor(a.Type)
	if !ok {
		return nil
	}
	sess := next.get(a.SessionID)
	if sess == nil {
		return nil
	}

	target, valid := fsm.Next(sess.Strategy, sess.FSMState, ev, fsm.Context{
		Session: sess,
		Payload: a.Payload,
	})
	if !valid {
		metrics.RecordInvalidTransition(string(sess.Strategy), string(ev))
		s.logger.Debug().
			Str(log.FieldSessionID, a.SessionID).
			Str(log.FieldStrategy, string(sess.Strategy)).
			Str(log.FieldOldState, string(sess.FSMState)).
			Str(log.FieldEvent, string(ev)).
			Msg("no transition for event")
		return nil
	}
	if target == sess.FSMState {
		return nil
	}

	s.logger.Debug().
		Str(log.FieldSessionID, a.SessionID).
		Str(log.FieldOldState, string(sess.FSMState)).
		Str(log.FieldNewState, string(target)).
		Str(log.FieldEvent, string(ev)).
		Msg("state transition")

	return []model.Action{model.NewAction(model.ActionStateChanged, a.SessionID, model.StateChangedPayload{
		From:  sess.FSMState,
		To:    target,
		Event: ev,
	})}
}

// timerEffect keeps the per-session timers aligned with the lifecycle:
// arm on entry into bounded states, cancel on exit, and reset the idle
// timer on any session activity.
func (s *Store) timerEffect(a model.Action, next *State) {
	if a.SessionID == "" {
		return
	}
	if a.Type == model.ActionDestroySession {
		s.timers.CancelAll(a.SessionID)
		return
	}
	sess := next.get(a.SessionID)
	if sess == nil {
		return
	}

	// Any activity defers the idle reset.
	if s.cfg.SessionIdleTimeout > 0 {
		s.timers.Start(a.SessionID, timer.NameSessionIdle, s.cfg.SessionIdleTimeout,
			model.NewAction(model.ActionReset, a.SessionID, nil))
	}

	switch a.Type {
	case model.ActionStateChanged:
		p, ok := a.Payload.(model.StateChangedPayload)
		if !ok {
			return
		}
		s.onStateTimers(a.SessionID, sess, p)

	case model.ActionWakeTriggered:
		// Re-wake inside the window refreshes it without a transition.
		if sess.FSMState == model.StateActivated {
			s.timers.Start(a.SessionID, timer.NameAwake, s.awakeDuration(sess),
				model.NewAction(model.ActionReset, a.SessionID, nil))
		}

	case model.ActionLLMReplyFinished:
		s.timers.Start(a.SessionID, timer.NameTTSClaim, s.cfg.TTSClaimTimeout,
			model.NewAction(model.ActionReset, a.SessionID, nil))

	case model.ActionTTSStarted:
		s.timers.Cancel(a.SessionID, timer.NameTTSClaim)

	case model.ActionSpeechDetected:
		s.timers.Cancel(a.SessionID, timer.NameVADSilence)

	case model.ActionSilenceDetected:
		// Wall-clock backstop for the VAD debounce; expiry on a session
		// that already left the capture state is a reducer no-op.
		switch sess.FSMState {
		case model.StateRecording:
			s.timers.Start(a.SessionID, timer.NameVADSilence, sess.Pipeline.MinSilenceDuration,
				model.NewAction(model.ActionEndRecording, a.SessionID,
					model.EndRecordingPayload{Trigger: "vad_timeout"}))
		case model.StateStreaming:
			s.timers.Start(a.SessionID, timer.NameVADSilence, sess.Pipeline.MinSilenceDuration,
				model.NewAction(model.ActionEndASRStreaming, a.SessionID, nil))
		}
	}
}

func (s *Store) onStateTimers(id string, sess *model.Session, p model.StateChangedPayload) {
	switch p.From {
	case model.StateActivated:
		s.timers.Cancel(id, timer.NameAwake)
	case model.StateRecording:
		s.timers.Cancel(id, timer.NameRecording)
		s.timers.Cancel(id, timer.NameVADSilence)
	case model.StateStreaming:
		s.timers.Cancel(id, timer.NameStreaming)
		s.timers.Cancel(id, timer.NameVADSilence)
	case model.StateTranscribing:
		s.timers.Cancel(id, timer.NameLLMClaim)
	case model.StateBusy:
		s.timers.Cancel(id, timer.NameTTSClaim)
	}

	switch p.To {
	case model.StateActivated:
		s.timers.Start(id, timer.NameAwake, s.awakeDuration(sess),
			model.NewAction(model.ActionReset, id, nil))
	case model.StateRecording:
		if sess.Pipeline.MaxRecordingTime > 0 {
			s.timers.Start(id, timer.NameRecording, sess.Pipeline.MaxRecordingTime,
				model.NewAction(model.ActionEndRecording, id,
					model.EndRecordingPayload{Trigger: "timeout"}))
		}
	case model.StateStreaming:
		if sess.Pipeline.MaxStreamingTime > 0 {
			s.timers.Start(id, timer.NameStreaming, sess.Pipeline.MaxStreamingTime,
				model.NewAction(model.ActionEndASRStreaming, id, nil))
		}
	case model.StateTranscribing:
		s.timers.Start(id, timer.NameLLMClaim, s.cfg.LLMClaimTimeout,
			model.NewAction(model.ActionReset, id, nil))
	}
}

func (s *Store) awakeDuration(sess *model.Session) time.Duration {
	if sess.WakeTimeout > 0 {
		return sess.WakeTimeout
	}
	return s.cfg.AwakeTimeout
}

// audioEffect keeps the pipeline orchestrator in step with the session
// lifecycle and routes chunks that did not enter through the facade.
func (s *Store) audioEffect(a model.Action, prev, next *State) {
	if s.pipeline == nil {
		return
	}

	switch a.Type {
	case model.ActionCreateSession:
		if sess := next.get(a.SessionID); sess != nil && prev.get(a.SessionID) == nil {
			s.pipeline.Attach(s.effectCtx(), sess.Clone())
		}

	case model.ActionDestroySession:
		if prev.get(a.SessionID) != nil {
			s.pipeline.Detach(a.SessionID)
		}

	case model.ActionAudioChunkReceived:
		if p, ok := a.Payload.(model.AudioChunkPayload); ok && !p.Enqueued {
			s.pipeline.Push(a.SessionID, p.Chunk)
		}

	case model.ActionClearAudioBuffer:
		s.pipeline.ClearBuffer(a.SessionID)

	case model.ActionStateChanged:
		if p, ok := a.Payload.(model.StateChangedPayload); ok && p.Event == model.EvReset {
			s.pipeline.Reset(a.SessionID)
		}
	}
}

// uploadEffect reassembles uploads, converts them to canonical PCM and
// drops them into the same utterance path live audio uses.
func (s *Store) uploadEffect(a model.Action, next *State) []model.Action {
	switch a.Type {
	case model.ActionUploadFile:
		p, ok := a.Payload.(model.UploadFilePayload)
		if !ok {
			return nil
		}
		return s.ingestUpload(a.SessionID, next, p.Data)

	case model.ActionChunkUploadStart:
		s.uploads[a.SessionID] = nil
		return nil

	case model.ActionChunkUploadData:
		if p, ok := a.Payload.(model.ChunkUploadDataPayload); ok {
			s.uploads[a.SessionID] = append(s.uploads[a.SessionID], p.Data...)
		}
		return nil

	case model.ActionChunkUploadDone:
		data := s.uploads[a.SessionID]
		delete(s.uploads, a.SessionID)
		return s.ingestUpload(a.SessionID, next, data)

	case model.ActionDestroySession:
		delete(s.uploads, a.SessionID)
		return nil
	}
	return nil
}

func (s *Store) ingestUpload(id string, next *State, data []byte) []model.Action {
	sess := next.get(id)
	if sess == nil || s.pipeline == nil {
		return nil
	}

	format, pcm, err := audio.ParseWAV(data)
	if err != nil {
		// Not raised during an active stream, so no ERROR transition;
		// subscribers still learn why the upload went nowhere.
		s.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("upload rejected")
		s.hub.publish(model.Event{
			Type:         model.EventError,
			SessionID:    id,
			At:           time.Now(),
			ErrorKind:    model.ErrKindAudioFormat,
			ErrorMessage: "unsupported upload: " + err.Error(),
		})
		return nil
	}

	chunk := audio.Chunk{Data: pcm, Format: format, ReceivedAt: time.Now()}
	canonical, err := s.conv.Convert(chunk, audio.Canonical)
	if err != nil {
		s.hub.publish(model.Event{
			Type:         model.EventError,
			SessionID:    id,
			At:           time.Now(),
			ErrorKind:    model.ErrKindAudioFormat,
			ErrorMessage: "upload conversion failed: " + err.Error(),
		})
		return nil
	}

	s.pipeline.AppendRecording(id, canonical.Data)
	return []model.Action{
		// Accounting record; already fed into the recording buffer.
		model.NewAction(model.ActionAudioChunkReceived, id, model.AudioChunkPayload{Chunk: chunk, Enqueued: true}),
		model.NewAction(model.ActionBeginTranscription, id, nil),
	}
}

func (s *Store) effectCtx() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
