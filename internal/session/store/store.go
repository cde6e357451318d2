// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/model"
	"github.com/ManuGH/asrhub/internal/timer"
)

const inboxSize = 1024

// Config tunes the store and its effects.
type Config struct {
	MaxSessions int

	// Timer durations; zero disables the timer except where a
	// per-session value applies.
	AwakeTimeout       time.Duration // fallback when session.WakeTimeout is zero
	LLMClaimTimeout    time.Duration
	TTSClaimTimeout    time.Duration
	SessionIdleTimeout time.Duration

	// Transcription effect.
	LeaseTimeout time.Duration
	Language     string
}

func (c *Config) defaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 100
	}
	if c.AwakeTimeout <= 0 {
		c.AwakeTimeout = 8 * time.Second
	}
	if c.LLMClaimTimeout <= 0 {
		c.LLMClaimTimeout = 30 * time.Second
	}
	if c.TTSClaimTimeout <= 0 {
		c.TTSClaimTimeout = 30 * time.Second
	}
	if c.SessionIdleTimeout <= 0 {
		c.SessionIdleTimeout = 5 * time.Minute
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 30 * time.Second
	}
}

// PipelineDriver is the orchestrator surface the effects need. Kept as an
// interface so store tests can run without DSP operators.
type PipelineDriver interface {
	Attach(ctx context.Context, sess *model.Session)
	Detach(sessionID string)
	Reset(sessionID string)
	ClearBuffer(sessionID string)
	Push(sessionID string, chunk audio.Chunk) (audio.Disposition, bool)
	AppendRecording(sessionID string, pcm []byte)
	TakeRecording(sessionID string) []byte
	RecordingDuration(sessionID string) time.Duration
	OpenStream(sessionID string) <-chan []byte
	CloseStream(sessionID string)
}

// Store owns all session state and the action stream that mutates it.
type Store struct {
	cfg    Config
	logger zerolog.Logger

	state atomic.Pointer[State]
	inbox chan model.Action
	hub   *hub

	timers   *timer.Service
	pool     *provider.Pool
	pipeline PipelineDriver

	transcriber *transcriber

	// Upload reassembly buffers, touched only by the reducer loop.
	uploads map[string][]byte
	conv    *audio.Converter

	// archive, when set, receives the final snapshot of every destroyed
	// session. Runs off the reducer loop.
	archive func(*model.Session)

	runCtx context.Context
}

// New builds a store around a provider pool. Call BindPipeline before Run.
func New(cfg Config, pool *provider.Pool) *Store {
	cfg.defaults()
	s := &Store{
		cfg:     cfg,
		logger:  log.WithComponent("store"),
		inbox:   make(chan model.Action, inboxSize),
		hub:     newHub(),
		pool:    pool,
		uploads: make(map[string][]byte),
		conv:    audio.NewConverter(audio.QualityHigh),
	}
	s.state.Store(emptyState())
	s.timers = timer.NewService(s.Dispatch)
	s.transcriber = newTranscriber(s, pool)
	return s
}

// BindPipeline wires the orchestrator in. Must happen before Run; it is a
// separate step because the orchestrator itself needs the store's dispatch
// and snapshot functions.
func (s *Store) BindPipeline(p PipelineDriver) {
	s.pipeline = p
}

// SetArchiver registers a sink for terminal session snapshots. Must be
// called before Run.
func (s *Store) SetArchiver(fn func(*model.Session)) {
	s.archive = fn
}

// Dispatch enqueues an action for the reducer. It never blocks: when the
// inbox is full the action is dropped and counted, which only happens
// when the reducer has stalled for a long time.
func (s *Store) Dispatch(a model.Action) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	metrics.ActionsDispatchedTotal.WithLabelValues(string(a.Type)).Inc()
	select {
	case s.inbox <- a:
		metrics.ActionQueueDepth.Set(float64(len(s.inbox)))
	default:
		metrics.IncActionDropReason("inbox_full")
		s.logger.Warn().
			Str(log.FieldAction, string(a.Type)).
			Str(log.FieldSessionID, a.SessionID).
			Msg("action dropped, reducer inbox full")
	}
}

// Snapshot returns a deep copy of one session.
func (s *Store) Snapshot(id string) (*model.Session, bool) {
	sess := s.state.Load().get(id)
	if sess == nil {
		return nil, false
	}
	return sess.Clone(), true
}

// List returns deep copies of all sessions.
func (s *Store) List() []*model.Session {
	st := s.state.Load()
	out := make([]*model.Session, 0, len(st.Sessions))
	for _, sess := range st.Sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// ActiveID returns the currently active session id, if any.
func (s *Store) ActiveID() string {
	return s.state.Load().ActiveID
}

// Len returns the live session count.
func (s *Store) Len() int {
	return len(s.state.Load().Sessions)
}

// Subscribe attaches an event stream for one session.
func (s *Store) Subscribe(sessionID string) *Subscription {
	return s.hub.subscribe(sessionID)
}

// Timers exposes the timer service for introspection in tests.
func (s *Store) Timers() *timer.Service {
	return s.timers
}

// Run drives the reducer loop until ctx is cancelled. Follow-up actions
// produced while applying an action (reducer diagnostics, FSM
// transitions) are applied before the next external action, which keeps
// per-session ordering deterministic.
func (s *Store) Run(ctx context.Context) error {
	s.runCtx = ctx
	var pending []model.Action

	for {
		var a model.Action
		if len(pending) > 0 {
			a = pending[0]
			pending = pending[1:]
		} else {
			select {
			case <-ctx.Done():
				s.shutdown()
				return ctx.Err()
			case a = <-s.inbox:
				metrics.ActionQueueDepth.Set(float64(len(s.inbox)))
			}
		}
		pending = append(pending, s.apply(a)...)
	}
}

// apply reduces one action and runs the inline effects, returning their
// follow-up actions.
func (s *Store) apply(a model.Action) []model.Action {
	prev := s.state.Load()
	next, followups := reduce(prev, a, s.cfg)
	if next != prev {
		s.state.Store(next)
	}

	followups = append(followups, s.fsmEffect(a, next)...)
	s.timerEffect(a, next)
	s.audioEffect(a, prev, next)
	followups = append(followups, s.uploadEffect(a, next)...)
	s.transcriber.handle(a, next)
	s.publish(a, prev, next)
	return followups
}

func (s *Store) shutdown() {
	s.timers.Close()
	s.transcriber.cancelAll()
	if s.pipeline != nil {
		for id := range s.state.Load().Sessions {
			s.pipeline.Detach(id)
		}
	}
	s.hub.closeAll()
}

// publish converts applied actions into subscriber events.
func (s *Store) publish(a model.Action, prev, next *State) {
	ev := model.Event{SessionID: a.SessionID, At: a.At}

	switch a.Type {
	case model.ActionStateChanged:
		p, ok := a.Payload.(model.StateChangedPayload)
		if !ok {
			return
		}
		ev.Type = model.EventStateChange
		ev.From, ev.To, ev.Event = p.From, p.To, p.Event

	case model.ActionBackpressure:
		p, ok := a.Payload.(model.BackpressurePayload)
		if !ok {
			return
		}
		ev.Type = model.EventBackpressure
		ev.Level, ev.RetryAfterMs = p.Level, p.RetryAfterMs

	case model.ActionTranscriptPartial:
		p, ok := a.Payload.(model.TranscriptPayload)
		if !ok {
			return
		}
		ev.Type = model.EventTranscriptPart
		t := p.Transcript
		ev.Transcript = &t

	case model.ActionTranscriptionDone:
		p, ok := a.Payload.(model.TranscriptPayload)
		if !ok {
			return
		}
		ev.Type = model.EventTranscriptFinal
		t := p.Transcript
		t.Final = true
		ev.Transcript = &t

	case model.ActionSessionError:
		p, ok := a.Payload.(model.ErrorPayload)
		if !ok {
			return
		}
		ev.Type = model.EventError
		ev.ErrorKind, ev.ErrorMessage = p.Err.Kind, p.Err.Message

	case model.ActionSessionRejected:
		p, ok := a.Payload.(model.RejectedPayload)
		if !ok {
			return
		}
		ev.Type = model.EventError
		ev.ErrorKind = model.ErrKindValidation
		ev.ErrorMessage = "session rejected: " + p.Reason

	case model.ActionDestroySession:
		// Only if it actually existed.
		last := prev.get(a.SessionID)
		if last == nil {
			return
		}
		if s.archive != nil {
			snap := last.Clone()
			go s.archive(snap)
		}
		ev.Type = model.EventSessionDestroyed
		s.hub.publish(ev)
		s.hub.closeSession(a.SessionID)
		return

	default:
		return
	}

	s.hub.publish(ev)
}
