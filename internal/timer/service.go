// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package timer provides named per-session timers that dispatch actions on
// expiry. The service never invokes user code directly; everything goes
// through the same dispatch handle the rest of the system uses, so stale
// expiries are absorbed by the reducer's idempotence.
package timer

import (
	"sync"
	"time"

	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// Canonical timer names. Durations are configured per deployment.
const (
	NameAwake       = "awake"
	NameLLMClaim    = "llm_claim"
	NameTTSClaim    = "tts_claim"
	NameRecording   = "recording"
	NameStreaming   = "streaming"
	NameSessionIdle = "session_idle"
	NameVADSilence  = "vad_silence"
)

// Dispatch is the only outbound edge of the service.
type Dispatch func(model.Action)

type timerKey struct {
	sessionID string
	name      string
}

// armed ties a map entry to the generation that created it, so a stale
// expiry cannot unregister a replacement timer under the same key.
type armed struct {
	timer *time.Timer
	gen   uint64
}

// Service owns all live timers. At most one timer exists per
// (session, name); re-starting replaces the previous one.
type Service struct {
	dispatch Dispatch

	mu     sync.Mutex
	timers map[timerKey]armed
	gen    uint64
	closed bool
}

// NewService returns a timer service dispatching through fn.
func NewService(fn Dispatch) *Service {
	return &Service{dispatch: fn, timers: make(map[timerKey]armed)}
}

// Start arms (or replaces) the named timer. On expiry the stored action is
// dispatched; an in-flight expiry racing Cancel may still deliver, which the
// reducer treats as a no-op on non-matching states.
func (s *Service) Start(sessionID, name string, d time.Duration, onExpiry model.Action) {
	if d <= 0 {
		return
	}
	key := timerKey{sessionID: sessionID, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.timers[key]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := time.AfterFunc(d, func() {
		s.expire(key, gen, onExpiry)
	})
	s.timers[key] = armed{timer: t, gen: gen}
}

func (s *Service) expire(key timerKey, gen uint64, action model.Action) {
	s.mu.Lock()
	// A replaced timer may fire after its Stop raced the callback; it must
	// not unregister the entry the replacement now owns.
	if cur, ok := s.timers[key]; ok && cur.gen == gen {
		delete(s.timers, key)
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	logger := log.WithComponent("timer")
	logger.Debug().
		Str(log.FieldSessionID, key.sessionID).
		Str(log.FieldTimerName, key.name).
		Str(log.FieldAction, string(action.Type)).
		Msg("timer expired")
	s.dispatch(action)
}

// Cancel stops the named timer if present.
func (s *Service) Cancel(sessionID, name string) {
	key := timerKey{sessionID: sessionID, name: name}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// CancelAll stops every timer belonging to the session.
func (s *Service) CancelAll(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		if key.sessionID == sessionID {
			t.timer.Stop()
			delete(s.timers, key)
		}
	}
}

// Active reports whether the named timer is currently armed.
func (s *Service) Active(sessionID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[timerKey{sessionID: sessionID, name: name}]
	return ok
}

// Count returns the number of armed timers across all sessions.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops all timers; subsequent Start calls are ignored.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}
