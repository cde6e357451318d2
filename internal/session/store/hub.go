// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"sync"

	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/session/model"
)

const subscriberBuffer = 64

// Subscription is one protocol server's view of a session's event
// stream. The channel closes when the session is destroyed or the
// subscription is closed.
type Subscription struct {
	h         *hub
	sessionID string
	ch        chan model.Event

	once sync.Once
}

// C returns the event channel.
func (s *Subscription) C() <-chan model.Event { return s.ch }

// Close detaches the subscription. Safe to call more than once and
// concurrently with hub delivery.
func (s *Subscription) Close() {
	s.h.remove(s)
}

// hub fans session events out to subscribers. Delivery never blocks the
// reducer loop: a full subscriber drops the event and counts it.
type hub struct {
	mu   sync.Mutex
	subs map[string][]*Subscription
}

func newHub() *hub {
	return &hub{subs: make(map[string][]*Subscription)}
}

func (h *hub) subscribe(sessionID string) *Subscription {
	sub := &Subscription{h: h, sessionID: sessionID, ch: make(chan model.Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], sub)
	h.mu.Unlock()
	return sub
}

func (h *hub) publish(ev model.Event) {
	// Delivery happens under the lock so a concurrent Close cannot race
	// the send; it stays non-blocking, so the reducer loop never stalls.
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			metrics.EventsDroppedTotal.WithLabelValues(string(ev.Type)).Inc()
		}
	}
}

func (h *hub) remove(sub *Subscription) {
	h.mu.Lock()
	lst := h.subs[sub.sessionID]
	out := lst[:0]
	for _, s := range lst {
		if s != sub {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(h.subs, sub.sessionID)
	} else {
		h.subs[sub.sessionID] = out
	}
	sub.once.Do(func() { close(sub.ch) })
	h.mu.Unlock()
}

// closeSession closes every subscription attached to the session.
func (h *hub) closeSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[sessionID] {
		sub.once.Do(func() { close(sub.ch) })
	}
	delete(h.subs, sessionID)
}

// closeAll tears down every subscription (store shutdown).
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
	}
	h.subs = make(map[string][]*Subscription)
}
