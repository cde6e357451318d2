// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package manager is the facade protocol servers talk to. It mints session
// identifiers, pre-validates input, and turns everything else into actions
// on the store; it holds no state of its own.
package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/session/model"
	"github.com/ManuGH/asrhub/internal/session/store"
)

// createWaitTick is how often Create polls for the session to materialise.
const createWaitTick = 2 * time.Millisecond

// Manager is safe for concurrent use by any number of protocol servers.
type Manager struct {
	store  *store.Store
	driver store.PipelineDriver
}

// New wires the facade over a running store and its pipeline driver.
func New(st *store.Store, driver store.PipelineDriver) *Manager {
	return &Manager{store: st, driver: driver}
}

// Create mints an id, dispatches the creation and waits until the session
// exists or the admission layer rejected it. The returned snapshot is a
// copy; it does not track later changes.
func (m *Manager) Create(ctx context.Context, opts model.CreateOptions) (*model.Session, error) {
	if opts.Strategy == "" {
		opts.Strategy = model.StrategyNonStreaming
	}
	if !opts.Strategy.Valid() {
		return nil, model.NewSessionError(model.ErrKindValidation, "unknown strategy %q", opts.Strategy)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("mint session id: %w", err)
	}
	sid := id.String()

	// Subscribe before dispatching so a rejection cannot slip past.
	sub := m.store.Subscribe(sid)
	defer sub.Close()

	m.store.Dispatch(model.NewAction(model.ActionCreateSession, sid, model.CreateSessionPayload{
		ID:      sid,
		Options: opts,
	}))

	tick := time.NewTicker(createWaitTick)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev := <-sub.C():
			if ev.Type == model.EventError {
				return nil, model.NewSessionError(ev.ErrorKind, "%s", ev.ErrorMessage)
			}
		case <-tick.C:
			if sess, ok := m.store.Snapshot(sid); ok {
				return sess, nil
			}
		}
	}
}

// Destroy tears the session down. Unknown ids are an error so clients can
// tell a typo from success.
func (m *Manager) Destroy(id string) error {
	if _, ok := m.store.Snapshot(id); !ok {
		return model.NewSessionError(model.ErrKindSession, "no such session %q", id)
	}
	m.store.Dispatch(model.NewAction(model.ActionDestroySession, id, nil))
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (*model.Session, bool) {
	return m.store.Snapshot(id)
}

// List returns snapshots of all sessions.
func (m *Manager) List() []*model.Session {
	return m.store.List()
}

// SetActive marks the session as the active one for single-focus hosts.
func (m *Manager) SetActive(id string) error {
	if _, ok := m.store.Snapshot(id); !ok {
		return model.NewSessionError(model.ErrKindSession, "no such session %q", id)
	}
	m.store.Dispatch(model.NewAction(model.ActionSetActive, id, nil))
	return nil
}

// Active returns the currently active session, if one is set.
func (m *Manager) Active() (*model.Session, bool) {
	id := m.store.ActiveID()
	if id == "" {
		return nil, false
	}
	return m.store.Snapshot(id)
}

// Touch refreshes the session's idle clock without other effects.
func (m *Manager) Touch(id string) {
	m.store.Dispatch(model.NewAction(model.ActionTouch, id, nil))
}

// StartListening declares the client's audio format and opens the session
// for ingress.
func (m *Manager) StartListening(id string, format audio.Format) error {
	if err := format.Validate(); err != nil {
		return model.NewSessionError(model.ErrKindAudioFormat, "%v", err)
	}
	if _, ok := m.store.Snapshot(id); !ok {
		return model.NewSessionError(model.ErrKindSession, "no such session %q", id)
	}
	m.store.Dispatch(model.NewAction(model.ActionStartListening, id,
		model.StartListeningPayload{Format: format}))
	return nil
}

// PushAudio feeds one chunk into the session's ingress queue and reports
// its disposition synchronously. The chunk goes onto the queue here, not
// through the action stream, so the caller learns about backpressure on
// the same call; the accounting action follows behind.
func (m *Manager) PushAudio(id string, data []byte, format audio.Format) (audio.Disposition, error) {
	sess, ok := m.store.Snapshot(id)
	if !ok {
		return "", model.NewSessionError(model.ErrKindSession, "no such session %q", id)
	}
	if format == (audio.Format{}) {
		if sess.AudioFormat == nil {
			return "", model.NewSessionError(model.ErrKindAudioFormat, "no format declared for session %q", id)
		}
		format = *sess.AudioFormat
	}
	if err := format.Validate(); err != nil {
		return "", model.NewSessionError(model.ErrKindAudioFormat, "%v", err)
	}

	chunk := audio.Chunk{Data: data, Format: format, ReceivedAt: time.Now()}
	disp, accepted := m.driver.Push(id, chunk)
	if !accepted {
		return disp, model.NewSessionError(model.ErrKindStream, "session %q not attached", id)
	}

	m.store.Dispatch(model.NewAction(model.ActionAudioChunkReceived, id,
		model.AudioChunkPayload{Chunk: chunk, Enqueued: true}))
	return disp, nil
}

// Dispatch forwards a protocol action verbatim. The store validates
// everything; garbage is absorbed, never fatal.
func (m *Manager) Dispatch(a model.Action) {
	m.store.Dispatch(a)
}

// Subscribe attaches to the session's event stream.
func (m *Manager) Subscribe(id string) *store.Subscription {
	return m.store.Subscribe(id)
}
