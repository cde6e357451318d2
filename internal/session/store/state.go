// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package store is the event-sourced heart of the hub: one single-threaded
// reducer owns all session state, effects around it perform I/O and feed
// follow-up actions back through the same stream.
package store

import (
	"github.com/ManuGH/asrhub/internal/session/model"
)

// State is the immutable process-wide session state. The reducer builds a
// new State per applied action; readers hold whatever snapshot they loaded
// and never see partial writes.
type State struct {
	Sessions map[string]*model.Session
	ActiveID string
}

func emptyState() *State {
	return &State{Sessions: map[string]*model.Session{}}
}

// clone makes a shallow map copy so the reducer can install a new version
// without touching the one readers hold. Sessions themselves are replaced,
// never mutated, when they change.
func (s *State) clone() *State {
	next := &State{
		Sessions: make(map[string]*model.Session, len(s.Sessions)),
		ActiveID: s.ActiveID,
	}
	for id, sess := range s.Sessions {
		next.Sessions[id] = sess
	}
	return next
}

// get returns the session or nil.
func (s *State) get(id string) *model.Session {
	if id == "" {
		return nil
	}
	return s.Sessions[id]
}
