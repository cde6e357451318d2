// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package fsm holds the declarative per-strategy transition tables and the
// pure transition function. It performs no side effects; the store's FSM
// effect is the only caller that turns its answers into actions.
package fsm

import (
	"github.com/ManuGH/asrhub/internal/session/model"
)

// Context is what guards and dynamic targets may inspect. Both inputs are
// read-only snapshots.
type Context struct {
	Session *model.Session
	Payload any
}

// Guard rejects a transition without side effects.
type Guard func(ctx Context) bool

// Entry is a single allowed edge: a fixed target state, or a Pick function
// for the few edges whose target depends on session context (recover to
// previous state, reset to the strategy's resting state).
type Entry struct {
	From  model.State
	Event model.EventKind
	To    model.State
	Guard Guard
	Pick  func(ctx Context) model.State
}

type tableKey struct {
	from  model.State
	event model.EventKind
}

type table struct {
	initial model.State
	entries map[tableKey]Entry
	states  map[model.State]bool
}

func buildTable(initial model.State, entries []Entry) *table {
	t := &table{
		initial: initial,
		entries: make(map[tableKey]Entry, len(entries)),
		states:  map[model.State]bool{initial: true, model.StateError: true, model.StateTerminated: true},
	}
	for _, e := range entries {
		k := tableKey{from: e.From, event: e.Event}
		if _, dup := t.entries[k]; dup {
			panic("fsm: duplicate transition " + string(e.From) + "|" + string(e.Event))
		}
		t.entries[k] = e
		t.states[e.From] = true
		if e.To != "" {
			t.states[e.To] = true
		}
	}
	return t
}

// Initial returns the strategy's initial state.
func Initial(strategy model.Strategy) model.State {
	return tableFor(strategy).initial
}

// Contains reports whether the state exists in the strategy's table.
func Contains(strategy model.Strategy, state model.State) bool {
	return tableFor(strategy).states[state]
}

// Next computes the target state for (strategy, state, event). The second
// return is false when no transition exists or a guard rejected it; callers
// log that and move on — it is never an error.
func Next(strategy model.Strategy, state model.State, event model.EventKind, ctx Context) (model.State, bool) {
	t := tableFor(strategy)
	e, ok := t.entries[tableKey{from: state, event: event}]
	if !ok {
		return state, false
	}
	if e.Guard != nil && !e.Guard(ctx) {
		return state, false
	}
	if e.Pick != nil {
		return e.Pick(ctx), true
	}
	return e.To, true
}

func tableFor(strategy model.Strategy) *table {
	switch strategy {
	case model.StrategyStreaming:
		return streamingTable
	case model.StrategyBatch:
		return batchTable
	default:
		return nonStreamingTable
	}
}

// restingState is where RESET lands: back to LISTENING once a client has
// declared its audio format, otherwise all the way to the initial state.
func restingState(initial model.State) func(ctx Context) model.State {
	return func(ctx Context) model.State {
		if ctx.Session != nil && ctx.Session.AudioFormat != nil && initial == model.StateIdle {
			return model.StateListening
		}
		return initial
	}
}

// recoverState returns the state the session left before entering ERROR.
func recoverState(ctx Context) model.State {
	if ctx.Session == nil || ctx.Session.PreviousState == "" || ctx.Session.PreviousState == model.StateError {
		return model.StateIdle
	}
	return ctx.Session.PreviousState
}

// withCommonEdges appends the error/recover/reset edges every strategy shares.
func withCommonEdges(initial model.State, entries []Entry, active ...model.State) []Entry {
	for _, s := range active {
		entries = append(entries,
			Entry{From: s, Event: model.EvError, To: model.StateError},
			Entry{From: s, Event: model.EvReset, Pick: restingState(initial)},
		)
	}
	entries = append(entries,
		Entry{From: model.StateError, Event: model.EvRecover, Pick: recoverState},
		Entry{From: model.StateError, Event: model.EvReset, Pick: restingState(initial)},
	)
	return entries
}
