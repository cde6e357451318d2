// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/session/model"
)

func TestInitialStates(t *testing.T) {
	require.Equal(t, model.StateIdle, Initial(model.StrategyNonStreaming))
	require.Equal(t, model.StateIdle, Initial(model.StrategyStreaming))
	require.Equal(t, model.StateIdle, Initial(model.StrategyBatch))
}

func TestNextHappyPaths(t *testing.T) {
	cases := []struct {
		name     string
		strategy model.Strategy
		from     model.State
		event    model.EventKind
		want     model.State
	}{
		{"idle listens", model.StrategyNonStreaming, model.StateIdle, model.EvStartListening, model.StateListening},
		{"wake activates", model.StrategyNonStreaming, model.StateListening, model.EvWakeTriggered, model.StateActivated},
		{"speech records", model.StrategyNonStreaming, model.StateActivated, model.EvSpeechDetected, model.StateRecording},
		{"recording ends to transcribing", model.StrategyNonStreaming, model.StateRecording, model.EvEndRecording, model.StateTranscribing},
		{"transcription returns to awake", model.StrategyNonStreaming, model.StateTranscribing, model.EvTranscriptionDone, model.StateActivated},
		{"llm claims busy", model.StrategyNonStreaming, model.StateTranscribing, model.EvLLMReplyStarted, model.StateBusy},
		{"interrupt returns to awake", model.StrategyNonStreaming, model.StateBusy, model.EvInterruptReply, model.StateActivated},

		{"speech streams", model.StrategyStreaming, model.StateActivated, model.EvSpeechDetected, model.StateStreaming},
		{"stream end finalises", model.StrategyStreaming, model.StateStreaming, model.EvEndASRStreaming, model.StateTranscribing},
		{"vad end edge also finalises", model.StrategyStreaming, model.StateStreaming, model.EvEndRecording, model.StateTranscribing},

		{"batch transcribes from idle", model.StrategyBatch, model.StateIdle, model.EvBeginTranscription, model.StateTranscribing},
		{"batch returns to idle", model.StrategyBatch, model.StateTranscribing, model.EvTranscriptionDone, model.StateIdle},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Next(tc.strategy, tc.from, tc.event, Context{})
			require.True(t, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNextRejectsMissingEdges(t *testing.T) {
	cases := []struct {
		name     string
		strategy model.Strategy
		from     model.State
		event    model.EventKind
	}{
		{"no wake from idle", model.StrategyNonStreaming, model.StateIdle, model.EvWakeTriggered},
		{"no recording in batch", model.StrategyBatch, model.StateListening, model.EvSpeechDetected},
		{"no streaming edge in non-streaming", model.StrategyNonStreaming, model.StateActivated, model.EvStartASRStreaming},
		{"no end-recording twice", model.StrategyNonStreaming, model.StateTranscribing, model.EvEndRecording},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Next(tc.strategy, tc.from, tc.event, Context{})
			require.False(t, ok)
			require.Equal(t, tc.from, got, "a rejected event must not move the state")
		})
	}
}

func TestRewakeRefreshesWithoutLeaving(t *testing.T) {
	got, ok := Next(model.StrategyNonStreaming, model.StateActivated, model.EvWakeTriggered, Context{})
	require.True(t, ok)
	require.Equal(t, model.StateActivated, got)
}

func TestResetLandsOnRestingState(t *testing.T) {
	// Without a declared format the session resets all the way to IDLE.
	got, ok := Next(model.StrategyNonStreaming, model.StateBusy, model.EvReset, Context{
		Session: &model.Session{},
	})
	require.True(t, ok)
	require.Equal(t, model.StateIdle, got)

	// With a declared format the reset keeps the session listening.
	got, ok = Next(model.StrategyNonStreaming, model.StateBusy, model.EvReset, Context{
		Session: &model.Session{AudioFormat: &audio.Canonical},
	})
	require.True(t, ok)
	require.Equal(t, model.StateListening, got)
}

func TestRecoverReturnsToPreviousState(t *testing.T) {
	got, ok := Next(model.StrategyStreaming, model.StateError, model.EvRecover, Context{
		Session: &model.Session{PreviousState: model.StateStreaming},
	})
	require.True(t, ok)
	require.Equal(t, model.StateStreaming, got)

	// Missing or self-referential previous state falls back to IDLE.
	got, ok = Next(model.StrategyStreaming, model.StateError, model.EvRecover, Context{
		Session: &model.Session{PreviousState: model.StateError},
	})
	require.True(t, ok)
	require.Equal(t, model.StateIdle, got)
}

func TestTTSFinishedHonoursAwakeWindow(t *testing.T) {
	now := time.Now()
	got, ok := Next(model.StrategyNonStreaming, model.StateBusy, model.EvTTSFinished, Context{
		Session: &model.Session{WakeTime: &now, WakeTimeout: 8 * time.Second},
	})
	require.True(t, ok)
	require.Equal(t, model.StateActivated, got)

	got, ok = Next(model.StrategyNonStreaming, model.StateBusy, model.EvTTSFinished, Context{
		Session: &model.Session{},
	})
	require.True(t, ok)
	require.Equal(t, model.StateListening, got)
}

func TestErrorEdgeExistsFromEveryActiveState(t *testing.T) {
	active := []model.State{
		model.StateIdle, model.StateListening, model.StateActivated,
		model.StateRecording, model.StateTranscribing, model.StateBusy,
	}
	for _, s := range active {
		got, ok := Next(model.StrategyNonStreaming, s, model.EvError, Context{})
		require.True(t, ok, "state %s must have an error edge", s)
		require.Equal(t, model.StateError, got)
	}
}

func TestEventForCoversProtocolActions(t *testing.T) {
	ev, ok := EventFor(model.ActionWakeTriggered)
	require.True(t, ok)
	require.Equal(t, model.EvWakeTriggered, ev)

	_, ok = EventFor(model.ActionStateChanged)
	require.False(t, ok, "derived actions have no FSM meaning")
	_, ok = EventFor(model.ActionAudioChunkReceived)
	require.False(t, ok)
}

// FuzzNext checks the transition function is total: any (strategy, state,
// event) combination answers without panicking, and an accepted transition
// always lands on a state the table knows.
func FuzzNext(f *testing.F) {
	f.Add("NON_STREAMING", "IDLE", "START_LISTENING")
	f.Add("STREAMING", "STREAMING", "END_ASR_STREAMING")
	f.Add("BATCH", "TRANSCRIBING", "TRANSCRIPTION_DONE")
	f.Add("NON_STREAMING", "garbage", "also garbage")

	f.Fuzz(func(t *testing.T, strategy, state, event string) {
		st := model.Strategy(strategy)
		from := model.State(state)
		got, ok := Next(st, from, model.EventKind(event), Context{
			Session: &model.Session{PreviousState: model.StateListening},
		})
		if !ok {
			if got != from {
				t.Fatalf("rejected event moved state from %q to %q", from, got)
			}
			return
		}
		if !Contains(st, got) {
			t.Fatalf("transition to state %q unknown to strategy %q", got, st)
		}
	})
}
