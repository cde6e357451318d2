// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package fsm

import "github.com/ManuGH/asrhub/internal/session/model"

// keepAwake decides whether a finished reply returns the session to the
// awake window or drops it back to passive listening.
func keepAwake(ctx Context) model.State {
	if ctx.Session != nil && ctx.Session.WakeTime != nil && ctx.Session.WakeTimeout > 0 {
		return model.StateActivated
	}
	return model.StateListening
}

// nonStreamingTable: wake, record a full utterance, transcribe it in one
// provider call, optionally hand off to LLM/TTS.
var nonStreamingTable = buildTable(model.StateIdle, withCommonEdges(model.StateIdle, []Entry{
	{From: model.StateIdle, Event: model.EvStartListening, To: model.StateListening},
	{From: model.StateListening, Event: model.EvWakeTriggered, To: model.StateActivated},

	{From: model.StateActivated, Event: model.EvWakeTriggered, To: model.StateActivated}, // re-wake refreshes the window
	{From: model.StateActivated, Event: model.EvSpeechDetected, To: model.StateRecording},
	{From: model.StateActivated, Event: model.EvStartRecording, To: model.StateRecording},
	{From: model.StateActivated, Event: model.EvLLMReplyStarted, To: model.StateBusy},

	{From: model.StateRecording, Event: model.EvEndRecording, To: model.StateTranscribing},

	{From: model.StateTranscribing, Event: model.EvTranscriptionDone, To: model.StateActivated},
	{From: model.StateTranscribing, Event: model.EvLLMReplyStarted, To: model.StateBusy},

	{From: model.StateBusy, Event: model.EvLLMReplyStarted, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvLLMReplyFinished, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvTTSStarted, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvTTSFinished, Pick: keepAwake},
	{From: model.StateBusy, Event: model.EvInterruptReply, To: model.StateActivated},
},
	model.StateIdle, model.StateListening, model.StateActivated,
	model.StateRecording, model.StateTranscribing, model.StateBusy,
))

// streamingTable: once speech starts, audio flows to a streaming provider
// and finalisation happens on end-of-stream.
var streamingTable = buildTable(model.StateIdle, withCommonEdges(model.StateIdle, []Entry{
	{From: model.StateIdle, Event: model.EvStartListening, To: model.StateListening},
	{From: model.StateListening, Event: model.EvWakeTriggered, To: model.StateActivated},

	{From: model.StateActivated, Event: model.EvWakeTriggered, To: model.StateActivated},
	{From: model.StateActivated, Event: model.EvSpeechDetected, To: model.StateStreaming},
	{From: model.StateActivated, Event: model.EvStartASRStreaming, To: model.StateStreaming},
	{From: model.StateActivated, Event: model.EvLLMReplyStarted, To: model.StateBusy},

	{From: model.StateStreaming, Event: model.EvEndASRStreaming, To: model.StateTranscribing},
	{From: model.StateStreaming, Event: model.EvEndRecording, To: model.StateTranscribing},

	{From: model.StateTranscribing, Event: model.EvTranscriptionDone, To: model.StateActivated},
	{From: model.StateTranscribing, Event: model.EvLLMReplyStarted, To: model.StateBusy},

	{From: model.StateBusy, Event: model.EvLLMReplyStarted, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvLLMReplyFinished, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvTTSStarted, To: model.StateBusy},
	{From: model.StateBusy, Event: model.EvTTSFinished, Pick: keepAwake},
	{From: model.StateBusy, Event: model.EvInterruptReply, To: model.StateActivated},
},
	model.StateIdle, model.StateListening, model.StateActivated,
	model.StateStreaming, model.StateTranscribing, model.StateBusy,
))

// batchTable: no wake flow; uploaded audio is transcribed on demand and
// the session returns to idle.
var batchTable = buildTable(model.StateIdle, withCommonEdges(model.StateIdle, []Entry{
	{From: model.StateIdle, Event: model.EvStartListening, To: model.StateListening},
	{From: model.StateIdle, Event: model.EvBeginTranscription, To: model.StateTranscribing},
	{From: model.StateListening, Event: model.EvBeginTranscription, To: model.StateTranscribing},
	{From: model.StateTranscribing, Event: model.EvTranscriptionDone, To: model.StateIdle},
},
	model.StateIdle, model.StateListening, model.StateTranscribing,
))

// EventFor maps event-bearing action types onto canonical FSM events.
// Action types with no FSM meaning return false and never reach Next.
func EventFor(t model.ActionType) (model.EventKind, bool) {
	switch t {
	case model.ActionStartListening:
		return model.EvStartListening, true
	case model.ActionWakeTriggered:
		return model.EvWakeTriggered, true
	case model.ActionSpeechDetected:
		return model.EvSpeechDetected, true
	case model.ActionStartRecording:
		return model.EvStartRecording, true
	case model.ActionEndRecording:
		return model.EvEndRecording, true
	case model.ActionBeginTranscription:
		return model.EvBeginTranscription, true
	case model.ActionTranscriptionDone:
		return model.EvTranscriptionDone, true
	case model.ActionStartASRStreaming:
		return model.EvStartASRStreaming, true
	case model.ActionEndASRStreaming:
		return model.EvEndASRStreaming, true
	case model.ActionLLMReplyStarted:
		return model.EvLLMReplyStarted, true
	case model.ActionLLMReplyFinished:
		return model.EvLLMReplyFinished, true
	case model.ActionTTSStarted:
		return model.EvTTSStarted, true
	case model.ActionTTSFinished:
		return model.EvTTSFinished, true
	case model.ActionInterruptReply:
		return model.EvInterruptReply, true
	case model.ActionTimeout:
		return model.EvTimeout, true
	case model.ActionSessionError:
		return model.EvError, true
	case model.ActionRecover:
		return model.EvRecover, true
	case model.ActionReset:
		return model.EvReset, true
	default:
		return "", false
	}
}
