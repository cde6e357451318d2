// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/session/model"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

// handleReadyz reports readiness: the pool must have at least one healthy
// provider or headroom to create one.
func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	st := s.pool.Stats()
	ready := st.Healthy > 0 || st.Created == 0
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ready":     ready,
		"healthy":   st.Healthy,
		"unhealthy": st.Unhealthy,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var opts model.CreateOptions
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	sess, err := s.mgr.Create(r.Context(), opts)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.mgr.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, ok := s.mgr.Get(id)
	if !ok {
		writeNotFound(w, "no such session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.mgr.Destroy(id); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.mgr.SetActive(id); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listenRequest struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

func (s *Server) handleStartListening(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req listenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	format := audio.Format{
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Encoding:   audio.Encoding(req.Encoding),
	}
	if err := s.mgr.StartListening(id, format); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handlePushAudio takes raw PCM in the request body. The format comes
// from query parameters, or from the session's declared format when
// absent. The disposition is returned synchronously so HTTP clients get
// the same backpressure signal WebSocket clients do.
func (s *Server) handlePushAudio(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio payload too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio payload")
		return
	}

	format, err := formatFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	disp, err := s.mgr.PushAudio(id, data, format)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	resp := map[string]any{"disposition": string(disp)}
	switch disp {
	case audio.Backpressure:
		resp["retryAfterMs"] = 100
	case audio.DroppedOverflow:
		resp["retryAfterMs"] = 1000
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatFromQuery parses an optional explicit format. All three
// parameters must be given together; a zero Format defers to the
// session's declared one.
func formatFromQuery(r *http.Request) (audio.Format, error) {
	q := r.URL.Query()
	sr, ch, enc := q.Get("sampleRate"), q.Get("channels"), q.Get("encoding")
	if sr == "" && ch == "" && enc == "" {
		return audio.Format{}, nil
	}

	var f audio.Format
	var err error
	if f.SampleRate, err = strconv.Atoi(sr); err != nil {
		return audio.Format{}, model.NewSessionError(model.ErrKindAudioFormat, "invalid sampleRate %q", sr)
	}
	if f.Channels, err = strconv.Atoi(ch); err != nil {
		return audio.Format{}, model.NewSessionError(model.ErrKindAudioFormat, "invalid channels %q", ch)
	}
	f.Encoding = audio.Encoding(enc)
	return f, nil
}

// actionRequest is the generic client-action envelope. Only a whitelist
// of action types is accepted here; reducer-internal actions (state
// changes, timeouts, transcripts) stay server-side.
type actionRequest struct {
	Type    string `json:"type"`
	Trigger string `json:"trigger,omitempty"`
	Source  string `json:"source,omitempty"`
}

func (s *Server) handleDispatchAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.mgr.Get(id); !ok {
		writeNotFound(w, "no such session")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	a, err := clientAction(id, req)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.mgr.Dispatch(a)
	w.WriteHeader(http.StatusAccepted)
}

// clientAction maps a whitelisted action name onto a typed action.
func clientAction(id string, req actionRequest) (model.Action, error) {
	switch model.ActionType(req.Type) {
	case model.ActionWakeTriggered:
		source := model.WakeSource(req.Source)
		if source == "" {
			source = model.WakeSourceUI
		}
		return model.NewAction(model.ActionWakeTriggered, id, model.WakeTriggeredPayload{
			Source:  source,
			Trigger: req.Trigger,
		}), nil

	case model.ActionEndRecording:
		return model.NewAction(model.ActionEndRecording, id, model.EndRecordingPayload{
			Trigger: "client",
		}), nil

	case model.ActionStartRecording,
		model.ActionEndASRStreaming,
		model.ActionBeginTranscription,
		model.ActionLLMReplyStarted,
		model.ActionLLMReplyFinished,
		model.ActionTTSStarted,
		model.ActionTTSFinished,
		model.ActionInterruptReply,
		model.ActionClearAudioBuffer,
		model.ActionRecover,
		model.ActionReset,
		model.ActionTouch:
		return model.NewAction(model.ActionType(req.Type), id, nil), nil

	default:
		return model.Action{}, model.NewSessionError(model.ErrKindValidation,
			"action %q is not client-dispatchable", req.Type)
	}
}

// handleUpload ingests a complete WAV file for batch transcription.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.mgr.Get(id); !ok {
		writeNotFound(w, "no such session")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.wav"
	}
	s.mgr.Dispatch(model.NewAction(model.ActionUploadFile, id, model.UploadFilePayload{
		Name: name,
		Data: data,
	}))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": true,
		"bytes":    len(data),
	})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	st := s.pool.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"created":   st.Created,
		"leased":    st.Leased,
		"released":  st.Released,
		"timeouts":  st.Timeouts,
		"errors":    st.Errors,
		"available": st.Available,
		"inUse":     st.InUse,
		"waiting":   st.Waiting,
		"healthy":   st.Healthy,
		"unhealthy": st.Unhealthy,
		"avgWaitMs": st.AvgWait.Milliseconds(),
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if s.holder == nil {
		writeError(w, http.StatusServiceUnavailable, "hot reload not configured")
		return
	}
	if err := s.holder.Reload(r.Context()); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reload rejected: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	list, err := s.archive.List(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

func (s *Server) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.archive.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess == nil {
		writeNotFound(w, "no archived session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
