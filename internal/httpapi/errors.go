// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ManuGH/asrhub/internal/session/model"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: http.StatusText(code), Message: msg})
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeSessionError maps the session error taxonomy onto HTTP status
// codes. Admission rejections are the one special case: a full hub is
// 429, not 400.
func writeSessionError(w http.ResponseWriter, err error) {
	var se model.SessionError
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	code := http.StatusInternalServerError
	switch se.Kind {
	case model.ErrKindValidation:
		code = http.StatusBadRequest
		if strings.Contains(se.Message, "max_sessions") {
			code = http.StatusTooManyRequests
		}
	case model.ErrKindAudioFormat:
		code = http.StatusUnsupportedMediaType
	case model.ErrKindSession:
		code = http.StatusNotFound
	case model.ErrKindState:
		code = http.StatusConflict
	case model.ErrKindStream, model.ErrKindPipeline:
		code = http.StatusConflict
	case model.ErrKindTimeout:
		code = http.StatusGatewayTimeout
	case model.ErrKindResource, model.ErrKindProvider:
		code = http.StatusServiceUnavailable
	case model.ErrKindConfiguration:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, errorBody{
		Error:   http.StatusText(code),
		Kind:    string(se.Kind),
		Message: se.Message,
	})
}
