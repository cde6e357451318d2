// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/session/model"
)

const (
	sseHeartbeat = 15 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsMaxMessage = 1 << 20 // 1 MiB per frame
)

// handleEvents streams session events as Server-Sent Events. The stream
// ends when the session is destroyed or the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.mgr.Get(id); !ok {
		writeNotFound(w, "no such session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.mgr.Subscribe(id)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: ")); err != nil {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Origin checks are the embedding host's concern; the hub itself binds
// to a private interface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsInbound is a client text frame: either a format declaration or a
// whitelisted action.
type wsInbound struct {
	Type       string `json:"type"`
	Trigger    string `json:"trigger,omitempty"`
	Source     string `json:"source,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
}

// wsOutbound wraps events and synchronous dispositions on the same
// connection.
type wsOutbound struct {
	Type        string       `json:"type"`
	Event       *model.Event `json:"event,omitempty"`
	Disposition string       `json:"disposition,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// handleWebSocket serves the bidirectional protocol: binary frames are
// audio, text frames are control messages, and session events flow back
// as JSON.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := s.mgr.Get(id); !ok {
		writeNotFound(w, "no such session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	sub := s.mgr.Subscribe(id)

	// Writer goroutine owns the connection for writes; the read loop
	// below feeds it through outCh.
	outCh := make(chan wsOutbound, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case msg, open := <-outCh:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if !open {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case ev, open := <-sub.C():
				if !open {
					_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "session destroyed"))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(wsOutbound{Type: "event", Event: &ev}); err != nil {
					return
				}
			}
		}
	}()

	s.readLoop(conn, id, outCh)
	close(outCh)
	<-done
	sub.Close()
	_ = conn.Close()
}

func (s *Server) readLoop(conn *websocket.Conn, id string, outCh chan<- wsOutbound) {
	logger := s.logger.With().Str(log.FieldSessionID, id).Logger()

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			disp, err := s.mgr.PushAudio(id, data, audio.Format{})
			if err != nil {
				offer(outCh, wsOutbound{Type: "error", Error: err.Error()})
				continue
			}
			if disp != audio.Accepted {
				offer(outCh, wsOutbound{Type: "disposition", Disposition: string(disp)})
			}

		case websocket.TextMessage:
			var in wsInbound
			if err := json.Unmarshal(data, &in); err != nil {
				offer(outCh, wsOutbound{Type: "error", Error: "invalid control message"})
				continue
			}
			if err := s.handleWSControl(id, in); err != nil {
				offer(outCh, wsOutbound{Type: "error", Error: err.Error()})
			}
		}
	}
}

// offer is a non-blocking send: notices are advisory, and the writer
// may already be gone when the read loop produces one.
func offer(ch chan<- wsOutbound, msg wsOutbound) {
	select {
	case ch <- msg:
	default:
	}
}

func (s *Server) handleWSControl(id string, in wsInbound) error {
	if in.Type == "listen" {
		return s.mgr.StartListening(id, audio.Format{
			SampleRate: in.SampleRate,
			Channels:   in.Channels,
			Encoding:   audio.Encoding(in.Encoding),
		})
	}
	a, err := clientAction(id, actionRequest{
		Type:    in.Type,
		Trigger: in.Trigger,
		Source:  in.Source,
	})
	if err != nil {
		return err
	}
	s.mgr.Dispatch(a)
	return nil
}
