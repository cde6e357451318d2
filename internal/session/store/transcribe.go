// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// transcriber owns the async transcription tasks spawned by FSM
// transitions. Tasks never touch state directly; results come back as
// dispatched actions like everything else.
type transcriber struct {
	s      *Store
	pool   *provider.Pool
	tracer trace.Tracer

	mu    sync.Mutex
	tasks map[string]*task
}

// task is one in-flight transcription; the token identity lets unregister
// tell "my entry" apart from a replacement that raced in.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newTranscriber(s *Store, pool *provider.Pool) *transcriber {
	return &transcriber{
		s:      s,
		pool:   pool,
		tracer: otel.Tracer("asrhub/transcribe"),
		tasks:  make(map[string]*task),
	}
}

// handle reacts to lifecycle transitions. Called from the reducer loop,
// so everything heavy runs in goroutines.
func (t *transcriber) handle(a model.Action, next *State) {
	if t.pool == nil {
		return
	}

	switch a.Type {
	case model.ActionDestroySession:
		t.cancel(a.SessionID)
		t.pool.ReleaseAll(a.SessionID)
		return

	case model.ActionStateChanged:
		// Handled below.
	default:
		return
	}

	p, ok := a.Payload.(model.StateChangedPayload)
	if !ok {
		return
	}
	sess := next.get(a.SessionID)
	if sess == nil {
		return
	}

	switch {
	case p.To == model.StateStreaming:
		t.startStreaming(sess.Clone())

	case p.To == model.StateTranscribing && p.From == model.StateStreaming:
		// End of the utterance: closing the stream input drains the
		// provider, which emits its final and finishes the task.
		if t.s.pipeline != nil {
			t.s.pipeline.CloseStream(a.SessionID)
		}

	case p.To == model.StateTranscribing:
		t.startBatch(sess.Clone())

	case p.To == model.StateError, p.Event == model.EvReset:
		t.cancel(a.SessionID)
		if t.s.pipeline != nil && p.From == model.StateStreaming {
			t.s.pipeline.CloseStream(a.SessionID)
		}
	}
}

func (t *transcriber) startBatch(sess *model.Session) {
	if t.s.pipeline == nil {
		return
	}
	pcm := t.s.pipeline.TakeRecording(sess.ID)
	tk := t.register(sess.ID)

	go func() {
		defer t.unregister(sess.ID, tk)

		ctx, span := t.tracer.Start(tk.ctx, "transcribe.batch",
			trace.WithAttributes(
				attribute.String("strategy", string(sess.Strategy)),
				attribute.Int("pcm_bytes", len(pcm)),
			))
		defer span.End()

		start := time.Now()
		var result model.Transcript
		err := t.pool.WithLease(ctx, sess.ID, sess.Priority, t.s.cfg.LeaseTimeout, func(prov provider.Provider) error {
			tr, err := prov.Transcribe(ctx, pcm, t.options(sess))
			if err != nil {
				t.pool.MarkFailure(prov, err)
				return err
			}
			t.pool.MarkSuccess(prov)
			result = tr
			return nil
		})
		metrics.TranscriptionSeconds.Observe(time.Since(start).Seconds())

		if err != nil {
			t.finishWithError(ctx, sess.ID, err)
			return
		}
		metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
		t.s.Dispatch(model.NewAction(model.ActionTranscriptionDone, sess.ID,
			model.TranscriptPayload{Transcript: result}))
	}()
}

func (t *transcriber) startStreaming(sess *model.Session) {
	if t.s.pipeline == nil {
		return
	}
	in := t.s.pipeline.OpenStream(sess.ID)
	tk := t.register(sess.ID)

	go func() {
		defer t.unregister(sess.ID, tk)

		ctx, span := t.tracer.Start(tk.ctx, "transcribe.stream",
			trace.WithAttributes(attribute.String("strategy", string(sess.Strategy))))
		defer span.End()

		start := time.Now()
		var finals []string
		var last model.Transcript

		err := t.pool.WithLease(ctx, sess.ID, sess.Priority, t.s.cfg.LeaseTimeout, func(prov provider.Provider) error {
			out, err := prov.TranscribeStream(ctx, in, t.options(sess))
			if err != nil {
				t.pool.MarkFailure(prov, err)
				return err
			}
			for chunk := range out {
				if chunk.Err != nil {
					t.pool.MarkFailure(prov, chunk.Err)
					return chunk.Err
				}
				last = chunk.Transcript
				if chunk.Transcript.Final {
					// Endpoint final inside a continuing stream; collected
					// for the session-level final at stream end.
					if s := strings.TrimSpace(chunk.Transcript.Text); s != "" {
						finals = append(finals, s)
					}
				}
				t.s.Dispatch(model.NewAction(model.ActionTranscriptPartial, sess.ID,
					model.TranscriptPayload{Transcript: chunk.Transcript}))
			}
			t.pool.MarkSuccess(prov)
			return nil
		})
		metrics.TranscriptionSeconds.Observe(time.Since(start).Seconds())

		if err != nil {
			t.finishWithError(ctx, sess.ID, err)
			return
		}

		final := last
		if len(finals) > 0 {
			final.Text = strings.Join(finals, " ")
		}
		final.Final = true
		metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
		t.s.Dispatch(model.NewAction(model.ActionTranscriptionDone, sess.ID,
			model.TranscriptPayload{Transcript: final}))
	}()
}

func (t *transcriber) options(sess *model.Session) provider.Options {
	opts := provider.Options{Language: t.s.cfg.Language}
	if sess.AudioFormat != nil {
		opts.Format = *sess.AudioFormat
	}
	return opts
}

// finishWithError maps pool and engine failures onto the error taxonomy
// and pushes the session into its ERROR edge. Cancellation is not an
// error: the session already moved on.
func (t *transcriber) finishWithError(ctx context.Context, sessionID string, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		metrics.TranscriptionsTotal.WithLabelValues("cancelled").Inc()
		return
	}

	kind := model.ErrKindProvider
	switch {
	case errors.Is(err, provider.ErrLeaseTimeout), errors.Is(err, provider.ErrNoCapacityForSession):
		kind = model.ErrKindTimeout
	case errors.Is(err, provider.ErrInitializationFailed), errors.Is(err, provider.ErrPoolClosed):
		kind = model.ErrKindResource
	}

	metrics.TranscriptionsTotal.WithLabelValues("error").Inc()
	t.s.logger.Error().
		Err(err).
		Str(log.FieldSessionID, sessionID).
		Msg("transcription failed")
	t.s.Dispatch(model.NewAction(model.ActionSessionError, sessionID, model.ErrorPayload{
		Err: model.NewSessionError(kind, "transcription failed: %v", err),
	}))
}

// register creates the session's task, cancelling any predecessor.
func (t *transcriber) register(sessionID string) *task {
	parent := t.s.runCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	tk := &task{ctx: ctx, cancel: cancel}

	t.mu.Lock()
	if prev, ok := t.tasks[sessionID]; ok {
		prev.cancel()
	}
	t.tasks[sessionID] = tk
	t.mu.Unlock()
	return tk
}

func (t *transcriber) unregister(sessionID string, tk *task) {
	t.mu.Lock()
	if t.tasks[sessionID] == tk {
		delete(t.tasks, sessionID)
	}
	t.mu.Unlock()
	tk.cancel()
}

func (t *transcriber) cancel(sessionID string) {
	t.mu.Lock()
	tk, ok := t.tasks[sessionID]
	if ok {
		delete(t.tasks, sessionID)
	}
	t.mu.Unlock()
	if ok {
		tk.cancel()
	}
}

func (t *transcriber) cancelAll() {
	t.mu.Lock()
	all := make([]*task, 0, len(t.tasks))
	for id, tk := range t.tasks {
		all = append(all, tk)
		delete(t.tasks, id)
	}
	t.mu.Unlock()
	for _, tk := range all {
		tk.cancel()
	}
}
