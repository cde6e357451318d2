// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pipeline fans each session's audio through its DSP operators.
// One goroutine per session drains the queue in arrival order; inside a
// chunk the operator branches run in parallel and their derived actions
// are dispatched before the next chunk is taken, which is what gives the
// intra-session ordering guarantee.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/dsp/vad"
	"github.com/ManuGH/asrhub/internal/dsp/wakeword"
	"github.com/ManuGH/asrhub/internal/log"
	"github.com/ManuGH/asrhub/internal/metrics"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// Dispatch feeds derived actions back into the control plane.
type Dispatch func(model.Action)

// SnapshotFunc reads the current session snapshot; ok is false when the
// session no longer exists.
type SnapshotFunc func(sessionID string) (*model.Session, bool)

// Factories build the per-session DSP operators. A nil factory, or a
// factory error, disables that branch for the session; the rest of the
// pipeline keeps running.
type Factories struct {
	VAD  func(cfg vad.DetectorConfig) (vad.Scorer, error)
	Wake func() (map[string]wakeword.Scorer, error)
}

// Config carries pipeline-wide defaults; per-session tunables come from
// the session's PipelineConfig at attach time.
type Config struct {
	Queue audio.QueueConfig
	// MaxRecordingBytes caps the per-session utterance accumulator.
	MaxRecordingBytes int
	// VADSmoothingWindow is the score-smoothing window width.
	VADSmoothingWindow int
	// AdaptiveK is the σ multiplier for the adaptive VAD threshold.
	AdaptiveK float64
}

// Orchestrator owns every per-session pipeline.
type Orchestrator struct {
	cfg       Config
	dispatch  Dispatch
	snapshot  SnapshotFunc
	factories Factories
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionPipeline
	wg       sync.WaitGroup
}

// New builds an orchestrator. dispatch and snapshot are the only edges
// back into the store.
func New(cfg Config, dispatch Dispatch, snapshot SnapshotFunc, factories Factories) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		dispatch:  dispatch,
		snapshot:  snapshot,
		factories: factories,
		logger:    log.WithComponent("pipeline"),
		sessions:  make(map[string]*sessionPipeline),
	}
}

type sessionPipeline struct {
	id        string
	queue     *audio.Queue
	converter *audio.Converter
	recording *accumulator

	// opMu serialises operator access between the drain goroutine and
	// Reset/Detach callers.
	opMu sync.Mutex

	// Operators; nil when the branch is disabled.
	vadDet  *vad.Detector
	wakeDet *wakeword.Detector
	vadRem  []float32 // samples awaiting a full VAD frame

	streamMu sync.Mutex
	stream   chan []byte

	lastLevel model.BackpressureLevel
	cancel    context.CancelFunc
}

// Attach builds the pipeline for a freshly created session and starts
// its drain goroutine. Safe to call once per session.
func (o *Orchestrator) Attach(ctx context.Context, sess *model.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sessions[sess.ID]; ok {
		return
	}

	quality := audio.Quality(sess.Pipeline.ConversionQuality)
	if quality == "" {
		quality = audio.QualityHigh
	}

	p := &sessionPipeline{
		id:        sess.ID,
		queue:     audio.NewQueue(o.cfg.Queue),
		converter: audio.NewConverter(quality),
		recording: newAccumulator(o.cfg.MaxRecordingBytes),
	}

	vadCfg := vad.DetectorConfig{
		Threshold:          float32(sess.Pipeline.VADThreshold),
		AdaptiveThreshold:  sess.Pipeline.AdaptiveThreshold,
		AdaptiveK:          o.cfg.AdaptiveK,
		SmoothingWindow:    o.cfg.VADSmoothingWindow,
		MinSilenceDuration: sess.Pipeline.MinSilenceDuration,
	}
	if o.factories.VAD != nil {
		scorer, err := o.factories.VAD(vadCfg)
		if err != nil {
			o.logger.Warn().Err(err).
				Str(log.FieldSessionID, sess.ID).
				Msg("vad scorer init failed, branch disabled")
		} else {
			p.vadDet = vad.NewDetector(vadCfg, scorer)
		}
	}

	if o.factories.Wake != nil {
		scorers, err := o.factories.Wake()
		if err != nil {
			o.logger.Warn().Err(err).
				Str(log.FieldSessionID, sess.ID).
				Msg("wake scorer init failed, branch disabled")
		} else if len(scorers) > 0 {
			p.wakeDet = wakeword.NewDetector(wakeword.DetectorConfig{
				Threshold: float32(sess.Pipeline.WakeThreshold),
				Cooldown:  sess.Pipeline.WakeCooldown,
			}, scorers)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	o.sessions[sess.ID] = p

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = p.queue.DrainUntil(runCtx, func(c audio.Chunk) bool {
			o.process(p, c)
			return false
		})
	}()
}

// Detach tears the session's pipeline down and drops buffered audio.
func (o *Orchestrator) Detach(sessionID string) {
	o.mu.Lock()
	p, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	p.cancel()
	p.queue.Close()
	p.recording.Clear()
	p.closeStream()

	p.opMu.Lock()
	defer p.opMu.Unlock()
	if p.vadDet != nil {
		_ = p.vadDet.Close()
	}
	if p.wakeDet != nil {
		_ = p.wakeDet.Close()
	}
}

// Reset clears buffered audio and operator state for the session. Called
// on FSM reset; also resets the wake cooldown per contract.
func (o *Orchestrator) Reset(sessionID string) {
	p := o.get(sessionID)
	if p == nil {
		return
	}
	p.queue.Clear()
	p.recording.Clear()
	p.closeStream()

	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.vadRem = nil
	if p.vadDet != nil {
		p.vadDet.Reset()
	}
	if p.wakeDet != nil {
		p.wakeDet.Reset()
	}
}

// ClearBuffer drops queued and accumulated audio without touching
// operator state.
func (o *Orchestrator) ClearBuffer(sessionID string) {
	p := o.get(sessionID)
	if p == nil {
		return
	}
	p.queue.Clear()
	p.recording.Clear()
}

// Push enqueues one ingress chunk and returns the queue disposition.
// Backpressure transitions are dispatched as notices for subscribers.
func (o *Orchestrator) Push(sessionID string, chunk audio.Chunk) (audio.Disposition, bool) {
	p := o.get(sessionID)
	if p == nil {
		return "", false
	}

	disp := p.queue.Push(chunk)
	metrics.AudioBytesReceivedTotal.Add(float64(len(chunk.Data)))

	level := o.backpressureLevel(p, disp)
	if level != p.lastLevel {
		p.lastLevel = level
		if level != "" {
			metrics.BackpressureSignalsTotal.WithLabelValues(string(level)).Inc()
			o.dispatch(model.NewAction(model.ActionBackpressure, sessionID, model.BackpressurePayload{
				Level:        level,
				RetryAfterMs: retryAfterMs(level),
			}))
		}
	}
	return disp, true
}

// QueueStats reports queued bytes and chunks for diagnostics.
func (o *Orchestrator) QueueStats(sessionID string) (bytes, chunks int) {
	p := o.get(sessionID)
	if p == nil {
		return 0, 0
	}
	return p.queue.Bytes(), p.queue.Size()
}

// AppendRecording adds already-canonical PCM to the utterance buffer.
// Used by the upload path, which bypasses the live queue.
func (o *Orchestrator) AppendRecording(sessionID string, pcm []byte) {
	p := o.get(sessionID)
	if p == nil {
		return
	}
	p.recording.Append(pcm)
}

// TakeRecording hands the accumulated utterance to the caller and clears
// the buffer. Used by the transcription effect.
func (o *Orchestrator) TakeRecording(sessionID string) []byte {
	p := o.get(sessionID)
	if p == nil {
		return nil
	}
	return p.recording.Take()
}

// RecordingDuration reports the buffered utterance length.
func (o *Orchestrator) RecordingDuration(sessionID string) time.Duration {
	p := o.get(sessionID)
	if p == nil {
		return 0
	}
	return p.recording.Duration()
}

// OpenStream creates the per-session live audio channel consumed by a
// streaming transcription. Chunks processed while the session is in
// STREAMING are forwarded onto it.
func (o *Orchestrator) OpenStream(sessionID string) <-chan []byte {
	p := o.get(sessionID)
	if p == nil {
		return nil
	}
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if p.stream == nil {
		p.stream = make(chan []byte, 32)
	}
	return p.stream
}

// CloseStream closes the live audio channel, signalling end of input to
// the streaming provider.
func (o *Orchestrator) CloseStream(sessionID string) {
	p := o.get(sessionID)
	if p == nil {
		return
	}
	p.closeStream()
}

// VADStats returns the session's detection statistics.
func (o *Orchestrator) VADStats(sessionID string) (vad.Stats, bool) {
	p := o.get(sessionID)
	if p == nil || p.vadDet == nil {
		return vad.Stats{}, false
	}
	return p.vadDet.Stats(), true
}

// Close tears down every session pipeline and waits for the drain
// goroutines to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()
	for _, id := range ids {
		o.Detach(id)
	}
	o.wg.Wait()
}

func (o *Orchestrator) get(sessionID string) *sessionPipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[sessionID]
}

func (p *sessionPipeline) closeStream() {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if p.stream != nil {
		close(p.stream)
		p.stream = nil
	}
}

func (p *sessionPipeline) forwardStream(pcm []byte) {
	p.streamMu.Lock()
	defer p.streamMu.Unlock()
	if p.stream == nil {
		return
	}
	select {
	case p.stream <- pcm:
	default:
		metrics.AudioChunksDroppedTotal.WithLabelValues("stream_full").Inc()
	}
}

// process runs the operator branches for one chunk. Branches run in
// parallel and are joined before returning, so actions derived from this
// chunk are dispatched before the next chunk is drained.
func (o *Orchestrator) process(p *sessionPipeline, chunk audio.Chunk) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	sess, ok := o.snapshot(p.id)
	if !ok {
		return
	}
	state := sess.FSMState

	// Half-duplex: while the system is speaking, ingress audio is the
	// system's own output; drop it.
	if state == model.StateBusy {
		metrics.AudioChunksDroppedTotal.WithLabelValues("busy").Inc()
		return
	}

	canonical, err := p.converter.Convert(chunk, audio.Canonical)
	if err != nil {
		metrics.PipelineBranchFailuresTotal.WithLabelValues("convert").Inc()
		o.logger.Warn().Err(err).
			Str(log.FieldSessionID, p.id).
			Uint64(log.FieldChunkSeq, chunk.Seq).
			Msg("format conversion failed, chunk skipped")
		return
	}

	if state == model.StateRecording || state == model.StateStreaming {
		p.recording.Append(canonical.Data)
	}
	if state == model.StateStreaming {
		p.forwardStream(canonical.Data)
	}

	samples, err := canonical.Samples()
	if err != nil {
		metrics.PipelineBranchFailuresTotal.WithLabelValues("decode").Inc()
		return
	}

	runWake := p.wakeDet != nil &&
		(state == model.StateIdle || state == model.StateListening || state == model.StateActivated)
	runVAD := p.vadDet != nil &&
		(state == model.StateActivated || state == model.StateRecording || state == model.StateStreaming)

	var (
		wg         sync.WaitGroup
		detections []wakeword.Detection
		vadActs    []model.Action
	)

	if runWake {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dets, err := p.wakeDet.Feed(samples)
			if err != nil {
				metrics.PipelineBranchFailuresTotal.WithLabelValues("wakeword").Inc()
				o.logger.Warn().Err(err).
					Str(log.FieldSessionID, p.id).
					Msg("wake-word branch failed")
			}
			detections = dets
		}()
	}

	if runVAD {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vadActs = o.runVADBranch(p, state, samples)
		}()
	}

	wg.Wait()

	// Wake fires first: activation gates what the VAD edges mean.
	for _, det := range detections {
		metrics.WakeTriggersTotal.WithLabelValues(det.Model).Inc()
		o.dispatch(model.NewAction(model.ActionWakeTriggered, p.id, model.WakeTriggeredPayload{
			Source:  model.WakeSourceWakeWord,
			Trigger: det.Model,
			Score:   float64(det.Score),
		}))
	}
	for _, act := range vadActs {
		o.dispatch(act)
	}
}

// runVADBranch frames the samples and turns detector edges into actions.
func (o *Orchestrator) runVADBranch(p *sessionPipeline, state model.State, samples []float32) []model.Action {
	p.vadRem = append(p.vadRem, samples...)

	var actions []model.Action
	for len(p.vadRem) >= vad.FrameSamples {
		// Score before shifting: the frame aliases the buffer head, and a
		// shift-first order would overwrite it with the next frame's samples.
		res, err := p.vadDet.Process(p.vadRem[:vad.FrameSamples])
		n := copy(p.vadRem, p.vadRem[vad.FrameSamples:])
		p.vadRem = p.vadRem[:n]
		if err != nil {
			metrics.PipelineBranchFailuresTotal.WithLabelValues("vad").Inc()
			o.logger.Warn().Err(err).
				Str(log.FieldSessionID, p.id).
				Msg("vad branch failed")
			return actions
		}

		switch {
		case res.Edge == vad.EdgeSpeechStart:
			actions = append(actions, model.NewAction(model.ActionSpeechDetected, p.id, nil))

		case res.Edge == vad.EdgeSpeechEnd:
			switch state {
			case model.StateRecording:
				actions = append(actions, model.NewAction(model.ActionEndRecording, p.id, model.EndRecordingPayload{
					Trigger:  "vad_timeout",
					Duration: p.recording.Duration(),
				}))
			case model.StateStreaming:
				actions = append(actions, model.NewAction(model.ActionEndASRStreaming, p.id, nil))
			default:
				actions = append(actions, model.NewAction(model.ActionSilenceDetected, p.id, nil))
			}

		case res.IsSpeech && p.vadDet.PendingSilenceFrames() == 1:
			// Onset of a candidate silence run: lets the timer effect arm
			// the wall-clock backstop before the debounce concludes.
			actions = append(actions, model.NewAction(model.ActionSilenceDetected, p.id, nil))
		}
	}
	return actions
}

func (o *Orchestrator) backpressureLevel(p *sessionPipeline, disp audio.Disposition) model.BackpressureLevel {
	if disp == audio.DroppedOverflow {
		return model.BackpressureCritical
	}
	maxBytes := o.cfg.Queue.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 320_000
	}
	fill := float64(p.queue.Bytes()) / float64(maxBytes)
	high := o.cfg.Queue.HighWater
	if high <= 0 || high > 1 {
		high = 0.8
	}
	switch {
	case fill >= high:
		return model.BackpressureHigh
	case fill >= 0.6:
		return model.BackpressureMedium
	case fill >= 0.4:
		return model.BackpressureLow
	default:
		return ""
	}
}

func retryAfterMs(level model.BackpressureLevel) int {
	switch level {
	case model.BackpressureCritical:
		return 1000
	case model.BackpressureHigh:
		return 500
	case model.BackpressureMedium:
		return 200
	default:
		return 100
	}
}
