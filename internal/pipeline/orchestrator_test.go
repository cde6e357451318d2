// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package pipeline

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/dsp/vad"
	"github.com/ManuGH/asrhub/internal/dsp/wakeword"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// scriptedVAD replays raw scores, repeating the last one.
type scriptedVAD struct {
	scores []float32
	i      int
}

func (s *scriptedVAD) Score(frame []float32) (float32, error) {
	if s.i < len(s.scores) {
		v := s.scores[s.i]
		s.i++
		return v, nil
	}
	if len(s.scores) == 0 {
		return 0, nil
	}
	return s.scores[len(s.scores)-1], nil
}

func (s *scriptedVAD) Reset()       { s.i = 0 }
func (s *scriptedVAD) Close() error { return nil }

// scriptedWake emits one scripted score per feed.
type scriptedWake struct {
	scores []float32
	i      int
}

func (s *scriptedWake) Feed(samples []float32) ([]float32, error) {
	if s.i >= len(s.scores) {
		return []float32{0}, nil
	}
	v := s.scores[s.i]
	s.i++
	return []float32{v}, nil
}

func (s *scriptedWake) Reset()       { s.i = 0 }
func (s *scriptedWake) Close() error { return nil }

// harness wires an orchestrator to a controllable snapshot and an action
// collector.
type harness struct {
	o    *Orchestrator
	acts chan model.Action

	mu    sync.Mutex
	state model.State
}

func (h *harness) setState(s model.State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func newHarness(t *testing.T, cfg Config, factories Factories) *harness {
	t.Helper()
	h := &harness{acts: make(chan model.Action, 64), state: model.StateListening}

	snapshot := func(id string) (*model.Session, bool) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return &model.Session{
			ID:       id,
			Strategy: model.StrategyNonStreaming,
			FSMState: h.state,
		}, true
	}
	dispatch := func(a model.Action) { h.acts <- a }

	h.o = New(cfg, dispatch, snapshot, factories)
	t.Cleanup(h.o.Close)
	return h
}

func testSession(id string) *model.Session {
	return &model.Session{
		ID:       id,
		Strategy: model.StrategyNonStreaming,
		Pipeline: model.PipelineConfig{
			VADThreshold:       0.5,
			MinSilenceDuration: 32 * time.Millisecond, // one VAD frame
			WakeThreshold:      0.5,
			WakeCooldown:       time.Second,
		},
	}
}

// canonicalChunk returns exactly one VAD frame of canonical audio.
func canonicalChunk(seq uint64) audio.Chunk {
	return audio.Chunk{
		Data:       make([]byte, vad.FrameSamples*2),
		Format:     audio.Canonical,
		Seq:        seq,
		ReceivedAt: time.Now(),
	}
}

func (h *harness) next(t *testing.T) model.Action {
	t.Helper()
	select {
	case a := <-h.acts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched action")
		return model.Action{}
	}
}

func (h *harness) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case a := <-h.acts:
		t.Fatalf("unexpected action %s", a.Type)
	case <-time.After(wait):
	}
}

func TestOrchestratorWakeTriggered(t *testing.T) {
	factories := Factories{
		Wake: func() (map[string]wakeword.Scorer, error) {
			return map[string]wakeword.Scorer{"hey_hub": &scriptedWake{scores: []float32{0.9}}}, nil
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)

	sess := testSession("s1")
	h.o.Attach(context.Background(), sess)

	_, ok := h.o.Push("s1", canonicalChunk(0))
	require.True(t, ok)

	act := h.next(t)
	require.Equal(t, model.ActionWakeTriggered, act.Type)
	payload := act.Payload.(model.WakeTriggeredPayload)
	require.Equal(t, model.WakeSourceWakeWord, payload.Source)
	require.Equal(t, "hey_hub", payload.Trigger)
	require.InDelta(t, 0.9, payload.Score, 1e-6)
}

// capturingVAD records a copy of every frame handed to it.
type capturingVAD struct {
	mu     sync.Mutex
	frames [][]float32
}

func (c *capturingVAD) Score(frame []float32) (float32, error) {
	cp := make([]float32, len(frame))
	copy(cp, frame)
	c.mu.Lock()
	c.frames = append(c.frames, cp)
	c.mu.Unlock()
	return 0, nil
}

func (c *capturingVAD) Reset()       {}
func (c *capturingVAD) Close() error { return nil }

func (c *capturingVAD) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *capturingVAD) frame(i int) []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func TestVADFramingPreservesSampleOrder(t *testing.T) {
	rec := &capturingVAD{}
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) { return rec, nil },
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateActivated)

	h.o.Attach(context.Background(), testSession("s1"))

	// One chunk carrying two frames, every sample tagged with its index:
	// the scorer must see [0..511] then [512..1023], with no overlap.
	data := make([]byte, vad.FrameSamples*2*2)
	for i := 0; i < vad.FrameSamples*2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(i)))
	}
	_, ok := h.o.Push("s1", audio.Chunk{Data: data, Format: audio.Canonical, ReceivedAt: time.Now()})
	require.True(t, ok)

	require.Eventually(t, func() bool { return rec.count() == 2 },
		2*time.Second, 5*time.Millisecond)

	first := rec.frame(0)
	require.InDelta(t, 0.0/32768, first[0], 1e-6)
	require.InDelta(t, 511.0/32768, first[vad.FrameSamples-1], 1e-6)

	second := rec.frame(1)
	require.InDelta(t, 512.0/32768, second[0], 1e-6)
	require.InDelta(t, 1023.0/32768, second[vad.FrameSamples-1], 1e-6)
}

func TestOrchestratorSpeechAndSilenceEdges(t *testing.T) {
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) {
			return &scriptedVAD{scores: []float32{0.9, 0.9, 0.1, 0.1}}, nil
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateActivated)

	sess := testSession("s1")
	h.o.Attach(context.Background(), sess)

	_, ok := h.o.Push("s1", canonicalChunk(0))
	require.True(t, ok)
	act := h.next(t)
	require.Equal(t, model.ActionSpeechDetected, act.Type)

	// Speech continues: frame two, no edge.
	_, _ = h.o.Push("s1", canonicalChunk(1))
	h.expectNone(t, 100*time.Millisecond)

	// Recording now; frame three is the silence onset, frame four ends
	// the segment (min_silence_duration = one frame).
	h.setState(model.StateRecording)
	_, _ = h.o.Push("s1", canonicalChunk(2))
	act = h.next(t)
	require.Equal(t, model.ActionEndRecording, act.Type)
	require.Equal(t, "vad_timeout", act.Payload.(model.EndRecordingPayload).Trigger)
}

func TestOrchestratorDropsChunksWhileBusy(t *testing.T) {
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) {
			return &scriptedVAD{scores: []float32{0.9}}, nil
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateBusy)

	h.o.Attach(context.Background(), testSession("s1"))
	_, ok := h.o.Push("s1", canonicalChunk(0))
	require.True(t, ok)

	h.expectNone(t, 150*time.Millisecond)
}

func TestOrchestratorAccumulatesWhileRecording(t *testing.T) {
	h := newHarness(t, Config{}, Factories{})
	h.setState(model.StateRecording)

	h.o.Attach(context.Background(), testSession("s1"))
	for seq := uint64(0); seq < 3; seq++ {
		_, ok := h.o.Push("s1", canonicalChunk(seq))
		require.True(t, ok)
	}

	require.Eventually(t, func() bool {
		b, _ := h.o.QueueStats("s1")
		return b == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return h.o.RecordingDuration("s1") > 0
	}, 2*time.Second, 10*time.Millisecond)

	pcm := h.o.TakeRecording("s1")
	require.Len(t, pcm, 3*vad.FrameSamples*2)
	require.Zero(t, h.o.RecordingDuration("s1"))
}

func TestOrchestratorBackpressureNotice(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	h := &harness{acts: make(chan model.Action, 64), state: model.StateListening}
	snapshot := func(id string) (*model.Session, bool) {
		// Stall processing so pushes pile up in the queue.
		<-release
		h.mu.Lock()
		defer h.mu.Unlock()
		return &model.Session{ID: id, FSMState: h.state}, true
	}
	h.o = New(Config{
		Queue: audio.QueueConfig{MaxBytes: 8 * vad.FrameSamples * 2, MaxChunks: 16, HighWater: 0.8},
	}, func(a model.Action) { h.acts <- a }, snapshot, Factories{})
	t.Cleanup(func() {
		once.Do(func() { close(release) })
		h.o.Close()
	})

	h.o.Attach(context.Background(), testSession("s1"))

	var sawHigh bool
	for seq := uint64(0); seq < 9; seq++ {
		disp, ok := h.o.Push("s1", canonicalChunk(seq))
		require.True(t, ok)
		if disp == audio.Backpressure {
			sawHigh = true
		}
	}
	require.True(t, sawHigh, "queue must signal backpressure near the cap")

	act := h.next(t)
	require.Equal(t, model.ActionBackpressure, act.Type)

	// One push past the cap evicts the oldest chunk and escalates.
	disp, _ := h.o.Push("s1", canonicalChunk(99))
	require.Equal(t, audio.DroppedOverflow, disp)
	for {
		act = h.next(t)
		require.Equal(t, model.ActionBackpressure, act.Type)
		if act.Payload.(model.BackpressurePayload).Level == model.BackpressureCritical {
			break
		}
	}
	once.Do(func() { close(release) })
}

func TestOrchestratorChunkOrderPreserved(t *testing.T) {
	// Scores alternate full segments: every frame flips the edge, so the
	// dispatched actions reveal processing order.
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) {
			return &scriptedVAD{scores: []float32{0.9, 0.1, 0.9, 0.1}}, nil
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateActivated)

	h.o.Attach(context.Background(), testSession("s1"))
	for seq := uint64(0); seq < 4; seq++ {
		_, ok := h.o.Push("s1", canonicalChunk(seq))
		require.True(t, ok)
	}

	want := []model.ActionType{
		model.ActionSpeechDetected,
		model.ActionSilenceDetected, // debounced end edge in ACTIVATED
		model.ActionSpeechDetected,
		model.ActionSilenceDetected,
	}
	for i, w := range want {
		act := h.next(t)
		require.Equalf(t, w, act.Type, "action %d", i)
	}
}

func TestOrchestratorVADInitFailureSkipsBranch(t *testing.T) {
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) {
			return nil, context.DeadlineExceeded
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateActivated)

	h.o.Attach(context.Background(), testSession("s1"))
	_, ok := h.o.Push("s1", canonicalChunk(0))
	require.True(t, ok)

	// No VAD actions, but the session keeps accepting audio.
	h.expectNone(t, 150*time.Millisecond)
	_, ok = h.o.Push("s1", canonicalChunk(1))
	require.True(t, ok)
}

func TestOrchestratorResetClearsOperators(t *testing.T) {
	factories := Factories{
		VAD: func(cfg vad.DetectorConfig) (vad.Scorer, error) {
			return &scriptedVAD{scores: []float32{0.9}}, nil
		},
	}
	h := newHarness(t, Config{VADSmoothingWindow: 1}, factories)
	h.setState(model.StateActivated)

	h.o.Attach(context.Background(), testSession("s1"))
	_, _ = h.o.Push("s1", canonicalChunk(0))
	act := h.next(t)
	require.Equal(t, model.ActionSpeechDetected, act.Type)

	require.Eventually(t, func() bool {
		_, chunks := h.o.QueueStats("s1")
		return chunks == 0
	}, 2*time.Second, 10*time.Millisecond)

	h.o.Reset("s1")

	// Scorer script restarted: the same frame fires a fresh edge.
	_, _ = h.o.Push("s1", canonicalChunk(1))
	act = h.next(t)
	require.Equal(t, model.ActionSpeechDetected, act.Type)
}

func TestOrchestratorStreamForwarding(t *testing.T) {
	h := newHarness(t, Config{}, Factories{})
	h.setState(model.StateStreaming)

	h.o.Attach(context.Background(), testSession("s1"))
	stream := h.o.OpenStream("s1")
	require.NotNil(t, stream)

	_, ok := h.o.Push("s1", canonicalChunk(0))
	require.True(t, ok)

	select {
	case pcm := <-stream:
		require.Len(t, pcm, vad.FrameSamples*2)
	case <-time.After(2 * time.Second):
		t.Fatal("no audio forwarded to stream")
	}

	h.o.CloseStream("s1")
	_, open := <-stream
	require.False(t, open)
}
