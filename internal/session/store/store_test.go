// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ── fakes ──────────────────────────────────────────────────────────────

// fakePipeline satisfies PipelineDriver without any DSP machinery.
type fakePipeline struct {
	mu         sync.Mutex
	attached   map[string]bool
	recordings map[string][]byte
	streams    map[string]chan []byte
	pushed     int
	resets     int
	cleared    int
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		attached:   make(map[string]bool),
		recordings: make(map[string][]byte),
		streams:    make(map[string]chan []byte),
	}
}

func (f *fakePipeline) Attach(_ context.Context, sess *model.Session) {
	f.mu.Lock()
	f.attached[sess.ID] = true
	f.mu.Unlock()
}

func (f *fakePipeline) Detach(id string) {
	f.mu.Lock()
	delete(f.attached, id)
	if ch, ok := f.streams[id]; ok {
		close(ch)
		delete(f.streams, id)
	}
	f.mu.Unlock()
}

func (f *fakePipeline) Reset(string)       { f.mu.Lock(); f.resets++; f.mu.Unlock() }
func (f *fakePipeline) ClearBuffer(string) { f.mu.Lock(); f.cleared++; f.mu.Unlock() }

func (f *fakePipeline) Push(id string, chunk audio.Chunk) (audio.Disposition, bool) {
	f.mu.Lock()
	f.pushed++
	f.mu.Unlock()
	return audio.Accepted, true
}

func (f *fakePipeline) AppendRecording(id string, pcm []byte) {
	f.mu.Lock()
	f.recordings[id] = append(f.recordings[id], pcm...)
	f.mu.Unlock()
}

func (f *fakePipeline) TakeRecording(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	pcm := f.recordings[id]
	delete(f.recordings, id)
	return pcm
}

func (f *fakePipeline) RecordingDuration(id string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return audio.Canonical.Duration(len(f.recordings[id]))
}

func (f *fakePipeline) OpenStream(id string) <-chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.streams[id] = ch
	return ch
}

func (f *fakePipeline) CloseStream(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.streams[id]; ok {
		close(ch)
		delete(f.streams, id)
	}
}

func (f *fakePipeline) sendStream(id string, data []byte) bool {
	f.mu.Lock()
	ch, ok := f.streams[id]
	f.mu.Unlock()
	if !ok {
		return false
	}
	ch <- data
	return true
}

func (f *fakePipeline) attachedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attached)
}

func (f *fakePipeline) pushedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed
}

// fakeASR is a deterministic engine: batch calls echo a fixed text,
// streaming calls emit one partial per input chunk and a final at close.
type fakeASR struct {
	text string
	err  error
}

func (f *fakeASR) Transcribe(_ context.Context, pcm []byte, _ provider.Options) (model.Transcript, error) {
	if f.err != nil {
		return model.Transcript{}, f.err
	}
	return model.Transcript{Text: f.text, Confidence: 0.93, Final: true}, nil
}

func (f *fakeASR) TranscribeStream(ctx context.Context, in <-chan []byte, _ provider.Options) (<-chan provider.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan provider.StreamChunk, 16)
	go func() {
		defer close(out)
		n := 0
		for range in {
			n++
			select {
			case out <- provider.StreamChunk{Transcript: model.Transcript{Text: fmt.Sprintf("part %d", n)}}:
			case <-ctx.Done():
				return
			}
		}
		out <- provider.StreamChunk{Transcript: model.Transcript{Text: f.text, Final: true}}
	}()
	return out, nil
}

func (f *fakeASR) Initialize(context.Context) error { return nil }
func (f *fakeASR) Warmup(context.Context) error     { return nil }
func (f *fakeASR) Cleanup() error                   { return nil }
func (f *fakeASR) HealthCheck(context.Context) bool { return true }

// ── harness ────────────────────────────────────────────────────────────

func newTestStore(t *testing.T, cfg Config, engine *fakeASR) (*Store, *fakePipeline) {
	t.Helper()
	if engine == nil {
		engine = &fakeASR{text: "hello world"}
	}
	pool := provider.NewPool(provider.Config{MaxSize: 2, LeaseTimeout: time.Second},
		func(context.Context) (provider.Provider, error) { return engine, nil })

	s := New(cfg, pool)
	fp := newFakePipeline()
	s.BindPipeline(fp)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = pool.Shutdown(context.Background())
	})
	return s, fp
}

func waitForState(t *testing.T, s *Store, id string, want model.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		sess, ok := s.Snapshot(id)
		return ok && sess.FSMState == want
	}, 3*time.Second, 5*time.Millisecond, "session %s never reached %s", id, want)
}

func dispatchCreate(s *Store, id string, opts model.CreateOptions) {
	s.Dispatch(model.NewAction(model.ActionCreateSession, id, model.CreateSessionPayload{ID: id, Options: opts}))
}

func makeWAV(pcm []byte) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))     // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))     // mono
	_ = binary.Write(&b, binary.LittleEndian, uint32(16000)) // sample rate
	_ = binary.Write(&b, binary.LittleEndian, uint32(32000)) // byte rate
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))     // block align
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))    // bits
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}

// ── tests ──────────────────────────────────────────────────────────────

func TestStoreHappyPathNonStreaming(t *testing.T) {
	s, fp := newTestStore(t, Config{}, nil)

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyNonStreaming})
	waitForState(t, s, "s1", model.StateIdle)
	require.Eventually(t, func() bool { return fp.attachedCount() == 1 }, time.Second, 5*time.Millisecond)

	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	waitForState(t, s, "s1", model.StateListening)

	s.Dispatch(model.NewAction(model.ActionWakeTriggered, "s1", model.WakeTriggeredPayload{
		Source: model.WakeSourceWakeWord, Trigger: "alexa", Score: 0.9,
	}))
	waitForState(t, s, "s1", model.StateActivated)

	s.Dispatch(model.NewAction(model.ActionSpeechDetected, "s1", nil))
	waitForState(t, s, "s1", model.StateRecording)

	fp.AppendRecording("s1", make([]byte, 3200))
	s.Dispatch(model.NewAction(model.ActionEndRecording, "s1",
		model.EndRecordingPayload{Trigger: "client"}))

	// Transcription runs async and lands the session back in ACTIVATED.
	require.Eventually(t, func() bool {
		sess, ok := s.Snapshot("s1")
		return ok && sess.FSMState == model.StateActivated &&
			sess.Transcription != nil && sess.Transcription.Final &&
			sess.Transcription.Text == "hello world"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestStoreStreamingLifecycle(t *testing.T) {
	s, fp := newTestStore(t, Config{}, &fakeASR{text: "turn on the lights"})
	sub := s.Subscribe("s1")
	defer sub.Close()

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyStreaming})
	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	s.Dispatch(model.NewAction(model.ActionWakeTriggered, "s1", model.WakeTriggeredPayload{
		Source: model.WakeSourceUI, Trigger: "tap",
	}))
	s.Dispatch(model.NewAction(model.ActionSpeechDetected, "s1", nil))
	waitForState(t, s, "s1", model.StateStreaming)

	require.Eventually(t, func() bool {
		return fp.sendStream("s1", make([]byte, 1024))
	}, time.Second, 5*time.Millisecond)

	// A partial must surface before the stream ends.
	require.Eventually(t, func() bool {
		sess, _ := s.Snapshot("s1")
		return sess != nil && sess.Transcription != nil && !sess.Transcription.Final
	}, 2*time.Second, 5*time.Millisecond)

	s.Dispatch(model.NewAction(model.ActionEndASRStreaming, "s1", nil))

	require.Eventually(t, func() bool {
		sess, _ := s.Snapshot("s1")
		return sess != nil && sess.FSMState == model.StateActivated &&
			sess.Transcription != nil && sess.Transcription.Final &&
			sess.Transcription.Text == "turn on the lights"
	}, 3*time.Second, 5*time.Millisecond)

	// The subscription saw partial then final.
	var sawPartial, sawFinal bool
	deadline := time.After(time.Second)
	for !sawFinal {
		select {
		case ev := <-sub.C():
			switch ev.Type {
			case model.EventTranscriptPart:
				sawPartial = true
			case model.EventTranscriptFinal:
				sawFinal = true
			}
		case <-deadline:
			t.Fatal("no final transcript event")
		}
	}
	require.True(t, sawPartial)
}

func TestStoreRejectsBeyondMaxSessions(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxSessions: 1}, nil)
	sub := s.Subscribe("b")
	defer sub.Close()

	dispatchCreate(s, "a", model.CreateOptions{Strategy: model.StrategyNonStreaming})
	waitForState(t, s, "a", model.StateIdle)
	dispatchCreate(s, "b", model.CreateOptions{Strategy: model.StrategyNonStreaming})

	select {
	case ev := <-sub.C():
		require.Equal(t, model.EventError, ev.Type)
		require.Equal(t, model.ErrKindValidation, ev.ErrorKind)
		require.Contains(t, ev.ErrorMessage, "max_sessions")
	case <-time.After(time.Second):
		t.Fatal("no rejection event")
	}
	require.Equal(t, 1, s.Len())
}

func TestStoreAwakeWindowExpiresToListening(t *testing.T) {
	s, _ := newTestStore(t, Config{}, nil)

	dispatchCreate(s, "s1", model.CreateOptions{
		Strategy:    model.StrategyNonStreaming,
		WakeTimeout: 40 * time.Millisecond,
	})
	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	s.Dispatch(model.NewAction(model.ActionWakeTriggered, "s1", model.WakeTriggeredPayload{
		Source: model.WakeSourceWakeWord, Trigger: "alexa",
	}))
	waitForState(t, s, "s1", model.StateActivated)

	// With a declared format the reset lands back in LISTENING, and the
	// wake bookkeeping is cleared.
	waitForState(t, s, "s1", model.StateListening)
	sess, _ := s.Snapshot("s1")
	require.Empty(t, sess.WakeTrigger)
	require.Nil(t, sess.WakeTime)
}

func TestStoreStaleTimerExpiryIsHarmless(t *testing.T) {
	s, fp := newTestStore(t, Config{}, nil)

	dispatchCreate(s, "s1", model.CreateOptions{
		Strategy: model.StrategyNonStreaming,
		Pipeline: model.PipelineConfig{MinSilenceDuration: 20 * time.Millisecond},
	})
	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	s.Dispatch(model.NewAction(model.ActionWakeTriggered, "s1", model.WakeTriggeredPayload{
		Source: model.WakeSourceUI, Trigger: "tap",
	}))
	s.Dispatch(model.NewAction(model.ActionSpeechDetected, "s1", nil))
	waitForState(t, s, "s1", model.StateRecording)

	// Arm the silence backstop, then beat it with a client stop. The stale
	// expiry arrives in a state with no matching edge and must change nothing.
	s.Dispatch(model.NewAction(model.ActionSilenceDetected, "s1", nil))
	fp.AppendRecording("s1", make([]byte, 640))
	s.Dispatch(model.NewAction(model.ActionEndRecording, "s1",
		model.EndRecordingPayload{Trigger: "client"}))
	waitForState(t, s, "s1", model.StateActivated)

	time.Sleep(60 * time.Millisecond)
	sess, _ := s.Snapshot("s1")
	require.Equal(t, model.StateActivated, sess.FSMState)
	require.True(t, sess.Error.IsZero())
}

func TestStoreBatchUpload(t *testing.T) {
	s, fp := newTestStore(t, Config{}, &fakeASR{text: "uploaded speech"})

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyBatch})
	waitForState(t, s, "s1", model.StateIdle)

	pcm := make([]byte, 6400)
	s.Dispatch(model.NewAction(model.ActionUploadFile, "s1",
		model.UploadFilePayload{Name: "utt.wav", Data: makeWAV(pcm)}))

	require.Eventually(t, func() bool {
		sess, ok := s.Snapshot("s1")
		return ok && sess.FSMState == model.StateIdle &&
			sess.Transcription != nil && sess.Transcription.Final &&
			sess.Transcription.Text == "uploaded speech"
	}, 3*time.Second, 5*time.Millisecond)

	sess, _ := s.Snapshot("s1")
	require.Equal(t, uint64(len(pcm)), sess.AudioBytesReceived)
	// The upload bypasses the live ingress queue.
	require.Zero(t, fp.pushedCount())
}

func TestStoreChunkedUpload(t *testing.T) {
	s, _ := newTestStore(t, Config{}, &fakeASR{text: "chunked speech"})

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyBatch})
	waitForState(t, s, "s1", model.StateIdle)

	wav := makeWAV(make([]byte, 3200))
	mid := len(wav) / 2
	s.Dispatch(model.NewAction(model.ActionChunkUploadStart, "s1", nil))
	s.Dispatch(model.NewAction(model.ActionChunkUploadData, "s1", model.ChunkUploadDataPayload{Data: wav[:mid]}))
	s.Dispatch(model.NewAction(model.ActionChunkUploadData, "s1", model.ChunkUploadDataPayload{Data: wav[mid:]}))
	s.Dispatch(model.NewAction(model.ActionChunkUploadDone, "s1", nil))

	require.Eventually(t, func() bool {
		sess, ok := s.Snapshot("s1")
		return ok && sess.Transcription != nil && sess.Transcription.Text == "chunked speech"
	}, 3*time.Second, 5*time.Millisecond)
}

func TestStoreUploadRejectsNonWAV(t *testing.T) {
	s, _ := newTestStore(t, Config{}, nil)
	sub := s.Subscribe("s1")
	defer sub.Close()

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyBatch})
	waitForState(t, s, "s1", model.StateIdle)

	s.Dispatch(model.NewAction(model.ActionUploadFile, "s1",
		model.UploadFilePayload{Name: "junk.bin", Data: []byte("definitely not audio")}))

	select {
	case ev := <-sub.C():
		require.Equal(t, model.EventError, ev.Type)
		require.Equal(t, model.ErrKindAudioFormat, ev.ErrorKind)
	case <-time.After(time.Second):
		t.Fatal("no format error event")
	}

	// A bad upload never disturbs the session itself.
	sess, _ := s.Snapshot("s1")
	require.Equal(t, model.StateIdle, sess.FSMState)
	require.True(t, sess.Error.IsZero())
}

func TestStoreDestroyClosesSubscriptions(t *testing.T) {
	s, fp := newTestStore(t, Config{}, nil)
	sub := s.Subscribe("s1")
	defer sub.Close()

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyNonStreaming})
	waitForState(t, s, "s1", model.StateIdle)
	s.Dispatch(model.NewAction(model.ActionDestroySession, "s1", nil))

	var destroyed, closed bool
	deadline := time.After(2 * time.Second)
	for !closed {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				closed = true
				break
			}
			if ev.Type == model.EventSessionDestroyed {
				destroyed = true
			}
		case <-deadline:
			t.Fatal("subscription never closed")
		}
	}
	require.True(t, destroyed)
	require.Zero(t, s.Len())
	require.Eventually(t, func() bool { return fp.attachedCount() == 0 }, time.Second, 5*time.Millisecond)
	require.Zero(t, s.Timers().Count())
}

func TestStoreBackpressureEventDelivery(t *testing.T) {
	s, _ := newTestStore(t, Config{}, nil)
	sub := s.Subscribe("s1")
	defer sub.Close()

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyStreaming})
	waitForState(t, s, "s1", model.StateIdle)

	s.Dispatch(model.NewAction(model.ActionBackpressure, "s1", model.BackpressurePayload{
		Level: model.BackpressureCritical, RetryAfterMs: 1000,
	}))

	select {
	case ev := <-sub.C():
		require.Equal(t, model.EventBackpressure, ev.Type)
		require.Equal(t, model.BackpressureCritical, ev.Level)
		require.Equal(t, 1000, ev.RetryAfterMs)
	case <-time.After(time.Second):
		t.Fatal("no backpressure event")
	}
}

func TestStoreTranscriptionErrorEntersErrorState(t *testing.T) {
	s, fp := newTestStore(t, Config{}, &fakeASR{err: fmt.Errorf("model blew up")})

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyNonStreaming})
	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	s.Dispatch(model.NewAction(model.ActionWakeTriggered, "s1", model.WakeTriggeredPayload{
		Source: model.WakeSourceUI, Trigger: "tap",
	}))
	s.Dispatch(model.NewAction(model.ActionSpeechDetected, "s1", nil))
	waitForState(t, s, "s1", model.StateRecording)

	fp.AppendRecording("s1", make([]byte, 640))
	s.Dispatch(model.NewAction(model.ActionEndRecording, "s1",
		model.EndRecordingPayload{Trigger: "client"}))
	waitForState(t, s, "s1", model.StateError)

	sess, _ := s.Snapshot("s1")
	require.Equal(t, model.ErrKindProvider, sess.Error.Kind)
	require.Equal(t, model.StateTranscribing, sess.PreviousState)
}

func TestStoreResetIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, Config{}, nil)

	dispatchCreate(s, "s1", model.CreateOptions{Strategy: model.StrategyNonStreaming})
	s.Dispatch(model.NewAction(model.ActionStartListening, "s1",
		model.StartListeningPayload{Format: audio.Canonical}))
	waitForState(t, s, "s1", model.StateListening)

	s.Dispatch(model.NewAction(model.ActionReset, "s1", nil))
	s.Dispatch(model.NewAction(model.ActionReset, "s1", nil))
	waitForState(t, s, "s1", model.StateListening)
	require.Equal(t, 1, s.Len())
}
