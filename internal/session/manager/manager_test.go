// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/model"
	"github.com/ManuGH/asrhub/internal/session/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubDriver queues nothing; it scripts dispositions per push.
type stubDriver struct {
	mu     sync.Mutex
	disp   audio.Disposition
	ok     bool
	pushes int
}

func (d *stubDriver) Attach(context.Context, *model.Session) {}
func (d *stubDriver) Detach(string)                          {}
func (d *stubDriver) Reset(string)                           {}
func (d *stubDriver) ClearBuffer(string)                     {}

func (d *stubDriver) Push(string, audio.Chunk) (audio.Disposition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pushes++
	return d.disp, d.ok
}

func (d *stubDriver) AppendRecording(string, []byte)         {}
func (d *stubDriver) TakeRecording(string) []byte            { return nil }
func (d *stubDriver) RecordingDuration(string) time.Duration { return 0 }
func (d *stubDriver) OpenStream(string) <-chan []byte        { return nil }
func (d *stubDriver) CloseStream(string)                     {}

func (d *stubDriver) pushCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pushes
}

type nullASR struct{}

func (nullASR) Transcribe(context.Context, []byte, provider.Options) (model.Transcript, error) {
	return model.Transcript{}, nil
}

func (nullASR) TranscribeStream(context.Context, <-chan []byte, provider.Options) (<-chan provider.StreamChunk, error) {
	ch := make(chan provider.StreamChunk)
	close(ch)
	return ch, nil
}

func (nullASR) Initialize(context.Context) error { return nil }
func (nullASR) Warmup(context.Context) error     { return nil }
func (nullASR) Cleanup() error                   { return nil }
func (nullASR) HealthCheck(context.Context) bool { return true }

func newTestManager(t *testing.T, cfg store.Config, drv *stubDriver) *Manager {
	t.Helper()
	pool := provider.NewPool(provider.Config{MaxSize: 1},
		func(context.Context) (provider.Provider, error) { return nullASR{}, nil })
	st := store.New(cfg, pool)
	st.BindPipeline(drv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = st.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = pool.Shutdown(context.Background())
	})
	return New(st, drv)
}

func TestManagerCreateReturnsLiveSession(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{disp: audio.Accepted, ok: true})

	sess, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyStreaming})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.Equal(t, model.StrategyStreaming, sess.Strategy)
	require.Equal(t, model.StateIdle, sess.FSMState)

	got, ok := m.Get(sess.ID)
	require.True(t, ok)
	require.Equal(t, sess.ID, got.ID)
}

func TestManagerCreateDefaultsStrategy(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{ok: true})

	sess, err := m.Create(context.Background(), model.CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, model.StrategyNonStreaming, sess.Strategy)
}

func TestManagerCreateRejectsUnknownStrategy(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{ok: true})

	_, err := m.Create(context.Background(), model.CreateOptions{Strategy: "TELEPATHIC"})
	var serr model.SessionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, model.ErrKindValidation, serr.Kind)
}

func TestManagerCreateSurfacesAdmissionRejection(t *testing.T) {
	m := newTestManager(t, store.Config{MaxSessions: 1}, &stubDriver{ok: true})

	_, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	var serr model.SessionError
	require.ErrorAs(t, err, &serr)
	require.Contains(t, serr.Message, "max_sessions")
	require.Len(t, m.List(), 1)
}

func TestManagerDestroyUnknown(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{ok: true})
	err := m.Destroy("nope")
	require.Error(t, err)
}

func TestManagerPushAudioDisposition(t *testing.T) {
	drv := &stubDriver{disp: audio.Backpressure, ok: true}
	m := newTestManager(t, store.Config{}, drv)

	sess, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.NoError(t, err)
	require.NoError(t, m.StartListening(sess.ID, audio.Canonical))

	disp, err := m.PushAudio(sess.ID, make([]byte, 640), audio.Format{})
	require.NoError(t, err)
	require.Equal(t, audio.Backpressure, disp)
	require.Equal(t, 1, drv.pushCount())

	// The accounting action lands asynchronously.
	require.Eventually(t, func() bool {
		got, ok := m.Get(sess.ID)
		return ok && got.AudioBytesReceived == 640 && got.AudioChunksCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManagerPushAudioWithoutFormat(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{disp: audio.Accepted, ok: true})

	sess, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.NoError(t, err)

	// No declared format and none supplied: the push cannot be interpreted.
	_, err = m.PushAudio(sess.ID, make([]byte, 640), audio.Format{})
	var serr model.SessionError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, model.ErrKindAudioFormat, serr.Kind)
}

func TestManagerSetActive(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{ok: true})

	a, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.NoError(t, err)
	b, err := m.Create(context.Background(), model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.NoError(t, err)

	require.NoError(t, m.SetActive(b.ID))
	require.Eventually(t, func() bool {
		act, ok := m.Active()
		return ok && act.ID == b.ID
	}, time.Second, 5*time.Millisecond)
	require.Error(t, m.SetActive("ghost"))
	_ = a
}

func TestManagerCreateHonoursContext(t *testing.T) {
	m := newTestManager(t, store.Config{}, &stubDriver{ok: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Create(ctx, model.CreateOptions{Strategy: model.StrategyNonStreaming})
	require.True(t, errors.Is(err, context.Canceled))
}
