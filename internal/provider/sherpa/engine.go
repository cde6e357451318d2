// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sherpa adapts sherpa-onnx offline and online recognizers to the
// provider.Provider interface. One Engine is one recognizer instance; the
// pool treats it as exclusive while leased.
package sherpa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/ManuGH/asrhub/internal/audio"
	"github.com/ManuGH/asrhub/internal/provider"
	"github.com/ManuGH/asrhub/internal/session/model"
)

// Config points at the model artefacts for one recognizer.
type Config struct {
	// Offline (whole-utterance) transducer model.
	Encoder string `yaml:"encoder"`
	Decoder string `yaml:"decoder"`
	Joiner  string `yaml:"joiner"`
	Tokens  string `yaml:"tokens"`

	// Streaming transducer model; empty paths disable TranscribeStream.
	OnlineEncoder string `yaml:"onlineEncoder"`
	OnlineDecoder string `yaml:"onlineDecoder"`
	OnlineJoiner  string `yaml:"onlineJoiner"`

	NumThreads int    `yaml:"numThreads"`
	Provider   string `yaml:"provider"` // "cpu", "cuda", "coreml"
	ModelType  string `yaml:"modelType"`
	Language   string `yaml:"language"`
}

func (c *Config) defaults() {
	if c.NumThreads <= 0 {
		c.NumThreads = 2
	}
	if c.Provider == "" {
		c.Provider = "cpu"
	}
}

// Validate checks that the referenced model artefacts exist.
func (c Config) Validate() error {
	for _, path := range []string{c.Encoder, c.Decoder, c.Joiner, c.Tokens} {
		if path == "" {
			return errors.New("sherpa: offline model paths are required")
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("sherpa: model artefact missing: %w", err)
		}
	}
	return nil
}

// Engine is one sherpa-onnx recognizer pair behind provider.Provider.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	offline *sherpa.OfflineRecognizer
	online  *sherpa.OnlineRecognizer
}

var _ provider.Provider = (*Engine)(nil)

// New returns an uninitialised engine; the pool calls Initialize.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg}
}

// Factory returns a pool factory constructing engines from cfg.
func Factory(cfg Config) provider.Factory {
	return func(ctx context.Context) (provider.Provider, error) {
		e := New(cfg)
		return e, nil
	}
}

// Initialize loads the recognizer models.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	offCfg := sherpa.OfflineRecognizerConfig{}
	offCfg.FeatConfig.SampleRate = audio.Canonical.SampleRate
	offCfg.FeatConfig.FeatureDim = 80
	offCfg.ModelConfig.Transducer.Encoder = e.cfg.Encoder
	offCfg.ModelConfig.Transducer.Decoder = e.cfg.Decoder
	offCfg.ModelConfig.Transducer.Joiner = e.cfg.Joiner
	offCfg.ModelConfig.Tokens = e.cfg.Tokens
	offCfg.ModelConfig.NumThreads = e.cfg.NumThreads
	offCfg.ModelConfig.Provider = e.cfg.Provider
	offCfg.ModelConfig.ModelType = e.cfg.ModelType
	offCfg.DecodingMethod = "greedy_search"

	e.offline = sherpa.NewOfflineRecognizer(&offCfg)
	if e.offline == nil {
		return errors.New("sherpa: failed to create offline recognizer")
	}

	if e.cfg.OnlineEncoder != "" {
		onCfg := sherpa.OnlineRecognizerConfig{}
		onCfg.FeatConfig.SampleRate = audio.Canonical.SampleRate
		onCfg.FeatConfig.FeatureDim = 80
		onCfg.ModelConfig.Transducer.Encoder = e.cfg.OnlineEncoder
		onCfg.ModelConfig.Transducer.Decoder = e.cfg.OnlineDecoder
		onCfg.ModelConfig.Transducer.Joiner = e.cfg.OnlineJoiner
		onCfg.ModelConfig.Tokens = e.cfg.Tokens
		onCfg.ModelConfig.NumThreads = e.cfg.NumThreads
		onCfg.ModelConfig.Provider = e.cfg.Provider
		onCfg.DecodingMethod = "greedy_search"
		onCfg.EnableEndpoint = 1
		onCfg.Rule1MinTrailingSilence = 2.4
		onCfg.Rule2MinTrailingSilence = 1.2
		onCfg.Rule3MinUtteranceLength = 20

		e.online = sherpa.NewOnlineRecognizer(&onCfg)
		if e.online == nil {
			return errors.New("sherpa: failed to create online recognizer")
		}
	}
	return nil
}

// Warmup pushes a short silent buffer through the offline recognizer so
// the first real utterance does not pay the graph-initialisation cost.
func (e *Engine) Warmup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline == nil {
		return errors.New("sherpa: not initialized")
	}
	stream := sherpa.NewOfflineStream(e.offline)
	defer sherpa.DeleteOfflineStream(stream)
	silence := make([]float32, audio.Canonical.SampleRate/4)
	stream.AcceptWaveform(audio.Canonical.SampleRate, silence)
	e.offline.Decode(stream)
	return nil
}

// Transcribe recognises one complete utterance of canonical PCM.
func (e *Engine) Transcribe(ctx context.Context, pcm []byte, opts provider.Options) (model.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return model.Transcript{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline == nil {
		return model.Transcript{}, errors.New("sherpa: not initialized")
	}

	samples := pcmToFloat32(pcm)
	stream := sherpa.NewOfflineStream(e.offline)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(audio.Canonical.SampleRate, samples)
	e.offline.Decode(stream)
	res := stream.GetResult()
	if res == nil {
		return model.Transcript{}, errors.New("sherpa: decode produced no result")
	}

	t := model.Transcript{
		Text:     res.Text,
		Language: e.cfg.Language,
		Final:    true,
	}
	if len(res.Tokens) > 0 && len(res.Timestamps) == len(res.Tokens) {
		for i, tok := range res.Tokens {
			end := float64(res.Timestamps[i])
			if i+1 < len(res.Timestamps) {
				end = float64(res.Timestamps[i+1])
			}
			t.Segments = append(t.Segments, model.Segment{
				Text:  tok,
				Start: float64(res.Timestamps[i]),
				End:   end,
			})
		}
	}
	return t, nil
}

// TranscribeStream feeds the online recognizer and emits a partial per
// decode step plus a final on endpoint or end of input.
func (e *Engine) TranscribeStream(ctx context.Context, in <-chan []byte, opts provider.Options) (<-chan provider.StreamChunk, error) {
	e.mu.Lock()
	online := e.online
	e.mu.Unlock()
	if online == nil {
		return nil, errors.New("sherpa: streaming model not configured")
	}

	out := make(chan provider.StreamChunk, 8)
	go func() {
		defer close(out)
		stream := sherpa.NewOnlineStream(online)
		defer sherpa.DeleteOnlineStream(stream)

		lastPartial := ""

		emit := func(text string, final bool) {
			if text == "" || (!final && text == lastPartial) {
				return
			}
			if !final {
				lastPartial = text
			}
			select {
			case out <- provider.StreamChunk{Transcript: model.Transcript{Text: text, Language: e.cfg.Language, Final: final}}:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case pcm, ok := <-in:
				if !ok {
					stream.InputFinished()
					for online.IsReady(stream) {
						online.Decode(stream)
					}
					emit(online.GetResult(stream).Text, true)
					return
				}
				stream.AcceptWaveform(audio.Canonical.SampleRate, pcmToFloat32(pcm))
				for online.IsReady(stream) {
					online.Decode(stream)
				}
				if online.IsEndpoint(stream) {
					emit(online.GetResult(stream).Text, true)
					online.Reset(stream)
					lastPartial = ""
					continue
				}
				emit(online.GetResult(stream).Text, false)
			}
		}
	}()
	return out, nil
}

// HealthCheck reports whether the recognizer is loaded.
func (e *Engine) HealthCheck(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.offline != nil
}

// Cleanup frees the native recognizers.
func (e *Engine) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.offline != nil {
		sherpa.DeleteOfflineRecognizer(e.offline)
		e.offline = nil
	}
	if e.online != nil {
		sherpa.DeleteOnlineRecognizer(e.online)
		e.online = nil
	}
	return nil
}

// pcmToFloat32 converts 16-bit little-endian PCM to [-1, 1] floats.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}
