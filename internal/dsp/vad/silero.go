// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package vad

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ManuGH/asrhub/internal/dsp/onnxenv"
)

// sileroContextSamples is the tail of the previous frame prepended to
// each inference input, per the Silero v5 input layout for 16 kHz.
const sileroContextSamples = 64

// SileroConfig configures one SileroScorer.
type SileroConfig struct {
	ModelPath string `yaml:"modelPath"`
	// OnnxLib overrides shared-library discovery; empty means auto.
	OnnxLib string `yaml:"onnxLib"`
}

// SileroScorer runs the Silero VAD ONNX model. The LSTM state and the
// 64-sample context carry across frames, so one scorer serves exactly
// one audio stream.
type SileroScorer struct {
	session *ort.DynamicAdvancedSession

	state   []float32 // [2, 1, 128] h and c
	context []float32 // trailing samples of the previous frame
}

// NewSileroScorer loads the model and prepares inference state.
func NewSileroScorer(cfg SileroConfig) (*SileroScorer, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("vad: silero model: %w", err)
	}
	if err := onnxenv.Init(cfg.OnnxLib); err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("vad: session options: %w", err)
	}
	defer opts.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("vad: create session: %w", err)
	}

	return &SileroScorer{
		session: session,
		state:   make([]float32, 2*1*128),
		context: make([]float32, sileroContextSamples),
	}, nil
}

// Score implements Scorer.
func (s *SileroScorer) Score(frame []float32) (float32, error) {
	if len(frame) != FrameSamples {
		return 0, fmt.Errorf("vad: frame must be %d samples, got %d", FrameSamples, len(frame))
	}

	// Model input is [1, context + frame].
	input := make([]float32, sileroContextSamples+len(frame))
	copy(input[:sileroContextSamples], s.context)
	copy(input[sileroContextSamples:], frame)
	copy(s.context, frame[len(frame)-sileroContextSamples:])

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return 0, fmt.Errorf("vad: input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	stateTensor, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state)
	if err != nil {
		return 0, fmt.Errorf("vad: state tensor: %w", err)
	}
	defer stateTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{16000})
	if err != nil {
		return 0, fmt.Errorf("vad: sr tensor: %w", err)
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := s.session.Run([]ort.Value{inputTensor, stateTensor, srTensor}, outputs); err != nil {
		return 0, fmt.Errorf("vad: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	probs := outputs[0].(*ort.Tensor[float32]).GetData()
	copy(s.state, outputs[1].(*ort.Tensor[float32]).GetData())

	if len(probs) == 0 {
		return 0, nil
	}
	return probs[0], nil
}

// Reset implements Scorer.
func (s *SileroScorer) Reset() {
	for i := range s.state {
		s.state[i] = 0
	}
	for i := range s.context {
		s.context[i] = 0
	}
}

// Close implements Scorer.
func (s *SileroScorer) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	return nil
}
