// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package wakeword

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ManuGH/asrhub/internal/dsp/onnxenv"
)

// openWakeWord pipeline geometry: melspectrogram → embedding → wakeword.
const (
	chunkSamples = 1280 // 80 ms @ 16 kHz per melspectrogram call
	melBins      = 32
	nMelFrames   = 5  // mel frames produced per 1280-sample chunk
	melWindow    = 76 // mel frames consumed per embedding call
	melStep      = 8  // mel frames advanced between embedding calls
	embeddingDim = 96
	nEmbedFrames = 16 // embedding frames consumed per wakeword score

	// recentEmbeds limits how many trailing embedding slots carry real
	// data into scoring; older slots are zeroed so accumulated silence
	// embeddings cannot suppress a detection.
	recentEmbeds = 5
)

// ModelConfig points at the ONNX artefacts for one wake phrase.
type ModelConfig struct {
	// Name identifies the phrase in wake_triggered payloads.
	Name string `yaml:"name"`
	// Model is the phrase-specific scoring model.
	Model string `yaml:"model"`
	// Melspec and Embedding are the shared front-end models.
	Melspec   string `yaml:"melspec"`
	Embedding string `yaml:"embedding"`
	// OnnxLib overrides shared-library discovery; empty means auto.
	OnnxLib string `yaml:"onnxLib"`
}

func (c ModelConfig) validate() error {
	for _, path := range []string{c.Model, c.Melspec, c.Embedding} {
		if path == "" {
			return fmt.Errorf("wakeword: model %q: missing artefact path", c.Name)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("wakeword: model %q: %w", c.Name, err)
		}
	}
	return nil
}

// OnnxScorer runs the three-stage openWakeWord pipeline with
// pre-allocated tensors reused across calls.
type OnnxScorer struct {
	melspecIn  *ort.Tensor[float32]
	melspecOut *ort.Tensor[float32]
	embedIn    *ort.Tensor[float32]
	embedOut   *ort.Tensor[float32]
	scoreIn    *ort.Tensor[float32]
	scoreOut   *ort.Tensor[float32]

	melspecSess *ort.AdvancedSession
	embedSess   *ort.AdvancedSession
	scoreSess   *ort.AdvancedSession

	pcmRem      []float32 // samples not yet forming a full chunk
	melBuffer   []float32 // rolling mel frames, melBins floats each
	embedBuffer []float32 // sliding window of nEmbedFrames embeddings
}

// NewOnnxScorer loads the pipeline models for one wake phrase.
func NewOnnxScorer(cfg ModelConfig) (*OnnxScorer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := onnxenv.Init(cfg.OnnxLib); err != nil {
		return nil, err
	}

	s := &OnnxScorer{
		pcmRem:      make([]float32, 0, chunkSamples*2),
		melBuffer:   make([]float32, 0, (melWindow+nMelFrames)*melBins),
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
	}

	var err error
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if s.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples)); err != nil {
		return nil, err
	}
	if s.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins)); err != nil {
		return nil, err
	}
	if s.melspecSess, err = newSession(cfg.Melspec, s.melspecIn, s.melspecOut); err != nil {
		return nil, err
	}

	if s.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1)); err != nil {
		return nil, err
	}
	if s.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim)); err != nil {
		return nil, err
	}
	if s.embedSess, err = newSession(cfg.Embedding, s.embedIn, s.embedOut); err != nil {
		return nil, err
	}

	if s.scoreIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim)); err != nil {
		return nil, err
	}
	if s.scoreOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return nil, err
	}
	if s.scoreSess, err = newSession(cfg.Model, s.scoreIn, s.scoreOut); err != nil {
		return nil, err
	}

	return s, nil
}

func newSession(path string, in, out *ort.Tensor[float32]) (*ort.AdvancedSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("wakeword: inspect %s: %w", path, err)
	}
	sess, err := ort.NewAdvancedSession(
		path,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("wakeword: load %s: %w", path, err)
	}
	return sess, nil
}

// Feed implements Scorer.
func (s *OnnxScorer) Feed(samples []float32) ([]float32, error) {
	s.pcmRem = append(s.pcmRem, samples...)

	var scores []float32
	for len(s.pcmRem) >= chunkSamples {
		chunk := s.pcmRem[:chunkSamples]
		n := copy(s.pcmRem, s.pcmRem[chunkSamples:])
		s.pcmRem = s.pcmRem[:n]

		// Stage 1: melspectrogram. The model expects raw int16-scaled
		// values; its output is rescaled into the embedding model's
		// expected range.
		inData := s.melspecIn.GetData()
		for i, v := range chunk {
			inData[i] = v * 32768.0
		}
		if err := s.melspecSess.Run(); err != nil {
			return scores, fmt.Errorf("wakeword: melspec: %w", err)
		}
		melData := s.melspecOut.GetData()
		for f := 0; f < nMelFrames; f++ {
			for b := 0; b < melBins; b++ {
				s.melBuffer = append(s.melBuffer, melData[f*melBins+b]/10.0+2.0)
			}
		}

		// Stage 2: embeddings over the mel window, stepping melStep
		// frames per embedding.
		newEmbed := false
		for len(s.melBuffer)/melBins >= melWindow {
			eData := s.embedIn.GetData()
			copy(eData, s.melBuffer[:melWindow*melBins])
			if err := s.embedSess.Run(); err != nil {
				return scores, fmt.Errorf("wakeword: embedding: %w", err)
			}
			copy(s.embedBuffer, s.embedBuffer[embeddingDim:])
			copy(s.embedBuffer[(nEmbedFrames-1)*embeddingDim:], s.embedOut.GetData()[:embeddingDim])
			newEmbed = true

			n := copy(s.melBuffer, s.melBuffer[melStep*melBins:])
			s.melBuffer = s.melBuffer[:n]
		}
		if !newEmbed {
			continue
		}

		// Stage 3: score on the zero-padded embedding window.
		wwData := s.scoreIn.GetData()
		padSlots := nEmbedFrames - recentEmbeds
		for i := 0; i < padSlots*embeddingDim; i++ {
			wwData[i] = 0
		}
		copy(wwData[padSlots*embeddingDim:], s.embedBuffer[padSlots*embeddingDim:])
		if err := s.scoreSess.Run(); err != nil {
			return scores, fmt.Errorf("wakeword: score: %w", err)
		}
		scores = append(scores, s.scoreOut.GetData()[0])
	}
	return scores, nil
}

// Reset implements Scorer.
func (s *OnnxScorer) Reset() {
	s.pcmRem = s.pcmRem[:0]
	s.melBuffer = s.melBuffer[:0]
	for i := range s.embedBuffer {
		s.embedBuffer[i] = 0
	}
}

// Close implements Scorer.
func (s *OnnxScorer) Close() error {
	for _, sess := range []*ort.AdvancedSession{s.melspecSess, s.embedSess, s.scoreSess} {
		if sess != nil {
			sess.Destroy()
		}
	}
	for _, t := range []*ort.Tensor[float32]{s.melspecIn, s.melspecOut, s.embedIn, s.embedOut, s.scoreIn, s.scoreOut} {
		if t != nil {
			t.Destroy()
		}
	}
	s.melspecSess, s.embedSess, s.scoreSess = nil, nil, nil
	return nil
}
