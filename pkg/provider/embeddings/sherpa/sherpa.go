// Package sherpa computes speaker embeddings with a sherpa-onnx speaker
// embedding extractor (wespeaker or 3dspeaker ONNX models).
package sherpa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/longscribe/longscribe/pkg/provider/embeddings"
)

const sampleRate = 16000

// Config holds the model path and tuning knobs for the extractor.
type Config struct {
	// Model is the path to the speaker embedding ONNX model.
	Model string
	// NumThreads for ONNX inference. Defaults to 4.
	NumThreads int
	// Provider selects the ONNX execution provider: cpu, cuda, coreml,
	// or auto to pick per platform.
	Provider string
}

func (c *Config) applyDefaults() {
	if c.NumThreads <= 0 {
		c.NumThreads = 4
	}
	if c.Provider == "" {
		c.Provider = "auto"
	}
}

// Extractor wraps a sherpa-onnx speaker embedding extractor. Embed
// serializes internally because extractor streams are not thread safe.
type Extractor struct {
	mu        sync.Mutex
	extractor *sherpa.SpeakerEmbeddingExtractor
	dim       int
	logger    *slog.Logger
}

var _ embeddings.Provider = (*Extractor)(nil)

// New loads the embedding model. If a GPU execution provider fails to
// initialize it falls back to CPU.
func New(cfg Config, logger *slog.Logger) (*Extractor, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(cfg.Model); err != nil {
		return nil, fmt.Errorf("embedding model: %w", err)
	}

	provider := cfg.Provider
	if provider == "auto" {
		if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
			provider = "coreml"
		} else {
			provider = "cpu"
		}
	}

	sc := sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      cfg.Model,
		NumThreads: cfg.NumThreads,
		Provider:   provider,
	}
	ex := sherpa.NewSpeakerEmbeddingExtractor(&sc)
	if ex == nil && provider != "cpu" {
		logger.Warn("embedding extractor init failed, falling back to cpu", "provider", provider)
		sc.Provider = "cpu"
		provider = "cpu"
		ex = sherpa.NewSpeakerEmbeddingExtractor(&sc)
	}
	if ex == nil {
		return nil, fmt.Errorf("create sherpa embedding extractor (provider %s)", provider)
	}

	e := &Extractor{extractor: ex, dim: ex.Dim(), logger: logger}
	logger.Info("sherpa embedding extractor ready",
		"provider", provider,
		"model", cfg.Model,
		"dim", e.dim,
	)
	return e, nil
}

// Embed implements embeddings.Provider. The underlying sherpa call is not
// interruptible, so ctx is checked before inference starts.
func (e *Extractor) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.extractor == nil {
		return nil, fmt.Errorf("extractor is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty waveform")
	}

	stream := e.extractor.CreateStream()
	if stream == nil {
		return nil, fmt.Errorf("create extractor stream")
	}
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	stream.InputFinished()
	if !e.extractor.IsReady(stream) {
		return nil, fmt.Errorf("waveform too short for embedding (%d samples)", len(samples))
	}
	return e.extractor.Compute(stream), nil
}

// Dim implements embeddings.Provider.
func (e *Extractor) Dim() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Close implements embeddings.Provider.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.extractor != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.extractor)
		e.extractor = nil
	}
	return nil
}
