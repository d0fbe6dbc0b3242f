// Package sherpa implements speaker diarization with sherpa-onnx, using a
// pyannote segmentation model plus a speaker embedding model.
package sherpa

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"github.com/longscribe/longscribe/pkg/provider/diarization"
)

// Config holds model paths and tuning knobs for the diarizer.
type Config struct {
	// SegmentationModel is the path to the pyannote segmentation ONNX model.
	SegmentationModel string
	// EmbeddingModel is the path to the speaker embedding ONNX model.
	EmbeddingModel string
	// NumThreads for ONNX inference. Defaults to 4.
	NumThreads int
	// ClusteringThreshold for sherpa's internal within-chunk clustering.
	// Defaults to 0.5.
	ClusteringThreshold float32
	// MinDurationOn is the shortest speech run kept, in seconds.
	MinDurationOn float32
	// MinDurationOff is the shortest silence that splits segments, in seconds.
	MinDurationOff float32
	// Provider selects the ONNX execution provider: cpu, cuda, coreml,
	// or auto to pick per platform.
	Provider string
}

func (c *Config) applyDefaults() {
	if c.NumThreads <= 0 {
		c.NumThreads = 4
	}
	if c.ClusteringThreshold == 0 {
		c.ClusteringThreshold = 0.5
	}
	if c.MinDurationOn == 0 {
		c.MinDurationOn = 0.3
	}
	if c.MinDurationOff == 0 {
		c.MinDurationOff = 0.5
	}
	if c.Provider == "" {
		c.Provider = "auto"
	}
}

// detectProvider picks the ONNX execution provider for this platform.
func detectProvider() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	return "cpu"
}

// Diarizer runs offline diarization through sherpa-onnx. Safe for use from
// one goroutine at a time; Diarize serializes internally.
type Diarizer struct {
	mu       sync.Mutex
	diarizer *sherpa.OfflineSpeakerDiarization
	logger   *slog.Logger
}

var _ diarization.Provider = (*Diarizer)(nil)

// New loads the models and builds a Diarizer. If a GPU execution provider
// fails to initialize it falls back to CPU.
func New(cfg Config, logger *slog.Logger) (*Diarizer, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(cfg.SegmentationModel); err != nil {
		return nil, fmt.Errorf("segmentation model: %w", err)
	}
	if _, err := os.Stat(cfg.EmbeddingModel); err != nil {
		return nil, fmt.Errorf("embedding model: %w", err)
	}

	provider := cfg.Provider
	if provider == "auto" {
		provider = detectProvider()
	}

	sc := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: cfg.SegmentationModel,
			},
			NumThreads: cfg.NumThreads,
			Provider:   provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      cfg.EmbeddingModel,
			NumThreads: cfg.NumThreads,
			Provider:   provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1, // infer speaker count per chunk
			Threshold:   cfg.ClusteringThreshold,
		},
		MinDurationOn:  cfg.MinDurationOn,
		MinDurationOff: cfg.MinDurationOff,
	}

	d := sherpa.NewOfflineSpeakerDiarization(sc)
	if d == nil && provider != "cpu" {
		logger.Warn("diarizer init failed, falling back to cpu", "provider", provider)
		sc.Segmentation.Provider = "cpu"
		sc.Embedding.Provider = "cpu"
		provider = "cpu"
		d = sherpa.NewOfflineSpeakerDiarization(sc)
	}
	if d == nil {
		return nil, fmt.Errorf("create sherpa diarizer (provider %s)", provider)
	}

	logger.Info("sherpa diarizer ready",
		"provider", provider,
		"segmentation_model", cfg.SegmentationModel,
		"embedding_model", cfg.EmbeddingModel,
	)
	return &Diarizer{diarizer: d, logger: logger}, nil
}

// Diarize implements diarization.Provider. The underlying sherpa call is
// not interruptible, so ctx is checked before inference starts.
func (d *Diarizer) Diarize(ctx context.Context, samples []float32) ([]diarization.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.diarizer == nil {
		return nil, fmt.Errorf("diarizer is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}

	raw := d.diarizer.Process(samples)
	segs := make([]diarization.Segment, len(raw))
	for i, s := range raw {
		segs[i] = diarization.Segment{
			Start:   float64(s.Start),
			End:     float64(s.End),
			Speaker: s.Speaker,
		}
	}
	return segs, nil
}

// SampleRate implements diarization.Provider.
func (d *Diarizer) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.diarizer == nil {
		return 16000
	}
	return d.diarizer.SampleRate()
}

// Close implements diarization.Provider.
func (d *Diarizer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(d.diarizer)
		d.diarizer = nil
	}
	return nil
}
