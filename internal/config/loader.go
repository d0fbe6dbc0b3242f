package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names early.
var ValidProviderNames = map[string][]string{
	"diarization": {"sherpa"},
	"embeddings":  {"sherpa"},
	"stt":         {"whisper", "whisper-native", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with pipeline defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Pipeline.ApplyDefaults()
	if cfg.Progress.Table == "" {
		cfg.Progress.Table = "runs"
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}

	p := cfg.Pipeline
	if p.ChunkDuration <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_duration must be positive, got %v", p.ChunkDuration))
	}
	if p.OverlapDuration < 0 || p.OverlapDuration >= p.ChunkDuration {
		errs = append(errs, fmt.Errorf("pipeline.overlap_duration must be in [0, chunk_duration), got %v", p.OverlapDuration))
	}
	if p.EffectiveWindowEnd < p.ChunkDuration-p.OverlapDuration || p.EffectiveWindowEnd > p.ChunkDuration {
		errs = append(errs, fmt.Errorf(
			"pipeline.effective_window_end must be in [chunk_duration−overlap_duration, chunk_duration] = [%v, %v], got %v — effective windows would not tile the recording",
			p.ChunkDuration-p.OverlapDuration, p.ChunkDuration, p.EffectiveWindowEnd))
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold >= 1 {
		errs = append(errs, fmt.Errorf("pipeline.similarity_threshold must be in (0, 1), got %v", p.SimilarityThreshold))
	}
	if p.CoalesceGap < 0 {
		errs = append(errs, fmt.Errorf("pipeline.coalesce_gap must be non-negative, got %v", p.CoalesceGap))
	}
	if p.STTBeamSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.stt_beam_size must be at least 1, got %d", p.STTBeamSize))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries must be non-negative, got %d", p.MaxRetries))
	}
	if p.PayloadCapBytes < 1024 {
		errs = append(errs, fmt.Errorf("pipeline.payload_cap_bytes must be at least 1024, got %d", p.PayloadCapBytes))
	}
	if p.DiarizeWorkers < 1 || p.TranscribeWorkers < 1 {
		errs = append(errs, errors.New("pipeline worker counts must be at least 1"))
	}

	validateProviderName(&errs, "diarization", cfg.Providers.Diarization.Name)
	validateProviderName(&errs, "embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName(&errs, "stt", cfg.Providers.STT.Name)

	return errors.Join(errs...)
}

// validateProviderName appends an error when name is non-empty and not among
// the known implementations for kind.
func validateProviderName(errs *[]error, kind, name string) {
	if name == "" {
		return
	}
	for _, known := range ValidProviderNames[kind] {
		if name == known {
			return
		}
	}
	*errs = append(*errs, fmt.Errorf("providers.%s.name %q is unknown; valid values: %v", kind, name, ValidProviderNames[kind]))
}
