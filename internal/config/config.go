// Package config provides the configuration schema, loader, and provider
// registry for the longscribe transcription pipeline.
package config

import "time"

// LogLevel controls log verbosity for the pipeline binary.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for longscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel    LogLevel          `yaml:"log_level"`
	MetricsAddr string            `yaml:"metrics_addr"`
	Storage     StorageConfig     `yaml:"storage"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Progress    ProgressConfig    `yaml:"progress"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Voiceprints VoiceprintsConfig `yaml:"voiceprints"`
}

// StorageConfig selects the object store all stages persist through.
type StorageConfig struct {
	// Bucket is the S3 bucket holding every run artefact.
	Bucket string `yaml:"bucket"`

	// Region is the AWS region. Leave empty to use the SDK default chain.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// (MinIO, R2). Leave empty for AWS S3.
	Endpoint string `yaml:"endpoint"`
}

// PipelineConfig holds the tunables of the audio pipeline. Zero values are
// replaced with the documented defaults by [PipelineConfig.ApplyDefaults].
type PipelineConfig struct {
	// ChunkDuration is the diarization window length D in seconds.
	ChunkDuration float64 `yaml:"chunk_duration"`

	// OverlapDuration is the overlap O between adjacent windows in seconds.
	OverlapDuration float64 `yaml:"overlap_duration"`

	// EffectiveWindowEnd is the chunk-local end E of the retained zone in
	// seconds. Must satisfy D−O ≤ E ≤ D; effective windows tile the
	// recording for any E in that range.
	EffectiveWindowEnd float64 `yaml:"effective_window_end"`

	// SimilarityThreshold is the cosine-similarity cutoff τ for merging two
	// speaker embeddings into one global speaker.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// CoalesceGap is the maximum gap in seconds across which adjacent
	// same-speaker segments are merged during overlap reconciliation.
	CoalesceGap float64 `yaml:"coalesce_gap"`

	// STTLanguage is the forced transcription language (no detection).
	STTLanguage string `yaml:"stt_language"`

	// STTBeamSize is the beam search width for transcription.
	STTBeamSize int `yaml:"stt_beam_size"`

	// MaxRetries caps driver retries per stage item.
	MaxRetries int `yaml:"max_retries"`

	// PayloadCapBytes is the hard limit on a serialized inter-stage message.
	// Lists that would exceed it travel as blob keys instead.
	PayloadCapBytes int `yaml:"payload_cap_bytes"`

	// DiarizeWorkers and TranscribeWorkers bound fan-out parallelism.
	DiarizeWorkers    int `yaml:"diarize_workers"`
	TranscribeWorkers int `yaml:"transcribe_workers"`

	// StageTimeout is the wall-clock deadline for a single stage item.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// Pipeline defaults.
const (
	DefaultChunkDuration       = 510.0
	DefaultOverlapDuration     = 30.0
	DefaultEffectiveWindowEnd  = 480.0
	DefaultSimilarityThreshold = 0.75
	DefaultCoalesceGap         = 0.5
	DefaultSTTLanguage         = "ja"
	DefaultSTTBeamSize         = 5
	DefaultMaxRetries          = 3
	DefaultPayloadCapBytes     = 262144
	DefaultWorkers             = 4
	DefaultStageTimeout        = 15 * time.Minute
)

// ApplyDefaults fills zero-valued fields with the documented defaults.
func (p *PipelineConfig) ApplyDefaults() {
	if p.ChunkDuration == 0 {
		p.ChunkDuration = DefaultChunkDuration
	}
	if p.OverlapDuration == 0 {
		p.OverlapDuration = DefaultOverlapDuration
	}
	if p.EffectiveWindowEnd == 0 {
		p.EffectiveWindowEnd = DefaultEffectiveWindowEnd
	}
	if p.SimilarityThreshold == 0 {
		p.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if p.CoalesceGap == 0 {
		p.CoalesceGap = DefaultCoalesceGap
	}
	if p.STTLanguage == "" {
		p.STTLanguage = DefaultSTTLanguage
	}
	if p.STTBeamSize == 0 {
		p.STTBeamSize = DefaultSTTBeamSize
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.PayloadCapBytes == 0 {
		p.PayloadCapBytes = DefaultPayloadCapBytes
	}
	if p.DiarizeWorkers == 0 {
		p.DiarizeWorkers = DefaultWorkers
	}
	if p.TranscribeWorkers == 0 {
		p.TranscribeWorkers = DefaultWorkers
	}
	if p.StageTimeout == 0 {
		p.StageTimeout = DefaultStageTimeout
	}
}

// ProgressConfig points at the external progress table. When DSN is empty,
// progress reporting is disabled and the pipeline logs progress locally only.
type ProgressConfig struct {
	// DSN is a PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Table is the progress table name. Default: "runs".
	Table string `yaml:"table"`
}

// VoiceprintsConfig enables the optional cross-run speaker-profile registry.
// When DSN is empty the registry is disabled.
type VoiceprintsConfig struct {
	DSN string `yaml:"dsn"`
}

// ProvidersConfig declares which model implementation backs each inference
// concern. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Diarization ProviderEntry `yaml:"diarization"`
	Embeddings  ProviderEntry `yaml:"embeddings"`
	STT         ProviderEntry `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "sherpa", "whisper").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted providers, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint (model servers).
	BaseURL string `yaml:"base_url"`

	// Model selects a model file path or identifier within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above.
	Options map[string]any `yaml:"options"`
}
