// Package pipeline drives a recording through the full
// extract → chunk → diarize → merge → split → transcribe → aggregate
// sequence. Stages communicate through the blob store; the driver passes
// only manifests and enforces the inter-stage payload cap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/longscribe/longscribe/internal/config"
	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/media"
	"github.com/longscribe/longscribe/internal/observe"
	"github.com/longscribe/longscribe/internal/progress"
	"github.com/longscribe/longscribe/internal/resilience"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/internal/stage/aggregate"
	"github.com/longscribe/longscribe/internal/stage/chunker"
	"github.com/longscribe/longscribe/internal/stage/diarize"
	"github.com/longscribe/longscribe/internal/stage/merge"
	"github.com/longscribe/longscribe/internal/stage/split"
	"github.com/longscribe/longscribe/internal/stage/transcribe"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/provider/diarization"
	"github.com/longscribe/longscribe/pkg/provider/embeddings"
	"github.com/longscribe/longscribe/pkg/provider/stt"
	"github.com/longscribe/longscribe/pkg/types"
)

// VoiceprintStore receives the centroid embedding of each global speaker
// after a successful run. Implemented by internal/voiceprint.
type VoiceprintStore interface {
	Store(ctx context.Context, runID, speaker string, embedding []float32, duration float64) error
}

// Deps carries everything a Pipeline needs. Store, FFmpeg, Diarization,
// Embeddings, and STT are required; Progress, Voiceprints, Metrics, and
// Logger may be nil.
type Deps struct {
	Config      config.PipelineConfig
	Bucket      string
	Store       blob.Store
	FFmpeg      *media.FFmpeg
	Diarization diarization.Provider
	Embeddings  embeddings.Provider
	STT         stt.Transcriber
	Progress    progress.Reporter
	Voiceprints VoiceprintStore
	Metrics     *observe.Metrics
	Logger      *slog.Logger
}

// Pipeline is the run driver. Safe for concurrent Run calls; the heavy
// model providers must themselves tolerate the configured worker counts.
type Pipeline struct {
	cfg    config.PipelineConfig
	bucket string
	store  blob.Store
	ffmpeg *media.FFmpeg

	chunker     *chunker.Chunker
	diarizer    *diarize.Diarizer
	merger      *merge.Merger
	splitter    *split.Splitter
	transcriber *transcribe.Transcriber
	aggregator  *aggregate.Aggregator

	progress    progress.Reporter
	voiceprints VoiceprintStore
	metrics     *observe.Metrics
	logger      *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetryBackoff overrides the retry backoff window. Used by tests to
// avoid real waits.
func WithRetryBackoff(base, max time.Duration) Option {
	return func(p *Pipeline) {
		p.retryBase = base
		p.retryMax = max
	}
}

// New builds a Pipeline from deps. The config should already have defaults
// applied.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: blob store is required")
	case deps.FFmpeg == nil:
		return nil, errors.New("pipeline: ffmpeg is required")
	case deps.Diarization == nil:
		return nil, errors.New("pipeline: diarization provider is required")
	case deps.Embeddings == nil:
		return nil, errors.New("pipeline: embeddings provider is required")
	case deps.STT == nil:
		return nil, errors.New("pipeline: stt provider is required")
	case deps.Bucket == "":
		return nil, errors.New("pipeline: bucket is required")
	}
	if deps.Progress == nil {
		deps.Progress = progress.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	// Every stage goes through this store handle, so one wrap counts all
	// object store traffic.
	deps.Store = observe.InstrumentStore(deps.Store, deps.Metrics)

	ch, err := chunker.New(deps.FFmpeg, deps.Store, deps.Bucket, chunker.Options{
		ChunkDuration:   deps.Config.ChunkDuration,
		OverlapDuration: deps.Config.OverlapDuration,
		EffectiveEnd:    deps.Config.EffectiveWindowEnd,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}
	mg, err := merge.New(deps.Store, deps.Bucket, deps.Config.SimilarityThreshold, deps.Config.CoalesceGap, deps.Logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:         deps.Config,
		bucket:      deps.Bucket,
		store:       deps.Store,
		ffmpeg:      deps.FFmpeg,
		chunker:     ch,
		diarizer:    diarize.New(deps.Store, deps.Bucket, deps.Diarization, deps.Embeddings, deps.Logger),
		merger:      mg,
		splitter:    split.New(deps.FFmpeg, deps.Store, deps.Bucket, deps.Logger),
		transcriber: transcribe.New(deps.STT, deps.Store, deps.Bucket, deps.Logger),
		aggregator:  aggregate.New(deps.Store, deps.Bucket, deps.Logger),
		progress:    deps.Progress,
		voiceprints: deps.Voiceprints,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// RunResult summarizes a completed run.
type RunResult struct {
	RunID              string
	AudioKey           string
	SegmentsKey        string
	TranscriptKey      string
	SegmentCount       int
	GlobalSpeakerCount int
}

// Run processes the recording stored at sourceKey end to end and returns
// the locations of the run artefacts. The run is aborted on the first
// non-retryable stage failure; intermediate blobs are left in place.
func (p *Pipeline) Run(ctx context.Context, sourceKey string) (*RunResult, error) {
	runID := uuid.NewString()
	base := keys.Base(sourceKey)
	logger := p.logger.With("run_id", runID, "base", base)

	p.metrics.ActiveRuns.Add(ctx, 1)
	defer p.metrics.ActiveRuns.Add(ctx, -1)

	p.report(ctx, runID, progress.StepQueued, logger)
	logger.Info("run started", "source_key", sourceKey)

	res, err := p.run(ctx, runID, base, sourceKey, logger)
	if err != nil {
		p.report(ctx, runID, progress.StepFailed, logger)
		logger.Error("run failed", "error", err)
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	p.report(ctx, runID, progress.StepCompleted, logger)
	logger.Info("run completed",
		"transcript_key", res.TranscriptKey,
		"segments", res.SegmentCount,
		"speakers", res.GlobalSpeakerCount,
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, runID, base, sourceKey string, logger *slog.Logger) (*RunResult, error) {
	workDir, err := os.MkdirTemp("", "longscribe-run-*")
	if err != nil {
		return nil, fmt.Errorf("pipeline: temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Extract: normalize the source container to mono 16 kHz PCM WAV.
	p.report(ctx, runID, progress.StepExtractingAudio, logger)
	audioKey := keys.Processed(base)
	wavPath := filepath.Join(workDir, base+".wav")
	err = p.timeStage(ctx, "extract", func() error {
		return p.extract(ctx, sourceKey, wavPath, audioKey)
	})
	if err != nil {
		return nil, err
	}

	// Chunk: overlapping diarization windows.
	p.report(ctx, runID, progress.StepChunkingAudio, logger)
	var chunks []types.ChunkDescriptor
	err = p.timeStage(ctx, "chunk", func() error {
		chunks, err = retryValue(ctx, p, "chunk", func(ctx context.Context) ([]types.ChunkDescriptor, error) {
			return p.chunker.Chunk(ctx, wavPath, base)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Diarize: fan out over chunks, bounded by DiarizeWorkers.
	p.report(ctx, runID, progress.StepDiarizing, logger)
	manifests := make([]types.ChunkManifest, len(chunks))
	err = p.timeStage(ctx, "diarize", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.DiarizeWorkers)
		for i, desc := range chunks {
			g.Go(func() error {
				man, err := retryValue(gctx, p, "diarize", func(ctx context.Context) (types.ChunkManifest, error) {
					return p.diarizer.ProcessChunk(ctx, base, desc)
				})
				if err != nil {
					return fmt.Errorf("chunk %d: %w", desc.ChunkIndex, err)
				}
				manifests[i] = man
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	chunkEnv, err := p.sealChunkResults(ctx, base, audioKey, manifests)
	if err != nil {
		return nil, err
	}

	// Merge: cross-chunk speaker identity plus overlap reconciliation.
	p.report(ctx, runID, progress.StepMergingSpeakers, logger)
	var mergeRes *merge.Result
	err = p.timeStage(ctx, "merge", func() error {
		mergeRes, err = retryValue(ctx, p, "merge", func(ctx context.Context) (*merge.Result, error) {
			mans, err := p.openChunkResults(ctx, chunkEnv)
			if err != nil {
				return nil, err
			}
			return p.merger.Merge(ctx, base, mans)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	p.metrics.SpeakersPerRun.Record(ctx, int64(mergeRes.GlobalSpeakerCount))
	mergeEnv := p.sealSegments(audioKey, mergeRes)

	// Split: one clip per global segment, read back by segments_key.
	p.report(ctx, runID, progress.StepSplittingBySpeaker, logger)
	var segEnv SegmentFilesEnvelope
	err = p.timeStage(ctx, "split", func() error {
		files, metaKey, err := retryValue2(ctx, p, "split", func(ctx context.Context) ([]types.SegmentFile, string, error) {
			segments, err := p.openSegments(ctx, mergeEnv)
			if err != nil {
				return nil, "", err
			}
			return p.splitter.Split(ctx, base, audioKey, segments)
		})
		if err != nil {
			return err
		}
		segEnv, err = p.sealSegmentFiles(audioKey, metaKey, files)
		return err
	})
	if err != nil {
		return nil, err
	}

	segmentFiles, err := p.openSegmentFiles(ctx, segEnv)
	if err != nil {
		return nil, err
	}

	// Transcribe: fan out over segments, bounded by TranscribeWorkers.
	p.report(ctx, runID, progress.StepTranscribing, logger)
	err = p.timeStage(ctx, "transcribe", func() error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.TranscribeWorkers)
		for i, file := range segmentFiles {
			g.Go(func() error {
				_, err := retryValue(gctx, p, "transcribe", func(ctx context.Context) (string, error) {
					return p.transcriber.ProcessSegment(ctx, file)
				})
				if err != nil {
					return fmt.Errorf("segment %d (%s): %w", i, file.Key, err)
				}
				p.metrics.SegmentsTranscribed.Add(gctx, 1)
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	// Aggregate: final time-ordered transcript.
	p.report(ctx, runID, progress.StepAggregatingResults, logger)
	var aggRes *aggregate.Result
	err = p.timeStage(ctx, "aggregate", func() error {
		aggRes, err = retryValue(ctx, p, "aggregate", func(ctx context.Context) (*aggregate.Result, error) {
			return p.aggregator.Aggregate(ctx, base, segmentFiles)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Analyze: persist speaker voiceprints for cross-run identity.
	// Best-effort, like progress reporting.
	p.report(ctx, runID, progress.StepAnalyzing, logger)
	p.analyze(ctx, runID, chunkEnv, mergeEnv.SpeakerMappingKey, logger)

	return &RunResult{
		RunID:              runID,
		AudioKey:           audioKey,
		SegmentsKey:        mergeRes.SegmentsKey,
		TranscriptKey:      aggRes.TranscriptKey,
		SegmentCount:       aggRes.SegmentCount,
		GlobalSpeakerCount: mergeRes.GlobalSpeakerCount,
	}, nil
}

// extract downloads the source recording, normalizes it with ffmpeg, and
// uploads the result. The normalized file is left at wavPath for the
// chunker.
func (p *Pipeline) extract(ctx context.Context, sourceKey, wavPath, audioKey string) error {
	rawPath := wavPath + ".src"
	err := resilience.Do(ctx, p.retryConfig("extract-download"), func(ctx context.Context) error {
		if err := p.store.Download(ctx, p.bucket, sourceKey, rawPath); err != nil {
			return fmt.Errorf("%w: download %s: %v", stage.ErrTransientBlobIO, sourceKey, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer os.Remove(rawPath)

	if err := p.ffmpeg.Normalize(ctx, rawPath, wavPath); err != nil {
		return fmt.Errorf("%w: normalize %s: %v", stage.ErrCorruptInput, sourceKey, err)
	}

	return resilience.Do(ctx, p.retryConfig("extract-upload"), func(ctx context.Context) error {
		if err := p.store.Upload(ctx, wavPath, p.bucket, audioKey, blob.ContentTypeWAV); err != nil {
			return fmt.Errorf("%w: upload %s: %v", stage.ErrTransientBlobIO, audioKey, err)
		}
		return nil
	})
}

// report updates the progress row. Failures are logged and swallowed:
// progress is monotone metadata, never worth failing a run over.
func (p *Pipeline) report(ctx context.Context, runID string, step progress.Step, logger *slog.Logger) {
	if err := p.progress.Update(ctx, runID, step); err != nil {
		logger.Warn("progress update failed", "step", step, "error", err)
	}
}

// timeStage runs fn and records its duration and status.
func (p *Pipeline) timeStage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordStage(ctx, name, status, time.Since(start).Seconds())
	return err
}

func (p *Pipeline) retryConfig(name string) resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:        name,
		MaxAttempts: p.cfg.MaxRetries,
		BaseDelay:   p.retryBase,
		MaxDelay:    p.retryMax,
		Retryable:   stage.IsRetryable,
		Logger:      p.logger,
	}
}

// retryValue runs op under the per-item stage timeout with bounded retries.
// A blown per-item deadline is rewritten to [stage.ErrDeadlineExceeded] so
// it stays retryable while a cancelled run is not.
func retryValue[T any](ctx context.Context, p *Pipeline, name string, op func(context.Context) (T, error)) (T, error) {
	cfg := p.retryConfig(name)
	cfg.Retryable = func(err error) bool {
		ok := stage.IsRetryable(err)
		if ok {
			p.metrics.RecordRetry(ctx, name)
		}
		return ok
	}
	return resilience.DoValue(ctx, cfg, func(ctx context.Context) (T, error) {
		itemCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
		defer cancel()
		v, err := op(itemCtx)
		if err != nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %s: %v", stage.ErrDeadlineExceeded, name, err)
		}
		return v, err
	})
}

// retryValue2 is retryValue for two-value operations.
func retryValue2[T1, T2 any](ctx context.Context, p *Pipeline, name string, op func(context.Context) (T1, T2, error)) (T1, T2, error) {
	type pair struct {
		a T1
		b T2
	}
	v, err := retryValue(ctx, p, name, func(ctx context.Context) (pair, error) {
		a, b, err := op(ctx)
		return pair{a, b}, err
	})
	return v.a, v.b, err
}
