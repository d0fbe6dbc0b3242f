// Command longscribe runs the diarization + transcription pipeline over one
// or more recordings stored in an object store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longscribe/longscribe/internal/config"
	"github.com/longscribe/longscribe/internal/health"
	"github.com/longscribe/longscribe/internal/media"
	"github.com/longscribe/longscribe/internal/observe"
	"github.com/longscribe/longscribe/internal/pipeline"
	"github.com/longscribe/longscribe/internal/progress"
	"github.com/longscribe/longscribe/internal/voiceprint"
	s3blob "github.com/longscribe/longscribe/pkg/blob/s3"
	"github.com/longscribe/longscribe/pkg/provider/diarization"
	sherpadiar "github.com/longscribe/longscribe/pkg/provider/diarization/sherpa"
	"github.com/longscribe/longscribe/pkg/provider/embeddings"
	sherpaembed "github.com/longscribe/longscribe/pkg/provider/embeddings/sherpa"
	"github.com/longscribe/longscribe/pkg/provider/stt"
	oaistt "github.com/longscribe/longscribe/pkg/provider/stt/openai"
	"github.com/longscribe/longscribe/pkg/provider/stt/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	ffmpegPath := flag.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	flag.Parse()

	sourceKeys := flag.Args()
	if len(sourceKeys) == 0 {
		fmt.Fprintln(os.Stderr, "usage: longscribe [flags] <object-key> [<object-key>...]")
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "longscribe: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "longscribe: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("longscribe starting",
		"config", *configPath,
		"bucket", cfg.Storage.Bucket,
		"recordings", len(sourceKeys),
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "longscribe"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// InitProvider ran first, so the default instruments record against the
	// Prometheus-backed meter provider.
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Pipeline)

	diarizer, embedder, transcriber, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	// Count every model call per provider. closeProviders already holds the
	// raw backends, so wrapping here does not hide their Close methods.
	diarizer = observe.InstrumentDiarization(diarizer, metrics, cfg.Providers.Diarization.Name)
	embedder = observe.InstrumentEmbeddings(embedder, metrics, cfg.Providers.Embeddings.Name)
	transcriber = observe.InstrumentSTT(transcriber, metrics, cfg.Providers.STT.Name)

	// ── Object store ──────────────────────────────────────────────────────────
	store, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to create object store", "err", err)
		return 1
	}

	ffmpeg, err := media.NewFFmpeg(*ffmpegPath, media.WithLogger(logger))
	if err != nil {
		slog.Error("failed to locate ffmpeg", "err", err)
		return 1
	}

	// ── Progress reporting (optional) ─────────────────────────────────────────
	var (
		reporter progress.Reporter = progress.Noop{}
		checks   []health.Check
	)
	if cfg.Progress.DSN != "" {
		pg, err := progress.NewPostgresReporter(ctx, cfg.Progress.DSN, cfg.Progress.Table)
		if err != nil {
			slog.Error("failed to connect progress database", "err", err)
			return 1
		}
		defer pg.Close()
		reporter = pg
		checks = append(checks, health.Check{Name: "progress", Probe: pg.Ping})
		slog.Info("progress reporting enabled", "table", cfg.Progress.Table)
	}

	// ── Voiceprint registry (optional) ────────────────────────────────────────
	var voiceprints pipeline.VoiceprintStore
	if cfg.Voiceprints.DSN != "" {
		vp, err := voiceprint.Open(ctx, cfg.Voiceprints.DSN, embedder.Dim(), logger)
		if err != nil {
			slog.Error("failed to open voiceprint registry", "err", err)
			return 1
		}
		defer vp.Close()
		voiceprints = vp
		checks = append(checks, health.Check{Name: "voiceprints", Probe: vp.Ping})
		slog.Info("voiceprint registry enabled", "dim", embedder.Dim())
	}

	// ── Ops endpoint ──────────────────────────────────────────────────────────
	if cfg.MetricsAddr != "" {
		ops := health.NewServer(promhttp.Handler(), checks...)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: ops.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		slog.Info("ops endpoint listening", "addr", cfg.MetricsAddr)
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	pipe, err := pipeline.New(pipeline.Deps{
		Config:      cfg.Pipeline,
		Bucket:      cfg.Storage.Bucket,
		Store:       store,
		FFmpeg:      ffmpeg,
		Diarization: diarizer,
		Embeddings:  embedder,
		STT:         transcriber,
		Progress:    reporter,
		Voiceprints: voiceprints,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		slog.Error("failed to assemble pipeline", "err", err)
		return 1
	}

	// ── Process recordings ────────────────────────────────────────────────────
	failed := 0
	for _, key := range sourceKeys {
		if ctx.Err() != nil {
			slog.Warn("shutdown signal received, stopping")
			break
		}
		res, err := pipe.Run(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Warn("run cancelled", "source", key)
				break
			}
			slog.Error("run failed", "source", key, "err", err)
			failed++
			continue
		}
		slog.Info("run complete",
			"source", key,
			"run_id", res.RunID,
			"transcript", res.TranscriptKey,
			"speakers", res.GlobalSpeakerCount,
			"segments", res.SegmentCount,
		)
	}

	if failed > 0 {
		slog.Error("finished with failures", "failed", failed, "total", len(sourceKeys))
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages. Pipeline-wide transcription settings
// (language, beam size) come from pcfg so every STT backend honours them.
func registerBuiltinProviders(reg *config.Registry, pcfg config.PipelineConfig) {
	// ── Diarization ───────────────────────────────────────────────────────────

	reg.RegisterDiarization("sherpa", func(entry config.ProviderEntry) (diarization.Provider, error) {
		c := sherpadiar.Config{
			SegmentationModel: entry.Model,
			EmbeddingModel:    optString(entry.Options, "embedding_model"),
			NumThreads:        optInt(entry.Options, "num_threads"),
			Provider:          optString(entry.Options, "execution_provider"),
		}
		if v := optFloat(entry.Options, "clustering_threshold"); v != 0 {
			c.ClusteringThreshold = float32(v)
		}
		if v := optFloat(entry.Options, "min_duration_on"); v != 0 {
			c.MinDurationOn = float32(v)
		}
		if v := optFloat(entry.Options, "min_duration_off"); v != 0 {
			c.MinDurationOff = float32(v)
		}
		return sherpadiar.New(c, slog.Default())
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("sherpa", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return sherpaembed.New(sherpaembed.Config{
			Model:      entry.Model,
			NumThreads: optInt(entry.Options, "num_threads"),
			Provider:   optString(entry.Options, "execution_provider"),
		}, slog.Default())
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return whisper.New(entry.BaseURL,
			whisper.WithLanguage(pcfg.STTLanguage),
			whisper.WithBeamSize(pcfg.STTBeamSize),
		)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		return whisper.NewNative(modelPath, whisper.WithNativeLanguage(pcfg.STTLanguage))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, oaistt.WithLanguage(pcfg.STTLanguage))
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the three providers named in cfg. The returned
// close function releases whatever model resources the backends hold.
func buildProviders(cfg *config.Config, reg *config.Registry) (diarization.Provider, embeddings.Provider, stt.Transcriber, func(), error) {
	diarizer, err := reg.CreateDiarization(cfg.Providers.Diarization)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create diarization provider %q: %w", cfg.Providers.Diarization.Name, err)
	}
	slog.Info("provider created", "kind", "diarization", "name", cfg.Providers.Diarization.Name)

	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	transcriber, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	closeAll := func() {
		if c, ok := transcriber.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("stt close error", "err", err)
			}
		}
		if c, ok := embedder.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("embeddings close error", "err", err)
			}
		}
		if c, ok := diarizer.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				slog.Warn("diarization close error", "err", err)
			}
		}
	}
	return diarizer, embedder, transcriber, closeAll, nil
}

// ── Object store ──────────────────────────────────────────────────────────────

// newBlobStore builds the S3-backed blob store from the standard AWS config
// chain, honouring the optional region and custom endpoint (MinIO, R2).
func newBlobStore(ctx context.Context, sc config.StorageConfig) (*s3blob.Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if sc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(sc.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			// S3-compatible stores generally require path-style addressing.
			o.UsePathStyle = true
		}
	})
	return s3blob.New(client), nil
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an int value, tolerating YAML's habit of decoding small
// numbers as int or float64 depending on context.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optFloat extracts a float value with the same tolerance as [optInt].
func optFloat(opts map[string]any, key string) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
