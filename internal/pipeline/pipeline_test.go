package pipeline

import (
	"context"
	"errors"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/longscribe/longscribe/internal/config"
	"github.com/longscribe/longscribe/internal/media"
	"github.com/longscribe/longscribe/internal/progress"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/audio"
	"github.com/longscribe/longscribe/pkg/blob"
	blobmock "github.com/longscribe/longscribe/pkg/blob/mock"
	"github.com/longscribe/longscribe/pkg/provider/diarization"
	diamock "github.com/longscribe/longscribe/pkg/provider/diarization/mock"
	embmock "github.com/longscribe/longscribe/pkg/provider/embeddings/mock"
	sttmock "github.com/longscribe/longscribe/pkg/provider/stt/mock"
	"github.com/longscribe/longscribe/pkg/types"
)

// fakeFFmpeg answers duration probes with a fixed value and writes a real
// 6-second WAV for every normalize and cut invocation.
type fakeFFmpeg struct {
	mu       sync.Mutex
	duration string
	calls    int
}

func (r *fakeFFmpeg) CombinedOutput(_ context.Context, _ string, args []string) ([]byte, error) {
	if slices.Contains(args, "null") {
		return []byte("Duration: " + r.duration + ", bitrate: 256 kb/s"), nil
	}
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	samples := make([]float32, 6*16000)
	for i := range samples {
		samples[i] = 0.25
	}
	out, err := os.Create(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	defer out.Close()
	return nil, audio.EncodeWAV(out, samples, 16000)
}

type voiceprintRecorder struct {
	mu     sync.Mutex
	stored map[string][]float32
}

func (v *voiceprintRecorder) Store(_ context.Context, _ string, speaker string, embedding []float32, _ float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stored == nil {
		v.stored = make(map[string][]float32)
	}
	v.stored[speaker] = embedding
	return nil
}

type fixture struct {
	store    *blobmock.Store
	progress *progress.Recorder
	voices   *voiceprintRecorder
	stt      *sttmock.Transcriber
	pipeline *Pipeline
}

// newFixture assembles a pipeline over mocks for a 600-second recording:
// two chunks, each diarized as one 4-second utterance by a single speaker.
func newFixture(t *testing.T, mutate func(*config.PipelineConfig, *Deps)) *fixture {
	t.Helper()

	ff, err := media.NewFFmpeg("ffmpeg", media.WithRunner(&fakeFFmpeg{duration: "00:10:00.00"}))
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}

	cfg := config.PipelineConfig{}
	cfg.ApplyDefaults()
	cfg.DiarizeWorkers = 2
	cfg.TranscribeWorkers = 2

	f := &fixture{
		store:    blobmock.New(),
		progress: &progress.Recorder{},
		voices:   &voiceprintRecorder{},
		stt:      &sttmock.Transcriber{Text: "hello"},
	}
	deps := Deps{
		Config: cfg,
		Bucket: "bucket",
		Store:  f.store,
		FFmpeg: ff,
		Diarization: &diamock.Provider{Segments: []diarization.Segment{
			{Start: 1, End: 5, Speaker: 0},
		}},
		Embeddings:  &embmock.Provider{},
		STT:         f.stt,
		Progress:    f.progress,
		Voiceprints: f.voices,
	}
	if mutate != nil {
		mutate(&deps.Config, &deps)
	}

	p, err := New(deps, WithRetryBackoff(time.Millisecond, 2*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.pipeline = p

	if err := f.store.Put(context.Background(), "bucket", "uploads/meeting.mp4", []byte("container"), "video/mp4"); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	return f
}

func TestRunProducesTranscript(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RunID == "" {
		t.Error("empty run id")
	}
	if res.AudioKey != "processed/meeting.wav" {
		t.Errorf("audio key = %q, want processed/meeting.wav", res.AudioKey)
	}
	// Both chunks carry the same waveform, so their speakers cluster into one.
	if res.GlobalSpeakerCount != 1 {
		t.Errorf("GlobalSpeakerCount = %d, want 1", res.GlobalSpeakerCount)
	}
	if res.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2 (one utterance per chunk)", res.SegmentCount)
	}
	if res.TranscriptKey != "transcripts/meeting_transcript.json" {
		t.Errorf("transcript key = %q", res.TranscriptKey)
	}

	var transcript []types.TranscribeResult
	if err := blob.GetJSON(context.Background(), f.store, "bucket", res.TranscriptKey, &transcript); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if len(transcript) != 2 {
		t.Fatalf("transcript has %d entries, want 2: %+v", len(transcript), transcript)
	}
	for i, entry := range transcript {
		if entry.Speaker != "SPEAKER_A" || entry.Text != "hello" {
			t.Errorf("entry %d = %+v, want SPEAKER_A saying hello", i, entry)
		}
		if i > 0 && entry.Start < transcript[i-1].Start {
			t.Errorf("transcript out of order at %d", i)
		}
	}
	// Chunk 1 starts at 480s, so its utterance lands at 481s.
	if transcript[0].Start != 1 || transcript[1].Start != 481 {
		t.Errorf("starts = %v, %v; want 1, 481", transcript[0].Start, transcript[1].Start)
	}
}

func TestRunReportsProgressInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []progress.Step{
		progress.StepQueued,
		progress.StepExtractingAudio,
		progress.StepChunkingAudio,
		progress.StepDiarizing,
		progress.StepMergingSpeakers,
		progress.StepSplittingBySpeaker,
		progress.StepTranscribing,
		progress.StepAggregatingResults,
		progress.StepAnalyzing,
		progress.StepCompleted,
	}
	got := f.progress.Steps()
	if !slices.Equal(got, want) {
		t.Errorf("progress steps = %v, want %v", got, want)
	}
}

func TestRunStoresVoiceprintCentroid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	if _, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f.voices.mu.Lock()
	defer f.voices.mu.Unlock()
	centroid, ok := f.voices.stored["SPEAKER_A"]
	if !ok {
		t.Fatalf("no voiceprint stored, have %v", f.voices.stored)
	}
	if len(centroid) != 8 {
		t.Errorf("centroid dimension = %d, want 8", len(centroid))
	}
}

func TestRunSpillsOversizedManifests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.PipelineConfig, _ *Deps) {
		cfg.PayloadCapBytes = 64
	})
	res, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !f.store.Exists("bucket", "metadata/meeting_chunk_results.json") {
		t.Error("oversized chunk manifest list was not spilled to a blob")
	}
	if res.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2 (spilled envelopes must round-trip)", res.SegmentCount)
	}
}

func TestRunFailsWhenTranscriptionExhaustsRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(_ *config.PipelineConfig, deps *Deps) {
		deps.STT = &sttmock.Transcriber{TranscribeErr: errors.New("model down")}
	})
	_, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4")
	if err == nil {
		t.Fatal("Run succeeded despite a permanently failing transcriber")
	}

	steps := f.progress.Steps()
	if len(steps) == 0 || steps[len(steps)-1] != progress.StepFailed {
		t.Errorf("last progress step = %v, want %v", steps, progress.StepFailed)
	}
	if f.store.Exists("bucket", "transcripts/meeting_transcript.json") {
		t.Error("transcript blob written for a failed run")
	}
	// Intermediate artefacts stay for inspection.
	if !f.store.Exists("bucket", "meeting_segments.json") {
		t.Error("merged segments blob missing after failure")
	}
}

func TestRunSplitsFromPersistedSegments(t *testing.T) {
	t.Parallel()

	// The merger hands the split stage only a segments_key; if reading
	// that blob back fails, the split leg must fail even though the
	// merge itself succeeded.
	f := newFixture(t, nil)
	f.store.FailGet = func(_, key string) error {
		if key == "meeting_segments.json" {
			return errors.New("store outage")
		}
		return nil
	}
	_, err := f.pipeline.Run(context.Background(), "uploads/meeting.mp4")
	if !errors.Is(err, stage.ErrTransientBlobIO) {
		t.Fatalf("err = %v, want ErrTransientBlobIO from the segments_key read", err)
	}
	if f.store.Exists("bucket", "metadata/meeting_segment_files.json") {
		t.Error("segment manifest written although the segments blob was unreadable")
	}
}

func TestRunFailsFastOnCorruptSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start := time.Now()
	_, err := f.pipeline.Run(context.Background(), "uploads/missing.mp4")
	if err == nil {
		t.Fatal("Run succeeded on a missing source object")
	}
	// Missing blobs are transient in general, so retries happen, but the
	// short test backoff keeps this well under a second.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("failure took %v", elapsed)
	}
}

func TestNewRequiresProviders(t *testing.T) {
	t.Parallel()

	ff, _ := media.NewFFmpeg("ffmpeg", media.WithRunner(&fakeFFmpeg{duration: "00:01:00.00"}))
	cfg := config.PipelineConfig{}
	cfg.ApplyDefaults()

	_, err := New(Deps{Config: cfg, Bucket: "b", Store: blobmock.New(), FFmpeg: ff})
	if err == nil {
		t.Fatal("New accepted deps without providers")
	}
}
