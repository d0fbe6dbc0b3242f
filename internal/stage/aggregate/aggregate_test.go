package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	blobmock "github.com/longscribe/longscribe/pkg/blob/mock"
	"github.com/longscribe/longscribe/pkg/types"
)

func putResult(t *testing.T, store blob.Store, segmentKey string, res types.TranscribeResult) {
	t.Helper()
	if err := blob.PutJSON(context.Background(), store, "bucket", keys.TranscribeResult(segmentKey), res); err != nil {
		t.Fatalf("seed result for %s: %v", segmentKey, err)
	}
}

func TestAggregateOrdersEntriesByStart(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	files := []types.SegmentFile{
		{Key: "segments/standup_0001_SPEAKER_B.wav", Speaker: "SPEAKER_B", Start: 5.5, End: 10},
		{Key: "segments/standup_0000_SPEAKER_A.wav", Speaker: "SPEAKER_A", Start: 0, End: 5},
	}
	putResult(t, store, files[0].Key, types.TranscribeResult{Speaker: "SPEAKER_B", Start: 5.5, End: 10, Text: "second"})
	putResult(t, store, files[1].Key, types.TranscribeResult{Speaker: "SPEAKER_A", Start: 0, End: 5, Text: "first"})

	res, err := New(store, "bucket", nil).Aggregate(context.Background(), "standup", files)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.TranscriptKey != "transcripts/standup_transcript.json" {
		t.Errorf("transcript key = %q, want transcripts/standup_transcript.json", res.TranscriptKey)
	}
	if res.SegmentCount != 2 {
		t.Errorf("SegmentCount = %d, want 2", res.SegmentCount)
	}

	var transcript []types.TranscribeResult
	if err := blob.GetJSON(context.Background(), store, "bucket", res.TranscriptKey, &transcript); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if len(transcript) != 2 || transcript[0].Text != "first" || transcript[1].Text != "second" {
		t.Errorf("transcript = %+v, want entries ordered by start", transcript)
	}
}

func TestAggregateToleratesMissingResult(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	files := []types.SegmentFile{
		{Key: "segments/demo_0000_SPEAKER_A.wav", Speaker: "SPEAKER_A", Start: 0, End: 3},
		{Key: "segments/demo_0001_SPEAKER_B.wav", Speaker: "SPEAKER_B", Start: 4, End: 8},
	}
	// Only the second segment has a stored result.
	putResult(t, store, files[1].Key, types.TranscribeResult{Speaker: "SPEAKER_B", Start: 4, End: 8, Text: "hello"})

	res, err := New(store, "bucket", nil).Aggregate(context.Background(), "demo", files)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.SegmentCount != 2 {
		t.Fatalf("SegmentCount = %d, want 2", res.SegmentCount)
	}

	var transcript []types.TranscribeResult
	if err := blob.GetJSON(context.Background(), store, "bucket", res.TranscriptKey, &transcript); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	want := types.TranscribeResult{Speaker: "SPEAKER_A", Start: 0, End: 3, Text: readErrorText}
	if transcript[0] != want {
		t.Errorf("placeholder entry = %+v, want %+v", transcript[0], want)
	}
	if transcript[1].Text != "hello" {
		t.Errorf("second entry = %+v, want the stored result", transcript[1])
	}
}

func TestAggregateEmptyRun(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	res, err := New(store, "bucket", nil).Aggregate(context.Background(), "silent", nil)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if res.SegmentCount != 0 {
		t.Errorf("SegmentCount = %d, want 0", res.SegmentCount)
	}
	var transcript []types.TranscribeResult
	if err := blob.GetJSON(context.Background(), store, "bucket", res.TranscriptKey, &transcript); err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if len(transcript) != 0 {
		t.Errorf("transcript = %+v, want empty list", transcript)
	}
}

func TestAggregateTranscriptPutFailureIsTransient(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	store.FailPut = func(_, key string) error {
		if strings.HasPrefix(key, "transcripts/") {
			return errors.New("put refused")
		}
		return nil
	}
	_, err := New(store, "bucket", nil).Aggregate(context.Background(), "denied", nil)
	if !errors.Is(err, stage.ErrTransientBlobIO) {
		t.Fatalf("err = %v, want ErrTransientBlobIO", err)
	}
}

func TestAggregateStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	files := []types.SegmentFile{{Key: "segments/x_0000_SPEAKER_A.wav", Speaker: "SPEAKER_A"}}
	_, err := New(store, "bucket", nil).Aggregate(ctx, "x", files)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
