package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	blobmock "github.com/longscribe/longscribe/pkg/blob/mock"
	sttmock "github.com/longscribe/longscribe/pkg/provider/stt/mock"
	"github.com/longscribe/longscribe/pkg/types"
)

func TestProcessSegmentPersistsResult(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	clipKey := "segments/standup_0003_SPEAKER_B.wav"
	if err := store.Put(context.Background(), "bucket", clipKey, []byte("wav"), blob.ContentTypeWAV); err != nil {
		t.Fatalf("seed clip: %v", err)
	}
	provider := &sttmock.Transcriber{Text: "見積もりを更新します。"}

	file := types.SegmentFile{Key: clipKey, Speaker: "SPEAKER_B", Start: 12.5, End: 19.25}
	resultKey, err := New(provider, store, "bucket", nil).ProcessSegment(context.Background(), file)
	if err != nil {
		t.Fatalf("ProcessSegment: %v", err)
	}

	if resultKey != "transcribe_results/standup_0003_SPEAKER_B.json" {
		t.Errorf("result key = %q, want transcribe_results/standup_0003_SPEAKER_B.json", resultKey)
	}
	var res types.TranscribeResult
	if err := blob.GetJSON(context.Background(), store, "bucket", resultKey, &res); err != nil {
		t.Fatalf("read result: %v", err)
	}
	want := types.TranscribeResult{Speaker: "SPEAKER_B", Start: 12.5, End: 19.25, Text: "見積もりを更新します。"}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	if len(provider.TranscribeCalls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.TranscribeCalls))
	}
	if got := filepath.Base(provider.TranscribeCalls[0]); got != filepath.Base(clipKey) {
		t.Errorf("provider given %q, want a local copy of %q", got, clipKey)
	}
}

func TestProcessSegmentMissingClipIsTransient(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	file := types.SegmentFile{Key: "segments/gone_0000_SPEAKER_A.wav", Speaker: "SPEAKER_A"}

	_, err := New(&sttmock.Transcriber{}, store, "bucket", nil).ProcessSegment(context.Background(), file)
	if !errors.Is(err, stage.ErrTransientBlobIO) {
		t.Fatalf("err = %v, want ErrTransientBlobIO", err)
	}
}

func TestProcessSegmentProviderFailureIsTransientModel(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	clipKey := "segments/flaky_0000_SPEAKER_A.wav"
	if err := store.Put(context.Background(), "bucket", clipKey, []byte("wav"), blob.ContentTypeWAV); err != nil {
		t.Fatalf("seed clip: %v", err)
	}
	provider := &sttmock.Transcriber{TranscribeErr: errors.New("model busy")}

	file := types.SegmentFile{Key: clipKey, Speaker: "SPEAKER_A"}
	_, err := New(provider, store, "bucket", nil).ProcessSegment(context.Background(), file)
	if !errors.Is(err, stage.ErrTransientModel) {
		t.Fatalf("err = %v, want ErrTransientModel", err)
	}
	if !stage.IsRetryable(err) {
		t.Error("provider failure should be retryable")
	}
}

func TestProcessSegmentCanceledContextIsNotRetryable(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	clipKey := "segments/cancel_0000_SPEAKER_A.wav"
	if err := store.Put(context.Background(), "bucket", clipKey, []byte("wav"), blob.ContentTypeWAV); err != nil {
		t.Fatalf("seed clip: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	provider := &sttmock.Transcriber{TextFunc: func(string) (string, error) {
		cancel()
		return "", context.Canceled
	}}

	file := types.SegmentFile{Key: clipKey, Speaker: "SPEAKER_A"}
	_, err := New(provider, store, "bucket", nil).ProcessSegment(ctx, file)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if stage.IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
}

func TestProcessSegmentResultPutFailureIsTransient(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	clipKey := "segments/put_0000_SPEAKER_A.wav"
	if err := store.Put(context.Background(), "bucket", clipKey, []byte("wav"), blob.ContentTypeWAV); err != nil {
		t.Fatalf("seed clip: %v", err)
	}
	store.FailPut = func(_, key string) error {
		if strings.HasPrefix(key, "transcribe_results/") {
			return errors.New("put refused")
		}
		return nil
	}

	file := types.SegmentFile{Key: clipKey, Speaker: "SPEAKER_A"}
	_, err := New(&sttmock.Transcriber{Text: "hi"}, store, "bucket", nil).ProcessSegment(context.Background(), file)
	if !errors.Is(err, stage.ErrTransientBlobIO) {
		t.Fatalf("err = %v, want ErrTransientBlobIO", err)
	}
}
