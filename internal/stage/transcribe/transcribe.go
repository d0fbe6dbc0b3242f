// Package transcribe turns one segment clip into text and persists the
// result as a blob, returning only its key.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/provider/stt"
	"github.com/longscribe/longscribe/pkg/types"
)

// Transcriber runs the speech-to-text provider over segment clips.
type Transcriber struct {
	stt    stt.Transcriber
	store  blob.Store
	bucket string
	logger *slog.Logger
}

// New builds a Transcriber. The logger defaults to slog.Default().
func New(provider stt.Transcriber, store blob.Store, bucket string, logger *slog.Logger) *Transcriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{stt: provider, store: store, bucket: bucket, logger: logger}
}

// ProcessSegment downloads the clip described by file, transcribes it, and
// persists a TranscribeResult under transcribe_results/. It returns the
// result key; the text itself never travels between stages.
func (t *Transcriber) ProcessSegment(ctx context.Context, file types.SegmentFile) (string, error) {
	tmpDir, err := os.MkdirTemp("", "longscribe-transcribe-*")
	if err != nil {
		return "", fmt.Errorf("transcribe: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, filepath.Base(file.Key))
	if err := t.store.Download(ctx, t.bucket, file.Key, local); err != nil {
		return "", fmt.Errorf("%w: download %s: %v", stage.ErrTransientBlobIO, file.Key, err)
	}

	text, err := t.stt.Transcribe(ctx, local)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: transcribe %s: %v", stage.ErrTransientModel, file.Key, err)
	}

	resultKey := keys.TranscribeResult(file.Key)
	result := types.TranscribeResult{
		Speaker: file.Speaker,
		Start:   file.Start,
		End:     file.End,
		Text:    text,
	}
	if err := blob.PutJSON(ctx, t.store, t.bucket, resultKey, result); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, resultKey, err)
	}

	t.logger.Debug("transcribed segment", "key", file.Key, "result", resultKey, "chars", len(text))
	return resultKey, nil
}
