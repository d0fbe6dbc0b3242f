// Package aggregate collects per-segment transcription results into the
// final time-ordered transcript.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/types"
)

// readErrorText marks a transcript entry whose result blob could not be
// loaded; the entry keeps its timing and speaker from the segment manifest.
const readErrorText = "[read error]"

// Aggregator assembles the final transcript blob.
type Aggregator struct {
	store  blob.Store
	bucket string
	logger *slog.Logger
}

// New builds an Aggregator. The logger defaults to slog.Default().
func New(store blob.Store, bucket string, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, bucket: bucket, logger: logger}
}

// Result summarizes an aggregation.
type Result struct {
	TranscriptKey string
	SegmentCount  int
}

// Aggregate loads the transcription result of every segment file, orders
// the entries by start time, and persists the transcript under
// transcripts/. A result blob that cannot be read does not fail the run:
// its entry carries the placeholder text and the timing from the manifest.
func (a *Aggregator) Aggregate(ctx context.Context, base string, files []types.SegmentFile) (*Result, error) {
	entries := make([]types.TranscribeResult, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resultKey := keys.TranscribeResult(f.Key)
		var res types.TranscribeResult
		if err := blob.GetJSON(ctx, a.store, a.bucket, resultKey, &res); err != nil {
			a.logger.Error("failed to load transcription result", "key", resultKey, "error", err)
			res = types.TranscribeResult{
				Speaker: f.Speaker,
				Start:   f.Start,
				End:     f.End,
				Text:    readErrorText,
			}
		}
		entries = append(entries, res)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Speaker < b.Speaker
	})

	transcriptKey := keys.Transcript(base)
	if err := blob.PutJSONIndent(ctx, a.store, a.bucket, transcriptKey, entries); err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, transcriptKey, err)
	}

	a.logger.Info("aggregated transcript", "base", base, "segments", len(entries), "key", transcriptKey)
	return &Result{TranscriptKey: transcriptKey, SegmentCount: len(entries)}, nil
}
