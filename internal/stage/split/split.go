// Package split cuts the normalized recording into one audio clip per
// global segment, so each clip can be transcribed independently.
package split

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/media"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/types"
)

// Splitter cuts segment clips with ffmpeg and uploads them under segments/.
type Splitter struct {
	ffmpeg *media.FFmpeg
	store  blob.Store
	bucket string
	logger *slog.Logger
}

// New builds a Splitter. The logger defaults to slog.Default().
func New(ffmpeg *media.FFmpeg, store blob.Store, bucket string, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{ffmpeg: ffmpeg, store: store, bucket: bucket, logger: logger}
}

// Split downloads the normalized recording at audioKey, cuts one clip per
// segment, uploads each, and persists the clip descriptors under
// metadata/. It returns the descriptors plus the manifest key; the manifest
// is written even for an empty segment list so downstream stages can always
// resolve it.
func (s *Splitter) Split(ctx context.Context, base, audioKey string, segments []types.GlobalSegment) ([]types.SegmentFile, string, error) {
	tmpDir, err := os.MkdirTemp("", "longscribe-split-*")
	if err != nil {
		return nil, "", fmt.Errorf("split: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	files := make([]types.SegmentFile, 0, len(segments))
	if len(segments) > 0 {
		local := filepath.Join(tmpDir, filepath.Base(audioKey))
		if err := s.store.Download(ctx, s.bucket, audioKey, local); err != nil {
			return nil, "", fmt.Errorf("%w: download %s: %v", stage.ErrTransientBlobIO, audioKey, err)
		}

		for i, seg := range segments {
			key := keys.SegmentFile(base, i, seg.Speaker)
			clip := filepath.Join(tmpDir, filepath.Base(key))
			if err := s.ffmpeg.Cut(ctx, local, clip, seg.Start, seg.End); err != nil {
				return nil, "", fmt.Errorf("%w: segment %d: %v", stage.ErrCorruptInput, i, err)
			}
			if err := s.store.Upload(ctx, clip, s.bucket, key, blob.ContentTypeWAV); err != nil {
				return nil, "", fmt.Errorf("%w: upload segment %d: %v", stage.ErrTransientBlobIO, i, err)
			}
			os.Remove(clip)

			files = append(files, types.SegmentFile{
				Key:     key,
				Speaker: seg.Speaker,
				Start:   seg.Start,
				End:     seg.End,
			})
		}
	}

	metaKey := keys.SegmentFilesMeta(base)
	if err := blob.PutJSON(ctx, s.store, s.bucket, metaKey, files); err != nil {
		return nil, "", fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, metaKey, err)
	}

	s.logger.Info("split recording into segments", "base", base, "segments", len(files), "manifest", metaKey)
	return files, metaKey, nil
}
