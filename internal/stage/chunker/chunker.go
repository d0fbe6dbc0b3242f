// Package chunker splits a normalized recording into overlapping
// diarization windows and uploads the chunk audio.
//
// Each chunk of duration D overlaps its successor by O seconds. Within a
// chunk only the effective window is kept downstream; the windows of
// consecutive chunks abut exactly, so together they tile the whole
// recording with no gaps and no double-counting.
package chunker

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

// Options holds the window geometry.
type Options struct {
	// ChunkDuration is the window length D in seconds.
	ChunkDuration float64

	// OverlapDuration is the overlap O between adjacent windows in seconds.
	OverlapDuration float64

	// EffectiveEnd is the chunk-local end E of the retained zone in
	// seconds, with D−O ≤ E ≤ D.
	EffectiveEnd float64
}

// Chunker cuts chunk audio with ffmpeg and uploads it to the object store.
type Chunker struct {
	ffmpeg *media.FFmpeg
	store  blob.Store
	bucket string
	opts   Options
	logger *slog.Logger
}

// New builds a Chunker. The logger defaults to slog.Default().
func New(ffmpeg *media.FFmpeg, store blob.Store, bucket string, opts Options, logger *slog.Logger) (*Chunker, error) {
	if opts.ChunkDuration <= 0 {
		return nil, fmt.Errorf("chunker: chunk duration must be positive")
	}
	if opts.OverlapDuration < 0 || opts.OverlapDuration >= opts.ChunkDuration {
		return nil, fmt.Errorf("chunker: overlap must be in [0, chunk duration)")
	}
	step := opts.ChunkDuration - opts.OverlapDuration
	if opts.EffectiveEnd < step || opts.EffectiveEnd > opts.ChunkDuration {
		return nil, fmt.Errorf("chunker: effective end %v outside [%v, %v]", opts.EffectiveEnd, step, opts.ChunkDuration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{ffmpeg: ffmpeg, store: store, bucket: bucket, opts: opts, logger: logger}, nil
}

// Plan computes the chunk descriptors for a recording of totalDuration
// seconds. It is pure so the window geometry can be tested without audio.
//
// Chunk i starts at i·(D−O). The effective window of chunk 0 starts at 0;
// for later chunks it starts at offset + (E−(D−O)), which is exactly where
// the previous chunk's effective window ends. The final chunk's effective
// window always ends at totalDuration. A trailing chunk whose effective
// window would be empty is not produced.
func Plan(totalDuration float64, opts Options) []types.ChunkDescriptor {
	if totalDuration <= 0 {
		return nil
	}
	d := opts.ChunkDuration
	step := d - opts.OverlapDuration
	lead := opts.EffectiveEnd - step

	var chunks []types.ChunkDescriptor
	for i := 0; ; i++ {
		offset := float64(i) * step
		effStart := offset + lead
		if i == 0 {
			effStart = 0
		}
		if offset >= totalDuration || effStart >= totalDuration {
			break
		}

		duration := d
		if offset+duration > totalDuration {
			duration = totalDuration - offset
		}
		effEnd := offset + opts.EffectiveEnd
		if effEnd > totalDuration {
			effEnd = totalDuration
		}
		last := offset+step >= totalDuration || offset+step+lead >= totalDuration
		if last {
			effEnd = totalDuration
		}

		chunks = append(chunks, types.ChunkDescriptor{
			ChunkIndex:     i,
			Offset:         offset,
			Duration:       duration,
			EffectiveStart: effStart,
			EffectiveEnd:   effEnd,
		})
		if last {
			break
		}
	}
	return chunks
}

// Chunk plans the windows for the normalized WAV at localPath, cuts each
// chunk with ffmpeg, and uploads it under chunks/. It returns the
// descriptors with their chunk keys filled in.
func (c *Chunker) Chunk(ctx context.Context, localPath, base string) ([]types.ChunkDescriptor, error) {
	total, err := c.ffmpeg.ProbeDuration(ctx, localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stage.ErrCorruptInput, err)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: recording has no duration", stage.ErrCorruptInput)
	}

	chunks := Plan(total, c.opts)

	tmpDir, err := os.MkdirTemp("", "longscribe-chunks-*")
	if err != nil {
		return nil, fmt.Errorf("chunker: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	for i := range chunks {
		ch := &chunks[i]
		ch.ChunkKey = keys.Chunk(base, ch.ChunkIndex)

		local := filepath.Join(tmpDir, filepath.Base(ch.ChunkKey))
		if err := c.ffmpeg.Cut(ctx, localPath, local, ch.Offset, ch.Offset+ch.Duration); err != nil {
			return nil, fmt.Errorf("%w: chunk %d: %v", stage.ErrCorruptInput, ch.ChunkIndex, err)
		}
		if err := c.store.Upload(ctx, local, c.bucket, ch.ChunkKey, blob.ContentTypeWAV); err != nil {
			return nil, fmt.Errorf("%w: upload chunk %d: %v", stage.ErrTransientBlobIO, ch.ChunkIndex, err)
		}
		os.Remove(local)

		c.logger.Debug("uploaded chunk",
			"index", ch.ChunkIndex,
			"key", ch.ChunkKey,
			"offset", ch.Offset,
			"effective_start", ch.EffectiveStart,
			"effective_end", ch.EffectiveEnd,
		)
	}

	c.logger.Info("chunked recording", "base", base, "duration", total, "chunks", len(chunks))
	return chunks, nil
}
