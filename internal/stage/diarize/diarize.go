// Package diarize runs speaker diarization over one chunk and computes the
// chunk-local speaker profiles the merge stage clusters across chunks.
package diarize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/audio"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/provider/diarization"
	"github.com/longscribe/longscribe/pkg/provider/embeddings"
	"github.com/longscribe/longscribe/pkg/types"
)

// MinEmbedSegment is the shortest segment, in seconds, that contributes to
// a speaker's embedding. Shorter snippets produce unreliable voiceprints.
const MinEmbedSegment = 0.5

// Diarizer processes one chunk at a time. Safe for concurrent use as long
// as the underlying providers are.
type Diarizer struct {
	store  blob.Store
	bucket string
	dia    diarization.Provider
	emb    embeddings.Provider
	logger *slog.Logger
}

// New builds a Diarizer. The logger defaults to slog.Default().
func New(store blob.Store, bucket string, dia diarization.Provider, emb embeddings.Provider, logger *slog.Logger) *Diarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diarizer{store: store, bucket: bucket, dia: dia, emb: emb, logger: logger}
}

// ProcessChunk diarizes the chunk audio named by desc, builds the local
// speaker profiles, persists the [types.ChunkDiarization] artefact, and
// returns its manifest.
func (d *Diarizer) ProcessChunk(ctx context.Context, base string, desc types.ChunkDescriptor) (types.ChunkManifest, error) {
	var manifest types.ChunkManifest

	tmpDir, err := os.MkdirTemp("", "longscribe-diarize-*")
	if err != nil {
		return manifest, fmt.Errorf("diarize: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, filepath.Base(desc.ChunkKey))
	if err := d.store.Download(ctx, d.bucket, desc.ChunkKey, local); err != nil {
		return manifest, fmt.Errorf("%w: download %s: %v", stage.ErrTransientBlobIO, desc.ChunkKey, err)
	}

	clip, err := audio.ReadWAV(local)
	if err != nil {
		return manifest, fmt.Errorf("%w: decode %s: %v", stage.ErrCorruptInput, desc.ChunkKey, err)
	}

	raw, err := d.dia.Diarize(ctx, clip.Samples)
	if err != nil {
		return manifest, fmt.Errorf("%w: diarize chunk %d: %v", stage.ErrTransientModel, desc.ChunkIndex, err)
	}

	segments := make([]types.LocalSegment, len(raw))
	for i, s := range raw {
		segments[i] = types.LocalSegment{
			LocalStart:   s.Start,
			LocalEnd:     s.End,
			LocalSpeaker: localSpeakerLabel(s.Speaker),
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].LocalStart != segments[j].LocalStart {
			return segments[i].LocalStart < segments[j].LocalStart
		}
		return segments[i].LocalEnd < segments[j].LocalEnd
	})

	profiles, err := d.buildProfiles(ctx, clip, segments)
	if err != nil {
		return manifest, err
	}

	result := types.ChunkDiarization{
		ChunkIndex:     desc.ChunkIndex,
		Offset:         desc.Offset,
		EffectiveStart: desc.EffectiveStart,
		EffectiveEnd:   desc.EffectiveEnd,
		Segments:       segments,
		Speakers:       profiles,
		SpeakerCount:   len(profiles),
	}

	resultKey := keys.Diarization(base, desc.ChunkIndex)
	if err := blob.PutJSON(ctx, d.store, d.bucket, resultKey, result); err != nil {
		return manifest, fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, resultKey, err)
	}

	d.logger.Info("diarized chunk",
		"chunk", desc.ChunkIndex,
		"segments", len(segments),
		"speakers", len(profiles),
	)
	return types.ChunkManifest{
		ChunkIndex:   desc.ChunkIndex,
		ResultKey:    resultKey,
		SpeakerCount: len(profiles),
	}, nil
}

// buildProfiles computes a duration-weighted mean embedding per local
// speaker over its segments of at least MinEmbedSegment seconds. A speaker
// with no segment that long gets a profile without an embedding; the merge
// stage keeps such speakers out of clustering.
func (d *Diarizer) buildProfiles(ctx context.Context, clip *audio.Clip, segments []types.LocalSegment) (map[string]types.SpeakerProfile, error) {
	type accum struct {
		sum      []float64
		weight   float64
		duration float64
		count    int
	}
	accums := make(map[string]*accum)

	for _, seg := range segments {
		a := accums[seg.LocalSpeaker]
		if a == nil {
			a = &accum{}
			accums[seg.LocalSpeaker] = a
		}
		dur := seg.LocalEnd - seg.LocalStart
		a.duration += dur
		a.count++

		if dur < MinEmbedSegment {
			continue
		}
		samples := sliceClip(clip, seg.LocalStart, seg.LocalEnd)
		if len(samples) == 0 {
			continue
		}
		vec, err := d.emb.Embed(ctx, samples)
		if err != nil {
			return nil, fmt.Errorf("%w: embed %s segment [%v, %v): %v",
				stage.ErrTransientModel, seg.LocalSpeaker, seg.LocalStart, seg.LocalEnd, err)
		}
		if a.sum == nil {
			a.sum = make([]float64, len(vec))
		}
		for i, v := range vec {
			a.sum[i] += float64(v) * dur
		}
		a.weight += dur
	}

	profiles := make(map[string]types.SpeakerProfile, len(accums))
	for speaker, a := range accums {
		p := types.SpeakerProfile{
			TotalDuration: a.duration,
			SegmentCount:  a.count,
		}
		if a.weight > 0 {
			p.Embedding = make([]float32, len(a.sum))
			for i, v := range a.sum {
				p.Embedding[i] = float32(v / a.weight)
			}
		}
		profiles[speaker] = p
	}
	return profiles, nil
}

// sliceClip returns the samples of [start, end) seconds, clamped to the
// clip bounds.
func sliceClip(clip *audio.Clip, start, end float64) []float32 {
	lo := int(start * float64(clip.SampleRate))
	hi := int(end * float64(clip.SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(clip.Samples) {
		hi = len(clip.Samples)
	}
	if lo >= hi {
		return nil
	}
	return clip.Samples[lo:hi]
}

// localSpeakerLabel formats a provider speaker index the way pyannote
// names chunk-local speakers.
func localSpeakerLabel(idx int) string {
	return fmt.Sprintf("SPEAKER_%02d", idx)
}
