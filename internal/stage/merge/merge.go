// Package merge reconciles per-chunk diarization results into one global
// speaker timeline: it clusters speaker embeddings across chunks, relabels
// every segment with its global speaker, clips segments to their chunk's
// effective window, and coalesces the result.
package merge

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

// Merger merges the diarization artefacts of a run.
type Merger struct {
	store       blob.Store
	bucket      string
	threshold   float64
	coalesceGap float64
	logger      *slog.Logger
}

// New builds a Merger. threshold is the cosine similarity τ above which two
// speaker embeddings belong to the same person; coalesceGap is the largest
// silence, in seconds, bridged between same-speaker segments.
func New(store blob.Store, bucket string, threshold, coalesceGap float64, logger *slog.Logger) (*Merger, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("merge: similarity threshold must be in (0, 1), got %v", threshold)
	}
	if coalesceGap < 0 {
		return nil, fmt.Errorf("merge: coalesce gap must be non-negative, got %v", coalesceGap)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, bucket: bucket, threshold: threshold, coalesceGap: coalesceGap, logger: logger}, nil
}

// Result summarizes a merge. It carries only blob keys and scalars; the
// segment list and the speaker mapping live in their blobs and downstream
// stages read them back by key.
type Result struct {
	// SegmentsKey is the blob key of the persisted segment list, empty when
	// every chunk was silent.
	SegmentsKey string

	// MappingKey is the blob key of the persisted "chunk_<idx>_<local>" →
	// global speaker mapping.
	MappingKey string

	// GlobalSpeakerCount is the number of distinct clustered speakers.
	GlobalSpeakerCount int
}

// Merge loads every chunk result named by manifests and produces the global
// timeline for the run identified by base.
func (m *Merger) Merge(ctx context.Context, base string, manifests []types.ChunkManifest) (*Result, error) {
	sorted := append([]types.ChunkManifest{}, manifests...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	chunks := make([]types.ChunkDiarization, 0, len(sorted))
	for _, man := range sorted {
		var cd types.ChunkDiarization
		if err := blob.GetJSON(ctx, m.store, m.bucket, man.ResultKey, &cd); err != nil {
			return nil, fmt.Errorf("%w: load %s: %v", stage.ErrTransientBlobIO, man.ResultKey, err)
		}
		chunks = append(chunks, cd)
	}

	mapping, count, err := clusterSpeakers(chunks, m.threshold)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		mapping = map[string]string{}
	}

	segments := m.buildTimeline(chunks, mapping)
	if segments == nil {
		segments = []types.GlobalSegment{}
	}

	mappingKey := keys.SpeakerMapping(base)
	if err := blob.PutJSON(ctx, m.store, m.bucket, mappingKey, mapping); err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, mappingKey, err)
	}

	// The blob is written even for a silent run so downstream readers
	// always find a well-formed array; the key in the result stays empty
	// to signal there is nothing to split.
	segmentsKey := keys.Segments(base)
	if err := blob.PutJSON(ctx, m.store, m.bucket, segmentsKey, segments); err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, segmentsKey, err)
	}
	if len(segments) == 0 {
		m.logger.Warn("all chunks are silent", "base", base)
		return &Result{MappingKey: mappingKey}, nil
	}

	m.logger.Info("merged speakers",
		"base", base,
		"chunks", len(chunks),
		"global_speakers", count,
		"segments", len(segments),
	)
	return &Result{
		SegmentsKey:        segmentsKey,
		MappingKey:         mappingKey,
		GlobalSpeakerCount: count,
	}, nil
}

// clusterSpeakers clusters every embedded local speaker across chunks and
// returns the mapping "chunk_<idx>_<local>" → global label plus the global
// speaker count. Local speakers without an embedding are left out of the
// mapping; buildTimeline labels them UNKNOWN_<local>.
func clusterSpeakers(chunks []types.ChunkDiarization, threshold float64) (map[string]string, int, error) {
	var (
		embeddings [][]float32
		ids        []string
	)
	for _, cd := range chunks {
		for _, local := range sortedSpeakers(cd.Speakers) {
			profile := cd.Speakers[local]
			if len(profile.Embedding) == 0 {
				continue
			}
			embeddings = append(embeddings, profile.Embedding)
			ids = append(ids, mappingKey(cd.ChunkIndex, local))
		}
	}

	mapping := make(map[string]string, len(ids))
	if len(embeddings) == 0 {
		return mapping, 0, nil
	}

	groups, err := cluster(embeddings, 1-threshold)
	if err != nil {
		return nil, 0, err
	}
	for g, members := range groups {
		label := speakerLabel(g)
		for _, idx := range members {
			mapping[ids[idx]] = label
		}
	}
	return mapping, len(groups), nil
}

// buildTimeline shifts every chunk-local segment to recording time, keeps
// the part inside the chunk's effective window, sorts, and coalesces
// nearby same-speaker segments.
func (m *Merger) buildTimeline(chunks []types.ChunkDiarization, mapping map[string]string) []types.GlobalSegment {
	var resolved []types.GlobalSegment
	for _, cd := range chunks {
		for _, seg := range cd.Segments {
			speaker, ok := mapping[mappingKey(cd.ChunkIndex, seg.LocalSpeaker)]
			if !ok {
				speaker = "UNKNOWN_" + seg.LocalSpeaker
			}

			start := seg.LocalStart + cd.Offset
			end := seg.LocalEnd + cd.Offset
			if start < cd.EffectiveStart {
				start = cd.EffectiveStart
			}
			if end > cd.EffectiveEnd {
				end = cd.EffectiveEnd
			}
			if start >= end {
				continue
			}
			resolved = append(resolved, types.GlobalSegment{Start: start, End: end, Speaker: speaker})
		}
	}

	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Speaker < b.Speaker
	})

	var merged []types.GlobalSegment
	for _, seg := range resolved {
		if n := len(merged); n > 0 && merged[n-1].Speaker == seg.Speaker && seg.Start-merged[n-1].End < m.coalesceGap {
			if seg.End > merged[n-1].End {
				merged[n-1].End = seg.End
			}
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

func sortedSpeakers(profiles map[string]types.SpeakerProfile) []string {
	out := make([]string, 0, len(profiles))
	for s := range profiles {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func mappingKey(chunkIdx int, local string) string {
	return fmt.Sprintf("chunk_%d_%s", chunkIdx, local)
}
