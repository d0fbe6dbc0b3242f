package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/internal/stage/merge"
	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/types"
)

// Inter-stage envelopes. Every envelope must serialize below the payload
// cap; a list that would push it over travels as a blob key instead, and
// receivers accept either shape.

// ChunkResultsEnvelope hands the diarization manifests to the merge stage.
type ChunkResultsEnvelope struct {
	Bucket          string                `json:"bucket"`
	AudioKey        string                `json:"audio_key"`
	ChunkResults    []types.ChunkManifest `json:"chunk_results,omitempty"`
	ChunkResultsKey string                `json:"chunk_results_key,omitempty"`
}

// SegmentsEnvelope hands the merged timeline to the split stage. The
// segment list always travels by key; SegmentsKey is empty when every
// chunk was silent. SpeakerMappingKey points at the local-to-global
// mapping consumed by voiceprint analysis.
type SegmentsEnvelope struct {
	Bucket             string `json:"bucket"`
	AudioKey           string `json:"audio_key"`
	SegmentsKey        string `json:"segments_key"`
	SpeakerMappingKey  string `json:"speaker_mapping_key,omitempty"`
	GlobalSpeakerCount int    `json:"global_speaker_count"`
}

// SegmentFilesEnvelope hands the segment descriptors to the transcribe and
// aggregate stages. SegmentFilesKey is always set (the split stage persists
// the manifest unconditionally); the inline list is present only when it
// fits.
type SegmentFilesEnvelope struct {
	Bucket          string              `json:"bucket"`
	AudioKey        string              `json:"audio_key"`
	SegmentFiles    []types.SegmentFile `json:"segment_files,omitempty"`
	SegmentFilesKey string              `json:"segment_files_key"`
}

// fitsCap reports whether v's JSON encoding stays within capBytes.
func fitsCap(v any, capBytes int) (bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("pipeline: encode envelope: %w", err)
	}
	return len(data) <= capBytes, nil
}

// sealChunkResults builds the merge-stage envelope, spilling the manifest
// list to a blob when the inline form would exceed the cap.
func (p *Pipeline) sealChunkResults(ctx context.Context, base, audioKey string, manifests []types.ChunkManifest) (ChunkResultsEnvelope, error) {
	env := ChunkResultsEnvelope{Bucket: p.bucket, AudioKey: audioKey, ChunkResults: manifests}
	ok, err := fitsCap(env, p.cfg.PayloadCapBytes)
	if err != nil {
		return ChunkResultsEnvelope{}, err
	}
	if ok {
		return env, nil
	}

	key := keys.ChunkResultsMeta(base)
	if err := blob.PutJSON(ctx, p.store, p.bucket, key, manifests); err != nil {
		return ChunkResultsEnvelope{}, fmt.Errorf("%w: put %s: %v", stage.ErrTransientBlobIO, key, err)
	}
	return ChunkResultsEnvelope{Bucket: p.bucket, AudioKey: audioKey, ChunkResultsKey: key}, nil
}

// openChunkResults returns the manifest list from either envelope shape.
func (p *Pipeline) openChunkResults(ctx context.Context, env ChunkResultsEnvelope) ([]types.ChunkManifest, error) {
	if env.ChunkResultsKey == "" {
		return env.ChunkResults, nil
	}
	var manifests []types.ChunkManifest
	if err := blob.GetJSON(ctx, p.store, env.Bucket, env.ChunkResultsKey, &manifests); err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", stage.ErrTransientBlobIO, env.ChunkResultsKey, err)
	}
	return manifests, nil
}

// sealSegments builds the split-stage envelope from a merge result. Both
// blobs referenced already exist, so no cap check is needed; the envelope
// is keys and scalars only.
func (p *Pipeline) sealSegments(audioKey string, res *merge.Result) SegmentsEnvelope {
	return SegmentsEnvelope{
		Bucket:             p.bucket,
		AudioKey:           audioKey,
		SegmentsKey:        res.SegmentsKey,
		SpeakerMappingKey:  res.MappingKey,
		GlobalSpeakerCount: res.GlobalSpeakerCount,
	}
}

// openSegments loads the merged timeline named by the envelope. An empty
// SegmentsKey means a silent run and yields an empty list.
func (p *Pipeline) openSegments(ctx context.Context, env SegmentsEnvelope) ([]types.GlobalSegment, error) {
	if env.SegmentsKey == "" {
		return nil, nil
	}
	var segments []types.GlobalSegment
	if err := blob.GetJSON(ctx, p.store, env.Bucket, env.SegmentsKey, &segments); err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", stage.ErrTransientBlobIO, env.SegmentsKey, err)
	}
	return segments, nil
}

// sealSegmentFiles builds the transcribe-stage envelope. The manifest blob
// at metaKey already exists; the inline list is dropped when it would not
// fit.
func (p *Pipeline) sealSegmentFiles(audioKey, metaKey string, files []types.SegmentFile) (SegmentFilesEnvelope, error) {
	env := SegmentFilesEnvelope{Bucket: p.bucket, AudioKey: audioKey, SegmentFiles: files, SegmentFilesKey: metaKey}
	ok, err := fitsCap(env, p.cfg.PayloadCapBytes)
	if err != nil {
		return SegmentFilesEnvelope{}, err
	}
	if !ok {
		env.SegmentFiles = nil
	}
	return env, nil
}

// openSegmentFiles returns the descriptor list from either envelope shape.
func (p *Pipeline) openSegmentFiles(ctx context.Context, env SegmentFilesEnvelope) ([]types.SegmentFile, error) {
	if env.SegmentFiles != nil {
		return env.SegmentFiles, nil
	}
	var files []types.SegmentFile
	if err := blob.GetJSON(ctx, p.store, env.Bucket, env.SegmentFilesKey, &files); err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", stage.ErrTransientBlobIO, env.SegmentFilesKey, err)
	}
	return files, nil
}
