// Package types defines the shared data model used across all longscribe
// packages.
//
// These types form the lingua franca between pipeline stages: every entity is
// persisted as a JSON blob in the object store and referenced between stages
// by key only, so the JSON field names here are part of the on-disk contract
// and must not change casually. Cross-cutting structures live here to avoid
// circular imports; each stage package defines its own internals.
package types

// ChunkDescriptor identifies one fixed-duration window of the normalized
// recording. Chunks overlap their neighbours; the effective window
// [EffectiveStart, EffectiveEnd) is the sub-interval whose diarization
// results are retained, and effective windows tile the whole recording with
// no gaps and no overlaps.
type ChunkDescriptor struct {
	// ChunkIndex is the dense, zero-based position of this chunk.
	ChunkIndex int `json:"chunk_index"`

	// ChunkKey is the blob key of the chunk's audio (mono 16 kHz WAV).
	ChunkKey string `json:"chunk_key"`

	// Offset is the chunk's start within the recording, in seconds.
	Offset float64 `json:"offset"`

	// Duration is the chunk's length in seconds. Every chunk except possibly
	// the last has the full configured duration.
	Duration float64 `json:"duration"`

	// EffectiveStart and EffectiveEnd bound the retained zone in recording
	// time (not chunk-local time).
	EffectiveStart float64 `json:"effective_start"`
	EffectiveEnd   float64 `json:"effective_end"`
}

// LocalSegment is one diarized speech interval in chunk-local time.
// LocalSpeaker is only meaningful within the owning chunk.
type LocalSegment struct {
	LocalStart   float64 `json:"local_start"`
	LocalEnd     float64 `json:"local_end"`
	LocalSpeaker string  `json:"local_speaker"`
}

// SpeakerProfile summarises one chunk-local speaker's voice: the
// duration-weighted mean embedding over that speaker's segments of at least
// half a second, plus bookkeeping about how much speech contributed to it.
type SpeakerProfile struct {
	// Embedding is the fixed-dimension voice embedding. Embeddings live only
	// in the detailed chunk blob — never in inter-stage messages, where they
	// would blow the payload cap.
	Embedding []float32 `json:"embedding"`

	// TotalDuration is the summed duration (seconds) of the segments that
	// contributed to Embedding.
	TotalDuration float64 `json:"total_duration"`

	// SegmentCount is the number of contributing segments.
	SegmentCount int `json:"segment_count"`
}

// ChunkDiarization is the detailed per-chunk diarization result, persisted as
// a blob and referenced by key in the chunk manifest. A chunk with no
// detected speech has empty Segments and Speakers and SpeakerCount zero —
// that is a valid result, not an error.
type ChunkDiarization struct {
	ChunkIndex     int                       `json:"chunk_index"`
	Offset         float64                   `json:"offset"`
	EffectiveStart float64                   `json:"effective_start"`
	EffectiveEnd   float64                   `json:"effective_end"`
	Segments       []LocalSegment            `json:"segments"`
	Speakers       map[string]SpeakerProfile `json:"speakers"`
	SpeakerCount   int                       `json:"speaker_count"`
}

// ChunkManifest is the lightweight result a diarization worker returns to the
// driver. It carries only the blob key plus small scalars so any number of
// manifests stays well under the inter-stage payload cap.
type ChunkManifest struct {
	ChunkIndex   int    `json:"chunk_index"`
	ResultKey    string `json:"result_key"`
	SpeakerCount int    `json:"speaker_count"`
}

// GlobalSegment is a speech interval in recording time attributed to a
// cross-chunk (global) speaker label. Within a final segment list, segments
// are time-ordered and non-overlapping.
type GlobalSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// SegmentFile describes one per-segment audio clip cut from the normalized
// recording. It corresponds 1:1 to a GlobalSegment. Descriptors are kept
// deliberately small (~100 bytes serialized) so several hundred fit inside a
// single inter-stage message.
type SegmentFile struct {
	Key     string  `json:"key"`
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// TranscribeResult is the transcription of one segment clip. Text may be the
// empty string when the clip contains no recognisable speech.
type TranscribeResult struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}
