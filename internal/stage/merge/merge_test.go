package merge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/longscribe/longscribe/internal/keys"
	"github.com/longscribe/longscribe/internal/stage"
	"github.com/longscribe/longscribe/pkg/blob"
	blobmock "github.com/longscribe/longscribe/pkg/blob/mock"
	"github.com/longscribe/longscribe/pkg/types"
)

const testBucket = "test-bucket"

func embedding(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

// putChunk stores a ChunkDiarization fixture and returns its manifest.
func putChunk(t *testing.T, store blob.Store, base string, cd types.ChunkDiarization) types.ChunkManifest {
	t.Helper()
	key := keys.Diarization(base, cd.ChunkIndex)
	if err := blob.PutJSON(context.Background(), store, testBucket, key, cd); err != nil {
		t.Fatalf("put chunk %d: %v", cd.ChunkIndex, err)
	}
	return types.ChunkManifest{ChunkIndex: cd.ChunkIndex, ResultKey: key, SpeakerCount: cd.SpeakerCount}
}

func newMerger(t *testing.T, store blob.Store) *Merger {
	t.Helper()
	m, err := New(store, testBucket, 0.75, 0.5, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// loadSegments reads back the persisted global timeline for base.
func loadSegments(t *testing.T, store blob.Store, base string) []types.GlobalSegment {
	t.Helper()
	var segs []types.GlobalSegment
	if err := blob.GetJSON(context.Background(), store, testBucket, keys.Segments(base), &segs); err != nil {
		t.Fatalf("read segments blob: %v", err)
	}
	return segs
}

// loadMapping reads back the persisted speaker mapping for base.
func loadMapping(t *testing.T, store blob.Store, base string) map[string]string {
	t.Helper()
	var mapping map[string]string
	if err := blob.GetJSON(context.Background(), store, testBucket, keys.SpeakerMapping(base), &mapping); err != nil {
		t.Fatalf("read speaker mapping blob: %v", err)
	}
	return mapping
}

func TestMergeLinksSameVoiceAcrossChunks(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	sameVoice := embedding(16, 0)
	otherVoice := embedding(16, 1)

	manifests := []types.ChunkManifest{
		putChunk(t, store, "meeting", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   480,
			Segments: []types.LocalSegment{
				{LocalStart: 1, LocalEnd: 5, LocalSpeaker: "SPEAKER_00"},
				{LocalStart: 6, LocalEnd: 9, LocalSpeaker: "SPEAKER_01"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: sameVoice, TotalDuration: 4, SegmentCount: 1},
				"SPEAKER_01": {Embedding: otherVoice, TotalDuration: 3, SegmentCount: 1},
			},
			SpeakerCount: 2,
		}),
		putChunk(t, store, "meeting", types.ChunkDiarization{
			ChunkIndex:     1,
			Offset:         450,
			EffectiveStart: 480,
			EffectiveEnd:   960,
			Segments: []types.LocalSegment{
				{LocalStart: 40, LocalEnd: 45, LocalSpeaker: "SPEAKER_00"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: sameVoice, TotalDuration: 5, SegmentCount: 1},
			},
			SpeakerCount: 1,
		}),
	}

	res, err := newMerger(t, store).Merge(context.Background(), "meeting", manifests)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if res.GlobalSpeakerCount != 2 {
		t.Errorf("GlobalSpeakerCount = %d, want 2", res.GlobalSpeakerCount)
	}
	mapping := loadMapping(t, store, "meeting")
	if got := mapping["chunk_0_SPEAKER_00"]; got != "SPEAKER_A" {
		t.Errorf("chunk_0_SPEAKER_00 = %q, want SPEAKER_A", got)
	}
	if got := mapping["chunk_1_SPEAKER_00"]; got != "SPEAKER_A" {
		t.Errorf("chunk_1_SPEAKER_00 = %q, want SPEAKER_A (same voice as chunk 0)", got)
	}
	if got := mapping["chunk_0_SPEAKER_01"]; got != "SPEAKER_B" {
		t.Errorf("chunk_0_SPEAKER_01 = %q, want SPEAKER_B", got)
	}

	if res.SegmentsKey != keys.Segments("meeting") {
		t.Errorf("SegmentsKey = %q, want %q", res.SegmentsKey, keys.Segments("meeting"))
	}
	if res.MappingKey != keys.SpeakerMapping("meeting") {
		t.Errorf("MappingKey = %q, want %q", res.MappingKey, keys.SpeakerMapping("meeting"))
	}

	want := []types.GlobalSegment{
		{Start: 1, End: 5, Speaker: "SPEAKER_A"},
		{Start: 6, End: 9, Speaker: "SPEAKER_B"},
		{Start: 490, End: 495, Speaker: "SPEAKER_A"},
	}
	segments := loadSegments(t, store, "meeting")
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, w := range want {
		if segments[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segments[i], w)
		}
	}
}

func TestMergeUnifiesSwappedLocalLabels(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	alice := embedding(16, 0)
	bob := embedding(16, 1)

	// The diarizer numbers local speakers per chunk in order of first
	// speech, so the same two voices carry swapped labels in chunk 1.
	manifests := []types.ChunkManifest{
		putChunk(t, store, "swapped", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   480,
			Segments: []types.LocalSegment{
				{LocalStart: 1, LocalEnd: 5, LocalSpeaker: "SPEAKER_00"},
				{LocalStart: 6, LocalEnd: 9, LocalSpeaker: "SPEAKER_01"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: alice, TotalDuration: 4, SegmentCount: 1},
				"SPEAKER_01": {Embedding: bob, TotalDuration: 3, SegmentCount: 1},
			},
			SpeakerCount: 2,
		}),
		putChunk(t, store, "swapped", types.ChunkDiarization{
			ChunkIndex:     1,
			Offset:         480,
			EffectiveStart: 480,
			EffectiveEnd:   960,
			Segments: []types.LocalSegment{
				{LocalStart: 10, LocalEnd: 14, LocalSpeaker: "SPEAKER_00"},
				{LocalStart: 20, LocalEnd: 24, LocalSpeaker: "SPEAKER_01"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: bob, TotalDuration: 4, SegmentCount: 1},
				"SPEAKER_01": {Embedding: alice, TotalDuration: 4, SegmentCount: 1},
			},
			SpeakerCount: 2,
		}),
	}

	res, err := newMerger(t, store).Merge(context.Background(), "swapped", manifests)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.GlobalSpeakerCount != 2 {
		t.Errorf("GlobalSpeakerCount = %d, want 2", res.GlobalSpeakerCount)
	}

	mapping := loadMapping(t, store, "swapped")
	if mapping["chunk_0_SPEAKER_00"] != mapping["chunk_1_SPEAKER_01"] {
		t.Errorf("same voice got different labels: chunk_0_SPEAKER_00=%q chunk_1_SPEAKER_01=%q",
			mapping["chunk_0_SPEAKER_00"], mapping["chunk_1_SPEAKER_01"])
	}
	if mapping["chunk_0_SPEAKER_01"] != mapping["chunk_1_SPEAKER_00"] {
		t.Errorf("same voice got different labels: chunk_0_SPEAKER_01=%q chunk_1_SPEAKER_00=%q",
			mapping["chunk_0_SPEAKER_01"], mapping["chunk_1_SPEAKER_00"])
	}
	if mapping["chunk_0_SPEAKER_00"] == mapping["chunk_0_SPEAKER_01"] {
		t.Errorf("distinct voices merged into %q", mapping["chunk_0_SPEAKER_00"])
	}

	want := []types.GlobalSegment{
		{Start: 1, End: 5, Speaker: "SPEAKER_A"},
		{Start: 6, End: 9, Speaker: "SPEAKER_B"},
		{Start: 490, End: 494, Speaker: "SPEAKER_B"},
		{Start: 500, End: 504, Speaker: "SPEAKER_A"},
	}
	segments := loadSegments(t, store, "swapped")
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, w := range want {
		if segments[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segments[i], w)
		}
	}
}

func TestMergeClipsToEffectiveWindow(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	voice := embedding(8, 0)
	manifests := []types.ChunkManifest{
		putChunk(t, store, "clip", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   480,
			Segments: []types.LocalSegment{
				// Fully inside: kept verbatim.
				{LocalStart: 10, LocalEnd: 20, LocalSpeaker: "SPEAKER_00"},
				// Straddles the boundary: clipped to 480.
				{LocalStart: 475, LocalEnd: 490, LocalSpeaker: "SPEAKER_00"},
				// Entirely in the overlap zone: dropped.
				{LocalStart: 485, LocalEnd: 500, LocalSpeaker: "SPEAKER_00"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: voice, TotalDuration: 40, SegmentCount: 3},
			},
			SpeakerCount: 1,
		}),
	}

	if _, err := newMerger(t, store).Merge(context.Background(), "clip", manifests); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	want := []types.GlobalSegment{
		{Start: 10, End: 20, Speaker: "SPEAKER_A"},
		{Start: 475, End: 480, Speaker: "SPEAKER_A"},
	}
	segments := loadSegments(t, store, "clip")
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, w := range want {
		if segments[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segments[i], w)
		}
	}
}

func TestMergeCoalescesNearbySameSpeakerSegments(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	a := embedding(8, 0)
	b := embedding(8, 1)
	manifests := []types.ChunkManifest{
		putChunk(t, store, "gaps", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   480,
			Segments: []types.LocalSegment{
				// 0.2 s gap, same speaker: bridged.
				{LocalStart: 10, LocalEnd: 15, LocalSpeaker: "SPEAKER_00"},
				{LocalStart: 15.2, LocalEnd: 20, LocalSpeaker: "SPEAKER_00"},
				// 0.2 s gap, different speaker: kept apart.
				{LocalStart: 20.2, LocalEnd: 25, LocalSpeaker: "SPEAKER_01"},
				// 1 s gap, same speaker: kept apart.
				{LocalStart: 26, LocalEnd: 30, LocalSpeaker: "SPEAKER_01"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: a, TotalDuration: 10, SegmentCount: 2},
				"SPEAKER_01": {Embedding: b, TotalDuration: 9, SegmentCount: 2},
			},
			SpeakerCount: 2,
		}),
	}

	if _, err := newMerger(t, store).Merge(context.Background(), "gaps", manifests); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	want := []types.GlobalSegment{
		{Start: 10, End: 20, Speaker: "SPEAKER_A"},
		{Start: 20.2, End: 25, Speaker: "SPEAKER_B"},
		{Start: 26, End: 30, Speaker: "SPEAKER_B"},
	}
	segments := loadSegments(t, store, "gaps")
	if len(segments) != len(want) {
		t.Fatalf("got %d segments, want %d: %+v", len(segments), len(want), segments)
	}
	for i, w := range want {
		if segments[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segments[i], w)
		}
	}
}

func TestMergeLabelsEmbeddinglessSpeakerUnknown(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	manifests := []types.ChunkManifest{
		putChunk(t, store, "mumble", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   480,
			Segments: []types.LocalSegment{
				{LocalStart: 3, LocalEnd: 3.3, LocalSpeaker: "SPEAKER_00"},
			},
			Speakers: map[string]types.SpeakerProfile{
				// Too little speech for an embedding: excluded from clustering.
				"SPEAKER_00": {TotalDuration: 0.3, SegmentCount: 1},
			},
			SpeakerCount: 1,
		}),
	}

	res, err := newMerger(t, store).Merge(context.Background(), "mumble", manifests)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.GlobalSpeakerCount != 0 {
		t.Errorf("GlobalSpeakerCount = %d, want 0", res.GlobalSpeakerCount)
	}
	segments := loadSegments(t, store, "mumble")
	if len(segments) != 1 || segments[0].Speaker != "UNKNOWN_SPEAKER_00" {
		t.Fatalf("segments = %+v, want one UNKNOWN_SPEAKER_00 segment", segments)
	}
}

func TestMergeSilentRecording(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	manifests := []types.ChunkManifest{
		putChunk(t, store, "silent", types.ChunkDiarization{
			ChunkIndex:     0,
			Offset:         0,
			EffectiveStart: 0,
			EffectiveEnd:   120,
			Speakers:       map[string]types.SpeakerProfile{},
		}),
	}

	res, err := newMerger(t, store).Merge(context.Background(), "silent", manifests)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.SegmentsKey != "" {
		t.Errorf("SegmentsKey = %q, want empty for a silent recording", res.SegmentsKey)
	}
	if res.GlobalSpeakerCount != 0 {
		t.Errorf("GlobalSpeakerCount = %d, want 0", res.GlobalSpeakerCount)
	}
	raw, err := store.Get(context.Background(), testBucket, keys.Segments("silent"))
	if err != nil {
		t.Fatalf("segments blob missing for a silent recording: %v", err)
	}
	var persisted []types.GlobalSegment
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatalf("segments blob is not a JSON array: %v", err)
	}
	if len(persisted) != 0 {
		t.Errorf("persisted segments = %v, want empty array", persisted)
	}
}

func TestMergeOrdersManifestsByChunkIndex(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	voice := embedding(8, 0)
	chunk := func(idx int, offset float64) types.ChunkManifest {
		return putChunk(t, store, "shuffled", types.ChunkDiarization{
			ChunkIndex:     idx,
			Offset:         offset,
			EffectiveStart: offset,
			EffectiveEnd:   offset + 480,
			Segments: []types.LocalSegment{
				{LocalStart: 100, LocalEnd: 110, LocalSpeaker: "SPEAKER_00"},
			},
			Speakers: map[string]types.SpeakerProfile{
				"SPEAKER_00": {Embedding: voice, TotalDuration: 10, SegmentCount: 1},
			},
			SpeakerCount: 1,
		})
	}
	// Chunk 0 needs EffectiveStart 0.
	c0 := putChunk(t, store, "shuffled", types.ChunkDiarization{
		ChunkIndex:     0,
		Offset:         0,
		EffectiveStart: 0,
		EffectiveEnd:   480,
		Segments: []types.LocalSegment{
			{LocalStart: 100, LocalEnd: 110, LocalSpeaker: "SPEAKER_00"},
		},
		Speakers: map[string]types.SpeakerProfile{
			"SPEAKER_00": {Embedding: voice, TotalDuration: 10, SegmentCount: 1},
		},
		SpeakerCount: 1,
	})
	manifests := []types.ChunkManifest{chunk(2, 960), c0, chunk(1, 480)}

	res, err := newMerger(t, store).Merge(context.Background(), "shuffled", manifests)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.GlobalSpeakerCount != 1 {
		t.Errorf("GlobalSpeakerCount = %d, want 1", res.GlobalSpeakerCount)
	}
	want := []float64{100, 580, 1060}
	segments := loadSegments(t, store, "shuffled")
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3: %+v", len(segments), segments)
	}
	for i, s := range segments {
		if s.Start != want[i] || s.Speaker != "SPEAKER_A" {
			t.Errorf("segment %d = %+v, want start %v speaker SPEAKER_A", i, s, want[i])
		}
	}
}

func TestMergeMissingChunkBlobIsTransient(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	manifests := []types.ChunkManifest{
		{ChunkIndex: 0, ResultKey: keys.Diarization("gone", 0)},
	}
	_, err := newMerger(t, store).Merge(context.Background(), "gone", manifests)
	if !errors.Is(err, stage.ErrTransientBlobIO) {
		t.Fatalf("err = %v, want ErrTransientBlobIO", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	store := blobmock.New()
	if _, err := New(store, testBucket, 0, 0.5, nil); err == nil {
		t.Error("threshold 0 accepted")
	}
	if _, err := New(store, testBucket, 1, 0.5, nil); err == nil {
		t.Error("threshold 1 accepted")
	}
	if _, err := New(store, testBucket, 0.75, -1, nil); err == nil {
		t.Error("negative coalesce gap accepted")
	}
}
