// Package keys defines the object store layout shared by every pipeline
// stage. All artefacts of a run derive from the base name of the uploaded
// recording, so a run can be located in the bucket from its input key alone.
package keys

import (
	"fmt"
	"path"
	"strings"
)

// Base returns the base name of an uploaded recording key: the final path
// element with its extension removed. "uploads/team sync.mp4" → "team sync".
func Base(inputKey string) string {
	name := path.Base(inputKey)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext)
}

// Processed returns the key of the normalized mono 16 kHz WAV.
func Processed(base string) string {
	return fmt.Sprintf("processed/%s.wav", base)
}

// Chunk returns the key of diarization chunk audio i.
func Chunk(base string, i int) string {
	return fmt.Sprintf("chunks/%s_chunk_%02d.wav", base, i)
}

// Diarization returns the key of the per-chunk diarization result i.
func Diarization(base string, i int) string {
	return fmt.Sprintf("diarization/%s_chunk_%02d.json", base, i)
}

// Segments returns the key of the merged global segment list.
func Segments(base string) string {
	return fmt.Sprintf("%s_segments.json", base)
}

// SegmentFile returns the key of per-speaker segment audio n labeled with
// the global speaker.
func SegmentFile(base string, n int, speaker string) string {
	return fmt.Sprintf("segments/%s_%04d_%s.wav", base, n, speaker)
}

// TranscribeResult returns the key of the transcription result for the
// segment audio at segmentKey. The two artefacts share a stem, so the
// result key is derived rather than carried through stage payloads.
func TranscribeResult(segmentKey string) string {
	stem := strings.TrimSuffix(path.Base(segmentKey), path.Ext(segmentKey))
	return fmt.Sprintf("transcribe_results/%s.json", stem)
}

// SpeakerMapping returns the key of the local-to-global speaker mapping
// produced by the merge stage.
func SpeakerMapping(base string) string {
	return fmt.Sprintf("metadata/%s_speaker_mapping.json", base)
}

// ChunkResultsMeta returns the key under which the driver parks a chunk
// manifest list that would exceed the inter-stage payload cap.
func ChunkResultsMeta(base string) string {
	return fmt.Sprintf("metadata/%s_chunk_results.json", base)
}

// SegmentFilesMeta returns the key of the segment file manifest written by
// the split stage when the list is too large to travel inline.
func SegmentFilesMeta(base string) string {
	return fmt.Sprintf("metadata/%s_segment_files.json", base)
}

// Transcript returns the key of the final aggregated transcript.
func Transcript(base string) string {
	return fmt.Sprintf("transcripts/%s_transcript.json", base)
}
