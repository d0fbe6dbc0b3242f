package keys

import "testing"

func TestBase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"uploads/interview.mp4", "interview"},
		{"interview.wav", "interview"},
		{"a/b/c/team sync.m4a", "team sync"},
		{"noext", "noext"},
		{"dir/archive.tar.gz", "archive.tar"},
	}
	for _, tc := range cases {
		if got := Base(tc.in); got != tc.want {
			t.Errorf("Base(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLayout(t *testing.T) {
	t.Parallel()

	const base = "interview"
	cases := []struct {
		got  string
		want string
	}{
		{Processed(base), "processed/interview.wav"},
		{Chunk(base, 0), "chunks/interview_chunk_00.wav"},
		{Chunk(base, 12), "chunks/interview_chunk_12.wav"},
		{Diarization(base, 3), "diarization/interview_chunk_03.json"},
		{Segments(base), "interview_segments.json"},
		{SegmentFile(base, 0, "SPEAKER_A"), "segments/interview_0000_SPEAKER_A.wav"},
		{SegmentFile(base, 41, "SPEAKER_AB"), "segments/interview_0041_SPEAKER_AB.wav"},
		{SpeakerMapping(base), "metadata/interview_speaker_mapping.json"},
		{SegmentFilesMeta(base), "metadata/interview_segment_files.json"},
		{Transcript(base), "transcripts/interview_transcript.json"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestTranscribeResultDerivesFromSegmentKey(t *testing.T) {
	t.Parallel()

	got := TranscribeResult("segments/interview_0007_SPEAKER_C.wav")
	want := "transcribe_results/interview_0007_SPEAKER_C.json"
	if got != want {
		t.Errorf("TranscribeResult = %q, want %q", got, want)
	}
}
