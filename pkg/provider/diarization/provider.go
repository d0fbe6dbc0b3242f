// Package diarization defines the speaker diarization provider contract.
//
// A provider takes a mono 16 kHz float32 waveform and returns speech
// segments labeled with chunk-local speaker indices. Labels are only
// meaningful within a single call; cross-call identity is resolved by
// the merge stage.
package diarization

import "context"

// Segment is one diarized span of speech within the analyzed waveform.
// Times are seconds from the start of the waveform.
type Segment struct {
	Start   float64
	End     float64
	Speaker int
}

// Provider runs offline speaker diarization over a complete waveform.
type Provider interface {
	// Diarize segments the waveform by speaker. Samples must be mono
	// float32 at SampleRate. Returns segments ordered by start time.
	Diarize(ctx context.Context, samples []float32) ([]Segment, error)

	// SampleRate reports the sample rate the provider expects.
	SampleRate() int

	// Close releases model resources. The provider is unusable afterwards.
	Close() error
}
