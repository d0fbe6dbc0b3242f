// Package stt defines the Transcriber interface for batch speech-to-text
// backends.
//
// The pipeline transcribes finite per-speaker audio clips, so the contract is
// deliberately file-in, text-out: no streaming, no partials. The transcription
// language is forced at construction time (the pipeline does no language
// detection), and the beam search width is a constructor option for backends
// that expose it.
//
// Implementations must be safe for concurrent use, or must serialize access
// to a shared model internally; the pipeline calls Transcribe from multiple
// workers at once.
package stt

import "context"

// Transcriber is the abstraction over any batch speech-to-text backend.
type Transcriber interface {
	// Transcribe runs speech-to-text over the WAV file at path (mono,
	// 16 kHz, 16-bit PCM) and returns the concatenated transcript text.
	// An empty string with a nil error means the clip contained no
	// recognisable speech.
	Transcribe(ctx context.Context, path string) (string, error)
}
