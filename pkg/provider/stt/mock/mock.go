// Package mock provides a test double for the stt package interface.
//
// Configure Text or TextFunc to control transcripts, and inspect
// TranscribeCalls to verify which files were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/longscribe/longscribe/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned from Transcribe when TextFunc is nil.
	Text string

	// TextFunc, if set, computes the transcript per call from the file path.
	TextFunc func(path string) (string, error)

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// TranscribeCalls records the path of every call to Transcribe.
	TranscribeCalls []string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured transcript or error.
func (t *Transcriber) Transcribe(_ context.Context, path string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = append(t.TranscribeCalls, path)
	if t.TranscribeErr != nil {
		return "", t.TranscribeErr
	}
	if t.TextFunc != nil {
		return t.TextFunc(path)
	}
	return t.Text, nil
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TranscribeCalls = nil
}
