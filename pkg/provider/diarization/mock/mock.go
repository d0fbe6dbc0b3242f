// Package mock provides a test double for the diarization package interface.
//
// Configure Segments (or SegmentsFunc for per-call control) and inspect
// DiarizeCalls to verify which waveforms were analyzed.
package mock

import (
	"context"
	"sync"

	"github.com/longscribe/longscribe/pkg/provider/diarization"
)

// DiarizeCall records a single invocation of Provider.Diarize.
type DiarizeCall struct {
	// SampleCount is the length of the waveform passed to Diarize.
	SampleCount int
}

// Provider is a mock implementation of diarization.Provider.
type Provider struct {
	mu sync.Mutex

	// Segments is returned from Diarize when SegmentsFunc is nil.
	Segments []diarization.Segment

	// SegmentsFunc, if set, computes the result per call. The call index
	// starts at 0.
	SegmentsFunc func(call int, samples []float32) ([]diarization.Segment, error)

	// DiarizeErr, if non-nil, is returned as the error from Diarize.
	DiarizeErr error

	// Rate is returned from SampleRate. Defaults to 16000 when zero.
	Rate int

	// DiarizeCalls records every call to Diarize.
	DiarizeCalls []DiarizeCall

	closed bool
}

var _ diarization.Provider = (*Provider)(nil)

// Diarize records the call and returns the configured segments or error.
func (p *Provider) Diarize(_ context.Context, samples []float32) ([]diarization.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := len(p.DiarizeCalls)
	p.DiarizeCalls = append(p.DiarizeCalls, DiarizeCall{SampleCount: len(samples)})
	if p.DiarizeErr != nil {
		return nil, p.DiarizeErr
	}
	if p.SegmentsFunc != nil {
		return p.SegmentsFunc(call, samples)
	}
	out := make([]diarization.Segment, len(p.Segments))
	copy(out, p.Segments)
	return out, nil
}

// SampleRate returns Rate, or 16000 when unset.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Close marks the provider closed. Thread-safe.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DiarizeCalls = nil
}
