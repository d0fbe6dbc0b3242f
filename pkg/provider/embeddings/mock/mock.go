// Package mock provides a test double for the embeddings package interface.
//
// By default Embed derives a deterministic unit vector from the waveform,
// so distinct inputs yield distinct but reproducible embeddings. Set
// EmbedFunc for full control.
package mock

import (
	"context"
	"math"
	"sync"

	"github.com/longscribe/longscribe/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Dimensions is the embedding size. Defaults to 8 when zero.
	Dimensions int

	// EmbedFunc, if set, computes the result per call.
	EmbedFunc func(samples []float32) ([]float32, error)

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// EmbedCalls counts invocations of Embed.
	EmbedCalls int

	closed bool
}

var _ embeddings.Provider = (*Provider)(nil)

// Embed records the call and returns a deterministic vector derived from
// the waveform, unless EmbedFunc or EmbedErr override it.
func (p *Provider) Embed(_ context.Context, samples []float32) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls++
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(samples)
	}
	return derive(samples, p.dim()), nil
}

// Dim returns Dimensions, or 8 when unset.
func (p *Provider) Dim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim()
}

func (p *Provider) dim() int {
	if p.Dimensions == 0 {
		return 8
	}
	return p.Dimensions
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

// derive folds the waveform into dim buckets and normalizes the result to
// unit length, giving a stable pseudo-embedding per input.
func derive(samples []float32, dim int) []float32 {
	vec := make([]float32, dim)
	if len(samples) == 0 {
		vec[0] = 1
		return vec
	}
	for i, s := range samples {
		vec[i%dim] += s
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
