// Package embeddings defines the speaker embedding provider contract.
//
// Embeddings are fixed-size voice fingerprints compared by cosine
// similarity when reconciling speaker identities across chunks.
package embeddings

import "context"

// Provider computes a speaker embedding for a mono 16 kHz waveform.
type Provider interface {
	// Embed returns the embedding vector for the given samples.
	Embed(ctx context.Context, samples []float32) ([]float32, error)

	// Dim reports the embedding dimensionality.
	Dim() int

	// Close releases model resources. The provider is unusable afterwards.
	Close() error
}
