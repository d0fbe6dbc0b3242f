// Package blob defines the object-store abstraction that every pipeline stage
// persists through.
//
// The store is the only shared medium between stages: a stage writes its full
// result as a blob, then hands the next stage nothing but the key. Keys are
// case-sensitive, '/'-delimited strings; Put is atomic per key, so a reader
// that has been given a key always observes a complete write
// (write-then-publish-key).
//
// Implementations must be safe for concurrent use.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned (possibly wrapped) when the requested key does not
// exist in the bucket. Callers distinguish missing blobs from transport
// failures with errors.Is.
var ErrNotFound = errors.New("blob not found")

// Content types used for pipeline artefacts.
const (
	ContentTypeJSON = "application/json"
	ContentTypeWAV  = "audio/wav"
)

// Store is the persistence primitive of the pipeline.
type Store interface {
	// Get returns the full contents of bucket/key.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Put atomically writes data to bucket/key with the given content type,
	// replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// Download copies bucket/key to a local file path.
	Download(ctx context.Context, bucket, key, localPath string) error

	// Upload copies a local file to bucket/key with the given content type.
	Upload(ctx context.Context, localPath, bucket, key, contentType string) error
}

// GetJSON fetches bucket/key and unmarshals it into v.
func GetJSON(ctx context.Context, s Store, bucket, key string, v any) error {
	data, err := s.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("blob: decode %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PutJSON marshals v and writes it to bucket/key as application/json.
func PutJSON(ctx context.Context, s Store, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("blob: encode %s/%s: %w", bucket, key, err)
	}
	return s.Put(ctx, bucket, key, data, ContentTypeJSON)
}

// PutJSONIndent is PutJSON with human-readable indentation. Used only for
// end-of-run artefacts that people read directly, like the final transcript.
func PutJSONIndent(ctx context.Context, s Store, bucket, key string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("blob: encode %s/%s: %w", bucket, key, err)
	}
	return s.Put(ctx, bucket, key, buf.Bytes(), ContentTypeJSON)
}
