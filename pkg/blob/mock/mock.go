// Package mock provides an in-memory [blob.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/longscribe/longscribe/pkg/blob"
)

// Compile-time interface check.
var _ blob.Store = (*Store)(nil)

// Store is an in-memory blob store. The zero value is not usable; create one
// with [New]. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailGet, when set, is consulted before every Get/Download; returning a
	// non-nil error simulates a read failure for that key.
	FailGet func(bucket, key string) error

	// FailPut, when set, is consulted before every Put/Upload.
	FailPut func(bucket, key string) error

	puts int
	gets int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

// Get implements [blob.Store].
func (s *Store) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if s.FailGet != nil {
		if err := s.FailGet(bucket, key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	data, ok := s.objects[objKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("mock: get %s/%s: %w", bucket, key, blob.ErrNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Put implements [blob.Store].
func (s *Store) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	if s.FailPut != nil {
		if err := s.FailPut(bucket, key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[objKey(bucket, key)] = cp
	return nil
}

// Download implements [blob.Store] by writing the object to localPath.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	data, err := s.Get(ctx, bucket, key)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

// Upload implements [blob.Store] by reading localPath into memory.
func (s *Store) Upload(ctx context.Context, localPath, bucket, key, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("mock: upload %s: %w", localPath, err)
	}
	return s.Put(ctx, bucket, key, data, contentType)
}

// Exists reports whether bucket/key has been written.
func (s *Store) Exists(bucket, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objKey(bucket, key)]
	return ok
}

// Keys returns all stored keys for bucket, in unspecified order.
func (s *Store) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	prefix := bucket + "/"
	for k := range s.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys
}

// Delete removes bucket/key if present. Tests use this to simulate a missing
// intermediate blob.
func (s *Store) Delete(bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objKey(bucket, key))
}

// PutCount and GetCount report how many writes/reads have happened.
func (s *Store) PutCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.puts }
func (s *Store) GetCount() int { s.mu.Lock(); defer s.mu.Unlock(); return s.gets }
