// Package s3 provides the Amazon S3 implementation of [blob.Store].
//
// It works against AWS S3 or any S3-compatible object store (MinIO, R2, …);
// the caller supplies a pre-configured client with credentials, region, and
// optional custom endpoint.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/longscribe/longscribe/pkg/blob"
)

// Client abstracts the S3 API operations used by [Store].
// The [awss3.Client] type satisfies this interface.
type Client interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Compile-time interface check.
var _ blob.Store = (*Store)(nil)

// Store implements [blob.Store] backed by S3. S3 PutObject is atomic per
// key, which is exactly the write-then-publish-key guarantee the pipeline
// relies on.
type Store struct {
	client Client
}

// New creates an S3-backed blob store. Any type satisfying [Client] is
// accepted; typically an [awss3.Client] built with awsconfig.LoadDefaultConfig.
func New(client Client) *Store {
	return &Store{client: client}
}

// Get implements [blob.Store]. Returns an error wrapping [blob.ErrNotFound]
// when the key does not exist.
func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: get %s/%s: %w", bucket, key, blob.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Put implements [blob.Store].
func (s *Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download implements [blob.Store]. The object is streamed to localPath; a
// partially written file is removed on failure.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("s3: download %s/%s: %w", bucket, key, blob.ErrNotFound)
		}
		return fmt.Errorf("s3: download %s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3: create %s: %w", localPath, err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return fmt.Errorf("s3: download %s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("s3: close %s: %w", localPath, err)
	}
	return nil
}

// Upload implements [blob.Store].
func (s *Store) Upload(ctx context.Context, localPath, bucket, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s to %s/%s: %w", localPath, bucket, key, err)
	}
	return nil
}

// isNotFound reports whether err indicates the S3 object does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}
