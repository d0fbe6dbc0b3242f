package observe

import (
	"context"

	"github.com/longscribe/longscribe/pkg/blob"
	"github.com/longscribe/longscribe/pkg/provider/diarization"
	"github.com/longscribe/longscribe/pkg/provider/embeddings"
	"github.com/longscribe/longscribe/pkg/provider/stt"
)

// opStatus derives the status attribute value from an operation error.
func opStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type instrumentedStore struct {
	inner blob.Store
	m     *Metrics
}

var _ blob.Store = (*instrumentedStore)(nil)

// InstrumentStore wraps s so every object store operation increments
// BlobRequests with op and status attributes.
func InstrumentStore(s blob.Store, m *Metrics) blob.Store {
	return &instrumentedStore{inner: s, m: m}
}

func (s *instrumentedStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, bucket, key)
	s.m.RecordBlobRequest(ctx, "get", opStatus(err))
	return data, err
}

func (s *instrumentedStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	err := s.inner.Put(ctx, bucket, key, data, contentType)
	s.m.RecordBlobRequest(ctx, "put", opStatus(err))
	return err
}

func (s *instrumentedStore) Download(ctx context.Context, bucket, key, localPath string) error {
	err := s.inner.Download(ctx, bucket, key, localPath)
	s.m.RecordBlobRequest(ctx, "download", opStatus(err))
	return err
}

func (s *instrumentedStore) Upload(ctx context.Context, localPath, bucket, key, contentType string) error {
	err := s.inner.Upload(ctx, localPath, bucket, key, contentType)
	s.m.RecordBlobRequest(ctx, "upload", opStatus(err))
	return err
}

type instrumentedDiarizer struct {
	inner diarization.Provider
	m     *Metrics
	name  string
}

var _ diarization.Provider = (*instrumentedDiarizer)(nil)

// InstrumentDiarization wraps p so every Diarize call increments
// ProviderRequests. name is the configured provider name.
func InstrumentDiarization(p diarization.Provider, m *Metrics, name string) diarization.Provider {
	return &instrumentedDiarizer{inner: p, m: m, name: name}
}

func (d *instrumentedDiarizer) Diarize(ctx context.Context, samples []float32) ([]diarization.Segment, error) {
	segments, err := d.inner.Diarize(ctx, samples)
	d.m.RecordProviderRequest(ctx, d.name, "diarization", opStatus(err))
	return segments, err
}

func (d *instrumentedDiarizer) SampleRate() int {
	return d.inner.SampleRate()
}

func (d *instrumentedDiarizer) Close() error {
	return d.inner.Close()
}

type instrumentedEmbedder struct {
	inner embeddings.Provider
	m     *Metrics
	name  string
}

var _ embeddings.Provider = (*instrumentedEmbedder)(nil)

// InstrumentEmbeddings wraps p so every Embed call increments
// ProviderRequests. Dim is delegated without recording.
func InstrumentEmbeddings(p embeddings.Provider, m *Metrics, name string) embeddings.Provider {
	return &instrumentedEmbedder{inner: p, m: m, name: name}
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, samples []float32) ([]float32, error) {
	vec, err := e.inner.Embed(ctx, samples)
	e.m.RecordProviderRequest(ctx, e.name, "embeddings", opStatus(err))
	return vec, err
}

func (e *instrumentedEmbedder) Dim() int {
	return e.inner.Dim()
}

func (e *instrumentedEmbedder) Close() error {
	return e.inner.Close()
}

type instrumentedTranscriber struct {
	inner stt.Transcriber
	m     *Metrics
	name  string
}

var _ stt.Transcriber = (*instrumentedTranscriber)(nil)

// InstrumentSTT wraps t so every Transcribe call increments
// ProviderRequests.
func InstrumentSTT(t stt.Transcriber, m *Metrics, name string) stt.Transcriber {
	return &instrumentedTranscriber{inner: t, m: m, name: name}
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	text, err := t.inner.Transcribe(ctx, path)
	t.m.RecordProviderRequest(ctx, t.name, "stt", opStatus(err))
	return text, err
}
