package storage

import (
	"context"
	"io"
	"time"

	"github.com/terralab/strata/internal/ports/output"
)

// instrumentedStorage decorates an ObjectStorage so every operation is
// counted and timed, whatever the backend.
type instrumentedStorage struct {
	inner   output.ObjectStorage
	metrics output.MetricsCollector
}

// WithMetrics wraps store with operation metrics. A nil collector
// returns the store unchanged.
func WithMetrics(store output.ObjectStorage, metrics output.MetricsCollector) output.ObjectStorage {
	if metrics == nil {
		return store
	}
	return &instrumentedStorage{inner: store, metrics: metrics}
}

func (s *instrumentedStorage) observe(op string, start time.Time, err error) {
	s.metrics.IncStorageOperations(op, err == nil)
	s.metrics.ObserveStorageDuration(op, time.Since(start))
}

func (s *instrumentedStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	start := time.Now()
	objects, err := s.inner.List(ctx)
	s.observe("list", start, err)
	return objects, err
}

func (s *instrumentedStorage) Download(ctx context.Context, key, dest string) error {
	start := time.Now()
	err := s.inner.Download(ctx, key, dest)
	s.observe("download", start, err)
	return err
}

func (s *instrumentedStorage) Upload(ctx context.Context, key, src string) error {
	start := time.Now()
	err := s.inner.Upload(ctx, key, src)
	s.observe("upload", start, err)
	return err
}

func (s *instrumentedStorage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := s.inner.GetReader(ctx, key)
	s.observe("get_reader", start, err)
	return reader, err
}

func (s *instrumentedStorage) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.inner.Exists(ctx, key)
	s.observe("exists", start, err)
	return ok, err
}
