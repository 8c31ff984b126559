package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// mockLayerStore implements output.LayerStore for testing.
type mockLayerStore struct {
	mu      sync.Mutex
	layers  map[string]*domain.Layer
	jobs    map[string]*domain.Job
	saveErr error
}

func newMockLayerStore() *mockLayerStore {
	return &mockLayerStore{
		layers: make(map[string]*domain.Layer),
		jobs:   make(map[string]*domain.Job),
	}
}

func (m *mockLayerStore) SaveLayer(_ context.Context, layer *domain.Layer) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *layer
	m.layers[layer.ID] = &snapshot
	return nil
}

func (m *mockLayerStore) DeleteLayer(_ context.Context, layerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.layers, layerID)
	return nil
}

func (m *mockLayerStore) LoadLayers(_ context.Context) ([]*domain.Layer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	layers := make([]*domain.Layer, 0, len(m.layers))
	for _, layer := range m.layers {
		snapshot := *layer
		layers = append(layers, &snapshot)
	}
	return layers, nil
}

func (m *mockLayerStore) SaveJob(_ context.Context, job *domain.Job) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := *job
	m.jobs[job.ID] = &snapshot
	return nil
}

func (m *mockLayerStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func (m *mockLayerStore) LoadJobs(_ context.Context) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	return jobs, nil
}

func (m *mockLayerStore) Close() error { return nil }

// mockVisibilityStore implements output.VisibilityStore for testing.
type mockVisibilityStore struct {
	mu      sync.Mutex
	doc     domain.VisibilityDocument
	saves   int
	saveErr error
}

func (m *mockVisibilityStore) Load() (domain.VisibilityDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *mockVisibilityStore) Save(doc domain.VisibilityDocument) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := domain.VisibilityDocument{
		Layers:       make(map[string]domain.VisibilityState, len(doc.Layers)),
		LastModified: doc.LastModified,
		Version:      doc.Version,
	}
	for id, state := range doc.Layers {
		copied.Layers[id] = state
	}
	m.doc = copied
	m.saves++
	return nil
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	objects []output.StorageObject
	data    map[string][]byte
	listErr error

	mu      sync.Mutex
	uploads map[string]string // key -> source path
}

func (m *mockStorage) List(_ context.Context) ([]output.StorageObject, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.objects, nil
}

func (m *mockStorage) Download(_ context.Context, key, dest string) error {
	data, ok := m.data[key]
	if !ok {
		return domain.ErrArtifactNotFound
	}
	return os.WriteFile(dest, data, 0o640)
}

func (m *mockStorage) Upload(_ context.Context, key, src string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploads == nil {
		m.uploads = make(map[string]string)
	}
	m.uploads[key] = src
	return nil
}

func (m *mockStorage) uploadedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.uploads))
	for key := range m.uploads {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

// mockConverter implements output.RasterConverter for testing.
type mockConverter struct {
	mu         sync.Mutex
	calls      int
	failErr    error
	block      chan struct{} // when set, Convert waits for close or ctx
	lastInput  output.ConvertInput
	dimensions domain.Dimensions
}

func (m *mockConverter) Convert(ctx context.Context, in output.ConvertInput) (output.ConvertResult, error) {
	m.mu.Lock()
	m.calls++
	m.lastInput = in
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return output.ConvertResult{}, ctx.Err()
		}
	}
	if m.failErr != nil {
		return output.ConvertResult{}, m.failErr
	}

	dims := m.dimensions
	if dims.Width == 0 {
		dims = domain.Dimensions{Width: 4, Height: 4}
	}
	return output.ConvertResult{
		Artifacts:  domain.ArtifactSet{Overlay: "overlay.png"},
		Dimensions: dims,
	}, nil
}

func (m *mockConverter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockPublisher implements output.EventPublisher for testing.
type mockPublisher struct {
	mu     sync.Mutex
	events []output.JobEvent
}

func (m *mockPublisher) PublishJobEvent(_ context.Context, event output.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) published() []output.JobEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]output.JobEvent, len(m.events))
	copy(out, m.events)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(t *testing.T) *LayerRegistry {
	t.Helper()
	return NewLayerRegistry(newMockLayerStore(), &output.NoOpMetrics{}, testLogger(), t.TempDir())
}

func newTestJobStore() *JobStore {
	return newTestJobStoreWith(newMockLayerStore())
}

func newTestJobStoreWith(store output.LayerStore) *JobStore {
	return NewJobStore(store, &output.NoOpMetrics{}, testLogger())
}
