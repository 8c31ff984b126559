// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// ProcessedLayer carries the outcome of a successful ingest pipeline run.
type ProcessedLayer struct {
	Bounds           *domain.LatLngBounds
	SourceBounds     *domain.Extent
	Approximate      bool
	CoordinateSystem string
	Dimensions       *domain.Dimensions
	Artifacts        *domain.ArtifactSet
}

// LayerRegistry manages registered raster layers.
type LayerRegistry struct {
	mu       sync.RWMutex
	layers   map[string]*domain.Layer
	store    output.LayerStore
	metrics  output.MetricsCollector
	logger   *slog.Logger
	workRoot string
}

// NewLayerRegistry creates a new layer registry.
func NewLayerRegistry(
	store output.LayerStore,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	workRoot string,
) *LayerRegistry {
	return &LayerRegistry{
		layers:   make(map[string]*domain.Layer),
		store:    store,
		metrics:  metrics,
		logger:   logger,
		workRoot: workRoot,
	}
}

// LoadAll restores persisted layers into the registry.
func (r *LayerRegistry) LoadAll(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	layers, err := r.store.LoadLayers(ctx)
	if err != nil {
		return fmt.Errorf("loading layers: %w", err)
	}

	r.mu.Lock()
	for _, layer := range layers {
		r.layers[layer.ID] = layer
	}
	r.mu.Unlock()

	r.updateMetrics()
	r.logger.Info("layers restored", "count", len(layers))
	return nil
}

// Register adds a new layer in processing state.
func (r *LayerRegistry) Register(ctx context.Context, id, sourceFileName string, size int64) (*domain.Layer, error) {
	layer := &domain.Layer{
		ID:             id,
		Status:         domain.LayerProcessing,
		SourceFileName: sourceFileName,
		FileSizeBytes:  size,
		UploadedAt:     time.Now().UTC(),
	}

	r.mu.Lock()
	if _, ok := r.layers[id]; ok {
		r.mu.Unlock()
		return nil, domain.ErrDuplicateLayer
	}
	r.layers[id] = layer
	r.mu.Unlock()

	if err := r.persist(ctx, layer); err != nil {
		r.logger.Error("failed to persist layer", "id", id, "error", err)
	}

	r.updateMetrics()
	r.logger.Info("layer registered", "id", id, "source", sourceFileName)

	snapshot := *layer
	return &snapshot, nil
}

// MarkProcessed transitions a layer to the processed state with its
// computed bounds and produced artifacts.
func (r *LayerRegistry) MarkProcessed(ctx context.Context, id string, result ProcessedLayer) error {
	r.mu.Lock()
	layer, ok := r.layers[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrLayerNotFound
	}
	if layer.Status != domain.LayerProcessing {
		r.mu.Unlock()
		return fmt.Errorf("%w: layer %s is %s", domain.ErrInvalidTransition, id, layer.Status)
	}

	layer.Status = domain.LayerProcessed
	layer.Bounds = result.Bounds
	layer.SourceBounds = result.SourceBounds
	layer.Approximate = result.Approximate
	layer.CoordinateSystem = result.CoordinateSystem
	layer.Dimensions = result.Dimensions
	layer.Artifacts = result.Artifacts
	layer.Error = ""
	snapshot := *layer
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		r.logger.Error("failed to persist layer", "id", id, "error", err)
	}

	r.updateMetrics()
	r.logger.Info("layer processed", "id", id, "approximate", result.Approximate)
	return nil
}

// MarkError transitions a layer to the error state.
func (r *LayerRegistry) MarkError(ctx context.Context, id, message string) error {
	r.mu.Lock()
	layer, ok := r.layers[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrLayerNotFound
	}
	if layer.Status != domain.LayerProcessing {
		r.mu.Unlock()
		return fmt.Errorf("%w: layer %s is %s", domain.ErrInvalidTransition, id, layer.Status)
	}

	layer.Status = domain.LayerError
	layer.Error = message
	snapshot := *layer
	r.mu.Unlock()

	if err := r.persist(ctx, &snapshot); err != nil {
		r.logger.Error("failed to persist layer", "id", id, "error", err)
	}

	r.updateMetrics()
	r.logger.Warn("layer failed", "id", id, "error", message)
	return nil
}

// Get returns a copy of the layer with the given ID.
func (r *LayerRegistry) Get(_ context.Context, id string) (*domain.Layer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	layer, ok := r.layers[id]
	if !ok {
		return nil, domain.ErrLayerNotFound
	}

	snapshot := *layer
	return &snapshot, nil
}

// List returns all registered layers sorted by upload time, newest first.
func (r *LayerRegistry) List(_ context.Context) ([]domain.Layer, error) {
	r.mu.RLock()
	layers := make([]domain.Layer, 0, len(r.layers))
	for _, layer := range r.layers {
		layers = append(layers, *layer)
	}
	r.mu.RUnlock()

	sort.Slice(layers, func(i, j int) bool {
		if layers[i].UploadedAt.Equal(layers[j].UploadedAt) {
			return layers[i].ID < layers[j].ID
		}
		return layers[i].UploadedAt.After(layers[j].UploadedAt)
	})

	return layers, nil
}

// Delete removes a layer and its working directory.
func (r *LayerRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.layers[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrLayerNotFound
	}
	delete(r.layers, id)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteLayer(ctx, id); err != nil {
			r.logger.Error("failed to delete persisted layer", "id", id, "error", err)
		}
	}

	workDir := r.WorkDir(id)
	if err := os.RemoveAll(workDir); err != nil {
		r.logger.Warn("failed to remove layer work dir", "id", id, "path", workDir, "error", err)
	}

	r.updateMetrics()
	r.logger.Info("layer deleted", "id", id)
	return nil
}

// Exists returns true if a layer with the given ID is registered.
func (r *LayerRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.layers[id]
	return ok
}

// IDs returns all registered layer IDs.
func (r *LayerRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.layers))
	for id := range r.layers {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered layers.
func (r *LayerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}

// WorkDir returns the working directory for a layer's files.
func (r *LayerRegistry) WorkDir(id string) string {
	return filepath.Join(r.workRoot, id)
}

// ArtifactPath resolves an artifact file name inside a layer's work dir.
// Returns domain.ErrArtifactNotFound if the file does not exist or the
// name escapes the work dir.
func (r *LayerRegistry) ArtifactPath(id, name string) (string, error) {
	if !r.Exists(id) {
		return "", domain.ErrLayerNotFound
	}

	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) || clean == "." || clean == ".." {
		return "", domain.ErrArtifactNotFound
	}

	path := filepath.Join(r.WorkDir(id), clean)
	if _, err := os.Stat(path); err != nil {
		return "", domain.ErrArtifactNotFound
	}
	return path, nil
}

// HasSourceFile returns true if some layer was ingested from the given
// source file name.
func (r *LayerRegistry) HasSourceFile(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, layer := range r.layers {
		if layer.SourceFileName == name {
			return true
		}
	}
	return false
}

func (r *LayerRegistry) persist(ctx context.Context, layer *domain.Layer) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveLayer(ctx, layer)
}

// updateMetrics updates the metrics collector with current layer counts.
func (r *LayerRegistry) updateMetrics() {
	r.mu.RLock()
	counts := make(map[domain.LayerStatus]int)
	for _, layer := range r.layers {
		counts[layer.Status]++
	}
	r.mu.RUnlock()

	for _, status := range []domain.LayerStatus{
		domain.LayerProcessing,
		domain.LayerProcessed,
		domain.LayerError,
	} {
		r.metrics.SetLayersTotal(string(status), counts[status])
	}
}
