package output

import (
	"context"

	"github.com/terralab/strata/internal/domain"
)

// LayerStore defines the secondary port for layer persistence. The
// registry keeps the authoritative in-memory view and writes through;
// the store's only read path is the startup reload.
type LayerStore interface {
	// SaveLayer inserts or replaces a layer snapshot.
	SaveLayer(ctx context.Context, layer *domain.Layer) error

	// DeleteLayer removes a layer.
	DeleteLayer(ctx context.Context, layerID string) error

	// LoadLayers returns all persisted layers.
	LoadLayers(ctx context.Context) ([]*domain.Layer, error)

	// SaveJob inserts or replaces a job snapshot.
	SaveJob(ctx context.Context, job *domain.Job) error

	// DeleteJob removes a job.
	DeleteJob(ctx context.Context, jobID string) error

	// LoadJobs returns all persisted jobs.
	LoadJobs(ctx context.Context) ([]*domain.Job, error)

	// Close releases the underlying store.
	Close() error
}

// VisibilityStore defines the secondary port for the per-layer display
// state document. Every save rewrites the whole document.
type VisibilityStore interface {
	Load() (domain.VisibilityDocument, error)
	Save(domain.VisibilityDocument) error
}
