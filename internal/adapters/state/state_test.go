package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/terralab/strata/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreLayerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bounds := domain.LatLngBounds{MinLat: 36.0, MinLng: 43.8, MaxLat: 36.3, MaxLng: 44.2}
	layer := &domain.Layer{
		ID:               "layer-1",
		Status:           domain.LayerProcessed,
		SourceFileName:   "site.zip",
		FileSizeBytes:    2048,
		UploadedAt:       time.Now().UTC().Truncate(time.Second),
		CoordinateSystem: "EPSG:32638",
		Bounds:           &bounds,
		Dimensions:       &domain.Dimensions{Width: 10, Height: 8},
		Artifacts:        &domain.ArtifactSet{Overlay: "overlay.png", WorldFile: "overlay.pgw"},
	}

	if err := store.SaveLayer(ctx, layer); err != nil {
		t.Fatalf("SaveLayer failed: %v", err)
	}

	layers, err := store.LoadLayers(ctx)
	if err != nil {
		t.Fatalf("LoadLayers failed: %v", err)
	}
	if len(layers) != 1 {
		t.Fatalf("len(layers) = %d, want 1", len(layers))
	}

	got := layers[0]
	if got.ID != layer.ID || got.Status != layer.Status {
		t.Errorf("got %+v, want %+v", got, layer)
	}
	if got.Bounds == nil || got.Bounds.MaxLng != 44.2 {
		t.Errorf("Bounds = %+v, want MaxLng 44.2", got.Bounds)
	}
	if got.Artifacts == nil || got.Artifacts.Overlay != "overlay.png" {
		t.Errorf("Artifacts = %+v, want overlay.png", got.Artifacts)
	}
}

func TestSQLiteStoreSaveReplacesLayer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	layer := &domain.Layer{ID: "layer-1", Status: domain.LayerProcessing}
	if err := store.SaveLayer(ctx, layer); err != nil {
		t.Fatalf("SaveLayer failed: %v", err)
	}

	layer.Status = domain.LayerError
	layer.Error = "boom"
	if err := store.SaveLayer(ctx, layer); err != nil {
		t.Fatalf("second SaveLayer failed: %v", err)
	}

	layers, _ := store.LoadLayers(ctx)
	if len(layers) != 1 {
		t.Fatalf("len(layers) = %d, want 1", len(layers))
	}
	if layers[0].Status != domain.LayerError || layers[0].Error != "boom" {
		t.Errorf("layer = %+v, want error state", layers[0])
	}
}

func TestSQLiteStoreDeleteLayer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveLayer(ctx, &domain.Layer{ID: "layer-1"}); err != nil {
		t.Fatalf("SaveLayer failed: %v", err)
	}
	if err := store.DeleteLayer(ctx, "layer-1"); err != nil {
		t.Fatalf("DeleteLayer failed: %v", err)
	}

	layers, _ := store.LoadLayers(ctx)
	if len(layers) != 0 {
		t.Errorf("len(layers) = %d, want 0", len(layers))
	}

	// Deleting a missing layer is a no-op.
	if err := store.DeleteLayer(ctx, "ghost"); err != nil {
		t.Errorf("DeleteLayer(ghost) = %v, want nil", err)
	}
}

func TestSQLiteStoreJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &domain.Job{
		ID:        "job-1",
		LayerID:   "layer-1",
		Status:    domain.JobProcessing,
		Progress:  40,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		Metadata: domain.JobMetadata{
			SourceFileName: "site.zip",
			ImageFile:      "site.png",
			WorldFile:      "site.pgw",
		},
	}

	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	jobs, err := store.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	got := jobs[0]
	if got.ID != "job-1" || got.Progress != 40 {
		t.Errorf("job = %+v", got)
	}
	if got.Metadata.ImageFile != "site.png" {
		t.Errorf("Metadata.ImageFile = %q, want site.png", got.Metadata.ImageFile)
	}

	if err := store.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	jobs, _ = store.LoadJobs(ctx)
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0", len(jobs))
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := first.SaveLayer(ctx, &domain.Layer{ID: "layer-1", Status: domain.LayerProcessed}); err != nil {
		t.Fatalf("SaveLayer failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	layers, err := second.LoadLayers(ctx)
	if err != nil {
		t.Fatalf("LoadLayers failed: %v", err)
	}
	if len(layers) != 1 || layers[0].ID != "layer-1" {
		t.Errorf("layers = %+v, want persisted layer-1", layers)
	}
}

func TestJSONVisibilityStoreMissingFile(t *testing.T) {
	store := NewJSONVisibilityStore(filepath.Join(t.TempDir(), "visibility.json"))

	doc, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Layers == nil || len(doc.Layers) != 0 {
		t.Errorf("doc.Layers = %v, want empty map", doc.Layers)
	}
	if doc.Version != domain.VisibilityDocumentVersion {
		t.Errorf("Version = %d, want %d", doc.Version, domain.VisibilityDocumentVersion)
	}
}

func TestJSONVisibilityStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "visibility.json")
	store := NewJSONVisibilityStore(path)

	doc := domain.NewVisibilityDocument()
	doc.Layers["layer-1"] = domain.VisibilityState{Visible: false, Opacity: 0.5, ZIndex: 10}
	doc.LastModified = time.Now().UTC().Truncate(time.Second)

	if err := store.Save(doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	state, ok := got.Layers["layer-1"]
	if !ok {
		t.Fatal("layer-1 missing after round trip")
	}
	if state.Opacity != 0.5 || state.ZIndex != 10 || state.Visible {
		t.Errorf("state = %+v", state)
	}
}

func TestJSONVisibilityStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visibility.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	store := NewJSONVisibilityStore(path)
	if _, err := store.Load(); err == nil {
		t.Error("Load of corrupt file succeeded, want error")
	}
}

func TestJSONVisibilityStoreNoTempLeftover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visibility.json")
	store := NewJSONVisibilityStore(path)

	if err := store.Save(domain.NewVisibilityDocument()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}
