package application

import (
	"context"
	"errors"
	"testing"

	"github.com/terralab/strata/internal/domain"
)

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func newTestVisibility(t *testing.T) (*VisibilityService, *LayerRegistry, *mockVisibilityStore) {
	t.Helper()

	registry := newTestRegistry(t)
	store := &mockVisibilityStore{}
	svc, err := NewVisibilityService(store, registry, testLogger())
	if err != nil {
		t.Fatalf("NewVisibilityService failed: %v", err)
	}
	return svc, registry, store
}

func TestVisibilityDefaults(t *testing.T) {
	svc, _, _ := newTestVisibility(t)

	state := svc.Get("never-seen")
	if !state.Visible {
		t.Error("default Visible = false, want true")
	}
	if state.Opacity != domain.DefaultOpacity {
		t.Errorf("default Opacity = %v, want %v", state.Opacity, domain.DefaultOpacity)
	}
	if state.ZIndex != domain.DefaultZIndex {
		t.Errorf("default ZIndex = %d, want %d", state.ZIndex, domain.DefaultZIndex)
	}
}

func TestVisibilitySetPartialUpdate(t *testing.T) {
	svc, registry, store := newTestVisibility(t)
	ctx := context.Background()

	if _, err := registry.Register(ctx, "layer-1", "a.zip", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	state, err := svc.Set("layer-1", domain.VisibilityUpdate{Opacity: floatPtr(0.5)})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Unset fields keep their defaults.
	if !state.Visible {
		t.Error("Visible = false, want default true")
	}
	if state.Opacity != 0.5 {
		t.Errorf("Opacity = %v, want 0.5", state.Opacity)
	}
	if state.ZIndex != domain.DefaultZIndex {
		t.Errorf("ZIndex = %d, want default %d", state.ZIndex, domain.DefaultZIndex)
	}
	if state.LastUpdated.IsZero() {
		t.Error("LastUpdated not stamped")
	}

	// Second update only touches visibility; opacity survives.
	state, err = svc.Set("layer-1", domain.VisibilityUpdate{Visible: boolPtr(false)})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if state.Visible {
		t.Error("Visible = true, want false")
	}
	if state.Opacity != 0.5 {
		t.Errorf("Opacity = %v, want preserved 0.5", state.Opacity)
	}

	if store.saves == 0 {
		t.Error("state never written through to store")
	}
}

func TestVisibilitySetValidation(t *testing.T) {
	svc, registry, _ := newTestVisibility(t)
	ctx := context.Background()

	if _, err := registry.Register(ctx, "layer-1", "a.zip", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name    string
		layerID string
		update  domain.VisibilityUpdate
		want    error
	}{
		{"unknown layer", "ghost", domain.VisibilityUpdate{Visible: boolPtr(true)}, domain.ErrLayerNotFound},
		{"opacity too high", "layer-1", domain.VisibilityUpdate{Opacity: floatPtr(1.5)}, domain.ErrInvalidInput},
		{"opacity negative", "layer-1", domain.VisibilityUpdate{Opacity: floatPtr(-0.1)}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Set(tt.layerID, tt.update); !errors.Is(err, tt.want) {
				t.Errorf("Set err = %v, want %v", err, tt.want)
			}
		})
	}

	// Boundary opacities are valid.
	for _, v := range []float64{0, 1} {
		if _, err := svc.Set("layer-1", domain.VisibilityUpdate{Opacity: floatPtr(v)}); err != nil {
			t.Errorf("Set opacity %v failed: %v", v, err)
		}
	}
}

func TestVisibilityBulkSetAtomic(t *testing.T) {
	svc, registry, _ := newTestVisibility(t)
	ctx := context.Background()

	if _, err := registry.Register(ctx, "layer-1", "a.zip", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.Set("layer-1", domain.VisibilityUpdate{Opacity: floatPtr(0.8)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// One invalid layer rejects the whole batch.
	_, err := svc.BulkSet(map[string]domain.VisibilityUpdate{
		"layer-1":    {Opacity: floatPtr(0.2)},
		"L2_invalid": {Visible: boolPtr(false)},
	})
	if !errors.Is(err, domain.ErrLayerNotFound) {
		t.Fatalf("BulkSet err = %v, want ErrLayerNotFound", err)
	}

	if got := svc.Get("layer-1"); got.Opacity != 0.8 {
		t.Errorf("Opacity after rejected bulk = %v, want unchanged 0.8", got.Opacity)
	}
}

func TestVisibilityBulkSetApplies(t *testing.T) {
	svc, registry, _ := newTestVisibility(t)
	ctx := context.Background()

	for _, id := range []string{"layer-1", "layer-2"} {
		if _, err := registry.Register(ctx, id, id+".zip", 1); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	result, err := svc.BulkSet(map[string]domain.VisibilityUpdate{
		"layer-1": {Visible: boolPtr(false)},
		"layer-2": {ZIndex: intPtr(5)},
	})
	if err != nil {
		t.Fatalf("BulkSet failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("len(result) = %d, want 2", len(result))
	}
	if result["layer-1"].Visible {
		t.Error("layer-1 Visible = true, want false")
	}
	if result["layer-2"].ZIndex != 5 {
		t.Errorf("layer-2 ZIndex = %d, want 5", result["layer-2"].ZIndex)
	}
	// layer-2 defaults seeded on first reference.
	if result["layer-2"].Opacity != domain.DefaultOpacity {
		t.Errorf("layer-2 Opacity = %v, want default", result["layer-2"].Opacity)
	}
}

func TestVisibilityRemoveOrphans(t *testing.T) {
	svc, registry, _ := newTestVisibility(t)
	ctx := context.Background()

	if _, err := registry.Register(ctx, "layer-1", "a.zip", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Set("layer-1", domain.VisibilityUpdate{Visible: boolPtr(false)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := registry.Delete(ctx, "layer-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if removed := svc.RemoveOrphans(); removed != 1 {
		t.Errorf("RemoveOrphans = %d, want 1", removed)
	}
	// Back to defaults after removal.
	if got := svc.Get("layer-1"); !got.Visible {
		t.Error("orphaned state survived removal")
	}
}

func TestVisibilityPersistenceRoundTrip(t *testing.T) {
	registry := newTestRegistry(t)
	store := &mockVisibilityStore{}
	ctx := context.Background()

	if _, err := registry.Register(ctx, "layer-1", "a.zip", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := NewVisibilityService(store, registry, testLogger())
	if err != nil {
		t.Fatalf("NewVisibilityService failed: %v", err)
	}
	if _, err := first.Set("layer-1", domain.VisibilityUpdate{Opacity: floatPtr(0.3)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second, err := NewVisibilityService(store, registry, testLogger())
	if err != nil {
		t.Fatalf("NewVisibilityService failed: %v", err)
	}
	if got := second.Get("layer-1"); got.Opacity != 0.3 {
		t.Errorf("restored Opacity = %v, want 0.3", got.Opacity)
	}
}
