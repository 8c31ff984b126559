package application

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// VisibilityService manages per-layer display preferences. State lives
// in memory and is written through to the store as one document; the
// store is only read back on startup.
type VisibilityService struct {
	mu       sync.RWMutex
	doc      domain.VisibilityDocument
	store    output.VisibilityStore
	registry *LayerRegistry
	validate *validator.Validate
	logger   *slog.Logger
}

// NewVisibilityService creates the service and loads persisted state.
func NewVisibilityService(store output.VisibilityStore, registry *LayerRegistry, logger *slog.Logger) (*VisibilityService, error) {
	s := &VisibilityService{
		doc:      domain.NewVisibilityDocument(),
		store:    store,
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}

	if store != nil {
		doc, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading visibility state: %w", err)
		}
		if doc.Layers != nil {
			s.doc = doc
		}
		logger.Info("visibility state loaded", "layers", len(s.doc.Layers))
	}

	return s, nil
}

// Get returns the display state for a layer, falling back to defaults
// when the layer has never been configured.
func (s *VisibilityService) Get(layerID string) domain.VisibilityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.doc.Layers[layerID]; ok {
		return state
	}
	return domain.DefaultVisibility()
}

// All returns a copy of the full visibility document.
func (s *VisibilityService) All() domain.VisibilityDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := domain.VisibilityDocument{
		Layers:       make(map[string]domain.VisibilityState, len(s.doc.Layers)),
		LastModified: s.doc.LastModified,
		Version:      s.doc.Version,
	}
	for id, state := range s.doc.Layers {
		doc.Layers[id] = state
	}
	return doc
}

// Set applies a partial update to one layer's display state. The layer
// must be registered; unknown fields of the update are left unchanged.
func (s *VisibilityService) Set(layerID string, update domain.VisibilityUpdate) (domain.VisibilityState, error) {
	if err := s.checkUpdate(layerID, update); err != nil {
		return domain.VisibilityState{}, err
	}

	s.mu.Lock()
	state := s.applyLocked(layerID, update, time.Now().UTC())
	err := s.saveLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to persist visibility state", "error", err)
	}
	return state, nil
}

// BulkSet applies updates to several layers atomically: every update is
// validated first, and one invalid entry rejects the whole batch with
// no state change.
func (s *VisibilityService) BulkSet(updates map[string]domain.VisibilityUpdate) (map[string]domain.VisibilityState, error) {
	for layerID, update := range updates {
		if err := s.checkUpdate(layerID, update); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result := make(map[string]domain.VisibilityState, len(updates))

	s.mu.Lock()
	for layerID, update := range updates {
		result[layerID] = s.applyLocked(layerID, update, now)
	}
	err := s.saveLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to persist visibility state", "error", err)
	}
	return result, nil
}

// Remove drops a layer's display state, typically after layer deletion.
func (s *VisibilityService) Remove(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Layers[layerID]; !ok {
		return
	}
	delete(s.doc.Layers, layerID)
	s.doc.LastModified = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist visibility state", "error", err)
	}
}

// RemoveOrphans drops display state for layers no longer registered.
// Returns the number of entries removed.
func (s *VisibilityService) RemoveOrphans() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for layerID := range s.doc.Layers {
		if !s.registry.Exists(layerID) {
			delete(s.doc.Layers, layerID)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	s.doc.LastModified = time.Now().UTC()
	if err := s.saveLocked(); err != nil {
		s.logger.Error("failed to persist visibility state", "error", err)
	}
	s.logger.Info("orphaned visibility entries removed", "count", removed)
	return removed
}

func (s *VisibilityService) checkUpdate(layerID string, update domain.VisibilityUpdate) error {
	if s.registry != nil && !s.registry.Exists(layerID) {
		return fmt.Errorf("%w: %s", domain.ErrLayerNotFound, layerID)
	}
	if err := s.validate.Struct(update); err != nil {
		return &domain.ValidationError{
			Field:   "opacity",
			Message: fmt.Sprintf("layer %s: opacity must be between 0 and 1", layerID),
		}
	}
	return nil
}

// applyLocked merges the update, seeding defaults on first reference.
// Caller holds mu.
func (s *VisibilityService) applyLocked(layerID string, update domain.VisibilityUpdate, now time.Time) domain.VisibilityState {
	state, ok := s.doc.Layers[layerID]
	if !ok {
		state = domain.DefaultVisibility()
	}
	state = update.Apply(state, now)
	s.doc.Layers[layerID] = state
	s.doc.LastModified = now
	return state
}

// saveLocked writes the whole document through to the store. Caller
// holds mu.
func (s *VisibilityService) saveLocked() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(s.doc)
}
