package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/terralab/strata/internal/ports/output"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// syncCooldown is the minimum interval between API-triggered syncs.
const syncCooldown = 30 * time.Second

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	ArchivesFound    int       `json:"archives_found"`
	ArchivesEnqueued int       `json:"archives_enqueued"`
	ArchivesSkipped  int       `json:"archives_skipped"`
	SyncedAt         time.Time `json:"synced_at"`
}

// SyncService pulls raster archives from object storage into the
// ingestion pipeline. Archives whose file name already produced a layer
// are skipped, so repeated syncs converge instead of duplicating work.
type SyncService struct {
	storage  output.ObjectStorage
	ingest   *IngestService
	registry *LayerRegistry
	logger   *slog.Logger

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent sync operations
	syncOpMutex sync.Mutex
}

// NewSyncService creates a new sync service.
func NewSyncService(storage output.ObjectStorage, ingest *IngestService, registry *LayerRegistry, logger *slog.Logger) *SyncService {
	return &SyncService{
		storage:  storage,
		ingest:   ingest,
		registry: registry,
		logger:   logger,
		// Initialize to past time to allow immediate first API call
		lastAPISync: time.Now().Add(-syncCooldown - time.Second),
	}
}

// TriggerSync manually triggers a sync operation with rate limiting.
// Returns ErrRateLimited if called again within the cooldown window.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	if time.Since(s.lastAPISync) < syncCooldown {
		s.apiMutex.Unlock()
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()
	s.apiMutex.Unlock()

	return s.doSync(ctx)
}

func (s *SyncService) doSync(ctx context.Context) (SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	if s.storage == nil {
		return SyncResult{}, fmt.Errorf("archive storage not configured")
	}

	s.logger.Info("syncing archives from storage")

	objects, err := s.storage.List(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("listing archives: %w", err)
	}

	result := SyncResult{ArchivesFound: len(objects)}
	for _, obj := range objects {
		name := filepath.Base(obj.Key)
		if s.registry.HasSourceFile(name) {
			s.logger.Debug("archive already ingested, skipping", "key", obj.Key)
			result.ArchivesSkipped++
			continue
		}

		if err := s.ingestObject(ctx, obj.Key, name); err != nil {
			s.logger.Error("failed to ingest archive", "key", obj.Key, "error", err)
			result.ArchivesSkipped++
			continue
		}

		result.ArchivesEnqueued++
		s.logger.Info("archive enqueued from storage", "key", obj.Key)
	}

	result.SyncedAt = time.Now().UTC()
	s.logger.Info("sync completed",
		"found", result.ArchivesFound,
		"enqueued", result.ArchivesEnqueued,
		"skipped", result.ArchivesSkipped,
	)
	return result, nil
}

func (s *SyncService) ingestObject(ctx context.Context, key, name string) error {
	reader, err := s.storage.GetReader(ctx, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	_, err = s.ingest.Ingest(ctx, name, data)
	return err
}
