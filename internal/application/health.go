package application

import (
	"context"
	"time"

	"github.com/terralab/strata/internal/domain"
)

// HealthDetails contains detailed health check information.
type HealthDetails struct {
	Healthy     bool              `json:"healthy"`
	Ready       bool              `json:"ready"`
	Layers      int               `json:"layers"`
	ActiveJobs  int               `json:"active_jobs"`
	StalledJobs int               `json:"stalled_jobs"`
	Components  map[string]string `json:"components"`
}

// HealthService provides health check functionality.
type HealthService struct {
	registry *LayerRegistry
	jobs     *JobStore
}

// NewHealthService creates a new health service.
func NewHealthService(registry *LayerRegistry, jobs *JobStore) *HealthService {
	return &HealthService{
		registry: registry,
		jobs:     jobs,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if the service is ready to accept uploads.
func (s *HealthService) IsReady(_ context.Context) bool {
	return s.registry != nil && s.jobs != nil
}

// GetHealthDetails returns detailed health information. Stalled jobs
// are reported but never flip the service unhealthy: slow conversions
// are an operator signal, not an outage.
func (s *HealthService) GetHealthDetails(ctx context.Context) HealthDetails {
	now := time.Now()
	stats := s.jobs.Stats(now)
	stalled := s.jobs.Stalled(now)

	components := map[string]string{
		"registry": "ok",
		"jobs":     "ok",
	}
	if len(stalled) > 0 {
		components["jobs"] = "stalled"
	}

	return HealthDetails{
		Healthy:     s.IsHealthy(ctx),
		Ready:       s.IsReady(ctx),
		Layers:      s.registry.Count(),
		ActiveJobs:  stats.Active,
		StalledJobs: len(stalled),
		Components:  components,
	}
}

// StalledJobs returns the currently stalled jobs.
func (s *HealthService) StalledJobs() []domain.Job {
	return s.jobs.Stalled(time.Now())
}
