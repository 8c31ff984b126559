package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/terralab/strata/internal/application"
	"github.com/terralab/strata/internal/domain"
)

// artifactContentTypes maps artifact file extensions to content types.
// World and projection side files are plain text so browsers render
// them inline.
var artifactContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".pgw":  "text/plain; charset=utf-8",
	".jgw":  "text/plain; charset=utf-8",
	".tfw":  "text/plain; charset=utf-8",
	".prj":  "text/plain; charset=utf-8",
}

// handleUpload accepts a multipart raster archive upload and enqueues
// processing. The response is returned before any processing happens;
// clients poll the job endpoint for progress.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Multipart field 'file' is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	results, err := s.ingest.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, application.ErrQueueFull) {
			w.Header().Set("Retry-After", "10")
			s.writeError(w, http.StatusServiceUnavailable, "Processing queue is full")
			return
		}
		s.logger.Error("upload failed", "file", header.Filename, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"uploads": results,
		"count":   len(results),
	})
}

// handleListLayers returns all registered layers.
func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to list layers")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": layers,
		"count":  len(layers),
	})
}

// handleGetLayer returns a specific layer.
func (s *Server) handleGetLayer(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	layer, err := s.registry.Get(r.Context(), layerID)
	if err != nil {
		if errors.Is(err, domain.ErrLayerNotFound) {
			s.writeError(w, http.StatusNotFound, "Layer not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get layer")
		return
	}

	s.writeJSON(w, http.StatusOK, layer)
}

// handleDeleteLayer removes a layer together with its artifacts and
// visibility state.
func (s *Server) handleDeleteLayer(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	if err := s.registry.Delete(r.Context(), layerID); err != nil {
		if errors.Is(err, domain.ErrLayerNotFound) {
			s.writeError(w, http.StatusNotFound, "Layer not found")
			return
		}
		s.logger.Error("layer delete failed", "layer_id", layerID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete layer")
		return
	}

	s.visibility.Remove(layerID)

	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":     layerID,
		"status": "deleted",
	})
}

// handleLayerFile streams a processed artifact from the layer working
// directory. Only bare filenames are accepted.
func (s *Server) handleLayerFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	layerID := vars["layerId"]
	filename := vars["filename"]

	if !s.registry.Exists(layerID) {
		s.writeError(w, http.StatusNotFound, "Layer not found")
		return
	}

	path, err := s.registry.ArtifactPath(layerID, filename)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			s.writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to resolve file")
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ct, ok := artifactContentTypes[ext]; ok {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	// Artifacts are immutable once a layer is processed.
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")

	http.ServeFile(w, r, path)
}

// handleGetJob returns a job snapshot with the stalled flag.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, formatJob(*job, s.jobs.IsStalled(jobID, time.Now())))
}

// handleCancelJob requests cooperative cancellation of a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]

	job, err := s.jobs.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		if errors.Is(err, domain.ErrCannotCancel) {
			s.writeError(w, http.StatusBadRequest, "Job already reached a terminal state")
			return
		}
		s.logger.Error("job cancel failed", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to cancel job")
		return
	}

	s.writeJSON(w, http.StatusOK, formatJob(*job, false))
}

// handleListJobs returns all jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List(r.Context())
	now := time.Now()

	formatted := make([]map[string]interface{}, len(jobs))
	for i, job := range jobs {
		formatted[i] = formatJob(job, s.jobs.IsStalled(job.ID, now))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  formatted,
		"count": len(formatted),
	})
}

// handleJobStats returns queue activity counters.
func (s *Server) handleJobStats(w http.ResponseWriter, _ *http.Request) {
	now := time.Now()
	stats := s.jobs.Stats(now)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":        stats.Active,
		"queued":        stats.Queued,
		"processing":    stats.Processing,
		"completed_24h": stats.Completed24h,
		"failed_24h":    stats.Failed24h,
		"cancelled_24h": stats.Cancelled24h,
		"stalled":       len(s.jobs.Stalled(now)),
	})
}

// handleGetVisibility returns the display state of one layer.
func (s *Server) handleGetVisibility(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	if !s.registry.Exists(layerID) {
		s.writeError(w, http.StatusNotFound, "Layer not found")
		return
	}

	s.writeJSON(w, http.StatusOK, s.visibility.Get(layerID))
}

// handleSetVisibility applies a partial display state update.
func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	layerID := mux.Vars(r)["layerId"]

	var update domain.VisibilityUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	state, err := s.visibility.Set(layerID, update)
	if err != nil {
		s.handleVisibilityError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, state)
}

// handleAllVisibility returns the full visibility document.
func (s *Server) handleAllVisibility(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.visibility.All())
}

// handleBulkVisibility applies a batch of display state updates. The
// batch is all-or-nothing: one invalid entry rejects everything.
func (s *Server) handleBulkVisibility(w http.ResponseWriter, r *http.Request) {
	var updates map[string]domain.VisibilityUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if len(updates) == 0 {
		s.writeError(w, http.StatusBadRequest, "Empty update batch")
		return
	}

	states, err := s.visibility.BulkSet(updates)
	if err != nil {
		s.handleVisibilityError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"layers": states,
		"count":  len(states),
	})
}

// handleVisibilityError maps visibility service errors to HTTP status.
func (s *Server) handleVisibilityError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	if errors.Is(err, domain.ErrLayerNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if errors.Is(err, domain.ErrInvalidInput) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Error("visibility update failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Visibility update failed")
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":       boolToStatus(details.Healthy),
		"ready":        details.Ready,
		"layers":       details.Layers,
		"active_jobs":  details.ActiveJobs,
		"stalled_jobs": details.StalledJobs,
		"components":   details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleSync handles the sync trigger endpoint.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		s.writeError(w, http.StatusNotFound, "Sync service not available")
		return
	}

	result, err := s.sync.TriggerSync(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// formatJob formats a job snapshot for JSON output.
func formatJob(job domain.Job, stalled bool) map[string]interface{} {
	out := map[string]interface{}{
		"id":         job.ID,
		"layer_id":   job.LayerID,
		"status":     job.Status,
		"progress":   job.Progress,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
		"stalled":    stalled,
	}

	if job.Metadata.SourceFileName != "" {
		out["source_file_name"] = job.Metadata.SourceFileName
	}
	if job.Metadata.Error != "" {
		out["error"] = job.Metadata.Error
	}
	if job.Metadata.Bounds != nil {
		out["bounds"] = job.Metadata.Bounds
	}
	if job.Metadata.Artifacts != nil {
		out["artifacts"] = job.Metadata.Artifacts
	}

	return out
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
