// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/terralab/strata/internal/application"
	"github.com/terralab/strata/internal/config"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server     *http.Server
	router     *mux.Router
	ingest     *application.IngestService
	registry   *application.LayerRegistry
	jobs       *application.JobStore
	visibility *application.VisibilityService
	health     *application.HealthService
	sync       *application.SyncService
	metricsMW  mux.MiddlewareFunc
	logger     *slog.Logger
	config     config.ServerConfig
}

// NewServer creates a new HTTP server. metricsMW instruments every
// request when non-nil.
func NewServer(
	cfg config.ServerConfig,
	ingest *application.IngestService,
	registry *application.LayerRegistry,
	jobs *application.JobStore,
	visibility *application.VisibilityService,
	health *application.HealthService,
	syncService *application.SyncService,
	metricsMW mux.MiddlewareFunc,
	logger *slog.Logger,
) *Server {
	s := &Server{
		ingest:     ingest,
		registry:   registry,
		jobs:       jobs,
		visibility: visibility,
		health:     health,
		sync:       syncService,
		metricsMW:  metricsMW,
		logger:     logger,
		config:     cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metricsMW != nil {
		r.Use(s.metricsMW)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Layer upload and management. The visibility routes are registered
	// before the wildcard layer routes so "visibility" never matches as
	// a layer ID.
	api.HandleFunc("/layers/visibility/bulk", s.handleBulkVisibility).Methods(http.MethodPost)
	api.HandleFunc("/layers/visibility", s.handleAllVisibility).Methods(http.MethodGet)
	api.HandleFunc("/layers", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/layers", s.handleListLayers).Methods(http.MethodGet)
	api.HandleFunc("/layers/{layerId}", s.handleGetLayer).Methods(http.MethodGet)
	api.HandleFunc("/layers/{layerId}", s.handleDeleteLayer).Methods(http.MethodDelete)
	api.HandleFunc("/layers/{layerId}/files/{filename}", s.handleLayerFile).Methods(http.MethodGet)
	api.HandleFunc("/layers/{layerId}/visibility", s.handleSetVisibility).Methods(http.MethodPost)
	api.HandleFunc("/layers/{layerId}/visibility", s.handleGetVisibility).Methods(http.MethodGet)

	// Job endpoints
	api.HandleFunc("/jobs/stats", s.handleJobStats).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobId}/cancel", s.handleCancelJob).Methods(http.MethodPost)

	// Sync endpoint (only if sync service is configured)
	if s.sync != nil {
		api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	}

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)
	r.HandleFunc("/swagger", s.handleSwaggerUI).Methods(http.MethodGet)

	// Map viewer (if enabled)
	if s.config.ViewerEnabled {
		r.HandleFunc("/", s.handleViewer).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
