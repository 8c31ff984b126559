// Package app provides application initialization and wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/terralab/strata/internal/adapters/convert"
	"github.com/terralab/strata/internal/adapters/events"
	httpAdapter "github.com/terralab/strata/internal/adapters/http"
	"github.com/terralab/strata/internal/adapters/metrics"
	"github.com/terralab/strata/internal/adapters/state"
	"github.com/terralab/strata/internal/adapters/storage"
	tlsAdapter "github.com/terralab/strata/internal/adapters/tls"
	"github.com/terralab/strata/internal/adapters/watcher"
	"github.com/terralab/strata/internal/application"
	"github.com/terralab/strata/internal/config"
	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

// App holds all application components.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       output.ObjectStorage
	Store         *state.SQLiteStore
	Registry      *application.LayerRegistry
	Jobs          *application.JobStore
	Dispatcher    *application.Dispatcher
	Ingest        *application.IngestService
	Visibility    *application.VisibilityService
	SyncService   *application.SyncService
	HealthService *application.HealthService
	Publisher     output.EventPublisher
	HTTPServer    *httpAdapter.Server
	TLSServer     *tlsAdapter.Server
	Watcher       *watcher.Watcher
	Metrics       *metrics.Collector
	MetricsServer *metrics.Server

	pruneStop chan struct{}
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:    cfg,
		Logger:    logger,
		pruneStop: make(chan struct{}),
	}

	// Initialize metrics
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("strata")
		app.MetricsServer = metrics.NewServer(
			cfg.Metrics.Port,
			cfg.Metrics.Path,
			logger,
		)
	}

	var metricsCollector output.MetricsCollector
	if app.Metrics != nil {
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize object storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = storage.WithMetrics(store, metricsCollector)

	// Initialize persistence
	sqlStore, err := state.NewSQLiteStore(cfg.State.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing state store: %w", err)
	}
	app.Store = sqlStore

	// Initialize layer registry
	app.Registry = application.NewLayerRegistry(
		sqlStore,
		metricsCollector,
		logger,
		cfg.Ingest.WorkDir,
	)

	// Initialize job store and dispatcher
	app.Jobs = application.NewJobStore(sqlStore, metricsCollector, logger)
	app.Jobs.SetStallWindow(cfg.Ingest.StallWindow)
	app.Dispatcher = application.NewDispatcher(
		app.Jobs,
		cfg.Ingest.Workers,
		cfg.Ingest.QueueDepth,
		logger,
	)

	// Initialize event publisher
	app.Publisher = initPublisher(cfg.Events, logger)

	// Initialize ingest pipeline
	app.Ingest = application.NewIngestService(
		app.Registry,
		app.Jobs,
		app.Dispatcher,
		initConverter(cfg.Converter, logger),
		app.Publisher,
		logger,
		cfg.Ingest.DefaultSRID,
	)
	app.Dispatcher.SetRunner(app.Ingest)
	app.Ingest.SetArtifactStore(app.Storage)

	// Initialize visibility service
	visibility, err := application.NewVisibilityService(
		state.NewJSONVisibilityStore(cfg.State.VisibilityPath),
		app.Registry,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("initializing visibility: %w", err)
	}
	app.Visibility = visibility

	// Initialize sync service
	app.SyncService = application.NewSyncService(app.Storage, app.Ingest, app.Registry, logger)

	// Initialize health service
	app.HealthService = application.NewHealthService(app.Registry, app.Jobs)

	// Initialize HTTP server
	var metricsMW mux.MiddlewareFunc
	if app.Metrics != nil {
		metricsMW = app.Metrics.Middleware
	}
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		app.Ingest,
		app.Registry,
		app.Jobs,
		app.Visibility,
		app.HealthService,
		app.SyncService,
		metricsMW,
		logger,
	)

	// Initialize TLS server if enabled
	if cfg.TLS.Enabled {
		tlsServer, err := tlsAdapter.NewServer(
			tlsAdapter.Config{
				Enabled:  cfg.TLS.Enabled,
				Domains:  cfg.TLS.Domains,
				Email:    cfg.TLS.Email,
				CacheDir: cfg.TLS.CacheDir,
				Staging:  cfg.TLS.Staging,
				DNS: tlsAdapter.DNSConfig{
					SubscriptionID:    cfg.TLS.DNS.SubscriptionID,
					ResourceGroupName: cfg.TLS.DNS.ResourceGroupName,
					ClientID:          cfg.TLS.DNS.ClientID,
				},
			},
			app.HTTPServer.Router(),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("initializing TLS: %w", err)
		}
		app.TLSServer = tlsServer
	}

	// Initialize inbox watcher if configured
	if cfg.Ingest.InboxDir != "" {
		w, err := watcher.New(
			watcher.Config{Path: cfg.Ingest.InboxDir},
			app.handleInboxArchive,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize inbox watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Restore persisted state before accepting requests.
	if err := a.Registry.LoadAll(ctx); err != nil {
		a.Logger.Warn("failed to restore layers", "error", err)
	}
	interrupted, err := a.Jobs.LoadAll(ctx)
	if err != nil {
		a.Logger.Warn("failed to restore jobs", "error", err)
	}
	// Layers whose jobs died with the process would stay in processing
	// forever; settle them alongside their jobs.
	for _, layerID := range interrupted {
		if merr := a.Registry.MarkError(ctx, layerID, "interrupted by service restart"); merr != nil &&
			!errors.Is(merr, domain.ErrLayerNotFound) && !errors.Is(merr, domain.ErrInvalidTransition) {
			a.Logger.Warn("failed to settle interrupted layer", "layer", layerID, "error", merr)
		}
	}

	// Drop display state of layers deleted while the service was down.
	if removed := a.Visibility.RemoveOrphans(); removed > 0 {
		a.Logger.Info("removed orphaned visibility entries", "count", removed)
	}

	a.Dispatcher.Start(ctx)

	// Start inbox watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start inbox watcher", "error", err)
		}
	}

	// Start terminal job pruning
	go a.pruneLoop(ctx)

	// Start metrics server in background
	if a.MetricsServer != nil {
		go func() {
			if err := a.MetricsServer.Start(); err != nil && err.Error() != "http: Server closed" {
				a.Logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Start server
	if a.Config.TLS.Enabled && a.TLSServer != nil {
		if err := a.TLSServer.ManageCertificates(ctx); err != nil {
			return fmt.Errorf("obtaining certificates: %w", err)
		}
		return a.TLSServer.ListenAndServe(a.Config.Server.Address())
	}
	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	close(a.pruneStop)

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Shutdown metrics server
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	// Flush the event transport
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Error("publisher close error", "error", err)
	}

	// Close persistence last; in-flight workers write through it
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("state store close error", "error", err)
	}

	return nil
}

// pruneLoop periodically removes terminal jobs past the retention
// window.
func (a *App) pruneLoop(ctx context.Context) {
	interval := a.Config.Ingest.PruneInterval
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.pruneStop:
			return
		case <-ticker.C:
			pruned := a.Jobs.PruneTerminal(ctx, a.Config.Ingest.JobRetention, time.Now())
			if pruned > 0 {
				a.Logger.Info("pruned terminal jobs", "count", pruned)
			}
		}
	}
}

// handleInboxArchive ingests an archive dropped into the inbox.
func (a *App) handleInboxArchive(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	results, err := a.Ingest.Ingest(ctx, filepath.Base(path), data)
	if err != nil {
		return err
	}

	a.Logger.Info("inbox archive ingested", "path", path, "layers", len(results))
	return nil
}

// initConverter builds the configured raster converter.
func initConverter(cfg config.ConverterConfig, logger *slog.Logger) output.RasterConverter {
	if cfg.Mode == "exec" {
		return convert.NewExecConverter(cfg.Command, cfg.Args, cfg.Timeout, logger)
	}
	return convert.NewImagingConverter(cfg.MaxDimension, logger)
}

// initPublisher builds the configured event publisher.
func initPublisher(cfg config.EventsConfig, logger *slog.Logger) output.EventPublisher {
	if !cfg.Enabled {
		return &output.NoOpPublisher{}
	}
	return events.NewKafkaPublisher(events.Config{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	}, logger)
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
