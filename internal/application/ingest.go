package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/terralab/strata/internal/archive"
	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/geo"
	"github.com/terralab/strata/internal/ports/output"
)

// Ingest progress checkpoints. The worker reports these as the pipeline
// advances; cancellation is observed between stages.
const (
	progressParsed      = 20
	progressBounds      = 40
	progressTransformed = 60
	progressConverted   = 90
)

// UploadResult describes the outcome of registering one raster from an
// upload. A failed registration carries an error message; the rest of
// the archive still proceeds.
type UploadResult struct {
	LayerID  string `json:"layer_id"`
	JobID    string `json:"job_id,omitempty"`
	FileName string `json:"file_name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// IngestService orchestrates raster ingestion: it unpacks uploads into
// per-layer working directories, enqueues one job per raster, and runs
// the processing pipeline on worker goroutines.
type IngestService struct {
	registry   *LayerRegistry
	jobs       *JobStore
	dispatcher *Dispatcher
	converter  output.RasterConverter
	publisher  output.EventPublisher
	logger     *slog.Logger

	// artifacts receives rendered outputs after a layer is processed;
	// nil disables publication.
	artifacts output.ObjectStorage

	// defaultSRID applies when the raster carries no projection file.
	defaultSRID int
}

// NewIngestService creates the ingest service.
func NewIngestService(
	registry *LayerRegistry,
	jobs *JobStore,
	dispatcher *Dispatcher,
	converter output.RasterConverter,
	publisher output.EventPublisher,
	logger *slog.Logger,
	defaultSRID int,
) *IngestService {
	if defaultSRID == 0 {
		defaultSRID = domain.SRIDUTMZone38N
	}
	return &IngestService{
		registry:    registry,
		jobs:        jobs,
		dispatcher:  dispatcher,
		converter:   converter,
		publisher:   publisher,
		logger:      logger,
		defaultSRID: defaultSRID,
	}
}

// SetArtifactStore enables publication of rendered artifacts to object
// storage after a layer is processed.
func (s *IngestService) SetArtifactStore(store output.ObjectStorage) {
	s.artifacts = store
}

// Ingest accepts an uploaded archive or bare raster and registers one
// layer plus one queued job per contained image. The upload call
// returns as soon as jobs are queued; processing happens on workers.
func (s *IngestService) Ingest(ctx context.Context, fileName string, data []byte) ([]UploadResult, error) {
	bundles, err := archive.Extract(fileName, data)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, 0, len(bundles))
	for i := range bundles {
		results = append(results, s.ingestBundle(ctx, fileName, &bundles[i]))
	}

	s.logger.Info("upload accepted", "file", fileName, "rasters", len(results))
	return results, nil
}

func (s *IngestService) ingestBundle(ctx context.Context, fileName string, bundle *archive.RasterBundle) UploadResult {
	layerID := uuid.New().String()
	result := UploadResult{
		LayerID:  layerID,
		FileName: bundle.ImageName,
	}

	if _, err := s.registry.Register(ctx, layerID, fileName, int64(len(bundle.ImageData))); err != nil {
		result.Status = string(domain.LayerError)
		result.Error = err.Error()
		return result
	}

	if _, err := bundle.WriteTo(s.registry.WorkDir(layerID)); err != nil {
		s.failBeforeQueue(ctx, layerID, fmt.Errorf("writing work dir: %w", err))
		result.Status = string(domain.LayerError)
		result.Error = "failed to stage raster"
		return result
	}

	job, err := s.jobs.Enqueue(ctx, layerID, domain.JobMetadata{
		SourceFileName: fileName,
		ImageFile:      bundle.ImageName,
		WorldFile:      bundle.WorldFileName,
		ProjectionFile: bundle.ProjectionName,
	})
	if err != nil {
		s.failBeforeQueue(ctx, layerID, err)
		result.Status = string(domain.LayerError)
		result.Error = err.Error()
		return result
	}

	if err := s.dispatcher.Submit(job.ID); err != nil {
		if _, cerr := s.jobs.Cancel(ctx, job.ID); cerr != nil {
			s.logger.Error("failed to cancel unsubmittable job", "job", job.ID, "error", cerr)
		}
		s.failBeforeQueue(ctx, layerID, err)
		result.JobID = job.ID
		result.Status = string(domain.LayerError)
		result.Error = err.Error()
		return result
	}

	result.JobID = job.ID
	result.Status = string(domain.JobQueued)
	return result
}

func (s *IngestService) failBeforeQueue(ctx context.Context, layerID string, err error) {
	s.logger.Error("ingest staging failed", "layer", layerID, "error", err)
	if merr := s.registry.MarkError(ctx, layerID, err.Error()); merr != nil {
		s.logger.Error("failed to mark layer", "layer", layerID, "error", merr)
	}
}

// Run executes the processing pipeline for one picked-up job. It
// implements JobRunner; ctx is the job's cancellation context.
func (s *IngestService) Run(ctx context.Context, jobID string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		s.logger.Error("job disappeared after pickup", "job", jobID, "error", err)
		return
	}

	if ctx.Err() != nil {
		// Cancelled before any stage ran.
		s.handleCancelled(job)
		return
	}

	if err := s.process(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			s.handleCancelled(job)
			return
		}
		s.handleFailure(job, err)
	}
}

// process runs the pipeline stages. Any returned error failed the
// layer; a context.Canceled error means the job was cancelled and its
// terminal transition already happened in Cancel.
func (s *IngestService) process(ctx context.Context, job *domain.Job) error {
	workDir := s.registry.WorkDir(job.LayerID)
	bg := context.Background()

	// Stage: parse side files.
	georef, err := s.parseSideFiles(workDir, job.Metadata)
	if err != nil {
		return &domain.IngestError{LayerID: job.LayerID, Stage: "parse", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.jobs.ReportProgress(bg, job.ID, progressParsed)

	// Stage: pixel dimensions and source bounds.
	srid := georef.SRID(s.defaultSRID)
	dims, err := s.converterDimensions(ctx, workDir, job.Metadata.ImageFile)
	if err != nil {
		return &domain.IngestError{LayerID: job.LayerID, Stage: "bounds", Err: err}
	}
	sourceBounds := geo.ComputeBounds(georef, dims.Width, dims.Height, srid)
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.jobs.ReportProgress(bg, job.ID, progressBounds)

	// Stage: transform to WGS84.
	transformed, err := geo.BoundsToWGS84(sourceBounds)
	if err != nil {
		return &domain.IngestError{LayerID: job.LayerID, Stage: "transform", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.jobs.ReportProgress(bg, job.ID, progressTransformed)

	// Stage: raster conversion.
	conv, err := s.converter.Convert(ctx, output.ConvertInput{
		LayerID:    job.LayerID,
		InputPath:  filepath.Join(workDir, job.Metadata.ImageFile),
		OutputDir:  workDir,
		Georef:     georef,
		SourceSRID: srid,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.IngestError{LayerID: job.LayerID, Stage: "convert", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.jobs.ReportProgress(bg, job.ID, progressConverted)

	// Finalize: the layer and job records are updated off the job
	// context so a late cancel cannot half-commit a finished pipeline.
	bounds := transformed.Bounds
	artifacts := conv.Artifacts
	dimensions := conv.Dimensions
	if dimensions.Width == 0 {
		dimensions = dims
	}

	if err := s.registry.MarkProcessed(bg, job.LayerID, ProcessedLayer{
		Bounds:           &bounds,
		SourceBounds:     &sourceBounds,
		Approximate:      transformed.Approximate,
		CoordinateSystem: fmt.Sprintf("EPSG:%d", srid),
		Dimensions:       &dimensions,
		Artifacts:        &artifacts,
	}); err != nil {
		return &domain.IngestError{LayerID: job.LayerID, Stage: "finalize", Err: err}
	}

	s.publishArtifacts(bg, job.LayerID, workDir, artifacts)

	if err := s.jobs.Complete(bg, job.ID, domain.JobMetadata{
		SourceFileName: job.Metadata.SourceFileName,
		ImageFile:      job.Metadata.ImageFile,
		WorldFile:      job.Metadata.WorldFile,
		ProjectionFile: job.Metadata.ProjectionFile,
		Bounds:         &bounds,
		Artifacts:      &artifacts,
	}); err != nil {
		// Lost the completion race against a cancel; the cancel wins.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return context.Canceled
		}
		return err
	}

	s.publish(job, domain.JobCompleted, "")
	return nil
}

// publishArtifacts copies the rendered outputs of a processed layer to
// object storage so they survive the loss of the local working
// directory. Publication is best-effort; the layer already serves from
// disk.
func (s *IngestService) publishArtifacts(ctx context.Context, layerID, workDir string, artifacts domain.ArtifactSet) {
	if s.artifacts == nil {
		return
	}
	for _, name := range []string{artifacts.Overlay, artifacts.WorldFile, artifacts.Projection} {
		if name == "" {
			continue
		}
		key := path.Join("artifacts", layerID, name)
		if err := s.artifacts.Upload(ctx, key, filepath.Join(workDir, name)); err != nil {
			// A read-only backend cannot take artifacts at all.
			if errors.Is(err, domain.ErrUnsupported) {
				return
			}
			s.logger.Warn("artifact publication failed", "layer", layerID, "key", key, "error", err)
		}
	}
}

func (s *IngestService) handleFailure(job *domain.Job, err error) {
	s.logger.Error("ingest failed", "job", job.ID, "layer", job.LayerID, "error", err)

	bg := context.Background()
	if merr := s.registry.MarkError(bg, job.LayerID, err.Error()); merr != nil &&
		!errors.Is(merr, domain.ErrLayerNotFound) && !errors.Is(merr, domain.ErrInvalidTransition) {
		s.logger.Error("failed to mark layer", "layer", job.LayerID, "error", merr)
	}
	if ferr := s.jobs.Fail(bg, job.ID, err.Error()); ferr != nil &&
		!errors.Is(ferr, domain.ErrInvalidTransition) {
		s.logger.Error("failed to mark job", "job", job.ID, "error", ferr)
	}

	s.publish(job, domain.JobFailed, err.Error())
}

func (s *IngestService) handleCancelled(job *domain.Job) {
	s.logger.Info("ingest cancelled", "job", job.ID, "layer", job.LayerID)

	bg := context.Background()
	if merr := s.registry.MarkError(bg, job.LayerID, "processing cancelled"); merr != nil &&
		!errors.Is(merr, domain.ErrLayerNotFound) && !errors.Is(merr, domain.ErrInvalidTransition) {
		s.logger.Error("failed to mark layer", "layer", job.LayerID, "error", merr)
	}

	s.publish(job, domain.JobCancelled, "")
}

// parseSideFiles reads the world and projection files staged next to the
// raster. A raster without a world file still gets a georeference: the
// zero origin falls outside every supported projection domain, so the
// bounds transform lands on the deterministic regional fallback and the
// layer is flagged approximate.
func (s *IngestService) parseSideFiles(workDir string, meta domain.JobMetadata) (domain.GeoreferenceInfo, error) {
	var projText string
	if meta.ProjectionFile != "" {
		data, err := os.ReadFile(filepath.Join(workDir, meta.ProjectionFile))
		if err != nil {
			return domain.GeoreferenceInfo{}, fmt.Errorf("reading projection file: %w", err)
		}
		projText = string(data)
	}

	if meta.WorldFile == "" {
		info := geo.ParseProjectionFile(projText)
		return domain.GeoreferenceInfo{
			PixelSizeX:     1,
			PixelSizeY:     -1,
			CRSIdentifier:  info.CRSIdentifier,
			ProjectionName: info.ProjectionName,
			IsUTMZone38N:   info.IsUTMZone38N,
		}, nil
	}

	data, err := os.ReadFile(filepath.Join(workDir, meta.WorldFile))
	if err != nil {
		return domain.GeoreferenceInfo{}, fmt.Errorf("reading world file: %w", err)
	}
	return geo.NewGeoreference(string(data), projText)
}

// converterDimensions reads the raster header for pixel dimensions.
func (s *IngestService) converterDimensions(_ context.Context, workDir, imageFile string) (domain.Dimensions, error) {
	return readImageDimensions(filepath.Join(workDir, imageFile))
}

func (s *IngestService) publish(job *domain.Job, status domain.JobStatus, errMsg string) {
	if s.publisher == nil {
		return
	}
	event := output.JobEvent{
		JobID:   job.ID,
		LayerID: job.LayerID,
		Status:  status,
		Error:   errMsg,
	}
	if err := s.publisher.PublishJobEvent(context.Background(), event); err != nil {
		s.logger.Warn("failed to publish job event", "job", job.ID, "error", err)
	}
}
