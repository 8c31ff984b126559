package application

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/terralab/strata/internal/domain"
	"github.com/terralab/strata/internal/ports/output"
)

const (
	testWorldFile = "2.0\n0.0\n0.0\n-2.0\n400000.0\n3995000.0\n"
	testPrjUTM    = `PROJCS["WGS 84 / UTM zone 38N",GEOGCS["WGS 84"],AUTHORITY["EPSG","32638"]]`
)

type ingestHarness struct {
	registry  *LayerRegistry
	jobs      *JobStore
	ingest    *IngestService
	converter *mockConverter
	publisher *mockPublisher
	cancel    context.CancelFunc
}

func newIngestHarness(t *testing.T) *ingestHarness {
	t.Helper()

	registry := newTestRegistry(t)
	jobs := newTestJobStore()
	converter := &mockConverter{}
	publisher := &mockPublisher{}

	dispatcher := NewDispatcher(jobs, 2, 16, testLogger())
	ingest := NewIngestService(registry, jobs, dispatcher, converter, publisher, testLogger(), 0)
	dispatcher.SetRunner(ingest)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	return &ingestHarness{
		registry:  registry,
		jobs:      jobs,
		ingest:    ingest,
		converter: converter,
		publisher: publisher,
		cancel:    cancel,
	}
}

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 40), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s failed: %v", name, err)
		}
		if _, err := f.Write(data); err != nil {
			t.Fatalf("zip write %s failed: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip close failed: %v", err)
	}
	return buf.Bytes()
}

func waitForJob(t *testing.T, jobs *JobStore, jobID string) *domain.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get job failed: %v", err)
		}
		if job.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestIngestArchiveEndToEnd(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()

	data := buildZip(t, map[string][]byte{
		"site.png": encodePNG(t, 6, 4),
		"site.pgw": []byte(testWorldFile),
		"site.prj": []byte(testPrjUTM),
	})

	results, err := h.ingest.Ingest(ctx, "site.zip", data)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Status != string(domain.JobQueued) {
		t.Fatalf("result status = %q, want queued: %s", results[0].Status, results[0].Error)
	}

	job := waitForJob(t, h.jobs, results[0].JobID)
	if job.Status != domain.JobCompleted {
		t.Fatalf("job status = %q, want completed (error: %s)", job.Status, job.Metadata.Error)
	}
	if job.Progress != 100 {
		t.Errorf("job progress = %d, want 100", job.Progress)
	}
	if job.Metadata.Bounds == nil {
		t.Fatal("job metadata has no bounds")
	}

	layer, err := h.registry.Get(ctx, results[0].LayerID)
	if err != nil {
		t.Fatalf("Get layer failed: %v", err)
	}
	if layer.Status != domain.LayerProcessed {
		t.Fatalf("layer status = %q, want processed", layer.Status)
	}
	if layer.Approximate {
		t.Error("layer flagged approximate for an in-domain UTM raster")
	}
	if layer.CoordinateSystem != "EPSG:32638" {
		t.Errorf("CoordinateSystem = %q, want EPSG:32638", layer.CoordinateSystem)
	}
	if layer.Bounds == nil {
		t.Fatal("layer has no bounds")
	}
	// 400000E 3995000N in zone 38N sits in northern Iraq.
	if layer.Bounds.MinLat < 35 || layer.Bounds.MaxLat > 37 {
		t.Errorf("latitudes = [%v, %v], want around 36", layer.Bounds.MinLat, layer.Bounds.MaxLat)
	}
	if layer.Artifacts == nil || layer.Artifacts.Overlay != "overlay.png" {
		t.Errorf("Artifacts = %+v, want overlay.png", layer.Artifacts)
	}

	events := h.publisher.published()
	if len(events) != 1 || events[0].Status != domain.JobCompleted {
		t.Errorf("events = %+v, want one completed event", events)
	}
}

func TestIngestPublishesArtifacts(t *testing.T) {
	h := newIngestHarness(t)
	store := &mockStorage{}
	h.ingest.SetArtifactStore(store)
	ctx := context.Background()

	data := buildZip(t, map[string][]byte{
		"site.png": encodePNG(t, 6, 4),
		"site.pgw": []byte(testWorldFile),
		"site.prj": []byte(testPrjUTM),
	})

	results, err := h.ingest.Ingest(ctx, "site.zip", data)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	job := waitForJob(t, h.jobs, results[0].JobID)
	if job.Status != domain.JobCompleted {
		t.Fatalf("job status = %q, want completed (error: %s)", job.Status, job.Metadata.Error)
	}

	want := "artifacts/" + results[0].LayerID + "/overlay.png"
	keys := store.uploadedKeys()
	if len(keys) != 1 || keys[0] != want {
		t.Errorf("uploaded keys = %v, want [%s]", keys, want)
	}
}

func TestIngestBareRasterFallbackBounds(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()

	// No world file: georeferencing is unknown, so the pipeline must
	// land on the deterministic regional fallback and flag it.
	results, err := h.ingest.Ingest(ctx, "photo.png", encodePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	job := waitForJob(t, h.jobs, results[0].JobID)
	if job.Status != domain.JobCompleted {
		t.Fatalf("job status = %q, want completed (error: %s)", job.Status, job.Metadata.Error)
	}

	layer, _ := h.registry.Get(ctx, results[0].LayerID)
	if !layer.Approximate {
		t.Error("fallback bounds not flagged approximate")
	}
	center := (layer.Bounds.MinLat + layer.Bounds.MaxLat) / 2
	if center < 35 || center > 37 {
		t.Errorf("fallback center latitude = %v, want regional default", center)
	}
}

func TestIngestRejectsNonRaster(t *testing.T) {
	h := newIngestHarness(t)

	_, err := h.ingest.Ingest(context.Background(), "notes.txt", []byte("plain text"))
	if !errors.Is(err, domain.ErrNoRasterFound) {
		t.Errorf("err = %v, want ErrNoRasterFound", err)
	}
}

func TestIngestConverterFailureFailsLayer(t *testing.T) {
	h := newIngestHarness(t)
	h.converter.failErr = errors.New("conversion exploded")
	ctx := context.Background()

	results, err := h.ingest.Ingest(ctx, "photo.png", encodePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	job := waitForJob(t, h.jobs, results[0].JobID)
	if job.Status != domain.JobFailed {
		t.Fatalf("job status = %q, want failed", job.Status)
	}
	if job.Metadata.Error == "" {
		t.Error("failed job carries no error message")
	}

	layer, _ := h.registry.Get(ctx, results[0].LayerID)
	if layer.Status != domain.LayerError {
		t.Errorf("layer status = %q, want error", layer.Status)
	}

	events := h.publisher.published()
	if len(events) != 1 || events[0].Status != domain.JobFailed {
		t.Errorf("events = %+v, want one failed event", events)
	}
}

func TestIngestPartialArchiveFailure(t *testing.T) {
	h := newIngestHarness(t)
	ctx := context.Background()

	data := buildZip(t, map[string][]byte{
		"good.png": encodePNG(t, 4, 4),
		"bad.png":  []byte("this is not a png"),
	})

	results, err := h.ingest.Ingest(ctx, "mixed.zip", data)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	statuses := make(map[domain.JobStatus]int)
	for _, res := range results {
		job := waitForJob(t, h.jobs, res.JobID)
		statuses[job.Status]++
	}
	if statuses[domain.JobCompleted] != 1 || statuses[domain.JobFailed] != 1 {
		t.Errorf("statuses = %v, want one completed and one failed", statuses)
	}
}

func TestIngestCancelDuringConversion(t *testing.T) {
	h := newIngestHarness(t)
	block := make(chan struct{})
	h.converter.block = block
	ctx := context.Background()

	results, err := h.ingest.Ingest(ctx, "photo.png", encodePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	jobID := results[0].JobID

	// Wait until the worker is inside the converter.
	deadline := time.Now().Add(5 * time.Second)
	for h.converter.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("converter never invoked")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.jobs.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	job := waitForJob(t, h.jobs, jobID)
	if job.Status != domain.JobCancelled {
		t.Fatalf("job status = %q, want cancelled", job.Status)
	}

	// The worker unwinds after the cancel wins the state race; give it
	// a moment to mark the layer.
	layerDeadline := time.Now().Add(5 * time.Second)
	for {
		layer, _ := h.registry.Get(ctx, results[0].LayerID)
		if layer.Status == domain.LayerError {
			break
		}
		if time.Now().After(layerDeadline) {
			t.Fatalf("layer status = %q, want error after cancel", layer.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIngestCancelBeforePickup(t *testing.T) {
	registry := newTestRegistry(t)
	jobs := newTestJobStore()
	converter := &mockConverter{}
	publisher := &mockPublisher{}

	// Dispatcher is created but never started, so jobs stay queued.
	dispatcher := NewDispatcher(jobs, 1, 16, testLogger())
	ingest := NewIngestService(registry, jobs, dispatcher, converter, publisher, testLogger(), 0)
	dispatcher.SetRunner(ingest)
	ctx := context.Background()

	results, err := ingest.Ingest(ctx, "photo.png", encodePNG(t, 4, 4))
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	jobID := results[0].JobID

	if _, err := jobs.Cancel(ctx, jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// Start workers after the cancel; the queued entry must be skipped.
	runCtx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(runCtx)
	t.Cleanup(func() {
		cancel()
		dispatcher.Wait()
	})

	job := waitForJob(t, jobs, jobID)
	if job.Status != domain.JobCancelled {
		t.Fatalf("job status = %q, want cancelled", job.Status)
	}
	if converter.callCount() != 0 {
		t.Error("converter invoked for a cancelled job")
	}

	// The worker that drains the cancelled entry must also settle the
	// layer; otherwise it would sit in processing forever.
	layerDeadline := time.Now().Add(5 * time.Second)
	for {
		layer, err := registry.Get(ctx, results[0].LayerID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if layer.Status == domain.LayerError {
			if layer.Error != "processing cancelled" {
				t.Errorf("Error = %q, want %q", layer.Error, "processing cancelled")
			}
			break
		}
		if time.Now().After(layerDeadline) {
			t.Fatalf("layer status = %q, want error after queued cancel", layer.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	jobs := newTestJobStore()
	dispatcher := NewDispatcher(jobs, 1, 1, testLogger())

	if err := dispatcher.Submit("job-1"); err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if err := dispatcher.Submit("job-2"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Submit err = %v, want ErrQueueFull", err)
	}
}

func TestIngestQueueFullFailsLayer(t *testing.T) {
	registry := newTestRegistry(t)
	jobs := newTestJobStore()

	// Unstarted dispatcher with a single-slot queue.
	dispatcher := NewDispatcher(jobs, 1, 1, testLogger())
	ingest := NewIngestService(registry, jobs, dispatcher, &mockConverter{}, &output.NoOpPublisher{}, testLogger(), 0)
	dispatcher.SetRunner(ingest)
	ctx := context.Background()

	first, err := ingest.Ingest(ctx, "a.png", encodePNG(t, 2, 2))
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if first[0].Status != string(domain.JobQueued) {
		t.Fatalf("first status = %q, want queued", first[0].Status)
	}

	second, err := ingest.Ingest(ctx, "b.png", encodePNG(t, 2, 2))
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}
	if second[0].Status != string(domain.LayerError) {
		t.Fatalf("second status = %q, want error", second[0].Status)
	}

	layer, _ := registry.Get(ctx, second[0].LayerID)
	if layer.Status != domain.LayerError {
		t.Errorf("layer status = %q, want error", layer.Status)
	}
	job, _ := jobs.Get(ctx, second[0].JobID)
	if job.Status != domain.JobCancelled {
		t.Errorf("overflow job status = %q, want cancelled", job.Status)
	}
}
