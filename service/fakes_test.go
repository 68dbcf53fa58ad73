package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"io"
	"net/http"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
	"recording-ingest/pkg/ai"
	"recording-ingest/pkg/controlplane"
	"recording-ingest/pkg/staging"
	"recording-ingest/pkg/storage"
	"recording-ingest/repository"
	"sync"
	"testing"
)

// callLog is shared by the fakes so tests can assert cross-collaborator order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) has(call string) bool {
	for _, c := range l.list() {
		if c == call {
			return true
		}
	}
	return false
}

type fakeControlPlane struct {
	log *callLog

	plan          constant.Plan
	processingErr error
	completeErr   error
	transcriptErr error

	mu          sync.Mutex
	transcripts []controlplane.TranscriptNotification
}

func (f *fakeControlPlane) MarkProcessing(ctx context.Context, userID, filename string) (controlplane.ProcessingResponse, error) {
	f.log.add("processing")
	if f.processingErr != nil {
		return controlplane.ProcessingResponse{}, f.processingErr
	}
	return controlplane.ProcessingResponse{Status: http.StatusOK, Plan: f.plan}, nil
}

func (f *fakeControlPlane) MarkComplete(ctx context.Context, userID, filename string) error {
	f.log.add("complete")
	return f.completeErr
}

func (f *fakeControlPlane) SendTranscript(ctx context.Context, userID string, n controlplane.TranscriptNotification) error {
	f.log.add("transcript")
	f.mu.Lock()
	f.transcripts = append(f.transcripts, n)
	f.mu.Unlock()
	return f.transcriptErr
}

type fakeUploader struct {
	log *callLog

	uploadErr error
	rejected  bool

	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeUploader(log *callLog) *fakeUploader {
	return &fakeUploader{log: log, objects: make(map[string][]byte)}
}

func (f *fakeUploader) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeUploader) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (storage.UploadOutcome, error) {
	f.log.add("upload")
	if f.uploadErr != nil {
		return storage.UploadOutcome{RawStatus: http.StatusInternalServerError}, f.uploadErr
	}
	if f.rejected {
		return storage.UploadOutcome{RawStatus: http.StatusForbidden}, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.UploadOutcome{}, err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return storage.UploadOutcome{Success: true, RawStatus: http.StatusOK}, nil
}

func (f *fakeUploader) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

type fakeTranscriber struct {
	log  *callLog
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f.log.add("transcribe")
	return f.text, f.err
}

type fakeGenerator struct {
	log *callLog
	out ai.TitleSummary
	err error
}

func (f *fakeGenerator) GenerateTitleSummary(ctx context.Context, transcript string) (ai.TitleSummary, error) {
	f.log.add("generate")
	return f.out, f.err
}

// syncDispatcher runs the tail before Dispatch returns so assertions do not race it.
type syncDispatcher struct {
	pipeline *EnrichmentPipeline
	err      error

	mu      sync.Mutex
	reports []*PipelineReport
}

func (d *syncDispatcher) Dispatch(ctx context.Context, msg dto.EnrichmentMessage) error {
	if d.err != nil {
		return d.err
	}
	report := d.pipeline.Run(ctx, msg)
	d.mu.Lock()
	d.reports = append(d.reports, report)
	d.mu.Unlock()
	return nil
}

// trackingRepo remembers every job it created so tests can look them up.
type trackingRepo struct {
	repository.JobRepository

	mu   sync.Mutex
	jobs []uuid.UUID
}

func (r *trackingRepo) CreateJob(ctx context.Context, job *entities.IngestionJob) error {
	if err := r.JobRepository.CreateJob(ctx, job); err != nil {
		return err
	}
	r.mu.Lock()
	r.jobs = append(r.jobs, job.ID)
	r.mu.Unlock()
	return nil
}

func (r *trackingRepo) lastJob(t *testing.T) *entities.IngestionJob {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) == 0 {
		t.Fatal("no ingestion job was created")
	}
	job, err := r.FindJobById(context.Background(), r.jobs[len(r.jobs)-1])
	if err != nil {
		t.Fatalf("FindJobById: %v", err)
	}
	return job
}

type harness struct {
	log          *callLog
	store        *staging.Store
	controlPlane *fakeControlPlane
	uploader     *fakeUploader
	transcriber  *fakeTranscriber
	generator    *fakeGenerator
	repo         *trackingRepo
	pipeline     *EnrichmentPipeline
	dispatcher   *syncDispatcher
	ingestor     *Ingestor
}

func newHarness(t *testing.T, plan constant.Plan, maxBytes int64, opts IngestOptions) *harness {
	t.Helper()
	store, err := staging.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	log := &callLog{}
	h := &harness{
		log:          log,
		store:        store,
		controlPlane: &fakeControlPlane{log: log, plan: plan},
		uploader:     newFakeUploader(log),
		transcriber:  &fakeTranscriber{log: log, text: "hello from the meeting"},
		generator: &fakeGenerator{log: log, out: ai.TitleSummary{
			Title:   "Weekly sync",
			Summary: "Team discussed the roadmap.",
			Raw:     `{"title":"Weekly sync","summary":"Team discussed the roadmap."}`,
		}},
		repo: &trackingRepo{JobRepository: repository.NewMemoryRepo()},
	}
	h.pipeline = NewEnrichmentPipeline(store, h.controlPlane, h.transcriber, h.generator, h.repo, EnrichmentOptions{
		MaxTranscriptionBytes: maxBytes,
	})
	h.dispatcher = &syncDispatcher{pipeline: h.pipeline}
	h.ingestor = NewIngestor(store, h.uploader, h.controlPlane, h.pipeline, h.dispatcher, h.repo, opts)
	return h
}

func (h *harness) staged(name string) bool {
	_, err := h.store.Stat(name)
	return !errors.Is(err, staging.ErrNotFound)
}
