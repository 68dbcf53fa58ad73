package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"net/http"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
	"recording-ingest/pkg/controlplane"
	"recording-ingest/pkg/staging"
	"recording-ingest/repository"
	"sync"
)

var transitions = map[constant.SessionState][]constant.SessionState{
	constant.SessionStateReceiving:  {constant.SessionStateFinalizing, constant.SessionStateError},
	constant.SessionStateFinalizing: {constant.SessionStateUploading, constant.SessionStateError},
	constant.SessionStateUploading:  {constant.SessionStateEnriching, constant.SessionStateSkipped, constant.SessionStateError},
	constant.SessionStateEnriching:  {constant.SessionStateDone, constant.SessionStateError},
	constant.SessionStateSkipped:    {constant.SessionStateDone, constant.SessionStateError},
}

func CanTransition(from, to constant.SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type IngestOptions struct {
	RejectExisting bool
}

// Ingestor holds what every connection shares. Each connection gets its own
// Session from NewSession.
type Ingestor struct {
	store        *staging.Store
	uploader     BlobUploader
	controlPlane ControlPlane
	enrichment   *EnrichmentPipeline
	dispatcher   Dispatcher
	repo         repository.JobRepository
	opts         IngestOptions
}

func NewIngestor(
	store *staging.Store,
	uploader BlobUploader,
	controlPlane ControlPlane,
	enrichment *EnrichmentPipeline,
	dispatcher Dispatcher,
	repo repository.JobRepository,
	opts IngestOptions,
) *Ingestor {
	return &Ingestor{
		store:        store,
		uploader:     uploader,
		controlPlane: controlPlane,
		enrichment:   enrichment,
		dispatcher:   dispatcher,
		repo:         repo,
		opts:         opts,
	}
}

func (i *Ingestor) NewSession() *Session {
	return &Session{
		id:       uuid.New(),
		ingestor: i,
		buffer:   NewChunkBuffer(i.store),
		states:   make(map[string]constant.SessionState),
	}
}

// Session is bound to one duplex connection and owns its ChunkBuffer. A
// connection may stream and finalize several recordings; each filename moves
// through its own state machine.
type Session struct {
	id       uuid.UUID
	ingestor *Ingestor
	buffer   *ChunkBuffer

	mu     sync.Mutex
	states map[string]constant.SessionState
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state for filename, or "" if the session has
// not seen it.
func (s *Session) State(filename string) constant.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[filename]
}

// begin puts filename back into RECEIVING when it is new or its previous
// recording reached a terminal state.
func (s *Session) begin(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[filename]; !ok || state.Terminal() {
		s.states[filename] = constant.SessionStateReceiving
	}
}

func (s *Session) transition(ctx context.Context, filename string, to constant.SessionState) {
	s.mu.Lock()
	from, ok := s.states[filename]
	if !ok {
		from = constant.SessionStateReceiving
	}
	allowed := CanTransition(from, to)
	if allowed {
		s.states[filename] = to
	}
	s.mu.Unlock()

	if !allowed {
		zerolog.Ctx(ctx).Error().
			Str("filename", filename).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("illegal session transition")
		return
	}
	zerolog.Ctx(ctx).Info().
		Str("filename", filename).
		Str("from", string(from)).
		Str("state", string(to)).
		Msg("session transition")
}

// AppendChunk never reports to the sender. Failures are logged and the
// session carries on.
func (s *Session) AppendChunk(ctx context.Context, chunk dto.VideoChunk) {
	logger := zerolog.Ctx(ctx).With().Str("filename", chunk.Filename).Int("bytes", len(chunk.Chunks)).Logger()

	s.begin(chunk.Filename)

	if err := s.buffer.Append(ctx, chunk.Filename, chunk.Chunks, chunk.Seq); err != nil {
		if errors.Is(err, ErrDuplicateFragment) {
			logger.Debug().Err(err).Msg("dropped duplicate fragment")
			return
		}
		logger.Error().Err(err).Msg("failed to stage fragment")
		return
	}
	logger.Debug().Msg("fragment staged")
}

// Finalize runs the caller-visible part of the pipeline and returns exactly
// one result. For PRO and BUSINESS recordings the enrichment tail keeps
// running after Finalize returns.
func (s *Session) Finalize(ctx context.Context, req dto.ProcessVideo) dto.PipelineResult {
	logger := zerolog.Ctx(ctx).With().Str("filename", req.Filename).Str("user_id", req.UserId).Logger()
	ctx = logger.WithContext(ctx)
	in := s.ingestor
	name := req.Filename

	if err := staging.ValidateName(name); err != nil {
		logger.Warn().Err(err).Msg("rejected finalize")
		return result(http.StatusInternalServerError, constant.MessageInvalidName)
	}
	fail := func(message string, err error) dto.PipelineResult {
		logger.Error().Err(err).Msg(message)
		s.transition(ctx, name, constant.SessionStateError)
		return result(http.StatusInternalServerError, message)
	}

	// A busy recording belongs to another finalize, possibly on this same
	// session, so its state is left alone.
	lease, err := in.store.Acquire(name)
	if err != nil {
		if errors.Is(err, staging.ErrBusy) {
			logger.Warn().Err(err).Msg(constant.MessageBusy)
			return result(http.StatusInternalServerError, constant.MessageBusy)
		}
		s.begin(name)
		return fail(constant.MessageProcessingFail, err)
	}
	s.begin(name)
	s.transition(ctx, name, constant.SessionStateFinalizing)
	handedOff := false
	defer func() {
		if handedOff {
			return
		}
		if err := lease.Release(); err != nil {
			logger.Error().Err(err).Msg("failed to release recording lease")
		}
	}()

	received, err := s.buffer.Take(name)
	if err != nil {
		return fail(constant.MessageProcessingFail, err)
	}
	if received == 0 {
		return fail(constant.MessageNotFound, fmt.Errorf("no fragments received for %s: %w", name, staging.ErrNotFound))
	}

	size, err := in.store.Stat(name)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return fail(constant.MessageNotFound, err)
		}
		return fail(constant.MessageProcessingFail, err)
	}

	job := &entities.IngestionJob{
		ID:       uuid.New(),
		Filename: name,
		UserId:   req.UserId,
		Status:   constant.JobStatusProcessing,
	}
	if err := in.repo.CreateJob(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("failed to create ingestion job")
	}
	logger = logger.With().Str("job_id", job.ID.String()).Logger()
	ctx = logger.WithContext(ctx)

	failJob := func(message string, err error) dto.PipelineResult {
		if updateErr := in.repo.UpdateStatusJob(ctx, constant.JobStatusFailed, job.ID, err); updateErr != nil {
			logger.Warn().Err(updateErr).Msg("failed to update job status")
		}
		return fail(message, err)
	}

	processing, err := in.controlPlane.MarkProcessing(ctx, req.UserId, name)
	if err != nil {
		return failJob(constant.MessageProcessingFail, err)
	}
	if processing.Plan == "" {
		return failJob(constant.MessageProcessingFail, fmt.Errorf("processing response without a known plan: %w", controlplane.ErrMalformedResponse))
	}

	if in.opts.RejectExisting {
		exists, err := in.uploader.Exists(ctx, name)
		if err != nil {
			return failJob(constant.MessageUploadFail, err)
		}
		if exists {
			return failJob(constant.MessageConflict, fmt.Errorf("%s: %w", name, ErrConflict))
		}
	}

	s.transition(ctx, name, constant.SessionStateUploading)
	f, err := in.store.Open(name)
	if err != nil {
		return failJob(constant.MessageProcessingFail, err)
	}
	outcome, err := in.uploader.Upload(ctx, name, constant.RecordingContentType, f, size)
	_ = f.Close()
	if err == nil && !outcome.Success {
		err = fmt.Errorf("upload of %s not accepted (status %d)", name, outcome.RawStatus)
	}
	if err != nil {
		return failJob(constant.MessageUploadFail, err)
	}
	logger.Info().Int64("size", size).Str("plan", processing.Plan.String()).Msg("recording uploaded")

	if err := in.repo.UpdateJobUpload(ctx, job.ID, processing.Plan, size); err != nil {
		logger.Warn().Err(err).Msg("failed to record upload on job")
	}

	if !processing.Plan.Enriches() {
		s.transition(ctx, name, constant.SessionStateSkipped)
		if err := in.repo.UpdateStatusJob(ctx, constant.JobStatusSkipped, job.ID, nil); err != nil {
			logger.Warn().Err(err).Msg("failed to update job status")
		}
		s.transition(ctx, name, constant.SessionStateDone)
		return result(http.StatusOK, constant.MessageUpgradePlan)
	}

	s.transition(ctx, name, constant.SessionStateEnriching)
	msg := dto.EnrichmentMessage{
		JobId:    job.ID,
		Filename: name,
		UserId:   req.UserId,
		Plan:     processing.Plan.String(),
	}
	if _, err := in.enrichment.CheckSize(ctx, msg); err != nil {
		logger.Warn().Err(err).Msg("recording not enriched")
		s.transition(ctx, name, constant.SessionStateError)
		if errors.Is(err, ErrSizeLimit) {
			return result(http.StatusInternalServerError, constant.MessageSizeLimit)
		}
		return result(http.StatusInternalServerError, constant.MessageProcessingFail)
	}

	if err := in.dispatcher.Dispatch(ctx, msg); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch enrichment")
		if updateErr := in.repo.UpdateStatusJob(ctx, constant.JobStatusFailed, job.ID, err); updateErr != nil {
			logger.Warn().Err(updateErr).Msg("failed to update job status")
		}
	} else {
		handedOff = true
	}
	s.transition(ctx, name, constant.SessionStateDone)
	return result(http.StatusOK, constant.MessageProcessed)
}

// Close tears the session down. Fragments that never reached disk are lost.
func (s *Session) Close(ctx context.Context) {
	if dropped := s.buffer.Discard(); dropped > 0 {
		zerolog.Ctx(ctx).Warn().Int("dropped_fragments", dropped).Msg("session closed with unstaged fragments")
	}
}
