package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"recording-ingest/constant"
	"recording-ingest/dto"
	"recording-ingest/entities"
	"recording-ingest/pkg/controlplane"
	"recording-ingest/pkg/staging"
	"recording-ingest/repository"
	"time"
)

// StageOutcome is one line of a PipelineReport.
type StageOutcome struct {
	Stage    constant.Stage
	Err      error
	Duration time.Duration
}

// PipelineReport aggregates every stage the enrichment tail ran for one job.
type PipelineReport struct {
	JobId    string
	Filename string
	Stages   []StageOutcome
}

// Err joins every stage failure, or nil when all stages succeeded.
func (r *PipelineReport) Err() error {
	var errs []error
	for _, s := range r.Stages {
		if s.Err != nil {
			errs = append(errs, &StageError{Stage: s.Stage, Err: s.Err})
		}
	}
	return errors.Join(errs...)
}

func (r *PipelineReport) Ran(stage constant.Stage) bool {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return true
		}
	}
	return false
}

type EnrichmentPipeline struct {
	store        *staging.Store
	controlPlane ControlPlane
	transcriber  Transcriber
	generator    Generator
	repo         repository.JobRepository
	maxBytes     int64
	deadline     time.Duration
}

type EnrichmentOptions struct {
	MaxTranscriptionBytes int64
	Deadline              time.Duration
}

func NewEnrichmentPipeline(
	store *staging.Store,
	controlPlane ControlPlane,
	transcriber Transcriber,
	generator Generator,
	repo repository.JobRepository,
	opts EnrichmentOptions,
) *EnrichmentPipeline {
	if opts.MaxTranscriptionBytes <= 0 {
		opts.MaxTranscriptionBytes = constant.DefaultMaxTranscriptionBytes
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Minute
	}
	return &EnrichmentPipeline{
		store:        store,
		controlPlane: controlPlane,
		transcriber:  transcriber,
		generator:    generator,
		repo:         repo,
		maxBytes:     opts.MaxTranscriptionBytes,
		deadline:     opts.Deadline,
	}
}

// CheckSize is the synchronous first stage. A recording at or over the limit
// is rejected: the staged copy is removed and the control plane is not told
// the recording is complete.
func (p *EnrichmentPipeline) CheckSize(ctx context.Context, msg dto.EnrichmentMessage) (int64, error) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", msg.JobId.String()).Str("filename", msg.Filename).Logger()
	started := time.Now()

	size, err := p.store.Stat(msg.Filename)
	if err == nil && size >= p.maxBytes {
		err = fmt.Errorf("%d bytes, limit %d: %w", size, p.maxBytes, ErrSizeLimit)
	}
	p.recordStage(ctx, msg, StageOutcome{Stage: constant.StageSizeGate, Err: err, Duration: time.Since(started)})
	if err == nil {
		return size, nil
	}

	logger.Warn().Err(err).Int64("size", size).Msg("enrichment rejected at size gate")
	if errors.Is(err, ErrSizeLimit) {
		if delErr := p.store.Delete(msg.Filename); delErr != nil {
			logger.Error().Err(delErr).Msg("failed to delete oversized recording")
		}
		p.finishJob(ctx, msg, constant.JobStatusRejected, err)
	} else {
		p.finishJob(ctx, msg, constant.JobStatusFailed, err)
	}
	return size, &StageError{Stage: constant.StageSizeGate, Err: err}
}

// Abandon gives up on a recording whose tail will never run and frees its
// finalize lease so the filename can be finalized again.
func (p *EnrichmentPipeline) Abandon(ctx context.Context, filename string) {
	if err := p.store.Release(filename); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("filename", filename).Msg("failed to release recording lease")
	}
}

// Run executes the tail after the size gate. It never returns an error to the
// caller: the outcome of every stage is logged and written to the job ledger.
// The finalize lease on the recording is released when Run returns.
func (p *EnrichmentPipeline) Run(ctx context.Context, msg dto.EnrichmentMessage) *PipelineReport {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.deadline)
	defer cancel()

	logger := zerolog.Ctx(ctx).With().
		Str("job_id", msg.JobId.String()).
		Str("filename", msg.Filename).
		Str("user_id", msg.UserId).
		Logger()
	ctx = logger.WithContext(ctx)

	defer func() {
		if err := p.store.Release(msg.Filename); err != nil {
			logger.Error().Err(err).Msg("failed to release recording lease")
		}
	}()

	report := &PipelineReport{JobId: msg.JobId.String(), Filename: msg.Filename}
	logger.Info().Msg("enrichment started")

	var (
		transcript string
		generated  string
	)
	stages := []struct {
		stage constant.Stage
		run   func(ctx context.Context) error
	}{
		{constant.StageComplete, func(ctx context.Context) error {
			return p.controlPlane.MarkComplete(ctx, msg.UserId, msg.Filename)
		}},
		{constant.StageTranscribe, func(ctx context.Context) error {
			path, err := p.store.Path(msg.Filename)
			if err != nil {
				return err
			}
			transcript, err = p.transcriber.Transcribe(ctx, path)
			return err
		}},
		{constant.StageGenerate, func(ctx context.Context) error {
			ts, err := p.generator.GenerateTitleSummary(ctx, transcript)
			if err != nil {
				return err
			}
			generated = ts.Raw
			if generated == "" {
				encoded, err := json.Marshal(ts)
				if err != nil {
					return err
				}
				generated = string(encoded)
			}
			return nil
		}},
		{constant.StageDeliver, func(ctx context.Context) error {
			return p.controlPlane.SendTranscript(ctx, msg.UserId, controlplane.TranscriptNotification{
				Filename:   msg.Filename,
				Content:    generated,
				Transcript: transcript,
			})
		}},
	}

	for _, s := range stages {
		outcome := p.runStage(ctx, msg, s.stage, s.run)
		report.Stages = append(report.Stages, outcome)
		if outcome.Err != nil {
			break
		}
	}

	cleanup := p.runStage(ctx, msg, constant.StageCleanup, func(context.Context) error {
		return p.store.Delete(msg.Filename)
	})
	report.Stages = append(report.Stages, cleanup)

	if err := report.Err(); err != nil {
		logger.Error().Err(err).Msg("enrichment finished with failures")
		p.finishJob(ctx, msg, constant.JobStatusFailed, err)
		return report
	}
	logger.Info().Msg("enrichment completed")
	p.finishJob(ctx, msg, constant.JobStatusCompleted, nil)
	return report
}

func (p *EnrichmentPipeline) runStage(ctx context.Context, msg dto.EnrichmentMessage, stage constant.Stage, run func(ctx context.Context) error) StageOutcome {
	started := time.Now()
	err := run(ctx)
	outcome := StageOutcome{Stage: stage, Err: err, Duration: time.Since(started)}

	var event *zerolog.Event
	if err != nil {
		event = zerolog.Ctx(ctx).Error().Err(err)
	} else {
		event = zerolog.Ctx(ctx).Info()
	}
	event.Str("stage", string(stage)).Dur("took", outcome.Duration).Msg("enrichment stage finished")

	p.recordStage(ctx, msg, outcome)
	return outcome
}

func (p *EnrichmentPipeline) recordStage(ctx context.Context, msg dto.EnrichmentMessage, outcome StageOutcome) {
	row := &entities.StageResult{
		JobId:      msg.JobId,
		Stage:      outcome.Stage,
		Succeeded:  outcome.Err == nil,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	if outcome.Err != nil {
		text := outcome.Err.Error()
		row.Error = &text
	}
	if err := p.repo.RecordStage(ctx, row); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("stage", string(outcome.Stage)).Msg("failed to record stage result")
	}
}

func (p *EnrichmentPipeline) finishJob(ctx context.Context, msg dto.EnrichmentMessage, status constant.JobStatus, cause error) {
	if err := p.repo.UpdateStatusJob(ctx, status, msg.JobId, cause); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", msg.JobId.String()).Msg("failed to update job status")
	}
}
