package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"recording-ingest/dto"
	"recording-ingest/service"
)

type Enrichment interface {
	Run(ctx context.Context, msg dto.EnrichmentMessage) *service.PipelineReport
	Abandon(ctx context.Context, filename string)
}

type ServiceDependencies struct {
	Enrichment Enrichment
}

// EnrichmentHandler runs the enrichment tail for one queued recording. The
// tail cleans up the staged file whatever happens, so a failed run is never
// retried; it is dead-lettered for inspection instead.
func EnrichmentHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var enrichmentMsg dto.EnrichmentMessage
	if err := json.Unmarshal(msg.Body, &enrichmentMsg); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal enrichment message")
		return errors.Join(service.ErrNonRetryable, err)
	}
	if enrichmentMsg.JobId == uuid.Nil || enrichmentMsg.Filename == "" || enrichmentMsg.UserId == "" {
		if enrichmentMsg.Filename != "" {
			deps.Enrichment.Abandon(ctx, enrichmentMsg.Filename)
		}
		return errors.Join(service.ErrNonRetryable, fmt.Errorf("incomplete enrichment message: %s", msg.Body))
	}

	zerolog.Ctx(ctx).Info().
		Str("job_id", enrichmentMsg.JobId.String()).
		Str("filename", enrichmentMsg.Filename).
		Str("plan", enrichmentMsg.Plan).
		Msg("received enrichment message")

	report := deps.Enrichment.Run(ctx, enrichmentMsg)
	if err := report.Err(); err != nil {
		return errors.Join(service.ErrNonRetryable, err)
	}
	return nil
}

// IsPermanent tells the consumer which handler errors must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, service.ErrNonRetryable)
}
