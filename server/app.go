package server

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"recording-ingest/config"
	"recording-ingest/constant"
	jobHandler "recording-ingest/handler"
	"recording-ingest/pkg/ai"
	"recording-ingest/pkg/controlplane"
	"recording-ingest/pkg/rabbitmq"
	"recording-ingest/pkg/staging"
	"recording-ingest/pkg/storage"
	"recording-ingest/repository"
	"recording-ingest/service"
)

type app struct {
	deps    Dependencies
	closers []func(ctx context.Context)
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := zerolog.Ctx(ctx)
	a := &app{}

	store, err := staging.NewStore(cfg.Staging.Dir)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("dir", store.Root()).Msg("staging area ready")

	// A nil *minio.Client must not end up inside the interface.
	var objects storage.ObjectAPI
	if cfg.Storage != nil {
		objects = cfg.Storage
	} else {
		logger.Warn().Msg("minio is not configured, uploads will fail")
	}
	uploader := storage.NewUploader(objects, cfg.MinIOBucket)

	controlPlane := controlplane.NewClient(cfg.ControlPlane.URL, controlplane.WithTimeout(cfg.ControlPlane.Timeout))

	aiClient := ai.NewClient(ai.Config{
		APIKey:             cfg.OpenAI.APIKey,
		BaseURL:            cfg.OpenAI.BaseURL,
		TranscriptionModel: cfg.OpenAI.TranscriptionModel,
		ChatModel:          cfg.OpenAI.ChatModel,
		Timeout:            cfg.OpenAI.Timeout,
	})

	repo, err := newRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.DB != nil {
		a.closers = append(a.closers, func(ctx context.Context) {
			if err := cfg.DB.Close(); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close database")
			}
		})
	}

	pipeline := service.NewEnrichmentPipeline(store, controlPlane, aiClient, aiClient, repo, service.EnrichmentOptions{
		MaxTranscriptionBytes: cfg.Enrichment.MaxTranscriptionBytes,
		Deadline:              cfg.Enrichment.Deadline,
	})

	dispatcher := a.newDispatcher(ctx, cfg, pipeline)

	a.deps = Dependencies{
		Ingestor: service.NewIngestor(store, uploader, controlPlane, pipeline, dispatcher, repo, service.IngestOptions{
			RejectExisting: cfg.Ingest.RejectExisting,
		}),
		Upload:          service.NewUploadService(uploader, controlPlane),
		AllowedOrigin:   cfg.Server.AllowedOrigin,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	}
	return a, nil
}

func newRepository(ctx context.Context, cfg *config.Config) (repository.JobRepository, error) {
	if cfg.DB == nil {
		zerolog.Ctx(ctx).Info().Msg("no database configured, keeping the job ledger in memory")
		return repository.NewMemoryRepo(), nil
	}
	repo, err := repository.NewRepo(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate job ledger: %w", err)
	}
	return repo, nil
}

// newDispatcher prefers the broker when asked for it and falls back to
// running the tail in-process when the broker cannot be reached.
func (a *app) newDispatcher(ctx context.Context, cfg *config.Config, pipeline *service.EnrichmentPipeline) service.Dispatcher {
	logger := zerolog.Ctx(ctx)

	if cfg.Enrichment.Dispatch == constant.DispatchQueue {
		dispatcher, err := a.newQueueDispatcher(ctx, cfg, pipeline)
		if err == nil {
			return dispatcher
		}
		logger.Error().Err(err).Msg("queue dispatch unavailable, running enrichment inline")
	}

	inline := service.NewInlineDispatcher(pipeline)
	a.closers = append(a.closers, func(ctx context.Context) {
		done := make(chan struct{})
		go func() {
			inline.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			zerolog.Ctx(ctx).Warn().Msg("enrichment still running at shutdown")
		}
	})
	return inline
}

func (a *app) newQueueDispatcher(ctx context.Context, cfg *config.Config, pipeline *service.EnrichmentPipeline) (service.Dispatcher, error) {
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}

	topology := rabbitmq.EnrichmentTopology(cfg.Queue.ExchangeName, cfg.Queue.Kind)
	publisher, err := rabbitmq.NewPublisher(conn, topology)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	consumer := rabbitmq.NewConsumer(conn, topology, cfg.Server.Workers, jobHandler.EnrichmentHandler, jobHandler.IsPermanent)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		err := consumer.Consume(ctx, jobHandler.ServiceDependencies{Enrichment: pipeline})
		if err != nil && ctx.Err() == nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("enrichment consumer error")
		}
	}()

	a.closers = append(a.closers, func(ctx context.Context) {
		if err := publisher.Close(); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("publisher channel already closed")
		}
		select {
		case <-consumed:
		case <-ctx.Done():
			zerolog.Ctx(ctx).Warn().Msg("enrichment consumer still running at shutdown")
		}
	})
	return service.NewQueueDispatcher(publisher), nil
}
