package service

import (
	"context"
	"encoding/json"
	"fmt"
	"recording-ingest/dto"
	"sync"
)

// InlineDispatcher runs the enrichment tail on its own goroutine in this process.
type InlineDispatcher struct {
	pipeline *EnrichmentPipeline
	wg       sync.WaitGroup
}

func NewInlineDispatcher(pipeline *EnrichmentPipeline) *InlineDispatcher {
	return &InlineDispatcher{pipeline: pipeline}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, msg dto.EnrichmentMessage) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pipeline.Run(ctx, msg)
	}()
	return nil
}

// Wait blocks until every dispatched tail has finished.
func (d *InlineDispatcher) Wait() {
	d.wg.Wait()
}

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// QueueDispatcher publishes enrichment jobs to the broker. The consumer side
// runs in the same process because the tail reads the staged file.
type QueueDispatcher struct {
	publisher Publisher
}

func NewQueueDispatcher(publisher Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, msg dto.EnrichmentMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode enrichment message: %w", err)
	}
	return d.publisher.Publish(ctx, body)
}
