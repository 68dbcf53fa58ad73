package rabbitmq

import (
	"context"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

const (
	handlerMaxTries    = uint(5)
	handlerMaxInterval = 10 * time.Second
)

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	topology   Topology
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	permanent  func(err error) bool
	numWorkers int
	newBackOff func() backoff.BackOff
	maxTries   uint
}

func (c *consumer[T]) Consume(ctx context.Context, dependencies T) error {
	logger := zerolog.Ctx(ctx).With().Str("queue", c.topology.Queue).Logger()

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.topology.Declare(ch); err != nil {
		logger.Error().Err(err).Str("exchange", c.topology.Exchange).Msg("failed to declare topology")
		return err
	}

	if err := ch.Qos(c.numWorkers, 0, false); err != nil {
		logger.Error().Err(err).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to consume queue")
		return err
	}

	logger.Info().
		Str("exchange", c.topology.Exchange).
		Str("routing_key", c.topology.RoutingKey).
		Int("workers", c.numWorkers).
		Msg("consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			workerCtx := logger.With().Int("worker_id", workerId).Logger().WithContext(ctx)
			for msg := range jobs {
				c.process(workerCtx, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// process retries the handler with backoff. A message that still fails, or
// fails permanently, is nacked without requeue so it lands in the DLQ.
func (c *consumer[T]) process(ctx context.Context, msg amqp.Delivery, dependencies T) {
	logger := zerolog.Ctx(ctx)

	operation := func() (struct{}, error) {
		err := c.handler(ctx, msg, dependencies)
		if err != nil && c.permanent != nil && c.permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))
	if err != nil {
		logger.Error().Err(err).Str("message_id", msg.MessageId).Msg("failed to handle message")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			logger.Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		logger.Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = handlerMaxInterval
	return bo
}

// NewConsumer builds a worker pool over topology. permanent reports errors
// that must not be retried; it may be nil.
func NewConsumer[T any](
	conn *amqp.Connection,
	topology Topology,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
	permanent func(err error) bool,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		topology:   topology,
		handler:    handler,
		permanent:  permanent,
		numWorkers: numWorkers,
		newBackOff: defaultBackOff,
		maxTries:   handlerMaxTries,
	}
}
