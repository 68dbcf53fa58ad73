package config

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"time"
)

const (
	dialMaxRetries  = uint(5)
	dialMaxInterval = 10 * time.Second
)

func (r *RabbitMQ) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Pass, r.Host, r.Port)
}

// NewRabbitMQConn dials the broker with exponential backoff and closes the
// connection when ctx is done.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rabbitmq: not configured")
	}
	logger := zerolog.Ctx(ctx).With().Str("broker", cfg.Host).Int("port", cfg.Port).Logger()

	attempt := 0
	operation := func() (*amqp.Connection, error) {
		attempt++
		conn, err := amqp.Dial(cfg.URL())
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("rabbitmq dial failed, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = dialMaxInterval
	conn, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(dialMaxRetries))
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempt).Msg("giving up on rabbitmq")
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	logger.Info().Msg("connected to rabbitmq")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && err != amqp.ErrClosed {
			logger.Error().Err(err).Msg("failed to close rabbitmq connection")
			return
		}
		logger.Info().Msg("rabbitmq connection closed")
	}()

	return conn, nil
}
