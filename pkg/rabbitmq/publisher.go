package rabbitmq

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

type publishChannel interface {
	declarer
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	mu       sync.Mutex
	ch       publishChannel
	topology Topology
}

// NewPublisher opens a dedicated channel on conn and declares topology on it.
func NewPublisher(conn *amqp.Connection, topology Topology) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch, topology)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return p, nil
}

func newPublisher(ch publishChannel, topology Topology) (*Publisher, error) {
	if err := topology.Declare(ch); err != nil {
		return nil, fmt.Errorf("declare %s: %w", topology.Queue, err)
	}
	return &Publisher{ch: ch, topology: topology}, nil
}

// Publish sends body as a persistent JSON message on the topology's routing key.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	p.mu.Lock()
	err := p.ch.PublishWithContext(ctx, p.topology.Exchange, p.topology.RoutingKey, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topology.Exchange, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("exchange", p.topology.Exchange).
		Str("routing_key", p.topology.RoutingKey).
		Str("message_id", msg.MessageId).
		Msg("message published")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
