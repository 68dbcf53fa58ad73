package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names everything one work queue needs on the broker, including
// the dead-letter exchange that receives messages which exhausted retries.
type Topology struct {
	Exchange      string
	Kind          string
	Queue         string
	RoutingKey    string
	DLX           string
	DLQ           string
	DLQRoutingKey string
}

// EnrichmentTopology is the queue the enrichment tail is dispatched through.
func EnrichmentTopology(exchange, kind string) Topology {
	if exchange == "" {
		exchange = "recording_exchange"
	}
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	return Topology{
		Exchange:      exchange,
		Kind:          kind,
		Queue:         "recording_enrichment_queue",
		RoutingKey:    "recording.enrichment.request",
		DLX:           exchange + "_dlx",
		DLQ:           "recording_enrichment_queue_dlq",
		DLQRoutingKey: "dlq.recording.enrichment.request",
	}
}

// declarer is the part of *amqp.Channel needed to set up a Topology.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare is idempotent; publisher and consumer both call it.
func (t Topology) Declare(ch declarer) error {
	if err := ch.ExchangeDeclare(t.Exchange, t.Kind, true, false, false, false, nil); err != nil {
		return err
	}

	var args amqp.Table
	if t.DLX != "" {
		if err := ch.ExchangeDeclare(t.DLX, t.Kind, true, false, false, false, nil); err != nil {
			return err
		}
		dlq, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil)
		if err != nil {
			return err
		}
		if err := ch.QueueBind(dlq.Name, t.DLQRoutingKey, t.DLX, false, nil); err != nil {
			return err
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    t.DLX,
			"x-dead-letter-routing-key": t.DLQRoutingKey,
		}
	}

	q, err := ch.QueueDeclare(t.Queue, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, t.RoutingKey, t.Exchange, false, nil)
}
