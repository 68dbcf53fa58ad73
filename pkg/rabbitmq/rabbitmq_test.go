package rabbitmq

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"strings"
	"sync"
	"testing"
)

type fakeChannel struct {
	calls     []string
	published []amqp.Publishing
	keys      []string
	fail      string
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.calls = append(f.calls, "exchange:"+name)
	if f.fail == name {
		return errors.New("declare refused")
	}
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	call := "queue:" + name
	if dlx, ok := args["x-dead-letter-exchange"]; ok {
		call += "->" + dlx.(string)
	}
	f.calls = append(f.calls, call)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.calls = append(f.calls, "bind:"+name+"@"+exchange+"/"+key)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestTopologyDeclaresDeadLetterQueue(t *testing.T) {
	topo := EnrichmentTopology("", "")
	ch := &fakeChannel{}

	if err := topo.Declare(ch); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	want := []string{
		"exchange:recording_exchange",
		"exchange:recording_exchange_dlx",
		"queue:recording_enrichment_queue_dlq",
		"bind:recording_enrichment_queue_dlq@recording_exchange_dlx/dlq.recording.enrichment.request",
		"queue:recording_enrichment_queue->recording_exchange_dlx",
		"bind:recording_enrichment_queue@recording_exchange/recording.enrichment.request",
	}
	if strings.Join(ch.calls, "\n") != strings.Join(want, "\n") {
		t.Fatalf("calls:\n%s\nwant:\n%s", strings.Join(ch.calls, "\n"), strings.Join(want, "\n"))
	}
}

func TestTopologyDeclareStopsOnError(t *testing.T) {
	topo := EnrichmentTopology("ingest", amqp.ExchangeDirect)
	ch := &fakeChannel{fail: "ingest"}

	if err := topo.Declare(ch); err == nil {
		t.Fatal("Declare succeeded")
	}
	if len(ch.calls) != 1 {
		t.Fatalf("calls after failure = %v", ch.calls)
	}
}

func TestPublisherSendsPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, EnrichmentTopology("", ""))
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}

	if err := p.Publish(context.Background(), []byte(`{"filename":"rec.webm"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published %d messages", len(ch.published))
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" || msg.MessageId == "" {
		t.Fatalf("publishing = %+v", msg)
	}
	if ch.keys[0] != "recording_exchange/recording.enrichment.request" {
		t.Fatalf("published to %s", ch.keys[0])
	}
	if err := p.Close(); err != nil || !ch.closed {
		t.Fatalf("Close: %v closed=%v", err, ch.closed)
	}
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

var errPermanent = errors.New("permanent")

func newTestConsumer(handler func(ctx context.Context, msg amqp.Delivery, deps int) error) *consumer[int] {
	c := NewConsumer[int](nil, EnrichmentTopology("", ""), 1, handler, func(err error) bool {
		return errors.Is(err, errPermanent)
	}).(*consumer[int])
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestConsumerProcess(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		err        error
		wantCalls  int
		wantAcked  int
		wantNacked int
	}{
		{name: "succeeds first time", wantCalls: 1, wantAcked: 1},
		{name: "succeeds after retries", failures: 2, err: errors.New("transient"), wantCalls: 3, wantAcked: 1},
		{name: "exhausts retries", failures: 100, err: errors.New("transient"), wantCalls: int(handlerMaxTries), wantNacked: 1},
		{name: "permanent failure", failures: 100, err: errPermanent, wantCalls: 1, wantNacked: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestConsumer(func(ctx context.Context, msg amqp.Delivery, deps int) error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			ack := &fakeAcknowledger{}

			c.process(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}, 0)

			if calls != tt.wantCalls {
				t.Fatalf("handler calls = %d, want %d", calls, tt.wantCalls)
			}
			if ack.acked != tt.wantAcked || ack.nacked != tt.wantNacked {
				t.Fatalf("acked=%d nacked=%d, want %d/%d", ack.acked, ack.nacked, tt.wantAcked, tt.wantNacked)
			}
			if ack.requeue {
				t.Fatal("failed message was requeued instead of dead-lettered")
			}
		})
	}
}
