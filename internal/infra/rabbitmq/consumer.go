package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/decentai/points-ledger/internal/gateway"
)

const (
	AuditQueue       = "ledger_audit_queue"
	auditBindingKey  = "transfer.#"
	auditConsumerTag = "audit_worker"
)

// EventSink persists consumed transfer events.
type EventSink interface {
	Record(ctx context.Context, event gateway.TransferCommitted) error
}

// SetupAuditQueue declares the exchange, the durable queue and the binding.
// Prefetch 1 makes the broker wait for each Ack before sending more.
func SetupAuditQueue(ch *amqp.Channel, queue string) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := DeclareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, auditBindingKey, gateway.LedgerExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

type Consumer struct {
	channel     *amqp.Channel
	queue       string
	sink        EventSink
	saveTimeout time.Duration
}

func NewConsumer(ch *amqp.Channel, queue string, sink EventSink) *Consumer {
	return &Consumer{
		channel:     ch,
		queue:       queue,
		sink:        sink,
		saveTimeout: 5 * time.Second,
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.queue,          // queue
		auditConsumerTag, // consumer tag
		false,            // auto-ack off: we Ack after the save
		false,            // exclusive
		false,            // no-local
		false,            // no-wait
		nil,              // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	notifyClose := c.channel.NotifyClose(make(chan *amqp.Error, 1))
	log.Info().Str("queue", c.queue).Msg("audit worker waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-notifyClose:
			if amqpErr != nil {
				return fmt.Errorf("rabbitmq channel closed: %w", amqpErr)
			}
			return errors.New("rabbitmq channel closed")
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle stores one delivery. Malformed bodies are dropped, save failures
// are requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var event gateway.TransferCommitted
	if err := json.Unmarshal(d.Body, &event); err != nil || event.EventID == "" {
		log.Error().Err(err).Bytes("body", d.Body).Msg("dropping malformed transfer event")
		if err := d.Nack(false, false); err != nil {
			log.Error().Err(err).Msg("failed to nack malformed message")
		}
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, c.saveTimeout)
	defer cancel()
	if err := c.sink.Record(saveCtx, event); err != nil {
		log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to store audit log, requeueing")
		if err := d.Nack(false, true); err != nil {
			log.Error().Err(err).Msg("failed to nack message")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("failed to ack message")
		return
	}
	log.Debug().Str("event_id", event.EventID).Uint64("seq", event.Seq).Msg("audit log stored")
}
