package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/decentai/points-ledger/internal/gateway"
)

const DefaultTopic = "ledger.transfers"

// Publisher writes ledger events to a single topic. The exchange and routing
// key travel as headers so consumers can filter the way a topic exchange does.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(partitionKey(routingKey, body)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "exchange", Value: []byte(exchange)},
			{Key: "routing_key", Value: []byte(routingKey)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	log.Debug().Str("topic", p.writer.Topic).Str("routing_key", routingKey).Msg("event published to Kafka")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// partitionKey keeps one sender's transfers on one partition.
func partitionKey(routingKey string, body interface{}) string {
	switch e := body.(type) {
	case gateway.TransferCommitted:
		return e.SenderID
	case *gateway.TransferCommitted:
		return e.SenderID
	}
	return routingKey
}

var _ gateway.EventPublisher = (*Publisher)(nil)
