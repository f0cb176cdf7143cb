package gateway

import (
	"context"
	"time"
)

const (
	LedgerExchange              = "ledger_events"
	RoutingKeyTransferCommitted = "transfer.committed"
)

// TransferCommitted is published after a transfer's balances are committed.
type TransferCommitted struct {
	EventID    string    `json:"event_id"`
	Seq        uint64    `json:"seq"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Amount     int64     `json:"amount"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}
