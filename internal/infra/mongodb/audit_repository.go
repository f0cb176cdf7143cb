package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/decentai/points-ledger/internal/gateway"
)

// AuditLog is one consumed TransferCommitted event.
// The event id is the document id, so redelivered messages overwrite
// instead of duplicating.
type AuditLog struct {
	ID          string    `bson:"_id"`
	Seq         uint64    `bson:"seq"`
	SenderID    string    `bson:"sender_id"`
	ReceiverID  string    `bson:"receiver_id"`
	Amount      int64     `bson:"amount"`
	Status      string    `bson:"status"`
	OccurredAt  time.Time `bson:"occurred_at"`
	ProcessedAt time.Time `bson:"processed_at"`
}

func AuditLogFromEvent(e gateway.TransferCommitted) AuditLog {
	return AuditLog{
		ID:         e.EventID,
		Seq:        e.Seq,
		SenderID:   e.SenderID,
		ReceiverID: e.ReceiverID,
		Amount:     e.Amount,
		Status:     e.Status,
		OccurredAt: e.OccurredAt,
	}
}

type AuditRepository struct {
	collection *mongo.Collection
}

func NewAuditRepository(client *mongo.Client, dbName string) *AuditRepository {
	collection := client.Database(dbName).Collection("audit_logs")
	return &AuditRepository{collection: collection}
}

func (r *AuditRepository) Save(ctx context.Context, log AuditLog) error {
	log.ProcessedAt = time.Now().UTC()

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": log.ID}, log, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert audit log: %w", err)
	}
	return nil
}

// Record satisfies the worker's event sink.
func (r *AuditRepository) Record(ctx context.Context, e gateway.TransferCommitted) error {
	return r.Save(ctx, AuditLogFromEvent(e))
}
