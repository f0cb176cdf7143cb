package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

const ledgerCounterID = "ledger_seq"

type entryDocument struct {
	Seq        int64     `bson:"_id"`
	SenderID   string    `bson:"sender_id"`
	ReceiverID string    `bson:"receiver_id"`
	Amount     int64     `bson:"amount"`
	Timestamp  time.Time `bson:"timestamp"`
	Status     string    `bson:"status"`
}

func (d entryDocument) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		Seq:        uint64(d.Seq),
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Amount:     d.Amount,
		Timestamp:  d.Timestamp.UTC(),
		Status:     d.Status,
	}
}

// LedgerLog implements gateway.LedgerLog. Sequence numbers come from an
// atomic $inc on a counters document rather than counting existing entries.
type LedgerLog struct {
	entries  *mongo.Collection
	counters *mongo.Collection
}

func NewLedgerLog(client *mongo.Client, dbName string) *LedgerLog {
	db := client.Database(dbName)
	return &LedgerLog{
		entries:  db.Collection("ledger_entries"),
		counters: db.Collection("counters"),
	}
}

// EnsureIndexes creates the per-account history indexes.
func (r *LedgerLog) EnsureIndexes(ctx context.Context) error {
	_, err := r.entries.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "_id", Value: 1}}},
		{Keys: bson.D{{Key: "receiver_id", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger indexes: %w", err)
	}
	return nil
}

func (r *LedgerLog) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": ledgerCounterID},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (r *LedgerLog) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	seq, err := r.nextSeq(ctx)
	if err != nil {
		return domain.LedgerEntry{}, domain.StorageErr("failed to allocate ledger sequence", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Seq = uint64(seq)
	entry.Status = domain.StatusCommitted

	doc := entryDocument{
		Seq:        seq,
		SenderID:   entry.SenderID,
		ReceiverID: entry.ReceiverID,
		Amount:     entry.Amount,
		Timestamp:  entry.Timestamp,
		Status:     entry.Status,
	}
	if _, err := r.entries.InsertOne(ctx, doc); err != nil {
		return domain.LedgerEntry{}, domain.StorageErr("failed to insert ledger entry", err)
	}
	return entry, nil
}

func (r *LedgerLog) ListFor(ctx context.Context, accountID string, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	filter := bson.M{
		"_id": bson.M{"$gt": int64(afterSeq)},
		"$or": bson.A{
			bson.M{"sender_id": accountID},
			bson.M{"receiver_id": accountID},
		},
	}
	return r.find(ctx, filter, limit)
}

func (r *LedgerLog) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	return r.find(ctx, bson.M{"_id": bson.M{"$gt": int64(afterSeq)}}, limit)
}

func (r *LedgerLog) find(ctx context.Context, filter bson.M, limit int) ([]domain.LedgerEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.entries.Find(ctx, filter, opts)
	if err != nil {
		return nil, domain.StorageErr("failed to query ledger", err)
	}
	var docs []entryDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.StorageErr("failed to decode ledger entries", err)
	}

	entries := make([]domain.LedgerEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, d.toDomain())
	}
	return entries, nil
}

var _ gateway.LedgerLog = (*LedgerLog)(nil)
