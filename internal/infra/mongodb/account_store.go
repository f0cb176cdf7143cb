package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

// accountDocument is the stored shape. We use 'bson' tags instead of 'json'.
type accountDocument struct {
	ID             string    `bson:"_id"`
	Balance        int64     `bson:"balance"`
	InitialBalance int64     `bson:"initial_balance"`
	Version        int64     `bson:"version"`
	Active         bool      `bson:"active"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

func (d accountDocument) toDomain() *domain.Account {
	return &domain.Account{
		ID:             d.ID,
		Balance:        d.Balance,
		InitialBalance: d.InitialBalance,
		Version:        d.Version,
		Active:         d.Active,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// AccountStore implements gateway.AccountStore on a MongoDB collection.
// Conditional updates on {_id, version} replace the read-modify-save the
// document model invites.
type AccountStore struct {
	collection *mongo.Collection
}

func NewAccountStore(client *mongo.Client, dbName string) *AccountStore {
	return &AccountStore{collection: client.Database(dbName).Collection("accounts")}
}

func (r *AccountStore) Create(ctx context.Context, id string, initialBalance int64) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.Errorf(domain.KindInvalidAmount, "initial balance cannot be negative")
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	doc := accountDocument{
		ID:             id,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.Errorf(domain.KindAccountExists, "account %s already exists", id)
		}
		return nil, domain.StorageErr("failed to insert account", err)
	}
	return doc.toDomain(), nil
}

func (r *AccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	var doc accountDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.Errorf(domain.KindAccountNotFound, "account %s not found", id)
	}
	if err != nil {
		return nil, domain.StorageErr("failed to find account", err)
	}
	return doc.toDomain(), nil
}

func (r *AccountStore) ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error) {
	filter := bson.M{
		"_id":     id,
		"version": expectedVersion,
		"balance": bson.M{"$gte": -delta},
	}
	update := bson.M{
		"$inc": bson.M{"balance": delta, "version": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc accountDocument
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return doc.Balance, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, domain.StorageErr("failed to apply delta", err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if current.Version != expectedVersion {
		return 0, domain.Errorf(domain.KindConflict, "account %s at version %d, expected %d", id, current.Version, expectedVersion)
	}
	return 0, domain.Errorf(domain.KindInsufficientFunds, "account %s balance %d cannot absorb %d", id, current.Balance, delta)
}

func (r *AccountStore) Deactivate(ctx context.Context, id string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "active": true},
		bson.M{
			"$set": bson.M{"active": false, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return domain.StorageErr("failed to deactivate account", err)
	}
	if res.MatchedCount == 0 {
		_, err := r.Get(ctx, id)
		return err
	}
	return nil
}

func (r *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, domain.StorageErr("failed to list accounts", err)
	}
	var docs []accountDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, domain.StorageErr("failed to decode accounts", err)
	}

	accounts := make([]domain.Account, 0, len(docs))
	for _, d := range docs {
		accounts = append(accounts, *d.toDomain())
	}
	return accounts, nil
}

var _ gateway.AccountStore = (*AccountStore)(nil)
