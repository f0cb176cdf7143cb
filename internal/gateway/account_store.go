package gateway

import (
	"context"

	"github.com/decentai/points-ledger/internal/domain"
)

// AccountStore defines the persistence contract for account balances.
// The usecase only talks to this, without knowing whether it is Postgres or Mongo.
type AccountStore interface {
	Create(ctx context.Context, id string, initialBalance int64) (*domain.Account, error)
	Get(ctx context.Context, id string) (*domain.Account, error)

	// ApplyDelta is a compare-and-swap: it adds delta to the balance only if
	// the stored version still equals expectedVersion, and bumps the version.
	// Fails with domain.ErrConflict, domain.ErrInsufficientFunds or
	// domain.ErrAccountNotFound; anything else is a storage error.
	ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error)

	// Deactivate soft-deletes the account. Accounts referenced by ledger
	// entries are never removed.
	Deactivate(ctx context.Context, id string) error

	List(ctx context.Context) ([]domain.Account, error)
}
