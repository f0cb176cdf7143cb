package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

const (
	accountColumns = `id, balance, initial_balance, version, active, created_at, updated_at`

	createAccount = `
INSERT INTO accounts (id, balance, initial_balance)
VALUES ($1, $2, $2)
ON CONFLICT (id) DO NOTHING
RETURNING ` + accountColumns

	getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	// The version and funds checks live in the WHERE clause so the update is a
	// single atomic compare-and-swap.
	applyDelta = `
UPDATE accounts
SET balance = balance + $2, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $3 AND balance + $2 >= 0
RETURNING balance`

	deactivateAccount = `
UPDATE accounts
SET active = FALSE, version = version + 1, updated_at = now()
WHERE id = $1 AND active`

	listAccounts = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`
)

// AccountStore implements gateway.AccountStore with pgx/v5.
type AccountStore struct {
	db *pgxpool.Pool
}

func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{db: pool}
}

func (r *AccountStore) Create(ctx context.Context, id string, initialBalance int64) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.Errorf(domain.KindInvalidAmount, "initial balance cannot be negative")
	}
	if id == "" {
		id = uuid.NewString()
	}

	account, err := scanAccount(r.db.QueryRow(ctx, createAccount, id, initialBalance))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.KindAccountExists, "account %s already exists", id)
	}
	if err != nil {
		return nil, domain.StorageErr("failed to create account", err)
	}
	return account, nil
}

func (r *AccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	account, err := scanAccount(r.db.QueryRow(ctx, getAccount, id))
	if err != nil {
		// pgx returns pgx.ErrNoRows, not sql.ErrNoRows
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Errorf(domain.KindAccountNotFound, "account %s not found", id)
		}
		return nil, domain.StorageErr("failed to get account", err)
	}
	return account, nil
}

func (r *AccountStore) ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, applyDelta, id, delta, expectedVersion).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.StorageErr("failed to apply delta", err)
	}

	// Zero rows: work out which guard rejected the update.
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
	tag, err := r.db.Exec(ctx, deactivateAccount, id)
	if err != nil {
		return domain.StorageErr("failed to deactivate account", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already inactive.
		_, err := r.Get(ctx, id)
		return err
	}
	return nil
}

func (r *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, listAccounts)
	if err != nil {
		return nil, domain.StorageErr("failed to list accounts", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, domain.StorageErr("failed to scan account", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageErr("failed to list accounts", err)
	}
	return accounts, nil
}

// scanAccount maps a row onto the domain entity; pgtype.Timestamptz is a
// struct, so we read its .Time.
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		a                    domain.Account
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&a.ID, &a.Balance, &a.InitialBalance, &a.Version, &a.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

var _ gateway.AccountStore = (*AccountStore)(nil)
