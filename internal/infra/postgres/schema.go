package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	balance         BIGINT NOT NULL CHECK (balance >= 0),
	initial_balance BIGINT NOT NULL CHECK (initial_balance >= 0),
	version         BIGINT NOT NULL DEFAULT 0,
	active          BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	seq         BIGSERIAL PRIMARY KEY,
	sender_id   TEXT NOT NULL REFERENCES accounts (id),
	receiver_id TEXT NOT NULL REFERENCES accounts (id),
	amount      BIGINT NOT NULL CHECK (amount > 0),
	created_at  TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	CHECK (sender_id <> receiver_id)
);

CREATE INDEX IF NOT EXISTS ledger_entries_sender_idx ON ledger_entries (sender_id, seq);
CREATE INDEX IF NOT EXISTS ledger_entries_receiver_idx ON ledger_entries (receiver_id, seq);
`

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
