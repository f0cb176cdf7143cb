package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

const (
	entryColumns = `seq, sender_id, receiver_id, amount, created_at, status`

	appendEntry = `
INSERT INTO ledger_entries (sender_id, receiver_id, amount, created_at, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING seq`

	// LIMIT NULL is the same as no limit.
	listEntriesFor = `
SELECT ` + entryColumns + ` FROM ledger_entries
WHERE seq > $2 AND (sender_id = $1 OR receiver_id = $1)
ORDER BY seq
LIMIT $3`

	listEntries = `
SELECT ` + entryColumns + ` FROM ledger_entries
WHERE seq > $1
ORDER BY seq
LIMIT $2`
)

// LedgerLog implements gateway.LedgerLog; seq comes from a BIGSERIAL.
type LedgerLog struct {
	db *pgxpool.Pool
}

func NewLedgerLog(pool *pgxpool.Pool) *LedgerLog {
	return &LedgerLog{db: pool}
}

func (r *LedgerLog) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Status = domain.StatusCommitted

	var seq int64
	err := r.db.QueryRow(ctx, appendEntry,
		entry.SenderID, entry.ReceiverID, entry.Amount, entry.Timestamp, entry.Status,
	).Scan(&seq)
	if err != nil {
		return domain.LedgerEntry{}, domain.StorageErr("failed to append ledger entry", err)
	}
	entry.Seq = uint64(seq)
	return entry, nil
}

func (r *LedgerLog) ListFor(ctx context.Context, accountID string, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, listEntriesFor, accountID, int64(afterSeq), limitArg(limit))
	if err != nil {
		return nil, domain.StorageErr("failed to list ledger entries", err)
	}
	return collectEntries(rows)
}

func (r *LedgerLog) List(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, listEntries, int64(afterSeq), limitArg(limit))
	if err != nil {
		return nil, domain.StorageErr("failed to list ledger entries", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.LedgerEntry, error) {
		var (
			e         domain.LedgerEntry
			seq       int64
			createdAt pgtype.Timestamptz
		)
		if err := row.Scan(&seq, &e.SenderID, &e.ReceiverID, &e.Amount, &createdAt, &e.Status); err != nil {
			return e, err
		}
		e.Seq = uint64(seq)
		e.Timestamp = createdAt.Time.UTC()
		return e, nil
	})
	if err != nil {
		return nil, domain.StorageErr("failed to scan ledger entries", err)
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return entries, nil
}

// limitArg turns "no limit" into a SQL NULL.
func limitArg(limit int) pgtype.Int8 {
	if limit <= 0 {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: int64(limit), Valid: true}
}

var _ gateway.LedgerLog = (*LedgerLog)(nil)
