package gateway

import (
	"context"

	"github.com/decentai/points-ledger/internal/domain"
)

// LedgerLog is the append-only record of committed transfers.
type LedgerLog interface {
	// Append assigns the next sequence number (and a timestamp when the
	// entry has none) and returns the stored entry.
	Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)

	// ListFor returns entries where the account is sender or receiver with
	// Seq > afterSeq, oldest first. limit <= 0 means no limit.
	ListFor(ctx context.Context, accountID string, afterSeq uint64, limit int) ([]domain.LedgerEntry, error)

	// List returns every entry with Seq > afterSeq, oldest first.
	List(ctx context.Context, afterSeq uint64, limit int) ([]domain.LedgerEntry, error)
}
