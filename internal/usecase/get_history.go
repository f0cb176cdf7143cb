package usecase

import (
	"context"
	"iter"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

const DefaultPageSize = 100

type HistoryInput struct {
	AccountID string
	Since     uint64 // exclusive cursor: only entries with Seq > Since
	Limit     int    // <= 0 means everything after Since
}

// HistoryPage is one page of ledger entries. NextSince is the cursor to pass
// back for the following page.
type HistoryPage struct {
	Entries   []domain.LedgerEntry `json:"entries"`
	NextSince uint64               `json:"next_since"`
	HasMore   bool                 `json:"has_more"`
}

type GetHistoryUseCase struct {
	accounts gateway.AccountStore
	ledger   gateway.LedgerLog
}

func NewGetHistory(accounts gateway.AccountStore, ledger gateway.LedgerLog) *GetHistoryUseCase {
	return &GetHistoryUseCase{
		accounts: accounts,
		ledger:   ledger,
	}
}

// Execute returns entries where the account is sender or receiver, ascending by Seq.
// Deactivated accounts still have a history.
func (u *GetHistoryUseCase) Execute(ctx context.Context, input HistoryInput) (*HistoryPage, error) {
	if _, err := u.accounts.Get(ctx, input.AccountID); err != nil {
		return nil, err
	}

	entries, err := u.ledger.ListFor(ctx, input.AccountID, input.Since, input.Limit)
	if err != nil {
		return nil, domain.StorageErr("list history", err)
	}
	return newPage(entries, input.Since, input.Limit), nil
}

// All walks the account's history lazily, one page at a time, starting after
// since. Ranging again restarts from the same cursor.
func (u *GetHistoryUseCase) All(ctx context.Context, accountID string, since uint64, pageSize int) iter.Seq2[domain.LedgerEntry, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(domain.LedgerEntry, error) bool) {
		cursor := since
		for {
			page, err := u.Execute(ctx, HistoryInput{AccountID: accountID, Since: cursor, Limit: pageSize})
			if err != nil {
				yield(domain.LedgerEntry{}, err)
				return
			}
			for _, e := range page.Entries {
				if !yield(e, nil) {
					return
				}
			}
			if !page.HasMore {
				return
			}
			cursor = page.NextSince
		}
	}
}

// ListTransfersUseCase lists every committed entry, for analytics.
type ListTransfersUseCase struct {
	ledger gateway.LedgerLog
}

func NewListTransfers(ledger gateway.LedgerLog) *ListTransfersUseCase {
	return &ListTransfersUseCase{ledger: ledger}
}

func (u *ListTransfersUseCase) Execute(ctx context.Context, since uint64, limit int) (*HistoryPage, error) {
	entries, err := u.ledger.List(ctx, since, limit)
	if err != nil {
		return nil, domain.StorageErr("list transfers", err)
	}
	return newPage(entries, since, limit), nil
}

func newPage(entries []domain.LedgerEntry, since uint64, limit int) *HistoryPage {
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	next := since
	if n := len(entries); n > 0 {
		next = entries[n-1].Seq
	}
	return &HistoryPage{
		Entries:   entries,
		NextSince: next,
		HasMore:   limit > 0 && len(entries) == limit,
	}
}
