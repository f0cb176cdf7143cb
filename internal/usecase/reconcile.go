package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

const reconcilePageSize = 500

// Anomaly is an account whose balance disagrees with its ledger history.
type Anomaly struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Expected  int64  `json:"expected"`
	Reason    string `json:"reason"`
}

type ReconcileReport struct {
	Accounts     int       `json:"accounts"`
	Entries      int       `json:"entries"`
	TotalBalance int64     `json:"total_balance"`
	TotalInitial int64     `json:"total_initial"`
	Conserved    bool      `json:"conserved"`
	Anomalies    []Anomaly `json:"anomalies"`
	LastSeenSeq  uint64    `json:"last_seen_seq"`
}

// ReconcileUseCase replays the ledger against current balances. It surfaces
// transfers whose ledger append failed after the balances committed, and any
// compensation that never completed.
type ReconcileUseCase struct {
	accounts gateway.AccountStore
	ledger   gateway.LedgerLog
	logger   zerolog.Logger
}

func NewReconcile(accounts gateway.AccountStore, ledger gateway.LedgerLog, logger zerolog.Logger) *ReconcileUseCase {
	return &ReconcileUseCase{
		accounts: accounts,
		ledger:   ledger,
		logger:   logger,
	}
}

// Execute is only exact while no transfer is in flight.
func (u *ReconcileUseCase) Execute(ctx context.Context) (*ReconcileReport, error) {
	accounts, err := u.accounts.List(ctx)
	if err != nil {
		return nil, domain.StorageErr("list accounts", err)
	}

	net := make(map[string]int64, len(accounts))
	report := &ReconcileReport{Anomalies: []Anomaly{}}

	var cursor uint64
	for {
		page, err := u.ledger.List(ctx, cursor, reconcilePageSize)
		if err != nil {
			return nil, domain.StorageErr("list ledger", err)
		}
		for _, e := range page {
			net[e.SenderID] -= e.Amount
			net[e.ReceiverID] += e.Amount
			cursor = e.Seq
		}
		report.Entries += len(page)
		if len(page) < reconcilePageSize {
			break
		}
	}
	report.LastSeenSeq = cursor

	known := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		known[a.ID] = struct{}{}
		report.Accounts++
		report.TotalBalance += a.Balance
		report.TotalInitial += a.InitialBalance

		expected := a.InitialBalance + net[a.ID]
		if expected != a.Balance {
			report.Anomalies = append(report.Anomalies, Anomaly{
				AccountID: a.ID,
				Balance:   a.Balance,
				Expected:  expected,
				Reason:    fmt.Sprintf("balance differs from ledger replay by %d", a.Balance-expected),
			})
		}
		if a.Balance < 0 {
			report.Anomalies = append(report.Anomalies, Anomaly{
				AccountID: a.ID,
				Balance:   a.Balance,
				Expected:  expected,
				Reason:    "negative balance",
			})
		}
	}
	for id := range net {
		if _, ok := known[id]; !ok {
			report.Anomalies = append(report.Anomalies, Anomaly{
				AccountID: id,
				Expected:  net[id],
				Reason:    "ledger references unknown account",
			})
		}
	}
	report.Conserved = report.TotalBalance == report.TotalInitial

	if len(report.Anomalies) > 0 || !report.Conserved {
		u.logger.Warn().
			Int("anomalies", len(report.Anomalies)).
			Bool("conserved", report.Conserved).
			Msg("ledger reconciliation found inconsistencies")
	}
	return report, nil
}
