package usecase

import (
	"context"

	"github.com/decentai/points-ledger/internal/gateway"
)

type GetBalanceOutput struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Version   int64  `json:"version"`
	Active    bool   `json:"active"`
}

// GetBalanceUseCase reads straight from the account store; there is no cache
// to invalidate, so a read always reflects the latest committed delta.
type GetBalanceUseCase struct {
	accounts gateway.AccountStore
}

func NewGetBalance(accounts gateway.AccountStore) *GetBalanceUseCase {
	return &GetBalanceUseCase{
		accounts: accounts,
	}
}

func (u *GetBalanceUseCase) Execute(ctx context.Context, accountID string) (*GetBalanceOutput, error) {
	account, err := u.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &GetBalanceOutput{
		AccountID: account.ID,
		Balance:   account.Balance,
		Version:   account.Version,
		Active:    account.Active,
	}, nil
}
