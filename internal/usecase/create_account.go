package usecase

import (
	"context"

	"github.com/decentai/points-ledger/internal/gateway"
)

type CreateAccountInput struct {
	ID             string // optional; the store generates one when empty
	InitialBalance int64
}

type CreateAccountOutput struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
	Version int64  `json:"version"`
}

type CreateAccountUseCase struct {
	accounts gateway.AccountStore
}

func NewCreateAccount(accounts gateway.AccountStore) *CreateAccountUseCase {
	return &CreateAccountUseCase{
		accounts: accounts,
	}
}

// Execute registers an account with its starting grant. A single insert, so
// no transfer machinery is involved.
func (uc *CreateAccountUseCase) Execute(ctx context.Context, input CreateAccountInput) (*CreateAccountOutput, error) {
	account, err := uc.accounts.Create(ctx, input.ID, input.InitialBalance)
	if err != nil {
		return nil, err
	}

	return &CreateAccountOutput{
		ID:      account.ID,
		Balance: account.Balance,
		Version: account.Version,
	}, nil
}
