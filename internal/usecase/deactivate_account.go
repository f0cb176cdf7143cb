package usecase

import (
	"context"

	"github.com/decentai/points-ledger/internal/gateway"
)

// DeactivateAccountUseCase soft-deletes an account. Its ledger history stays
// queryable and transfers touching it are rejected as AccountNotFound.
type DeactivateAccountUseCase struct {
	accounts gateway.AccountStore
}

func NewDeactivateAccount(accounts gateway.AccountStore) *DeactivateAccountUseCase {
	return &DeactivateAccountUseCase{accounts: accounts}
}

func (u *DeactivateAccountUseCase) Execute(ctx context.Context, accountID string) error {
	return u.accounts.Deactivate(ctx, accountID)
}
