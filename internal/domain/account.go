package domain

import (
	"time"
)

// Account holds a user's points balance.
// Clean Architecture: this entity knows nothing about JSON or SQL.
type Account struct {
	ID             string
	Balance        int64
	InitialBalance int64
	Version        int64 // optimistic concurrency, bumped on every write
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasSufficientFunds checks the balance before anything touches storage.
func (a *Account) HasSufficientFunds(amount int64) bool {
	return a.Balance >= amount
}

// CanApply reports whether delta keeps the balance non-negative.
func (a *Account) CanApply(delta int64) bool {
	return a.Balance+delta >= 0
}
