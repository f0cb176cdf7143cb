package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
)

// AccountStore is an in-memory gateway.AccountStore.
// The mutex is only held for the duration of a single call; ApplyDelta is
// the compare-and-swap the transfer engine relies on.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	now      func() time.Time
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]*domain.Account),
		now:      time.Now,
	}
}

func (s *AccountStore) Create(ctx context.Context, id string, initialBalance int64) (*domain.Account, error) {
	if initialBalance < 0 {
		return nil, domain.Errorf(domain.KindInvalidAmount, "initial balance cannot be negative")
	}
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[id]; exists {
		return nil, domain.Errorf(domain.KindAccountExists, "account %s already exists", id)
	}
	now := s.now().UTC()
	a := &domain.Account{
		ID:             id,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.accounts[id] = a
	cp := *a
	return &cp, nil
}

// Get returns a copy so callers can't mutate the stored account.
func (s *AccountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, domain.Errorf(domain.KindAccountNotFound, "account %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *AccountStore) ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return 0, domain.Errorf(domain.KindAccountNotFound, "account %s not found", id)
	}
	if a.Version != expectedVersion {
		return 0, domain.Errorf(domain.KindConflict, "account %s at version %d, expected %d", id, a.Version, expectedVersion)
	}
	if !a.CanApply(delta) {
		return 0, domain.Errorf(domain.KindInsufficientFunds, "account %s balance %d cannot absorb %d", id, a.Balance, delta)
	}
	a.Balance += delta
	a.Version++
	a.UpdatedAt = s.now().UTC()
	return a.Balance, nil
}

func (s *AccountStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return domain.Errorf(domain.KindAccountNotFound, "account %s not found", id)
	}
	if !a.Active {
		return nil
	}
	a.Active = false
	a.Version++
	a.UpdatedAt = s.now().UTC()
	return nil
}

// List returns every account ordered by id.
func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ gateway.AccountStore = (*AccountStore)(nil)
