package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/infra/memory"
)

// faultyStore wraps the memory store and lets a test intercept ApplyDelta.
type faultyStore struct {
	*memory.AccountStore
	mu   sync.Mutex
	hook func(ctx context.Context, id string, delta int64) error
}

func (s *faultyStore) setHook(h func(ctx context.Context, id string, delta int64) error) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

func (s *faultyStore) ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	h := s.hook
	s.mu.Unlock()
	if h != nil {
		if err := h(ctx, id, delta); err != nil {
			return 0, err
		}
	}
	return s.AccountStore.ApplyDelta(ctx, id, delta, expectedVersion)
}

// failingLedger accepts nothing.
type failingLedger struct {
	*memory.LedgerLog
}

func (failingLedger) Append(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	return domain.LedgerEntry{}, domain.StorageErr("append", errors.New("disk full"))
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, body)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixture struct {
	store  *faultyStore
	ledger *memory.LedgerLog
	pub    *recordingPublisher
}

func newFixture(t *testing.T, balances map[string]int64) *fixture {
	t.Helper()
	f := &fixture{
		store:  &faultyStore{AccountStore: memory.NewAccountStore()},
		ledger: memory.NewLedgerLog(),
		pub:    &recordingPublisher{},
	}
	for id, bal := range balances {
		if _, err := f.store.Create(context.Background(), id, bal); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	return f
}

func (f *fixture) engine(opts TransferOptions) *TransferMoneyUseCase {
	return NewTransferMoney(f.store, f.ledger, f.pub, opts)
}

func testOptions() TransferOptions {
	opts := DefaultTransferOptions()
	opts.RetryBackoff = 0
	return opts
}

func balance(t *testing.T, f *fixture, id string) int64 {
	t.Helper()
	a, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return a.Balance
}

func ledgerLen(t *testing.T, f *fixture) int {
	t.Helper()
	all, err := f.ledger.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return len(all)
}
