package memory

import (
	"context"
	"sync"
	"time"

	"github.com/decentai/points-ledger/internal/gateway"
)

type idempotencyEntry struct {
	resp      gateway.CachedResponse
	expiresAt time.Time
}

// IdempotencyRepository is the single-process stand-in for the Redis cache.
// Expired keys are dropped lazily on access.
type IdempotencyRepository struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	now     func() time.Time
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
}

// live returns the unexpired entry for key. Callers hold mu.
func (r *IdempotencyRepository) live(key string) (idempotencyEntry, bool) {
	e, ok := r.entries[key]
	if ok && !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		delete(r.entries, key)
		return idempotencyEntry{}, false
	}
	return e, ok
}

func (r *IdempotencyRepository) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return r.now().Add(ttl)
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*gateway.CachedResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(key)
	if !ok {
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live(key); ok {
		return false, nil
	}
	r.entries[key] = idempotencyEntry{
		resp:      gateway.CachedResponse{Pending: true},
		expiresAt: r.expiry(ttl),
	}
	return true, nil
}

func (r *IdempotencyRepository) Save(ctx context.Context, key string, response gateway.CachedResponse, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	response.Pending = false
	r.entries[key] = idempotencyEntry{resp: response, expiresAt: r.expiry(ttl)}
	return nil
}

func (r *IdempotencyRepository) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.live(key); ok && e.resp.Pending {
		delete(r.entries, key)
	}
	return nil
}

var _ gateway.IdempotencyRepository = (*IdempotencyRepository)(nil)
