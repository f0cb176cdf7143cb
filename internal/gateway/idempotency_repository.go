package gateway

import (
	"context"
	"time"
)

// CachedResponse is the stored outcome of a request made with an
// Idempotency-Key. Pending marks a key whose first request has not finished.
type CachedResponse struct {
	StatusCode int                 `json:"status_code"`
	Body       []byte              `json:"body,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Pending    bool                `json:"pending,omitempty"`
}

type IdempotencyRepository interface {
	// Get returns the stored response (possibly Pending), or nil on a miss.
	Get(ctx context.Context, key string) (*CachedResponse, error)

	// Reserve atomically claims key with a Pending marker. It reports false
	// when the key is already reserved or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Save stores the final response, replacing any Pending marker.
	Save(ctx context.Context, key string, response CachedResponse, ttl time.Duration) error

	// Release drops a Pending reservation so the request can be retried.
	// A completed response is left alone.
	Release(ctx context.Context, key string) error
}
