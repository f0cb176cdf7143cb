package middleware

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/decentai/points-ledger/internal/gateway"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderIdempotencyHit = "X-Idempotency-Hit"

	DefaultIdempotencyTTL = 24 * time.Hour
)

var inProgressBody = []byte(`{"error":"Conflict","message":"a request with this Idempotency-Key is still in progress"}` + "\n")

// responseRecorder copies whatever the handler writes.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	if !r.wrote {
		r.statusCode = statusCode
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

type pendingKey struct{}

// Pending is the reservation of the current request's Idempotency-Key.
// A handler that answers before its work has finished calls Hold, and
// Complete once the real outcome is known. Methods are no-ops on nil.
type Pending struct {
	store gateway.IdempotencyRepository
	key   string
	ttl   time.Duration
	held  atomic.Bool
}

// PendingFrom returns the reservation for the request, or nil when the
// request carries no Idempotency-Key.
func PendingFrom(ctx context.Context) *Pending {
	p, _ := ctx.Value(pendingKey{}).(*Pending)
	return p
}

// Hold keeps the key reserved after the handler returns.
func (p *Pending) Hold() {
	if p != nil {
		p.held.Store(true)
	}
}

// Complete stores the final response for the key.
func (p *Pending) Complete(status int, body []byte) {
	if p == nil {
		return
	}
	err := p.store.Save(context.Background(), p.key, gateway.CachedResponse{StatusCode: status, Body: body}, p.ttl)
	if err != nil {
		log.Error().Err(err).Str("key", p.key).Msg("failed to store deferred idempotent response")
		return
	}
	log.Info().Str("key", p.key).Int("status", status).Msg("deferred idempotent response stored")
}

// Idempotency makes a repeated Idempotency-Key replay the first outcome. The
// key is reserved before the handler runs, so concurrent duplicates get 409
// instead of running twice.
func Idempotency(store gateway.IdempotencyRepository, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()

			cached, err := store.Get(ctx, key)
			if err != nil {
				// Fail open: a cache outage must not take transfers down with it.
				log.Error().Err(err).Msg("failed to read idempotency key")
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				replay(w, key, cached)
				return
			}

			reserved, err := store.Reserve(ctx, key, ttl)
			if err != nil {
				log.Error().Err(err).Msg("failed to reserve idempotency key")
				next.ServeHTTP(w, r)
				return
			}
			if !reserved {
				// Lost the race to a concurrent request with the same key.
				if cached, err := store.Get(ctx, key); err == nil && cached != nil {
					replay(w, key, cached)
					return
				}
				respondInProgress(w)
				return
			}

			pending := &Pending{store: store, key: key, ttl: ttl}
			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}

			next.ServeHTTP(recorder, r.WithContext(context.WithValue(ctx, pendingKey{}, pending)))

			if pending.held.Load() {
				return
			}
			bg := context.WithoutCancel(ctx)
			// Unanswered requests and 5xx stay retryable.
			if !recorder.wrote || recorder.statusCode >= 500 {
				if err := store.Release(bg, key); err != nil {
					log.Error().Err(err).Msg("failed to release idempotency key")
				}
				return
			}
			err = store.Save(bg, key, gateway.CachedResponse{
				StatusCode: recorder.statusCode,
				Body:       recorder.body.Bytes(),
			}, ttl)
			if err != nil {
				log.Error().Err(err).Msg("failed to save idempotency key")
			}
		})
	}
}

func replay(w http.ResponseWriter, key string, cached *gateway.CachedResponse) {
	if cached.Pending {
		respondInProgress(w)
		return
	}
	log.Info().Str("key", key).Msg("idempotency cache hit")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderIdempotencyHit, "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.Body); err != nil {
		log.Error().Err(err).Msg("failed to write cached response")
	}
}

func respondInProgress(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	if _, err := w.Write(inProgressBody); err != nil {
		log.Error().Err(err).Msg("failed to write in-progress response")
	}
}
