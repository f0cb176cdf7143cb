package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/decentai/points-ledger/internal/gateway"
	"github.com/decentai/points-ledger/internal/infra/http/middleware"
)

type Handlers struct {
	Transfers *TransferHandler
	Accounts  *AccountHandler
	Admin     *AdminHandler
}

type RouterOptions struct {
	// Idempotency is optional; nil serves POST /transfers without replay protection.
	Idempotency    gateway.IdempotencyRepository
	IdempotencyTTL time.Duration
	Timeout        time.Duration
	AccessLog      bool
}

func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	if opts.AccessLog {
		router.Use(chimw.Logger)
	}
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(opts.Timeout))

	// Liveness check for the container orchestrator.
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	router.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.Transfers.List)
		r.Group(func(r chi.Router) {
			if opts.Idempotency != nil {
				r.Use(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL))
			}
			r.Post("/", h.Transfers.Create)
		})
	})

	router.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.Accounts.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/balance", h.Accounts.Balance)
			r.Get("/history", h.Accounts.History)
			r.Delete("/", h.Accounts.Deactivate)
		})
	})

	router.Get("/admin/reconcile", h.Admin.Reconcile)

	return router
}
