package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/infra/http/middleware"
	"github.com/decentai/points-ledger/internal/usecase"
)

const maxPageSize = 1000

// TransferHandler exposes transfers over HTTP.
type TransferHandler struct {
	transferUseCase *usecase.TransferMoneyUseCase
	listUseCase     *usecase.ListTransfersUseCase
}

func NewTransferHandler(uc *usecase.TransferMoneyUseCase, list *usecase.ListTransfersUseCase) *TransferHandler {
	return &TransferHandler{
		transferUseCase: uc,
		listUseCase:     list,
	}
}

type CreateTransferRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Amount     int64  `json:"amount"` // points
}

// Create handles POST /transfers and answers 201 with the ledger entry.
//
// If the request times out after the transfer started, the Idempotency-Key
// (when present) stays reserved and receives the real outcome later, so a
// retry with the same key replays it instead of moving points again.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "amount" {
			respondError(w, http.StatusBadRequest, string(domain.KindInvalidAmount), "amount must be a positive integer")
			return
		}
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid payload: "+err.Error())
		return
	}

	var notify usecase.TransferNotify
	pending := middleware.PendingFrom(r.Context())
	if pending != nil {
		notify = func(entry *domain.LedgerEntry, err error) {
			status, payload := transferOutcome(entry, err)
			pending.Complete(status, encodeJSON(payload))
		}
	}

	entry, err := h.transferUseCase.ExecuteNotify(r.Context(), usecase.TransferMoneyInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
	}, notify)
	if errors.Is(err, usecase.ErrDetached) {
		pending.Hold()
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, entry)
}

// transferOutcome is the response a finished transfer would have produced.
func transferOutcome(entry *domain.LedgerEntry, err error) (int, interface{}) {
	if err != nil {
		status, body := errorBody(err)
		return status, body
	}
	return http.StatusCreated, entry
}

// List handles GET /transfers?since=&limit=, the whole ledger in sequence order.
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := parsePaging(w, r)
	if !ok {
		return
	}

	page, err := h.listUseCase.Execute(r.Context(), since, limit)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// parsePaging reads the since cursor and page size. It writes the 400 itself
// and reports false when either is malformed.
func parsePaging(w http.ResponseWriter, r *http.Request) (uint64, int, bool) {
	q := r.URL.Query()

	var since uint64
	if raw := q.Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, kindBadRequest, "since must be a non-negative integer")
			return 0, 0, false
		}
		since = v
	}

	limit := usecase.DefaultPageSize
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondError(w, http.StatusBadRequest, kindBadRequest, "limit must be a positive integer")
			return 0, 0, false
		}
		limit = min(v, maxPageSize)
	}
	return since, limit, true
}
