package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/decentai/points-ledger/internal/usecase"
)

type AccountHandler struct {
	createUC     *usecase.CreateAccountUseCase
	balanceUC    *usecase.GetBalanceUseCase
	historyUC    *usecase.GetHistoryUseCase
	deactivateUC *usecase.DeactivateAccountUseCase
}

func NewAccountHandler(
	createUC *usecase.CreateAccountUseCase,
	balanceUC *usecase.GetBalanceUseCase,
	historyUC *usecase.GetHistoryUseCase,
	deactivateUC *usecase.DeactivateAccountUseCase,
) *AccountHandler {
	return &AccountHandler{
		createUC:     createUC,
		balanceUC:    balanceUC,
		historyUC:    historyUC,
		deactivateUC: deactivateUC,
	}
}

type CreateAccountRequest struct {
	ID             string `json:"id"`
	InitialBalance int64  `json:"initial_balance"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, kindBadRequest, "invalid payload: "+err.Error())
		return
	}

	output, err := h.createUC.Execute(r.Context(), usecase.CreateAccountInput{
		ID:             req.ID,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, output)
}

func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	output, err := h.balanceUC.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, output)
}

// History handles GET /accounts/{id}/history?since=&limit=.
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := parsePaging(w, r)
	if !ok {
		return
	}

	page, err := h.historyUC.Execute(r.Context(), usecase.HistoryInput{
		AccountID: chi.URLParam(r, "id"),
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (h *AccountHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.deactivateUC.Execute(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
