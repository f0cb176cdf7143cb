package handler

import (
	"net/http"

	"github.com/decentai/points-ledger/internal/usecase"
)

type AdminHandler struct {
	reconcileUC *usecase.ReconcileUseCase
}

func NewAdminHandler(reconcileUC *usecase.ReconcileUseCase) *AdminHandler {
	return &AdminHandler{reconcileUC: reconcileUC}
}

// Reconcile replays the ledger and reports accounts whose balance drifted.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconcileUC.Execute(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
