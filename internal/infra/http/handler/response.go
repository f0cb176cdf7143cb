package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/decentai/points-ledger/internal/domain"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const kindBadRequest = "BadRequest"

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, kind, message string) {
	respondJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

// statusFor maps a domain kind to its HTTP status.
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidAmount:
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindAccountNotFound:
		return http.StatusNotFound
	case domain.KindAccountExists, domain.KindConflict, domain.KindTransferAborted:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorBody maps err to its status and body. Internal failures keep their
// details out of the body.
func errorBody(err error) (int, ErrorResponse) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		if kind == "" {
			kind = domain.KindStorage
		}
		return status, ErrorResponse{Error: string(kind), Message: "internal server error"}
	}

	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) && de.Reason != "" {
		message = de.Reason
	}
	return status, ErrorResponse{Error: string(kind), Message: message}
}

// respondDomainError writes err using its kind. A context error writes
// nothing: the client is gone, or chi's Timeout middleware answers 504.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("request ended before a result was ready")
		return
	}

	status, body := errorBody(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error while handling request")
	}
	respondJSON(w, status, body)
}

// encodeJSON renders payload exactly as respondJSON would send it.
func encodeJSON(payload interface{}) []byte {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
	return buf.Bytes()
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
