package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"caidence.ai/internal/credits"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/rbac"
	"caidence.ai/internal/token"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// respondErr maps sentinel errors onto HTTP statuses. Authorization
// failures always surface the same generic message.
func respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, identity.ErrConflict):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, identity.ErrInvalidInput), errors.Is(err, credits.ErrInvalidAmount):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rbac.ErrForbidden):
		respondError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, rbac.ErrPendingApproval):
		respondError(w, http.StatusForbidden, "account pending approval")
	case errors.Is(err, rbac.ErrInactiveUser):
		respondError(w, http.StatusForbidden, "account deactivated")
	case errors.Is(err, token.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, credits.ErrInsufficientFunds):
		respondError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
