package httpapi

import (
	"net/http"
	"time"

	"caidence.ai/internal/credits"
	"caidence.ai/internal/rbac"
)

// creditUser resolves whose account a credit call touches. Callers
// operate on their own account; platform bypass may target any via
// ?user_id.
func creditUser(p rbac.Principal, r *http.Request) string {
	if p.Bypass() {
		if uid := r.URL.Query().Get("user_id"); uid != "" {
			return uid
		}
	}
	return p.User.ID
}

func (a *API) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	b, err := a.credits.Balance(r.Context(), creditUser(p, r))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type debitRequest struct {
	Type          string `json:"type"`
	Description   string `json:"description"`
	CorrelationID string `json:"correlation_id"`
}

// handleCreditDebit charges the caller for one metered operation. The
// amount comes from the fixed cost table, never from the request.
func (a *API) handleCreditDebit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	cost, err := credits.Cost(req.Type)
	if err != nil {
		respondErr(w, err)
		return
	}
	tx, err := a.credits.Debit(r.Context(), creditUser(p, r), req.Type, cost, req.Description, req.CorrelationID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleCreditUsage(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	days := queryInt(r, "days", 30)
	if days <= 0 || days > 365 {
		respondError(w, http.StatusBadRequest, "days must be within 1..365")
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)
	stats, err := a.credits.Usage(r.Context(), creditUser(p, r), from, to)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleCreditTransactions(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	txs, err := a.credits.ListTransactions(r.Context(), credits.ListQuery{
		UserID: creditUser(p, r),
		Type:   r.URL.Query().Get("type"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}
