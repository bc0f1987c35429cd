package httpapi

import (
	"net/http"
	"strconv"

	"caidence.ai/internal/access"
	"caidence.ai/internal/audit"
	"caidence.ai/internal/rbac"
)

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// orgFilter pins non-bypass callers to their own organization; platform
// bypass may pass ?organization_id to inspect any tenant, or none for all.
func orgFilter(p rbac.Principal, r *http.Request) string {
	if p.Bypass() {
		return r.URL.Query().Get("organization_id")
	}
	return p.User.OrganizationID
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	entries, err := a.auditStore.List(r.Context(), audit.ListQuery{
		OrganizationID: orgFilter(p, r),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleListAccessLogs(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	entries, err := a.accessStore.List(r.Context(), access.ListQuery{
		OrganizationID: orgFilter(p, r),
		UserID:         r.URL.Query().Get("user_id"),
		DeniedOnly:     r.URL.Query().Get("denied_only") == "true",
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
