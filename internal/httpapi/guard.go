package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"caidence.ai/internal/access"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/obs"
	"caidence.ai/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type ctxKey string

const principalKey ctxKey = "principal"

func contextWithPrincipal(ctx context.Context, p rbac.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func principalFromContext(ctx context.Context) (rbac.Principal, bool) {
	p, ok := ctx.Value(principalKey).(rbac.Principal)
	return p, ok
}

// withAuth resolves the bearer token to a fresh principal. Overrides
// and the user row are loaded per request so revocation and
// deactivation take effect immediately.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.signer.Parse(raw)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		p, err := a.rbac.Principal(r.Context(), claims.Subject)
		if err != nil {
			// A token for a vanished user is just invalid.
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if !p.User.Active {
			respondErr(w, rbac.ErrInactiveUser)
			return
		}
		if !p.User.Approved {
			respondErr(w, rbac.ErrPendingApproval)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithPrincipal(r.Context(), p)))
	})
}

// requireAccess gates a route on one (resource, action) pair. The
// decision is evaluated against the caller's own tenant envelope, the
// outcome is counted and recorded, and denials return the generic
// message only.
func (a *API) requireAccess(res rbac.Resource, act rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			d := rbac.Decide(p, res, act, rbac.ScopeFor(p.User))
			obs.ObserveDecision(d.Allowed, d.Reason)
			a.recordAccess(r, p, res, act, d)
			if !d.Allowed {
				respondError(w, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) recordAccess(r *http.Request, p rbac.Principal, res rbac.Resource, act rbac.Action, d rbac.Decision) {
	if a.accessWriter == nil {
		return
	}
	a.accessWriter.Record(&access.Entry{
		UserID:         p.User.ID,
		OrganizationID: p.User.OrganizationID,
		Resource:       string(res),
		Action:         string(act),
		Allowed:        d.Allowed,
		Reason:         d.Reason,
		Path:           r.URL.Path,
		Method:         r.Method,
		RequestID:      middleware.GetReqID(r.Context()),
		RemoteAddr:     clientIP(r),
	})
}

// recordScopeDenial logs a tenant-filter rejection on a point read. The
// caller still receives a plain not-found; the denied entry is for
// security monitoring only.
func (a *API) recordScopeDenial(r *http.Request, res rbac.Resource, err error) {
	if a.accessWriter == nil || !errors.Is(err, identity.ErrOutOfScope) {
		return
	}
	p, ok := principalFromContext(r.Context())
	if !ok {
		return
	}
	a.accessWriter.Record(&access.Entry{
		UserID:         p.User.ID,
		OrganizationID: p.User.OrganizationID,
		Resource:       string(res),
		Action:         string(rbac.ActionRead),
		Allowed:        false,
		Reason:         "outside tenant scope",
		Path:           r.URL.Path,
		Method:         r.Method,
		RequestID:      middleware.GetReqID(r.Context()),
		RemoteAddr:     clientIP(r),
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}
