// Package httpapi is the HTTP boundary: routing, authentication,
// per-route permission guards and request plumbing. Handlers stay thin;
// the services own the rules.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"caidence.ai/internal/access"
	"caidence.ai/internal/audit"
	"caidence.ai/internal/config"
	"caidence.ai/internal/credits"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/obs"
	"caidence.ai/internal/rbac"
	"caidence.ai/internal/token"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// ReadyProbe reports readiness; with a database attached it pings it.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the services into the router.
type API struct {
	cfg          *config.Config
	identity     *identity.Service
	rbac         *rbac.Service
	signer       *token.Signer
	credits      credits.Service
	accessWriter *access.Writer
	accessStore  access.Store
	auditStore   audit.Store
	hashes       *HashPool
	readyProbe   ReadyProbe
	version      string
}

type Options struct {
	Config       *config.Config
	Identity     *identity.Service
	RBAC         *rbac.Service
	Signer       *token.Signer
	Credits      credits.Service
	AccessWriter *access.Writer
	AccessStore  access.Store
	AuditStore   audit.Store
	Hashes       *HashPool
	ReadyProbe   ReadyProbe
	Version      string
}

func New(opts Options) *API {
	return &API{
		cfg:          opts.Config,
		identity:     opts.Identity,
		rbac:         opts.RBAC,
		signer:       opts.Signer,
		credits:      opts.Credits,
		accessWriter: opts.AccessWriter,
		accessStore:  opts.AccessStore,
		auditStore:   opts.AuditStore,
		hashes:       opts.Hashes,
		readyProbe:   opts.ReadyProbe,
		version:      opts.Version,
	}
}

// Handler builds the full router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Logging)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(SecurityHeaders)
	r.Use(MaxBodyBytes(maxBodyBytes))
	r.Use(RateLimit(60, 30))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	// Operational endpoints, no auth.
	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Get("/v1/info", a.handleInfo)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/me", a.handleMe)

			r.Route("/organizations", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/", a.handleListOrganizations)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Post("/", a.handleCreateOrganization)
				r.With(a.requireAccess(rbac.ResourceAgency, rbac.ActionRead)).Get("/{id}", a.handleGetOrganization)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Patch("/{id}", a.handleUpdateOrganization)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Delete("/{id}", a.handleDeactivateOrganization)
			})

			r.Route("/brands", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceBrand, rbac.ActionRead)).Get("/", a.handleListBrands)
				r.With(a.requireAccess(rbac.ResourceBrand, rbac.ActionWrite)).Post("/", a.handleCreateBrand)
				r.With(a.requireAccess(rbac.ResourceBrand, rbac.ActionRead)).Get("/{id}", a.handleGetBrand)
				r.With(a.requireAccess(rbac.ResourceBrand, rbac.ActionWrite)).Patch("/{id}", a.handleUpdateBrand)
				r.With(a.requireAccess(rbac.ResourceBrand, rbac.ActionWrite)).Delete("/{id}", a.handleDeactivateBrand)
			})

			r.Route("/teams", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceAgency, rbac.ActionRead)).Get("/", a.handleListTeams)
				r.With(a.requireAccess(rbac.ResourceAgency, rbac.ActionWrite)).Post("/", a.handleCreateTeam)
				r.With(a.requireAccess(rbac.ResourceAgency, rbac.ActionRead)).Get("/{id}", a.handleGetTeam)
				r.With(a.requireAccess(rbac.ResourceAgency, rbac.ActionWrite)).Patch("/{id}", a.handleUpdateTeam)
			})

			r.Route("/users", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/", a.handleListUsers)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Post("/", a.handleInviteUser)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/{id}", a.handleGetUser)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Patch("/{id}", a.handleUpdateUser)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Post("/{id}/role", a.handleAssignRole)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Delete("/{id}/role", a.handleRevokeRole)
			})

			r.Route("/roles", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/", a.handleListRoles)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Patch("/{name}", a.handleEditRole)
			})

			r.Route("/permissions/overrides", func(r chi.Router) {
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/", a.handleListOverrides)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Post("/", a.handleGrantOverride)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Patch("/{id}", a.handleUpdateOverride)
				r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionWrite)).Delete("/{id}", a.handleRevokeOverride)
			})

			r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/audit", a.handleListAudit)
			r.With(a.requireAccess(rbac.ResourceAdmin, rbac.ActionRead)).Get("/access-logs", a.handleListAccessLogs)

			r.Route("/credits", func(r chi.Router) {
				r.Get("/balance", a.handleCreditBalance)
				r.Post("/debit", a.handleCreditDebit)
				r.Get("/usage", a.handleCreditUsage)
				r.Get("/transactions", a.handleCreditTransactions)
			})
		})
	})

	return obs.Instrument(r)
}

func (a *API) allowedOrigins() []string {
	if a.cfg != nil && len(a.cfg.AllowedOrigins) > 0 {
		return a.cfg.AllowedOrigins
	}
	return []string{"http://localhost:3000", "http://127.0.0.1:3000"}
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "caidence-authz",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "caidence-authz",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
