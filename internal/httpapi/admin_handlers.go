package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"caidence.ai/internal/identity"
	"caidence.ai/internal/rbac"
)

// mustPrincipal is only called below guarded routes, where withAuth has
// already stored the principal.
func mustPrincipal(r *http.Request) rbac.Principal {
	p, _ := principalFromContext(r.Context())
	return p
}

// --- organizations ---

type createOrgRequest struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	PlanTier string `json:"plan_tier"`
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrgRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	if !p.Bypass() {
		// Tenant admins administer their own org; creating new tenants
		// is a platform operation.
		respondErr(w, rbac.ErrForbidden)
		return
	}
	org, err := a.identity.CreateOrganization(r.Context(), req.Slug, req.Name, req.PlanTier)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	orgs, err := a.identity.ListOrganizations(r.Context(), rbac.ViewerFor(p))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	org, err := a.identity.GetOrganization(r.Context(), rbac.ViewerFor(p), chi.URLParam(r, "id"))
	if err != nil {
		a.recordScopeDenial(r, rbac.ResourceAgency, err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

type updateOrgRequest struct {
	Name     *string `json:"name"`
	PlanTier *string `json:"plan_tier"`
}

func (a *API) handleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var req updateOrgRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	id := chi.URLParam(r, "id")
	if !p.Bypass() && id != p.User.OrganizationID {
		respondErr(w, identity.ErrNotFound)
		return
	}
	if !p.Bypass() && req.PlanTier != nil {
		// Plan changes are a billing operation, platform side only.
		respondErr(w, rbac.ErrForbidden)
		return
	}
	org, err := a.identity.UpdateOrganization(r.Context(), p.User, id, identity.OrganizationUpdate{
		Name:     req.Name,
		PlanTier: req.PlanTier,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (a *API) handleDeactivateOrganization(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	if !p.Bypass() {
		respondErr(w, rbac.ErrForbidden)
		return
	}
	org, err := a.identity.DeactivateOrganization(r.Context(), p.User, chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// --- brands ---

type createBrandRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
}

func (a *API) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	var req createBrandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	orgID := req.OrganizationID
	if !p.Bypass() {
		orgID = p.User.OrganizationID
	}
	brand, err := a.identity.CreateBrand(r.Context(), orgID, req.Name, req.Slug)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, brand)
}

func (a *API) handleListBrands(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	brands, err := a.identity.ListBrands(r.Context(), rbac.ViewerFor(p))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (a *API) handleGetBrand(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	brand, err := a.identity.GetBrand(r.Context(), rbac.ViewerFor(p), chi.URLParam(r, "id"))
	if err != nil {
		a.recordScopeDenial(r, rbac.ResourceBrand, err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

type updateBrandRequest struct {
	Name *string `json:"name"`
}

func (a *API) handleUpdateBrand(w http.ResponseWriter, r *http.Request) {
	var req updateBrandRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	id := chi.URLParam(r, "id")
	if _, err := a.identity.GetBrand(r.Context(), rbac.ViewerFor(p), id); err != nil {
		a.recordScopeDenial(r, rbac.ResourceBrand, err)
		respondErr(w, err)
		return
	}
	brand, err := a.identity.UpdateBrand(r.Context(), id, identity.BrandUpdate{Name: req.Name})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *API) handleDeactivateBrand(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	id := chi.URLParam(r, "id")
	if _, err := a.identity.GetBrand(r.Context(), rbac.ViewerFor(p), id); err != nil {
		a.recordScopeDenial(r, rbac.ResourceBrand, err)
		respondErr(w, err)
		return
	}
	brand, err := a.identity.DeactivateBrand(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

// --- teams ---

type createTeamRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

func (a *API) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	orgID := req.OrganizationID
	if !p.Bypass() {
		orgID = p.User.OrganizationID
	}
	team, err := a.identity.CreateTeam(r.Context(), orgID, req.Name)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (a *API) handleListTeams(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	teams, err := a.identity.ListTeams(r.Context(), rbac.ViewerFor(p))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}

func (a *API) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	team, err := a.identity.GetTeam(r.Context(), rbac.ViewerFor(p), chi.URLParam(r, "id"))
	if err != nil {
		a.recordScopeDenial(r, rbac.ResourceAgency, err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

type updateTeamRequest struct {
	Name string `json:"name"`
}

func (a *API) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req updateTeamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	team, err := a.identity.RenameTeam(r.Context(), rbac.ViewerFor(p), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		a.recordScopeDenial(r, rbac.ResourceAgency, err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// --- users ---

type inviteUserRequest struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	OrganizationID string `json:"organization_id"`
	BrandID        string `json:"brand_id"`
	TeamID         string `json:"team_id"`
	ProfileType    string `json:"profile_type"`
}

// handleInviteUser creates an approved account without a password; the
// invitee sets one out of band. Invites land on the least privileged
// role their profile type allows.
func (a *API) handleInviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	orgID := req.OrganizationID
	if !p.Bypass() {
		orgID = p.User.OrganizationID
	}
	profile := strings.TrimSpace(strings.ToLower(req.ProfileType))
	def, err := a.rbac.Catalog().Get(r.Context(), rbac.DefaultRoleForProfile(profile))
	if err != nil {
		respondErr(w, err)
		return
	}
	u := &identity.User{
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		ProfileType:    profile,
		OrganizationID: orgID,
		BrandID:        req.BrandID,
		TeamID:         req.TeamID,
		RoleID:         def.ID,
		RoleName:       def.Name,
		Active:         true,
		Approved:       true,
	}
	if _, err := a.identity.CreateUser(r.Context(), p.User, u); err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	users, err := a.identity.ListUsers(r.Context(), rbac.ViewerFor(p))
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	u, err := a.identity.GetUser(r.Context(), rbac.ViewerFor(p), chi.URLParam(r, "id"))
	if err != nil {
		a.recordScopeDenial(r, rbac.ResourceAdmin, err)
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	TeamID      *string `json:"team_id"`
	BrandID     *string `json:"brand_id"`
	Active      *bool   `json:"active"`
	Approved    *bool   `json:"approved"`
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	id := chi.URLParam(r, "id")
	if _, err := a.identity.GetUser(r.Context(), rbac.ViewerFor(p), id); err != nil {
		a.recordScopeDenial(r, rbac.ResourceAdmin, err)
		respondErr(w, err)
		return
	}
	u, err := a.identity.UpdateUser(r.Context(), p.User, id, identity.UserUpdate{
		DisplayName: req.DisplayName,
		TeamID:      req.TeamID,
		BrandID:     req.BrandID,
		Active:      req.Active,
		Approved:    req.Approved,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- role assignment ---

type assignRoleRequest struct {
	Role string `json:"role"`
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	if err := a.rbac.AssignRole(r.Context(), p, chi.URLParam(r, "id"), req.Role); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	if err := a.rbac.RevokeRole(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- roles ---

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.rbac.ListRoles(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type editRoleRequest struct {
	DisplayName string              `json:"display_name"`
	Level       int                 `json:"level"`
	Matrix      map[string][]string `json:"matrix"`
}

func (a *API) handleEditRole(w http.ResponseWriter, r *http.Request) {
	var req editRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	role := &identity.Role{
		Name:        chi.URLParam(r, "name"),
		DisplayName: req.DisplayName,
		Level:       req.Level,
		Matrix:      req.Matrix,
	}
	if err := a.rbac.EditRole(r.Context(), p, role); err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// --- permission overrides ---

func (a *API) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	// Visibility through the tenant envelope doubles as the tenancy check.
	if _, err := a.identity.GetUser(r.Context(), rbac.ViewerFor(p), userID); err != nil {
		a.recordScopeDenial(r, rbac.ResourceAdmin, err)
		respondErr(w, err)
		return
	}
	overrides, err := a.identity.Store().Overrides().ListByUser(r.Context(), userID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

type grantOverrideRequest struct {
	UserID    string `json:"user_id"`
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	ScopeType string `json:"scope_type"`
	ScopeID   string `json:"scope_id"`
	Allowed   bool   `json:"is_allowed"`
}

func (a *API) handleGrantOverride(w http.ResponseWriter, r *http.Request) {
	var req grantOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	ov := &identity.PermissionOverride{
		UserID:    req.UserID,
		Resource:  req.Resource,
		Action:    req.Action,
		ScopeType: req.ScopeType,
		ScopeID:   req.ScopeID,
		Allowed:   req.Allowed,
	}
	if err := a.rbac.GrantOverride(r.Context(), p, ov); err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ov)
}

type updateOverrideRequest struct {
	Action  string `json:"action"`
	Allowed bool   `json:"is_allowed"`
}

func (a *API) handleUpdateOverride(w http.ResponseWriter, r *http.Request) {
	var req updateOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := mustPrincipal(r)
	if err := a.rbac.UpdateOverride(r.Context(), p, chi.URLParam(r, "id"), req.Action, req.Allowed); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	p := mustPrincipal(r)
	if err := a.rbac.RevokeOverride(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
