package httpapi

import (
	"net/http"
	"strings"

	"caidence.ai/internal/identity"
	"caidence.ai/internal/rbac"
)

const minPasswordLen = 8

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DisplayName    string `json:"display_name"`
	OrganizationID string `json:"organization_id"`
	ProfileType    string `json:"profile_type"`
}

// handleRegister creates a pending account. Registrations land on the
// least privileged role their profile type allows and stay locked out
// until an admin approves them.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Password) < minPasswordLen {
		respondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := a.hashes.Hash(r.Context(), req.Password)
	if err != nil {
		respondErr(w, err)
		return
	}
	profile := strings.TrimSpace(strings.ToLower(req.ProfileType))
	def, err := a.rbac.Catalog().Get(r.Context(), rbac.DefaultRoleForProfile(profile))
	if err != nil {
		respondErr(w, err)
		return
	}
	u := &identity.User{
		Email:          req.Email,
		PasswordHash:   hash,
		DisplayName:    req.DisplayName,
		ProfileType:    profile,
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		RoleID:         def.ID,
		RoleName:       def.Name,
		Active:         true,
		Approved:       false,
	}
	if _, err := a.identity.CreateUser(r.Context(), nil, u); err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   u,
		"status": "pending_approval",
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	u, err := a.identity.Store().Users().FindByEmail(r.Context(), email)
	if err != nil {
		// Same answer for unknown email and bad password.
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := a.hashes.Compare(r.Context(), u.PasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !u.Active {
		respondErr(w, rbac.ErrInactiveUser)
		return
	}
	if !u.Approved {
		respondErr(w, rbac.ErrPendingApproval)
		return
	}
	tok, err := a.signer.Generate(u.ID, u.Email, u.RoleName, u.OrganizationID)
	if err != nil {
		respondErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": tok,
		"user":  u,
	})
}

// handleMe returns the caller's identity plus the flattened permission
// set its role and overrides grant.
func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        p.User,
		"role":        p.Role.Name,
		"role_level":  p.Role.Level,
		"permissions": rbac.Effective(p),
	})
}
