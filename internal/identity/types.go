package identity

import "time"

// Plan tiers an organization can be on.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Profile types constraining which roles a user may hold.
const (
	ProfileAgency  = "agency"
	ProfileBrand   = "brand"
	ProfileCreator = "creator"
)

// Organization is the tenant root. Never physically deleted, only
// deactivated. The slug is immutable after creation.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	PlanTier  string    `json:"plan_tier"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Brand belongs to exactly one organization; the org reference is
// immutable and deletion is a soft deactivation.
type Brand struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Team groups users inside one organization. Members must belong to
// the same organization as the team.
type Team struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// User is a principal. OrganizationID is empty only for platform-level
// users; RoleName is a cached copy of the role row's name.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	DisplayName    string    `json:"display_name"`
	ProfileType    string    `json:"profile_type,omitempty"`
	OrganizationID string    `json:"organization_id,omitempty"`
	BrandID        string    `json:"brand_id,omitempty"`
	TeamID         string    `json:"team_id,omitempty"`
	RoleID         string    `json:"role_id"`
	RoleName       string    `json:"role"`
	Active         bool      `json:"active"`
	Approved       bool      `json:"approved"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CanAuthenticate reports whether the account may log in at all.
func (u *User) CanAuthenticate() bool {
	return u.Active && u.Approved
}

// Role is a persisted role definition. Matrix maps resource names to
// the actions granted by default.
type Role struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	DisplayName string              `json:"display_name"`
	Level       int                 `json:"level"`
	Matrix      map[string][]string `json:"matrix"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Override action values. "none" revokes both read and write.
const (
	OverrideRead  = "read"
	OverrideWrite = "write"
	OverrideNone  = "none"
)

// Override scope types, from most to least specific.
const (
	ScopeTeam         = "team"
	ScopeBrand        = "brand"
	ScopeOrganization = "organization"
	ScopeGlobal       = "global"
)

// PermissionOverride is a per-user exception to role defaults. When
// ScopeType is not global, ScopeID names the entity the override is
// bound to.
type PermissionOverride struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id,omitempty"`
	Allowed   bool      `json:"is_allowed"`
	CreatedAt time.Time `json:"created_at"`
}
