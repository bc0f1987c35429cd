package identity

import (
	"context"

	"caidence.ai/internal/audit"
)

// Store describes persistence for the identity model. Mutations that
// take an *audit.Entry must commit the entry atomically with the
// change; a nil entry skips auditing (self-service flows, seeding).
type Store interface {
	Organizations() OrganizationStore
	Brands() BrandStore
	Teams() TeamStore
	Users() UserStore
	Roles() RoleStore
	Overrides() OverrideStore
	Audit() audit.Store
}

// OrganizationUpdate mutates selected organization fields. The slug is
// immutable and deliberately absent.
type OrganizationUpdate struct {
	Name     *string
	PlanTier *string
	Active   *bool
}

type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
	List(ctx context.Context, v Viewer) ([]*Organization, error)
	Update(ctx context.Context, id string, upd OrganizationUpdate, entry *audit.Entry) (*Organization, error)
}

// BrandUpdate mutates selected brand fields. The organization
// reference is immutable.
type BrandUpdate struct {
	Name   *string
	Active *bool
}

type BrandStore interface {
	Create(ctx context.Context, brand *Brand) error
	Find(ctx context.Context, id string) (*Brand, error)
	List(ctx context.Context, v Viewer) ([]*Brand, error)
	Update(ctx context.Context, id string, upd BrandUpdate) (*Brand, error)
}

type TeamStore interface {
	Create(ctx context.Context, team *Team) error
	Find(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context, v Viewer) ([]*Team, error)
	Update(ctx context.Context, id string, name string) (*Team, error)
}

// UserUpdate mutates selected user fields.
type UserUpdate struct {
	DisplayName  *string
	PasswordHash *string
	TeamID       *string
	BrandID      *string
	Active       *bool
	Approved     *bool
}

type UserStore interface {
	Create(ctx context.Context, u *User, entry *audit.Entry) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, v Viewer) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate, entry *audit.Entry) (*User, error)
	SetRole(ctx context.Context, userID, roleID, roleName string, entry *audit.Entry) error
}

type RoleStore interface {
	// Upsert inserts the role or updates its level, display name and
	// matrix in place. Roles are never deleted.
	Upsert(ctx context.Context, role *Role, entry *audit.Entry) error
	Find(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
}

type OverrideStore interface {
	Put(ctx context.Context, ov *PermissionOverride, entry *audit.Entry) error
	Find(ctx context.Context, id string) (*PermissionOverride, error)
	ListByUser(ctx context.Context, userID string) ([]PermissionOverride, error)
	Delete(ctx context.Context, id string, entry *audit.Entry) error
}
