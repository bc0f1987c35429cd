package rbac

import (
	"context"
	"fmt"

	"caidence.ai/internal/identity"
)

// Canonical platform roles, highest authority first.
const (
	RoleRoot         = "root"
	RoleSuperAdmin   = "super_admin"
	RoleAgencyAdmin  = "agency_admin"
	RoleAgencyMember = "agency_member"
	RoleBrandAdmin   = "brand_admin"
	RoleBrandMember  = "brand_member"
	RoleCreator      = "creator"
	RoleViewer       = "viewer"
)

// MaxLevel is the highest seeded hierarchy level. Custom roles must
// sit strictly below it.
const MaxLevel = 110

type builtin struct {
	name        string
	displayName string
	level       int
	matrix      map[string][]string
}

func read() []string      { return []string{"read"} }
func readWrite() []string { return []string{"read", "write"} }

// builtins is the seeded catalog. root and super_admin bypass the
// engine entirely; their matrices exist only for display.
var builtins = []builtin{
	{RoleRoot, "Root", 110, fullMatrix()},
	{RoleSuperAdmin, "Super Admin", 100, fullMatrix()},
	{RoleAgencyAdmin, "Agency Admin", 80, map[string][]string{
		"campaign": readWrite(), "content": readWrite(), "analytics": read(),
		"discovery": readWrite(), "crm": readWrite(), "design_studio": readWrite(),
		"marcom": readWrite(), "workflow": readWrite(), "creators": readWrite(),
		"admin": readWrite(), "agency": readWrite(), "brand": readWrite(),
	}},
	{RoleAgencyMember, "Agency Member", 60, map[string][]string{
		"campaign": readWrite(), "content": readWrite(), "analytics": read(),
		"discovery": readWrite(), "crm": read(), "design_studio": read(),
		"marcom": read(), "workflow": readWrite(), "creators": read(),
		"agency": read(), "brand": read(),
	}},
	{RoleBrandAdmin, "Brand Admin", 50, map[string][]string{
		"campaign": readWrite(), "content": readWrite(), "analytics": read(),
		"design_studio": readWrite(), "workflow": readWrite(),
		"creators": read(), "brand": readWrite(),
	}},
	{RoleBrandMember, "Brand Member", 40, map[string][]string{
		"campaign": read(), "content": readWrite(), "analytics": read(),
		"workflow": read(), "creators": read(), "brand": read(),
	}},
	{RoleCreator, "Creator", 20, map[string][]string{
		"campaign": read(), "content": readWrite(), "workflow": read(),
	}},
	{RoleViewer, "Viewer", 10, map[string][]string{
		"campaign": read(), "content": read(), "analytics": read(),
	}},
}

func fullMatrix() map[string][]string {
	out := make(map[string][]string, len(allResources))
	for res := range allResources {
		out[string(res)] = readWrite()
	}
	return out
}

// IsPlatformBypass reports whether the role short-circuits the engine.
func IsPlatformBypass(roleName string) bool {
	return roleName == RoleRoot || roleName == RoleSuperAdmin
}

// IsAgencyLevel reports whether the role spans every brand of its
// organization.
func IsAgencyLevel(roleName string) bool {
	return IsPlatformBypass(roleName) || roleName == RoleAgencyAdmin || roleName == RoleAgencyMember
}

// IsBrandLevel reports whether the role is confined to one brand.
func IsBrandLevel(roleName string) bool {
	return roleName == RoleBrandAdmin || roleName == RoleBrandMember
}

// profileRoles constrains which roles each profile type may hold.
var profileRoles = map[string]map[string]struct{}{
	identity.ProfileAgency: {
		RoleRoot: {}, RoleSuperAdmin: {}, RoleAgencyAdmin: {}, RoleAgencyMember: {},
	},
	identity.ProfileBrand: {
		RoleBrandAdmin: {}, RoleBrandMember: {},
	},
	identity.ProfileCreator: {
		RoleCreator: {},
	},
}

// RoleAllowedForProfile enforces the profile-type constraint. Users
// without a profile type are unconstrained.
func RoleAllowedForProfile(profileType, roleName string) bool {
	if profileType == "" {
		return true
	}
	allowed, ok := profileRoles[profileType]
	if !ok {
		return true
	}
	_, ok = allowed[roleName]
	return ok
}

// DefaultRoleForProfile picks the starter role for a fresh account:
// the least privileged role the profile type may hold.
func DefaultRoleForProfile(profileType string) string {
	switch profileType {
	case identity.ProfileAgency:
		return RoleAgencyMember
	case identity.ProfileBrand:
		return RoleBrandMember
	case identity.ProfileCreator:
		return RoleCreator
	default:
		return RoleViewer
	}
}

// Seed installs the canonical catalog. It is idempotent: re-running
// updates levels and matrices in place and never deletes a role.
func Seed(ctx context.Context, roles identity.RoleStore) error {
	for _, b := range builtins {
		role := &identity.Role{
			Name:        b.name,
			DisplayName: b.displayName,
			Level:       b.level,
			Matrix:      b.matrix,
		}
		if _, err := CompileRole(role); err != nil {
			return fmt.Errorf("seed role %s: %w", b.name, err)
		}
		if err := roles.Upsert(ctx, role, nil); err != nil {
			return fmt.Errorf("seed role %s: %w", b.name, err)
		}
	}
	return nil
}
