package rbac

import (
	"context"
	"fmt"
	"strings"

	"caidence.ai/internal/audit"
	"caidence.ai/internal/identity"
)

// Service provides principal resolution and the audited administrative
// operations on roles and overrides.
type Service struct {
	store   identity.Store
	catalog *Catalog
}

func NewService(store identity.Store, catalog *Catalog) *Service {
	return &Service{store: store, catalog: catalog}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// Principal loads the user together with its compiled role definition
// and override list — everything a decision needs, in one traversal.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	def, err := s.catalog.Get(ctx, user.RoleName)
	if err != nil {
		return Principal{}, fmt.Errorf("resolve role %s: %w", user.RoleName, err)
	}
	overrides, err := s.store.Overrides().ListByUser(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Role: def, Overrides: overrides}, nil
}

// AssignRole moves the target user onto the named role, enforcing the
// hierarchy rule, the profile-type constraint, and the organization
// requirement for non-platform roles. The audit entry commits with the
// change.
func (s *Service) AssignRole(ctx context.Context, actor Principal, targetUserID, roleName string) error {
	roleName = strings.TrimSpace(strings.ToLower(roleName))
	target, err := s.store.Users().Find(ctx, targetUserID)
	if err != nil {
		return err
	}
	def, err := s.catalog.Get(ctx, roleName)
	if err != nil {
		return err
	}
	if err := CanAssign(actor, def, target); err != nil {
		return err
	}
	if !RoleAllowedForProfile(target.ProfileType, roleName) {
		return fmt.Errorf("%w: role %s not allowed for profile %s", identity.ErrInvalidInput, roleName, target.ProfileType)
	}
	if !IsPlatformBypass(roleName) && target.OrganizationID == "" {
		return fmt.Errorf("%w: organization is required for role %s", identity.ErrInvalidInput, roleName)
	}
	entry := audit.NewEntry(actor.User.ID, actor.User.Email, audit.ActionRoleAssigned).
		WithActorOrg(actor.User.OrganizationID).
		WithTarget(target.ID, target.Email).
		WithDetail("role_before", target.RoleName).
		WithDetail("role_after", roleName)
	return s.store.Users().SetRole(ctx, target.ID, def.ID, roleName, entry)
}

// RevokeRole drops the target back to viewer.
func (s *Service) RevokeRole(ctx context.Context, actor Principal, targetUserID string) error {
	target, err := s.store.Users().Find(ctx, targetUserID)
	if err != nil {
		return err
	}
	current, err := s.catalog.Get(ctx, target.RoleName)
	if err != nil {
		return err
	}
	if err := CanAssign(actor, current, target); err != nil {
		return err
	}
	viewer, err := s.catalog.Get(ctx, RoleViewer)
	if err != nil {
		return err
	}
	entry := audit.NewEntry(actor.User.ID, actor.User.Email, audit.ActionRoleRevoked).
		WithActorOrg(actor.User.OrganizationID).
		WithTarget(target.ID, target.Email).
		WithDetail("role_before", target.RoleName)
	return s.store.Users().SetRole(ctx, target.ID, viewer.ID, RoleViewer, entry)
}

// GrantOverride creates a per-user exception. The granting user must
// control the scope the override is bound to.
func (s *Service) GrantOverride(ctx context.Context, actor Principal, ov *identity.PermissionOverride) error {
	if err := s.validateOverride(ctx, actor, ov); err != nil {
		return err
	}
	entry := s.overrideEntry(actor, audit.ActionOverrideGranted, ov)
	return s.store.Overrides().Put(ctx, ov, entry)
}

// UpdateOverride edits an existing override in place.
func (s *Service) UpdateOverride(ctx context.Context, actor Principal, id string, action string, allowed bool) error {
	ov, err := s.store.Overrides().Find(ctx, id)
	if err != nil {
		return err
	}
	before := ov.Action
	ov.Action = action
	ov.Allowed = allowed
	if err := s.validateOverride(ctx, actor, ov); err != nil {
		return err
	}
	entry := s.overrideEntry(actor, audit.ActionOverrideUpdated, ov).
		WithDetail("action_before", before)
	return s.store.Overrides().Put(ctx, ov, entry)
}

// RevokeOverride deletes the override.
func (s *Service) RevokeOverride(ctx context.Context, actor Principal, id string) error {
	ov, err := s.store.Overrides().Find(ctx, id)
	if err != nil {
		return err
	}
	entry := s.overrideEntry(actor, audit.ActionOverrideRevoked, ov)
	return s.store.Overrides().Delete(ctx, id, entry)
}

func (s *Service) overrideEntry(actor Principal, action string, ov *identity.PermissionOverride) *audit.Entry {
	return audit.NewEntry(actor.User.ID, actor.User.Email, action).
		WithActorOrg(actor.User.OrganizationID).
		WithTarget(ov.UserID, "").
		WithDetail("resource", ov.Resource).
		WithDetail("action", ov.Action).
		WithDetail("scope_type", ov.ScopeType).
		WithDetail("scope_id", ov.ScopeID).
		WithDetail("is_allowed", ov.Allowed)
}

func (s *Service) validateOverride(ctx context.Context, actor Principal, ov *identity.PermissionOverride) error {
	if !ValidResource(ov.Resource) {
		return fmt.Errorf("%w: unknown resource %q", identity.ErrInvalidInput, ov.Resource)
	}
	switch ov.Action {
	case identity.OverrideRead, identity.OverrideWrite, identity.OverrideNone:
	default:
		return fmt.Errorf("%w: unknown override action %q", identity.ErrInvalidInput, ov.Action)
	}
	target, err := s.store.Users().Find(ctx, ov.UserID)
	if err != nil {
		return err
	}
	if !actor.Bypass() && actor.User.OrganizationID != target.OrganizationID {
		return fmt.Errorf("%w: target belongs to another organization", ErrForbidden)
	}

	switch ov.ScopeType {
	case identity.ScopeGlobal:
		ov.ScopeID = ""
		if !actor.Bypass() {
			return fmt.Errorf("%w: global overrides require platform bypass", ErrForbidden)
		}
	case identity.ScopeOrganization:
		if ov.ScopeID == "" {
			return fmt.Errorf("%w: scope_id is required for scope %s", identity.ErrInvalidInput, ov.ScopeType)
		}
		if _, err := s.store.Organizations().Find(ctx, ov.ScopeID); err != nil {
			return err
		}
		if !actor.Bypass() && ov.ScopeID != actor.User.OrganizationID {
			return fmt.Errorf("%w: scope outside your organization", ErrForbidden)
		}
	case identity.ScopeBrand:
		if ov.ScopeID == "" {
			return fmt.Errorf("%w: scope_id is required for scope %s", identity.ErrInvalidInput, ov.ScopeType)
		}
		brand, err := s.store.Brands().Find(ctx, ov.ScopeID)
		if err != nil {
			return err
		}
		if !actor.Bypass() && brand.OrganizationID != actor.User.OrganizationID {
			return fmt.Errorf("%w: scope outside your organization", ErrForbidden)
		}
	case identity.ScopeTeam:
		if ov.ScopeID == "" {
			return fmt.Errorf("%w: scope_id is required for scope %s", identity.ErrInvalidInput, ov.ScopeType)
		}
		team, err := s.store.Teams().Find(ctx, ov.ScopeID)
		if err != nil {
			return err
		}
		if !actor.Bypass() && team.OrganizationID != actor.User.OrganizationID {
			return fmt.Errorf("%w: scope outside your organization", ErrForbidden)
		}
	default:
		return fmt.Errorf("%w: unknown scope type %q", identity.ErrInvalidInput, ov.ScopeType)
	}
	return nil
}

// EditRole updates a role definition (custom or seeded matrix tweak).
// Only platform-bypass principals may edit definitions; the cache is
// invalidated so the change is visible to the next request.
func (s *Service) EditRole(ctx context.Context, actor Principal, role *identity.Role) error {
	if !actor.Bypass() {
		return fmt.Errorf("%w: editing role definitions requires platform bypass", ErrForbidden)
	}
	role.Name = strings.TrimSpace(strings.ToLower(role.Name))
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", identity.ErrInvalidInput)
	}
	if !isBuiltinName(role.Name) && role.Level >= MaxLevel {
		return fmt.Errorf("%w: custom role level must be below %d", identity.ErrInvalidInput, MaxLevel)
	}
	if _, err := CompileRole(role); err != nil {
		return err
	}
	entry := audit.NewEntry(actor.User.ID, actor.User.Email, audit.ActionRoleDefinitionEdited).
		WithActorOrg(actor.User.OrganizationID).
		WithDetail("role", role.Name).
		WithDetail("level", role.Level).
		WithDetail("matrix", role.Matrix)
	if err := s.store.Roles().Upsert(ctx, role, entry); err != nil {
		return err
	}
	s.catalog.Invalidate(role.Name)
	return nil
}

// ListRoles returns every definition, highest level first.
func (s *Service) ListRoles(ctx context.Context) ([]*identity.Role, error) {
	return s.store.Roles().List(ctx)
}

func isBuiltinName(name string) bool {
	for _, b := range builtins {
		if b.name == name {
			return true
		}
	}
	return false
}
