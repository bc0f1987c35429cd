package identity

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"caidence.ai/internal/audit"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// RoleCheck reports whether a role may be held by the given profile
// type. The rbac catalog supplies the canonical implementation; it is
// injected here to keep this package free of the role definitions.
type RoleCheck func(profileType, roleName string) bool

// Service validates structural invariants before touching the store.
// Role assignment and override management live in the rbac package.
type Service struct {
	store       Store
	roleAllowed RoleCheck
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithRoleCheck installs the profile-type constraint enforced at user
// creation. Without it, any role passes.
func (s *Service) WithRoleCheck(fn RoleCheck) *Service {
	s.roleAllowed = fn
	return s
}

func (s *Service) Store() Store { return s.store }

// --- organizations ---

func (s *Service) CreateOrganization(ctx context.Context, slug, name, planTier string) (*Organization, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid slug %q", ErrInvalidInput, slug)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	planTier = strings.TrimSpace(strings.ToLower(planTier))
	if planTier == "" {
		planTier = PlanFree
	}
	if planTier != PlanFree && planTier != PlanPro && planTier != PlanEnterprise {
		return nil, fmt.Errorf("%w: unknown plan tier %q", ErrInvalidInput, planTier)
	}
	org := &Organization{Slug: slug, Name: name, PlanTier: planTier, Active: true}
	if err := s.store.Organizations().Create(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, v Viewer, id string) (*Organization, error) {
	org, err := s.store.Organizations().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Sees(RowScope{OrganizationID: org.ID, HasOrg: true}) {
		return nil, ErrOutOfScope
	}
	return org, nil
}

func (s *Service) ListOrganizations(ctx context.Context, v Viewer) ([]*Organization, error) {
	return s.store.Organizations().List(ctx, v)
}

// UpdateOrganization applies the update and, on a plan change, commits
// an organization_plan_changed audit entry in the same transaction.
func (s *Service) UpdateOrganization(ctx context.Context, actor *User, id string, upd OrganizationUpdate) (*Organization, error) {
	if upd.PlanTier != nil {
		tier := strings.TrimSpace(strings.ToLower(*upd.PlanTier))
		if tier != PlanFree && tier != PlanPro && tier != PlanEnterprise {
			return nil, fmt.Errorf("%w: unknown plan tier %q", ErrInvalidInput, tier)
		}
		upd.PlanTier = &tier
	}
	var entry *audit.Entry
	if upd.PlanTier != nil {
		entry = audit.NewEntry(actor.ID, actor.Email, audit.ActionOrgPlanChanged).
			WithActorOrg(actor.OrganizationID).
			WithDetail("organization_id", id).
			WithDetail("plan_tier", *upd.PlanTier)
	}
	return s.store.Organizations().Update(ctx, id, upd, entry)
}

// DeactivateOrganization soft-deletes the tenant. The store cascades:
// brands are deactivated and users lose authentication.
func (s *Service) DeactivateOrganization(ctx context.Context, actor *User, id string) (*Organization, error) {
	active := false
	entry := audit.NewEntry(actor.ID, actor.Email, audit.ActionOrgPlanChanged).
		WithActorOrg(actor.OrganizationID).
		WithDetail("organization_id", id).
		WithDetail("active", false)
	return s.store.Organizations().Update(ctx, id, OrganizationUpdate{Active: &active}, entry)
}

// --- brands ---

func (s *Service) CreateBrand(ctx context.Context, orgID, name, slug string) (*Brand, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	slug = strings.TrimSpace(strings.ToLower(slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: invalid slug %q", ErrInvalidInput, slug)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: brand name is required", ErrInvalidInput)
	}
	if _, err := s.store.Organizations().Find(ctx, orgID); err != nil {
		return nil, err
	}
	brand := &Brand{OrganizationID: orgID, Name: name, Slug: slug, Active: true}
	if err := s.store.Brands().Create(ctx, brand); err != nil {
		return nil, err
	}
	return brand, nil
}

func (s *Service) GetBrand(ctx context.Context, v Viewer, id string) (*Brand, error) {
	brand, err := s.store.Brands().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Sees(RowScope{OrganizationID: brand.OrganizationID, HasOrg: true, BrandID: brand.ID, HasBrand: true}) {
		return nil, ErrOutOfScope
	}
	return brand, nil
}

func (s *Service) ListBrands(ctx context.Context, v Viewer) ([]*Brand, error) {
	return s.store.Brands().List(ctx, v)
}

func (s *Service) UpdateBrand(ctx context.Context, id string, upd BrandUpdate) (*Brand, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: brand name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	return s.store.Brands().Update(ctx, id, upd)
}

// DeactivateBrand is the soft delete for brands.
func (s *Service) DeactivateBrand(ctx context.Context, id string) (*Brand, error) {
	active := false
	return s.store.Brands().Update(ctx, id, BrandUpdate{Active: &active})
}

// --- teams ---

func (s *Service) CreateTeam(ctx context.Context, orgID, name string) (*Team, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	if _, err := s.store.Organizations().Find(ctx, orgID); err != nil {
		return nil, err
	}
	team := &Team{OrganizationID: orgID, Name: name}
	if err := s.store.Teams().Create(ctx, team); err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) GetTeam(ctx context.Context, v Viewer, id string) (*Team, error) {
	team, err := s.store.Teams().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Sees(RowScope{OrganizationID: team.OrganizationID, HasOrg: true, TeamID: team.ID, HasTeam: true}) {
		return nil, ErrOutOfScope
	}
	return team, nil
}

func (s *Service) ListTeams(ctx context.Context, v Viewer) ([]*Team, error) {
	return s.store.Teams().List(ctx, v)
}

func (s *Service) RenameTeam(ctx context.Context, v Viewer, id, name string) (*Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	if _, err := s.GetTeam(ctx, v, id); err != nil {
		return nil, err
	}
	return s.store.Teams().Update(ctx, id, name)
}

// --- users ---

func (s *Service) CreateUser(ctx context.Context, actor *User, u *User) (*User, error) {
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if u.ProfileType != "" {
		switch u.ProfileType {
		case ProfileAgency, ProfileBrand, ProfileCreator:
		default:
			return nil, fmt.Errorf("%w: unknown profile type %q", ErrInvalidInput, u.ProfileType)
		}
	}
	if s.roleAllowed != nil && u.RoleName != "" && !s.roleAllowed(u.ProfileType, u.RoleName) {
		return nil, fmt.Errorf("%w: role %q is not allowed for profile type %q", ErrInvalidInput, u.RoleName, u.ProfileType)
	}
	if u.TeamID != "" {
		if err := s.checkTeamMembership(ctx, u.OrganizationID, u.TeamID); err != nil {
			return nil, err
		}
	}
	var entry *audit.Entry
	if actor != nil {
		entry = audit.NewEntry(actor.ID, actor.Email, audit.ActionUserInvited).
			WithActorOrg(actor.OrganizationID).
			WithTarget("", u.Email).
			WithDetail("organization_id", u.OrganizationID)
	}
	if err := s.store.Users().Create(ctx, u, entry); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, v Viewer, id string) (*User, error) {
	u, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !v.Sees(RowScope{OrganizationID: u.OrganizationID, HasOrg: true}) {
		return nil, ErrOutOfScope
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, v Viewer) ([]*User, error) {
	return s.store.Users().List(ctx, v)
}

// UpdateUser applies the update; deactivation commits a
// user_deactivated audit entry with the change.
func (s *Service) UpdateUser(ctx context.Context, actor *User, id string, upd UserUpdate) (*User, error) {
	target, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.TeamID != nil && *upd.TeamID != "" {
		if err := s.checkTeamMembership(ctx, target.OrganizationID, *upd.TeamID); err != nil {
			return nil, err
		}
	}
	var entry *audit.Entry
	if upd.Active != nil && !*upd.Active && actor != nil {
		entry = audit.NewEntry(actor.ID, actor.Email, audit.ActionUserDeactivated).
			WithActorOrg(actor.OrganizationID).
			WithTarget(target.ID, target.Email)
	}
	return s.store.Users().Update(ctx, id, upd, entry)
}

// checkTeamMembership enforces that a user's team belongs to the
// user's own organization.
func (s *Service) checkTeamMembership(ctx context.Context, orgID, teamID string) error {
	team, err := s.store.Teams().Find(ctx, teamID)
	if err != nil {
		return err
	}
	if team.OrganizationID != orgID {
		return fmt.Errorf("%w: team %s belongs to another organization", ErrInvalidInput, teamID)
	}
	return nil
}
