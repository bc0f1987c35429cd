package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caidence.ai/internal/audit"
	"caidence.ai/internal/ids"
)

// InMemory implements Store with in-process locking. Used by tests and
// local development; production uses the Postgres store.
type InMemory struct {
	mu        sync.RWMutex
	orgs      map[string]*Organization
	brands    map[string]*Brand
	teams     map[string]*Team
	users     map[string]*User
	roles     map[string]*Role // keyed by name
	overrides map[string]*PermissionOverride
	auditLog  []audit.Entry
}

func NewInMemory() *InMemory {
	return &InMemory{
		orgs:      make(map[string]*Organization),
		brands:    make(map[string]*Brand),
		teams:     make(map[string]*Team),
		users:     make(map[string]*User),
		roles:     make(map[string]*Role),
		overrides: make(map[string]*PermissionOverride),
	}
}

var _ Store = (*InMemory)(nil)

func (m *InMemory) Organizations() OrganizationStore { return (*memOrgs)(m) }
func (m *InMemory) Brands() BrandStore               { return (*memBrands)(m) }
func (m *InMemory) Teams() TeamStore                 { return (*memTeams)(m) }
func (m *InMemory) Users() UserStore                 { return (*memUsers)(m) }
func (m *InMemory) Roles() RoleStore                 { return (*memRoles)(m) }
func (m *InMemory) Overrides() OverrideStore         { return (*memOverrides)(m) }
func (m *InMemory) Audit() audit.Store               { return (*memAudit)(m) }

func (m *InMemory) appendAuditLocked(entry *audit.Entry) {
	if entry == nil {
		return
	}
	e := *entry
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.auditLog = append(m.auditLog, e)
}

// --- organizations ---

type memOrgs InMemory

func (m *memOrgs) Create(_ context.Context, org *Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orgs {
		if existing.Slug == org.Slug {
			return fmt.Errorf("%w: slug %s", ErrConflict, org.Slug)
		}
	}
	if org.ID == "" {
		org.ID = ids.New()
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	cp := *org
	m.orgs[org.ID] = &cp
	return nil
}

func (m *memOrgs) Find(_ context.Context, id string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (m *memOrgs) FindBySlug(_ context.Context, slug string) (*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, org := range m.orgs {
		if org.Slug == slug {
			cp := *org
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memOrgs) List(_ context.Context, v Viewer) ([]*Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Organization
	for _, org := range m.orgs {
		if !v.Sees(RowScope{OrganizationID: org.ID, HasOrg: true}) {
			continue
		}
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memOrgs) Update(_ context.Context, id string, upd OrganizationUpdate, entry *audit.Entry) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.PlanTier != nil {
		org.PlanTier = *upd.PlanTier
	}
	if upd.Active != nil {
		org.Active = *upd.Active
		if !org.Active {
			// Cascade: brands deactivate, users lose authentication.
			for _, b := range m.brands {
				if b.OrganizationID == id {
					b.Active = false
				}
			}
			for _, u := range m.users {
				if u.OrganizationID == id {
					u.Active = false
				}
			}
		}
	}
	org.UpdatedAt = time.Now().UTC()
	(*InMemory)(m).appendAuditLocked(entry)
	cp := *org
	return &cp, nil
}

// --- brands ---

type memBrands InMemory

func (m *memBrands) Create(_ context.Context, brand *Brand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.brands {
		if existing.OrganizationID == brand.OrganizationID && existing.Slug == brand.Slug {
			return fmt.Errorf("%w: slug %s", ErrConflict, brand.Slug)
		}
	}
	if brand.ID == "" {
		brand.ID = ids.New()
	}
	now := time.Now().UTC()
	brand.CreatedAt, brand.UpdatedAt = now, now
	cp := *brand
	m.brands[brand.ID] = &cp
	return nil
}

func (m *memBrands) Find(_ context.Context, id string) (*Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	brand, ok := m.brands[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *brand
	return &cp, nil
}

func (m *memBrands) List(_ context.Context, v Viewer) ([]*Brand, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Brand
	for _, brand := range m.brands {
		scope := RowScope{
			OrganizationID: brand.OrganizationID, HasOrg: true,
			BrandID: brand.ID, HasBrand: true,
		}
		if !v.Sees(scope) {
			continue
		}
		cp := *brand
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memBrands) Update(_ context.Context, id string, upd BrandUpdate) (*Brand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	brand, ok := m.brands[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		brand.Name = *upd.Name
	}
	if upd.Active != nil {
		brand.Active = *upd.Active
	}
	brand.UpdatedAt = time.Now().UTC()
	cp := *brand
	return &cp, nil
}

// --- teams ---

type memTeams InMemory

func (m *memTeams) Create(_ context.Context, team *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if team.ID == "" {
		team.ID = ids.New()
	}
	now := time.Now().UTC()
	team.CreatedAt, team.UpdatedAt = now, now
	cp := *team
	m.teams[team.ID] = &cp
	return nil
}

func (m *memTeams) Find(_ context.Context, id string) (*Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	team, ok := m.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *team
	return &cp, nil
}

func (m *memTeams) List(_ context.Context, v Viewer) ([]*Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Team
	for _, team := range m.teams {
		scope := RowScope{
			OrganizationID: team.OrganizationID, HasOrg: true,
			TeamID: team.ID, HasTeam: true,
		}
		if !v.Sees(scope) {
			continue
		}
		cp := *team
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memTeams) Update(_ context.Context, id string, name string) (*Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	team, ok := m.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	team.Name = name
	team.UpdatedAt = time.Now().UTC()
	cp := *team
	return &cp, nil
}

// --- users ---

type memUsers InMemory

func (m *memUsers) Create(_ context.Context, u *User, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: email %s", ErrConflict, u.Email)
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users[u.ID] = &cp
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) List(_ context.Context, v Viewer) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*User
	for _, u := range m.users {
		scope := RowScope{
			OrganizationID: u.OrganizationID, HasOrg: true,
			TeamID: u.TeamID, HasTeam: true,
		}
		if !v.Sees(scope) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memUsers) Update(_ context.Context, id string, upd UserUpdate, entry *audit.Entry) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.TeamID != nil {
		u.TeamID = *upd.TeamID
	}
	if upd.BrandID != nil {
		u.BrandID = *upd.BrandID
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.Approved != nil {
		u.Approved = *upd.Approved
	}
	u.UpdatedAt = time.Now().UTC()
	(*InMemory)(m).appendAuditLocked(entry)
	cp := *u
	return &cp, nil
}

func (m *memUsers) SetRole(_ context.Context, userID, roleID, roleName string, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.RoleID = roleID
	u.RoleName = roleName
	u.UpdatedAt = time.Now().UTC()
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

// --- roles ---

type memRoles InMemory

func (m *memRoles) Upsert(_ context.Context, role *Role, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.roles[role.Name]; ok {
		existing.DisplayName = role.DisplayName
		existing.Level = role.Level
		existing.Matrix = cloneMatrix(role.Matrix)
		existing.UpdatedAt = now
		role.ID = existing.ID
	} else {
		if role.ID == "" {
			role.ID = ids.New()
		}
		cp := *role
		cp.Matrix = cloneMatrix(role.Matrix)
		cp.CreatedAt, cp.UpdatedAt = now, now
		m.roles[role.Name] = &cp
	}
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

func (m *memRoles) Find(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Matrix = cloneMatrix(role.Matrix)
	return &cp, nil
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		cp.Matrix = cloneMatrix(role.Matrix)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out, nil
}

// --- overrides ---

type memOverrides InMemory

func (m *memOverrides) Put(_ context.Context, ov *PermissionOverride, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ov.ID == "" {
		ov.ID = ids.New()
	}
	if ov.CreatedAt.IsZero() {
		ov.CreatedAt = time.Now().UTC()
	}
	cp := *ov
	m.overrides[ov.ID] = &cp
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

func (m *memOverrides) Find(_ context.Context, id string) (*PermissionOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ov, ok := m.overrides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ov
	return &cp, nil
}

func (m *memOverrides) ListByUser(_ context.Context, userID string) ([]PermissionOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PermissionOverride
	for _, ov := range m.overrides {
		if ov.UserID == userID {
			out = append(out, *ov)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memOverrides) Delete(_ context.Context, id string, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.overrides[id]; !ok {
		return ErrNotFound
	}
	delete(m.overrides, id)
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

// --- audit ---

type memAudit InMemory

func (m *memAudit) Append(_ context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	(*InMemory)(m).appendAuditLocked(entry)
	return nil
}

func (m *memAudit) List(_ context.Context, q audit.ListQuery) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	out := make([]audit.Entry, 0, limit)
	skipped := 0
	for i := len(m.auditLog) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.auditLog[i]
		if q.OrganizationID != "" && e.OrganizationID != q.OrganizationID {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func cloneMatrix(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
