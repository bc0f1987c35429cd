package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"caidence.ai/internal/audit"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/ids"
	"caidence.ai/internal/tenant"
)

// --- organizations ---

type pgOrgs Store

var orgsTable = tenant.Table{OrgColumn: "id"}

const orgColumns = `id, slug, name, plan_tier, active, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*identity.Organization, error) {
	var org identity.Organization
	if err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.PlanTier, &org.Active, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *pgOrgs) Create(ctx context.Context, org *identity.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into organizations (id, slug, name, plan_tier, active)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, org.ID, org.Slug, org.Name, org.PlanTier, org.Active)
	if err := row.Scan(&org.CreatedAt, &org.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *pgOrgs) Find(ctx context.Context, id string) (*identity.Organization, error) {
	org, err := scanOrg(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return org, err
}

func (s *pgOrgs) FindBySlug(ctx context.Context, slug string) (*identity.Organization, error) {
	org, err := scanOrg(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return org, err
}

func (s *pgOrgs) List(ctx context.Context, v identity.Viewer) ([]*identity.Organization, error) {
	pred, args := tenant.Filter(v, orgsTable, 1)
	rows, err := s.db.QueryContext(ctx,
		`select `+orgColumns+` from organizations where `+pred+` order by created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Organization
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *pgOrgs) Update(ctx context.Context, id string, upd identity.OrganizationUpdate, entry *audit.Entry) (*identity.Organization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.PlanTier != nil {
		sets = append(sets, fmt.Sprintf("plan_tier = $%d", idx))
		args = append(args, *upd.PlanTier)
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	var org *identity.Organization
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update organizations set %s where id = $%d returning `+orgColumns,
			strings.Join(sets, ", "), idx)
		args = append(args, id)
		org, err = scanOrg(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
	} else {
		org, err = scanOrg(tx.QueryRowContext(ctx,
			`select `+orgColumns+` from organizations where id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
	}

	if upd.Active != nil && !*upd.Active {
		// Cascade: brands deactivate, users lose authentication.
		if _, err := tx.ExecContext(ctx,
			`update brands set active = false, updated_at = now() where organization_id = $1`, id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`update users set active = false, updated_at = now() where organization_id = $1`, id); err != nil {
			return nil, err
		}
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return org, nil
}

// --- brands ---

type pgBrands Store

const brandColumns = `id, organization_id, name, slug, active, created_at, updated_at`

var brandsTable = tenant.Table{OrgColumn: "organization_id", BrandColumn: "id"}

func scanBrand(row interface{ Scan(...any) error }) (*identity.Brand, error) {
	var b identity.Brand
	if err := row.Scan(&b.ID, &b.OrganizationID, &b.Name, &b.Slug, &b.Active, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *pgBrands) Create(ctx context.Context, brand *identity.Brand) error {
	if brand.ID == "" {
		brand.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into brands (id, organization_id, name, slug, active)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, brand.ID, brand.OrganizationID, brand.Name, brand.Slug, brand.Active)
	if err := row.Scan(&brand.CreatedAt, &brand.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *pgBrands) Find(ctx context.Context, id string) (*identity.Brand, error) {
	b, err := scanBrand(s.db.QueryRowContext(ctx,
		`select `+brandColumns+` from brands where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return b, err
}

func (s *pgBrands) List(ctx context.Context, v identity.Viewer) ([]*identity.Brand, error) {
	pred, args := tenant.Filter(v, brandsTable, 1)
	rows, err := s.db.QueryContext(ctx,
		`select `+brandColumns+` from brands where `+pred+` order by created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Brand
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *pgBrands) Update(ctx context.Context, id string, upd identity.BrandUpdate) (*identity.Brand, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) == 0 {
		return s.Find(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update brands set %s where id = $%d returning `+brandColumns,
		strings.Join(sets, ", "), idx)
	args = append(args, id)
	b, err := scanBrand(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return b, err
}

// --- teams ---

type pgTeams Store

const teamColumns = `id, organization_id, name, created_at, updated_at`

var teamsTable = tenant.Table{OrgColumn: "organization_id", TeamColumn: "id"}

func scanTeam(row interface{ Scan(...any) error }) (*identity.Team, error) {
	var t identity.Team
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *pgTeams) Create(ctx context.Context, team *identity.Team) error {
	if team.ID == "" {
		team.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into teams (id, organization_id, name)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, team.ID, team.OrganizationID, team.Name)
	if err := row.Scan(&team.CreatedAt, &team.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *pgTeams) Find(ctx context.Context, id string) (*identity.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx,
		`select `+teamColumns+` from teams where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return t, err
}

func (s *pgTeams) List(ctx context.Context, v identity.Viewer) ([]*identity.Team, error) {
	pred, args := tenant.Filter(v, teamsTable, 1)
	rows, err := s.db.QueryContext(ctx,
		`select `+teamColumns+` from teams where `+pred+` order by created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *pgTeams) Update(ctx context.Context, id string, name string) (*identity.Team, error) {
	t, err := scanTeam(s.db.QueryRowContext(ctx, `
		update teams set name = $1, updated_at = now()
		where id = $2
		returning `+teamColumns, name, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return t, err
}

// --- users ---

type pgUsers Store

const userColumns = `id, email, password_hash, display_name, coalesce(profile_type,''),
	coalesce(organization_id,''), coalesce(brand_id,''), coalesce(team_id,''),
	coalesce(role_id,''), coalesce(role_name,''), active, approved, created_at, updated_at`

var usersTable = tenant.Table{OrgColumn: "organization_id", TeamColumn: "team_id"}

func scanUser(row interface{ Scan(...any) error }) (*identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.ProfileType,
		&u.OrganizationID, &u.BrandID, &u.TeamID, &u.RoleID, &u.RoleName,
		&u.Active, &u.Approved, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *identity.User, entry *audit.Entry) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into users (id, email, password_hash, display_name, profile_type,
			organization_id, brand_id, team_id, role_id, role_name, active, approved)
		values ($1, $2, $3, $4, nullif($5,''), nullif($6,''), nullif($7,''), nullif($8,''),
			nullif($9,''), nullif($10,''), $11, $12)
		returning created_at, updated_at
	`, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.ProfileType,
		u.OrganizationID, u.BrandID, u.TeamID, u.RoleID, u.RoleName, u.Active, u.Approved)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgUsers) Find(ctx context.Context, id string) (*identity.User, error) {
	return retryRead(ctx, func(ctx context.Context) (*identity.User, error) {
		u, err := scanUser(s.db.QueryRowContext(ctx,
			`select `+userColumns+` from users where id = $1`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return u, err
	})
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return u, err
}

func (s *pgUsers) List(ctx context.Context, v identity.Viewer) ([]*identity.User, error) {
	pred, args := tenant.Filter(v, usersTable, 1)
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where `+pred+` order by created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgUsers) Update(ctx context.Context, id string, upd identity.UserUpdate, entry *audit.Entry) (*identity.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *upd.DisplayName)
		idx++
	}
	if upd.PasswordHash != nil {
		sets = append(sets, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.PasswordHash)
		idx++
	}
	if upd.TeamID != nil {
		sets = append(sets, fmt.Sprintf("team_id = nullif($%d,'')", idx))
		args = append(args, *upd.TeamID)
		idx++
	}
	if upd.BrandID != nil {
		sets = append(sets, fmt.Sprintf("brand_id = nullif($%d,'')", idx))
		args = append(args, *upd.BrandID)
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if upd.Approved != nil {
		sets = append(sets, fmt.Sprintf("approved = $%d", idx))
		args = append(args, *upd.Approved)
		idx++
	}
	var u *identity.User
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d returning `+userColumns,
			strings.Join(sets, ", "), idx)
		args = append(args, id)
		u, err = scanUser(tx.QueryRowContext(ctx, query, args...))
	} else {
		u, err = scanUser(tx.QueryRowContext(ctx,
			`select `+userColumns+` from users where id = $1`, id))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, mapWriteErr(err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *pgUsers) SetRole(ctx context.Context, userID, roleID, roleName string, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update users set role_id = nullif($1,''), role_name = nullif($2,''), updated_at = now()
		where id = $3
	`, roleID, roleName, userID)
	if err != nil {
		return mapWriteErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// --- roles ---

type pgRoles Store

const roleColumns = `id, name, display_name, level, matrix, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*identity.Role, error) {
	var (
		role identity.Role
		raw  []byte
	)
	if err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Level, &raw, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return nil, err
	}
	role.Matrix = map[string][]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &role.Matrix); err != nil {
			return nil, fmt.Errorf("decode role matrix: %w", err)
		}
	}
	return &role, nil
}

func (s *pgRoles) Upsert(ctx context.Context, role *identity.Role, entry *audit.Entry) error {
	raw, err := json.Marshal(role.Matrix)
	if err != nil {
		return fmt.Errorf("marshal role matrix: %w", err)
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into roles (id, name, display_name, level, matrix)
		values ($1, $2, $3, $4, $5)
		on conflict (name) do update
		set display_name = excluded.display_name,
			level = excluded.level,
			matrix = excluded.matrix,
			updated_at = now()
		returning id, created_at, updated_at
	`, role.ID, role.Name, role.DisplayName, role.Level, raw)
	if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgRoles) Find(ctx context.Context, name string) (*identity.Role, error) {
	return retryRead(ctx, func(ctx context.Context) (*identity.Role, error) {
		role, err := scanRole(s.db.QueryRowContext(ctx,
			`select `+roleColumns+` from roles where name = $1`, name))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrNotFound
		}
		return role, err
	})
}

func (s *pgRoles) List(ctx context.Context) ([]*identity.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by level desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*identity.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// --- overrides ---

type pgOverrides Store

const overrideColumns = `id, user_id, resource, action, scope_type, coalesce(scope_id,''), is_allowed, created_at`

func scanOverride(row interface{ Scan(...any) error }) (*identity.PermissionOverride, error) {
	var ov identity.PermissionOverride
	err := row.Scan(&ov.ID, &ov.UserID, &ov.Resource, &ov.Action, &ov.ScopeType, &ov.ScopeID, &ov.Allowed, &ov.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

func (s *pgOverrides) Put(ctx context.Context, ov *identity.PermissionOverride, entry *audit.Entry) error {
	if ov.ID == "" {
		ov.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		insert into permission_overrides (id, user_id, resource, action, scope_type, scope_id, is_allowed)
		values ($1, $2, $3, $4, $5, nullif($6,''), $7)
		on conflict (id) do update
		set action = excluded.action, is_allowed = excluded.is_allowed
		returning created_at
	`, ov.ID, ov.UserID, ov.Resource, ov.Action, ov.ScopeType, ov.ScopeID, ov.Allowed)
	if err := row.Scan(&ov.CreatedAt); err != nil {
		return mapWriteErr(err)
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgOverrides) Find(ctx context.Context, id string) (*identity.PermissionOverride, error) {
	ov, err := scanOverride(s.db.QueryRowContext(ctx,
		`select `+overrideColumns+` from permission_overrides where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return ov, err
}

func (s *pgOverrides) ListByUser(ctx context.Context, userID string) ([]identity.PermissionOverride, error) {
	return retryRead(ctx, func(ctx context.Context) ([]identity.PermissionOverride, error) {
		rows, err := s.db.QueryContext(ctx,
			`select `+overrideColumns+` from permission_overrides where user_id = $1 order by created_at`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []identity.PermissionOverride
		for rows.Next() {
			ov, err := scanOverride(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *ov)
		}
		return out, rows.Err()
	})
}

func (s *pgOverrides) Delete(ctx context.Context, id string, entry *audit.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `delete from permission_overrides where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return identity.ErrNotFound
	}
	if err := insertAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}
