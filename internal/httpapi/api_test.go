package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"caidence.ai/internal/access"
	"caidence.ai/internal/config"
	"caidence.ai/internal/credits"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/rbac"
	"caidence.ai/internal/token"
)

type fixture struct {
	api         *API
	store       identity.Store
	rbac        *rbac.Service
	signer      *token.Signer
	accessStore *access.InMemory
	writer      *access.Writer
	handler     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := identity.NewInMemory()
	ctx := context.Background()
	if err := rbac.Seed(ctx, store.Roles()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	catalog, err := rbac.NewCatalog(store.Roles())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	signer, err := token.NewSigner("0123456789abcdef0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	accessStore := access.NewInMemory()
	writer := access.NewWriter(accessStore, 1)
	t.Cleanup(writer.Close)
	ledger := credits.NewInMemory(func(context.Context, string) (credits.Amount, error) {
		return credits.FromCredits(100), nil
	})
	rbacSvc := rbac.NewService(store, catalog)
	api := New(Options{
		Config:       &config.Config{Environment: "test"},
		Identity:     identity.NewService(store).WithRoleCheck(rbac.RoleAllowedForProfile),
		RBAC:         rbacSvc,
		Signer:       signer,
		Credits:      ledger,
		AccessWriter: writer,
		AccessStore:  accessStore,
		AuditStore:   store.Audit(),
		Hashes:       NewHashPool(bcrypt.MinCost, 4),
		Version:      "test",
	})
	return &fixture{
		api:         api,
		store:       store,
		rbac:        rbacSvc,
		signer:      signer,
		accessStore: accessStore,
		writer:      writer,
		handler:     api.Handler(),
	}
}

func (f *fixture) createOrg(t *testing.T, slug string) *identity.Organization {
	t.Helper()
	org := &identity.Organization{Slug: slug, Name: slug, PlanTier: identity.PlanPro, Active: true}
	if err := f.store.Organizations().Create(context.Background(), org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return org
}

func (f *fixture) createUser(t *testing.T, email, roleName, orgID, password string) *identity.User {
	t.Helper()
	ctx := context.Background()
	def, err := f.rbac.Catalog().Get(ctx, roleName)
	if err != nil {
		t.Fatalf("role %s: %v", roleName, err)
	}
	var hash []byte
	if password != "" {
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
	}
	u := &identity.User{
		Email:          email,
		PasswordHash:   string(hash),
		DisplayName:    email,
		OrganizationID: orgID,
		RoleID:         def.ID,
		RoleName:       def.Name,
		Active:         true,
		Approved:       true,
	}
	if err := f.store.Users().Create(ctx, u, nil); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) tokenFor(t *testing.T, u *identity.User) string {
	t.Helper()
	tok, err := f.signer.Generate(u.ID, u.Email, u.RoleName, u.OrganizationID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/me", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "hunter2hunter2")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"admin@acme.test","password":"hunter2hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	var loginResp struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token")
	}

	rec = f.do(t, http.MethodGet, "/v1/me", loginResp.Token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d: %s", rec.Code, rec.Body.String())
	}
	var me struct {
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	decodeBody(t, rec, &me)
	if me.Role != rbac.RoleAgencyAdmin {
		t.Fatalf("role = %s", me.Role)
	}
	if len(me.Permissions) == 0 {
		t.Fatal("no permissions")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "hunter2hunter2")

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"admin@acme.test","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	// Unknown email gets the identical answer.
	rec = f.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"ghost@acme.test","password":"whatever"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestPendingAccountCannotLogin(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	u := f.createUser(t, "new@acme.test", rbac.RoleViewer, org.ID, "hunter2hunter2")
	approved := false
	if _, err := f.store.Users().Update(context.Background(), u.ID, identity.UserUpdate{Approved: &approved}, nil); err != nil {
		t.Fatalf("update: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/v1/auth/login", "", `{"email":"new@acme.test","password":"hunter2hunter2"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &resp)
	if resp.Error != "account pending approval" {
		t.Fatalf("error = %q", resp.Error)
	}

	// A token minted earlier is rejected at the guard too.
	rec = f.do(t, http.MethodGet, "/v1/me", f.tokenFor(t, u), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("me status = %d, want 403", rec.Code)
	}
}

func TestRegisterCreatesPendingViewer(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")

	body := `{"email":"fresh@acme.test","password":"hunter2hunter2","display_name":"Fresh","organization_id":"` + org.ID + `"}`
	rec := f.do(t, http.MethodPost, "/v1/auth/register", "", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	u, err := f.store.Users().FindByEmail(context.Background(), "fresh@acme.test")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.Approved {
		t.Fatal("registered user should be pending")
	}
	if u.RoleName != rbac.RoleViewer {
		t.Fatalf("role = %s, want viewer", u.RoleName)
	}
}

func TestRegisterShortPassword(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/auth/register", "", `{"email":"x@y.test","password":"short"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPermissionDeniedIsGeneric(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	viewer := f.createUser(t, "viewer@acme.test", rbac.RoleViewer, org.ID, "")
	tok := f.tokenFor(t, viewer)

	rec := f.do(t, http.MethodPost, "/v1/organizations", tok, `{"slug":"evil","name":"Evil"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	decodeBody(t, rec, &resp)
	if resp.Error != "permission denied" {
		t.Fatalf("error = %q, want the generic message", resp.Error)
	}
}

func TestDeniedRequestIsAccessLogged(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	viewer := f.createUser(t, "viewer@acme.test", rbac.RoleViewer, org.ID, "")
	tok := f.tokenFor(t, viewer)

	rec := f.do(t, http.MethodPost, "/v1/users", tok, `{"email":"x@acme.test"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	f.writer.Close()

	entries, err := f.accessStore.List(context.Background(), access.ListQuery{UserID: viewer.ID, DeniedOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Resource != "admin" || e.Action != "write" || e.Allowed {
		t.Fatalf("entry = %+v", e)
	}
	if e.Path != "/v1/users" || e.Method != http.MethodPost {
		t.Fatalf("entry path = %s %s", e.Method, e.Path)
	}
}

func TestOrgIsolation(t *testing.T) {
	f := newFixture(t)
	orgA := f.createOrg(t, "org-a")
	orgB := f.createOrg(t, "org-b")
	admin := f.createUser(t, "admin@org-a.test", rbac.RoleAgencyAdmin, orgA.ID, "")
	tok := f.tokenFor(t, admin)

	// Own org resolves.
	rec := f.do(t, http.MethodGet, "/v1/organizations/"+orgA.ID, tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("own org status = %d: %s", rec.Code, rec.Body.String())
	}
	// The other tenant reads as not found, never as forbidden.
	rec = f.do(t, http.MethodGet, "/v1/organizations/"+orgB.ID, tok, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other org status = %d, want 404", rec.Code)
	}
}

func TestOutOfScopePointReadIsAccessLogged(t *testing.T) {
	f := newFixture(t)
	orgA := f.createOrg(t, "org-a")
	orgB := f.createOrg(t, "org-b")
	admin := f.createUser(t, "admin@org-a.test", rbac.RoleAgencyAdmin, orgA.ID, "")
	tok := f.tokenFor(t, admin)

	brand := &identity.Brand{OrganizationID: orgB.ID, Name: "Other", Slug: "other", Active: true}
	if err := f.store.Brands().Create(context.Background(), brand); err != nil {
		t.Fatalf("create brand: %v", err)
	}

	rec := f.do(t, http.MethodGet, "/v1/brands/"+brand.ID, tok, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	f.writer.Close()

	entries, err := f.accessStore.List(context.Background(), access.ListQuery{UserID: admin.ID, DeniedOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Resource != "brand" || e.Allowed || e.Reason != "outside tenant scope" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Path != "/v1/brands/"+brand.ID {
		t.Fatalf("entry path = %s", e.Path)
	}
}

func TestRegisterWithProfileGetsMatchingRole(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/auth/register", "",
		`{"email":"maker@x.test","password":"longenough","profile_type":"creator"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		User identity.User `json:"user"`
	}
	decodeBody(t, rec, &body)
	if body.User.RoleName != rbac.RoleCreator {
		t.Fatalf("role = %s, want %s", body.User.RoleName, rbac.RoleCreator)
	}
	if !rbac.RoleAllowedForProfile(body.User.ProfileType, body.User.RoleName) {
		t.Fatalf("profile %s may not hold role %s", body.User.ProfileType, body.User.RoleName)
	}
}

func TestAssignRoleEndpoint(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	admin := f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "")
	member := f.createUser(t, "member@acme.test", rbac.RoleViewer, org.ID, "")
	tok := f.tokenFor(t, admin)

	rec := f.do(t, http.MethodPost, "/v1/users/"+member.ID+"/role", tok, `{"role":"agency_member"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got, err := f.store.Users().Find(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.RoleName != rbac.RoleAgencyMember {
		t.Fatalf("role = %s", got.RoleName)
	}

	// Assigning at or above the actor's own level fails closed.
	rec = f.do(t, http.MethodPost, "/v1/users/"+member.ID+"/role", tok, `{"role":"agency_admin"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestCreditDebitEndpoint(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	admin := f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "")
	tok := f.tokenFor(t, admin)

	rec := f.do(t, http.MethodGet, "/v1/credits/balance", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d: %s", rec.Code, rec.Body.String())
	}
	var bal credits.Balance
	decodeBody(t, rec, &bal)
	if bal.Balance != credits.FromCredits(100) {
		t.Fatalf("balance = %d", bal.Balance)
	}

	rec = f.do(t, http.MethodPost, "/v1/credits/debit", tok, `{"type":"creator_enrich","correlation_id":"job-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("debit status = %d: %s", rec.Code, rec.Body.String())
	}
	var tx credits.Transaction
	decodeBody(t, rec, &tx)
	if tx.UserID != admin.ID {
		t.Fatalf("user = %q, want %q", tx.UserID, admin.ID)
	}
	if tx.Amount != -5 {
		t.Fatalf("amount = %d", tx.Amount)
	}
	if tx.BalanceBefore != credits.FromCredits(100) || tx.BalanceAfter != credits.FromCredits(100)-5 {
		t.Fatalf("balances = %d -> %d", tx.BalanceBefore, tx.BalanceAfter)
	}

	rec = f.do(t, http.MethodPost, "/v1/credits/debit", tok, `{"type":"mystery_op"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type status = %d", rec.Code)
	}
}

func TestAuditListScopedToOrg(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	admin := f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "")
	member := f.createUser(t, "member@acme.test", rbac.RoleViewer, org.ID, "")
	tok := f.tokenFor(t, admin)

	rec := f.do(t, http.MethodPost, "/v1/users/"+member.ID+"/role", tok, `{"role":"agency_member"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("assign status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/audit", tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Entries []struct {
			Action  string `json:"action"`
			ActorID string `json:"actor_id"`
		} `json:"entries"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(resp.Entries))
	}
	if resp.Entries[0].Action != "role_assigned" || resp.Entries[0].ActorID != admin.ID {
		t.Fatalf("entry = %+v", resp.Entries[0])
	}
}

func TestOverrideLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	admin := f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "")
	member := f.createUser(t, "member@acme.test", rbac.RoleViewer, org.ID, "")
	tok := f.tokenFor(t, admin)

	body := `{"user_id":"` + member.ID + `","resource":"crm","action":"write","scope_type":"organization","scope_id":"` + org.ID + `","is_allowed":true}`
	rec := f.do(t, http.MethodPost, "/v1/permissions/overrides", tok, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("grant status = %d: %s", rec.Code, rec.Body.String())
	}
	var ov identity.PermissionOverride
	decodeBody(t, rec, &ov)
	if ov.ID == "" {
		t.Fatal("override id not assigned")
	}

	rec = f.do(t, http.MethodGet, "/v1/permissions/overrides?user_id="+member.ID, tok, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/v1/permissions/overrides/"+ov.ID, tok, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d: %s", rec.Code, rec.Body.String())
	}

	overrides, err := f.store.Overrides().ListByUser(context.Background(), member.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(overrides) != 0 {
		t.Fatalf("overrides = %d, want 0", len(overrides))
	}
}

func TestTenantAdminCannotCreateOrg(t *testing.T) {
	f := newFixture(t)
	org := f.createOrg(t, "acme")
	admin := f.createUser(t, "admin@acme.test", rbac.RoleAgencyAdmin, org.ID, "")
	tok := f.tokenFor(t, admin)

	rec := f.do(t, http.MethodPost, "/v1/organizations", tok, `{"slug":"rogue","name":"Rogue"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	root := f.createUser(t, "root@platform.test", rbac.RoleRoot, "", "")
	rec = f.do(t, http.MethodPost, "/v1/organizations", f.tokenFor(t, root), `{"slug":"second","name":"Second"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("root status = %d: %s", rec.Code, rec.Body.String())
	}
}
