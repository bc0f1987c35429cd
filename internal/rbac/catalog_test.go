package rbac

import (
	"context"
	"testing"

	"caidence.ai/internal/identity"
)

func TestSeedIdempotent(t *testing.T) {
	store := identity.NewInMemory()
	ctx := context.Background()

	if err := Seed(ctx, store.Roles()); err != nil {
		t.Fatal(err)
	}
	first, err := store.Roles().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(builtins) {
		t.Fatalf("seeded %d roles, want %d", len(first), len(builtins))
	}

	if err := Seed(ctx, store.Roles()); err != nil {
		t.Fatal(err)
	}
	second, err := store.Roles().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first) {
		t.Fatalf("re-seed changed role count: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("re-seed changed id of %s", first[i].Name)
		}
	}
}

func TestSeedLevels(t *testing.T) {
	store := identity.NewInMemory()
	ctx := context.Background()
	if err := Seed(ctx, store.Roles()); err != nil {
		t.Fatal(err)
	}
	roles, err := store.Roles().List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{
		RoleRoot: 110, RoleSuperAdmin: 100, RoleAgencyAdmin: 80,
		RoleAgencyMember: 60, RoleBrandAdmin: 50, RoleBrandMember: 40,
		RoleCreator: 20, RoleViewer: 10,
	}
	for _, role := range roles {
		if role.Level != want[role.Name] {
			t.Errorf("%s level = %d, want %d", role.Name, role.Level, want[role.Name])
		}
	}
}

func TestRoleAllowedForProfile(t *testing.T) {
	cases := []struct {
		profile string
		role    string
		want    bool
	}{
		{identity.ProfileAgency, RoleAgencyAdmin, true},
		{identity.ProfileAgency, RoleBrandAdmin, false},
		{identity.ProfileBrand, RoleBrandMember, true},
		{identity.ProfileBrand, RoleAgencyMember, false},
		{identity.ProfileCreator, RoleCreator, true},
		{identity.ProfileCreator, RoleSuperAdmin, false},
		{"", RoleRoot, true},
	}
	for _, c := range cases {
		if got := RoleAllowedForProfile(c.profile, c.role); got != c.want {
			t.Errorf("RoleAllowedForProfile(%q, %q) = %v, want %v", c.profile, c.role, got, c.want)
		}
	}
}

func TestCatalogCacheInvalidation(t *testing.T) {
	store := identity.NewInMemory()
	ctx := context.Background()
	if err := Seed(ctx, store.Roles()); err != nil {
		t.Fatal(err)
	}
	catalog, err := NewCatalog(store.Roles())
	if err != nil {
		t.Fatal(err)
	}

	def, err := catalog.Get(ctx, RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if def.Level != 10 {
		t.Fatalf("level = %d", def.Level)
	}

	// Edit behind the cache: stale until invalidated.
	role, err := store.Roles().Find(ctx, RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	role.Matrix["crm"] = []string{"read"}
	if err := store.Roles().Upsert(ctx, role, nil); err != nil {
		t.Fatal(err)
	}

	def, _ = catalog.Get(ctx, RoleViewer)
	if def.Matrix[ResourceCRM].Allows(ActionRead) {
		t.Fatal("cache returned fresh definition without invalidation")
	}
	catalog.Invalidate(RoleViewer)
	def, err = catalog.Get(ctx, RoleViewer)
	if err != nil {
		t.Fatal(err)
	}
	if !def.Matrix[ResourceCRM].Allows(ActionRead) {
		t.Fatal("invalidation did not refresh the definition")
	}
}
