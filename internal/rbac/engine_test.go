package rbac

import (
	"errors"
	"reflect"
	"testing"

	"caidence.ai/internal/identity"
)

func mustDef(t *testing.T, name string) Definition {
	t.Helper()
	for _, b := range builtins {
		if b.name == name {
			def, err := CompileRole(&identity.Role{Name: b.name, Level: b.level, Matrix: b.matrix})
			if err != nil {
				t.Fatal(err)
			}
			return def
		}
	}
	t.Fatalf("unknown builtin %s", name)
	return Definition{}
}

func principal(t *testing.T, roleName string, overrides ...identity.PermissionOverride) Principal {
	t.Helper()
	return Principal{
		User: &identity.User{
			ID:             "u1",
			OrganizationID: "org1",
			BrandID:        "b1",
			TeamID:         "t1",
			RoleName:       roleName,
		},
		Role:      mustDef(t, roleName),
		Overrides: overrides,
	}
}

func orgScope() Scope { return Scope{OrganizationID: "org1", BrandID: "b1", TeamID: "t1"} }

func TestDecideBypass(t *testing.T) {
	for _, role := range []string{RoleRoot, RoleSuperAdmin} {
		d := Decide(principal(t, role), ResourceAdmin, ActionWrite, orgScope())
		if !d.Allowed || d.Reason != ReasonBypass {
			t.Fatalf("%s: %+v", role, d)
		}
	}
}

func TestDecideRoleDefault(t *testing.T) {
	d := Decide(principal(t, RoleViewer), ResourceCampaign, ActionRead, orgScope())
	if !d.Allowed || d.Reason != ReasonRoleDefault {
		t.Fatalf("got %+v", d)
	}
	d = Decide(principal(t, RoleViewer), ResourceCampaign, ActionWrite, orgScope())
	if d.Allowed || d.Reason != ReasonNoRule {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideWriteImpliesRead(t *testing.T) {
	// agency_member has crm read only; campaign read+write.
	p := principal(t, RoleAgencyMember)
	if d := Decide(p, ResourceCampaign, ActionRead, orgScope()); !d.Allowed {
		t.Fatalf("write grant does not cover read: %+v", d)
	}
	if d := Decide(p, ResourceCRM, ActionWrite, orgScope()); d.Allowed {
		t.Fatalf("read grant covered write: %+v", d)
	}
}

func TestDecideOverrideAllow(t *testing.T) {
	p := principal(t, RoleViewer, identity.PermissionOverride{
		UserID: "u1", Resource: "crm", Action: identity.OverrideWrite,
		ScopeType: identity.ScopeOrganization, ScopeID: "org1", Allowed: true,
	})
	d := Decide(p, ResourceCRM, ActionWrite, orgScope())
	if !d.Allowed || d.Reason != "override at organization" {
		t.Fatalf("got %+v", d)
	}
	// Write override also covers read.
	if d := Decide(p, ResourceCRM, ActionRead, orgScope()); !d.Allowed {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideDenyDominatesAllow(t *testing.T) {
	// A broad deny beats a more specific allow.
	p := principal(t, RoleAgencyMember,
		identity.PermissionOverride{
			UserID: "u1", Resource: "campaign", Action: identity.OverrideWrite,
			ScopeType: identity.ScopeTeam, ScopeID: "t1", Allowed: true,
		},
		identity.PermissionOverride{
			UserID: "u1", Resource: "campaign", Action: identity.OverrideWrite,
			ScopeType: identity.ScopeOrganization, ScopeID: "org1", Allowed: false,
		},
	)
	d := Decide(p, ResourceCampaign, ActionWrite, orgScope())
	if d.Allowed || d.Reason != "explicit deny at organization" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideNoneRevokesRoleDefault(t *testing.T) {
	// Viewer has campaign:read by default; an allowed "none" override
	// removes it for both actions.
	p := principal(t, RoleViewer, identity.PermissionOverride{
		UserID: "u1", Resource: "campaign", Action: identity.OverrideNone,
		ScopeType: identity.ScopeBrand, ScopeID: "b1", Allowed: true,
	})
	d := Decide(p, ResourceCampaign, ActionRead, orgScope())
	if d.Allowed || d.Reason != "explicit deny at brand" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideScopeMismatchIgnored(t *testing.T) {
	p := principal(t, RoleViewer, identity.PermissionOverride{
		UserID: "u1", Resource: "crm", Action: identity.OverrideWrite,
		ScopeType: identity.ScopeBrand, ScopeID: "other-brand", Allowed: true,
	})
	d := Decide(p, ResourceCRM, ActionWrite, orgScope())
	if d.Allowed || d.Reason != ReasonNoRule {
		t.Fatalf("override outside scope applied: %+v", d)
	}
}

func TestDecideGlobalOverrideAppliesEverywhere(t *testing.T) {
	p := principal(t, RoleViewer, identity.PermissionOverride{
		UserID: "u1", Resource: "discovery", Action: identity.OverrideRead,
		ScopeType: identity.ScopeGlobal, Allowed: true,
	})
	d := Decide(p, ResourceDiscovery, ActionRead, Scope{OrganizationID: "unrelated"})
	if !d.Allowed || d.Reason != "override at global" {
		t.Fatalf("got %+v", d)
	}
}

func TestDecideSpecificityOrder(t *testing.T) {
	// Team allow and org allow both apply; the reported reason is the
	// most specific one.
	p := principal(t, RoleViewer,
		identity.PermissionOverride{
			UserID: "u1", Resource: "crm", Action: identity.OverrideRead,
			ScopeType: identity.ScopeOrganization, ScopeID: "org1", Allowed: true,
		},
		identity.PermissionOverride{
			UserID: "u1", Resource: "crm", Action: identity.OverrideRead,
			ScopeType: identity.ScopeTeam, ScopeID: "t1", Allowed: true,
		},
	)
	d := Decide(p, ResourceCRM, ActionRead, orgScope())
	if !d.Allowed || d.Reason != "override at team" {
		t.Fatalf("got %+v", d)
	}
}

func TestEffectiveBypass(t *testing.T) {
	got := Effective(principal(t, RoleSuperAdmin))
	if !reflect.DeepEqual(got, []string{"*:*"}) {
		t.Fatalf("got %v", got)
	}
}

func TestEffectiveMergesOverrides(t *testing.T) {
	p := principal(t, RoleViewer,
		identity.PermissionOverride{
			UserID: "u1", Resource: "crm", Action: identity.OverrideWrite,
			ScopeType: identity.ScopeOrganization, ScopeID: "org1", Allowed: true,
		},
		identity.PermissionOverride{
			UserID: "u1", Resource: "campaign", Action: identity.OverrideNone,
			ScopeType: identity.ScopeOrganization, ScopeID: "org1", Allowed: true,
		},
	)
	got := Effective(p)
	want := []string{"analytics:read", "content:read", "crm:read", "crm:write"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCanAssign(t *testing.T) {
	target := &identity.User{ID: "t", OrganizationID: "org1"}

	root := principal(t, RoleRoot)
	if err := CanAssign(root, mustDef(t, RoleRoot), target); err != nil {
		t.Fatalf("root blocked: %v", err)
	}

	admin := principal(t, RoleAgencyAdmin)
	if err := CanAssign(admin, mustDef(t, RoleAgencyMember), target); err != nil {
		t.Fatalf("lower role blocked: %v", err)
	}
	if err := CanAssign(admin, mustDef(t, RoleAgencyAdmin), target); !errors.Is(err, ErrForbidden) {
		t.Fatalf("same level allowed: %v", err)
	}
	if err := CanAssign(admin, mustDef(t, RoleSuperAdmin), target); !errors.Is(err, ErrForbidden) {
		t.Fatalf("higher level allowed: %v", err)
	}

	other := &identity.User{ID: "t2", OrganizationID: "org2"}
	if err := CanAssign(admin, mustDef(t, RoleViewer), other); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-org assignment allowed: %v", err)
	}
	super := principal(t, RoleSuperAdmin)
	if err := CanAssign(super, mustDef(t, RoleViewer), other); err != nil {
		t.Fatalf("bypass cross-org blocked: %v", err)
	}
}

func TestViewerFor(t *testing.T) {
	v := ViewerFor(principal(t, RoleRoot))
	if !v.Bypass {
		t.Fatal("root viewer not bypass")
	}

	v = ViewerFor(principal(t, RoleAgencyAdmin))
	if v.Bypass || v.OrganizationID != "org1" || v.BrandScoped || v.TeamScoped {
		t.Fatalf("agency_admin viewer = %+v", v)
	}

	v = ViewerFor(principal(t, RoleBrandMember))
	if !v.BrandScoped || v.BrandID != "b1" || !v.TeamScoped || v.TeamID != "t1" {
		t.Fatalf("brand_member viewer = %+v", v)
	}

	v = ViewerFor(principal(t, RoleCreator))
	if !v.OwnerOnly {
		t.Fatalf("creator viewer = %+v", v)
	}
}
