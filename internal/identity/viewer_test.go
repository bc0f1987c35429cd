package identity

import "testing"

func TestViewerSees(t *testing.T) {
	orgRow := RowScope{OrganizationID: "org1", HasOrg: true}
	cases := []struct {
		name string
		v    Viewer
		row  RowScope
		want bool
	}{
		{"bypass sees everything", Viewer{Bypass: true}, orgRow, true},
		{"same org", Viewer{UserID: "u", OrganizationID: "org1"}, orgRow, true},
		{"other org", Viewer{UserID: "u", OrganizationID: "org2"}, orgRow, false},
		{"no org sees unowned", Viewer{UserID: "u"}, RowScope{HasOrg: true}, true},
		{"no org blocked from owned", Viewer{UserID: "u"}, orgRow, false},
		{
			"brand scoped match",
			Viewer{UserID: "u", OrganizationID: "org1", BrandScoped: true, BrandID: "b1"},
			RowScope{OrganizationID: "org1", HasOrg: true, BrandID: "b1", HasBrand: true},
			true,
		},
		{
			"brand scoped mismatch",
			Viewer{UserID: "u", OrganizationID: "org1", BrandScoped: true, BrandID: "b1"},
			RowScope{OrganizationID: "org1", HasOrg: true, BrandID: "b2", HasBrand: true},
			false,
		},
		{
			"brand scoped ignores brandless rows",
			Viewer{UserID: "u", OrganizationID: "org1", BrandScoped: true, BrandID: "b1"},
			orgRow,
			true,
		},
		{
			"team scoped mismatch",
			Viewer{UserID: "u", OrganizationID: "org1", TeamScoped: true, TeamID: "t1"},
			RowScope{OrganizationID: "org1", HasOrg: true, TeamID: "t2", HasTeam: true},
			false,
		},
		{
			"owner only own row",
			Viewer{UserID: "u", OrganizationID: "org1", OwnerOnly: true},
			RowScope{OrganizationID: "org1", HasOrg: true, OwnerID: "u", HasOwner: true},
			true,
		},
		{
			"owner only other row",
			Viewer{UserID: "u", OrganizationID: "org1", OwnerOnly: true},
			RowScope{OrganizationID: "org1", HasOrg: true, OwnerID: "other", HasOwner: true},
			false,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.v.Sees(c.row); got != c.want {
				t.Fatalf("Sees = %v, want %v", got, c.want)
			}
		})
	}
}
