package identity

// Viewer is the tenant envelope a caller sees data through. It is
// derived from the caller's user record and role once per request and
// applied uniformly to every list and point read.
type Viewer struct {
	UserID string

	// Bypass disables all restrictions (platform roles).
	Bypass bool

	// OrganizationID restricts org-scoped entities. Empty means the
	// caller has no organization and sees only unowned rows.
	OrganizationID string

	// BrandScoped restricts brand-carrying entities to BrandID.
	// Agency-level callers see every brand of their organization.
	BrandScoped bool
	BrandID     string

	// TeamScoped restricts team-carrying entities to TeamID.
	TeamScoped bool
	TeamID     string

	// OwnerOnly restricts owner-carrying entities to the caller's own
	// rows (creator role).
	OwnerOnly bool
}

// RowScope carries the tenancy attributes of a single row. Empty
// fields mean the entity does not carry that attribute.
type RowScope struct {
	OrganizationID string
	HasOrg         bool
	BrandID        string
	HasBrand       bool
	TeamID         string
	HasTeam        bool
	OwnerID        string
	HasOwner       bool
}

// Sees reports whether the viewer may observe the row. Point reads
// that fail this check are reported as not-found so callers outside
// the scope cannot probe for existence.
func (v Viewer) Sees(row RowScope) bool {
	if v.Bypass {
		return true
	}
	if row.HasOrg {
		if v.OrganizationID == "" {
			if row.OrganizationID != "" {
				return false
			}
		} else if row.OrganizationID != v.OrganizationID {
			return false
		}
	}
	if row.HasBrand && v.BrandScoped && row.BrandID != v.BrandID {
		return false
	}
	if row.HasTeam && v.TeamScoped && row.TeamID != v.TeamID {
		return false
	}
	if row.HasOwner && v.OwnerOnly && row.OwnerID != v.UserID {
		return false
	}
	return true
}
