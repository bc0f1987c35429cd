package rbac

import (
	"fmt"
	"sort"
	"strings"

	"caidence.ai/internal/identity"
)

// Machine-readable decision reasons. Callers receive only a generic
// denial; the reason is recorded in the access log.
const (
	ReasonBypass      = "platform bypass"
	ReasonRoleDefault = "role default"
	ReasonNoRule      = "no rule matched"
)

// Scope is the tenant envelope a decision is requested for.
type Scope struct {
	OrganizationID string
	BrandID        string
	TeamID         string
}

// Principal is a user together with everything the engine needs:
// the compiled role definition and the user's override list. Loaded
// once per request; overrides are never cached across requests so
// revocation takes effect immediately.
type Principal struct {
	User      *identity.User
	Role      Definition
	Overrides []identity.PermissionOverride
}

// Bypass reports whether the principal short-circuits every check.
func (p Principal) Bypass() bool {
	return IsPlatformBypass(p.Role.Name)
}

// Decision is the engine's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

// specificity orders override scopes most specific first.
var specificity = map[string]int{
	identity.ScopeTeam:         0,
	identity.ScopeBrand:        1,
	identity.ScopeOrganization: 2,
	identity.ScopeGlobal:       3,
}

// Decide resolves (resource, action, scope) for the principal.
// Resolution order: platform bypass, explicit deny, explicit allow,
// role default, implicit deny. Deny dominates at any applicable scope.
func Decide(p Principal, res Resource, act Action, scope Scope) Decision {
	if p.Bypass() {
		return allow(ReasonBypass)
	}

	applicable := applicableOverrides(p.Overrides, res, scope)

	// Deny wins even when a more specific allow exists.
	for _, ov := range applicable {
		if !ov.Allowed {
			return deny("explicit deny at " + ov.ScopeType)
		}
	}

	revokedAt := ""
	for _, ov := range applicable {
		if ov.Action == identity.OverrideNone {
			// An allow carrying "none" revokes both actions,
			// including the role default.
			if revokedAt == "" {
				revokedAt = ov.ScopeType
			}
			continue
		}
		if overrideCovers(ov.Action, act) {
			return allow("override at " + ov.ScopeType)
		}
	}
	if revokedAt != "" {
		return deny("explicit deny at " + revokedAt)
	}

	if p.Role.Matrix[res].Allows(act) {
		return allow(ReasonRoleDefault)
	}
	return deny(ReasonNoRule)
}

// applicableOverrides filters the principal's overrides down to those
// whose scope contains the requested scope, ordered most specific
// first (team < brand < organization < global).
func applicableOverrides(overrides []identity.PermissionOverride, res Resource, scope Scope) []identity.PermissionOverride {
	var out []identity.PermissionOverride
	for _, ov := range overrides {
		if ov.Resource != string(res) {
			continue
		}
		switch ov.ScopeType {
		case identity.ScopeGlobal:
		case identity.ScopeOrganization:
			if ov.ScopeID == "" || ov.ScopeID != scope.OrganizationID {
				continue
			}
		case identity.ScopeBrand:
			if ov.ScopeID == "" || ov.ScopeID != scope.BrandID {
				continue
			}
		case identity.ScopeTeam:
			if ov.ScopeID == "" || ov.ScopeID != scope.TeamID {
				continue
			}
		default:
			continue
		}
		out = append(out, ov)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return specificity[out[i].ScopeType] < specificity[out[j].ScopeType]
	})
	return out
}

// overrideCovers reports whether the granted action satisfies the
// requested one. Write covers read; "none" covers nothing.
func overrideCovers(granted string, act Action) bool {
	switch granted {
	case identity.OverrideWrite:
		return true
	case identity.OverrideRead:
		return act == ActionRead
	default:
		return false
	}
}

// Effective enumerates every "resource:action" the principal holds at
// its own scope. Bypass principals get the wildcard token.
func Effective(p Principal) []string {
	if p.Bypass() {
		return []string{"*:*"}
	}

	grants := make(map[string]struct{})
	for res, set := range p.Role.Matrix {
		for _, a := range set.Strings() {
			grants[string(res)+":"+a] = struct{}{}
		}
	}
	revoked := make(map[string]struct{})
	for _, ov := range p.Overrides {
		if !ov.Allowed || ov.Action == identity.OverrideNone {
			revoked[ov.Resource] = struct{}{}
			continue
		}
		grants[ov.Resource+":read"] = struct{}{}
		if ov.Action == identity.OverrideWrite {
			grants[ov.Resource+":write"] = struct{}{}
		}
	}
	out := make([]string, 0, len(grants))
	for g := range grants {
		res := g[:strings.IndexByte(g, ':')]
		if _, gone := revoked[res]; gone {
			continue
		}
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// CanAssign enforces the role-assignment rule: root assigns anything;
// everyone else assigns only strictly lower roles, and only inside
// their own organization unless they hold platform bypass.
func CanAssign(actor Principal, targetRole Definition, target *identity.User) error {
	if actor.Role.Name == RoleRoot {
		return nil
	}
	if actor.Role.Level <= targetRole.Level {
		return fmt.Errorf("%w: role %s is not below your level", ErrForbidden, targetRole.Name)
	}
	if !actor.Bypass() && target != nil && actor.User.OrganizationID != target.OrganizationID {
		return fmt.Errorf("%w: target belongs to another organization", ErrForbidden)
	}
	return nil
}

// ViewerFor derives the tenant envelope the principal sees data
// through.
func ViewerFor(p Principal) identity.Viewer {
	v := identity.Viewer{UserID: p.User.ID}
	if p.Bypass() {
		v.Bypass = true
		return v
	}
	v.OrganizationID = p.User.OrganizationID
	if IsBrandLevel(p.Role.Name) && p.User.BrandID != "" {
		v.BrandScoped = true
		v.BrandID = p.User.BrandID
	}
	if !IsAgencyLevel(p.Role.Name) && p.User.TeamID != "" {
		v.TeamScoped = true
		v.TeamID = p.User.TeamID
	}
	if p.Role.Name == RoleCreator {
		v.OwnerOnly = true
	}
	return v
}

// ScopeFor is the scope a request is evaluated against when the
// caller operates inside its own envelope.
func ScopeFor(u *identity.User) Scope {
	return Scope{
		OrganizationID: u.OrganizationID,
		BrandID:        u.BrandID,
		TeamID:         u.TeamID,
	}
}
