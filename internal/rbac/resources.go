// Package rbac holds the role catalog and the permission engine that
// decides, for every request, whether a caller may perform an action
// on a resource within a tenant scope.
package rbac

import (
	"fmt"
	"sort"

	"caidence.ai/internal/identity"
)

// Resource names the protected surfaces. The set is closed; custom
// role matrices are validated against it.
type Resource string

const (
	ResourceCampaign     Resource = "campaign"
	ResourceContent      Resource = "content"
	ResourceAnalytics    Resource = "analytics"
	ResourceDiscovery    Resource = "discovery"
	ResourceCRM          Resource = "crm"
	ResourceDesignStudio Resource = "design_studio"
	ResourceMarcom       Resource = "marcom"
	ResourceWorkflow     Resource = "workflow"
	ResourceCreators     Resource = "creators"
	ResourceAdmin        Resource = "admin"
	ResourceAgency       Resource = "agency"
	ResourceBrand        Resource = "brand"
)

var allResources = map[Resource]struct{}{
	ResourceCampaign: {}, ResourceContent: {}, ResourceAnalytics: {},
	ResourceDiscovery: {}, ResourceCRM: {}, ResourceDesignStudio: {},
	ResourceMarcom: {}, ResourceWorkflow: {}, ResourceCreators: {},
	ResourceAdmin: {}, ResourceAgency: {}, ResourceBrand: {},
}

// ValidResource reports whether name is part of the enumerated set.
func ValidResource(name string) bool {
	_, ok := allResources[Resource(name)]
	return ok
}

// Action is what a caller wants to do with a resource.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// ActionSet is a bitmap of granted actions.
type ActionSet uint8

const (
	actRead ActionSet = 1 << iota
	actWrite
)

// Allows reports whether the set covers the action. Write always
// implies read; there is no implicit narrowing.
func (s ActionSet) Allows(a Action) bool {
	switch a {
	case ActionRead:
		return s&(actRead|actWrite) != 0
	case ActionWrite:
		return s&actWrite != 0
	default:
		return false
	}
}

// Strings renders the set in matrix form.
func (s ActionSet) Strings() []string {
	var out []string
	if s&actRead != 0 {
		out = append(out, string(ActionRead))
	}
	if s&actWrite != 0 {
		out = append(out, string(ActionWrite))
	}
	return out
}

// Matrix maps resources to granted actions.
type Matrix map[Resource]ActionSet

// Definition is a compiled role: the persisted row with its matrix
// parsed into bitmaps.
type Definition struct {
	ID          string
	Name        string
	DisplayName string
	Level       int
	Matrix      Matrix
}

// CompileRole parses a persisted role row, validating every matrix key
// against the enumerated resource set.
func CompileRole(role *identity.Role) (Definition, error) {
	def := Definition{
		ID:          role.ID,
		Name:        role.Name,
		DisplayName: role.DisplayName,
		Level:       role.Level,
		Matrix:      make(Matrix, len(role.Matrix)),
	}
	for res, actions := range role.Matrix {
		if !ValidResource(res) {
			return Definition{}, fmt.Errorf("%w: unknown resource %q in role %s", identity.ErrInvalidInput, res, role.Name)
		}
		var set ActionSet
		for _, a := range actions {
			switch Action(a) {
			case ActionRead:
				set |= actRead
			case ActionWrite:
				set |= actWrite
			default:
				return Definition{}, fmt.Errorf("%w: unknown action %q in role %s", identity.ErrInvalidInput, a, role.Name)
			}
		}
		def.Matrix[Resource(res)] = set
	}
	return def, nil
}

// MatrixStrings renders a compiled matrix back to its persisted form.
func MatrixStrings(m Matrix) map[string][]string {
	out := make(map[string][]string, len(m))
	keys := make([]Resource, 0, len(m))
	for res := range m {
		keys = append(keys, res)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, res := range keys {
		out[string(res)] = m[res].Strings()
	}
	return out
}
