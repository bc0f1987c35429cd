// Package tenant builds SQL predicates that mirror the in-memory
// visibility rule, so Postgres-backed lists and the in-memory store
// return exactly the same rows for the same viewer.
package tenant

import (
	"fmt"
	"strings"

	"caidence.ai/internal/identity"
)

// Table names the tenancy columns an entity carries. An empty column
// means the entity does not carry that attribute and the corresponding
// restriction does not apply.
type Table struct {
	OrgColumn   string
	BrandColumn string
	TeamColumn  string
	OwnerColumn string
}

// Filter renders the visibility predicate for the viewer over the
// table. argPos is the first positional placeholder to use; the
// returned predicate references $argPos.. and args holds the bound
// values in order. A bypass viewer yields "true" and no args.
func Filter(v identity.Viewer, t Table, argPos int) (string, []any) {
	if v.Bypass {
		return "true", nil
	}

	var conds []string
	var args []any

	if t.OrgColumn != "" {
		if v.OrganizationID == "" {
			// No organization: only unowned rows are visible.
			conds = append(conds, fmt.Sprintf("(%s is null or %s = '')", t.OrgColumn, t.OrgColumn))
		} else {
			conds = append(conds, fmt.Sprintf("%s = $%d", t.OrgColumn, argPos))
			args = append(args, v.OrganizationID)
			argPos++
		}
	}
	if t.BrandColumn != "" && v.BrandScoped {
		conds = append(conds, fmt.Sprintf("%s = $%d", t.BrandColumn, argPos))
		args = append(args, v.BrandID)
		argPos++
	}
	if t.TeamColumn != "" && v.TeamScoped {
		conds = append(conds, fmt.Sprintf("%s = $%d", t.TeamColumn, argPos))
		args = append(args, v.TeamID)
		argPos++
	}
	if t.OwnerColumn != "" && v.OwnerOnly {
		conds = append(conds, fmt.Sprintf("%s = $%d", t.OwnerColumn, argPos))
		args = append(args, v.UserID)
		argPos++
	}

	if len(conds) == 0 {
		return "true", nil
	}
	return strings.Join(conds, " and "), args
}
