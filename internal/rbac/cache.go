package rbac

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"caidence.ai/internal/identity"
)

const catalogCacheSize = 64

// Catalog is a process-wide read-through cache over role definitions.
// Entries are invalidated whenever a role definition is edited; user
// overrides are deliberately not cached here.
type Catalog struct {
	roles identity.RoleStore
	cache *lru.Cache[string, Definition]
}

func NewCatalog(roles identity.RoleStore) (*Catalog, error) {
	cache, err := lru.New[string, Definition](catalogCacheSize)
	if err != nil {
		return nil, err
	}
	return &Catalog{roles: roles, cache: cache}, nil
}

// Get returns the compiled definition for the role name.
func (c *Catalog) Get(ctx context.Context, name string) (Definition, error) {
	if def, ok := c.cache.Get(name); ok {
		return def, nil
	}
	role, err := c.roles.Find(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	def, err := CompileRole(role)
	if err != nil {
		return Definition{}, err
	}
	c.cache.Add(name, def)
	return def, nil
}

// Invalidate drops one role from the cache. Called on every
// role_definition_edited event.
func (c *Catalog) Invalidate(name string) {
	c.cache.Remove(name)
}

// Purge drops the whole cache.
func (c *Catalog) Purge() {
	c.cache.Purge()
}
