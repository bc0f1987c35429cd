package access

import (
	"context"
	"sort"
	"sync"
)

const defaultListLimit = 100

// InMemory keeps entries in process memory. Suitable for tests and
// single-node development runs.
type InMemory struct {
	mu      sync.RWMutex
	entries []*Entry
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(_ context.Context, e *Entry) error {
	cp := *e
	m.mu.Lock()
	m.entries = append(m.entries, &cp)
	m.mu.Unlock()
	return nil
}

func (m *InMemory) List(_ context.Context, q ListQuery) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Entry
	for _, e := range m.entries {
		if q.OrganizationID != "" && e.OrganizationID != q.OrganizationID {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if q.DeniedOnly && e.Allowed {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
