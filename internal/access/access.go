// Package access records permission-check outcomes. Denials are always
// recorded; allows are sampled. Writes never sit on the request path.
package access

import (
	"context"
	"time"
)

// Entry is one recorded permission check.
type Entry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Resource       string    `json:"resource"`
	Action         string    `json:"action"`
	Allowed        bool      `json:"allowed"`
	Reason         string    `json:"reason"`
	Path           string    `json:"path"`
	Method         string    `json:"method"`
	RequestID      string    `json:"request_id,omitempty"`
	RemoteAddr     string    `json:"remote_addr,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListQuery narrows a listing. Zero Limit means the store default.
type ListQuery struct {
	OrganizationID string
	UserID         string
	DeniedOnly     bool
	Limit          int
	Offset         int
}

// Store persists entries. Append is called from the background writer,
// never from a request goroutine.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	List(ctx context.Context, q ListQuery) ([]*Entry, error)
}
