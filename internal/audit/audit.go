// Package audit records administrative changes in an append-only log.
// Entries cache actor and target emails so the record outlives its
// referents; rows are never mutated or deleted.
package audit

import (
	"context"
	"time"
)

// Administrative actions recorded in the log.
const (
	ActionRoleAssigned         = "role_assigned"
	ActionRoleRevoked          = "role_revoked"
	ActionOverrideGranted      = "override_granted"
	ActionOverrideRevoked      = "override_revoked"
	ActionOverrideUpdated      = "override_updated"
	ActionRoleDefinitionEdited = "role_definition_edited"
	ActionUserInvited          = "user_invited"
	ActionUserDeactivated      = "user_deactivated"
	ActionOrgPlanChanged       = "organization_plan_changed"
)

// Entry is one append-only audit record. OrganizationID is stamped at
// write time so tenant-scoped reads do not depend on the actor's user
// row still existing.
type Entry struct {
	ID             string         `json:"id"`
	ActorID        string         `json:"actor_id"`
	ActorEmail     string         `json:"actor_email"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Action         string         `json:"action"`
	TargetID       string         `json:"target_id,omitempty"`
	TargetEmail    string         `json:"target_email,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ListQuery narrows and paginates audit reads.
type ListQuery struct {
	OrganizationID string // empty means all organizations (platform bypass only)
	Limit          int
	Offset         int
}

// Store persists audit entries. Implementations that share a database
// transaction with the administrative write satisfy the
// committed-together invariant.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, q ListQuery) ([]Entry, error)
}

// NewEntry stamps a fresh entry. The ID is assigned by the store.
func NewEntry(actorID, actorEmail, action string) *Entry {
	return &Entry{
		ActorID:    actorID,
		ActorEmail: actorEmail,
		Action:     action,
		Details:    map[string]any{},
		CreatedAt:  time.Now().UTC(),
	}
}

// WithActorOrg stamps the actor's organization for tenant-scoped
// listing.
func (e *Entry) WithActorOrg(orgID string) *Entry {
	e.OrganizationID = orgID
	return e
}

// WithTarget attaches the affected user.
func (e *Entry) WithTarget(id, email string) *Entry {
	e.TargetID = id
	e.TargetEmail = email
	return e
}

// WithDetail records one before/after value in the details blob.
func (e *Entry) WithDetail(key string, value any) *Entry {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}
