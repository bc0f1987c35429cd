package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"caidence.ai/internal/audit"
	"caidence.ai/internal/ids"
)

type pgAudit Store

// Append writes a standalone entry. Administrative writes go through
// insertAuditTx instead so the entry shares the mutation's transaction.
func (s *pgAudit) Append(ctx context.Context, entry *audit.Entry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	details := []byte("{}")
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, actor_email, organization_id, action, target_id, target_email, details, created_at)
		values ($1, $2, $3, nullif($4,''), $5, nullif($6,''), nullif($7,''), $8, $9)
	`, entry.ID, entry.ActorID, entry.ActorEmail, entry.OrganizationID, entry.Action, entry.TargetID, entry.TargetEmail, details, entry.CreatedAt)
	return err
}

func (s *pgAudit) List(ctx context.Context, q audit.ListQuery) ([]audit.Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		select id, actor_id, actor_email, coalesce(organization_id,''), action,
			coalesce(target_id,''), coalesce(target_email,''), details, created_at
		from audit_log`
	args := []any{}
	if q.OrganizationID != "" {
		// The organization was stamped at write time, so entries stay
		// visible after the actor's user row is gone.
		query += `
		where organization_id = $1`
		args = append(args, q.OrganizationID)
	}
	query += fmt.Sprintf(`
		order by created_at desc
		limit $%d offset $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorEmail, &e.OrganizationID, &e.Action, &e.TargetID, &e.TargetEmail, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
