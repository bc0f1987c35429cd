package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caidence.ai/internal/access"
	"caidence.ai/internal/ids"
)

// AccessLog is the Postgres sink for permission-check records. It
// satisfies access.Store and is fed by the background writer only.
type AccessLog Store

func (s *Store) AccessLog() *AccessLog { return (*AccessLog)(s) }

var _ access.Store = (*AccessLog)(nil)

func (s *AccessLog) Append(ctx context.Context, e *access.Entry) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into access_log (id, user_id, organization_id, resource, action, allowed, reason,
			path, method, request_id, remote_addr, created_at)
		values ($1, $2, nullif($3,''), $4, $5, $6, $7, $8, $9, nullif($10,''), nullif($11,''), $12)
	`, e.ID, e.UserID, e.OrganizationID, e.Resource, e.Action, e.Allowed, e.Reason,
		e.Path, e.Method, e.RequestID, e.RemoteAddr, e.CreatedAt)
	return err
}

func (s *AccessLog) List(ctx context.Context, q access.ListQuery) ([]*access.Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var (
		conds []string
		args  []any
	)
	if q.OrganizationID != "" {
		args = append(args, q.OrganizationID)
		conds = append(conds, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if q.UserID != "" {
		args = append(args, q.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if q.DeniedOnly {
		conds = append(conds, "allowed = false")
	}
	where := "true"
	if len(conds) > 0 {
		where = strings.Join(conds, " and ")
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
		select id, user_id, coalesce(organization_id,''), resource, action, allowed, reason,
			path, method, coalesce(request_id,''), coalesce(remote_addr,''), created_at
		from access_log
		where %s
		order by created_at desc
		limit $%d offset $%d`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Entry
	for rows.Next() {
		var e access.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrganizationID, &e.Resource, &e.Action, &e.Allowed,
			&e.Reason, &e.Path, &e.Method, &e.RequestID, &e.RemoteAddr, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
