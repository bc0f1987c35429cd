// Package pg is the Postgres persistence layer. It implements the
// identity store, the audit and access logs, and the credit ledger on
// one connection pool so administrative writes and their audit entries
// share a transaction.
package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caidence.ai/internal/audit"
	"caidence.ai/internal/identity"
	"caidence.ai/internal/ids"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ identity.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing pool. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Organizations() identity.OrganizationStore { return (*pgOrgs)(s) }
func (s *Store) Brands() identity.BrandStore               { return (*pgBrands)(s) }
func (s *Store) Teams() identity.TeamStore                 { return (*pgTeams)(s) }
func (s *Store) Users() identity.UserStore                 { return (*pgUsers)(s) }
func (s *Store) Roles() identity.RoleStore                 { return (*pgRoles)(s) }
func (s *Store) Overrides() identity.OverrideStore         { return (*pgOverrides)(s) }
func (s *Store) Audit() audit.Store                        { return (*pgAudit)(s) }

// insertAuditTx writes the entry inside the caller's transaction so it
// commits or rolls back with the administrative change.
func insertAuditTx(ctx context.Context, tx *sql.Tx, entry *audit.Entry) error {
	if entry == nil {
		return nil
	}
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
	_, err := tx.ExecContext(ctx, `
		insert into audit_log (id, actor_id, actor_email, organization_id, action, target_id, target_email, details, created_at)
		values ($1, $2, $3, nullif($4,''), $5, nullif($6,''), nullif($7,''), $8, $9)
	`, entry.ID, entry.ActorID, entry.ActorEmail, entry.OrganizationID, entry.Action, entry.TargetID, entry.TargetEmail, details, entry.CreatedAt)
	return err
}

// transientErr reports whether the error is worth one more attempt.
// Connection drops and serialization failures qualify; anything else,
// including context cancellation, does not.
func transientErr(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgErr, ok := maybePgError(err); ok {
		// Class 08 is connection exception, 40001/40P01 are
		// serialization failure and deadlock.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// retryRead runs a side-effect-free read, retrying at most once after a
// short jittered pause when the first attempt fails transiently. Writes
// never go through here.
func retryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if !transientErr(err) {
		return out, err
	}
	select {
	case <-ctx.Done():
		return out, err
	case <-time.After(time.Duration(25+rand.IntN(50)) * time.Millisecond):
	}
	return fn(ctx)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteErr converts driver errors into the package sentinels.
func mapWriteErr(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return identity.ErrConflict
		case pgErrForeignKeyViolation:
			return identity.ErrNotFound
		}
	}
	return err
}
