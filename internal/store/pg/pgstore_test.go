package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"caidence.ai/internal/identity"
)

func TestRetryReadRecoversOnce(t *testing.T) {
	calls := 0
	got, err := retryRead(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", driver.ErrBadConn
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryReadGivesUpAfterSecondFailure(t *testing.T) {
	calls := 0
	_, err := retryRead(context.Background(), func(context.Context) (string, error) {
		calls++
		return "", &pgconn.PgError{Code: "40001"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestRetryReadDoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	_, err := retryRead(context.Background(), func(context.Context) (*identity.User, error) {
		calls++
		return nil, identity.ErrNotFound
	})
	if !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestTransientErrSkipsCancellation(t *testing.T) {
	if transientErr(context.Canceled) {
		t.Fatal("context.Canceled must not be retried")
	}
	if !transientErr(&pgconn.PgError{Code: "08006"}) {
		t.Fatal("connection failure should be retried")
	}
}
