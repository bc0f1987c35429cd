package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caidence.ai/internal/credits"
	"caidence.ai/internal/ids"
)

// CreditLedger implements the credit service on Postgres. Debits lock
// the account row so the non-negative invariant holds under concurrent
// requests.
type CreditLedger struct {
	db        *sql.DB
	allotment credits.AllotmentFn
}

func (s *Store) Credits(allotment credits.AllotmentFn) *CreditLedger {
	return &CreditLedger{db: s.db, allotment: allotment}
}

var _ credits.Service = (*CreditLedger)(nil)

const balanceColumns = `user_id, balance, monthly_allotment, total_spent, last_reset_at, updated_at`

func scanBalance(row interface{ Scan(...any) error }) (*credits.Balance, error) {
	var b credits.Balance
	if err := row.Scan(&b.UserID, &b.Balance, &b.MonthlyAllotment, &b.TotalSpent, &b.LastResetAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// balanceForUpdate locks the account row inside tx, creating it at the
// plan allotment on first touch.
func (l *CreditLedger) balanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (*credits.Balance, error) {
	b, err := scanBalance(tx.QueryRowContext(ctx,
		`select `+balanceColumns+` from credit_accounts where user_id = $1 for update`, userID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	allot, err := l.allotment(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve allotment: %w", err)
	}
	b, err = scanBalance(tx.QueryRowContext(ctx, `
		insert into credit_accounts (user_id, balance, monthly_allotment, last_reset_at)
		values ($1, $2, $2, now())
		on conflict (user_id) do update set updated_at = credit_accounts.updated_at
		returning `+balanceColumns, userID, allot))
	if err != nil {
		return nil, mapWriteErr(err)
	}
	return b, nil
}

func (l *CreditLedger) Balance(ctx context.Context, userID string) (*credits.Balance, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	b, err := l.balanceForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *CreditLedger) HasSufficient(ctx context.Context, userID string, amount credits.Amount) (bool, error) {
	if amount <= 0 {
		return false, credits.ErrInvalidAmount
	}
	b, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.Balance >= amount, nil
}

func (l *CreditLedger) Debit(ctx context.Context, userID, txType string, amount credits.Amount, description, correlationID string) (*credits.Transaction, error) {
	if amount <= 0 {
		return nil, credits.ErrInvalidAmount
	}
	return l.apply(ctx, userID, txType, -amount, description, correlationID)
}

func (l *CreditLedger) Credit(ctx context.Context, userID, txType string, amount credits.Amount, description string) (*credits.Transaction, error) {
	if amount <= 0 {
		return nil, credits.ErrInvalidAmount
	}
	return l.apply(ctx, userID, txType, amount, description, "")
}

// apply moves the balance by delta under a row lock and records the
// transaction in the same database transaction.
func (l *CreditLedger) apply(ctx context.Context, userID, txType string, delta credits.Amount, description, correlationID string) (*credits.Transaction, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := l.balanceForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	after := b.Balance + delta
	if after < 0 {
		return nil, fmt.Errorf("%w: balance %d, need %d", credits.ErrInsufficientFunds, b.Balance, -delta)
	}
	spent := credits.Amount(0)
	if delta < 0 {
		spent = -delta
	}
	if _, err := tx.ExecContext(ctx, `
		update credit_accounts
		set balance = $1, total_spent = total_spent + $2, updated_at = now()
		where user_id = $3
	`, after, spent, userID); err != nil {
		return nil, err
	}

	rec := &credits.Transaction{
		ID:            ids.New(),
		UserID:        userID,
		Type:          txType,
		Amount:        delta,
		BalanceBefore: b.Balance,
		BalanceAfter:  after,
		CorrelationID: correlationID,
		Description:   description,
	}
	row := tx.QueryRowContext(ctx, `
		insert into credit_transactions (id, user_id, type, amount,
			balance_before, balance_after, correlation_id, description)
		values ($1, $2, $3, $4, $5, $6, nullif($7,''), nullif($8,''))
		returning created_at
	`, rec.ID, rec.UserID, rec.Type, rec.Amount,
		rec.BalanceBefore, rec.BalanceAfter, rec.CorrelationID, rec.Description)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return nil, mapWriteErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *CreditLedger) ResetMonthly(ctx context.Context) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`select user_id, balance from credit_accounts for update`)
	if err != nil {
		return 0, err
	}
	type state struct {
		userID string
		before credits.Amount
	}
	var states []state
	for rows.Next() {
		var st state
		if err := rows.Scan(&st.userID, &st.before); err != nil {
			rows.Close()
			return 0, err
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, st := range states {
		allot, err := l.allotment(ctx, st.userID)
		if err != nil {
			return 0, fmt.Errorf("resolve allotment for %s: %w", st.userID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			update credit_accounts
			set balance = $1, monthly_allotment = $1, last_reset_at = now(), updated_at = now()
			where user_id = $2
		`, allot, st.userID); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into credit_transactions (id, user_id, type, amount, balance_before, balance_after)
			values ($1, $2, $3, $4, $5, $6)
		`, ids.New(), st.userID, credits.TxMonthlyReset, allot-st.before, st.before, allot); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(states), nil
}

func (l *CreditLedger) Usage(ctx context.Context, userID string, from, to time.Time) (*credits.UsageStats, error) {
	stats := &credits.UsageStats{
		UserID: userID,
		From:   from,
		To:     to,
		ByType: map[string]int64{},
	}
	rows, err := l.db.QueryContext(ctx, `
		select type,
			count(*),
			coalesce(sum(case when amount < 0 then -amount else 0 end), 0),
			coalesce(sum(case when amount > 0 then amount else 0 end), 0)
		from credit_transactions
		where user_id = $1 and created_at >= $2 and created_at < $3
		group by type
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txType        string
			count         int64
			spent, earned credits.Amount
		)
		if err := rows.Scan(&txType, &count, &spent, &earned); err != nil {
			return nil, err
		}
		stats.ByType[txType] = count
		stats.Count += count
		stats.TotalSpent += spent
		stats.TotalEarned += earned
	}
	return stats, rows.Err()
}

func (l *CreditLedger) ListTransactions(ctx context.Context, q credits.ListQuery) ([]*credits.Transaction, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	args := []any{q.UserID}
	typeCond := ""
	if q.Type != "" {
		args = append(args, q.Type)
		typeCond = fmt.Sprintf(" and type = $%d", len(args))
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`
		select id, user_id, type, amount,
			balance_before, balance_after, coalesce(correlation_id,''), coalesce(description,''), created_at
		from credit_transactions
		where user_id = $1%s
		order by created_at desc
		limit $%d offset $%d`, typeCond, len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credits.Transaction
	for rows.Next() {
		var t credits.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount,
			&t.BalanceBefore, &t.BalanceAfter, &t.CorrelationID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
