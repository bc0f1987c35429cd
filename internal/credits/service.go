package credits

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"caidence.ai/internal/ids"
)

// AllotmentFn resolves the monthly allotment for a user, typically by
// looking up the plan tier of the user's organization.
type AllotmentFn func(ctx context.Context, userID string) (Amount, error)

// Service is the credit ledger. Implementations must keep the
// non-negative invariant under concurrent debits.
type Service interface {
	// Balance returns the user's account, initializing it to the plan
	// allotment on first touch.
	Balance(ctx context.Context, userID string) (*Balance, error)

	// HasSufficient reports whether a debit of amount would succeed.
	HasSufficient(ctx context.Context, userID string, amount Amount) (bool, error)

	// Debit atomically subtracts amount and records a transaction.
	// Returns ErrInsufficientFunds without changing the balance when
	// the amount exceeds it.
	Debit(ctx context.Context, userID, txType string, amount Amount, description, correlationID string) (*Transaction, error)

	// Credit atomically adds amount (topup or adjustment).
	Credit(ctx context.Context, userID, txType string, amount Amount, description string) (*Transaction, error)

	// ResetMonthly sets every balance back to its monthly allotment.
	// Unused credits do not roll over.
	ResetMonthly(ctx context.Context) (int, error)

	// Usage summarizes movements in [from, to).
	Usage(ctx context.Context, userID string, from, to time.Time) (*UsageStats, error)

	// ListTransactions returns movements newest first.
	ListTransactions(ctx context.Context, q ListQuery) ([]*Transaction, error)
}

// InMemory implements Service with process-local state.
type InMemory struct {
	allotment AllotmentFn
	now       func() time.Time

	mu       sync.Mutex
	balances map[string]*Balance
	txs      []*Transaction
}

func NewInMemory(allotment AllotmentFn) *InMemory {
	return &InMemory{
		allotment: allotment,
		now:       func() time.Time { return time.Now().UTC() },
		balances:  make(map[string]*Balance),
	}
}

// balanceLocked fetches or lazily initializes the account. Caller holds mu.
func (m *InMemory) balanceLocked(ctx context.Context, userID string) (*Balance, error) {
	if b, ok := m.balances[userID]; ok {
		return b, nil
	}
	allot, err := m.allotment(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve allotment: %w", err)
	}
	now := m.now()
	b := &Balance{
		UserID:           userID,
		Balance:          allot,
		MonthlyAllotment: allot,
		LastResetAt:      now,
		UpdatedAt:        now,
	}
	m.balances[userID] = b
	return b, nil
}

func (m *InMemory) Balance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.balanceLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (m *InMemory) HasSufficient(ctx context.Context, userID string, amount Amount) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.balanceLocked(ctx, userID)
	if err != nil {
		return false, err
	}
	return b.Balance >= amount, nil
}

func (m *InMemory) Debit(ctx context.Context, userID, txType string, amount Amount, description, correlationID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.balanceLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b.Balance < amount {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, b.Balance, amount)
	}
	before := b.Balance
	b.Balance -= amount
	b.TotalSpent += amount
	b.UpdatedAt = m.now()
	tx := &Transaction{
		ID:            ids.New(),
		UserID:        userID,
		Type:          txType,
		Amount:        -amount,
		BalanceBefore: before,
		BalanceAfter:  b.Balance,
		Description:   description,
		CorrelationID: correlationID,
		CreatedAt:     b.UpdatedAt,
	}
	m.txs = append(m.txs, tx)
	cp := *tx
	return &cp, nil
}

func (m *InMemory) Credit(ctx context.Context, userID, txType string, amount Amount, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := m.balanceLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	before := b.Balance
	b.Balance += amount
	b.UpdatedAt = m.now()
	tx := &Transaction{
		ID:            ids.New(),
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  b.Balance,
		Description:   description,
		CreatedAt:     b.UpdatedAt,
	}
	m.txs = append(m.txs, tx)
	cp := *tx
	return &cp, nil
}

func (m *InMemory) ResetMonthly(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.balances {
		allot, err := m.allotment(ctx, b.UserID)
		if err != nil {
			return n, fmt.Errorf("resolve allotment for %s: %w", b.UserID, err)
		}
		before := b.Balance
		now := m.now()
		b.Balance = allot
		b.MonthlyAllotment = allot
		b.LastResetAt = now
		b.UpdatedAt = now
		m.txs = append(m.txs, &Transaction{
			ID:            ids.New(),
			UserID:        b.UserID,
			Type:          TxMonthlyReset,
			Amount:        allot - before,
			BalanceBefore: before,
			BalanceAfter:  allot,
			CreatedAt:     now,
		})
		n++
	}
	return n, nil
}

func (m *InMemory) Usage(_ context.Context, userID string, from, to time.Time) (*UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &UsageStats{
		UserID: userID,
		From:   from,
		To:     to,
		ByType: make(map[string]int64),
	}
	for _, tx := range m.txs {
		if tx.UserID != userID {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		if tx.Amount < 0 {
			stats.TotalSpent -= tx.Amount
		} else {
			stats.TotalEarned += tx.Amount
		}
		stats.Count++
		stats.ByType[tx.Type]++
	}
	return stats, nil
}

func (m *InMemory) ListTransactions(_ context.Context, q ListQuery) ([]*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, tx := range m.txs {
		if q.UserID != "" && tx.UserID != q.UserID {
			continue
		}
		if q.Type != "" && tx.Type != q.Type {
			continue
		}
		cp := *tx
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := q.Limit
	if limit <= 0 {
		limit = 50
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
