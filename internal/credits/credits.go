// Package credits meters billable platform actions. Every user holds
// one account; balances never go negative, and every movement leaves a
// transaction with the balance before and after.
package credits

import (
	"errors"
	"fmt"
	"time"
)

// Amount is credit in hundredths, so 150 means 1.5 credits. Integer
// arithmetic only.
type Amount int64

// Credits renders the amount in whole-credit units for display.
func (a Amount) Credits() float64 { return float64(a) / 100 }

// FromCredits converts whole credits to hundredths.
func FromCredits(c int64) Amount { return Amount(c * 100) }

// Transaction types.
const (
	TxDiscoverySearch = "discovery_search"
	TxCreatorEnrich   = "creator_enrich"
	TxPostDetails     = "post_details"
	TxMonthlyReset    = "monthly_reset"
	TxTopup           = "topup"
	TxAdjustment      = "adjustment"
)

// Costs of metered actions, in hundredths of a credit. This table is
// the only place cost magnitudes live.
var costs = map[string]Amount{
	TxDiscoverySearch: 1,
	TxCreatorEnrich:   5,
	TxPostDetails:     3,
}

// Cost returns the debit amount for a metered transaction type.
func Cost(txType string) (Amount, error) {
	c, ok := costs[txType]
	if !ok {
		return 0, fmt.Errorf("%w: no cost for transaction type %q", ErrInvalidAmount, txType)
	}
	return c, nil
}

// Balance is the current account state of one user. TotalSpent only
// ever grows.
type Balance struct {
	UserID           string    `json:"user_id"`
	Balance          Amount    `json:"balance"`
	MonthlyAllotment Amount    `json:"monthly_allotment"`
	TotalSpent       Amount    `json:"total_spent"`
	LastResetAt      time.Time `json:"last_reset_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Transaction is one movement on a user's balance. Amount is signed:
// negative for debits, positive for credits.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          string    `json:"type"`
	Amount        Amount    `json:"amount"`
	BalanceBefore Amount    `json:"balance_before"`
	BalanceAfter  Amount    `json:"balance_after"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UsageStats summarizes spend over a window.
type UsageStats struct {
	UserID      string           `json:"user_id"`
	From        time.Time        `json:"from"`
	To          time.Time        `json:"to"`
	TotalSpent  Amount           `json:"total_spent"`
	TotalEarned Amount           `json:"total_earned"`
	Count       int64            `json:"count"`
	ByType      map[string]int64 `json:"by_type"`
}

// ListQuery narrows a transaction listing.
type ListQuery struct {
	UserID string
	Type   string
	Limit  int
	Offset int
}

var (
	// ErrInsufficientFunds means the debit would take the balance
	// below zero. The balance is left untouched.
	ErrInsufficientFunds = errors.New("credits: insufficient funds")

	// ErrInvalidAmount covers non-positive amounts and unknown
	// transaction types.
	ErrInvalidAmount = errors.New("credits: invalid amount")
)
