package bond

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
)

// Account is a driver's performance bond. Balance is derived, never set
// directly: every change is an appended Transaction and the balance is the
// fold of all transactions in creation order. The materialized balance
// plus Sequence exists so the fold is not recomputed on every read;
// Sequence doubles as a lost-update guard for concurrent writers.
type Account struct {
	DriverID       uuid.UUID    `json:"driver_id"`
	Balance        values.Money `json:"balance"`
	Required       values.Money `json:"required"`
	Sequence       int64        `json:"sequence"` // count of applied transactions
	BelowSince     *time.Time   `json:"below_since,omitempty"`
	LastDeductedAt *time.Time   `json:"last_deducted_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewAccount opens an empty bond account against the given requirement.
func NewAccount(driverID uuid.UUID, required values.Money) *Account {
	now := time.Now().UTC()
	return &Account{
		DriverID:   driverID,
		Balance:    values.Zero(required.Currency()),
		Required:   required,
		BelowSince: &now, // an empty account starts below threshold
		UpdatedAt:  now,
	}
}

// Percent returns balance as a percentage of the required threshold.
func (a *Account) Percent() decimal.Decimal {
	return a.Balance.PercentOf(a.Required)
}

// Sufficiency is the point-in-time shift-gate check.
type Sufficiency struct {
	Balance       values.Money    `json:"balance"`
	Required      values.Money    `json:"required"`
	Percent       decimal.Decimal `json:"percent"`
	CanStartShift bool            `json:"can_start_shift"`
	Shortfall     values.Money    `json:"shortfall"`
}

// CheckSufficiency reports whether the driver may start a shift and the
// shortfall if not.
func (a *Account) CheckSufficiency() Sufficiency {
	shortfall := values.Zero(a.Required.Currency())
	can := a.Balance.Compare(a.Required) >= 0
	if !can {
		shortfall, _ = a.Required.Sub(a.Balance)
	}
	return Sufficiency{
		Balance:       a.Balance,
		Required:      a.Required,
		Percent:       a.Percent(),
		CanStartShift: can,
		Shortfall:     shortfall,
	}
}

// InLockdown reports whether the balance has been continuously below the
// required threshold for longer than the grace period. A single dip does
// not lock the driver down; the clock starts when the balance first drops
// below the threshold and resets when it recovers.
func (a *Account) InLockdown(grace time.Duration, now time.Time) bool {
	if a.BelowSince == nil {
		return false
	}
	return now.Sub(*a.BelowSince) > grace
}

// Apply appends one transaction to the account: stamps BalanceAfter on the
// entry, advances the materialized balance and sequence, and maintains the
// below-threshold clock. The caller persists both sides atomically.
func (a *Account) Apply(txn *Transaction) error {
	next, err := a.Balance.Add(txn.SignedAmount())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	txn.BalanceAfter = next
	a.Balance = next
	a.Sequence++
	a.UpdatedAt = now

	if txn.Type == TransactionDeduction {
		a.LastDeductedAt = &now
	}

	switch {
	case next.Compare(a.Required) >= 0:
		a.BelowSince = nil
	case a.BelowSince == nil:
		a.BelowSince = &now
	}
	return nil
}

// FoldBalance recomputes the balance from scratch over transactions in
// creation order. Used to verify the materialized balance and to rebuild
// an account from its ledger.
func FoldBalance(currency string, txns []*Transaction) values.Money {
	balance := values.Zero(currency)
	for _, txn := range txns {
		balance, _ = balance.Add(txn.SignedAmount())
	}
	return balance
}
