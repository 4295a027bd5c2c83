package bond

import (
	"time"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
)

// TransactionType classifies a bond ledger entry
type TransactionType string

const (
	TransactionDeposit    TransactionType = "DEPOSIT"
	TransactionDeduction  TransactionType = "DEDUCTION"
	TransactionRefund     TransactionType = "REFUND"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionDeposit, TransactionDeduction, TransactionRefund, TransactionAdjustment:
		return true
	default:
		return false
	}
}

// Reference types for the loose link to the triggering record
const (
	ReferenceIncident = "INCIDENT"
	ReferenceManual   = "MANUAL"
)

// Transaction is one immutable, append-only bond ledger entry. Amount is
// the magnitude as entered; SignedAmount carries its contribution to the
// balance. BalanceAfter snapshots the account balance immediately after
// this entry was appended.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	DriverID      uuid.UUID       `json:"driver_id"`
	Type          TransactionType `json:"type"`
	Amount        values.Money    `json:"amount"`
	BalanceAfter  values.Money    `json:"balance_after"`
	Reason        string          `json:"reason,omitempty"`
	Description   string          `json:"description,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	CreatedByID   uuid.UUID       `json:"created_by_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewTransaction validates the amount sign rules for the given type and
// builds an entry without a balance snapshot; the account fold assigns
// BalanceAfter when the entry is appended.
func NewTransaction(driverID uuid.UUID, txnType TransactionType, amount values.Money, reason, description, referenceType, referenceID string, createdBy uuid.UUID) (*Transaction, error) {
	if driverID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_DRIVER", "driver identity is required")
	}
	if !txnType.IsValid() {
		return nil, errors.NewValidationError("INVALID_TXN_TYPE", "unknown bond transaction type")
	}

	switch txnType {
	case TransactionDeposit, TransactionDeduction, TransactionRefund:
		if !amount.IsPositive() {
			return nil, errors.NewValidationError("INVALID_AMOUNT",
				string(txnType)+" amount must be strictly positive")
		}
	case TransactionAdjustment:
		if amount.IsZero() {
			return nil, errors.NewValidationError("INVALID_AMOUNT",
				"adjustment amount must be non-zero")
		}
	}

	if txnType == TransactionDeduction || txnType == TransactionAdjustment {
		if reason == "" {
			return nil, errors.NewValidationError("MISSING_REASON",
				string(txnType)+" requires a reason")
		}
	}

	return &Transaction{
		ID:            uuid.New(),
		DriverID:      driverID,
		Type:          txnType,
		Amount:        amount,
		Reason:        reason,
		Description:   description,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
		CreatedByID:   createdBy,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SignedAmount returns the entry's contribution to the balance: deposits
// and refunds add, deductions subtract, adjustments carry their own sign.
func (t *Transaction) SignedAmount() values.Money {
	if t.Type == TransactionDeduction {
		return t.Amount.Neg()
	}
	return t.Amount
}
