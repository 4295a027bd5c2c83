package bond

import (
	"context"

	"github.com/google/uuid"
)

// TransactionPage is one page of ledger history, newest first.
type TransactionPage struct {
	Items      []*Transaction `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

// Repository is the persisted store for bond accounts and their ledgers.
// AppendTransaction must persist the account snapshot and the entry in one
// transaction, and must fail when the stored sequence does not equal
// account.Sequence-1 (a concurrent writer got there first).
type Repository interface {
	GetAccount(ctx context.Context, driverID uuid.UUID) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	AppendTransaction(ctx context.Context, account *Account, txn *Transaction) error
	ListTransactions(ctx context.Context, driverID uuid.UUID, page, limit int) (*TransactionPage, error)
	// FindByReference looks up an existing transaction by its loose link,
	// the idempotency guard for incident deductions.
	FindByReference(ctx context.Context, driverID uuid.UUID, referenceType, referenceID string) (*Transaction, error)
}
