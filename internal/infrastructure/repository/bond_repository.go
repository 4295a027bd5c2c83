package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
)

// txBeginner lets AppendTransaction open its own transaction when the
// repository runs against the pool; inside a unit of work the tx itself
// begins a savepoint-backed nested transaction.
type txBeginner interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// bondRepository implements bond.Repository on PostgreSQL. Amounts are
// stored as numeric text plus an explicit currency column; the ledger
// table is insert-only.
type bondRepository struct {
	db txBeginner
}

func NewBondRepository(pool *pgxpool.Pool) bond.Repository {
	return &bondRepository{db: pool}
}

func newBondRepositoryWithTx(tx pgx.Tx) bond.Repository {
	return &bondRepository{db: tx}
}

func (r *bondRepository) GetAccount(ctx context.Context, driverID uuid.UUID) (*bond.Account, error) {
	query := `
		SELECT driver_id, balance, required, currency, sequence,
		       below_since, last_deducted_at, updated_at
		FROM bond_accounts WHERE driver_id = $1`

	var account bond.Account
	var balance, required, currency string
	err := r.db.QueryRow(ctx, query, driverID).Scan(
		&account.DriverID, &balance, &required, &currency, &account.Sequence,
		&account.BelowSince, &account.LastDeductedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrBondAccountNotFound
		}
		return nil, errors.NewInternalError("reading bond account").WithCause(err)
	}

	if account.Balance, err = values.NewMoneyFromString(balance, currency); err != nil {
		return nil, errors.NewInternalError("parsing bond balance").WithCause(err)
	}
	if account.Required, err = values.NewMoneyFromString(required, currency); err != nil {
		return nil, errors.NewInternalError("parsing bond requirement").WithCause(err)
	}
	return &account, nil
}

func (r *bondRepository) CreateAccount(ctx context.Context, account *bond.Account) error {
	query := `
		INSERT INTO bond_accounts (driver_id, balance, required, currency, sequence,
		                           below_since, last_deducted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		account.DriverID,
		account.Balance.Amount().String(),
		account.Required.Amount().String(),
		account.Required.Currency(),
		account.Sequence,
		account.BelowSince, account.LastDeductedAt, account.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.NewStateConflictError("DUPLICATE_ACCOUNT",
				"bond account for driver "+account.DriverID.String()+" already exists")
		}
		return errors.NewInternalError("inserting bond account").WithCause(err)
	}
	return nil
}

// AppendTransaction persists the updated account snapshot and the ledger
// entry together. The sequence predicate on the account update is the
// lost-update guard: when a concurrent writer advanced the account first,
// zero rows match and nothing is written.
func (r *bondRepository) AppendTransaction(ctx context.Context, account *bond.Account, txn *bond.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.NewInternalError("beginning bond transaction").WithCause(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE bond_accounts SET
			balance = $2, sequence = $3, below_since = $4,
			last_deducted_at = $5, updated_at = $6
		WHERE driver_id = $1 AND sequence = $7`,
		account.DriverID,
		account.Balance.Amount().String(),
		account.Sequence,
		account.BelowSince, account.LastDeductedAt, account.UpdatedAt,
		account.Sequence-1,
	)
	if err != nil {
		return errors.NewInternalError("updating bond account").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM bond_accounts WHERE driver_id = $1)`,
			account.DriverID).Scan(&exists); err != nil {
			return errors.NewInternalError("checking bond account existence").WithCause(err)
		}
		if !exists {
			return errors.ErrBondAccountNotFound
		}
		return errors.NewStateConflictError("STALE_ACCOUNT",
			"bond account was modified concurrently")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bond_transactions (
			id, driver_id, type, amount, balance_after, currency,
			reason, description, reference_type, reference_id,
			created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		txn.ID, txn.DriverID, txn.Type,
		txn.Amount.Amount().String(),
		txn.BalanceAfter.Amount().String(),
		txn.Amount.Currency(),
		txn.Reason, txn.Description, txn.ReferenceType, txn.ReferenceID,
		txn.CreatedByID, txn.CreatedAt,
	)
	if err != nil {
		return errors.NewInternalError("inserting bond ledger entry").WithCause(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.NewInternalError("committing bond transaction").WithCause(err)
	}
	return nil
}

const bondTxnColumns = `
	id, driver_id, type, amount, balance_after, currency,
	reason, description, reference_type, reference_id,
	created_by, created_at`

func (r *bondRepository) ListTransactions(ctx context.Context, driverID uuid.UUID, page, limit int) (*bond.TransactionPage, error) {
	var total int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bond_transactions WHERE driver_id = $1`, driverID).Scan(&total); err != nil {
		return nil, errors.NewInternalError("counting bond ledger entries").WithCause(err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+bondTxnColumns+`
		FROM bond_transactions
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		driverID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, errors.NewInternalError("listing bond ledger entries").WithCause(err)
	}
	defer rows.Close()

	items := make([]*bond.Transaction, 0, limit)
	for rows.Next() {
		txn, err := scanBondTransaction(rows)
		if err != nil {
			return nil, errors.NewInternalError("scanning bond ledger entry").WithCause(err)
		}
		items = append(items, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("iterating bond ledger entries").WithCause(err)
	}

	return &bond.TransactionPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (r *bondRepository) FindByReference(ctx context.Context, driverID uuid.UUID, referenceType, referenceID string) (*bond.Transaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+bondTxnColumns+`
		FROM bond_transactions
		WHERE driver_id = $1 AND reference_type = $2 AND reference_id = $3
		LIMIT 1`,
		driverID, referenceType, referenceID,
	)

	txn, err := scanBondTransaction(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, errors.NewInternalError("looking up bond ledger reference").WithCause(err)
	}
	return txn, nil
}

func scanBondTransaction(row pgx.Row) (*bond.Transaction, error) {
	var txn bond.Transaction
	var amount, balanceAfter, currency string
	var createdAt time.Time

	err := row.Scan(
		&txn.ID, &txn.DriverID, &txn.Type, &amount, &balanceAfter, &currency,
		&txn.Reason, &txn.Description, &txn.ReferenceType, &txn.ReferenceID,
		&txn.CreatedByID, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	txn.CreatedAt = createdAt

	if txn.Amount, err = values.NewMoneyFromString(amount, currency); err != nil {
		return nil, err
	}
	if txn.BalanceAfter, err = values.NewMoneyFromString(balanceAfter, currency); err != nil {
		return nil, err
	}
	return &txn, nil
}
