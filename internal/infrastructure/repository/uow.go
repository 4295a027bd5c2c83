package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
)

// UnitOfWork runs a callback against transaction-bound repositories, so a
// disciplinary action and its bond deduction commit or roll back as one.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

func (u *UnitOfWork) InTransaction(ctx context.Context, fn func(incidents incident.Repository, bonds bond.Repository) error) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return errors.NewInternalError("beginning unit of work").WithCause(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(newIncidentRepositoryWithTx(tx), newBondRepositoryWithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.NewInternalError("committing unit of work").WithCause(err)
	}
	return nil
}
