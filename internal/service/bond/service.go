package bond

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
)

// Policy is the deduction policy table plus the lockdown and burn-alert
// knobs, derived from configuration. The policy is external to the ledger
// itself: the ledger only ever sees concrete amounts.
type Policy struct {
	Currency          string
	DefaultRequired   values.Money
	DeductionAmounts  map[incident.Type]values.Money
	DeductSeverities  map[incident.Severity]bool
	LockdownGrace     time.Duration
	BurnAlertWindow   time.Duration
	BurnAlertFraction decimal.Decimal
}

// NewPolicy materializes the policy from config.
func NewPolicy(cfg config.BondConfig) (Policy, error) {
	required, err := values.NewMoneyFromFloat(cfg.DefaultRequired, cfg.Currency)
	if err != nil {
		return Policy{}, err
	}

	amounts := make(map[incident.Type]values.Money, len(cfg.DeductionAmounts))
	for typ, amount := range cfg.DeductionAmounts {
		m, err := values.NewMoneyFromFloat(amount, cfg.Currency)
		if err != nil {
			return Policy{}, err
		}
		amounts[incident.Type(typ)] = m
	}

	severities := make(map[incident.Severity]bool, len(cfg.DeductSeverities))
	for _, s := range cfg.DeductSeverities {
		severities[incident.Severity(s)] = true
	}

	return Policy{
		Currency:          cfg.Currency,
		DefaultRequired:   required,
		DeductionAmounts:  amounts,
		DeductSeverities:  severities,
		LockdownGrace:     cfg.LockdownGrace,
		BurnAlertWindow:   cfg.BurnAlertWindow,
		BurnAlertFraction: decimal.NewFromFloat(cfg.BurnAlertFraction),
	}, nil
}

// DeductionFor returns the policy amount for an incident type, or false
// when the type carries no monetary consequence.
func (p Policy) DeductionFor(typ incident.Type) (values.Money, bool) {
	m, ok := p.DeductionAmounts[typ]
	return m, ok
}

// Service owns bond balance computation and mutation. The balance is
// derived: every change is an appended transaction, so every balance
// movement is auditable and replay-safe.
type Service struct {
	repo   bond.Repository
	policy Policy
	logger *zap.Logger
}

func NewService(repo bond.Repository, policy Policy, logger *zap.Logger) *Service {
	return &Service{repo: repo, policy: policy, logger: logger}
}

// Policy exposes the active policy to collaborating services.
func (s *Service) Policy() Policy {
	return s.policy
}

// View is the console's bond snapshot for one driver.
type View struct {
	DriverID      uuid.UUID       `json:"driver_id"`
	Balance       values.Money    `json:"balance"`
	Required      values.Money    `json:"required"`
	Percent       decimal.Decimal `json:"percent"`
	CanStartShift bool            `json:"can_start_shift"`
	Shortfall     values.Money    `json:"shortfall"`
	BurnAlert     bool            `json:"burn_alert"`
}

// LockdownStatus pairs the continuous-shortfall verdict with the
// point-in-time sufficiency snapshot.
type LockdownStatus struct {
	InLockdown  bool             `json:"in_lockdown"`
	BelowSince  *time.Time       `json:"below_since,omitempty"`
	Sufficiency bond.Sufficiency `json:"sufficiency"`
}

// GetBalance returns the bond view for a driver, including the burn-alert
// flag computed from recent deduction velocity.
func (s *Service) GetBalance(ctx context.Context, driverID uuid.UUID) (*View, error) {
	account, err := s.getOrCreateAccount(ctx, driverID)
	if err != nil {
		return nil, err
	}

	sufficiency := account.CheckSufficiency()
	burn, err := s.burnAlert(ctx, account)
	if err != nil {
		// Burn alert is advisory; a history read failure must not take the
		// balance view down with it.
		s.logger.Warn("burn alert computation failed", zap.String("driver_id", driverID.String()), zap.Error(err))
		burn = false
	}

	return &View{
		DriverID:      driverID,
		Balance:       sufficiency.Balance,
		Required:      sufficiency.Required,
		Percent:       sufficiency.Percent,
		CanStartShift: sufficiency.CanStartShift,
		Shortfall:     sufficiency.Shortfall,
		BurnAlert:     burn,
	}, nil
}

// TransactionRequest is one manual ledger mutation.
type TransactionRequest struct {
	DriverID    uuid.UUID
	Type        bond.TransactionType
	Amount      values.Money
	Reason      string
	Description string
	ActorID     uuid.UUID
}

// AddTransaction appends one transaction and returns it with its balance
// snapshot assigned. All mutation funnels through here; nothing else
// writes balances.
func (s *Service) AddTransaction(ctx context.Context, req TransactionRequest) (*bond.Transaction, error) {
	account, err := s.getOrCreateAccount(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}

	txn, err := bond.NewTransaction(req.DriverID, req.Type, req.Amount,
		req.Reason, req.Description, bond.ReferenceManual, "", req.ActorID)
	if err != nil {
		return nil, err
	}

	if err := account.Apply(txn); err != nil {
		return nil, errors.NewInternalError("applying bond transaction").WithCause(err)
	}
	if err := s.repo.AppendTransaction(ctx, account, txn); err != nil {
		return nil, err
	}

	s.logger.Info("bond transaction appended",
		zap.String("driver_id", req.DriverID.String()),
		zap.String("type", string(req.Type)),
		zap.String("amount", req.Amount.String()),
		zap.String("balance_after", txn.BalanceAfter.String()),
	)
	return txn, nil
}

// ProcessIncidentDeduction derives the deduction amount from the incident
// type and appends a DEDUCTION referencing the incident. Idempotent per
// incident id: a second call finds the existing reference and fails with
// a state conflict before any write. A nil transaction with nil error
// means the incident type carries no monetary consequence.
func (s *Service) ProcessIncidentDeduction(ctx context.Context, driverID, incidentID uuid.UUID, incidentType incident.Type, actorID uuid.UUID) (*bond.Transaction, error) {
	return s.DeductForIncident(ctx, s.repo, driverID, incidentID, incidentType, actorID)
}

// DeductForIncident is ProcessIncidentDeduction against an explicit
// repository, so the disciplinary workflow can run it inside the same
// store transaction that records the action.
func (s *Service) DeductForIncident(ctx context.Context, repo bond.Repository, driverID, incidentID uuid.UUID, incidentType incident.Type, actorID uuid.UUID) (*bond.Transaction, error) {
	amount, ok := s.policy.DeductionFor(incidentType)
	if !ok {
		return nil, nil
	}

	existing, err := repo.FindByReference(ctx, driverID, bond.ReferenceIncident, incidentID.String())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.NewStateConflictError("DUPLICATE_DEDUCTION",
			"bond deduction already recorded for this incident").
			WithDetails(map[string]interface{}{
				"incident_id":    incidentID.String(),
				"transaction_id": existing.ID.String(),
			})
	}

	account, err := s.getOrCreateAccountWith(ctx, repo, driverID)
	if err != nil {
		return nil, err
	}

	txn, err := bond.NewTransaction(driverID, bond.TransactionDeduction, amount,
		"disciplinary deduction for incident "+incidentID.String(), "",
		bond.ReferenceIncident, incidentID.String(), actorID)
	if err != nil {
		return nil, err
	}

	if err := account.Apply(txn); err != nil {
		return nil, errors.NewInternalError("applying incident deduction").WithCause(err)
	}
	if err := repo.AppendTransaction(ctx, account, txn); err != nil {
		return nil, err
	}

	s.logger.Info("incident deduction recorded",
		zap.String("driver_id", driverID.String()),
		zap.String("incident_id", incidentID.String()),
		zap.String("amount", amount.String()),
	)
	return txn, nil
}

// ListTransactions returns the paginated ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, driverID uuid.UUID, page, limit int) (*bond.TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.ListTransactions(ctx, driverID, page, limit)
}

// CheckSufficiency is the shift-gate check.
func (s *Service) CheckSufficiency(ctx context.Context, driverID uuid.UUID) (bond.Sufficiency, error) {
	account, err := s.getOrCreateAccount(ctx, driverID)
	if err != nil {
		return bond.Sufficiency{}, err
	}
	return account.CheckSufficiency(), nil
}

// CheckLockdown reports whether the balance has been continuously below
// the requirement past the grace window.
func (s *Service) CheckLockdown(ctx context.Context, driverID uuid.UUID) (*LockdownStatus, error) {
	account, err := s.getOrCreateAccount(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return &LockdownStatus{
		InLockdown:  account.InLockdown(s.policy.LockdownGrace, time.Now().UTC()),
		BelowSince:  account.BelowSince,
		Sufficiency: account.CheckSufficiency(),
	}, nil
}

// VerifyFold recomputes the balance from the full ledger and compares it
// against the materialized balance, the round-trip invariant of the fold.
func (s *Service) VerifyFold(ctx context.Context, driverID uuid.UUID) (bool, error) {
	account, err := s.repo.GetAccount(ctx, driverID)
	if err != nil {
		return false, err
	}

	// Walk every page: a fold over a truncated ledger proves nothing.
	const pageSize = 500
	var newestFirst []*bond.Transaction
	for page := 1; ; page++ {
		p, err := s.repo.ListTransactions(ctx, driverID, page, pageSize)
		if err != nil {
			return false, err
		}
		newestFirst = append(newestFirst, p.Items...)
		if len(p.Items) < pageSize || len(newestFirst) >= p.Total {
			break
		}
	}

	// ListTransactions is newest-first; the fold wants creation order.
	ordered := make([]*bond.Transaction, len(newestFirst))
	for i, txn := range newestFirst {
		ordered[len(newestFirst)-1-i] = txn
	}
	folded := bond.FoldBalance(account.Balance.Currency(), ordered)
	return folded.Equal(account.Balance), nil
}

func (s *Service) getOrCreateAccount(ctx context.Context, driverID uuid.UUID) (*bond.Account, error) {
	return s.getOrCreateAccountWith(ctx, s.repo, driverID)
}

func (s *Service) getOrCreateAccountWith(ctx context.Context, repo bond.Repository, driverID uuid.UUID) (*bond.Account, error) {
	if driverID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_DRIVER", "driver identity is required")
	}

	account, err := repo.GetAccount(ctx, driverID)
	if err == nil {
		return account, nil
	}
	if !errors.IsType(err, errors.ErrorTypeNotFound) {
		return nil, err
	}

	account = bond.NewAccount(driverID, s.policy.DefaultRequired)
	if err := repo.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// burnAlert flags accounts whose recent deductions exceed the configured
// fraction of the requirement inside the alert window.
func (s *Service) burnAlert(ctx context.Context, account *bond.Account) (bool, error) {
	if account.LastDeductedAt == nil {
		return false, nil
	}

	page, err := s.repo.ListTransactions(ctx, account.DriverID, 1, 100)
	if err != nil {
		return false, err
	}

	cutoff := time.Now().UTC().Add(-s.policy.BurnAlertWindow)
	burned := values.Zero(account.Required.Currency())
	for _, txn := range page.Items {
		if txn.Type != bond.TransactionDeduction || txn.CreatedAt.Before(cutoff) {
			continue
		}
		burned, _ = burned.Add(txn.Amount)
	}

	threshold := account.Required.Amount().Mul(s.policy.BurnAlertFraction)
	return burned.Amount().Cmp(threshold) >= 0 && !burned.IsZero(), nil
}
