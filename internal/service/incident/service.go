package incident

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bonddomain "github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	domain "github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
)

// Capabilities gating each lifecycle operation. Evaluation is external;
// the engine only consumes the yes/no verdict.
const (
	CapReport      = "report:incidents"
	CapAssign      = "assign:incidents"
	CapInvestigate = "investigate:incidents"
	CapAction      = "action:incidents"
	CapResolve     = "resolve:incidents"
	CapClose       = "close:incidents"
	CapReopen      = "reopen:incidents"
	CapAppeal      = "appeal:incidents"
)

// CapabilityChecker is the external permission evaluator.
type CapabilityChecker interface {
	Allowed(ctx context.Context, actorID uuid.UUID, capability string) bool
}

// Publisher pushes events onto the channel. Publishing is best-effort;
// the persisted store remains the source of truth.
type Publisher interface {
	Publish(event events.Event) error
}

// UnitOfWork runs incident and bond writes in one store transaction, so a
// disciplinary action and its bond deduction commit or roll back together.
type UnitOfWork interface {
	InTransaction(ctx context.Context, fn func(incidents domain.Repository, bonds bonddomain.Repository) error) error
}

// Service orchestrates the incident lifecycle. Domain guards live on the
// Incident aggregate; this layer adds the capability gate, the re-read /
// re-validate cycle that defends against concurrent transitions, and the
// pairing with the bond ledger.
type Service struct {
	repo      domain.Repository
	uow       UnitOfWork
	bonds     *bondsvc.Service
	caps      CapabilityChecker
	publisher Publisher
	logger    *zap.Logger
}

func NewService(repo domain.Repository, uow UnitOfWork, bonds *bondsvc.Service, caps CapabilityChecker, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		uow:       uow,
		bonds:     bonds,
		caps:      caps,
		publisher: publisher,
		logger:    logger,
	}
}

// ReportRequest carries a new incident report.
type ReportRequest struct {
	Type        domain.Type
	Severity    domain.Severity
	Priority    domain.Priority
	Reporter    domain.Reporter
	Description domain.Description
	Involved    domain.Involved
	Location    *domain.Location
}

// Report files a new incident and announces it on the channel.
func (s *Service) Report(ctx context.Context, actorID uuid.UUID, req ReportRequest) (*domain.Incident, error) {
	if !s.caps.Allowed(ctx, actorID, CapReport) {
		return nil, errors.NewForbiddenError("missing capability " + CapReport)
	}

	inc, err := domain.Report(req.Type, req.Severity, req.Priority, req.Reporter, req.Description)
	if err != nil {
		return nil, err
	}
	inc.Involved = req.Involved
	inc.Location = req.Location

	if err := s.repo.Create(ctx, inc); err != nil {
		return nil, err
	}

	s.announce(inc)
	s.logger.Info("incident reported",
		zap.String("incident_id", inc.ID.String()),
		zap.String("type", string(inc.Type)),
		zap.String("severity", string(inc.Severity)),
	)
	return inc, nil
}

// Get returns one incident.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Incident, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a filtered page of incidents.
func (s *Service) List(ctx context.Context, filter domain.Filter) (*domain.Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.repo.List(ctx, filter)
}

// Stats returns the dashboard breakdown.
func (s *Service) Stats(ctx context.Context) (*domain.Stats, error) {
	return s.repo.Stats(ctx)
}

// AssignInvestigator runs the assignment transition.
func (s *Service) AssignInvestigator(ctx context.Context, actorID, id, investigatorID uuid.UUID, name string) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapAssign, id, func(inc *domain.Incident) error {
		return inc.AssignInvestigator(investigatorID, name)
	})
}

// SubmitFindings records findings; when advance is set it also moves the
// incident to pending action, the reviewer's separate act of accepting
// the investigation.
func (s *Service) SubmitFindings(ctx context.Context, actorID, id uuid.UUID, findings, recommendations string, advance bool) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapInvestigate, id, func(inc *domain.Incident) error {
		if err := inc.SubmitFindings(findings, recommendations); err != nil {
			return err
		}
		if advance {
			return inc.MoveToPendingAction()
		}
		return nil
	})
}

// MoveToPendingAction advances an already-investigated incident.
func (s *Service) MoveToPendingAction(ctx context.Context, actorID, id uuid.UUID) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapInvestigate, id, func(inc *domain.Incident) error {
		return inc.MoveToPendingAction()
	})
}

// ScheduleHearing books or reschedules the disciplinary hearing.
func (s *Service) ScheduleHearing(ctx context.Context, actorID, id uuid.UUID, scheduledFor time.Time, officer uuid.UUID, officerName string) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapAction, id, func(inc *domain.Incident) error {
		return inc.ScheduleHearing(scheduledFor, officer, officerName)
	})
}

// ActionResult is the outcome of TakeAction: the updated incident and the
// bond deduction, if the policy called for one.
type ActionResult struct {
	Incident  *domain.Incident
	Deduction *bonddomain.Transaction
}

// TakeAction records the disciplinary action and, when the severity and
// incident type warrant it, the bond deduction — both inside one store
// transaction so they succeed or fail together. The deduction is keyed by
// incident id, so a replayed attempt after a partial failure converges
// instead of double-deducting.
func (s *Service) TakeAction(ctx context.Context, actorID, id uuid.UUID, req domain.ActionRequest) (*ActionResult, error) {
	if !s.caps.Allowed(ctx, actorID, CapAction) {
		return nil, errors.NewForbiddenError("missing capability " + CapAction)
	}
	if req.DecidedBy == uuid.Nil {
		req.DecidedBy = actorID
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		inc, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := inc.TakeDisciplinaryAction(req); err != nil {
			return nil, err
		}

		result := &ActionResult{Incident: inc}
		err = s.uow.InTransaction(ctx, func(incidents domain.Repository, bonds bonddomain.Repository) error {
			if driverID, ok := inc.PrimaryDriver(); ok && s.bonds.Policy().DeductSeverities[inc.Severity] {
				txn, err := s.bonds.DeductForIncident(ctx, bonds, driverID, inc.ID, inc.Type, actorID)
				switch {
				case err == nil:
					result.Deduction = txn
				case errors.IsType(err, errors.ErrorTypeStateConflict):
					// A prior attempt already deducted for this incident;
					// converge instead of failing the action.
					s.logger.Warn("deduction already recorded for incident",
						zap.String("incident_id", inc.ID.String()))
				default:
					return err
				}
			}
			return incidents.Update(ctx, inc)
		})
		if err == nil {
			s.logger.Info("disciplinary action taken",
				zap.String("incident_id", inc.ID.String()),
				zap.String("action", string(req.Type)),
				zap.Bool("deducted", result.Deduction != nil),
			)
			return result, nil
		}

		lastErr = err
		if !isStale(err) {
			return nil, err
		}
		// Another transition landed while this one was in flight: re-read
		// the latest snapshot and re-validate the guards before retrying.
	}
	return nil, lastErr
}

// Resolve closes out the disciplinary phase.
func (s *Service) Resolve(ctx context.Context, actorID, id uuid.UUID, summary string) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapResolve, id, func(inc *domain.Incident) error {
		return inc.Resolve(summary)
	})
}

// Close terminates the incident.
func (s *Service) Close(ctx context.Context, actorID, id uuid.UUID, reason string) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapClose, id, func(inc *domain.Incident) error {
		return inc.Close(reason)
	})
}

// Reopen moves a closed incident back into review.
func (s *Service) Reopen(ctx context.Context, actorID, id uuid.UUID, reason string) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapReopen, id, func(inc *domain.Incident) error {
		return inc.Reopen(reason)
	})
}

// FileAppeal opens an appeal on the disciplinary action.
func (s *Service) FileAppeal(ctx context.Context, actorID, id uuid.UUID) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapAppeal, id, func(inc *domain.Incident) error {
		return inc.FileAppeal()
	})
}

// DecideAppeal records the appeal outcome.
func (s *Service) DecideAppeal(ctx context.Context, actorID, id uuid.UUID, approved bool) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapAppeal, id, func(inc *domain.Incident) error {
		return inc.DecideAppeal(approved)
	})
}

// AddEvidence appends evidence references to an open incident.
func (s *Service) AddEvidence(ctx context.Context, actorID, id uuid.UUID, photos, videos, documents []string, witnesses []domain.WitnessStatement) (*domain.Incident, error) {
	return s.transition(ctx, actorID, CapInvestigate, id, func(inc *domain.Incident) error {
		return inc.AddEvidence(photos, videos, documents, witnesses)
	})
}

// transition is the shared read-mutate-commit cycle: capability gate, load
// the latest snapshot, apply the domain guard, and commit with the version
// check. A stale write means a concurrent transition raced ahead; the
// preconditions are re-validated against the fresh snapshot exactly once.
func (s *Service) transition(ctx context.Context, actorID uuid.UUID, capability string, id uuid.UUID, mutate func(*domain.Incident) error) (*domain.Incident, error) {
	if !s.caps.Allowed(ctx, actorID, capability) {
		return nil, errors.NewForbiddenError("missing capability " + capability)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		inc, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := mutate(inc); err != nil {
			return nil, err
		}

		if err := s.repo.Update(ctx, inc); err != nil {
			lastErr = err
			if isStale(err) {
				continue
			}
			return nil, err
		}
		return inc, nil
	}
	return nil, lastErr
}

func (s *Service) announce(inc *domain.Incident) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(events.IncidentCreatedPayload{
		IncidentID: inc.ID,
		Type:       string(inc.Type),
		Severity:   string(inc.Severity),
		Summary:    inc.Description.Summary,
		At:         inc.CreatedAt,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(events.Event{
		Type:      events.EventIncidentCreated,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("incident announcement failed", zap.Error(err))
	}
}

func isStale(err error) bool {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == "STALE_INCIDENT"
	}
	return false
}
