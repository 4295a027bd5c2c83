package incident_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	bonddomain "github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	domain "github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/config"
	"github.com/fleetdesk/fleetdesk-backend/internal/infrastructure/events"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
	incidentsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/incident"
	"github.com/fleetdesk/fleetdesk-backend/internal/testutil/mocks"
)

type fixture struct {
	incidents *mocks.IncidentRepo
	bonds     *mocks.BondRepo
	caps      *mocks.Capabilities
	publisher *mocks.Publisher
	bondSvc   *bondsvc.Service
	svc       *incidentsvc.Service
	actor     uuid.UUID
	driver    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	incidents := mocks.NewIncidentRepo()
	bonds := mocks.NewBondRepo()
	caps := mocks.AllowAll()
	publisher := &mocks.Publisher{}
	logger := zaptest.NewLogger(t)

	policy, err := bondsvc.NewPolicy(config.BondConfig{
		Currency:        "USD",
		DefaultRequired: 1000,
		DeductionAmounts: map[string]float64{
			"accident":         200,
			"safety_violation": 150,
		},
		DeductSeverities:  []string{"high", "critical"},
		LockdownGrace:     72 * time.Hour,
		BurnAlertWindow:   7 * 24 * time.Hour,
		BurnAlertFraction: 0.25,
	})
	require.NoError(t, err)

	bondService := bondsvc.NewService(bonds, policy, logger)
	svc := incidentsvc.NewService(incidents,
		&mocks.UnitOfWork{Incidents: incidents, Bonds: bonds},
		bondService, caps, publisher, logger)

	return &fixture{
		incidents: incidents,
		bonds:     bonds,
		caps:      caps,
		publisher: publisher,
		bondSvc:   bondService,
		svc:       svc,
		actor:     uuid.New(),
		driver:    uuid.New(),
	}
}

func (f *fixture) report(t *testing.T, typ domain.Type, severity domain.Severity) *domain.Incident {
	t.Helper()
	inc, err := f.svc.Report(context.Background(), f.actor, incidentsvc.ReportRequest{
		Type:     typ,
		Severity: severity,
		Priority: domain.PriorityUrgent,
		Reporter: domain.Reporter{Kind: "dispatcher", ReporterID: uuid.New(), Name: "Dispatch"},
		Description: domain.Description{
			Summary: "collision at intersection, airbag deployed",
		},
		Involved: domain.Involved{DriverIDs: []uuid.UUID{f.driver}},
	})
	require.NoError(t, err)
	return inc
}

// The full regulated walk: report critical accident, assign, findings,
// pending action, suspension with bond deduction, then resolve.
func TestDisciplinaryWorkflowWithBondDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeAccident, domain.SeverityCritical)

	// A report is announced on the channel.
	published := f.publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventIncidentCreated, published[0].Type)

	_, err := f.svc.AssignInvestigator(ctx, f.actor, inc.ID, uuid.New(), "J. Smith")
	require.NoError(t, err)

	_, err = f.svc.SubmitFindings(ctx, f.actor, inc.ID,
		"driver ran a red light at speed", "suspend and retrain", true)
	require.NoError(t, err)

	current, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingAction, current.Status)

	// Resolving before any action exists must fail and change nothing.
	_, err = f.svc.Resolve(ctx, f.actor, inc.ID, "premature")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStateConflict))

	result, err := f.svc.TakeAction(ctx, f.actor, inc.ID, domain.ActionRequest{
		Type:          domain.ActionSuspension,
		DurationDays:  7,
		EffectiveDate: time.Now().AddDate(0, 0, 2),
		Reason:        "critical accident, driver at fault",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Deduction)
	assert.Equal(t, bonddomain.TransactionDeduction, result.Deduction.Type)
	assert.Equal(t, bonddomain.ReferenceIncident, result.Deduction.ReferenceType)
	assert.Equal(t, inc.ID.String(), result.Deduction.ReferenceID)

	// Exactly one deduction referencing this incident.
	page, err := f.bondSvc.ListTransactions(ctx, f.driver, 1, 50)
	require.NoError(t, err)
	deductions := 0
	for _, txn := range page.Items {
		if txn.Type == bonddomain.TransactionDeduction && txn.ReferenceID == inc.ID.String() {
			deductions++
		}
	}
	assert.Equal(t, 1, deductions)

	resolved, err := f.svc.Resolve(ctx, f.actor, inc.ID, "suspension served, retraining booked")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResolved, resolved.Status)
	assert.NotNil(t, resolved.Timeline.ResolvedAt)
}

func TestSecondActionRejectedWithoutSecondDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeAccident, domain.SeverityHigh)

	_, err := f.svc.AssignInvestigator(ctx, f.actor, inc.ID, uuid.New(), "J. Smith")
	require.NoError(t, err)
	_, err = f.svc.SubmitFindings(ctx, f.actor, inc.ID, "at fault", "warn", true)
	require.NoError(t, err)

	_, err = f.svc.TakeAction(ctx, f.actor, inc.ID, domain.ActionRequest{
		Type: domain.ActionWarning, EffectiveDate: time.Now(), Reason: "first",
	})
	require.NoError(t, err)

	_, err = f.svc.TakeAction(ctx, f.actor, inc.ID, domain.ActionRequest{
		Type: domain.ActionTermination, EffectiveDate: time.Now(), Reason: "second",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStateConflict))

	page, err := f.bondSvc.ListTransactions(ctx, f.driver, 1, 50)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1, "second action attempt must not add a ledger entry")

	current, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionWarning, current.DisciplinaryAction.Type)
}

func TestProcessIncidentDeductionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incidentID := uuid.New()

	txn, err := f.bondSvc.ProcessIncidentDeduction(ctx, f.driver, incidentID, domain.TypeAccident, f.actor)
	require.NoError(t, err)
	require.NotNil(t, txn)

	_, err = f.bondSvc.ProcessIncidentDeduction(ctx, f.driver, incidentID, domain.TypeAccident, f.actor)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStateConflict))

	page, err := f.bondSvc.ListTransactions(ctx, f.driver, 1, 50)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].BalanceAfter.Equal(txn.BalanceAfter))
}

func TestLowSeverityActionSkipsDeduction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeAccident, domain.SeverityLow)

	_, err := f.svc.AssignInvestigator(ctx, f.actor, inc.ID, uuid.New(), "J. Smith")
	require.NoError(t, err)
	_, err = f.svc.SubmitFindings(ctx, f.actor, inc.ID, "minor scrape", "warn", true)
	require.NoError(t, err)

	result, err := f.svc.TakeAction(ctx, f.actor, inc.ID, domain.ActionRequest{
		Type: domain.ActionWarning, EffectiveDate: time.Now(), Reason: "minor",
	})
	require.NoError(t, err)
	assert.Nil(t, result.Deduction)

	page, err := f.bondSvc.ListTransactions(ctx, f.driver, 1, 50)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestCapabilityGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeFraud, domain.SeverityHigh)

	f.caps.Deny(incidentsvc.CapClose)
	_, err := f.svc.Close(ctx, f.actor, inc.ID, "attempted close")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeForbidden))

	current, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, current.Status)
}

// A transition whose commit loses the version race must re-read the
// latest snapshot, re-validate, and succeed on the retry.
func TestStaleWriteIsRetriedAgainstFreshSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeDriverMisconduct, domain.SeverityMedium)

	f.incidents.FailNextUpdate = errors.ErrStaleIncident
	updated, err := f.svc.AssignInvestigator(ctx, f.actor, inc.ID, uuid.New(), "A. Cruz")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInvestigating, updated.Status)
}

func TestReopenAndCloseCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeCustomerComplaint, domain.SeverityLow)

	_, err := f.svc.Close(ctx, f.actor, inc.ID, "could not substantiate")
	require.NoError(t, err)

	_, err = f.svc.Reopen(ctx, f.actor, inc.ID, "customer provided dashcam footage")
	require.NoError(t, err)

	current, err := f.svc.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReviewing, current.Status)
	assert.NotNil(t, current.Timeline.ReopenedAt)
}

func TestAppealFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inc := f.report(t, domain.TypeSafetyViolation, domain.SeverityHigh)

	_, err := f.svc.AssignInvestigator(ctx, f.actor, inc.ID, uuid.New(), "J. Smith")
	require.NoError(t, err)
	_, err = f.svc.SubmitFindings(ctx, f.actor, inc.ID, "confirmed", "suspend", true)
	require.NoError(t, err)
	_, err = f.svc.TakeAction(ctx, f.actor, inc.ID, domain.ActionRequest{
		Type: domain.ActionSuspension, DurationDays: 3, EffectiveDate: time.Now(), Reason: "confirmed violation",
	})
	require.NoError(t, err)

	statusBefore := domain.StatusPendingAction
	appealed, err := f.svc.FileAppeal(ctx, f.actor, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppealPending, appealed.DisciplinaryAction.AppealStatus)
	assert.Equal(t, statusBefore, appealed.Status)

	decided, err := f.svc.DecideAppeal(ctx, f.actor, inc.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.AppealRejected, decided.DisciplinaryAction.AppealStatus)
	assert.Equal(t, statusBefore, decided.Status)
}

func TestListFiltersAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.report(t, domain.TypeAccident, domain.SeverityCritical)
	f.report(t, domain.TypeFraud, domain.SeverityHigh)
	low := f.report(t, domain.TypeVehicleIssue, domain.SeverityLow)
	_, err := f.svc.Close(ctx, f.actor, low.ID, "fixed at depot")
	require.NoError(t, err)

	page, err := f.svc.List(ctx, domain.Filter{Severities: []domain.Severity{domain.SeverityCritical}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = f.svc.List(ctx, domain.Filter{Statuses: []domain.Status{domain.StatusClosed}})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 1, stats.ByStatus[domain.StatusClosed])
}
