package incident

import (
	"time"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
)

// Status is the incident lifecycle state. New is initial, Closed is
// terminal unless reopened.
type Status string

const (
	StatusNew           Status = "new"
	StatusReviewing     Status = "reviewing"
	StatusInvestigating Status = "investigating"
	StatusPendingAction Status = "pending_action"
	StatusHearing       Status = "hearing"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusReviewing, StatusInvestigating, StatusPendingAction,
		StatusHearing, StatusResolved, StatusClosed:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// transitions is the full edge set of the lifecycle graph. Every status
// change in this package commits through moveTo, which rejects anything
// that is not an edge here.
var transitions = map[Status][]Status{
	StatusNew:           {StatusReviewing, StatusInvestigating, StatusClosed},
	StatusReviewing:     {StatusInvestigating, StatusClosed},
	StatusInvestigating: {StatusPendingAction, StatusClosed},
	StatusPendingAction: {StatusHearing, StatusResolved, StatusClosed},
	StatusHearing:       {StatusHearing, StatusResolved, StatusClosed},
	StatusResolved:      {StatusClosed},
	StatusClosed:        {StatusReviewing},
}

// CanTransition reports whether from → to is an edge in the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Type string

const (
	TypeAccident          Type = "accident"
	TypeSafetyViolation   Type = "safety_violation"
	TypeCustomerComplaint Type = "customer_complaint"
	TypeDriverMisconduct  Type = "driver_misconduct"
	TypeVehicleIssue      Type = "vehicle_issue"
	TypePolicyViolation   Type = "policy_violation"
	TypeFraud             Type = "fraud"
	TypeOther             Type = "other"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAccident, TypeSafetyViolation, TypeCustomerComplaint, TypeDriverMisconduct,
		TypeVehicleIssue, TypePolicyViolation, TypeFraud, TypeOther:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Reporter identifies who filed the incident
type Reporter struct {
	Kind       string    `json:"kind"` // driver, customer, dispatcher, system
	ReporterID uuid.UUID `json:"reporter_id"`
	Name       string    `json:"name,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

// Involved holds relational references to the parties of the incident.
// The referenced records are owned elsewhere.
type Involved struct {
	DriverIDs   []uuid.UUID `json:"driver_ids,omitempty"`
	VehicleIDs  []uuid.UUID `json:"vehicle_ids,omitempty"`
	CustomerIDs []uuid.UUID `json:"customer_ids,omitempty"`
}

type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Address    string    `json:"address,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type Description struct {
	Summary       string   `json:"summary"`
	Narrative     string   `json:"narrative,omitempty"`
	Circumstances []string `json:"circumstances,omitempty"`
}

type WitnessStatement struct {
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	Statement string    `json:"statement"`
	TakenAt   time.Time `json:"taken_at"`
}

type Evidence struct {
	PhotoURLs    []string           `json:"photo_urls,omitempty"`
	VideoURLs    []string           `json:"video_urls,omitempty"`
	DocumentURLs []string           `json:"document_urls,omitempty"`
	Witnesses    []WitnessStatement `json:"witnesses,omitempty"`
}

// Investigation is a sub-record inside the incident, not a separate entity.
type Investigation struct {
	AssignedTo      uuid.UUID  `json:"assigned_to"`
	AssigneeName    string     `json:"assignee_name,omitempty"`
	Findings        string     `json:"findings,omitempty"`
	Recommendations string     `json:"recommendations,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type ActionType string

const (
	ActionWarning     ActionType = "warning"
	ActionTraining    ActionType = "training"
	ActionSuspension  ActionType = "suspension"
	ActionTermination ActionType = "termination"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionWarning, ActionTraining, ActionSuspension, ActionTermination:
		return true
	}
	return false
}

// AppealStatus is an independent sub-state on the disciplinary action. It
// never participates in the incident's own state machine.
type AppealStatus string

const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealRejected AppealStatus = "rejected"
)

// DisciplinaryAction is embedded one-per-incident; a superseding action is
// rejected rather than versioned.
type DisciplinaryAction struct {
	Type          ActionType   `json:"type"`
	DurationDays  int          `json:"duration_days,omitempty"` // suspension only
	EffectiveDate time.Time    `json:"effective_date"`
	Reason        string       `json:"reason"`
	DecidedBy     uuid.UUID    `json:"decided_by"`
	DecidedAt     time.Time    `json:"decided_at"`
	AppealStatus  AppealStatus `json:"appeal_status"`
}

// Timeline collects milestone timestamps
type Timeline struct {
	ReportedAt             time.Time  `json:"reported_at"`
	ReviewStartedAt        *time.Time `json:"review_started_at,omitempty"`
	InvestigationStartedAt *time.Time `json:"investigation_started_at,omitempty"`
	FindingsSubmittedAt    *time.Time `json:"findings_submitted_at,omitempty"`
	HearingScheduledAt     *time.Time `json:"hearing_scheduled_at,omitempty"`
	ActionTakenAt          *time.Time `json:"action_taken_at,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
	ClosedAt               *time.Time `json:"closed_at,omitempty"`
	ReopenedAt             *time.Time `json:"reopened_at,omitempty"`
}

type Hearing struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	Officer      uuid.UUID `json:"officer"`
	OfficerName  string    `json:"officer_name,omitempty"`
}

// Incident is the aggregate root for a reported operational event. All
// lifecycle mutation goes through the transition methods below; every
// method validates its full guard set before touching any field, so a
// rejected transition leaves the record byte-identical.
type Incident struct {
	ID       uuid.UUID `json:"id"`
	Type     Type      `json:"type"`
	Severity Severity  `json:"severity"`
	Status   Status    `json:"status"`
	Priority Priority  `json:"priority"`

	ReportedBy  Reporter    `json:"reported_by"`
	Involved    Involved    `json:"involved"`
	Location    *Location   `json:"location,omitempty"`
	Description Description `json:"description"`
	Evidence    Evidence    `json:"evidence"`

	Investigation      *Investigation      `json:"investigation,omitempty"`
	Hearing            *Hearing            `json:"hearing,omitempty"`
	DisciplinaryAction *DisciplinaryAction `json:"disciplinary_action,omitempty"`

	ResolutionSummary string `json:"resolution_summary,omitempty"`
	CloseReason       string `json:"close_reason,omitempty"`
	ReopenReason      string `json:"reopen_reason,omitempty"`

	Timeline Timeline `json:"timeline"`

	// Version guards against two transitions racing on the same incident;
	// the repository rejects a write whose version does not match the row.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report creates a new incident in StatusNew.
func Report(typ Type, severity Severity, priority Priority, reporter Reporter, desc Description) (*Incident, error) {
	if !typ.Valid() {
		return nil, errors.NewValidationError("INVALID_TYPE", "unknown incident type")
	}
	if !severity.Valid() {
		return nil, errors.NewValidationError("INVALID_SEVERITY", "unknown incident severity")
	}
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, errors.NewValidationError("INVALID_PRIORITY", "unknown incident priority")
	}
	if reporter.ReporterID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_REPORTER", "reporter identity is required")
	}
	if desc.Summary == "" {
		return nil, errors.NewValidationError("MISSING_SUMMARY", "description summary is required")
	}

	now := time.Now().UTC()
	if reporter.ReportedAt.IsZero() {
		reporter.ReportedAt = now
	}
	return &Incident{
		ID:          uuid.New(),
		Type:        typ,
		Severity:    severity,
		Status:      StatusNew,
		Priority:    priority,
		ReportedBy:  reporter,
		Description: desc,
		Timeline:    Timeline{ReportedAt: reporter.ReportedAt},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// BeginReview moves a freshly reported incident into triage.
func (i *Incident) BeginReview() error {
	if i.Status != StatusNew {
		return transitionRejected(i.Status, StatusReviewing)
	}
	now := time.Now().UTC()
	if err := i.moveTo(StatusReviewing, now); err != nil {
		return err
	}
	i.Timeline.ReviewStartedAt = &now
	return nil
}

// AssignInvestigator assigns an investigator and moves the incident to
// StatusInvestigating. Allowed only from New or Reviewing. The
// investigation start timestamp is stamped on first assignment and kept
// across reassignment.
func (i *Incident) AssignInvestigator(investigatorID uuid.UUID, name string) error {
	if investigatorID == uuid.Nil {
		return errors.NewValidationError("MISSING_INVESTIGATOR", "investigator identity is required")
	}
	if i.Status != StatusNew && i.Status != StatusReviewing {
		return transitionRejected(i.Status, StatusInvestigating)
	}

	now := time.Now().UTC()
	if err := i.moveTo(StatusInvestigating, now); err != nil {
		return err
	}
	if i.Investigation == nil {
		i.Investigation = &Investigation{StartedAt: now}
		i.Timeline.InvestigationStartedAt = &now
	}
	i.Investigation.AssignedTo = investigatorID
	i.Investigation.AssigneeName = name
	return nil
}

// SubmitFindings records investigation findings and recommendations.
// Allowed only while investigating with an investigator assigned; the
// status does not change here. MoveToPendingAction is the separate act
// that advances the lifecycle once a reviewer is ready.
func (i *Incident) SubmitFindings(findings, recommendations string) error {
	if i.Status != StatusInvestigating {
		return errors.NewStateConflictError("FINDINGS_NOT_ALLOWED",
			"findings can only be submitted while the incident is under investigation")
	}
	if i.Investigation == nil || i.Investigation.AssignedTo == uuid.Nil {
		return errors.NewStateConflictError("NO_INVESTIGATOR",
			"findings require an assigned investigator")
	}
	if findings == "" {
		return errors.NewValidationError("MISSING_FINDINGS", "findings are required")
	}
	if recommendations == "" {
		return errors.NewValidationError("MISSING_RECOMMENDATIONS", "recommendations are required")
	}

	now := time.Now().UTC()
	i.Investigation.Findings = findings
	i.Investigation.Recommendations = recommendations
	i.Investigation.CompletedAt = &now
	i.Timeline.FindingsSubmittedAt = &now
	i.touch(now)
	return nil
}

// MoveToPendingAction advances an investigated incident to PendingAction.
// Requires submitted findings.
func (i *Incident) MoveToPendingAction() error {
	if i.Status != StatusInvestigating {
		return transitionRejected(i.Status, StatusPendingAction)
	}
	if i.Investigation == nil || i.Investigation.Findings == "" {
		return errors.NewStateConflictError("NO_FINDINGS",
			"incident cannot move to pending action before findings are submitted")
	}
	return i.moveTo(StatusPendingAction, time.Now().UTC())
}

// ScheduleHearing books a disciplinary hearing. Allowed from PendingAction
// or Hearing (rescheduling).
func (i *Incident) ScheduleHearing(scheduledFor time.Time, officer uuid.UUID, officerName string) error {
	if i.Status != StatusPendingAction && i.Status != StatusHearing {
		return transitionRejected(i.Status, StatusHearing)
	}
	if scheduledFor.IsZero() {
		return errors.NewValidationError("MISSING_HEARING_DATE", "hearing date is required")
	}
	if officer == uuid.Nil {
		return errors.NewValidationError("MISSING_OFFICER", "hearing officer is required")
	}

	now := time.Now().UTC()
	if err := i.moveTo(StatusHearing, now); err != nil {
		return err
	}
	i.Hearing = &Hearing{ScheduledFor: scheduledFor, Officer: officer, OfficerName: officerName}
	i.Timeline.HearingScheduledAt = &now
	return nil
}

// ActionRequest carries the payload for TakeDisciplinaryAction.
type ActionRequest struct {
	Type          ActionType
	DurationDays  int
	EffectiveDate time.Time
	Reason        string
	DecidedBy     uuid.UUID
}

// TakeDisciplinaryAction records the sanction for this incident. Allowed
// only from PendingAction or Hearing, and only once: a second action is a
// state conflict and leaves the existing one untouched.
func (i *Incident) TakeDisciplinaryAction(req ActionRequest) error {
	if i.Status != StatusPendingAction && i.Status != StatusHearing {
		return errors.NewStateConflictError("ACTION_NOT_ALLOWED",
			"disciplinary action requires the incident to be pending action or in hearing, current status is "+string(i.Status))
	}
	if i.DisciplinaryAction != nil {
		return errors.ErrDuplicateAction
	}
	if !req.Type.Valid() {
		return errors.NewValidationError("INVALID_ACTION_TYPE", "unknown disciplinary action type")
	}
	if req.EffectiveDate.IsZero() {
		return errors.NewValidationError("MISSING_EFFECTIVE_DATE", "effective date is required")
	}
	if req.Reason == "" {
		return errors.NewValidationError("MISSING_REASON", "action reason is required")
	}
	if req.Type == ActionSuspension && req.DurationDays <= 0 {
		return errors.NewValidationError("MISSING_DURATION", "suspension requires a duration in days")
	}
	if req.Type != ActionSuspension && req.DurationDays != 0 {
		return errors.NewValidationError("UNEXPECTED_DURATION", "duration is only valid for suspensions")
	}

	now := time.Now().UTC()
	i.DisciplinaryAction = &DisciplinaryAction{
		Type:          req.Type,
		DurationDays:  req.DurationDays,
		EffectiveDate: req.EffectiveDate,
		Reason:        req.Reason,
		DecidedBy:     req.DecidedBy,
		DecidedAt:     now,
		AppealStatus:  AppealNone,
	}
	i.Timeline.ActionTakenAt = &now
	i.touch(now)
	return nil
}

// Resolve closes out the disciplinary phase. Requires an existing
// disciplinary action and a resolution summary.
func (i *Incident) Resolve(summary string) error {
	if i.Status != StatusPendingAction && i.Status != StatusHearing {
		return transitionRejected(i.Status, StatusResolved)
	}
	if i.DisciplinaryAction == nil {
		return errors.NewStateConflictError("NO_ACTION",
			"incident cannot be resolved before a disciplinary action is taken")
	}
	if summary == "" {
		return errors.NewValidationError("MISSING_RESOLUTION", "resolution summary is required")
	}

	now := time.Now().UTC()
	if err := i.moveTo(StatusResolved, now); err != nil {
		return err
	}
	i.ResolutionSummary = summary
	i.Timeline.ResolvedAt = &now
	return nil
}

// Close terminates the incident from any non-terminal state.
func (i *Incident) Close(reason string) error {
	if i.Status.IsTerminal() {
		return errors.NewStateConflictError("ALREADY_CLOSED", "incident is already closed")
	}
	if reason == "" {
		return errors.NewValidationError("MISSING_CLOSE_REASON", "closure reason is required")
	}

	now := time.Now().UTC()
	if err := i.moveTo(StatusClosed, now); err != nil {
		return err
	}
	i.CloseReason = reason
	i.Timeline.ClosedAt = &now
	return nil
}

// Reopen moves a closed incident back into review.
func (i *Incident) Reopen(reason string) error {
	if i.Status != StatusClosed {
		return transitionRejected(i.Status, StatusReviewing)
	}
	if reason == "" {
		return errors.NewValidationError("MISSING_REOPEN_REASON", "reopen reason is required")
	}

	now := time.Now().UTC()
	if err := i.moveTo(StatusReviewing, now); err != nil {
		return err
	}
	i.ReopenReason = reason
	i.Timeline.ReopenedAt = &now
	return nil
}

// FileAppeal marks the disciplinary action as under appeal. Appeal state
// is orthogonal to the lifecycle status.
func (i *Incident) FileAppeal() error {
	if i.DisciplinaryAction == nil {
		return errors.NewStateConflictError("NO_ACTION", "there is no disciplinary action to appeal")
	}
	if i.DisciplinaryAction.AppealStatus != AppealNone {
		return errors.NewStateConflictError("APPEAL_EXISTS", "an appeal has already been filed")
	}
	i.DisciplinaryAction.AppealStatus = AppealPending
	i.touch(time.Now().UTC())
	return nil
}

// DecideAppeal records the outcome of a pending appeal.
func (i *Incident) DecideAppeal(approved bool) error {
	if i.DisciplinaryAction == nil || i.DisciplinaryAction.AppealStatus != AppealPending {
		return errors.NewStateConflictError("NO_PENDING_APPEAL", "there is no pending appeal to decide")
	}
	if approved {
		i.DisciplinaryAction.AppealStatus = AppealApproved
	} else {
		i.DisciplinaryAction.AppealStatus = AppealRejected
	}
	i.touch(time.Now().UTC())
	return nil
}

// AddEvidence appends evidence references. Closed incidents stay frozen.
func (i *Incident) AddEvidence(photos, videos, documents []string, witnesses []WitnessStatement) error {
	if i.Status.IsTerminal() {
		return errors.NewStateConflictError("INCIDENT_CLOSED", "evidence cannot be added to a closed incident")
	}
	i.Evidence.PhotoURLs = append(i.Evidence.PhotoURLs, photos...)
	i.Evidence.VideoURLs = append(i.Evidence.VideoURLs, videos...)
	i.Evidence.DocumentURLs = append(i.Evidence.DocumentURLs, documents...)
	i.Evidence.Witnesses = append(i.Evidence.Witnesses, witnesses...)
	i.touch(time.Now().UTC())
	return nil
}

// PrimaryDriver returns the first involved driver, if any. Bond deductions
// attach to this driver.
func (i *Incident) PrimaryDriver() (uuid.UUID, bool) {
	if len(i.Involved.DriverIDs) == 0 {
		return uuid.Nil, false
	}
	return i.Involved.DriverIDs[0], true
}

// moveTo commits a status change. The calling transition method has
// already validated its own guards; this is the final edge check against
// the lifecycle graph.
func (i *Incident) moveTo(to Status, now time.Time) error {
	if !CanTransition(i.Status, to) {
		return transitionRejected(i.Status, to)
	}
	i.Status = to
	i.touch(now)
	return nil
}

func (i *Incident) touch(now time.Time) {
	i.Version++
	i.UpdatedAt = now
}

func transitionRejected(from, to Status) error {
	return errors.NewStateConflictError("INVALID_TRANSITION",
		"incident cannot move from "+string(from)+" to "+string(to)).
		WithDetails(map[string]interface{}{"from": string(from), "to": string(to)})
}
