package rest

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
	incidentsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/incident"
)

type reportIncidentRequest struct {
	Type     string `json:"type" validate:"required"`
	Severity string `json:"severity" validate:"required"`
	Priority string `json:"priority"`

	Reporter struct {
		Kind string `json:"kind" validate:"required,oneof=driver customer dispatcher system"`
		ID   string `json:"id" validate:"required,uuid"`
		Name string `json:"name"`
	} `json:"reporter"`

	Description struct {
		Summary       string   `json:"summary" validate:"required"`
		Narrative     string   `json:"narrative"`
		Circumstances []string `json:"circumstances"`
	} `json:"description"`

	Involved struct {
		DriverIDs   []string `json:"driver_ids" validate:"dive,uuid"`
		VehicleIDs  []string `json:"vehicle_ids" validate:"dive,uuid"`
		CustomerIDs []string `json:"customer_ids" validate:"dive,uuid"`
	} `json:"involved"`

	Location *struct {
		Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
		Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
		Address   string  `json:"address"`
	} `json:"location"`
}

func (h *Handler) reportIncident(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req reportIncidentRequest
	if !h.decode(w, r, &req) {
		return
	}

	reporterID, _ := uuid.Parse(req.Reporter.ID)
	svcReq := incidentsvc.ReportRequest{
		Type:     domain.Type(req.Type),
		Severity: domain.Severity(req.Severity),
		Priority: domain.Priority(req.Priority),
		Reporter: domain.Reporter{
			Kind:       req.Reporter.Kind,
			ReporterID: reporterID,
			Name:       req.Reporter.Name,
		},
		Description: domain.Description{
			Summary:       req.Description.Summary,
			Narrative:     req.Description.Narrative,
			Circumstances: req.Description.Circumstances,
		},
		Involved: domain.Involved{
			DriverIDs:   parseUUIDs(req.Involved.DriverIDs),
			VehicleIDs:  parseUUIDs(req.Involved.VehicleIDs),
			CustomerIDs: parseUUIDs(req.Involved.CustomerIDs),
		},
	}
	if req.Location != nil {
		svcReq.Location = &domain.Location{
			Latitude:   req.Location.Latitude,
			Longitude:  req.Location.Longitude,
			Address:    req.Location.Address,
			RecordedAt: time.Now().UTC(),
		}
	}

	inc, err := h.services.Incidents.Report(r.Context(), actorID, svcReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, inc)
}

func (h *Handler) getIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	inc, err := h.services.Incidents.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.Filter{
		Search: q.Get("search"),
		Page:   queryInt(q.Get("page"), 1),
		Limit:  queryInt(q.Get("limit"), 20),
	}
	for _, s := range splitCSV(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, domain.Status(s))
	}
	for _, s := range splitCSV(q.Get("severity")) {
		filter.Severities = append(filter.Severities, domain.Severity(s))
	}
	for _, s := range splitCSV(q.Get("type")) {
		filter.Types = append(filter.Types, domain.Type(s))
	}
	for _, s := range splitCSV(q.Get("priority")) {
		filter.Priorities = append(filter.Priorities, domain.Priority(s))
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}

	page, err := h.services.Incidents.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

func (h *Handler) incidentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.services.Incidents.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

type assignRequest struct {
	InvestigatorID string `json:"investigator_id" validate:"required,uuid"`
	Name           string `json:"name"`
}

func (h *Handler) assignInvestigator(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	investigatorID, _ := uuid.Parse(req.InvestigatorID)

	inc, err := h.services.Incidents.AssignInvestigator(r.Context(), actorID, id, investigatorID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

type findingsRequest struct {
	Findings        string `json:"findings" validate:"required"`
	Recommendations string `json:"recommendations" validate:"required"`
	Advance         bool   `json:"advance"`
}

func (h *Handler) submitFindings(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req findingsRequest
	if !h.decode(w, r, &req) {
		return
	}

	inc, err := h.services.Incidents.SubmitFindings(r.Context(), actorID, id,
		req.Findings, req.Recommendations, req.Advance)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) moveToPendingAction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	inc, err := h.services.Incidents.MoveToPendingAction(r.Context(), actorID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

type hearingRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
	OfficerID    string    `json:"officer_id" validate:"required,uuid"`
	OfficerName  string    `json:"officer_name"`
}

func (h *Handler) scheduleHearing(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req hearingRequest
	if !h.decode(w, r, &req) {
		return
	}
	officerID, _ := uuid.Parse(req.OfficerID)

	inc, err := h.services.Incidents.ScheduleHearing(r.Context(), actorID, id,
		req.ScheduledFor, officerID, req.OfficerName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

type actionRequest struct {
	Type          string    `json:"type" validate:"required,oneof=warning training suspension termination"`
	DurationDays  int       `json:"duration_days" validate:"min=0"`
	EffectiveDate time.Time `json:"effective_date" validate:"required"`
	Reason        string    `json:"reason" validate:"required"`
}

func (h *Handler) takeAction(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.services.Incidents.TakeAction(r.Context(), actorID, id, domain.ActionRequest{
		Type:          domain.ActionType(req.Type),
		DurationDays:  req.DurationDays,
		EffectiveDate: req.EffectiveDate,
		Reason:        req.Reason,
		DecidedBy:     actorID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	h.reasonTransition(w, r, h.services.Incidents.Resolve)
}

func (h *Handler) closeIncident(w http.ResponseWriter, r *http.Request) {
	h.reasonTransition(w, r, h.services.Incidents.Close)
}

func (h *Handler) reopenIncident(w http.ResponseWriter, r *http.Request) {
	h.reasonTransition(w, r, h.services.Incidents.Reopen)
}

// reasonTransition serves the transitions whose payload is a single
// required reason string.
func (h *Handler) reasonTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actorID, id uuid.UUID, reason string) (*domain.Incident, error)) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	inc, err := fn(r.Context(), actorID, id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

func (h *Handler) fileAppeal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	inc, err := h.services.Incidents.FileAppeal(r.Context(), actorID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

type appealDecisionRequest struct {
	Approved bool `json:"approved"`
}

func (h *Handler) decideAppeal(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req appealDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	inc, err := h.services.Incidents.DecideAppeal(r.Context(), actorID, id, req.Approved)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

type evidenceRequest struct {
	PhotoURLs    []string `json:"photo_urls" validate:"dive,url"`
	VideoURLs    []string `json:"video_urls" validate:"dive,url"`
	DocumentURLs []string `json:"document_urls" validate:"dive,url"`
	Witnesses    []struct {
		Name      string `json:"name" validate:"required"`
		Contact   string `json:"contact"`
		Statement string `json:"statement" validate:"required"`
	} `json:"witnesses" validate:"dive"`
}

func (h *Handler) addEvidence(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req evidenceRequest
	if !h.decode(w, r, &req) {
		return
	}

	witnesses := make([]domain.WitnessStatement, len(req.Witnesses))
	now := time.Now().UTC()
	for i, wit := range req.Witnesses {
		witnesses[i] = domain.WitnessStatement{
			Name:      wit.Name,
			Contact:   wit.Contact,
			Statement: wit.Statement,
			TakenAt:   now,
		}
	}

	inc, err := h.services.Incidents.AddEvidence(r.Context(), actorID, id,
		req.PhotoURLs, req.VideoURLs, req.DocumentURLs, witnesses)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

func parseUUIDs(raw []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func queryInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
