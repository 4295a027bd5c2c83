package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the repositories need,
// so the same repository code runs standalone or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// incidentRepository implements incident.Repository on PostgreSQL. Scalar
// lifecycle fields are columns so they can be indexed and filtered;
// sub-records travel as jsonb.
type incidentRepository struct {
	db querier
}

func NewIncidentRepository(pool *pgxpool.Pool) incident.Repository {
	return &incidentRepository{db: pool}
}

func newIncidentRepositoryWithTx(tx pgx.Tx) incident.Repository {
	return &incidentRepository{db: tx}
}

const incidentColumns = `
	id, type, severity, status, priority,
	reported_by, involved, location, description, evidence,
	investigation, hearing, disciplinary_action,
	resolution_summary, close_reason, reopen_reason,
	version, created_at, updated_at`

func (r *incidentRepository) Create(ctx context.Context, inc *incident.Incident) error {
	fields, err := marshalIncidentFields(inc)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO incidents (` + incidentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	_, err = r.db.Exec(ctx, query,
		inc.ID, inc.Type, inc.Severity, inc.Status, inc.Priority,
		fields.reportedBy, fields.involved, fields.location, fields.description, fields.evidence,
		fields.investigation, fields.hearing, fields.action,
		inc.ResolutionSummary, inc.CloseReason, inc.ReopenReason,
		inc.Version, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.NewStateConflictError("DUPLICATE_ID",
				"incident "+inc.ID.String()+" already exists")
		}
		return errors.NewInternalError("inserting incident").WithCause(err)
	}
	return nil
}

func (r *incidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*incident.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	inc, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrIncidentNotFound
		}
		return nil, errors.NewInternalError("reading incident").WithCause(err)
	}
	return inc, nil
}

// Update commits a transition with an optimistic version check: the write
// only lands when the stored row still carries the version the snapshot
// was read at. Zero rows affected means either a concurrent transition
// won the race or the incident is gone; the follow-up read disambiguates.
func (r *incidentRepository) Update(ctx context.Context, inc *incident.Incident) error {
	fields, err := marshalIncidentFields(inc)
	if err != nil {
		return err
	}

	query := `
		UPDATE incidents SET
			type = $2, severity = $3, status = $4, priority = $5,
			reported_by = $6, involved = $7, location = $8, description = $9, evidence = $10,
			investigation = $11, hearing = $12, disciplinary_action = $13,
			resolution_summary = $14, close_reason = $15, reopen_reason = $16,
			version = $17, updated_at = $18
		WHERE id = $1 AND version = $19`

	tag, err := r.db.Exec(ctx, query,
		inc.ID, inc.Type, inc.Severity, inc.Status, inc.Priority,
		fields.reportedBy, fields.involved, fields.location, fields.description, fields.evidence,
		fields.investigation, fields.hearing, fields.action,
		inc.ResolutionSummary, inc.CloseReason, inc.ReopenReason,
		inc.Version, inc.UpdatedAt, inc.Version-1,
	)
	if err != nil {
		return errors.NewInternalError("updating incident").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM incidents WHERE id = $1)`, inc.ID).Scan(&exists); err != nil {
			return errors.NewInternalError("checking incident existence").WithCause(err)
		}
		if !exists {
			return errors.ErrIncidentNotFound
		}
		return errors.ErrStaleIncident
	}
	return nil
}

func (r *incidentRepository) List(ctx context.Context, filter incident.Filter) (*incident.Page, error) {
	where, args := buildIncidentFilter(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM incidents` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, errors.NewInternalError("counting incidents").WithCause(err)
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	query := fmt.Sprintf(`SELECT %s FROM incidents%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		incidentColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternalError("listing incidents").WithCause(err)
	}
	defer rows.Close()

	items := make([]*incident.Incident, 0, limit)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, errors.NewInternalError("scanning incident row").WithCause(err)
		}
		items = append(items, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("iterating incident rows").WithCause(err)
	}

	return &incident.Page{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (r *incidentRepository) Stats(ctx context.Context) (*incident.Stats, error) {
	stats := &incident.Stats{
		ByStatus:   make(map[incident.Status]int),
		BySeverity: make(map[incident.Severity]int),
	}

	rows, err := r.db.Query(ctx, `SELECT status, severity, COUNT(*) FROM incidents GROUP BY status, severity`)
	if err != nil {
		return nil, errors.NewInternalError("reading incident stats").WithCause(err)
	}
	defer rows.Close()

	for rows.Next() {
		var status incident.Status
		var severity incident.Severity
		var count int
		if err := rows.Scan(&status, &severity, &count); err != nil {
			return nil, errors.NewInternalError("scanning stats row").WithCause(err)
		}
		stats.Total += count
		stats.ByStatus[status] += count
		stats.BySeverity[severity] += count
		if status != incident.StatusResolved && status != incident.StatusClosed {
			stats.Open += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("iterating stats rows").WithCause(err)
	}
	return stats, nil
}

func buildIncidentFilter(f incident.Filter) (string, []any) {
	var conds []string
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		conds = append(conds, "status = ANY("+next(enumStrings(f.Statuses))+")")
	}
	if len(f.Severities) > 0 {
		conds = append(conds, "severity = ANY("+next(enumStrings(f.Severities))+")")
	}
	if len(f.Types) > 0 {
		conds = append(conds, "type = ANY("+next(enumStrings(f.Types))+")")
	}
	if len(f.Priorities) > 0 {
		conds = append(conds, "priority = ANY("+next(enumStrings(f.Priorities))+")")
	}
	if f.Search != "" {
		arg := next("%" + f.Search + "%")
		conds = append(conds, "(description->>'summary' ILIKE "+arg+" OR description->>'narrative' ILIKE "+arg+")")
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+next(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= "+next(*f.To))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

type incidentJSONFields struct {
	reportedBy    []byte
	involved      []byte
	location      []byte
	description   []byte
	evidence      []byte
	investigation []byte
	hearing       []byte
	action        []byte
}

func marshalIncidentFields(inc *incident.Incident) (*incidentJSONFields, error) {
	fields := &incidentJSONFields{}
	var err error

	if fields.reportedBy, err = json.Marshal(inc.ReportedBy); err != nil {
		return nil, errors.NewInternalError("marshaling reporter").WithCause(err)
	}
	if fields.involved, err = json.Marshal(inc.Involved); err != nil {
		return nil, errors.NewInternalError("marshaling involved parties").WithCause(err)
	}
	if fields.description, err = json.Marshal(inc.Description); err != nil {
		return nil, errors.NewInternalError("marshaling description").WithCause(err)
	}
	if fields.evidence, err = json.Marshal(inc.Evidence); err != nil {
		return nil, errors.NewInternalError("marshaling evidence").WithCause(err)
	}
	if inc.Location != nil {
		if fields.location, err = json.Marshal(inc.Location); err != nil {
			return nil, errors.NewInternalError("marshaling location").WithCause(err)
		}
	}
	if inc.Investigation != nil {
		if fields.investigation, err = json.Marshal(inc.Investigation); err != nil {
			return nil, errors.NewInternalError("marshaling investigation").WithCause(err)
		}
	}
	if inc.Hearing != nil {
		if fields.hearing, err = json.Marshal(inc.Hearing); err != nil {
			return nil, errors.NewInternalError("marshaling hearing").WithCause(err)
		}
	}
	if inc.DisciplinaryAction != nil {
		if fields.action, err = json.Marshal(inc.DisciplinaryAction); err != nil {
			return nil, errors.NewInternalError("marshaling disciplinary action").WithCause(err)
		}
	}
	return fields, nil
}

func scanIncident(row pgx.Row) (*incident.Incident, error) {
	var inc incident.Incident
	var reportedBy, involved, location, description, evidence []byte
	var investigation, hearing, action []byte

	err := row.Scan(
		&inc.ID, &inc.Type, &inc.Severity, &inc.Status, &inc.Priority,
		&reportedBy, &involved, &location, &description, &evidence,
		&investigation, &hearing, &action,
		&inc.ResolutionSummary, &inc.CloseReason, &inc.ReopenReason,
		&inc.Version, &inc.CreatedAt, &inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(reportedBy, &inc.ReportedBy); err != nil {
		return nil, fmt.Errorf("unmarshaling reporter: %w", err)
	}
	if err := json.Unmarshal(involved, &inc.Involved); err != nil {
		return nil, fmt.Errorf("unmarshaling involved parties: %w", err)
	}
	if err := json.Unmarshal(description, &inc.Description); err != nil {
		return nil, fmt.Errorf("unmarshaling description: %w", err)
	}
	if err := json.Unmarshal(evidence, &inc.Evidence); err != nil {
		return nil, fmt.Errorf("unmarshaling evidence: %w", err)
	}
	if len(location) > 0 {
		inc.Location = &incident.Location{}
		if err := json.Unmarshal(location, inc.Location); err != nil {
			return nil, fmt.Errorf("unmarshaling location: %w", err)
		}
	}
	if len(investigation) > 0 {
		inc.Investigation = &incident.Investigation{}
		if err := json.Unmarshal(investigation, inc.Investigation); err != nil {
			return nil, fmt.Errorf("unmarshaling investigation: %w", err)
		}
	}
	if len(hearing) > 0 {
		inc.Hearing = &incident.Hearing{}
		if err := json.Unmarshal(hearing, inc.Hearing); err != nil {
			return nil, fmt.Errorf("unmarshaling hearing: %w", err)
		}
	}
	if len(action) > 0 {
		inc.DisciplinaryAction = &incident.DisciplinaryAction{}
		if err := json.Unmarshal(action, inc.DisciplinaryAction); err != nil {
			return nil, fmt.Errorf("unmarshaling disciplinary action: %w", err)
		}
	}
	return &inc, nil
}
