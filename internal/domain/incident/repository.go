package incident

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	Statuses   []Status
	Priorities []Priority
	Types      []Type
	Severities []Severity
	Search     string // matched against summary and narrative
	From       *time.Time
	To         *time.Time
	Page       int
	Limit      int
}

// Page is one page of incidents plus paging metadata.
type Page struct {
	Items      []*Incident `json:"items"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// Stats is the per-status / per-severity breakdown for the console dashboard.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	BySeverity map[Severity]int `json:"by_severity"`
	Open       int              `json:"open"` // everything not resolved or closed
}

// Repository is the persisted store for incidents. Update must fail with
// a stale-version error when the row's version no longer matches
// inc.Version-1, so two transitions cannot both commit against the same
// snapshot.
type Repository interface {
	Create(ctx context.Context, inc *Incident) error
	GetByID(ctx context.Context, id uuid.UUID) (*Incident, error)
	Update(ctx context.Context, inc *Incident) error
	List(ctx context.Context, filter Filter) (*Page, error)
	Stats(ctx context.Context) (*Stats, error)
}
