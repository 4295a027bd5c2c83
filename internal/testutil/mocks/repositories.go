package mocks

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/incident"
)

// In-memory repository doubles for service tests. They mirror the
// Postgres repositories' contracts: deep-copied snapshots, version checks
// on incident updates, and sequence checks on bond appends.

func deepCopy[T any](src, dst *T) {
	data, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		panic(err)
	}
}

// IncidentRepo is an in-memory incident.Repository.
type IncidentRepo struct {
	mu        sync.Mutex
	incidents map[uuid.UUID]*incident.Incident

	// FailNextUpdate makes the next Update fail with the given error, for
	// exercising the retry and rollback paths.
	FailNextUpdate error
}

func NewIncidentRepo() *IncidentRepo {
	return &IncidentRepo{incidents: make(map[uuid.UUID]*incident.Incident)}
}

func (r *IncidentRepo) Create(_ context.Context, inc *incident.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incidents[inc.ID]; ok {
		return errors.NewStateConflictError("DUPLICATE_ID", "incident already exists")
	}
	stored := &incident.Incident{}
	deepCopy(inc, stored)
	r.incidents[inc.ID] = stored
	return nil
}

func (r *IncidentRepo) GetByID(_ context.Context, id uuid.UUID) (*incident.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.incidents[id]
	if !ok {
		return nil, errors.ErrIncidentNotFound
	}
	out := &incident.Incident{}
	deepCopy(stored, out)
	return out, nil
}

func (r *IncidentRepo) Update(_ context.Context, inc *incident.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNextUpdate != nil {
		err := r.FailNextUpdate
		r.FailNextUpdate = nil
		return err
	}

	stored, ok := r.incidents[inc.ID]
	if !ok {
		return errors.ErrIncidentNotFound
	}
	if stored.Version != inc.Version-1 {
		return errors.ErrStaleIncident
	}
	next := &incident.Incident{}
	deepCopy(inc, next)
	r.incidents[inc.ID] = next
	return nil
}

func (r *IncidentRepo) List(_ context.Context, filter incident.Filter) (*incident.Page, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*incident.Incident
	for _, stored := range r.incidents {
		if !matches(stored, filter) {
			continue
		}
		out := &incident.Incident{}
		deepCopy(stored, out)
		matched = append(matched, out)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &incident.Page{
		Items:      matched[start:end],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (r *IncidentRepo) Stats(_ context.Context) (*incident.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &incident.Stats{
		ByStatus:   make(map[incident.Status]int),
		BySeverity: make(map[incident.Severity]int),
	}
	for _, inc := range r.incidents {
		stats.Total++
		stats.ByStatus[inc.Status]++
		stats.BySeverity[inc.Severity]++
		if inc.Status != incident.StatusResolved && inc.Status != incident.StatusClosed {
			stats.Open++
		}
	}
	return stats, nil
}

func matches(inc *incident.Incident, f incident.Filter) bool {
	contains := func(haystack []string, needle string) bool {
		if len(haystack) == 0 {
			return true
		}
		for _, h := range haystack {
			if h == needle {
				return true
			}
		}
		return false
	}

	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	priorities := make([]string, len(f.Priorities))
	for i, p := range f.Priorities {
		priorities[i] = string(p)
	}
	types := make([]string, len(f.Types))
	for i, t := range f.Types {
		types[i] = string(t)
	}
	severities := make([]string, len(f.Severities))
	for i, s := range f.Severities {
		severities[i] = string(s)
	}

	if !contains(statuses, string(inc.Status)) ||
		!contains(priorities, string(inc.Priority)) ||
		!contains(types, string(inc.Type)) ||
		!contains(severities, string(inc.Severity)) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(inc.Description.Summary), needle) &&
			!strings.Contains(strings.ToLower(inc.Description.Narrative), needle) {
			return false
		}
	}
	if f.From != nil && inc.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && inc.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// BondRepo is an in-memory bond.Repository.
type BondRepo struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*bond.Account
	ledgers  map[uuid.UUID][]*bond.Transaction
}

func NewBondRepo() *BondRepo {
	return &BondRepo{
		accounts: make(map[uuid.UUID]*bond.Account),
		ledgers:  make(map[uuid.UUID][]*bond.Transaction),
	}
}

func (r *BondRepo) GetAccount(_ context.Context, driverID uuid.UUID) (*bond.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[driverID]
	if !ok {
		return nil, errors.ErrBondAccountNotFound
	}
	out := &bond.Account{}
	deepCopy(stored, out)
	return out, nil
}

func (r *BondRepo) CreateAccount(_ context.Context, account *bond.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.DriverID]; ok {
		return errors.NewStateConflictError("DUPLICATE_ACCOUNT", "bond account already exists")
	}
	stored := &bond.Account{}
	deepCopy(account, stored)
	r.accounts[account.DriverID] = stored
	return nil
}

func (r *BondRepo) AppendTransaction(_ context.Context, account *bond.Account, txn *bond.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[account.DriverID]
	if !ok {
		return errors.ErrBondAccountNotFound
	}
	if stored.Sequence != account.Sequence-1 {
		return errors.NewStateConflictError("STALE_ACCOUNT", "bond account was modified concurrently")
	}

	nextAccount := &bond.Account{}
	deepCopy(account, nextAccount)
	nextTxn := &bond.Transaction{}
	deepCopy(txn, nextTxn)
	r.accounts[account.DriverID] = nextAccount
	r.ledgers[account.DriverID] = append(r.ledgers[account.DriverID], nextTxn)
	return nil
}

func (r *BondRepo) ListTransactions(_ context.Context, driverID uuid.UUID, page, limit int) (*bond.TransactionPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ledger := r.ledgers[driverID]
	total := len(ledger)

	// Newest first
	out := make([]*bond.Transaction, 0, total)
	for i := total - 1; i >= 0; i-- {
		copied := &bond.Transaction{}
		deepCopy(ledger[i], copied)
		out = append(out, copied)
	}

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &bond.TransactionPage{
		Items:      out[start:end],
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

func (r *BondRepo) FindByReference(_ context.Context, driverID uuid.UUID, referenceType, referenceID string) (*bond.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.ledgers[driverID] {
		if txn.ReferenceType == referenceType && txn.ReferenceID == referenceID {
			out := &bond.Transaction{}
			deepCopy(txn, out)
			return out, nil
		}
	}
	return nil, nil
}
