// Package store provides the persistence layer behind the engine: a Postgres
// implementation for deployments and an in-memory implementation with the
// same concurrency semantics for development and tests.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"signlane/internal/engine"
	"signlane/pkg/domain"
)

type memoryRecord struct {
	req      domain.SignatureRequest
	trail    []domain.AuditEntry
	lastHash string
}

// Memory keeps whole aggregates under one mutex, which gives the same
// at-most-one-writer guarantee the Postgres implementation gets from its
// version check.
type Memory struct {
	mu        sync.RWMutex
	requests  map[string]*memoryRecord
	reminders map[string]domain.Reminder
}

func NewMemory() *Memory {
	return &Memory{
		requests:  make(map[string]*memoryRecord),
		reminders: make(map[string]domain.Reminder),
	}
}

func (m *Memory) CreateRequest(_ context.Context, req domain.SignatureRequest, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.requests[req.RequestID]; exists {
		return fmt.Errorf("request %s already exists", req.RequestID)
	}
	sealed, err := domain.SealEntry(entry, "")
	if err != nil {
		return err
	}
	m.requests[req.RequestID] = &memoryRecord{
		req:      req.Clone(),
		trail:    []domain.AuditEntry{sealed},
		lastHash: sealed.EntryHash,
	}
	return nil
}

func (m *Memory) GetRequest(_ context.Context, requestID string) (domain.SignatureRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.requests[requestID]
	if !ok {
		return domain.SignatureRequest{}, &domain.NotFoundError{Kind: "request", ID: requestID}
	}
	return rec.req.Clone(), nil
}

func (m *Memory) SaveRequest(_ context.Context, req domain.SignatureRequest, expectedVersion int64, entry *domain.AuditEntry, reminder *domain.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.requests[req.RequestID]
	if !ok {
		return &domain.NotFoundError{Kind: "request", ID: req.RequestID}
	}
	if rec.req.Version != expectedVersion {
		return &domain.ConcurrencyConflictError{RequestID: req.RequestID, ExpectedVersion: expectedVersion}
	}
	// Seal before touching anything so a bad audit action leaves no trace.
	var sealed domain.AuditEntry
	if entry != nil {
		var err error
		sealed, err = domain.SealEntry(*entry, rec.lastHash)
		if err != nil {
			return err
		}
	}
	rec.req = req.Clone()
	if entry != nil {
		rec.trail = append(rec.trail, sealed)
		rec.lastHash = sealed.EntryHash
	}
	if reminder != nil {
		m.reminders[reminder.ReminderID] = *reminder
	}
	return nil
}

func (m *Memory) ListAudit(_ context.Context, requestID string) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.requests[requestID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "request", ID: requestID}
	}
	out := make([]domain.AuditEntry, len(rec.trail))
	copy(out, rec.trail)
	return out, nil
}

func (m *Memory) ListOpen(_ context.Context) ([]domain.SignatureRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.SignatureRequest
	for _, rec := range m.requests {
		if rec.req.Open() {
			out = append(out, rec.req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListRequests(_ context.Context, f engine.Filter) (engine.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.SignatureRequest
	for _, rec := range m.requests {
		if matchesFilter(rec.req, f) {
			matched = append(matched, rec.req.Clone())
		}
	}
	return paginate(matched, f.Limit, f.Offset), nil
}

func (m *Memory) SearchRequests(_ context.Context, query string, limit, offset int) (engine.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var matched []domain.SignatureRequest
	for _, rec := range m.requests {
		if q == "" || matchesQuery(rec.req, q) {
			matched = append(matched, rec.req.Clone())
		}
	}
	return paginate(matched, limit, offset), nil
}

func (m *Memory) GetReminder(_ context.Context, reminderID string) (domain.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rem, ok := m.reminders[reminderID]
	if !ok {
		return domain.Reminder{}, &domain.NotFoundError{Kind: "reminder", ID: reminderID}
	}
	return rem, nil
}

func (m *Memory) SetReminderStatus(_ context.Context, reminderID string, status domain.ReminderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.reminders[reminderID]
	if !ok {
		return &domain.NotFoundError{Kind: "reminder", ID: reminderID}
	}
	rem.Status = status
	rem.UpdatedAt = at
	m.reminders[reminderID] = rem
	return nil
}

func matchesFilter(req domain.SignatureRequest, f engine.Filter) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if req.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SignerEmail != "" {
		ok := false
		for _, s := range req.Signers {
			if strings.EqualFold(s.Email, f.SignerEmail) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.CreatedAfter != nil && !req.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !req.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.IsUrgent != nil && req.IsUrgent != *f.IsUrgent {
		return false
	}
	if f.RequiresWitness != nil && req.RequiresWitness != *f.RequiresWitness {
		return false
	}
	if f.CreatedBy != "" && req.CreatedBy != f.CreatedBy {
		return false
	}
	if f.DocumentTitle != "" && !strings.Contains(strings.ToLower(req.DocumentTitle), strings.ToLower(f.DocumentTitle)) {
		return false
	}
	return true
}

func matchesQuery(req domain.SignatureRequest, q string) bool {
	if strings.Contains(strings.ToLower(req.DocumentTitle), q) ||
		strings.Contains(strings.ToLower(req.Message), q) {
		return true
	}
	for _, s := range req.Signers {
		if strings.Contains(strings.ToLower(s.Name), q) || strings.Contains(strings.ToLower(s.Email), q) {
			return true
		}
	}
	return false
}

func paginate(matched []domain.SignatureRequest, limit, offset int) engine.Page {
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].RequestID < matched[j].RequestID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	page := engine.Page{Total: len(matched), Facets: computeFacets(matched)}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		page.Requests = []domain.SignatureRequest{}
		return page
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Requests = matched[offset:end]
	return page
}

func computeFacets(reqs []domain.SignatureRequest) engine.Facets {
	f := engine.Facets{
		Status:      make(map[string]int),
		SignerRoles: make(map[string]int),
	}
	for _, r := range reqs {
		f.Status[string(r.Status)]++
		for _, s := range r.Signers {
			f.SignerRoles[string(s.Role)]++
		}
		if r.IsUrgent {
			f.Urgent++
		}
		if r.RequiresWitness {
			f.RequiresWitness++
		}
	}
	return f
}
