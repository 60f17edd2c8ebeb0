package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sitescope/siteaudit/internal/audit"
)

// AuditStore provides an in-memory audit.Store for development and testing.
type AuditStore struct {
	mu     sync.RWMutex
	audits map[string]audit.Audit
	now    func() time.Time
}

// NewAuditStore constructs an AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		audits: make(map[string]audit.Audit),
		now:    time.Now,
	}
}

// CreateAudit stores a new audit record.
func (s *AuditStore) CreateAudit(_ context.Context, a audit.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.audits[a.ID]; exists {
		return errors.New("audit already exists")
	}
	s.audits[a.ID] = a
	return nil
}

// GetAudit fetches an audit by ID.
func (s *AuditStore) GetAudit(_ context.Context, auditID string) (audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.Audit{}, audit.ErrNotFound
	}
	if a.State != nil {
		a.State = a.State.Clone()
	}
	return a, nil
}

// UpdateAuditStatus transitions the audit and records timing side effects.
func (s *AuditStore) UpdateAuditStatus(
	_ context.Context,
	auditID string,
	status audit.AuditStatus,
	errText string,
	retryAfter *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.ErrNotFound
	}
	a.Status = status
	a.ErrorText = errText
	a.RetryAfter = retryAfter
	now := s.now().UTC()
	if status == audit.AuditCrawling && a.Started == nil {
		a.Started = pointerTime(now)
	}
	if isTerminal(status) {
		a.Finished = pointerTime(now)
	}
	s.audits[auditID] = a
	return nil
}

// SaveState snapshots the pipeline state onto the audit record.
func (s *AuditStore) SaveState(_ context.Context, auditID string, state *audit.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.ErrNotFound
	}
	if state != nil {
		a.State = state.Clone()
	} else {
		a.State = nil
	}
	s.audits[auditID] = a
	return nil
}

// MergeComponentState folds state's transitions for the given keys into the
// stored snapshot, leaving every other component's recorded progress intact.
func (s *AuditStore) MergeComponentState(
	_ context.Context,
	auditID string,
	keys []audit.ComponentKey,
	state *audit.PipelineState,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.ErrNotFound
	}
	if state == nil {
		return nil
	}
	if a.State == nil {
		a.State = state.Clone()
	} else {
		merged := a.State.Clone()
		merged.MergeKeys(state, keys)
		a.State = merged
	}
	s.audits[auditID] = a
	return nil
}

// ListAudits returns audits filtered by optional status, newest first.
func (s *AuditStore) ListAudits(
	_ context.Context,
	status *audit.AuditStatus,
	limit, offset int,
) ([]audit.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []audit.Audit
	for _, a := range s.audits {
		if status != nil && a.Status != *status {
			continue
		}
		all = append(all, a)
	}
	sortBySubmittedDesc(all)
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]audit.Audit, len(all))
	copy(out, all)
	return out, nil
}

func sortBySubmittedDesc(audits []audit.Audit) {
	sort.Slice(audits, func(i, j int) bool {
		return audits[i].Submitted.After(audits[j].Submitted)
	})
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status audit.AuditStatus) bool {
	switch status {
	case audit.AuditCompleted, audit.AuditFailed:
		return true
	default:
		return false
	}
}
