package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("component run not found")

// RunStatus mirrors the component_runs status column.
type RunStatus string

// Run statuses persisted in component_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// ComponentRun models one execution attempt of a pipeline component. A
// component that retries across resume passes accumulates multiple rows.
type ComponentRun struct {
	// ID is the primary key of component_runs.
	ID uuid.UUID
	// AuditID is the owning audit.
	AuditID uuid.UUID
	// Component is the component key (e.g. technicalIssues).
	Component string
	// Attempt is 1-based and increments per retry of the same component.
	Attempt int
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the failure reason.
	ErrorMessage *string
}

// ComponentRunRepository persists incremental component run history. It backs
// the progress store sink and the audit history API.
type ComponentRunRepository interface {
	// StartRun inserts a new running row for the component and returns its
	// attempt number.
	StartRun(ctx context.Context, auditID uuid.UUID, component string, startedAt time.Time) error
	// CompleteRun marks the latest running row for the component finished.
	CompleteRun(ctx context.Context, auditID uuid.UUID, component string, finishedAt time.Time, status RunStatus, errMsg *string) error
	// ListRuns returns run history for one audit ordered by started_at.
	ListRuns(ctx context.Context, auditID uuid.UUID, limit, offset int) ([]ComponentRun, error)
}
