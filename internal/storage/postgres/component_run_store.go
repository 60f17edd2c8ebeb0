package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sitescope/siteaudit/internal/store"
)

// ComponentRunStore implements store.ComponentRunRepository on top of the
// component_runs table.
type ComponentRunStore struct {
	pool dbPool
}

// NewComponentRunStore creates a Postgres-backed component run store.
func NewComponentRunStore(ctx context.Context, cfg PoolConfig) (*ComponentRunStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ComponentRunStore{pool: pool}, nil
}

// NewComponentRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewComponentRunStoreWithPool(pool dbPool) (*ComponentRunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ComponentRunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ComponentRunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StartRun inserts a new running row with the next attempt number.
func (s *ComponentRunStore) StartRun(
	ctx context.Context,
	auditID uuid.UUID,
	component string,
	startedAt time.Time,
) error {
	query := `
		INSERT INTO component_runs (id, audit_id, component, attempt, started_at, status)
		SELECT $1, $2, $3,
			COALESCE((
				SELECT MAX(attempt) FROM component_runs
				WHERE audit_id = $2 AND component = $3
			), 0) + 1,
			$4, $5;
	`
	_, err := s.pool.Exec(ctx, query, uuid.New(), auditID, component, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("insert component run: %w", err)
	}
	return nil
}

// CompleteRun marks the latest running row for the component finished.
func (s *ComponentRunStore) CompleteRun(
	ctx context.Context,
	auditID uuid.UUID,
	component string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE component_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = (
			SELECT id FROM component_runs
			WHERE audit_id = $4 AND component = $5 AND status = $6
			ORDER BY started_at DESC
			LIMIT 1
		);
	`
	res, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, auditID, component, store.RunRunning)
	if err != nil {
		return fmt.Errorf("complete component run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns run history for one audit ordered by started_at.
func (s *ComponentRunStore) ListRuns(
	ctx context.Context,
	auditID uuid.UUID,
	limit, offset int,
) ([]store.ComponentRun, error) {
	query := `
		SELECT id, audit_id, component, attempt, started_at, finished_at, status, error_message
		FROM component_runs
		WHERE audit_id = $1
		ORDER BY started_at ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, auditID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list component runs: %w", err)
	}
	defer rows.Close()

	var runs []store.ComponentRun
	for rows.Next() {
		var run store.ComponentRun
		err := rows.Scan(
			&run.ID,
			&run.AuditID,
			&run.Component,
			&run.Attempt,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan component run row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
