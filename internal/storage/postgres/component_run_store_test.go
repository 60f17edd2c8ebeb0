package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/store"
)

func TestStartRunInsertsAttempt(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewComponentRunStoreWithPool(mock)
	require.NoError(t, err)

	auditID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO component_runs").
		WithArgs(pgxmock.AnyArg(), auditID, "technicalIssues", now, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, runs.StartRun(context.Background(), auditID, "technicalIssues", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunUpdatesLatestRunning(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewComponentRunStoreWithPool(mock)
	require.NoError(t, err)

	auditID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	msg := "serp quota exceeded"

	mock.ExpectExec("UPDATE component_runs").
		WithArgs(now, store.RunError, &msg, auditID, "currentRankings", store.RunRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, runs.CompleteRun(context.Background(), auditID, "currentRankings", now, store.RunError, &msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunWithoutRunningRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewComponentRunStoreWithPool(mock)
	require.NoError(t, err)

	auditID := uuid.New()
	now := time.Now()

	mock.ExpectExec("UPDATE component_runs").
		WithArgs(now, store.RunSuccess, (*string)(nil), auditID, "briefs", store.RunRunning).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = runs.CompleteRun(context.Background(), auditID, "briefs", now, store.RunSuccess, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRunsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewComponentRunStoreWithPool(mock)
	require.NoError(t, err)

	auditID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(2 * time.Second)

	mock.ExpectQuery("SELECT id, audit_id, component").
		WithArgs(auditID, 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "audit_id", "component", "attempt", "started_at", "finished_at", "status", "error_message",
		}).AddRow(
			uuid.New(), auditID, "technicalIssues", 1, started, &finished, store.RunSuccess, (*string)(nil),
		))

	got, err := runs.ListRuns(context.Background(), auditID, 50, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "technicalIssues", got[0].Component)
	require.Equal(t, store.RunSuccess, got[0].Status)
	require.NotNil(t, got[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
