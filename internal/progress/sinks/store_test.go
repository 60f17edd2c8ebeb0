package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/progress"
	"github.com/sitescope/siteaudit/internal/store"
)

// TestStoreSinkPersistsComponentRuns ensures start/fail/done events become run rows.
func TestStoreSinkPersistsComponentRuns(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	auditUUID := uuid.New()
	auditID := progress.UUIDToBytes(auditUUID)
	now := time.Now()

	batch := []progress.Event{
		{AuditID: auditID, Phase: progress.PhaseAuditStart, TS: now},
		{AuditID: auditID, Phase: progress.PhaseComponentStart, Component: "technicalIssues", TS: now.Add(time.Second)},
		{
			AuditID:   auditID,
			Phase:     progress.PhaseComponentDone,
			Component: "technicalIssues",
			TS:        now.Add(3 * time.Second),
			Dur:       2 * time.Second,
		},
		{AuditID: auditID, Phase: progress.PhaseComponentStart, Component: "currentRankings", TS: now.Add(3 * time.Second)},
		{
			AuditID:   auditID,
			Phase:     progress.PhaseComponentFail,
			Component: "currentRankings",
			Note:      "serp quota exceeded",
			TS:        now.Add(4 * time.Second),
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 2)
	require.Len(t, repo.completes, 2)
	require.Equal(t, auditUUID, repo.starts[0].auditID)
	require.Equal(t, "technicalIssues", repo.starts[0].component)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Equal(t, store.RunError, repo.completes[1].status)
	require.NotNil(t, repo.completes[1].errMsg)
	require.Equal(t, "serp quota exceeded", *repo.completes[1].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	auditID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{AuditID: auditID, Phase: progress.PhaseComponentStart, Component: "briefs", TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeRunRepo struct {
	fail      bool
	starts    []runCall
	completes []runCall
}

type runCall struct {
	auditID   uuid.UUID
	component string
	status    store.RunStatus
	errMsg    *string
}

func (f *fakeRunRepo) StartRun(_ context.Context, auditID uuid.UUID, component string, startedAt time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	_ = startedAt
	f.starts = append(f.starts, runCall{auditID: auditID, component: component})
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	auditID uuid.UUID,
	component string,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	_ = finishedAt
	f.completes = append(f.completes, runCall{auditID: auditID, component: component, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeRunRepo) ListRuns(context.Context, uuid.UUID, int, int) ([]store.ComponentRun, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
