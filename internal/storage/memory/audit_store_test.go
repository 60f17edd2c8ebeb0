package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
)

func TestAuditStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	ctx := context.Background()

	a := audit.Audit{
		ID:        "audit-1",
		SiteURL:   "https://example.com",
		Status:    audit.AuditPending,
		Submitted: time.Now().UTC(),
	}
	require.NoError(t, store.CreateAudit(ctx, a))
	require.Error(t, store.CreateAudit(ctx, a), "duplicate insert must fail")

	require.NoError(t, store.UpdateAuditStatus(ctx, "audit-1", audit.AuditCrawling, "", nil))
	got, err := store.GetAudit(ctx, "audit-1")
	require.NoError(t, err)
	require.Equal(t, audit.AuditCrawling, got.Status)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	require.NoError(t, store.UpdateAuditStatus(ctx, "audit-1", audit.AuditCompleted, "", nil))
	got, err = store.GetAudit(ctx, "audit-1")
	require.NoError(t, err)
	require.NotNil(t, got.Finished)
}

func TestAuditStoreNotFound(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	_, err := store.GetAudit(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.ErrorIs(t, store.SaveState(context.Background(), "missing", audit.NewPipelineState(nil)), audit.ErrNotFound)
}

func TestAuditStoreSaveStateSnapshots(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "audit-1", Submitted: time.Now()}))

	state := audit.NewPipelineState([]audit.ComponentKey{audit.ComponentTechnicalIssues})
	require.NoError(t, store.SaveState(ctx, "audit-1", state))

	// Mutations after SaveState must not leak into the stored snapshot.
	state.MarkRunning(audit.ComponentTechnicalIssues, time.Now())

	got, err := store.GetAudit(ctx, "audit-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusPending, got.State.Progress[audit.ComponentTechnicalIssues].Status)
}

func TestAuditStoreMergeComponentStateKeepsSiblingKeys(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	ctx := context.Background()
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "audit-1", Submitted: time.Now()}))

	keys := []audit.ComponentKey{audit.ComponentCurrentRankings, audit.ComponentPagePerformance}
	base := audit.NewPipelineState(keys)
	require.NoError(t, store.SaveState(ctx, "audit-1", base))

	// Ranking chain completes its key and persists the whole chain snapshot.
	rankings := base.Clone()
	rankings.MarkCompleted(audit.ComponentCurrentRankings, time.Now())
	rankings.Usage.SerpQueries = 5
	require.NoError(t, store.MergeComponentState(ctx, "audit-1",
		[]audit.ComponentKey{audit.ComponentCurrentRankings}, rankings))

	// Performance chain diverged from the same base, where rankings is still
	// pending. Its scoped persist must not roll the sibling's completion back.
	performance := base.Clone()
	performance.MarkRunning(audit.ComponentPagePerformance, time.Now())
	require.NoError(t, store.MergeComponentState(ctx, "audit-1",
		[]audit.ComponentKey{audit.ComponentPagePerformance}, performance))

	got, err := store.GetAudit(ctx, "audit-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, got.State.Progress[audit.ComponentCurrentRankings].Status)
	require.Equal(t, audit.StatusRunning, got.State.Progress[audit.ComponentPagePerformance].Status)
	require.Equal(t, int64(5), got.State.Usage.SerpQueries, "usage counters never move backwards")
}

func TestAuditStoreMergeComponentStateNotFound(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	err := store.MergeComponentState(context.Background(), "missing",
		[]audit.ComponentKey{audit.ComponentCurrentRankings}, audit.NewPipelineState(nil))
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestAuditStoreListFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	store := NewAuditStore()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "a", Status: audit.AuditCompleted, Submitted: base}))
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "b", Status: audit.AuditRetrying, Submitted: base.Add(time.Hour)}))
	require.NoError(t, store.CreateAudit(ctx, audit.Audit{ID: "c", Status: audit.AuditRetrying, Submitted: base.Add(2 * time.Hour)}))

	retrying := audit.AuditRetrying
	got, err := store.ListAudits(ctx, &retrying, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].ID, "newest first")

	got, err = store.ListAudits(ctx, nil, 1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].ID)
}
