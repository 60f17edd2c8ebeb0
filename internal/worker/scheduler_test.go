package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
)

type listStore struct {
	audit.Store
	audits  []audit.Audit
	updates []string
}

func (s *listStore) ListAudits(_ context.Context, status *audit.AuditStatus, _, _ int) ([]audit.Audit, error) {
	var out []audit.Audit
	for _, a := range s.audits {
		if status == nil || a.Status == *status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *listStore) UpdateAuditStatus(_ context.Context, auditID string, _ audit.AuditStatus, _ string, _ *time.Time) error {
	s.updates = append(s.updates, auditID)
	return nil
}

type collectQueue struct {
	jobs []audit.Job
}

func (q *collectQueue) Enqueue(_ context.Context, job audit.Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *collectQueue) Dequeue(context.Context) (audit.Delivery, error) {
	return audit.Delivery{}, context.Canceled
}

func TestSweepEnqueuesDueAudits(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	store := &listStore{audits: []audit.Audit{
		{ID: "due", Status: audit.AuditRetrying, RetryAfter: &past},
		{ID: "not-due", Status: audit.AuditRetrying, RetryAfter: &future},
		{ID: "no-retry-time", Status: audit.AuditRetrying},
	}}
	queue := &collectQueue{}
	sched := NewScheduler(store, queue, stubClock{now: now}, time.Minute, nil)

	require.NoError(t, sched.Sweep(context.Background()))

	require.Len(t, queue.jobs, 2)
	require.Equal(t, "due", queue.jobs[0].AuditID)
	require.Equal(t, audit.JobResume, queue.jobs[0].Kind)
	require.Equal(t, "no-retry-time", queue.jobs[1].AuditID)
	require.Equal(t, []string{"due", "no-retry-time"}, store.updates, "enqueued audits are rescheduled")
}
