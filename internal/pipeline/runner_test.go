package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStubClock() *stubClock {
	return &stubClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// stateRecorder implements audit.Store and snapshots every persisted state so
// tests can assert on intermediate persistence, not just the final state.
type stateRecorder struct {
	mu        sync.Mutex
	audits    map[string]audit.Audit
	snapshots []*audit.PipelineState
	statuses  []audit.AuditStatus
	saveErr   error
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{audits: map[string]audit.Audit{}}
}

func (s *stateRecorder) CreateAudit(_ context.Context, a audit.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits[a.ID] = a
	return nil
}

func (s *stateRecorder) GetAudit(_ context.Context, auditID string) (audit.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.audits[auditID]
	if !ok {
		return audit.Audit{}, audit.ErrNotFound
	}
	return a, nil
}

func (s *stateRecorder) UpdateAuditStatus(_ context.Context, auditID string, status audit.AuditStatus, errText string, retryAfter *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.audits[auditID]
	a.Status = status
	a.ErrorText = errText
	a.RetryAfter = retryAfter
	s.audits[auditID] = a
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stateRecorder) SaveState(_ context.Context, auditID string, state *audit.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	a := s.audits[auditID]
	a.State = state.Clone()
	s.audits[auditID] = a
	s.snapshots = append(s.snapshots, state.Clone())
	return nil
}

func (s *stateRecorder) MergeComponentState(_ context.Context, auditID string, keys []audit.ComponentKey, state *audit.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	a := s.audits[auditID]
	merged := state.Clone()
	if a.State != nil {
		merged = a.State.Clone()
		merged.MergeKeys(state, keys)
	}
	a.State = merged
	s.audits[auditID] = a
	s.snapshots = append(s.snapshots, merged.Clone())
	return nil
}

func (s *stateRecorder) ListAudits(context.Context, *audit.AuditStatus, int, int) ([]audit.Audit, error) {
	return nil, nil
}

func (s *stateRecorder) snapshotStatuses(key audit.ComponentKey) []audit.ComponentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.ComponentStatus, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Progress[key].Status)
	}
	return out
}

type eventLog struct {
	mu        sync.Mutex
	started   []audit.ComponentKey
	completed []audit.ComponentKey
	failed    map[audit.ComponentKey]string
	partials  int
}

func newEventLog() *eventLog {
	return &eventLog{failed: map[audit.ComponentKey]string{}}
}

func (l *eventLog) events() Events {
	return Events{
		OnStart: func(key audit.ComponentKey, _ string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.started = append(l.started, key)
		},
		OnComplete: func(key audit.ComponentKey, _ string, _ any) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.completed = append(l.completed, key)
		},
		OnFail: func(key audit.ComponentKey, _ string, reason string) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.failed[key] = reason
		},
		OnPartialReady: func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.partials++
		},
	}
}

func runInput(auditID string) audit.ComponentInput {
	return audit.ComponentInput{
		AuditID: auditID,
		SiteURL: "https://example.com",
		Tier:    audit.Tier{Name: "standard", MaxPages: 100},
		Crawl:   &audit.CrawlResult{Pages: []audit.Page{{URL: "https://example.com"}}},
	}
}

func TestRunnerExecutesInOrderAndPersistsEachStep(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{
		{
			Key: "rankings",
			Run: func(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
				return audit.ComponentOutput{
					Data:  &audit.RankingReport{},
					Usage: audit.UsageCounters{SerpQueries: 4},
				}, nil
			},
			Store: func(bag audit.ResultBag, data any) audit.ResultBag {
				bag.Rankings = data.(*audit.RankingReport)
				return bag
			},
		},
		{
			Key:          "opportunities",
			Dependencies: []audit.ComponentKey{"rankings"},
			Run: func(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
				// Upstream output must be visible in the snapshot.
				if in.Results.Rankings == nil {
					return audit.ComponentOutput{}, errors.New("rankings missing from input")
				}
				return audit.ComponentOutput{Data: &audit.OpportunityReport{}}, nil
			},
			Store: func(bag audit.ResultBag, data any) audit.ResultBag {
				bag.Opportunities = data.(*audit.OpportunityReport)
				return bag
			},
		},
	})
	require.NoError(t, err)

	store := newStateRecorder()
	require.NoError(t, store.CreateAudit(context.Background(), audit.Audit{ID: "a1"}))
	runner := NewRunner(registry, store, newStubClock(), nil)
	log := newEventLog()

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings", "opportunities"})
	final, err := runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"opportunities", "rankings"}, log.events())
	require.NoError(t, err)

	require.True(t, final.IsAllCompleted([]audit.ComponentKey{"rankings", "opportunities"}))
	require.NotNil(t, final.Results.Rankings)
	require.NotNil(t, final.Results.Opportunities)
	require.Equal(t, int64(4), final.Usage.SerpQueries)

	// The caller's state is never mutated.
	require.Equal(t, audit.StatusPending, state.Progress["rankings"].Status)

	// running then completed persisted for each component: 4 snapshots total.
	require.Equal(t, []audit.ComponentStatus{
		audit.StatusRunning, audit.StatusCompleted, audit.StatusCompleted, audit.StatusCompleted,
	}, store.snapshotStatuses("rankings"))
	require.Equal(t, []audit.ComponentKey{"rankings", "opportunities"}, log.started)
	require.Equal(t, []audit.ComponentKey{"rankings", "opportunities"}, log.completed)
}

func TestRunnerSkipsCompletedComponents(t *testing.T) {
	ran := 0
	registry, err := NewRegistry([]Descriptor{
		{
			Key: "rankings",
			Run: func(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
				ran++
				return audit.ComponentOutput{Data: &audit.RankingReport{}}, nil
			},
			Store: noopStore,
		},
	})
	require.NoError(t, err)

	store := newStateRecorder()
	require.NoError(t, store.CreateAudit(context.Background(), audit.Audit{ID: "a1"}))
	runner := NewRunner(registry, store, newStubClock(), nil)

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings"})
	state.MarkCompleted("rankings", time.Now())

	final, err := runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"rankings"}, Events{})
	require.NoError(t, err)
	require.Zero(t, ran)
	require.Equal(t, audit.StatusCompleted, final.Progress["rankings"].Status)
	require.Empty(t, store.snapshots)
}

func TestRunnerMarksDownstreamDependencyFailure(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{
		{
			Key: "rankings",
			Run: func(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
				return audit.ComponentOutput{}, errors.New("serp unavailable")
			},
			Store: noopStore,
		},
		{
			Key:          "opportunities",
			Dependencies: []audit.ComponentKey{"rankings"},
			Run:          noopRun,
			Store:        noopStore,
		},
	})
	require.NoError(t, err)

	store := newStateRecorder()
	require.NoError(t, store.CreateAudit(context.Background(), audit.Audit{ID: "a1"}))
	runner := NewRunner(registry, store, newStubClock(), nil)
	log := newEventLog()

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings", "opportunities"})
	final, err := runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"rankings", "opportunities"}, log.events())
	require.NoError(t, err)

	require.Equal(t, audit.StatusFailed, final.Progress["rankings"].Status)
	require.Equal(t, "serp unavailable", final.Progress["rankings"].Error)

	require.Equal(t, audit.StatusFailed, final.Progress["opportunities"].Status)
	require.Equal(t, DependencyFailureReason, final.Progress["opportunities"].Error)
	require.Equal(t, DependencyFailureReason, log.failed["opportunities"])

	// The skipped component never started.
	require.Equal(t, []audit.ComponentKey{"rankings"}, log.started)
}

func TestRunnerRecoversComponentPanic(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{
		{
			Key: "rankings",
			Run: func(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
				panic("nil dereference in provider response")
			},
			Store: noopStore,
		},
	})
	require.NoError(t, err)

	store := newStateRecorder()
	require.NoError(t, store.CreateAudit(context.Background(), audit.Audit{ID: "a1"}))
	runner := NewRunner(registry, store, newStubClock(), nil)
	log := newEventLog()

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings"})
	final, err := runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"rankings"}, log.events())
	require.NoError(t, err)

	require.Equal(t, audit.StatusFailed, final.Progress["rankings"].Status)
	require.Contains(t, final.Progress["rankings"].Error, "component panic")
	require.Contains(t, log.failed["rankings"], "nil dereference")
}

func TestRunnerPropagatesPersistenceFailure(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{desc("rankings")})
	require.NoError(t, err)

	store := newStateRecorder()
	store.saveErr = errors.New("connection reset")
	runner := NewRunner(registry, store, newStubClock(), nil)

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings"})
	_, err = runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"rankings"}, Events{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "persist pipeline state")
}

func TestRunnerUsageAccumulatesAcrossFailedComponents(t *testing.T) {
	registry, err := NewRegistry([]Descriptor{
		{
			Key: "rankings",
			Run: func(context.Context, audit.ComponentInput) (audit.ComponentOutput, error) {
				return audit.ComponentOutput{Usage: audit.UsageCounters{SerpQueries: 7}}, errors.New("quota hit mid-run")
			},
			Store: noopStore,
		},
	})
	require.NoError(t, err)

	store := newStateRecorder()
	require.NoError(t, store.CreateAudit(context.Background(), audit.Audit{ID: "a1"}))
	runner := NewRunner(registry, store, newStubClock(), nil)

	state := audit.NewPipelineState([]audit.ComponentKey{"rankings"})
	final, err := runner.Run(context.Background(), runInput("a1"), state,
		[]audit.ComponentKey{"rankings"}, Events{})
	require.NoError(t, err)
	require.Equal(t, int64(7), final.Usage.SerpQueries)
}
