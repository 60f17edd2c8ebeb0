package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKeys = []ComponentKey{ComponentTechnicalIssues, ComponentInternalLinking, ComponentCurrentRankings}

func TestNewPipelineStateStartsPending(t *testing.T) {
	st := NewPipelineState(testKeys)
	require.Len(t, st.Progress, len(testKeys))
	for _, key := range testKeys {
		require.Equal(t, StatusPending, st.Progress[key].Status)
	}
}

func TestStateTransitions(t *testing.T) {
	st := NewPipelineState(testKeys)
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	st.MarkRunning(ComponentTechnicalIssues, now)
	p := st.Progress[ComponentTechnicalIssues]
	require.Equal(t, StatusRunning, p.Status)
	require.NotNil(t, p.StartedAt)
	require.Nil(t, p.CompletedAt)

	st.MarkCompleted(ComponentTechnicalIssues, now.Add(time.Second))
	p = st.Progress[ComponentTechnicalIssues]
	require.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	require.Empty(t, p.Error)

	st.MarkFailed(ComponentInternalLinking, now, "serp unavailable")
	p = st.Progress[ComponentInternalLinking]
	require.Equal(t, StatusFailed, p.Status)
	require.Equal(t, "serp unavailable", p.Error)

	// Re-running a failed component clears the prior failure record.
	st.MarkRunning(ComponentInternalLinking, now.Add(time.Minute))
	p = st.Progress[ComponentInternalLinking]
	require.Equal(t, StatusRunning, p.Status)
	require.Empty(t, p.Error)
	require.Nil(t, p.CompletedAt)
}

func TestCloneIsIndependent(t *testing.T) {
	st := NewPipelineState(testKeys)
	now := time.Now()

	clone := st.Clone()
	clone.MarkCompleted(ComponentTechnicalIssues, now)

	require.Equal(t, StatusPending, st.Progress[ComponentTechnicalIssues].Status)
	require.Equal(t, StatusCompleted, clone.Progress[ComponentTechnicalIssues].Status)

	var nilState *PipelineState
	require.Nil(t, nilState.Clone())
}

func TestPendingComponentsExcludesRunning(t *testing.T) {
	st := NewPipelineState(testKeys)
	now := time.Now()
	st.MarkCompleted(ComponentTechnicalIssues, now)
	st.MarkRunning(ComponentInternalLinking, now)
	st.MarkFailed(ComponentCurrentRankings, now, "boom")

	pending := st.PendingComponents(testKeys)
	require.Equal(t, []ComponentKey{ComponentCurrentRankings}, pending)
}

func TestIsAllCompleted(t *testing.T) {
	st := NewPipelineState(testKeys)
	now := time.Now()
	require.False(t, st.IsAllCompleted(testKeys))

	for _, key := range testKeys {
		st.MarkCompleted(key, now)
	}
	require.True(t, st.IsAllCompleted(testKeys))
}

func TestNormalizeStale(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	t.Run("fresh running entries survive a positive timeout", func(t *testing.T) {
		st := NewPipelineState(testKeys)
		st.MarkRunning(ComponentTechnicalIssues, now.Add(-5*time.Minute))
		st.MarkRunning(ComponentInternalLinking, now.Add(-45*time.Minute))

		normalized := st.NormalizeStale(now, 30*time.Minute)
		require.Equal(t, []ComponentKey{ComponentInternalLinking}, normalized)
		require.Equal(t, StatusRunning, st.Progress[ComponentTechnicalIssues].Status)
		require.Equal(t, StatusPending, st.Progress[ComponentInternalLinking].Status)
		require.Nil(t, st.Progress[ComponentInternalLinking].StartedAt)
	})

	t.Run("zero timeout normalizes every running entry", func(t *testing.T) {
		st := NewPipelineState(testKeys)
		st.MarkRunning(ComponentTechnicalIssues, now)
		st.MarkRunning(ComponentCurrentRankings, now)

		normalized := st.NormalizeStale(now, 0)
		require.Len(t, normalized, 2)
		for _, key := range normalized {
			require.Equal(t, StatusPending, st.Progress[key].Status)
		}
	})

	t.Run("non-running entries untouched", func(t *testing.T) {
		st := NewPipelineState(testKeys)
		st.MarkCompleted(ComponentTechnicalIssues, now)
		st.MarkFailed(ComponentInternalLinking, now, "boom")

		require.Empty(t, st.NormalizeStale(now, 0))
		require.Equal(t, StatusCompleted, st.Progress[ComponentTechnicalIssues].Status)
		require.Equal(t, StatusFailed, st.Progress[ComponentInternalLinking].Status)
	})
}

func TestMergeChain(t *testing.T) {
	now := time.Now()
	base := NewPipelineState(testKeys)
	base.Usage = UsageCounters{PagesCrawled: 40}

	chain := base.Clone()
	chain.MarkCompleted(ComponentCurrentRankings, now)
	chain.Results.Rankings = &RankingReport{}
	chain.Usage.Add(UsageCounters{SerpQueries: 12})

	merged := base.Clone()
	merged.MergeChain(chain, []ComponentKey{ComponentCurrentRankings}, chain.Usage.Diff(base.Usage))

	require.Equal(t, StatusCompleted, merged.Progress[ComponentCurrentRankings].Status)
	require.NotNil(t, merged.Results.Rankings)
	require.Equal(t, int64(12), merged.Usage.SerpQueries)
	// The shared base usage must not be double counted.
	require.Equal(t, int64(40), merged.Usage.PagesCrawled)
	// Keys outside the chain's ownership are not adopted.
	require.Equal(t, StatusPending, merged.Progress[ComponentTechnicalIssues].Status)
}

func TestMergeKeys(t *testing.T) {
	now := time.Now()
	base := NewPipelineState(testKeys)
	base.Usage = UsageCounters{PagesCrawled: 40}

	// Durable state already carries a sibling chain's completion.
	stored := base.Clone()
	stored.MarkCompleted(ComponentCurrentRankings, now)
	stored.Results.Rankings = &RankingReport{}
	stored.Usage.SerpQueries = 12

	// A chain that diverged from the same base persists its own key, where
	// the sibling's key is still pending.
	chain := base.Clone()
	chain.MarkCompleted(ComponentTechnicalIssues, now)
	chain.Results.Technical = &TechnicalReport{}

	stored.MergeKeys(chain, []ComponentKey{ComponentTechnicalIssues})

	require.Equal(t, StatusCompleted, stored.Progress[ComponentTechnicalIssues].Status)
	require.NotNil(t, stored.Results.Technical)
	// The sibling's recorded completion and results survive the merge.
	require.Equal(t, StatusCompleted, stored.Progress[ComponentCurrentRankings].Status)
	require.NotNil(t, stored.Results.Rankings)
	// Counters lift toward the larger value, never backwards.
	require.Equal(t, int64(12), stored.Usage.SerpQueries)
	require.Equal(t, int64(40), stored.Usage.PagesCrawled)
}

func TestUsageCountersRaise(t *testing.T) {
	u := UsageCounters{SerpQueries: 5, AITokens: 100}
	u.Raise(UsageCounters{SerpQueries: 2, AICalls: 3, AITokens: 150})
	require.Equal(t, UsageCounters{SerpQueries: 5, AICalls: 3, AITokens: 150}, u)
}

func TestUsageCountersAddDiff(t *testing.T) {
	u := UsageCounters{SerpQueries: 2, AICalls: 1, AITokens: 100, PagesCrawled: 10}
	u.Add(UsageCounters{SerpQueries: 3, AITokens: 50})
	require.Equal(t, UsageCounters{SerpQueries: 5, AICalls: 1, AITokens: 150, PagesCrawled: 10}, u)

	diff := u.Diff(UsageCounters{SerpQueries: 2, AICalls: 1, AITokens: 100, PagesCrawled: 10})
	require.Equal(t, UsageCounters{SerpQueries: 3, AITokens: 50}, diff)
}

func TestResultBagMerge(t *testing.T) {
	base := ResultBag{Technical: &TechnicalReport{}}
	merged := base.Merge(ResultBag{Rankings: &RankingReport{}})

	require.NotNil(t, merged.Technical)
	require.NotNil(t, merged.Rankings)

	// Nil fields in other never clear existing results.
	merged = merged.Merge(ResultBag{})
	require.NotNil(t, merged.Technical)
	require.NotNil(t, merged.Rankings)
}
