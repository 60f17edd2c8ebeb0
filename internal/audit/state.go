package audit

import (
	"time"
)

// UsageCounters accumulates external-service consumption for one audit. The
// counters only ever grow, including across retries.
type UsageCounters struct {
	SerpQueries  int64 `json:"serp_queries"`
	AICalls      int64 `json:"ai_calls"`
	AITokens     int64 `json:"ai_tokens"`
	PagesCrawled int64 `json:"pages_crawled"`
}

// Add accumulates a delta into the counters.
func (u *UsageCounters) Add(delta UsageCounters) {
	u.SerpQueries += delta.SerpQueries
	u.AICalls += delta.AICalls
	u.AITokens += delta.AITokens
	u.PagesCrawled += delta.PagesCrawled
}

// Raise lifts each counter to at least other's value. Used when merging a
// chain's snapshot into durable state: counters must never move backwards.
func (u *UsageCounters) Raise(other UsageCounters) {
	if other.SerpQueries > u.SerpQueries {
		u.SerpQueries = other.SerpQueries
	}
	if other.AICalls > u.AICalls {
		u.AICalls = other.AICalls
	}
	if other.AITokens > u.AITokens {
		u.AITokens = other.AITokens
	}
	if other.PagesCrawled > u.PagesCrawled {
		u.PagesCrawled = other.PagesCrawled
	}
}

// Diff returns the delta accumulated since base.
func (u UsageCounters) Diff(base UsageCounters) UsageCounters {
	return UsageCounters{
		SerpQueries:  u.SerpQueries - base.SerpQueries,
		AICalls:      u.AICalls - base.AICalls,
		AITokens:     u.AITokens - base.AITokens,
		PagesCrawled: u.PagesCrawled - base.PagesCrawled,
	}
}

// PipelineState is the single source of truth for one audit's execution: per
// component progress, the accumulated result bag, and usage counters. It is
// persisted after every state-changing step and never held only in memory
// across a process boundary.
type PipelineState struct {
	Progress map[ComponentKey]ComponentProgress `json:"progress"`
	Results  ResultBag                          `json:"results"`
	Usage    UsageCounters                      `json:"usage"`
}

// NewPipelineState creates the initial state with every key pending.
func NewPipelineState(keys []ComponentKey) *PipelineState {
	progress := make(map[ComponentKey]ComponentProgress, len(keys))
	for _, key := range keys {
		progress[key] = ComponentProgress{Status: StatusPending}
	}
	return &PipelineState{Progress: progress}
}

// Clone deep-copies the progress map so a runner invocation can mutate its own
// copy without touching the caller's. Result reports are replaced wholesale by
// Store merges, so their pointers are shared safely.
func (s *PipelineState) Clone() *PipelineState {
	if s == nil {
		return nil
	}
	progress := make(map[ComponentKey]ComponentProgress, len(s.Progress))
	for key, p := range s.Progress {
		progress[key] = p
	}
	return &PipelineState{
		Progress: progress,
		Results:  s.Results,
		Usage:    s.Usage,
	}
}

// CompletedSet returns the keys currently marked completed.
func (s *PipelineState) CompletedSet() map[ComponentKey]bool {
	completed := make(map[ComponentKey]bool)
	for key, p := range s.Progress {
		if p.Status == StatusCompleted {
			completed[key] = true
		}
	}
	return completed
}

// MarkRunning transitions a component to running.
func (s *PipelineState) MarkRunning(key ComponentKey, now time.Time) {
	p := s.Progress[key]
	p.Status = StatusRunning
	started := now
	p.StartedAt = &started
	p.CompletedAt = nil
	p.Error = ""
	s.Progress[key] = p
}

// MarkCompleted transitions a component to completed.
func (s *PipelineState) MarkCompleted(key ComponentKey, now time.Time) {
	p := s.Progress[key]
	p.Status = StatusCompleted
	finished := now
	p.CompletedAt = &finished
	p.Error = ""
	s.Progress[key] = p
}

// MarkFailed transitions a component to failed with a reason.
func (s *PipelineState) MarkFailed(key ComponentKey, now time.Time, reason string) {
	p := s.Progress[key]
	p.Status = StatusFailed
	finished := now
	p.CompletedAt = &finished
	p.Error = reason
	s.Progress[key] = p
}

// PendingComponents returns every key whose status is pending or failed, in
// the order of all. Running entries are excluded: a stuck running component
// must first be normalized via NormalizeStale before resume considers it.
func (s *PipelineState) PendingComponents(all []ComponentKey) []ComponentKey {
	var pending []ComponentKey
	for _, key := range all {
		switch s.Progress[key].Status {
		case StatusPending, StatusFailed:
			pending = append(pending, key)
		}
	}
	return pending
}

// IsAllCompleted reports whether every key in all is completed.
func (s *PipelineState) IsAllCompleted(all []ComponentKey) bool {
	for _, key := range all {
		if s.Progress[key].Status != StatusCompleted {
			return false
		}
	}
	return true
}

// NormalizeStale resets running components whose start time is older than
// timeout back to pending, returning the affected keys. A component left
// running by a crashed attempt has no record of its outcome, so re-running it
// is the only safe interpretation. A timeout of zero normalizes every running
// entry regardless of age.
func (s *PipelineState) NormalizeStale(now time.Time, timeout time.Duration) []ComponentKey {
	var normalized []ComponentKey
	for key, p := range s.Progress {
		if p.Status != StatusRunning {
			continue
		}
		if timeout > 0 && p.StartedAt != nil && now.Sub(*p.StartedAt) < timeout {
			continue
		}
		p.Status = StatusPending
		p.StartedAt = nil
		p.Error = ""
		s.Progress[key] = p
		normalized = append(normalized, key)
	}
	return normalized
}

// MergeChain folds a chain's final state back into s for the given keys.
// usageDelta is the usage accumulated by the chain beyond the shared base
// state; chains own disjoint keys so progress and result adoption cannot
// collide.
func (s *PipelineState) MergeChain(chain *PipelineState, keys []ComponentKey, usageDelta UsageCounters) {
	for _, key := range keys {
		if p, ok := chain.Progress[key]; ok {
			s.Progress[key] = p
		}
	}
	s.Results = s.Results.Merge(chain.Results)
	s.Usage.Add(usageDelta)
}

// MergeKeys adopts from's progress for exactly the given keys, its non-nil
// results, and raises usage counters so they never decrease. Unlike MergeChain
// it takes no usage delta: it merges one snapshot into another where the two
// may have diverged from a shared base, so counters are lifted, not summed.
func (s *PipelineState) MergeKeys(from *PipelineState, keys []ComponentKey) {
	if from == nil {
		return
	}
	for _, key := range keys {
		if p, ok := from.Progress[key]; ok {
			s.Progress[key] = p
		}
	}
	s.Results = s.Results.Merge(from.Results)
	s.Usage.Raise(from.Usage)
}
