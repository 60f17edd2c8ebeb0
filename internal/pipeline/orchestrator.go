package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Chain layout for a fresh audit. The local chain is cheap and runs first so
// a partial results view can render early. The performance chain is latency
// dominant and independent of everything else; the ranking chain is internally
// sequential because each member consumes the rankings produced upstream.
var (
	localChain = []audit.ComponentKey{
		audit.ComponentTechnicalIssues,
		audit.ComponentInternalLinking,
		audit.ComponentDuplicateContent,
	}
	performanceChain = []audit.ComponentKey{
		audit.ComponentPagePerformance,
	}
	rankingChain = []audit.ComponentKey{
		audit.ComponentCurrentRankings,
		audit.ComponentKeywordOpportunities,
		audit.ComponentCompetitorAnalysis,
		audit.ComponentFeaturedSnippets,
		audit.ComponentQuickWins,
		audit.ComponentBriefs,
		audit.ComponentActionPlan,
	}
)

// Config holds orchestration knobs.
type Config struct {
	// RetryDelay schedules the resume attempt after a partial failure.
	RetryDelay time.Duration
	// StaleTimeout bounds how long a running component is trusted before a
	// resume treats it as a crashed attempt. Zero normalizes immediately.
	StaleTimeout time.Duration
}

// Orchestrator drives whole audits through the Runner: a primary pass for
// fresh audits and a resume pass for partially-failed ones.
type Orchestrator struct {
	runner    *Runner
	registry  *Registry
	store     audit.Store
	crawler   audit.Crawler
	artifacts audit.ArtifactStore
	clock     audit.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	runner *Runner,
	registry *Registry,
	store audit.Store,
	crawler audit.Crawler,
	artifacts audit.ArtifactStore,
	clock audit.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 15 * time.Minute
	}
	return &Orchestrator{
		runner:    runner,
		registry:  registry,
		store:     store,
		crawler:   crawler,
		artifacts: artifacts,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunPrimary executes a fresh audit end to end: crawl, the cheap local chain,
// then the performance and ranking chains concurrently. Component failures are
// absorbed into state; only fatal whole-audit conditions return an error.
func (o *Orchestrator) RunPrimary(ctx context.Context, a audit.Audit, events Events) (*audit.PipelineState, error) {
	if err := o.store.UpdateAuditStatus(ctx, a.ID, audit.AuditCrawling, "", nil); err != nil {
		return nil, fmt.Errorf("mark crawling: %w", err)
	}

	crawl, err := o.crawler.Crawl(ctx, audit.CrawlRequest{
		AuditID:       a.ID,
		SiteURL:       a.SiteURL,
		PageLimit:     a.Tier.MaxPages,
		SectionFilter: a.SectionFilter,
	}, nil)
	if err != nil {
		return nil, o.failAudit(ctx, a.ID, fmt.Errorf("crawl site: %w", err))
	}
	if len(crawl.Pages) == 0 {
		return nil, o.failAudit(ctx, a.ID, ErrZeroPages)
	}

	state := a.State
	if state == nil {
		state = audit.NewPipelineState(o.registry.Keys())
	}
	state.Usage.Add(audit.UsageCounters{PagesCrawled: int64(len(crawl.Pages))})

	if err := o.store.UpdateAuditStatus(ctx, a.ID, audit.AuditAnalyzing, "", nil); err != nil {
		return nil, fmt.Errorf("mark analyzing: %w", err)
	}

	in := audit.ComponentInput{
		AuditID:  a.ID,
		SiteURL:  a.SiteURL,
		Tier:     a.Tier,
		Keywords: a.Keywords,
		Crawl:    crawl,
	}

	state, err = o.runner.Run(ctx, in, state, localChain, events)
	if err != nil {
		return state, err
	}
	events.partialReady()

	state, err = o.runChains(ctx, in, state, events)
	if err != nil {
		return state, err
	}

	if err := o.finishAudit(ctx, a.ID, state); err != nil {
		return state, err
	}
	return state, nil
}

// runChains executes the performance and ranking chains concurrently. Each
// chain gets its own clone of the shared state and the join merges back only
// the keys that chain owns, so interleaved persistence stays write-disjoint.
func (o *Orchestrator) runChains(
	ctx context.Context,
	in audit.ComponentInput,
	state *audit.PipelineState,
	events Events,
) (*audit.PipelineState, error) {
	base := state.Clone()
	var perfState, rankState *audit.PipelineState

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st, err := o.runner.Run(gctx, in, base, performanceChain, events)
		perfState = st
		return err
	})
	g.Go(func() error {
		st, err := o.runner.Run(gctx, in, base, rankingChain, events)
		rankState = st
		return err
	})
	if err := g.Wait(); err != nil {
		return state, err
	}

	merged := base.Clone()
	merged.MergeChain(perfState, performanceChain, perfState.Usage.Diff(base.Usage))
	merged.MergeChain(rankState, rankingChain, rankState.Usage.Diff(base.Usage))
	if err := o.store.SaveState(ctx, in.AuditID, merged); err != nil {
		return merged, fmt.Errorf("persist merged state: %w", err)
	}
	return merged, nil
}

// ResumeReport summarizes one resume pass.
type ResumeReport struct {
	Attempted      []audit.ComponentKey
	NewlyCompleted []audit.ComponentKey
	StillFailed    []audit.ComponentKey
	AllCompleted   bool
}

// Resume re-runs the pending and failed subset of an already-started audit.
// Running entries older than the staleness timeout are normalized back to
// pending first. A fully completed audit is an idempotent no-op.
func (o *Orchestrator) Resume(ctx context.Context, a audit.Audit, crawl *audit.CrawlResult, events Events) (*ResumeReport, error) {
	state := a.State
	if state == nil {
		return nil, Fatal(fmt.Errorf("audit %s has no pipeline state", a.ID))
	}

	if stale := state.NormalizeStale(o.clock.Now(), o.cfg.StaleTimeout); len(stale) > 0 {
		o.logger.Warn("normalized stale running components",
			zap.String("audit_id", a.ID),
			zap.Any("components", stale),
		)
		if err := o.store.SaveState(ctx, a.ID, state); err != nil {
			return nil, fmt.Errorf("persist normalized state: %w", err)
		}
	}

	all := o.registry.Keys()
	pending := state.PendingComponents(all)
	if len(pending) == 0 {
		return &ResumeReport{AllCompleted: state.IsAllCompleted(all)}, nil
	}

	// Crawl data is not persisted between invocations; re-crawl lazily when
	// the caller did not supply a page set.
	if crawl == nil {
		var err error
		crawl, err = o.crawler.Crawl(ctx, audit.CrawlRequest{
			AuditID:       a.ID,
			SiteURL:       a.SiteURL,
			PageLimit:     a.Tier.MaxPages,
			SectionFilter: a.SectionFilter,
		}, nil)
		if err != nil {
			return nil, o.failAudit(ctx, a.ID, fmt.Errorf("crawl site: %w", err))
		}
		if len(crawl.Pages) == 0 {
			return nil, o.failAudit(ctx, a.ID, ErrZeroPages)
		}
		state.Usage.Add(audit.UsageCounters{PagesCrawled: int64(len(crawl.Pages))})
	}

	if err := o.store.UpdateAuditStatus(ctx, a.ID, audit.AuditAnalyzing, "", nil); err != nil {
		return nil, fmt.Errorf("mark analyzing: %w", err)
	}

	in := audit.ComponentInput{
		AuditID:  a.ID,
		SiteURL:  a.SiteURL,
		Tier:     a.Tier,
		Keywords: a.Keywords,
		Crawl:    crawl,
	}

	final, err := o.runner.Run(ctx, in, state, pending, events)
	if err != nil {
		return nil, err
	}

	report := &ResumeReport{Attempted: pending, AllCompleted: final.IsAllCompleted(all)}
	for _, key := range pending {
		switch final.Progress[key].Status {
		case audit.StatusCompleted:
			report.NewlyCompleted = append(report.NewlyCompleted, key)
		case audit.StatusFailed:
			report.StillFailed = append(report.StillFailed, key)
		}
	}

	if err := o.finishAudit(ctx, a.ID, final); err != nil {
		return report, err
	}
	return report, nil
}

// finishAudit sets the terminal-or-retrying audit status after a pass. Any
// leftover failed component leaves the audit RETRYING with a scheduled retry,
// since completed components still expose usable partial results.
func (o *Orchestrator) finishAudit(ctx context.Context, auditID string, state *audit.PipelineState) error {
	all := o.registry.Keys()
	if state.IsAllCompleted(all) {
		if err := o.store.UpdateAuditStatus(ctx, auditID, audit.AuditCompleted, "", nil); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return nil
	}
	retryAt := o.clock.Now().Add(o.cfg.RetryDelay)
	if err := o.store.UpdateAuditStatus(ctx, auditID, audit.AuditRetrying, "", &retryAt); err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	return nil
}

// failAudit records a fatal whole-audit failure, cleans up crawl artifacts,
// and returns the wrapped error so the job queue retries the entire audit.
func (o *Orchestrator) failAudit(ctx context.Context, auditID string, cause error) error {
	if o.artifacts != nil {
		if err := o.artifacts.DeletePrefix(ctx, auditID); err != nil {
			o.logger.Warn("artifact cleanup failed",
				zap.String("audit_id", auditID),
				zap.Error(err),
			)
		}
	}
	if err := o.store.UpdateAuditStatus(ctx, auditID, audit.AuditFailed, cause.Error(), nil); err != nil {
		o.logger.Error("mark failed audit",
			zap.String("audit_id", auditID),
			zap.Error(err),
		)
	}
	return Fatal(cause)
}
