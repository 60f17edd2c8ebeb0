package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sitescope/siteaudit/internal/ai"
	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/clock/system"
	"github.com/sitescope/siteaudit/internal/components"
	"github.com/sitescope/siteaudit/internal/config"
	"github.com/sitescope/siteaudit/internal/crawl"
	"github.com/sitescope/siteaudit/internal/logging"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/progress"
	"github.com/sitescope/siteaudit/internal/progress/sinks"
	"github.com/sitescope/siteaudit/internal/serp"
	storagememory "github.com/sitescope/siteaudit/internal/storage/memory"
)

// newAuditCmd creates the 'audit' subcommand: a one-shot audit of a single
// site, run entirely in-process with in-memory storage. Useful for local
// development and smoke checks without a server.
func newAuditCmd() *cobra.Command {
	var (
		tierName string
		keywords []string
		section  string
	)
	cmd := &cobra.Command{
		Use:   "audit <site-url>",
		Short: "Runs a single audit locally and prints the results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShotAudit(cmd, args[0], tierName, keywords, section)
		},
	}
	cmd.Flags().StringVar(&tierName, "tier", "standard", "audit tier")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "keywords to track")
	cmd.Flags().StringVar(&section, "section", "", "restrict the crawl to one site section")
	return cmd
}

func runOneShotAudit(cmd *cobra.Command, siteURL, tierName string, keywords []string, section string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	clk := system.New()
	auditStore := storagememory.NewAuditStore()
	artifacts := storagememory.NewBlobStore()

	svc := &services{}
	defer svc.close(logger)

	crawler := crawl.New(crawl.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.CrawlTimeout(),
		Delay:       time.Duration(cfg.Crawler.DelayMs) * time.Millisecond,
		Parallelism: cfg.Crawler.Parallelism,
		MaxDepth:    cfg.Crawler.MaxDepth,
	}, artifacts, logger)

	serpClient := serp.NewHTTPClient(serp.Config{
		BaseURL: cfg.Serp.BaseURL,
		APIKey:  cfg.Serp.APIKey,
		Timeout: time.Duration(cfg.Serp.TimeoutSeconds) * time.Second,
	}, logger)
	aiClient := ai.NewOpenAIClient(ai.Config{
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
	}, logger)
	renderer, err := buildRenderer(cfg, svc)
	if err != nil {
		return err
	}

	registry, err := components.NewDefaultRegistry(components.Deps{
		Serp:     serpClient,
		AI:       aiClient,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build component registry: %w", err)
	}
	runner := pipeline.NewRunner(registry, auditStore, clk, logger)
	orch := pipeline.NewOrchestrator(runner, registry, auditStore, crawler, artifacts, clk, pipeline.Config{
		RetryDelay:   cfg.RetryDelay(),
		StaleTimeout: cfg.StaleTimeout(),
	}, logger)

	hub := progress.NewHub(progress.Config{Logger: logger, BaseContext: ctx}, sinks.NewLogSink(logger))
	svc.hub = hub

	tier, ok := cfg.Tier(tierName)
	if !ok {
		return fmt.Errorf("unknown tier %q", tierName)
	}

	id := uuid.New()
	a := audit.Audit{
		ID:            id.String(),
		SiteURL:       siteURL,
		Tier:          tier,
		Keywords:      normalizeAuditKeywords(keywords),
		SectionFilter: section,
		Status:        audit.AuditPending,
		Submitted:     clk.Now(),
		State:         audit.NewPipelineState(audit.AllComponentKeys()),
	}
	if err := auditStore.CreateAudit(ctx, a); err != nil {
		return fmt.Errorf("create audit: %w", err)
	}

	bridge := progress.NewBridge(hub, id, clk.Now)
	bridge.AuditStarted()
	state, runErr := orch.RunPrimary(ctx, a, bridge.Events())
	bridge.AuditFinished(runErr)
	if runErr != nil {
		return fmt.Errorf("audit failed: %w", runErr)
	}

	out := struct {
		AuditID string              `json:"audit_id"`
		SiteURL string              `json:"site_url"`
		Results audit.ResultBag     `json:"results"`
		Usage   audit.UsageCounters `json:"usage"`
	}{
		AuditID: a.ID,
		SiteURL: a.SiteURL,
		Results: state.Results,
		Usage:   state.Usage,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func normalizeAuditKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
