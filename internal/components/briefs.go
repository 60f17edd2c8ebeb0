package components

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitescope/siteaudit/internal/ai"
	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func briefsDescriptor(client ai.Client) pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:          audit.ComponentBriefs,
		Dependencies: []audit.ComponentKey{audit.ComponentKeywordOpportunities},
		EventKey:     "briefs",
		Run: func(ctx context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
			return runBriefs(ctx, in, client)
		},
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Briefs = data.(*audit.BriefReport)
			return bag
		},
	}
}

func runBriefs(ctx context.Context, in audit.ComponentInput, client ai.Client) (audit.ComponentOutput, error) {
	if client == nil {
		return audit.ComponentOutput{}, errors.New("ai client not configured")
	}
	if in.Results.Opportunities == nil {
		return audit.ComponentOutput{}, errors.New("opportunities not available")
	}

	var keywords []string
	for _, opp := range in.Results.Opportunities.Opportunities {
		keywords = append(keywords, opp.Keyword)
	}
	if len(keywords) == 0 {
		return audit.ComponentOutput{Data: &audit.BriefReport{}}, nil
	}

	var usage audit.UsageCounters
	clusters, clusterUsage, err := client.ClusterKeywords(ctx, keywords)
	usage.AICalls += clusterUsage.Calls
	usage.AITokens += clusterUsage.Tokens
	if err != nil {
		return audit.ComponentOutput{Usage: usage}, fmt.Errorf("cluster keywords: %w", err)
	}

	report := &audit.BriefReport{Clusters: clusters}
	limit := len(clusters)
	if in.Tier.MaxBriefs > 0 && limit > in.Tier.MaxBriefs {
		limit = in.Tier.MaxBriefs
	}
	for _, cluster := range clusters[:limit] {
		brief, briefUsage, err := client.GenerateBrief(ctx, cluster)
		usage.AICalls += briefUsage.Calls
		usage.AITokens += briefUsage.Tokens
		if err != nil {
			return audit.ComponentOutput{Usage: usage}, fmt.Errorf("brief for %q: %w", cluster.Topic, err)
		}
		report.Briefs = append(report.Briefs, brief)
	}

	return audit.ComponentOutput{Data: report, Usage: usage}, nil
}
