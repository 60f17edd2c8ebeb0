package components

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/serp"
)

func currentRankingsDescriptor(client serp.Client) pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:      audit.ComponentCurrentRankings,
		EventKey: "current-rankings",
		Run: func(ctx context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
			return runCurrentRankings(ctx, in, client)
		},
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Rankings = data.(*audit.RankingReport)
			return bag
		},
	}
}

func runCurrentRankings(ctx context.Context, in audit.ComponentInput, client serp.Client) (audit.ComponentOutput, error) {
	if client == nil {
		return audit.ComponentOutput{}, errors.New("serp client not configured")
	}
	keywords := in.Keywords
	if in.Tier.MaxKeywords > 0 && len(keywords) > in.Tier.MaxKeywords {
		keywords = keywords[:in.Tier.MaxKeywords]
	}
	if len(keywords) == 0 {
		return audit.ComponentOutput{}, errors.New("no keywords to rank")
	}

	domain, err := siteDomain(in.SiteURL)
	if err != nil {
		return audit.ComponentOutput{}, err
	}

	report := &audit.RankingReport{}
	var usage audit.UsageCounters
	for _, keyword := range keywords {
		result, err := client.Rank(ctx, domain, keyword)
		usage.SerpQueries++
		if err != nil {
			return audit.ComponentOutput{Usage: usage}, fmt.Errorf("rank %q: %w", keyword, err)
		}
		ranking := audit.KeywordRanking{
			Keyword:      keyword,
			Position:     result.Position,
			URL:          result.URL,
			SnippetOwner: result.SnippetOwner,
			Volume:       result.Volume,
		}
		for _, entry := range result.TopResults {
			ranking.TopDomains = append(ranking.TopDomains, entry.Domain)
		}
		report.Keywords = append(report.Keywords, ranking)
	}

	return audit.ComponentOutput{Data: report, Usage: usage}, nil
}

func siteDomain(siteURL string) (string, error) {
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid site URL %q", siteURL)
	}
	return strings.TrimPrefix(parsed.Host, "www."), nil
}
