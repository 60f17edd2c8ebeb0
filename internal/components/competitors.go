package components

import (
	"context"
	"errors"
	"sort"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func competitorAnalysisDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:          audit.ComponentCompetitorAnalysis,
		Dependencies: []audit.ComponentKey{audit.ComponentCurrentRankings},
		EventKey:     "competitor-analysis",
		Run:          runCompetitorAnalysis,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Competitors = data.(*audit.CompetitorReport)
			return bag
		},
	}
}

func runCompetitorAnalysis(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Results.Rankings == nil {
		return audit.ComponentOutput{}, errors.New("rankings not available")
	}

	ownDomain, err := siteDomain(in.SiteURL)
	if err != nil {
		return audit.ComponentOutput{}, err
	}

	appearances := make(map[string]int)
	report := &audit.CompetitorReport{}
	for _, ranking := range in.Results.Rankings.Keywords {
		for _, domain := range ranking.TopDomains {
			if domain == ownDomain {
				continue
			}
			appearances[domain]++
		}
		// A keyword the site does not rank for at all is a content gap.
		if ranking.Position == 0 && len(ranking.TopDomains) > 0 {
			report.GapKeywords = append(report.GapKeywords, ranking.Keyword)
		}
	}

	for domain, count := range appearances {
		report.Competitors = append(report.Competitors, audit.Competitor{
			Domain:      domain,
			Appearances: count,
		})
	}
	sort.Slice(report.Competitors, func(i, j int) bool {
		if report.Competitors[i].Appearances != report.Competitors[j].Appearances {
			return report.Competitors[i].Appearances > report.Competitors[j].Appearances
		}
		return report.Competitors[i].Domain < report.Competitors[j].Domain
	})
	if in.Tier.MaxCompetitors > 0 && len(report.Competitors) > in.Tier.MaxCompetitors {
		report.Competitors = report.Competitors[:in.Tier.MaxCompetitors]
	}

	return audit.ComponentOutput{Data: report}, nil
}
