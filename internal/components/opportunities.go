package components

import (
	"context"
	"errors"
	"sort"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

// Positions 4-20 are close enough to page one to be worth targeted work.
const (
	opportunityMinPosition = 4
	opportunityMaxPosition = 20
)

func keywordOpportunitiesDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:          audit.ComponentKeywordOpportunities,
		Dependencies: []audit.ComponentKey{audit.ComponentCurrentRankings},
		EventKey:     "keyword-opportunities",
		Run:          runKeywordOpportunities,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Opportunities = data.(*audit.OpportunityReport)
			return bag
		},
	}
}

func runKeywordOpportunities(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Results.Rankings == nil {
		return audit.ComponentOutput{}, errors.New("rankings not available")
	}

	report := &audit.OpportunityReport{}
	for _, ranking := range in.Results.Rankings.Keywords {
		if ranking.Position < opportunityMinPosition || ranking.Position > opportunityMaxPosition {
			continue
		}
		report.Opportunities = append(report.Opportunities, audit.Opportunity{
			Keyword:  ranking.Keyword,
			Position: ranking.Position,
			URL:      ranking.URL,
			Score:    opportunityScore(ranking.Position, ranking.Volume),
		})
	}
	sort.Slice(report.Opportunities, func(i, j int) bool {
		return report.Opportunities[i].Score > report.Opportunities[j].Score
	})

	return audit.ComponentOutput{Data: report}, nil
}

// opportunityScore weighs proximity to page one against search volume.
func opportunityScore(position, volume int) float64 {
	proximity := float64(opportunityMaxPosition-position+1) / float64(opportunityMaxPosition)
	return proximity * float64(volume+1)
}
