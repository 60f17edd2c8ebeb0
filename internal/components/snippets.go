package components

import (
	"context"
	"errors"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func featuredSnippetsDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:          audit.ComponentFeaturedSnippets,
		Dependencies: []audit.ComponentKey{audit.ComponentCurrentRankings},
		EventKey:     "featured-snippets",
		Run:          runFeaturedSnippets,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Snippets = data.(*audit.SnippetReport)
			return bag
		},
	}
}

func runFeaturedSnippets(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Results.Rankings == nil {
		return audit.ComponentOutput{}, errors.New("rankings not available")
	}

	ownDomain, err := siteDomain(in.SiteURL)
	if err != nil {
		return audit.ComponentOutput{}, err
	}

	report := &audit.SnippetReport{}
	for _, ranking := range in.Results.Rankings.Keywords {
		if ranking.SnippetOwner == "" {
			continue
		}
		report.Snippets = append(report.Snippets, audit.SnippetResult{
			Keyword: ranking.Keyword,
			Owner:   ranking.SnippetOwner,
			Owned:   ranking.SnippetOwner == ownDomain,
		})
	}

	return audit.ComponentOutput{Data: report}, nil
}
