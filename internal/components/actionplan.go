package components

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func actionPlanDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key: audit.ComponentActionPlan,
		Dependencies: []audit.ComponentKey{
			audit.ComponentTechnicalIssues,
			audit.ComponentQuickWins,
			audit.ComponentBriefs,
		},
		EventKey: "action-plan",
		Run:      runActionPlan,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.ActionPlan = data.(*audit.ActionPlanReport)
			return bag
		},
	}
}

func runActionPlan(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	technical := in.Results.Technical
	wins := in.Results.QuickWins
	briefs := in.Results.Briefs
	if technical == nil || wins == nil || briefs == nil {
		return audit.ComponentOutput{}, errors.New("upstream reports not available")
	}

	report := &audit.ActionPlanReport{}
	priority := 1
	add := func(category, description string) {
		report.Tasks = append(report.Tasks, audit.ActionItem{
			Priority:    priority,
			Category:    category,
			Description: description,
		})
		priority++
	}

	// Quick wins first: smallest effort for the largest expected movement.
	for _, win := range wins.Wins {
		add("quick-win", fmt.Sprintf("%s (%q at position %d): %s", win.URL, win.Keyword, win.Position, win.Fix))
	}
	if len(technical.BrokenLinks) > 0 {
		add("technical", fmt.Sprintf("fix %d broken links", len(technical.BrokenLinks)))
	}
	if len(technical.MissingTitles) > 0 {
		add("technical", fmt.Sprintf("add titles to %d pages", len(technical.MissingTitles)))
	}
	if len(technical.MissingDescriptions) > 0 {
		add("technical", fmt.Sprintf("add meta descriptions to %d pages", len(technical.MissingDescriptions)))
	}
	if !technical.HasSitemap {
		add("technical", "publish an XML sitemap")
	}
	if !technical.HasRobotsTxt {
		add("technical", "publish a robots.txt")
	}
	for _, brief := range briefs.Briefs {
		add("content", fmt.Sprintf("write %q targeting the %s cluster", brief.Title, brief.Topic))
	}

	return audit.ComponentOutput{Data: report}, nil
}
