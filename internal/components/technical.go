package components

import (
	"context"
	"errors"
	"strings"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func technicalIssuesDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:      audit.ComponentTechnicalIssues,
		EventKey: "technical-issues",
		Run:      runTechnicalIssues,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Technical = data.(*audit.TechnicalReport)
			return bag
		},
	}
}

func runTechnicalIssues(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Crawl == nil {
		return audit.ComponentOutput{}, errors.New("no crawl data available")
	}

	report := &audit.TechnicalReport{
		BrokenLinks:    in.Crawl.BrokenLinks,
		RedirectChains: in.Crawl.RedirectChains,
		HasRobotsTxt:   in.Crawl.HasRobotsTxt,
		HasSitemap:     in.Crawl.HasSitemap,
	}

	seenTitles := make(map[string]string)
	for _, page := range in.Crawl.Pages {
		if page.StatusCode >= 400 {
			continue
		}
		title := strings.TrimSpace(page.Title)
		if title == "" {
			report.MissingTitles = append(report.MissingTitles, page.URL)
		} else if first, dup := seenTitles[title]; dup {
			if len(report.DuplicateTitles) == 0 || report.DuplicateTitles[len(report.DuplicateTitles)-1] != first {
				report.DuplicateTitles = append(report.DuplicateTitles, first)
			}
			report.DuplicateTitles = append(report.DuplicateTitles, page.URL)
		} else {
			seenTitles[title] = page.URL
		}
		if strings.TrimSpace(page.MetaDescription) == "" {
			report.MissingDescriptions = append(report.MissingDescriptions, page.URL)
		}
	}

	report.IssueCount = len(report.MissingTitles) +
		len(report.MissingDescriptions) +
		len(report.DuplicateTitles) +
		len(report.BrokenLinks) +
		len(report.RedirectChains)
	if !report.HasRobotsTxt {
		report.IssueCount++
	}
	if !report.HasSitemap {
		report.IssueCount++
	}

	return audit.ComponentOutput{Data: report}, nil
}
