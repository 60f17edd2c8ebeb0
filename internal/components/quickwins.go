package components

import (
	"context"
	"errors"
	"strings"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

// quickWinMaxPosition bounds how far off page one a quick win may sit.
const quickWinMaxPosition = 12

func quickWinsDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:          audit.ComponentQuickWins,
		Dependencies: []audit.ComponentKey{audit.ComponentKeywordOpportunities},
		EventKey:     "quick-wins",
		Run:          runQuickWins,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.QuickWins = data.(*audit.QuickWinReport)
			return bag
		},
	}
}

func runQuickWins(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Results.Opportunities == nil {
		return audit.ComponentOutput{}, errors.New("opportunities not available")
	}

	pages := make(map[string]audit.Page)
	if in.Crawl != nil {
		for _, page := range in.Crawl.Pages {
			pages[page.URL] = page
		}
	}

	report := &audit.QuickWinReport{}
	for _, opp := range in.Results.Opportunities.Opportunities {
		if opp.Position > quickWinMaxPosition || opp.URL == "" {
			continue
		}
		page, ok := pages[opp.URL]
		if !ok {
			continue
		}
		if fix := suggestFix(page, opp.Keyword); fix != "" {
			report.Wins = append(report.Wins, audit.QuickWin{
				Keyword:  opp.Keyword,
				URL:      opp.URL,
				Position: opp.Position,
				Fix:      fix,
			})
		}
	}

	return audit.ComponentOutput{Data: report}, nil
}

// suggestFix finds the single on-page change most likely to move the ranking.
func suggestFix(page audit.Page, keyword string) string {
	lowered := strings.ToLower(keyword)
	switch {
	case strings.TrimSpace(page.Title) == "":
		return "add a page title targeting the keyword"
	case !strings.Contains(strings.ToLower(page.Title), lowered):
		return "include the keyword in the page title"
	case strings.TrimSpace(page.MetaDescription) == "":
		return "add a meta description targeting the keyword"
	case !containsKeyword(page.H1s, lowered):
		return "include the keyword in the main heading"
	default:
		return ""
	}
}

func containsKeyword(headings []string, keyword string) bool {
	for _, h := range headings {
		if strings.Contains(strings.ToLower(h), keyword) {
			return true
		}
	}
	return false
}
