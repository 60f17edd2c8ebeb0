package components

import (
	"context"
	"errors"
	"sort"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

func duplicateContentDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:      audit.ComponentDuplicateContent,
		EventKey: "duplicate-content",
		Run:      runDuplicateContent,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Duplicates = data.(*audit.DuplicateReport)
			return bag
		},
	}
}

func runDuplicateContent(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Crawl == nil {
		return audit.ComponentOutput{}, errors.New("no crawl data available")
	}

	byHash := make(map[string][]string)
	for _, page := range in.Crawl.Pages {
		if page.ContentHash == "" || page.StatusCode >= 300 {
			continue
		}
		byHash[page.ContentHash] = append(byHash[page.ContentHash], page.URL)
	}

	report := &audit.DuplicateReport{}
	for _, urls := range byHash {
		if len(urls) < 2 {
			continue
		}
		sort.Strings(urls)
		report.Groups = append(report.Groups, urls)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		return report.Groups[i][0] < report.Groups[j][0]
	})

	return audit.ComponentOutput{Data: report}, nil
}
