package components

import (
	"context"
	"errors"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

// deepPageThreshold marks pages buried too many clicks from the home page.
const deepPageThreshold = 4

func internalLinkingDescriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:      audit.ComponentInternalLinking,
		EventKey: "internal-linking",
		Run:      runInternalLinking,
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Linking = data.(*audit.LinkingReport)
			return bag
		},
	}
}

func runInternalLinking(_ context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
	if in.Crawl == nil {
		return audit.ComponentOutput{}, errors.New("no crawl data available")
	}

	inbound := make(map[string]int, len(in.Crawl.Pages))
	for _, page := range in.Crawl.Pages {
		for _, link := range page.InternalLinks {
			inbound[link]++
		}
	}

	report := &audit.LinkingReport{}
	var totalLinks int
	for _, page := range in.Crawl.Pages {
		totalLinks += len(page.InternalLinks)
		if page.Depth > report.MaxDepth {
			report.MaxDepth = page.Depth
		}
		if page.Depth >= deepPageThreshold {
			report.DeepPages = append(report.DeepPages, page.URL)
		}
		if page.Depth > 0 && inbound[page.URL] == 0 {
			report.OrphanPages = append(report.OrphanPages, page.URL)
		}
	}
	if len(in.Crawl.Pages) > 0 {
		report.AvgInternalLinks = float64(totalLinks) / float64(len(in.Crawl.Pages))
	}

	return audit.ComponentOutput{Data: report}, nil
}
