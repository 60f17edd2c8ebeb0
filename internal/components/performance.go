package components

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/render"
)

const slowPageMs = 3000

func pagePerformanceDescriptor(renderer render.Renderer, logger *zap.Logger) pipeline.Descriptor {
	return pipeline.Descriptor{
		Key:      audit.ComponentPagePerformance,
		EventKey: "page-performance",
		Run: func(ctx context.Context, in audit.ComponentInput) (audit.ComponentOutput, error) {
			return runPagePerformance(ctx, in, renderer, logger)
		},
		Store: func(bag audit.ResultBag, data any) audit.ResultBag {
			bag.Performance = data.(*audit.PerformanceReport)
			return bag
		},
	}
}

func runPagePerformance(
	ctx context.Context,
	in audit.ComponentInput,
	renderer render.Renderer,
	logger *zap.Logger,
) (audit.ComponentOutput, error) {
	if in.Crawl == nil {
		return audit.ComponentOutput{}, errors.New("no crawl data available")
	}
	if renderer == nil {
		return audit.ComponentOutput{}, errors.New("renderer not configured")
	}

	report := &audit.PerformanceReport{}
	var totalLoad int64
	var rendered int
	for _, page := range in.Crawl.Pages {
		if page.StatusCode >= 300 {
			continue
		}
		timing, err := renderer.Render(ctx, page.URL)
		if err != nil {
			logger.Warn("page render failed",
				zap.String("audit_id", in.AuditID),
				zap.String("url", page.URL),
				zap.Error(err),
			)
			continue
		}
		rendered++
		totalLoad += timing.LoadMs
		report.Pages = append(report.Pages, audit.PageTiming{
			URL:          page.URL,
			LoadMs:       timing.LoadMs,
			FirstPaintMs: timing.FirstPaintMs,
			SizeBytes:    timing.SizeBytes,
			Score:        loadScore(timing.LoadMs),
		})
		if timing.LoadMs >= slowPageMs {
			report.SlowPages = append(report.SlowPages, page.URL)
		}
	}
	if rendered == 0 {
		return audit.ComponentOutput{}, fmt.Errorf("no pages could be rendered")
	}
	report.AvgLoadMs = totalLoad / int64(rendered)

	return audit.ComponentOutput{Data: report}, nil
}

func loadScore(loadMs int64) float64 {
	switch {
	case loadMs <= 1000:
		return 1.0
	case loadMs >= 10000:
		return 0.0
	default:
		return 1.0 - float64(loadMs-1000)/9000.0
	}
}
