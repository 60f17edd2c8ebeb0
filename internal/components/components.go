// Package components implements the pluggable audit analysis units and wires
// them into a pipeline registry. Each component declares its dependencies,
// consumes only its read-only input, and hands its report back for the runner
// to store.
package components

import (
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/ai"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/render"
	"github.com/sitescope/siteaudit/internal/serp"
)

// Deps bundles the external collaborators components call out to.
type Deps struct {
	Serp     serp.Client
	AI       ai.Client
	Renderer render.Renderer
	Logger   *zap.Logger
}

// DefaultDescriptors returns every component descriptor in registration order.
func DefaultDescriptors(deps Deps) []pipeline.Descriptor {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return []pipeline.Descriptor{
		technicalIssuesDescriptor(),
		internalLinkingDescriptor(),
		duplicateContentDescriptor(),
		pagePerformanceDescriptor(deps.Renderer, deps.Logger),
		currentRankingsDescriptor(deps.Serp),
		keywordOpportunitiesDescriptor(),
		competitorAnalysisDescriptor(),
		featuredSnippetsDescriptor(),
		quickWinsDescriptor(),
		briefsDescriptor(deps.AI),
		actionPlanDescriptor(),
	}
}

// NewDefaultRegistry builds the registry used by both entry-point drivers.
func NewDefaultRegistry(deps Deps) (*pipeline.Registry, error) {
	return pipeline.NewRegistry(DefaultDescriptors(deps))
}
