package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/progress"
	"github.com/sitescope/siteaudit/internal/store"
)

// StoreSink persists component run history via a store.ComponentRunRepository.
// Audit-level phases are ignored here; the orchestrator already persists audit
// status transitions through its own repository.
type StoreSink struct {
	repo   store.ComponentRunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ComponentRunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards component lifecycle events to the repository. It respects
// ctx deadlines and returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		auditID := evt.AuditUUID()
		switch evt.Phase {
		case progress.PhaseComponentStart:
			if err := s.repo.StartRun(ctx, auditID, evt.Component, evt.TS); err != nil {
				return fmt.Errorf("start component run: %w", err)
			}
		case progress.PhaseComponentDone:
			if err := s.repo.CompleteRun(ctx, auditID, evt.Component, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete component run: %w", err)
			}
		case progress.PhaseComponentFail:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, auditID, evt.Component, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete component run: %w", err)
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
