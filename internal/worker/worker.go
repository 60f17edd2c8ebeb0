// Package worker implements the audit job execution loop.
package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/metrics"
	"github.com/sitescope/siteaudit/internal/pipeline"
	"github.com/sitescope/siteaudit/internal/progress"
)

// AuditRunner executes whole audits. *pipeline.Orchestrator satisfies it; the
// indirection keeps the worker testable without a full component registry.
type AuditRunner interface {
	RunPrimary(ctx context.Context, a audit.Audit, events pipeline.Events) (*audit.PipelineState, error)
	Resume(ctx context.Context, a audit.Audit, crawl *audit.CrawlResult, events pipeline.Events) (*pipeline.ResumeReport, error)
}

// maxJobAttempts bounds redelivery of fatally failing jobs. Attempts are
// 1-based; a job at the cap is acked and dropped instead of nacked.
const maxJobAttempts = 3

// Worker consumes audit jobs and drives them through the orchestrator.
type Worker struct {
	queue   audit.Queue
	store   audit.Store
	runner  AuditRunner
	emitter progress.Emitter
	clock   audit.Clock
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	queue audit.Queue,
	store audit.Store,
	runner AuditRunner,
	emitter progress.Emitter,
	clock audit.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:   queue,
		store:   store,
		runner:  runner,
		emitter: emitter,
		clock:   clock,
		logger:  logger,
	}
}

// Run blocks, consuming jobs until the context finishes. A delivery is acked
// only after processJob returns without a retryable error; failures nack so
// the queue redelivers the job, and a crash mid-job leaves it unsettled for
// the queue provider to redeliver.
func (w *Worker) Run(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job",
			zap.String("audit_id", d.Job.AuditID),
			zap.String("kind", string(d.Job.Kind)),
		)
		if err := w.processJob(ctx, d.Job); err != nil {
			d.Nack()
			continue
		}
		d.Ack()
	}
}

// processJob runs one audit pass. A non-nil return means the job should be
// redelivered; permanently unprocessable jobs (unknown audit, unknown kind)
// return nil so they are acked and dropped.
func (w *Worker) processJob(ctx context.Context, job audit.Job) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	a, err := w.store.GetAudit(ctx, job.AuditID)
	if err != nil {
		// A job referencing a record that does not exist can never succeed, so
		// it is dropped rather than retried.
		if errors.Is(err, audit.ErrNotFound) {
			w.logger.Error("job references unknown audit", zap.String("audit_id", job.AuditID))
			return nil
		}
		w.logger.Error("load audit failed", zap.String("audit_id", job.AuditID), zap.Error(err))
		return err
	}

	bridge := progress.NewBridge(w.emitter, parseAuditID(a.ID), w.clock.Now)
	events := bridge.Events()
	bridge.AuditStarted()

	var runErr error
	switch job.Kind {
	case audit.JobPrimary:
		_, runErr = w.runner.RunPrimary(ctx, a, events)
	case audit.JobResume:
		_, runErr = w.runner.Resume(ctx, a, nil, events)
	default:
		w.logger.Error("unknown job kind",
			zap.String("audit_id", job.AuditID),
			zap.String("kind", string(job.Kind)),
		)
		return nil
	}
	bridge.AuditFinished(runErr)

	result := "success"
	if runErr != nil {
		result = "error"
	}
	metrics.ObserveJob(string(job.Kind), result)

	if runErr != nil {
		fields := []zap.Field{
			zap.String("audit_id", job.AuditID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Error(runErr),
		}
		if pipeline.IsFatal(runErr) {
			if job.Attempt >= maxJobAttempts {
				w.logger.Error("audit failed fatally, retries exhausted", fields...)
				return nil
			}
			w.logger.Error("audit failed fatally", fields...)
			return runErr
		}
		// An aborted pass has its partial progress persisted and is resumed
		// explicitly, so the delivery is acked rather than replayed.
		w.logger.Error("audit pass aborted", fields...)
		return nil
	}
	w.logger.Info("audit pass finished",
		zap.String("audit_id", job.AuditID),
		zap.String("kind", string(job.Kind)),
	)
	return nil
}

// parseAuditID converts the record ID to the binary form used by progress
// events. IDs are minted as UUIDs at submission; a malformed one degrades to
// uuid.Nil, whose events the hub discards.
func parseAuditID(id string) uuid.UUID {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
