package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Scheduler polls for audits in RETRYING whose retry time has passed and
// enqueues resume jobs for them. It pairs with the queue's at-least-once
// delivery: a duplicate resume is harmless because completed components are
// skipped.
type Scheduler struct {
	store    audit.Store
	queue    audit.Queue
	clock    audit.Clock
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

// NewScheduler constructs a Scheduler. Interval defaults to one minute and
// batch to 50.
func NewScheduler(
	store audit.Store,
	queue audit.Queue,
	clock audit.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		queue:    queue,
		clock:    clock,
		interval: interval,
		batch:    50,
		logger:   logger,
	}
}

// Run blocks, sweeping on every tick until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep enqueues one resume job per due audit and returns the first hard
// error. Enqueue failures for individual audits are logged and skipped so one
// bad record cannot stall the rest.
func (s *Scheduler) Sweep(ctx context.Context) error {
	retrying := audit.AuditRetrying
	audits, err := s.store.ListAudits(ctx, &retrying, s.batch, 0)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, a := range audits {
		if a.RetryAfter != nil && a.RetryAfter.After(now) {
			continue
		}
		job := audit.Job{
			AuditID:   a.ID,
			Kind:      audit.JobResume,
			Submitted: now.Unix(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("enqueue resume job failed",
				zap.String("audit_id", a.ID),
				zap.Error(err),
			)
			continue
		}
		// Push the retry time forward so the next sweep does not enqueue a
		// duplicate before the worker picks this one up.
		next := now.Add(s.interval * 2)
		if err := s.store.UpdateAuditStatus(ctx, a.ID, audit.AuditRetrying, a.ErrorText, &next); err != nil {
			s.logger.Warn("reschedule retry time failed",
				zap.String("audit_id", a.ID),
				zap.Error(err),
			)
		}
		s.logger.Info("scheduled resume", zap.String("audit_id", a.ID))
	}
	return nil
}
