// Package dispatcher manages audit worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/worker"
)

// Dispatcher owns the worker pool consuming audit jobs. It is also the
// submission side's handle on the queue: handlers enqueue through it so the
// queued job kinds show up in one place in the logs.
type Dispatcher struct {
	queue   audit.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher over the given queue and worker pool.
func New(queue audit.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// Run starts every worker and blocks until the context finishes and all
// workers have drained their current job.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting audit worker pool", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("audit worker pool stopped")
}

// Enqueue submits an audit job for the pool to pick up.
func (d *Dispatcher) Enqueue(ctx context.Context, job audit.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s job for audit %s: %w", job.Kind, job.AuditID, err)
	}
	d.logger.Debug("queued audit job",
		zap.String("audit_id", job.AuditID),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt),
	)
	return nil
}
