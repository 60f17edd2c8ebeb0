package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
)

// Runner executes components for one audit in dependency order against a
// persisted state. It is the only writer of pipeline state: components hand
// back data, the runner stores and persists it.
type Runner struct {
	registry *Registry
	store    audit.Store
	clock    audit.Clock
	logger   *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(registry *Registry, store audit.Store, clock audit.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// Run executes the requested components in dependency order. The caller's
// state is cloned; the returned state reflects every transition that was
// persisted. Component failures are recorded in state, never returned as
// errors; only persistence failures propagate.
//
// Each component follows mark running -> persist -> execute -> persist
// outcome, so a crash mid-execution always leaves a persisted record that the
// attempt happened.
func (r *Runner) Run(
	ctx context.Context,
	in audit.ComponentInput,
	state *audit.PipelineState,
	requested []audit.ComponentKey,
	events Events,
) (*audit.PipelineState, error) {
	order, err := r.registry.Order(requested)
	if err != nil {
		return nil, fmt.Errorf("resolve run order: %w", err)
	}

	st := state.Clone()
	completed := st.CompletedSet()
	in.Results = st.Results

	for _, key := range order {
		if completed[key] {
			continue
		}
		desc, ok := r.registry.Descriptor(key)
		if !ok {
			return nil, fmt.Errorf("component %q not registered", key)
		}

		if !r.registry.Satisfied(key, completed) {
			st.MarkFailed(key, r.clock.Now(), DependencyFailureReason)
			if err := r.persist(ctx, in.AuditID, order, st); err != nil {
				return st, err
			}
			events.fail(key, desc.EventKey, DependencyFailureReason)
			r.logger.Warn("component dependencies unmet",
				zap.String("audit_id", in.AuditID),
				zap.String("component", string(key)),
			)
			continue
		}

		st.MarkRunning(key, r.clock.Now())
		if err := r.persist(ctx, in.AuditID, order, st); err != nil {
			return st, err
		}
		events.start(key, desc.EventKey)
		r.logger.Debug("component started",
			zap.String("audit_id", in.AuditID),
			zap.String("component", string(key)),
		)

		in.Results = st.Results
		out, runErr := r.invoke(ctx, desc, in)
		st.Usage.Add(out.Usage)

		if runErr != nil {
			st.MarkFailed(key, r.clock.Now(), runErr.Error())
			if err := r.persist(ctx, in.AuditID, order, st); err != nil {
				return st, err
			}
			events.fail(key, desc.EventKey, runErr.Error())
			r.logger.Error("component failed",
				zap.String("audit_id", in.AuditID),
				zap.String("component", string(key)),
				zap.Error(runErr),
			)
			continue
		}

		st.Results = desc.Store(st.Results, out.Data)
		st.MarkCompleted(key, r.clock.Now())
		if err := r.persist(ctx, in.AuditID, order, st); err != nil {
			return st, err
		}
		completed[key] = true
		events.complete(key, desc.EventKey, out.Data)
		r.logger.Info("component completed",
			zap.String("audit_id", in.AuditID),
			zap.String("component", string(key)),
		)
	}

	return st, nil
}

// invoke runs the component, converting a panic into a component-local
// failure. A component must never abort the whole pipeline.
func (r *Runner) invoke(ctx context.Context, desc Descriptor, in audit.ComponentInput) (out audit.ComponentOutput, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("component panic: %v", rec)
		}
	}()
	return desc.Run(ctx, in)
}

// persist writes the invocation's transitions scoped to the keys it was asked
// to run. Key-scoped merging keeps a concurrent sibling chain's durable
// completions intact between this invocation's persists and the final join.
func (r *Runner) persist(ctx context.Context, auditID string, keys []audit.ComponentKey, st *audit.PipelineState) error {
	if err := r.store.MergeComponentState(ctx, auditID, keys, st); err != nil {
		return fmt.Errorf("persist pipeline state: %w", err)
	}
	return nil
}
