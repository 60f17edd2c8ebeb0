package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitescope/siteaudit/internal/progress"
)

// PrometheusSink exports audit progress metrics via Prometheus. It owns all
// collectors for audits started/completed/running and per-component runs.
type PrometheusSink struct {
	auditsStarted   prometheus.Counter
	auditsCompleted *prometheus.CounterVec
	auditsRunning   prometheus.Gauge
	partialsReady   prometheus.Counter

	componentRuns     *prometheus.CounterVec
	componentDuration *prometheus.HistogramVec

	tracker *auditTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		auditsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_runs_started_total",
			Help: "Total audits that have started pipeline execution.",
		}),
		auditsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_runs_completed_total",
			Help: "Total audits finished partitioned by result.",
		}, []string{"result"}),
		auditsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_runs_running",
			Help: "Current number of running audits.",
		}),
		partialsReady: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_partial_results_total",
			Help: "Total audits whose crawl-phase results became available.",
		}),
		componentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_component_runs_total",
			Help: "Component completions partitioned by component and result.",
		}, []string{"component", "result"}),
		componentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_component_duration_seconds",
			Help:    "Component execution time partitioned by component.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"component"}),
		tracker: newAuditTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.auditsStarted,
		s.auditsCompleted,
		s.auditsRunning,
		s.partialsReady,
		s.componentRuns,
		s.componentDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Phase {
	case progress.PhaseAuditStart, progress.PhaseAuditDone, progress.PhaseAuditError:
		s.handleAuditEvent(evt)
	case progress.PhasePartialReady:
		s.partialsReady.Inc()
	case progress.PhaseComponentDone:
		s.handleComponentEvent(evt, "success")
	case progress.PhaseComponentFail:
		s.handleComponentEvent(evt, "error")
	}
}

func (s *PrometheusSink) handleAuditEvent(evt progress.Event) {
	switch evt.Phase {
	case progress.PhaseAuditStart:
		s.auditsStarted.Inc()
		if s.tracker.start(evt.AuditID) {
			s.auditsRunning.Inc()
		}
	case progress.PhaseAuditDone:
		s.auditsCompleted.WithLabelValues("success").Inc()
	case progress.PhaseAuditError:
		s.auditsCompleted.WithLabelValues("error").Inc()
	}
	if evt.Phase != progress.PhaseAuditStart && s.tracker.complete(evt.AuditID) {
		s.auditsRunning.Dec()
	}
}

func (s *PrometheusSink) handleComponentEvent(evt progress.Event, result string) {
	component := evt.Component
	if component == "" {
		component = "unknown"
	}
	s.componentRuns.WithLabelValues(component, result).Inc()
	if evt.Dur > 0 {
		s.componentDuration.WithLabelValues(component).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type auditTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newAuditTracker() *auditTracker {
	return &auditTracker{running: make(map[[16]byte]struct{})}
}

func (t *auditTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *auditTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
