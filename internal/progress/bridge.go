package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitescope/siteaudit/internal/audit"
	"github.com/sitescope/siteaudit/internal/pipeline"
)

// Bridge adapts the pipeline's per-run callbacks onto an Emitter. One Bridge
// serves one audit; component start times are tracked so completion events
// carry wall-clock durations.
type Bridge struct {
	emitter Emitter
	auditID [16]byte
	now     func() time.Time

	mu      sync.Mutex
	started map[audit.ComponentKey]time.Time
}

// NewBridge builds a Bridge for the given audit. A nil now falls back to
// time.Now.
func NewBridge(emitter Emitter, auditID uuid.UUID, now func() time.Time) *Bridge {
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		emitter: emitter,
		auditID: UUIDToBytes(auditID),
		now:     now,
		started: make(map[audit.ComponentKey]time.Time),
	}
}

// Events returns pipeline callbacks wired to this bridge.
func (b *Bridge) Events() pipeline.Events {
	return pipeline.Events{
		OnStart:        b.onStart,
		OnComplete:     b.onComplete,
		OnFail:         b.onFail,
		OnPartialReady: b.onPartialReady,
	}
}

// AuditStarted reports that pipeline execution began.
func (b *Bridge) AuditStarted() {
	b.emit(Event{Phase: PhaseAuditStart})
}

// AuditFinished reports terminal success or failure for the whole audit.
func (b *Bridge) AuditFinished(err error) {
	evt := Event{Phase: PhaseAuditDone}
	if err != nil {
		evt.Phase = PhaseAuditError
		evt.Note = err.Error()
	}
	b.emit(evt)
}

func (b *Bridge) onStart(key audit.ComponentKey, eventKey string) {
	now := b.now()
	b.mu.Lock()
	b.started[key] = now
	b.mu.Unlock()
	b.emit(Event{
		Phase:     PhaseComponentStart,
		Component: string(key),
		EventKey:  eventKey,
	})
}

func (b *Bridge) onComplete(key audit.ComponentKey, eventKey string, payload any) {
	b.emit(Event{
		Phase:     PhaseComponentDone,
		Component: string(key),
		EventKey:  eventKey,
		Dur:       b.elapsed(key),
		Payload:   payload,
	})
}

func (b *Bridge) onFail(key audit.ComponentKey, eventKey string, reason string) {
	b.emit(Event{
		Phase:     PhaseComponentFail,
		Component: string(key),
		EventKey:  eventKey,
		Dur:       b.elapsed(key),
		Note:      reason,
	})
}

func (b *Bridge) onPartialReady() {
	b.emit(Event{Phase: PhasePartialReady})
}

func (b *Bridge) elapsed(key audit.ComponentKey) time.Duration {
	b.mu.Lock()
	start, ok := b.started[key]
	if ok {
		delete(b.started, key)
	}
	b.mu.Unlock()
	if !ok {
		return 0
	}
	d := b.now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func (b *Bridge) emit(evt Event) {
	if b == nil || b.emitter == nil {
		return
	}
	evt.AuditID = b.auditID
	evt.TS = b.now().UTC()
	b.emitter.Emit(evt)
}
