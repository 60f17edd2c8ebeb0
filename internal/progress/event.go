package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase denotes the type of milestone represented by an Event.
type Phase string

// Supported progress phases.
const (
	PhaseAuditStart     Phase = "AUDIT_START"
	PhaseAuditDone      Phase = "AUDIT_DONE"
	PhaseAuditError     Phase = "AUDIT_ERROR"
	PhasePartialReady   Phase = "PARTIAL_READY"
	PhaseComponentStart Phase = "COMPONENT_START"
	PhaseComponentDone  Phase = "COMPONENT_DONE"
	PhaseComponentFail  Phase = "COMPONENT_FAIL"
)

// Event captures a single milestone of audit progress.
type Event struct {
	// AuditID uniquely identifies an audit using the 16-byte UUID form.
	AuditID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Phase denotes which lifecycle milestone occurred.
	Phase Phase
	// Component carries the component key for component-scoped phases.
	Component string
	// EventKey is the externally-visible label for the component; empty means
	// the component is internal only.
	EventKey string
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
	// Dur captures execution latency for component completions.
	Dur time.Duration
	// Payload is the externally-visible data slice attached to completions.
	Payload any
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.AuditID == [16]byte{} {
		return errors.New("audit id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Phase {
	case PhaseAuditStart, PhaseAuditDone, PhaseAuditError, PhasePartialReady:
	case PhaseComponentStart, PhaseComponentDone, PhaseComponentFail:
		if e.Component == "" {
			return fmt.Errorf("%s requires component", e.Phase)
		}
	default:
		return fmt.Errorf("unknown phase %q", e.Phase)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// AuditUUID converts the binary audit ID to uuid.UUID for repositories.
func (e Event) AuditUUID() uuid.UUID {
	return uuid.UUID(e.AuditID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
