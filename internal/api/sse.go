package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitescope/siteaudit/internal/progress"
)

// subscriberBuffer bounds how far a slow SSE client may lag before events are
// dropped for it.
const subscriberBuffer = 64

// EventStream fans progress events out to HTTP subscribers. It implements
// progress.Sink so it can be registered on the hub alongside the other sinks.
type EventStream struct {
	mu     sync.Mutex
	closed bool
	subs   map[string]map[chan progress.Event]struct{}
}

// NewEventStream constructs an empty EventStream.
func NewEventStream() *EventStream {
	return &EventStream{
		subs: make(map[string]map[chan progress.Event]struct{}),
	}
}

// Consume delivers a batch to every subscriber of each event's audit. Slow
// subscribers lose events rather than stalling the hub.
func (s *EventStream) Consume(_ context.Context, events []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for _, ev := range events {
		chans := s.subs[ev.AuditUUID().String()]
		for ch := range chans {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	return nil
}

// Close disconnects all subscribers.
func (s *EventStream) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, chans := range s.subs {
		for ch := range chans {
			close(ch)
		}
	}
	s.subs = make(map[string]map[chan progress.Event]struct{})
	return nil
}

// Subscribe registers a listener for one audit. The returned cancel func must
// be called when the listener goes away.
func (s *EventStream) Subscribe(auditID string) (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	chans, ok := s.subs[auditID]
	if !ok {
		chans = make(map[chan progress.Event]struct{})
		s.subs[auditID] = chans
	}
	chans[ch] = struct{}{}

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if chans, ok := s.subs[auditID]; ok {
			if _, live := chans[ch]; live {
				delete(chans, ch)
				close(ch)
			}
			if len(chans) == 0 {
				delete(s.subs, auditID)
			}
		}
	}
	return ch, cancel
}

type sseEvent struct {
	AuditID   string    `json:"audit_id"`
	Phase     string    `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component,omitempty"`
	EventKey  string    `json:"event_key,omitempty"`
	Note      string    `json:"note,omitempty"`
	DurMs     int64     `json:"dur_ms,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	auditID := chi.URLParam(r, "audit_id")
	if _, ok := s.loadAudit(w, r); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.stream.Subscribe(auditID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Heartbeats keep intermediate proxies from reaping an idle stream.
	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(sseEvent{
				AuditID:   ev.AuditUUID().String(),
				Phase:     string(ev.Phase),
				Timestamp: ev.TS,
				Component: string(ev.Component),
				EventKey:  ev.EventKey,
				Note:      ev.Note,
				DurMs:     ev.Dur.Milliseconds(),
				Payload:   ev.Payload,
			})
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: " + string(ev.Phase) + "\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
