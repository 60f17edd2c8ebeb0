package api

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/progress"
)

func TestEventStreamFanout(t *testing.T) {
	stream := NewEventStream()
	auditID := uuid.New()
	other := uuid.New()

	ch, cancel := stream.Subscribe(auditID.String())
	defer cancel()

	events := []progress.Event{
		{AuditID: auditID, TS: time.Now(), Phase: progress.PhaseAuditStart},
		{AuditID: other, TS: time.Now(), Phase: progress.PhaseAuditStart},
	}
	require.NoError(t, stream.Consume(context.Background(), events))

	select {
	case ev := <-ch:
		require.Equal(t, auditID, uuid.UUID(ev.AuditID))
	default:
		t.Fatal("expected an event for the subscribed audit")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestEventStreamDropsWhenSubscriberLags(t *testing.T) {
	stream := NewEventStream()
	auditID := uuid.New()

	ch, cancel := stream.Subscribe(auditID.String())
	defer cancel()

	batch := make([]progress.Event, 0, subscriberBuffer+10)
	for i := 0; i < subscriberBuffer+10; i++ {
		batch = append(batch, progress.Event{AuditID: auditID, TS: time.Now(), Phase: progress.PhaseComponentStart, Component: "technicalIssues"})
	}
	require.NoError(t, stream.Consume(context.Background(), batch))
	require.Len(t, ch, subscriberBuffer)
}

func TestEventStreamCancelStopsDelivery(t *testing.T) {
	stream := NewEventStream()
	auditID := uuid.New()

	ch, cancel := stream.Subscribe(auditID.String())
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Consuming after cancel must not panic on the closed channel.
	require.NoError(t, stream.Consume(context.Background(), []progress.Event{
		{AuditID: auditID, TS: time.Now(), Phase: progress.PhaseAuditDone},
	}))
}

func TestEventStreamClose(t *testing.T) {
	stream := NewEventStream()
	ch, cancel := stream.Subscribe(uuid.NewString())
	defer cancel()

	require.NoError(t, stream.Close(context.Background()))
	_, open := <-ch
	require.False(t, open)

	// Subscribing after close yields a closed channel.
	ch2, cancel2 := stream.Subscribe(uuid.NewString())
	defer cancel2()
	_, open = <-ch2
	require.False(t, open)
}
