package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitescope/siteaudit/internal/audit"
	queuememory "github.com/sitescope/siteaudit/internal/queue/memory"
)

func TestEnqueueProxiesToQueue(t *testing.T) {
	q := queuememory.NewQueue(4)
	d := New(q, nil, nil)

	err := d.Enqueue(context.Background(), audit.Job{AuditID: "a1", Kind: audit.JobPrimary})
	require.NoError(t, err)

	delivery, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a1", delivery.Job.AuditID)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := queuememory.NewQueue(1)
	d := New(q, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}
