// Package queue provides message queue implementations for audit jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/sitescope/siteaudit/internal/audit"
)

// PubSubQueue implements audit.Queue on Google Cloud Pub/Sub. Jobs are JSON
// messages; delivery is at-least-once, which the pipeline tolerates because
// completed components are skipped on re-runs.
type PubSubQueue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	recvOnce   sync.Once
	recvCancel context.CancelFunc
	deliveries chan audit.Delivery
	recvErr    chan error
}

// PubSubConfig identifies the topic and subscription to use.
type PubSubConfig struct {
	ProjectID    string
	TopicID      string
	Subscription string
}

// NewPubSubQueue creates a Pub/Sub client and verifies the topic exists.
// Authentication uses Google Cloud's Application Default Credentials.
func NewPubSubQueue(ctx context.Context, cfg PubSubConfig, logger *zap.Logger) (*PubSubQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}
	var sub *pubsub.Subscription
	if cfg.Subscription != "" {
		sub = client.Subscription(cfg.Subscription)
	}
	return &PubSubQueue{
		client:     client,
		topic:      topic,
		sub:        sub,
		logger:     logger,
		deliveries: make(chan audit.Delivery),
		recvErr:    make(chan error, 1),
	}, nil
}

// Enqueue publishes the job and waits for the server acknowledgment so the
// caller learns about failures before reporting the audit as queued.
func (q *PubSubQueue) Enqueue(ctx context.Context, job audit.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Dequeue returns the next delivery from the subscription. The first call
// starts the background receive loop. The message stays leased until the
// consumer settles it, so a worker that crashes mid-job never acks and
// Pub/Sub redelivers the job after the ack deadline.
func (q *PubSubQueue) Dequeue(ctx context.Context) (audit.Delivery, error) {
	if q.sub == nil {
		return audit.Delivery{}, errors.New("pubsub subscription not configured")
	}
	q.recvOnce.Do(q.startReceive)
	select {
	case <-ctx.Done():
		return audit.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case err := <-q.recvErr:
		return audit.Delivery{}, fmt.Errorf("pubsub receive: %w", err)
	case d := <-q.deliveries:
		return d, nil
	}
}

func (q *PubSubQueue) startReceive() {
	recvCtx, cancel := context.WithCancel(context.Background())
	q.recvCancel = cancel
	go func() {
		err := q.sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			var job audit.Job
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				q.logger.Warn("discarding malformed job message", zap.Error(err))
				msg.Ack()
				return
			}
			d := audit.Delivery{Job: job, Ack: msg.Ack, Nack: msg.Nack}
			select {
			case q.deliveries <- d:
			case <-recvCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case q.recvErr <- err:
			default:
			}
		}
	}()
}

// Close stops the receive loop, flushes the publisher, and closes the client.
func (q *PubSubQueue) Close() error {
	if q.recvCancel != nil {
		q.recvCancel()
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
