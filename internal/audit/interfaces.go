package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested audit does not exist.
var ErrNotFound = errors.New("audit not found")

// Store persists audit records and their pipeline state.
//
// SaveState replaces the whole state snapshot and is only safe when a single
// invocation owns the audit. MergeComponentState folds in progress for the
// given keys plus any new results without disturbing other components'
// recorded transitions; concurrent chains writing disjoint keys must use it
// so one chain's persist cannot roll back the sibling's durable completions.
type Store interface {
	CreateAudit(ctx context.Context, a Audit) error
	GetAudit(ctx context.Context, auditID string) (Audit, error)
	UpdateAuditStatus(ctx context.Context, auditID string, status AuditStatus, errText string, retryAfter *time.Time) error
	SaveState(ctx context.Context, auditID string, state *PipelineState) error
	MergeComponentState(ctx context.Context, auditID string, keys []ComponentKey, state *PipelineState) error
	ListAudits(ctx context.Context, status *AuditStatus, limit, offset int) ([]Audit, error)
}

// CrawlRequest captures everything needed to crawl a site.
type CrawlRequest struct {
	AuditID       string
	SiteURL       string
	PageLimit     int
	SectionFilter string
}

// Crawler fetches a site's pages as one async batch operation. A crawl that
// yields zero pages is fatal to the whole audit.
type Crawler interface {
	Crawl(ctx context.Context, req CrawlRequest, onPage func(Page)) (*CrawlResult, error)
}

// ArtifactStore writes raw crawl artifacts and supports cleanup when an audit
// fails outright.
type ArtifactStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// Delivery is one dequeued job plus its acknowledgement controls. The
// consumer must settle every delivery: Ack confirms the job is done and must
// not be redelivered, Nack returns it to the queue. A job neither acked nor
// nacked (a crashed worker) is redelivered by providers that hold a lease.
type Delivery struct {
	Job  Job
	Ack  func()
	Nack func()
}

// Queue provides enqueue/dequeue semantics for audit jobs with at-least-once
// delivery.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Delivery, error)
}

// JobKind distinguishes fresh runs from resume runs.
type JobKind string

// Job kinds carried on the queue.
const (
	JobPrimary JobKind = "primary"
	JobResume  JobKind = "resume"
)

// Job is the unit of work delivered by the queue.
type Job struct {
	AuditID   string  `json:"audit_id"`
	Kind      JobKind `json:"kind"`
	Attempt   int     `json:"attempt"`
	Submitted int64   `json:"submitted"`
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces audit IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
