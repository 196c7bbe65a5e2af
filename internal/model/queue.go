package model

import "time"

// DedupScope selects which item statuses participate in duplicate
// detection for a queue.
type DedupScope string

const (
	DedupScopePending DedupScope = "pending"
	DedupScopeAll     DedupScope = "all"
)

// QueueDef is the immutable-in-normal-use definition of a work queue.
type QueueDef struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DedupExpr     string     `json:"dedupExpr,omitempty"`
	DedupScope    DedupScope `json:"dedupScope"`
	MaxAttempts   int        `json:"maxAttempts"`
	RetentionDays int        `json:"retentionDays"`
}

// DefaultMaxAttempts and DefaultRetentionDays are the backward-compat
// fallbacks used when a queue item references a queue id with no
// registered definition (spec.md invariant I3).
const (
	DefaultMaxAttempts   = 1
	DefaultRetentionDays = 7
)

// QueueItemStatus is the lifecycle state of one queue item.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemDone       QueueItemStatus = "done"
	QueueItemFailed     QueueItemStatus = "failed"
)

// QueueItem is one unit of durable work.
type QueueItem struct {
	ID          int64           `json:"id"`
	QueueID     string          `json:"queueId"`
	Payload     string          `json:"payload"`
	Status      QueueItemStatus `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	DedupKey    *string         `json:"dedupKey,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ClaimedAt   *time.Time      `json:"claimedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// EnqueueSkipped is the sentinel returned by Enqueue when a duplicate was
// detected and no new row was inserted.
const EnqueueSkipped int64 = -1
