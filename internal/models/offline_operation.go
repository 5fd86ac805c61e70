package models

import "time"

// DefaultMaxRetries bounds push attempts before an operation is reported as failed.
const DefaultMaxRetries = 3

// OfflineOperation is one pending mutation in the outbox, keyed by (EntityKind, LocalID).
type OfflineOperation struct {
	Seq         int64         `db:"seq" json:"-"`
	OperationID string        `db:"operation_id" json:"operationId"`
	Type        OperationType `db:"type" json:"type"`
	EntityKind  EntityKind    `db:"entity_kind" json:"entityKind"`
	LocalID     string        `db:"local_id" json:"localId"`
	Payload     Payload       `db:"payload" json:"payload"`
	Timestamp   time.Time     `db:"timestamp" json:"timestamp"`
	Version     int           `db:"version" json:"version"`
	RetryCount  int           `db:"retry_count" json:"retryCount"`
	MaxRetries  int           `db:"max_retries" json:"maxRetries"`
	LastError   string        `db:"last_error" json:"lastError,omitempty"`
}

// TableName returns the table name for OfflineOperation.
func (OfflineOperation) TableName() string {
	return "offline_queue"
}

// Exhausted reports whether the operation used up its push attempts.
func (op *OfflineOperation) Exhausted() bool {
	return op.RetryCount >= op.MaxRetries
}
