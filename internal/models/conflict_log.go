package models

import (
	"encoding/json"
	"time"
)

// ConflictLog records the outcome of one local/remote timestamp comparison during a pull.
type ConflictLog struct {
	ID              string          `db:"id" json:"id"`
	EntityKind      EntityKind      `db:"entity_kind" json:"entityKind"`
	LocalID         string          `db:"local_id" json:"localId"`
	LocalTimestamp  time.Time       `db:"local_timestamp" json:"localTimestamp"`
	RemoteTimestamp time.Time       `db:"remote_timestamp" json:"remoteTimestamp"`
	Resolution      string          `db:"resolution" json:"resolution"` // remote_newer, local_wins, remote_deleted
	RemoteSnapshot  json.RawMessage `db:"remote_snapshot" json:"remoteSnapshot,omitempty"`
	DetectedAt      time.Time       `db:"detected_at" json:"detectedAt"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}
