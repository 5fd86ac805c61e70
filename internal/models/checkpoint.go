package models

import "time"

// SyncCheckpoint is the opaque cursor of one pulled change stream.
type SyncCheckpoint struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for SyncCheckpoint.
func (SyncCheckpoint) TableName() string {
	return "sync_checkpoints"
}
