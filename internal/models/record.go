package models

import (
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
)

// SyncMeta holds the per-record sync bookkeeping shared by every entity kind.
// It is excluded from the domain JSON stored alongside it.
type SyncMeta struct {
	LocalID         string     `db:"local_id" json:"localId"`
	ServerID        string     `db:"server_id" json:"serverId,omitempty"`
	OwnerID         string     `db:"owner_id" json:"ownerId"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	ServerUpdatedAt *time.Time `db:"server_updated_at" json:"serverUpdatedAt,omitempty"`
	SyncStatus      SyncStatus `db:"sync_status" json:"syncStatus"`
	NeedsSync       bool       `db:"needs_sync" json:"needsSync"`
	Deleted         bool       `db:"is_deleted" json:"deleted,omitempty"`
}

// Meta returns the bookkeeping itself; embedding types inherit it.
func (m *SyncMeta) Meta() *SyncMeta { return m }

// ConflictTime is the local timestamp compared against remote updatedAt.
func (m *SyncMeta) ConflictTime() time.Time { return m.UpdatedAt }

// MarkPending flags the record as diverged from the server at now.
func (m *SyncMeta) MarkPending(now time.Time) {
	m.UpdatedAt = now
	m.SyncStatus = SyncStatusPending
	m.NeedsSync = true
}

// MarkSynced records a server acknowledgement.
func (m *SyncMeta) MarkSynced(serverUpdatedAt *time.Time) {
	if serverUpdatedAt != nil {
		t := *serverUpdatedAt
		m.ServerUpdatedAt = &t
	}
	m.SyncStatus = SyncStatusSynced
	m.NeedsSync = false
}

// Record is one locally stored domain entity.
type Record interface {
	Kind() EntityKind
	Meta() *SyncMeta
	// Apply overlays the set fields of p onto the domain fields.
	Apply(p Payload) error
	// Snapshot returns every domain field as a payload.
	Snapshot() Payload
	ConflictTime() time.Time
}

// NewRecord returns an empty record of kind k.
func NewRecord(k EntityKind) (Record, error) {
	switch k {
	case KindExercise:
		return &Exercise{}, nil
	case KindTemplate:
		return &Template{}, nil
	case KindWorkout:
		return &Workout{}, nil
	case KindWorkoutExercise:
		return &WorkoutExercise{}, nil
	case KindWorkoutSet:
		return &WorkoutSet{}, nil
	}
	return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", k)
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func payloadMismatch(want EntityKind, p Payload) error {
	if p == nil {
		return apperrors.Newf(apperrors.ErrValidation, "nil payload for %s", want)
	}
	return apperrors.Newf(apperrors.ErrValidation, "payload of kind %s (%T) cannot apply to %s", p.Kind(), p, want)
}
