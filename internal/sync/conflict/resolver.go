// Package conflict decides how a pulled remote entity relates to its local counterpart.
//
// Resolution is last-write-wins at whole-record granularity and only ever
// affects sync bookkeeping; local domain fields are never overwritten here.
package conflict

import (
	"encoding/json"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

// Outcome is the resolved state of one comparison. It is not an error.
type Outcome string

const (
	// OutcomeRemoteNewer: the server copy is newer; bookkeeping becomes synced.
	OutcomeRemoteNewer Outcome = "remote_newer"
	// OutcomeLocalWins: the local copy is as new or newer; nothing changes.
	OutcomeLocalWins Outcome = "local_wins"
	// OutcomeRemoteDeleted: the server deleted the record after the last local change.
	OutcomeRemoteDeleted Outcome = "remote_deleted"
)

// Conflict is a matched local/remote pair.
type Conflict struct {
	EntityKind      models.EntityKind
	LocalID         string
	LocalTimestamp  time.Time
	RemoteTimestamp time.Time
	RemoteDeleted   bool
	RemoteSnapshot  json.RawMessage
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	Outcome     Outcome
	ConflictLog *models.ConflictLog
}

// Resolver applies last-write-wins to matched pairs.
type Resolver struct {
	now func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source for DetectedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a new Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ErrInvalidConflict is returned for a pair without a kind or local id.
var ErrInvalidConflict = apperrors.New(apperrors.ErrValidation, "invalid conflict: kind and local id are required")

// Resolve compares the remote timestamp against the local one. The remote
// side wins only when strictly newer; ties keep the local copy.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil || !c.EntityKind.Valid() || c.LocalID == "" {
		return nil, ErrInvalidConflict
	}

	remoteNewer := c.RemoteTimestamp.After(c.LocalTimestamp)

	outcome := OutcomeLocalWins
	switch {
	case remoteNewer && c.RemoteDeleted:
		outcome = OutcomeRemoteDeleted
	case remoteNewer:
		outcome = OutcomeRemoteNewer
	}

	log := &models.ConflictLog{
		EntityKind:      c.EntityKind,
		LocalID:         c.LocalID,
		LocalTimestamp:  c.LocalTimestamp,
		RemoteTimestamp: c.RemoteTimestamp,
		Resolution:      string(outcome),
		RemoteSnapshot:  c.RemoteSnapshot,
		DetectedAt:      r.now(),
	}

	logging.Debug("Conflict resolved using last-write-wins", map[string]interface{}{
		"entity":           c.EntityKind,
		"local_id":         c.LocalID,
		"local_timestamp":  c.LocalTimestamp,
		"remote_timestamp": c.RemoteTimestamp,
		"remote_deleted":   c.RemoteDeleted,
		"resolution":       outcome,
	})

	return &ResolveResult{Outcome: outcome, ConflictLog: log}, nil
}
