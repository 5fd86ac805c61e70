package conflict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		local   time.Time
		remote  time.Time
		deleted bool
		want    Outcome
	}{
		{"remote newer", jan1, jan15, false, OutcomeRemoteNewer},
		{"local newer", jan15, jan1, false, OutcomeLocalWins},
		{"same timestamp keeps local", jan1, jan1, false, OutcomeLocalWins},
		{"newer remote tombstone", jan1, jan15, true, OutcomeRemoteDeleted},
		{"stale remote tombstone", jan15, jan1, true, OutcomeLocalWins},
	}

	detected := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	r := NewResolver(WithClock(func() time.Time { return detected }))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(&Conflict{
				EntityKind:      models.KindExercise,
				LocalID:         "l1",
				LocalTimestamp:  tt.local,
				RemoteTimestamp: tt.remote,
				RemoteDeleted:   tt.deleted,
				RemoteSnapshot:  json.RawMessage(`{"id":"s1"}`),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)

			log := res.ConflictLog
			require.NotNil(t, log)
			assert.Equal(t, string(tt.want), log.Resolution)
			assert.Equal(t, "l1", log.LocalID)
			assert.Equal(t, tt.local, log.LocalTimestamp)
			assert.Equal(t, tt.remote, log.RemoteTimestamp)
			assert.Equal(t, detected, log.DetectedAt)
			assert.JSONEq(t, `{"id":"s1"}`, string(log.RemoteSnapshot))
		})
	}
}

func TestResolveInvalid(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = r.Resolve(&Conflict{EntityKind: models.KindWorkout})
	assert.ErrorIs(t, err, ErrInvalidConflict)

	_, err = r.Resolve(&Conflict{EntityKind: "program", LocalID: "x"})
	assert.ErrorIs(t, err, ErrInvalidConflict)
}
