package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/fitsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newOutbox(t *testing.T, opts ...queue.Option) (*queue.Outbox, *stepClock) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database))

	clock := &stepClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]queue.Option{queue.WithClock(clock.Now)}, opts...)
	return queue.New(database.DB, opts...), clock
}

func name(s string) *models.ExercisePatch {
	return &models.ExercisePatch{Name: models.Ptr(s)}
}

func tombstone(kind models.EntityKind, id string) *models.Tombstone {
	return &models.Tombstone{Entity: kind, LocalID: id}
}

func TestEnqueue_Fresh(t *testing.T) {
	ctx := context.Background()
	q, clock := newOutbox(t)

	op, err := q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "l1", name("Squat"))
	require.NoError(t, err)

	assert.NotEmpty(t, op.OperationID)
	assert.Equal(t, models.OperationCreate, op.Type)
	assert.Equal(t, 0, op.RetryCount)
	assert.Equal(t, models.DefaultMaxRetries, op.MaxRetries)
	assert.True(t, clock.Now().Equal(op.Timestamp))

	got, err := q.Get(ctx, op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, "Squat", *got.Payload.(*models.ExercisePatch).Name)
}

func TestEnqueue_Coalescing(t *testing.T) {
	tests := []struct {
		name     string
		first    models.OperationType
		second   models.OperationType
		wantType models.OperationType
		wantErr  apperrors.ErrorCode
	}{
		{"update after create merges into create", models.OperationCreate, models.OperationUpdate, models.OperationCreate, ""},
		{"create after create merges", models.OperationCreate, models.OperationCreate, models.OperationCreate, ""},
		{"update after update merges", models.OperationUpdate, models.OperationUpdate, models.OperationUpdate, ""},
		{"delete replaces create", models.OperationCreate, models.OperationDelete, models.OperationDelete, ""},
		{"delete replaces update", models.OperationUpdate, models.OperationDelete, models.OperationDelete, ""},
		{"delete replaces delete", models.OperationDelete, models.OperationDelete, models.OperationDelete, ""},
		{"update after delete rejected", models.OperationDelete, models.OperationUpdate, models.OperationDelete, apperrors.ErrQueueConflict},
		{"create after delete rejected", models.OperationDelete, models.OperationCreate, models.OperationDelete, apperrors.ErrQueueConflict},
		{"create after update rejected", models.OperationUpdate, models.OperationCreate, models.OperationUpdate, apperrors.ErrQueueConflict},
	}

	payloadFor := func(typ models.OperationType, n string) models.Payload {
		if typ == models.OperationDelete {
			return tombstone(models.KindExercise, "l1")
		}
		return name(n)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			q, clock := newOutbox(t)

			first, err := q.Enqueue(ctx, tt.first, models.KindExercise, "l1", payloadFor(tt.first, "one"))
			require.NoError(t, err)

			clock.Advance(time.Second)
			_, err = q.Enqueue(ctx, tt.second, models.KindExercise, "l1", payloadFor(tt.second, "two"))
			if tt.wantErr != "" {
				assert.True(t, apperrors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
			}

			ops, err := q.Drain(ctx)
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, tt.wantType, ops[0].Type)

			merged := tt.wantErr == "" && tt.second != models.OperationDelete
			if merged {
				assert.Equal(t, first.OperationID, ops[0].OperationID, "coalescing keeps the operation id")
				assert.Equal(t, "two", *ops[0].Payload.(*models.ExercisePatch).Name)
			}
			if tt.wantErr == "" {
				assert.True(t, clock.Now().Equal(ops[0].Timestamp), "timestamp bumped")
			}
		})
	}
}

func TestEnqueue_UpdatesUnionFields(t *testing.T) {
	ctx := context.Background()
	q, clock := newOutbox(t)

	_, err := q.Enqueue(ctx, models.OperationUpdate, models.KindWorkoutSet, "s1",
		&models.WorkoutSetPatch{Reps: models.Ptr(8), Weight: models.Ptr(100.0)})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.OperationUpdate, models.KindWorkoutSet, "s1",
		&models.WorkoutSetPatch{Reps: models.Ptr(10), Completed: models.Ptr(true)})
	require.NoError(t, err)

	ops, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	p := ops[0].Payload.(*models.WorkoutSetPatch)
	assert.Equal(t, 10, *p.Reps)
	assert.Equal(t, 100.0, *p.Weight)
	assert.True(t, *p.Completed)
	assert.Nil(t, p.RPE)
}

func TestEnqueue_RejectsBadPayload(t *testing.T) {
	ctx := context.Background()
	q, _ := newOutbox(t)

	_, err := q.Enqueue(ctx, models.OperationUpdate, models.KindWorkout, "w1", name("x"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = q.Enqueue(ctx, models.OperationDelete, models.KindWorkout, "w1", &models.WorkoutPatch{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = q.Enqueue(ctx, models.OperationCreate, models.KindWorkout, "", &models.WorkoutPatch{})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrain_FIFO(t *testing.T) {
	ctx := context.Background()
	q, clock := newOutbox(t)

	_, err := q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "a", name("a"))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "b", name("b"))
	require.NoError(t, err)
	// same millisecond as b: insertion order breaks the tie
	_, err = q.Enqueue(ctx, models.OperationDelete, models.KindTemplate, "c", tombstone(models.KindTemplate, "c"))
	require.NoError(t, err)
	clock.Advance(time.Second)
	// coalescing a moves it to the back
	_, err = q.Enqueue(ctx, models.OperationUpdate, models.KindExercise, "a", name("a2"))
	require.NoError(t, err)

	ops, err := q.Drain(ctx)
	require.NoError(t, err)
	var order []string
	for _, op := range ops {
		order = append(order, op.LocalID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
	assert.Equal(t, models.KindTemplate, ops[1].Payload.Kind())
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q, _ := newOutbox(t)

	op, err := q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "l1", name("x"))
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, op.OperationID))
	assert.True(t, apperrors.Is(q.Remove(ctx, op.OperationID), apperrors.ErrNotFound))

	_, err = q.Get(ctx, op.OperationID)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestRemoveIfUnchanged(t *testing.T) {
	ctx := context.Background()
	q, clock := newOutbox(t)

	_, err := q.Enqueue(ctx, models.OperationUpdate, models.KindExercise, "l1", name("x"))
	require.NoError(t, err)
	ops, err := q.Drain(ctx)
	require.NoError(t, err)
	snapshot := ops[0]

	clock.Advance(time.Second)
	_, err = q.Enqueue(ctx, models.OperationUpdate, models.KindExercise, "l1", name("y"))
	require.NoError(t, err)

	removed, err := q.RemoveIfUnchanged(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, removed, "a coalesced entry must survive the stale acknowledgement")

	ops, err = q.Drain(ctx)
	require.NoError(t, err)
	removed, err = q.RemoveIfUnchanged(ctx, ops[0])
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestRemoveIfUnchanged_SameInstantMerge(t *testing.T) {
	ctx := context.Background()
	q, _ := newOutbox(t)

	_, err := q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "l1", name("x"))
	require.NoError(t, err)
	ops, err := q.Drain(ctx)
	require.NoError(t, err)
	snapshot := ops[0]
	assert.Equal(t, 1, snapshot.Version)

	// no clock advance: the merge lands on the same millisecond
	merged, err := q.Enqueue(ctx, models.OperationUpdate, models.KindExercise, "l1", name("y"))
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Version)
	assert.True(t, snapshot.Timestamp.Equal(merged.Timestamp))

	removed, err := q.RemoveIfUnchanged(ctx, snapshot)
	require.NoError(t, err)
	assert.False(t, removed)

	got, err := q.Find(ctx, models.KindExercise, "l1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "y", *got.Payload.(*models.ExercisePatch).Name)
}

func TestIncrementRetry_NeverDrops(t *testing.T) {
	ctx := context.Background()
	q, _ := newOutbox(t, queue.WithMaxRetries(3))

	op, err := q.Enqueue(ctx, models.OperationCreate, models.KindExercise, "l1", name("x"))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		op, err = q.IncrementRetry(ctx, op.OperationID, errors.New("HTTP 500"))
		require.NoError(t, err)
		assert.Equal(t, i, op.RetryCount)
	}
	assert.True(t, op.Exhausted())
	assert.Equal(t, "HTTP 500", op.LastError)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Equal(t, 1, stats.ByType[models.OperationCreate])

	reset, err := q.ResetRetries(ctx)
	require.NoError(t, err)
	require.Len(t, reset, 1)
	got, err := q.Get(ctx, op.OperationID)
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.LastError)

	_, err = q.IncrementRetry(ctx, "missing", nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPromoteToUpdate(t *testing.T) {
	ctx := context.Background()
	q, _ := newOutbox(t)

	op, err := q.Enqueue(ctx, models.OperationCreate, models.KindWorkout, "w1",
		&models.WorkoutPatch{Name: models.Ptr("Leg day")})
	require.NoError(t, err)
	require.NoError(t, q.PromoteToUpdate(ctx, models.KindWorkout, "w1"))

	got, err := q.Get(ctx, op.OperationID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationUpdate, got.Type)
	assert.Equal(t, "Leg day", *got.Payload.(*models.WorkoutPatch).Name)
}
