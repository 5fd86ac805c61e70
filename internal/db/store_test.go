package db

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/models"
)

const owner = "user-1"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(openTestDB(t), opts...), clock
}

func validPayload(kind models.EntityKind) models.Payload {
	switch kind {
	case models.KindExercise:
		return &models.ExercisePatch{Name: models.Ptr("Bench Press"), MuscleGroup: models.Ptr("chest")}
	case models.KindTemplate:
		return &models.TemplatePatch{Name: models.Ptr("Push A"), Exercises: &[]models.TemplateExercise{{ExerciseID: "ex-1", Sets: 3, Reps: 8}}}
	case models.KindWorkout:
		return &models.WorkoutPatch{Name: models.Ptr("Monday"), StartedAt: models.Ptr(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)), Status: models.Ptr(models.WorkoutInProgress)}
	case models.KindWorkoutExercise:
		return &models.WorkoutExercisePatch{WorkoutID: models.Ptr("w-1"), ExerciseID: models.Ptr("ex-1")}
	case models.KindWorkoutSet:
		return &models.WorkoutSetPatch{WorkoutExerciseID: models.Ptr("we-1"), SetNumber: models.Ptr(1), Reps: models.Ptr(8), Weight: models.Ptr(60.0)}
	}
	return nil
}

func TestCreate_PendingWithSingleCreateOp(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, kind := range models.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			id, err := s.Create(ctx, kind, owner, validPayload(kind))
			require.NoError(t, err)

			rec, err := s.Get(ctx, kind, id)
			require.NoError(t, err)
			meta := rec.Meta()
			assert.Equal(t, models.SyncStatusPending, meta.SyncStatus)
			assert.True(t, meta.NeedsSync)
			assert.Equal(t, owner, meta.OwnerID)
			assert.Empty(t, meta.ServerID)

			op, err := s.Outbox().Find(ctx, kind, id)
			require.NoError(t, err)
			require.NotNil(t, op)
			assert.Equal(t, models.OperationCreate, op.Type)
			assert.Equal(t, 0, op.RetryCount)
			assert.Equal(t, models.DefaultMaxRetries, op.MaxRetries)
		})
	}

	n, err := s.Outbox().Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(models.Kinds), n)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Create(ctx, models.KindExercise, owner, &models.ExercisePatch{MuscleGroup: models.Ptr("legs")})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = s.Create(ctx, models.KindExercise, "", validPayload(models.KindExercise))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = s.Create(ctx, models.KindWorkout, owner, validPayload(models.KindExercise))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	n, err := s.Outbox().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdate_CoalescesIntoPendingCreate(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, s.Update(ctx, models.KindExercise, id, &models.ExercisePatch{Name: models.Ptr("Incline Bench")}))
	clock.Advance(time.Second)
	require.NoError(t, s.Update(ctx, models.KindExercise, id, &models.ExercisePatch{Description: models.Ptr("30 degrees")}))

	ops, err := s.Outbox().Drain(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationCreate, ops[0].Type)
	assert.Equal(t, clock.Now(), ops[0].Timestamp.UTC())

	p := ops[0].Payload.(*models.ExercisePatch)
	assert.Equal(t, "Incline Bench", *p.Name)
	assert.Equal(t, "chest", *p.MuscleGroup)
	assert.Equal(t, "30 degrees", *p.Description)

	rec, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	ex := rec.(*models.Exercise)
	assert.Equal(t, "Incline Bench", ex.Name)
	assert.Equal(t, clock.Now(), ex.UpdatedAt)
}

func TestUpdate_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	err := s.Update(ctx, models.KindExercise, "missing", &models.ExercisePatch{Name: models.Ptr("x")})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	err = s.MarkForDeletion(ctx, models.KindExercise, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = s.Get(ctx, models.KindWorkout, "missing")
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestMarkForDeletion_CollapsesPendingCreate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindWorkout, owner, validPayload(models.KindWorkout))
	require.NoError(t, err)
	require.NoError(t, s.MarkForDeletion(ctx, models.KindWorkout, id))

	ops, err := s.Outbox().Drain(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OperationDelete, ops[0].Type)
	assert.Equal(t, id, ops[0].Payload.(*models.Tombstone).LocalID)

	rec, err := s.Get(ctx, models.KindWorkout, id)
	require.NoError(t, err)
	assert.True(t, rec.Meta().Deleted)

	list, err := s.List(ctx, models.KindWorkout, owner)
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.Update(ctx, models.KindWorkout, id, &models.WorkoutPatch{Notes: models.Ptr("late edit")})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestUpdate_RollsBackWhenEnqueueFails(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	// a delete queued behind the store's back makes the next update's enqueue fail
	_, err = s.Outbox().Enqueue(ctx, models.OperationDelete, models.KindExercise, id,
		&models.Tombstone{Entity: models.KindExercise, LocalID: id})
	require.NoError(t, err)

	before, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	err = s.Update(ctx, models.KindExercise, id, &models.ExercisePatch{Name: models.Ptr("Renamed")})
	require.True(t, apperrors.Is(err, apperrors.ErrQueueConflict), "got %v", err)

	after, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestList_ScopedByOwner(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	first, err := s.Create(ctx, models.KindExercise, owner, &models.ExercisePatch{Name: models.Ptr("Squat")})
	require.NoError(t, err)
	clock.Advance(time.Millisecond)
	second, err := s.Create(ctx, models.KindExercise, owner, &models.ExercisePatch{Name: models.Ptr("Deadlift")})
	require.NoError(t, err)
	_, err = s.Create(ctx, models.KindExercise, "someone-else", &models.ExercisePatch{Name: models.Ptr("Row")})
	require.NoError(t, err)

	list, err := s.List(ctx, models.KindExercise, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].Meta().LocalID)
	assert.Equal(t, second, list[1].Meta().LocalID)
}

func TestCompletePush_Create(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	op, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)

	serverTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	removed, err := s.CompletePush(ctx, op, PushAck{ServerID: "server-1", UpdatedAt: &serverTime})
	require.NoError(t, err)
	assert.True(t, removed)

	rec, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	meta := rec.Meta()
	assert.Equal(t, "server-1", meta.ServerID)
	assert.Equal(t, models.SyncStatusSynced, meta.SyncStatus)
	assert.False(t, meta.NeedsSync)
	require.NotNil(t, meta.ServerUpdatedAt)
	assert.True(t, serverTime.Equal(*meta.ServerUpdatedAt))

	sid, err := s.ServerID(ctx, models.KindExercise, id)
	require.NoError(t, err)
	assert.Equal(t, "server-1", sid)

	n, err := s.Outbox().Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompletePush_CoalescedWhileInFlight(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	inFlight, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, s.Update(ctx, models.KindExercise, id, &models.ExercisePatch{Name: models.Ptr("Edited")}))

	removed, err := s.CompletePush(ctx, inFlight, PushAck{ServerID: "server-1"})
	require.NoError(t, err)
	assert.False(t, removed)

	op, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, models.OperationUpdate, op.Type, "acknowledged create must not be sent twice")
	assert.Equal(t, inFlight.OperationID, op.OperationID)

	rec, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	assert.Equal(t, "server-1", rec.Meta().ServerID)
	assert.Equal(t, models.SyncStatusPending, rec.Meta().SyncStatus)
}

func TestCompletePush_CoalescedWithinSameMillisecond(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	inFlight, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, models.KindExercise, id, &models.ExercisePatch{Name: models.Ptr("Edited")}))

	removed, err := s.CompletePush(ctx, inFlight, PushAck{ServerID: "server-1"})
	require.NoError(t, err)
	assert.False(t, removed)

	op, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, models.OperationUpdate, op.Type)
	assert.Equal(t, "Edited", *op.Payload.(*models.ExercisePatch).Name)

	rec, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.Meta().SyncStatus)
	assert.True(t, rec.Meta().NeedsSync)
}

func TestCompletePush_DeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindTemplate, owner, validPayload(models.KindTemplate))
	require.NoError(t, err)
	require.NoError(t, s.MarkForDeletion(ctx, models.KindTemplate, id))
	op, err := s.Outbox().Find(ctx, models.KindTemplate, id)
	require.NoError(t, err)

	removed, err := s.CompletePush(ctx, op, PushAck{})
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = s.Get(ctx, models.KindTemplate, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestFailPush_ExhaustionKeepsEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, WithMaxRetries(2))

	id, err := s.Create(ctx, models.KindWorkoutSet, owner, validPayload(models.KindWorkoutSet))
	require.NoError(t, err)
	op, err := s.Outbox().Find(ctx, models.KindWorkoutSet, id)
	require.NoError(t, err)

	cause := errors.New("connection refused")
	op, err = s.FailPush(ctx, op, cause)
	require.NoError(t, err)
	assert.Equal(t, 1, op.RetryCount)
	rec, _ := s.Get(ctx, models.KindWorkoutSet, id)
	assert.Equal(t, models.SyncStatusPending, rec.Meta().SyncStatus)

	op, err = s.FailPush(ctx, op, cause)
	require.NoError(t, err)
	assert.True(t, op.Exhausted())
	assert.Equal(t, "connection refused", op.LastError)

	rec, err = s.Get(ctx, models.KindWorkoutSet, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, rec.Meta().SyncStatus)
	assert.True(t, rec.Meta().NeedsSync)

	still, err := s.Outbox().Find(ctx, models.KindWorkoutSet, id)
	require.NoError(t, err)
	require.NotNil(t, still)

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err = s.Get(ctx, models.KindWorkoutSet, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, rec.Meta().SyncStatus)
	reset, err := s.Outbox().Find(ctx, models.KindWorkoutSet, id)
	require.NoError(t, err)
	assert.Zero(t, reset.RetryCount)
}

func TestMarkRemoteNewer_BookkeepingOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	before, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	beforeJSON, _ := json.Marshal(before)

	remote := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkRemoteNewer(ctx, models.KindExercise, id, remote))

	after, err := s.Get(ctx, models.KindExercise, id)
	require.NoError(t, err)
	afterJSON, _ := json.Marshal(after)

	assert.Equal(t, string(beforeJSON), string(afterJSON))
	assert.Equal(t, models.SyncStatusSynced, after.Meta().SyncStatus)
	assert.False(t, after.Meta().NeedsSync)
	assert.True(t, remote.Equal(*after.Meta().ServerUpdatedAt))
	assert.Equal(t, before.Meta().UpdatedAt, after.Meta().UpdatedAt)
}

func TestApplyRemoteDeletion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	id, err := s.Create(ctx, models.KindExercise, owner, validPayload(models.KindExercise))
	require.NoError(t, err)
	require.NoError(t, s.ApplyRemoteDeletion(ctx, models.KindExercise, id))

	_, err = s.Get(ctx, models.KindExercise, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	op, err := s.Outbox().Find(ctx, models.KindExercise, id)
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	cp, err := s.Checkpoint(ctx, "pull:"+owner)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SetCheckpoint(ctx, "pull:"+owner, "2024-01-01T00:00:00Z"))
	clock.Advance(time.Hour)
	require.NoError(t, s.SetCheckpoint(ctx, "pull:"+owner, "2024-01-02T00:00:00Z"))

	cp, err = s.Checkpoint(ctx, "pull:"+owner)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "2024-01-02T00:00:00Z", cp.Value)
	assert.Equal(t, clock.Now(), cp.UpdatedAt)
}

func TestConflictLog(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	local := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	remote := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordConflict(ctx, &models.ConflictLog{
		EntityKind:      models.KindExercise,
		LocalID:         "l1",
		LocalTimestamp:  local,
		RemoteTimestamp: remote,
		Resolution:      "remote_newer",
		RemoteSnapshot:  json.RawMessage(`{"name":"Bench"}`),
	}))
	clock.Advance(time.Second)
	require.NoError(t, s.RecordConflict(ctx, &models.ConflictLog{
		EntityKind:      models.KindWorkout,
		LocalID:         "l2",
		LocalTimestamp:  remote,
		RemoteTimestamp: local,
		Resolution:      "local_wins",
	}))

	entries, err := s.ListConflicts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "l2", entries[0].LocalID)
	assert.Equal(t, "l1", entries[1].LocalID)
	assert.Equal(t, "remote_newer", entries[1].Resolution)
	assert.True(t, remote.Equal(entries[1].RemoteTimestamp))
	assert.JSONEq(t, `{"name":"Bench"}`, string(entries[1].RemoteSnapshot))
	assert.Nil(t, entries[0].RemoteSnapshot)
}
