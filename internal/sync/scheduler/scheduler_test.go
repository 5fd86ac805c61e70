// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts Sync calls and can hold them until released.
type fakeEngine struct {
	calls   atomic.Int32
	pending int
	hold    chan struct{}
	owners  sync.Map
	success bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{success: true}
}

func (f *fakeEngine) Sync(_ context.Context, ownerID string) *syncpkg.SyncResult {
	f.calls.Add(1)
	f.owners.Store(ownerID, true)
	if f.hold != nil {
		<-f.hold
	}
	return &syncpkg.SyncResult{Success: f.success, Pushed: 1, EndTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeEngine) State() syncpkg.State { return syncpkg.StateIdle }

func (f *fakeEngine) LastResult() *syncpkg.SyncResult { return nil }

func (f *fakeEngine) PendingChanges(context.Context) (int, error) { return f.pending, nil }

func createTestScheduler(t *testing.T, schedule string) (*fakeEngine, *Scheduler) {
	t.Helper()
	engine := newFakeEngine()
	s := NewScheduler(engine, &SchedulerConfig{Schedule: schedule, OwnerID: "user-1"})
	t.Cleanup(s.Stop)
	return engine, s
}

// =====================================================
// Construction
// =====================================================

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.Schedule != "@every 15m" {
		t.Errorf("Schedule = %q, want @every 15m", config.Schedule)
	}
	if config.Timeout != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", config.Timeout)
	}
}

func TestNewScheduler_nilConfig(t *testing.T) {
	s := NewScheduler(newFakeEngine(), nil)

	if s.schedule != "@every 15m" {
		t.Errorf("schedule = %q, want default", s.schedule)
	}
	if !s.IsOnline() {
		t.Error("scheduler should start online")
	}
	if s.IsRunning() {
		t.Error("scheduler should not run before Start")
	}
}

// =====================================================
// Start/Stop
// =====================================================

func TestStart_invalidSchedule(t *testing.T) {
	_, s := createTestScheduler(t, "every now and then")

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
	assert.False(t, s.IsRunning())
}

func TestStartStop(t *testing.T) {
	_, s := createTestScheduler(t, "@every 1h")

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second Start is a no-op")
	assert.True(t, s.IsRunning())

	status := s.GetStatus(context.Background())
	require.NotNil(t, status.NextRun)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestSchedule_triggersSync(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1s")
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return engine.calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	_, ok := engine.owners.Load("user-1")
	assert.True(t, ok)
}

// =====================================================
// Online status
// =====================================================

func TestReconnectTriggersSync(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	require.NoError(t, s.Start(context.Background()))

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(false)
	assert.Zero(t, engine.calls.Load())

	s.SetOnlineStatus(true)
	assert.Eventually(t, func() bool { return engine.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReconnect_notRunning(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")

	s.SetOnlineStatus(false)
	s.SetOnlineStatus(true)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, engine.calls.Load())
}

func TestOffline_blocksSync(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	s.SetOnlineStatus(false)

	assert.False(t, s.TriggerSync(context.Background()))

	_, err := s.SyncNow(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncFailed))
	assert.Zero(t, engine.calls.Load())
}

// =====================================================
// Manual triggers
// =====================================================

func TestSyncNow(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	engine.pending = 4

	result, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)

	status := s.GetStatus(context.Background())
	require.NotNil(t, status.LastSyncTime)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *status.LastSyncTime)
	assert.Same(t, result, status.LastResult)
	assert.Equal(t, 4, status.PendingItems)
}

func TestSyncNow_failedPassKeepsLastSyncTime(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	engine.success = false

	result, err := s.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Nil(t, s.GetStatus(context.Background()).LastSyncTime)
}

func TestTriggerSync_inProgress(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	engine.hold = make(chan struct{})

	require.True(t, s.TriggerSync(context.Background()))
	assert.Eventually(t, func() bool { return s.GetStatus(context.Background()).SyncInProgress }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, s.TriggerSync(context.Background()))

	close(engine.hold)
	assert.Eventually(t, func() bool { return !s.GetStatus(context.Background()).SyncInProgress }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, engine.calls.Load())
}

func TestSyncInProgress_overlappingRuns(t *testing.T) {
	engine, s := createTestScheduler(t, "@every 1h")
	engine.hold = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = s.SyncNow(ctx)
			done <- struct{}{}
		}()
	}
	assert.Eventually(t, func() bool { return engine.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.GetStatus(ctx).SyncInProgress)

	engine.hold <- struct{}{}
	<-done
	assert.True(t, s.GetStatus(ctx).SyncInProgress, "second run still going")
	assert.False(t, s.TriggerSync(ctx))

	engine.hold <- struct{}{}
	<-done
	assert.False(t, s.GetStatus(ctx).SyncInProgress)
}
