// Package scheduler runs sync passes on a cron schedule and when connectivity returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	syncpkg "github.com/kimhsiao/fitsync/backend/internal/sync"
)

// Scheduler manages background sync operations.
type Scheduler struct {
	engine   syncpkg.SyncEngineInterface
	ownerID  string
	schedule string
	timeout  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	baseCtx context.Context
	wg      sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
	syncsRunning   int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Schedule string        // cron spec or @every descriptor (default: @every 15m)
	OwnerID  string        // owner whose data is synced
	Timeout  time.Duration // upper bound for one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Schedule: "@every 15m",
		Timeout:  5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler. It starts online.
func NewScheduler(engine syncpkg.SyncEngineInterface, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	schedule := config.Schedule
	if schedule == "" {
		schedule = defaults.Schedule
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaults.Timeout
	}

	return &Scheduler{
		engine:   engine,
		ownerID:  config.OwnerID,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		isOnline: true,
	}
}

// Start registers the periodic job and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	id, err := s.cron.AddFunc(s.schedule, func() {
		s.runSync(ctx, "schedule")
	})
	if err != nil {
		return errors.Wrap(errors.ErrConfig, "invalid sync schedule "+s.schedule, err)
	}

	s.entryID = id
	s.baseCtx = ctx
	s.isRunning = true
	s.cron.Start()

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"schedule": s.schedule,
		"owner_id": s.ownerID,
	})
	return nil
}

// Stop stops the scheduler and waits for running passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler.
// While offline no sync is attempted. Going from offline to online
// triggers an immediate sync.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	ctx := s.baseCtx
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})

	if isOnline && running {
		s.spawn(ctx, "reconnect")
	}
}

// TriggerSync starts a sync in the background.
// Returns false when offline or when a sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	blocked := !s.isOnline || s.syncsRunning > 0
	s.mu.RUnlock()
	if blocked {
		return false
	}
	s.spawn(ctx, "manual")
	return true
}

// SyncNow runs a sync and waits for its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !s.IsOnline() {
		return nil, errors.New(errors.ErrSyncFailed, "cannot sync while offline")
	}
	result := s.runSync(ctx, "manual")
	if result == nil {
		return nil, errors.New(errors.ErrSyncFailed, "sync skipped")
	}
	return result, nil
}

func (s *Scheduler) spawn(ctx context.Context, trigger string) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, trigger)
	}()
}

// runSync executes one pass unless offline.
func (s *Scheduler) runSync(ctx context.Context, trigger string) *syncpkg.SyncResult {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - scheduler is offline", map[string]interface{}{"trigger": trigger})
		return nil
	}

	s.mu.Lock()
	s.syncsRunning++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncsRunning--
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result := s.engine.Sync(syncCtx, s.ownerID)

	s.mu.Lock()
	s.lastResult = result
	if result.Success {
		s.lastSyncTime = result.EndTime
	}
	s.mu.Unlock()

	fields := map[string]interface{}{
		"trigger": trigger,
		"pushed":  result.Pushed,
		"pulled":  result.Pulled,
		"errors":  result.Errors,
	}
	if result.Success {
		logging.Info("Scheduled sync completed", fields)
	} else {
		fields["code"] = string(errors.ErrSyncFailed)
		logging.Warn("Scheduled sync completed with errors", fields)
	}
	return result
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool                `json:"isRunning"`
	IsOnline       bool                `json:"isOnline"`
	LastSyncTime   *time.Time          `json:"lastSyncTime,omitempty"`
	NextRun        *time.Time          `json:"nextRun,omitempty"`
	SyncInProgress bool                `json:"syncInProgress"`
	PendingItems   int                 `json:"pendingItems"`
	LastResult     *syncpkg.SyncResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncsRunning > 0 || s.engine.State() == syncpkg.StateRunning,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.isRunning {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	s.mu.RUnlock()

	pending, err := s.engine.PendingChanges(ctx)
	if err != nil {
		logging.Error("Failed to count pending changes", err)
	}
	status.PendingItems = pending
	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
