package sync

import (
	gosync "sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// State is the coordinator's view of the engine.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Coordinator serializes sync passes. Callers arriving while a pass for the
// same owner is in flight share its result instead of starting another one.
type Coordinator struct {
	group   singleflight.Group
	worker  gosync.Mutex // one pass at a time across owners
	running atomic.Int32

	mu   gosync.RWMutex
	last *SyncResult
}

// NewCoordinator creates an idle Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Run executes pass for ownerID, or joins the pass already running for it.
// Every joined caller receives the identical *SyncResult.
func (c *Coordinator) Run(ownerID string, pass func() *SyncResult) *SyncResult {
	v, _, _ := c.group.Do("sync:"+ownerID, func() (interface{}, error) {
		c.worker.Lock()
		defer c.worker.Unlock()

		c.running.Add(1)
		defer c.running.Add(-1)

		result := pass()

		c.mu.Lock()
		c.last = result
		c.mu.Unlock()
		return result, nil
	})
	return v.(*SyncResult)
}

// State reports whether a pass is currently running.
func (c *Coordinator) State() State {
	if c.running.Load() > 0 {
		return StateRunning
	}
	return StateIdle
}

// LastResult returns the result of the most recent finished pass, or nil.
func (c *Coordinator) LastResult() *SyncResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
