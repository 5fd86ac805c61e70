package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/sync/remote"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync performs a push-then-pull pass for ownerID.
	// It never fails; errors are counted in the result.
	Sync(ctx context.Context, ownerID string) *SyncResult

	// State reports whether a pass is running.
	State() State

	// LastResult returns the result of the most recent pass.
	LastResult() *SyncResult

	// PendingChanges returns the number of queued outbox operations.
	PendingChanges(ctx context.Context) (int, error)
}

// RemoteAPI is the server the engine pushes to and pulls from.
type RemoteAPI interface {
	Create(ctx context.Context, collection string, body map[string]interface{}) (json.RawMessage, error)
	Update(ctx context.Context, collection string, body map[string]interface{}) (json.RawMessage, error)
	Delete(ctx context.Context, collection, ref string, body map[string]interface{}) error
	Pull(ctx context.Context, since string) (*remote.PullResponse, error)
}

// SyncEventType identifies a sync notification.
type SyncEventType string

const (
	SyncEventStarted         SyncEventType = "started"
	SyncEventCompleted       SyncEventType = "completed"
	SyncEventFailed          SyncEventType = "failed"
	SyncEventOperationFailed SyncEventType = "operation_failed"
	SyncEventConflict        SyncEventType = "conflict"
)

// SyncEvent is delivered to the registered SyncEventHandler.
type SyncEvent struct {
	Type      SyncEventType
	OwnerID   string
	Entity    models.EntityKind
	LocalID   string
	Message   string
	Retries   int
	Result    *SyncResult
	Timestamp time.Time
}

// SyncEventHandler receives sync notifications. Calls happen on the sync
// goroutine and must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// SetEventHandler sets the event handler; nil disables notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	handler.OnSyncEvent(event)
}

var (
	_ SyncEngineInterface = (*Engine)(nil)
	_ RemoteAPI           = (*remote.Client)(nil)
)
