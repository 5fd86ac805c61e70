// Package sync reconciles the local store with the remote workout API.
//
// A pass pushes the outbox in FIFO order, then pulls remote changes since the
// owner's checkpoint and resolves each matched record with last-write-wins.
// Failures are counted in the result and never returned to the caller.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/kimhsiao/fitsync/backend/internal/db"
	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/sync/conflict"
	"github.com/kimhsiao/fitsync/backend/internal/sync/mapper"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
)

// SyncResult summarizes one pass.
type SyncResult struct {
	Success   bool          `json:"success"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Errors    int           `json:"errors"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Store is the local state the engine reads and updates.
type Store interface {
	Outbox() *queue.Outbox
	Get(ctx context.Context, kind models.EntityKind, localID string) (models.Record, error)
	ServerID(ctx context.Context, kind models.EntityKind, localID string) (string, error)
	CompletePush(ctx context.Context, op *models.OfflineOperation, ack db.PushAck) (bool, error)
	FailPush(ctx context.Context, op *models.OfflineOperation, cause error) (*models.OfflineOperation, error)
	MarkFailed(ctx context.Context, kind models.EntityKind, localID string) error
	MarkRemoteNewer(ctx context.Context, kind models.EntityKind, localID string, remoteUpdatedAt time.Time) error
	ApplyRemoteDeletion(ctx context.Context, kind models.EntityKind, localID string) error
	Checkpoint(ctx context.Context, key string) (*models.SyncCheckpoint, error)
	SetCheckpoint(ctx context.Context, key, value string) error
	RecordConflict(ctx context.Context, entry *models.ConflictLog) error
}

var _ Store = (*db.Store)(nil)

// maxErrorHistory bounds the per-engine error history.
const maxErrorHistory = 100

// SyncErrorEntry is one failure seen during a pass.
type SyncErrorEntry struct {
	Entity    models.EntityKind `json:"entity,omitempty"`
	LocalID   string            `json:"localId,omitempty"`
	Operation string            `json:"operation"`
	Error     string            `json:"error"`
	Timestamp time.Time         `json:"timestamp"`
}

// Engine runs sync passes through a Coordinator.
type Engine struct {
	store    Store
	remote   RemoteAPI
	mapper   *mapper.Mapper
	resolver *conflict.Resolver
	coord    *Coordinator
	now      func() time.Time

	mu       gosync.RWMutex
	handler  SyncEventHandler
	errors   []SyncErrorEntry
	lastSync *time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source for results and checkpoints.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCoordinator shares a coordinator between engines over the same store.
func WithCoordinator(c *Coordinator) Option {
	return func(e *Engine) { e.coord = c }
}

// WithResolver overrides the conflict resolver.
func WithResolver(r *conflict.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// NewEngine creates an Engine over store and remote.
func NewEngine(store Store, remote RemoteAPI, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		remote: remote,
		mapper: mapper.New(store),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.coord == nil {
		e.coord = NewCoordinator()
	}
	if e.resolver == nil {
		e.resolver = conflict.NewResolver(conflict.WithClock(e.now))
	}
	return e
}

// CheckpointKey is the checkpoint row holding ownerID's pull cursor.
func CheckpointKey(ownerID string) string {
	return "pull:" + ownerID
}

// Sync runs one push-then-pull pass for ownerID. Concurrent calls share the
// in-flight pass and receive the same result. The pass is detached from
// ctx cancellation; it always returns a result.
func (e *Engine) Sync(ctx context.Context, ownerID string) *SyncResult {
	detached := context.WithoutCancel(ctx)
	return e.coord.Run(ownerID, func() *SyncResult {
		return e.pass(detached, ownerID)
	})
}

// State reports whether a pass is running.
func (e *Engine) State() State {
	return e.coord.State()
}

// LastResult returns the most recent pass result, or nil.
func (e *Engine) LastResult() *SyncResult {
	return e.coord.LastResult()
}

// LastSync returns the end time of the last fully successful pass.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// PendingChanges returns the number of queued outbox operations.
func (e *Engine) PendingChanges(ctx context.Context) (int, error) {
	return e.store.Outbox().Len(ctx)
}

// GetErrorHistory returns a copy of recent failures, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errors))
	copy(out, e.errors)
	return out
}

// ClearErrorHistory forgets recorded failures.
func (e *Engine) ClearErrorHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = nil
}

func (e *Engine) pass(ctx context.Context, ownerID string) (result *SyncResult) {
	result = &SyncResult{StartTime: e.now()}
	e.emitEvent(SyncEvent{Type: SyncEventStarted, OwnerID: ownerID})
	logging.Info("Sync started", map[string]interface{}{"owner_id": ownerID})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("sync panicked: %v", r)
			result.Errors++
			e.recordError("", "", "sync", err)
			logging.Error("Sync aborted", err, map[string]interface{}{"owner_id": ownerID})
		}

		result.EndTime = e.now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Success = result.Errors == 0
		if result.Success {
			result.Error = ""
			end := result.EndTime
			e.mu.Lock()
			e.lastSync = &end
			e.mu.Unlock()
		} else if result.Error == "" {
			result.Error = fmt.Sprintf("%d operation(s) failed", result.Errors)
		}

		fields := map[string]interface{}{
			"owner_id":    ownerID,
			"pushed":      result.Pushed,
			"pulled":      result.Pulled,
			"errors":      result.Errors,
			"conflicts":   result.Conflicts,
			"duration_ms": result.Duration.Milliseconds(),
		}
		if result.Success {
			logging.Info("Sync completed", fields)
			e.emitEvent(SyncEvent{Type: SyncEventCompleted, OwnerID: ownerID, Result: result})
		} else {
			logging.Warn("Sync completed with errors", fields)
			e.emitEvent(SyncEvent{Type: SyncEventFailed, OwnerID: ownerID, Result: result, Message: result.Error})
		}
	}()

	e.push(ctx, result)
	e.pull(ctx, ownerID, result)
	return result
}

// push sends every queued operation in FIFO order. A failed operation is
// retried on a later pass and never blocks the ones after it. Operations that
// used up their retry budget are still attempted; a failure only counts as an
// error and keeps the record marked failed.
//
// An operation referring to a record whose create is still queued waits for
// that create; waiting operations are retried after each sweep that made
// progress and otherwise stay queued without spending a retry.
func (e *Engine) push(ctx context.Context, result *SyncResult) {
	ops, err := e.store.Outbox().Drain(ctx)
	if err != nil {
		e.fail(result, "", "", "drain", err)
		return
	}

	for len(ops) > 0 {
		var waiting []*models.OfflineOperation
		progressed := false
		for _, op := range ops {
			parent, err := e.waitingOn(ctx, op)
			if err != nil {
				e.fail(result, op.EntityKind, op.LocalID, string(op.Type), err)
				continue
			}
			if parent != nil {
				waiting = append(waiting, op)
				logging.Debug("Push waits for referenced create", map[string]interface{}{
					"entity":    op.EntityKind,
					"local_id":  op.LocalID,
					"parent":    parent.Kind,
					"parent_id": parent.LocalID,
				})
				continue
			}
			if e.attempt(ctx, op, result) {
				progressed = true
			}
		}
		if !progressed {
			result.Skipped += len(waiting)
			return
		}
		ops = waiting
	}
}

// attempt pushes op and records the outcome. It reports whether the server
// accepted it.
func (e *Engine) attempt(ctx context.Context, op *models.OfflineOperation, result *SyncResult) bool {
	acked, err := e.pushOne(ctx, op)
	if err == nil {
		result.Pushed++
		return true
	}

	e.fail(result, op.EntityKind, op.LocalID, string(op.Type), err)
	if acked {
		// The server accepted it; only local bookkeeping failed.
		return true
	}
	if op.Exhausted() {
		if err := e.store.MarkFailed(ctx, op.EntityKind, op.LocalID); err != nil {
			logging.Error("Failed to mark record failed", err, opFields(op))
		}
		return false
	}
	updated, ferr := e.store.FailPush(ctx, op, err)
	if ferr != nil {
		logging.Error("Failed to record push failure", ferr, opFields(op))
		return false
	}
	e.emitEvent(SyncEvent{
		Type:    SyncEventOperationFailed,
		Entity:  op.EntityKind,
		LocalID: op.LocalID,
		Message: err.Error(),
		Retries: updated.RetryCount,
	})
	return false
}

// waitingOn returns the first record op refers to that has no server id yet
// and still has its create queued, or nil when op can be pushed now.
func (e *Engine) waitingOn(ctx context.Context, op *models.OfflineOperation) (*mapper.Ref, error) {
	refs, err := mapper.References(op)
	if err != nil {
		return nil, err
	}
	outbox := e.store.Outbox()
	for i := range refs {
		ref := refs[i]
		serverID, err := e.store.ServerID(ctx, ref.Kind, ref.LocalID)
		if err != nil {
			return nil, err
		}
		if serverID != "" {
			continue
		}
		queued, err := outbox.Find(ctx, ref.Kind, ref.LocalID)
		if err != nil {
			return nil, err
		}
		if queued != nil && queued.Type == models.OperationCreate {
			return &ref, nil
		}
	}
	return nil, nil
}

// pushOne sends op and records the acknowledgement. acked reports whether
// the server accepted the request.
func (e *Engine) pushOne(ctx context.Context, op *models.OfflineOperation) (acked bool, err error) {
	meta := &models.SyncMeta{LocalID: op.LocalID}
	rec, err := e.store.Get(ctx, op.EntityKind, op.LocalID)
	switch {
	case err == nil:
		meta = rec.Meta()
	case apperrors.Is(err, apperrors.ErrNotFound) && op.Type == models.OperationDelete:
	default:
		return false, err
	}

	body, err := e.mapper.ToWire(ctx, op, meta)
	if err != nil {
		return false, err
	}

	collection := op.EntityKind.Collection()
	var ack db.PushAck

	switch op.Type {
	case models.OperationCreate:
		raw, err := e.remote.Create(ctx, collection, body)
		if err != nil {
			return false, apperrors.Wrap(apperrors.ErrTransport, "create failed", err)
		}
		decoded, err := mapper.DecodeAck(raw)
		if err != nil {
			return false, err
		}
		if decoded.ServerID == "" {
			return false, apperrors.New(apperrors.ErrTransport, "create response without id")
		}
		ack = db.PushAck{ServerID: decoded.ServerID, UpdatedAt: decoded.UpdatedAt}

	case models.OperationUpdate:
		raw, err := e.remote.Update(ctx, collection, body)
		if err != nil {
			return false, apperrors.Wrap(apperrors.ErrTransport, "update failed", err)
		}
		if decoded, err := mapper.DecodeAck(raw); err == nil {
			ack.UpdatedAt = decoded.UpdatedAt
		}

	case models.OperationDelete:
		ref := meta.ServerID
		if ref == "" {
			ref = op.LocalID
		}
		if err := e.remote.Delete(ctx, collection, ref, body); err != nil {
			return false, apperrors.Wrap(apperrors.ErrTransport, "delete failed", err)
		}

	default:
		return false, apperrors.Newf(apperrors.ErrValidation, "unknown operation type %q", op.Type)
	}

	removed, err := e.store.CompletePush(ctx, op, ack)
	if err != nil {
		return true, err
	}
	logging.Debug("Pushed operation", map[string]interface{}{
		"operation_id": op.OperationID,
		"type":         op.Type,
		"entity":       op.EntityKind,
		"local_id":     op.LocalID,
		"removed":      removed,
	})
	return true, nil
}

// pull fetches remote changes since the owner's checkpoint and merges them.
// The checkpoint advances only when every entity merged cleanly.
func (e *Engine) pull(ctx context.Context, ownerID string, result *SyncResult) {
	key := CheckpointKey(ownerID)
	cp, err := e.store.Checkpoint(ctx, key)
	if err != nil {
		e.fail(result, "", "", "pull", err)
		return
	}
	since := ""
	if cp != nil {
		since = cp.Value
	}

	resp, err := e.remote.Pull(ctx, since)
	if err != nil {
		e.fail(result, "", "", "pull", apperrors.Wrap(apperrors.ErrTransport, "pull failed", err))
		return
	}
	result.Pulled = resp.Count()

	clean := true
	for _, kind := range models.Kinds {
		for _, raw := range resp.Entities[kind] {
			if err := e.merge(ctx, ownerID, kind, raw, result); err != nil {
				e.fail(result, kind, "", "merge", err)
				clean = false
			}
		}
	}
	if !clean {
		return
	}

	cursor := resp.LastSync
	if cursor == "" {
		cursor = result.StartTime.UTC().Format(time.RFC3339)
	}
	if err := e.store.SetCheckpoint(ctx, key, cursor); err != nil {
		e.fail(result, "", "", "checkpoint", err)
	}
}

// merge resolves one pulled entity against its local counterpart. Entities
// without a known local id are skipped.
func (e *Engine) merge(ctx context.Context, ownerID string, kind models.EntityKind, raw []byte, result *SyncResult) error {
	remote, err := mapper.FromWire(kind, raw)
	if err != nil {
		return err
	}
	if remote.LocalID == "" {
		result.Skipped++
		return nil
	}

	local, err := e.store.Get(ctx, kind, remote.LocalID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		result.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	if ownerID != "" && local.Meta().OwnerID != ownerID {
		result.Skipped++
		return nil
	}

	snapshot, err := remote.Snapshot()
	if err != nil {
		return err
	}

	res, err := e.resolver.Resolve(&conflict.Conflict{
		EntityKind:      kind,
		LocalID:         remote.LocalID,
		LocalTimestamp:  local.ConflictTime(),
		RemoteTimestamp: remote.UpdatedAt,
		RemoteDeleted:   remote.Deleted,
		RemoteSnapshot:  snapshot,
	})
	if err != nil {
		return err
	}

	switch res.Outcome {
	case conflict.OutcomeRemoteNewer:
		err = e.store.MarkRemoteNewer(ctx, kind, remote.LocalID, remote.UpdatedAt)
	case conflict.OutcomeRemoteDeleted:
		err = e.store.ApplyRemoteDeletion(ctx, kind, remote.LocalID)
	}
	if err != nil {
		return err
	}

	result.Conflicts++
	if err := e.store.RecordConflict(ctx, res.ConflictLog); err != nil {
		logging.Error("Failed to record conflict", err, map[string]interface{}{
			"entity":   kind,
			"local_id": remote.LocalID,
		})
	}
	e.emitEvent(SyncEvent{
		Type:    SyncEventConflict,
		OwnerID: ownerID,
		Entity:  kind,
		LocalID: remote.LocalID,
		Message: string(res.Outcome),
	})
	return nil
}

// fail counts one error in result and records it.
func (e *Engine) fail(result *SyncResult, kind models.EntityKind, localID, operation string, err error) {
	result.Errors++
	result.Error = err.Error()
	e.recordError(kind, localID, operation, err)
	logging.Error("Sync step failed", err, map[string]interface{}{
		"entity":    kind,
		"local_id":  localID,
		"operation": operation,
		"code":      string(apperrors.CodeOf(err)),
	})
}

func (e *Engine) recordError(kind models.EntityKind, localID, operation string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, SyncErrorEntry{
		Entity:    kind,
		LocalID:   localID,
		Operation: operation,
		Error:     err.Error(),
		Timestamp: e.now(),
	})
	if len(e.errors) > maxErrorHistory {
		e.errors = e.errors[len(e.errors)-maxErrorHistory:]
	}
}

func opFields(op *models.OfflineOperation) map[string]interface{} {
	return map[string]interface{}{
		"operation_id": op.OperationID,
		"type":         op.Type,
		"entity":       op.EntityKind,
		"local_id":     op.LocalID,
		"retry_count":  op.RetryCount,
	}
}
