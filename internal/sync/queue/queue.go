// Package queue provides the durable outbox of pending offline mutations.
//
// The outbox holds at most one live entry per (entity kind, local id). New
// mutations are coalesced into that entry instead of appended, so a record
// edited several times while offline costs a single request on the next push.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Outbox manages pending operations stored in the offline_queue table.
type Outbox struct {
	q          Querier
	maxRetries int
	now        func() time.Time
}

// Option configures an Outbox.
type Option func(*Outbox)

// WithMaxRetries sets the retry budget given to newly enqueued operations.
func WithMaxRetries(n int) Option {
	return func(o *Outbox) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Outbox) { o.now = now }
}

// New creates an Outbox over q.
func New(q Querier, opts ...Option) *Outbox {
	o := &Outbox{
		q:          q,
		maxRetries: models.DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// With returns a copy of o whose statements run on q, typically a transaction
// that also writes the record being mutated.
func (o *Outbox) With(q Querier) *Outbox {
	cp := *o
	cp.q = q
	return &cp
}

// MaxRetries returns the retry budget for new entries.
func (o *Outbox) MaxRetries() int {
	return o.maxRetries
}

// Enqueue records a mutation, coalescing it with the existing entry for the same key:
//
//   - incoming delete replaces any existing entry
//   - create or update onto a queued create merges into the create
//   - update onto a queued update merges fields, later values winning
//   - anything onto a queued delete is rejected
//
// Merging bumps the entry timestamp and version and keeps its operation id.
func (o *Outbox) Enqueue(ctx context.Context, typ models.OperationType, kind models.EntityKind, localID string, payload models.Payload) (*models.OfflineOperation, error) {
	if localID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "enqueue requires a local id")
	}
	if err := models.CheckPayload(typ, kind, payload); err != nil {
		return nil, err
	}

	existing, err := o.Find(ctx, kind, localID)
	if err != nil {
		return nil, err
	}
	now := o.now()

	switch {
	case existing == nil:
		return o.insert(ctx, typ, kind, localID, payload, now)

	case typ == models.OperationDelete:
		if err := o.deleteRow(ctx, existing.OperationID); err != nil {
			return nil, err
		}
		logging.Debug("Outbox entry replaced by delete", map[string]interface{}{
			"entity":       kind,
			"local_id":     localID,
			"replaced_op":  existing.OperationID,
			"replaced_typ": existing.Type,
		})
		return o.insert(ctx, typ, kind, localID, payload, now)

	case existing.Type == models.OperationDelete:
		return nil, apperrors.Newf(apperrors.ErrQueueConflict, "%s %s is already queued for deletion", kind, localID)

	case existing.Type == models.OperationCreate,
		existing.Type == models.OperationUpdate && typ == models.OperationUpdate:
		return o.merge(ctx, existing, payload, now)
	}

	return nil, apperrors.Newf(apperrors.ErrQueueConflict, "cannot queue %s for %s %s with a pending %s", typ, kind, localID, existing.Type)
}

func (o *Outbox) insert(ctx context.Context, typ models.OperationType, kind models.EntityKind, localID string, payload models.Payload, now time.Time) (*models.OfflineOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	op := &models.OfflineOperation{
		OperationID: uuid.New(),
		Type:        typ,
		EntityKind:  kind,
		LocalID:     localID,
		Payload:     payload,
		Timestamp:   now,
		Version:     1,
		RetryCount:  0,
		MaxRetries:  o.maxRetries,
	}

	res, err := o.q.ExecContext(ctx, `
	INSERT INTO offline_queue (operation_id, type, entity_kind, local_id, payload, timestamp, version, retry_count, max_retries)
	VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?)`,
		op.OperationID, string(typ), string(kind), localID, string(data), millis(now), op.MaxRetries)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to insert outbox entry", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		op.Seq = seq
	}

	logging.Debug("Enqueued operation", map[string]interface{}{
		"operation_id": op.OperationID,
		"type":         typ,
		"entity":       kind,
		"local_id":     localID,
	})
	return op, nil
}

func (o *Outbox) merge(ctx context.Context, existing *models.OfflineOperation, payload models.Payload, now time.Time) (*models.OfflineOperation, error) {
	merged, err := models.MergePayloads(existing.Payload, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := o.q.ExecContext(ctx,
		`UPDATE offline_queue SET payload = ?, timestamp = ?, version = version + 1 WHERE operation_id = ?`,
		string(data), millis(now), existing.OperationID); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to coalesce outbox entry", err)
	}

	existing.Payload = merged
	existing.Timestamp = now
	existing.Version++

	logging.Debug("Coalesced operation", map[string]interface{}{
		"operation_id": existing.OperationID,
		"type":         existing.Type,
		"entity":       existing.EntityKind,
		"local_id":     existing.LocalID,
	})
	return existing, nil
}

const selectColumns = `seq, operation_id, type, entity_kind, local_id, payload, timestamp, version, retry_count, max_retries, last_error`

// Drain returns every queued entry, oldest first.
func (o *Outbox) Drain(ctx context.Context) ([]*models.OfflineOperation, error) {
	return o.list(ctx, `SELECT `+selectColumns+` FROM offline_queue ORDER BY timestamp, seq`)
}

// Exhausted returns entries whose retry budget is used up.
func (o *Outbox) Exhausted(ctx context.Context) ([]*models.OfflineOperation, error) {
	return o.list(ctx, `SELECT `+selectColumns+` FROM offline_queue WHERE retry_count >= max_retries ORDER BY timestamp, seq`)
}

func (o *Outbox) list(ctx context.Context, query string, args ...interface{}) ([]*models.OfflineOperation, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query outbox", err)
	}
	defer rows.Close()

	var ops []*models.OfflineOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate outbox", err)
	}
	return ops, nil
}

// Find returns the live entry for (kind, localID), or nil when there is none.
func (o *Outbox) Find(ctx context.Context, kind models.EntityKind, localID string) (*models.OfflineOperation, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM offline_queue WHERE entity_kind = ? AND local_id = ?`,
		string(kind), localID)
	op, err := scanOperation(row)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return op, err
}

// Get returns the entry with the given operation id.
func (o *Outbox) Get(ctx context.Context, operationID string) (*models.OfflineOperation, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM offline_queue WHERE operation_id = ?`, operationID)
	return scanOperation(row)
}

// Remove deletes an entry after a confirmed successful push.
func (o *Outbox) Remove(ctx context.Context, operationID string) error {
	if err := o.deleteRow(ctx, operationID); err != nil {
		return err
	}
	logging.Debug("Removed operation", map[string]interface{}{"operation_id": operationID})
	return nil
}

func (o *Outbox) deleteRow(ctx context.Context, operationID string) error {
	res, err := o.q.ExecContext(ctx, `DELETE FROM offline_queue WHERE operation_id = ?`, operationID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete outbox entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", operationID)
	}
	return nil
}

// RemoveIfUnchanged deletes op only if it was not coalesced since it was read,
// judged by its version rather than its timestamp. It reports whether the
// entry was removed.
func (o *Outbox) RemoveIfUnchanged(ctx context.Context, op *models.OfflineOperation) (bool, error) {
	res, err := o.q.ExecContext(ctx,
		`DELETE FROM offline_queue WHERE operation_id = ? AND version = ?`,
		op.OperationID, op.Version)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete outbox entry", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveFor deletes whatever entry exists for (kind, localID).
func (o *Outbox) RemoveFor(ctx context.Context, kind models.EntityKind, localID string) (int, error) {
	res, err := o.q.ExecContext(ctx,
		`DELETE FROM offline_queue WHERE entity_kind = ? AND local_id = ?`, string(kind), localID)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to delete outbox entry", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PromoteToUpdate turns a queued create for (kind, localID) into an update.
// It is used once the server has acknowledged the create but newer local
// fields were coalesced into the entry while the request was in flight.
func (o *Outbox) PromoteToUpdate(ctx context.Context, kind models.EntityKind, localID string) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE offline_queue SET type = ?, retry_count = 0, last_error = '' WHERE entity_kind = ? AND local_id = ? AND type = ?`,
		string(models.OperationUpdate), string(kind), localID, string(models.OperationCreate))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to promote outbox entry", err)
	}
	return nil
}

// IncrementRetry records a failed push attempt. Entries are never dropped
// here, even once RetryCount reaches MaxRetries.
func (o *Outbox) IncrementRetry(ctx context.Context, operationID string, cause error) (*models.OfflineOperation, error) {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}
	res, err := o.q.ExecContext(ctx,
		`UPDATE offline_queue SET retry_count = retry_count + 1, last_error = ? WHERE operation_id = ?`,
		lastErr, operationID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to increment retry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "operation %s not found", operationID)
	}

	op, err := o.Get(ctx, operationID)
	if err != nil {
		return nil, err
	}
	if op.Exhausted() {
		logging.Warn("Operation exhausted its retries", map[string]interface{}{
			"operation_id": op.OperationID,
			"entity":       op.EntityKind,
			"local_id":     op.LocalID,
			"retry_count":  op.RetryCount,
			"max_retries":  op.MaxRetries,
		})
	}
	return op, nil
}

// ResetRetries gives exhausted entries a fresh retry budget and returns them.
func (o *Outbox) ResetRetries(ctx context.Context) ([]*models.OfflineOperation, error) {
	ops, err := o.Exhausted(ctx)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	if _, err := o.q.ExecContext(ctx,
		`UPDATE offline_queue SET retry_count = 0, last_error = '' WHERE retry_count >= max_retries`); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to reset retries", err)
	}
	for _, op := range ops {
		op.RetryCount = 0
		op.LastError = ""
	}
	logging.Info("Reset exhausted operations for retry", map[string]interface{}{"count": len(ops)})
	return ops, nil
}

// Len returns the number of queued entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_queue`).Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count outbox", err)
	}
	return n, nil
}

// Stats summarizes the outbox.
type Stats struct {
	Total     int                          `json:"total"`
	Exhausted int                          `json:"exhausted"`
	ByType    map[models.OperationType]int `json:"byType"`
}

// GetStats returns queue statistics.
func (o *Outbox) GetStats(ctx context.Context) (*Stats, error) {
	rows, err := o.q.QueryContext(ctx, `
	SELECT type, COUNT(*), COALESCE(SUM(CASE WHEN retry_count >= max_retries THEN 1 ELSE 0 END), 0)
	FROM offline_queue GROUP BY type`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query outbox stats", err)
	}
	defer rows.Close()

	stats := &Stats{ByType: make(map[models.OperationType]int)}
	for rows.Next() {
		var typ string
		var count, exhausted int
		if err := rows.Scan(&typ, &count, &exhausted); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan outbox stats", err)
		}
		stats.ByType[models.OperationType(typ)] = count
		stats.Total += count
		stats.Exhausted += exhausted
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate outbox stats", err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOperation(s scanner) (*models.OfflineOperation, error) {
	var (
		op       models.OfflineOperation
		typ      string
		kind     string
		payload  string
		tsMillis int64
	)
	err := s.Scan(&op.Seq, &op.OperationID, &typ, &kind, &op.LocalID, &payload,
		&tsMillis, &op.Version, &op.RetryCount, &op.MaxRetries, &op.LastError)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "operation not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan outbox entry", err)
	}

	op.Type = models.OperationType(typ)
	op.EntityKind = models.EntityKind(kind)
	op.Timestamp = time.UnixMilli(tsMillis)
	op.Payload, err = models.DecodePayload(op.Type, op.EntityKind, []byte(payload))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt outbox payload", err)
	}
	return &op, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
