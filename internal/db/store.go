package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/sync/queue"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
)

// Store is the local record store. Every mutation writes the record and
// enqueues its outbox entry in one transaction.
type Store struct {
	db         *DB
	outbox     *queue.Outbox
	now        func() time.Time
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source for record and outbox timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMaxRetries sets the push attempt budget for new outbox entries.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// NewStore creates a Store over a migrated database.
func NewStore(database *DB, opts ...Option) *Store {
	s := &Store{
		db:         database,
		now:        time.Now,
		maxRetries: models.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.outbox = queue.New(database.DB, queue.WithClock(s.clock), queue.WithMaxRetries(s.maxRetries))
	return s
}

// Outbox returns the store's outbox, bound to the database connection.
func (s *Store) Outbox() *queue.Outbox {
	return s.outbox
}

// clock returns now at the millisecond precision timestamps are stored with.
func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	err := s.db.WithTx(ctx, fn)
	if err != nil && !isAppError(err) {
		return apperrors.Wrap(apperrors.ErrDatabase, "transaction failed", err)
	}
	return err
}

// Create stores a new record of kind owned by ownerID and queues its create.
func (s *Store) Create(ctx context.Context, kind models.EntityKind, ownerID string, fields models.Payload) (string, error) {
	if ownerID == "" {
		return "", apperrors.New(apperrors.ErrValidation, "create requires an owner id")
	}
	if err := models.CheckPayload(models.OperationCreate, kind, fields); err != nil {
		return "", err
	}
	if err := models.ValidateCreate(fields); err != nil {
		return "", err
	}

	rec, err := models.NewRecord(kind)
	if err != nil {
		return "", err
	}
	if err := rec.Apply(fields); err != nil {
		return "", err
	}

	now := s.clock()
	meta := rec.Meta()
	meta.LocalID = uuid.New()
	meta.OwnerID = ownerID
	meta.CreatedAt = now
	meta.MarkPending(now)

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		_, err := s.outbox.With(tx).Enqueue(ctx, models.OperationCreate, kind, meta.LocalID, fields)
		return err
	})
	if err != nil {
		return "", err
	}

	logging.Debug("Created record", map[string]interface{}{
		"entity":   kind,
		"local_id": meta.LocalID,
		"owner_id": ownerID,
	})
	return meta.LocalID, nil
}

// Update applies the set fields of patch to an existing record and queues the change.
func (s *Store) Update(ctx context.Context, kind models.EntityKind, localID string, patch models.Payload) error {
	if err := models.CheckPayload(models.OperationUpdate, kind, patch); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, kind, localID)
		if err != nil {
			return err
		}
		meta := rec.Meta()
		if meta.Deleted {
			return apperrors.Newf(apperrors.ErrValidation, "%s %s is marked for deletion", kind, localID)
		}
		if err := rec.Apply(patch); err != nil {
			return err
		}
		meta.MarkPending(s.clock())

		op, err := s.outbox.With(tx).Enqueue(ctx, models.OperationUpdate, kind, localID, patch)
		if err != nil {
			return err
		}
		if op.Exhausted() {
			meta.SyncStatus = models.SyncStatusFailed
		}
		return writeRecord(ctx, tx, rec)
	})
}

// MarkForDeletion soft-deletes a record and queues its delete. The row is
// removed once the server confirms the delete.
func (s *Store) MarkForDeletion(ctx context.Context, kind models.EntityKind, localID string) error {
	if !kind.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", kind)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, kind, localID)
		if err != nil {
			return err
		}
		meta := rec.Meta()
		meta.Deleted = true
		meta.MarkPending(s.clock())

		tombstone := &models.Tombstone{Entity: kind, LocalID: localID}
		if _, err := s.outbox.With(tx).Enqueue(ctx, models.OperationDelete, kind, localID, tombstone); err != nil {
			return err
		}
		return writeRecord(ctx, tx, rec)
	})
}

// Get returns a record by local id, including one marked for deletion.
func (s *Store) Get(ctx context.Context, kind models.EntityKind, localID string) (models.Record, error) {
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", kind)
	}
	return getRecord(ctx, s.db, kind, localID)
}

// List returns the live records of kind owned by ownerID, oldest first.
func (s *Store) List(ctx context.Context, kind models.EntityKind, ownerID string) ([]models.Record, error) {
	if !kind.Valid() {
		return nil, apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", kind)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = ? AND is_deleted = 0 ORDER BY created_at, local_id`,
		recordColumns, kind.Table())
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	defer rows.Close()

	var records []models.Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate records", err)
	}
	return records, nil
}

// ServerID returns the server id of a record, or "" while it has none.
func (s *Store) ServerID(ctx context.Context, kind models.EntityKind, localID string) (string, error) {
	if !kind.Valid() {
		return "", apperrors.Newf(apperrors.ErrValidation, "unknown entity kind %q", kind)
	}
	var serverID sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT server_id FROM %s WHERE local_id = ?`, kind.Table()), localID).Scan(&serverID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "failed to read server id", err)
	}
	return serverID.String, nil
}

const recordColumns = `local_id, server_id, owner_id, data, created_at, updated_at, server_updated_at, sync_status, needs_sync, is_deleted`

type scanner interface {
	Scan(dest ...interface{}) error
}

func getRecord(ctx context.Context, q queue.Querier, kind models.EntityKind, localID string) (models.Record, error) {
	row := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE local_id = ?`, recordColumns, kind.Table()), localID)
	rec, err := scanRecord(kind, row)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", kind, localID)
	}
	return rec, err
}

func scanRecord(kind models.EntityKind, s scanner) (models.Record, error) {
	var (
		localID         string
		serverID        sql.NullString
		ownerID         string
		data            string
		createdAt       int64
		updatedAt       int64
		serverUpdatedAt sql.NullInt64
		status          string
		needsSync       bool
		deleted         bool
	)
	err := s.Scan(&localID, &serverID, &ownerID, &data, &createdAt, &updatedAt,
		&serverUpdatedAt, &status, &needsSync, &deleted)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "record not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
	}

	rec, err := models.NewRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("corrupt %s data for %s", kind, localID), err)
	}

	meta := rec.Meta()
	meta.LocalID = localID
	meta.ServerID = serverID.String
	meta.OwnerID = ownerID
	meta.CreatedAt = fromMillis(createdAt)
	meta.UpdatedAt = fromMillis(updatedAt)
	if serverUpdatedAt.Valid {
		t := fromMillis(serverUpdatedAt.Int64)
		meta.ServerUpdatedAt = &t
	}
	meta.SyncStatus = models.SyncStatus(status)
	meta.NeedsSync = needsSync
	meta.Deleted = deleted
	return rec, nil
}

func insertRecord(ctx context.Context, q queue.Querier, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Kind(), err)
	}
	m := rec.Meta()
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, rec.Kind().Table(), recordColumns)
	_, err = q.ExecContext(ctx, query,
		m.LocalID, nullString(m.ServerID), m.OwnerID, string(data),
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt), nullMillis(m.ServerUpdatedAt),
		string(m.SyncStatus), m.NeedsSync, m.Deleted)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to insert %s", rec.Kind()), err)
	}
	return nil
}

// writeRecord stores the domain fields and local bookkeeping of an existing record.
// server_id and server_updated_at are owned by the sync methods.
func writeRecord(ctx context.Context, q queue.Querier, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rec.Kind(), err)
	}
	m := rec.Meta()
	query := fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = ?, sync_status = ?, needs_sync = ?, is_deleted = ? WHERE local_id = ?`,
		rec.Kind().Table())
	res, err := q.ExecContext(ctx, query,
		string(data), toMillis(m.UpdatedAt), string(m.SyncStatus), m.NeedsSync, m.Deleted, m.LocalID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, fmt.Sprintf("failed to update %s", rec.Kind()), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "%s %s not found", rec.Kind(), m.LocalID)
	}
	return nil
}

func isAppError(err error) bool {
	var appErr *apperrors.AppError
	return errors.As(err, &appErr)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
