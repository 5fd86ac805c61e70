package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
	"github.com/kimhsiao/fitsync/backend/internal/models"
	"github.com/kimhsiao/fitsync/backend/internal/uuid"
)

// PushAck is what the server reported for a successful push.
type PushAck struct {
	ServerID  string
	UpdatedAt *time.Time
}

// CompletePush records a successful push of op. The outbox entry is removed
// only if it was not coalesced while the request was in flight; otherwise the
// record stays pending and the entry is pushed again on a later pass.
// It reports whether the entry was removed.
func (s *Store) CompletePush(ctx context.Context, op *models.OfflineOperation, ack PushAck) (bool, error) {
	var removed bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		outbox := s.outbox.With(tx)
		var err error
		removed, err = outbox.RemoveIfUnchanged(ctx, op)
		if err != nil {
			return err
		}

		table := op.EntityKind.Table()
		switch op.Type {
		case models.OperationCreate:
			// server_id is assigned at most once
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET server_id = COALESCE(server_id, ?), server_updated_at = COALESCE(?, server_updated_at) WHERE local_id = ?`, table),
				nullString(ack.ServerID), nullMillis(ack.UpdatedAt), op.LocalID); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to store server id", err)
			}
			if !removed {
				// The server has the record now; newer local fields go out as an update.
				return outbox.PromoteToUpdate(ctx, op.EntityKind, op.LocalID)
			}
			return markSynced(ctx, tx, op.EntityKind, op.LocalID, nil)

		case models.OperationUpdate:
			if !removed {
				return nil
			}
			return markSynced(ctx, tx, op.EntityKind, op.LocalID, ack.UpdatedAt)

		case models.OperationDelete:
			if !removed {
				return nil
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, table), op.LocalID)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove deleted record", err)
			}
		}
		return nil
	})
	return removed, err
}

// FailPush records a failed push attempt. Once op exhausts its retries its
// record is marked failed; neither the entry nor the record is dropped.
func (s *Store) FailPush(ctx context.Context, op *models.OfflineOperation, cause error) (*models.OfflineOperation, error) {
	var updated *models.OfflineOperation
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		updated, err = s.outbox.With(tx).IncrementRetry(ctx, op.OperationID, cause)
		if err != nil {
			return err
		}
		if updated.Exhausted() {
			return markFailed(ctx, tx, op.EntityKind, op.LocalID)
		}
		return nil
	})
	return updated, err
}

// MarkFailed flags a record whose outbox entry exhausted its retries.
func (s *Store) MarkFailed(ctx context.Context, kind models.EntityKind, localID string) error {
	return markFailed(ctx, s.db, kind, localID)
}

// MarkRemoteNewer overwrites sync bookkeeping only. Domain fields are untouched.
func (s *Store) MarkRemoteNewer(ctx context.Context, kind models.EntityKind, localID string, remoteUpdatedAt time.Time) error {
	return markSynced(ctx, s.db, kind, localID, &remoteUpdatedAt)
}

// ApplyRemoteDeletion removes a record the server reported deleted, along
// with any outbox entry for it.
func (s *Store) ApplyRemoteDeletion(ctx context.Context, kind models.EntityKind, localID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE local_id = ?`, kind.Table()), localID); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove record", err)
		}
		n, err := s.outbox.With(tx).RemoveFor(ctx, kind, localID)
		if err != nil {
			return err
		}
		logging.Debug("Applied remote deletion", map[string]interface{}{
			"entity":          kind,
			"local_id":        localID,
			"dropped_entries": n,
		})
		return nil
	})
}

// ResetFailed gives exhausted outbox entries a fresh retry budget and returns
// their records to pending. It returns the number of entries reset.
func (s *Store) ResetFailed(ctx context.Context) (int, error) {
	var count int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ops, err := s.outbox.With(tx).ResetRetries(ctx)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET sync_status = ? WHERE local_id = ? AND sync_status = ?`, op.EntityKind.Table()),
				string(models.SyncStatusPending), op.LocalID, string(models.SyncStatusFailed)); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to reset record status", err)
			}
		}
		count = len(ops)
		return nil
	})
	return count, err
}

// Checkpoint returns the checkpoint stored under key, or nil if none exists.
func (s *Store) Checkpoint(ctx context.Context, key string) (*models.SyncCheckpoint, error) {
	var (
		cp        models.SyncCheckpoint
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM sync_checkpoints WHERE key = ?`, key).Scan(&cp.Key, &cp.Value, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to read checkpoint", err)
	}
	cp.UpdatedAt = fromMillis(updatedAt)
	return &cp, nil
}

// SetCheckpoint stores value under key.
func (s *Store) SetCheckpoint(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO sync_checkpoints (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, toMillis(s.clock()))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write checkpoint", err)
	}
	return nil
}

// RecordConflict appends an entry to the conflict log.
func (s *Store) RecordConflict(ctx context.Context, entry *models.ConflictLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if entry.DetectedAt.IsZero() {
		entry.DetectedAt = s.clock()
	}
	var snapshot sql.NullString
	if len(entry.RemoteSnapshot) > 0 {
		snapshot = sql.NullString{String: string(entry.RemoteSnapshot), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO conflict_log (id, entity_kind, local_id, local_timestamp, remote_timestamp, resolution, remote_snapshot, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.EntityKind), entry.LocalID,
		toMillis(entry.LocalTimestamp), toMillis(entry.RemoteTimestamp),
		entry.Resolution, snapshot, toMillis(entry.DetectedAt))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record conflict", err)
	}
	return nil
}

// ListConflicts returns the most recent conflict log entries, newest first.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, entity_kind, local_id, local_timestamp, remote_timestamp, resolution, remote_snapshot, detected_at
	FROM conflict_log ORDER BY detected_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflicts", err)
	}
	defer rows.Close()

	var entries []*models.ConflictLog
	for rows.Next() {
		var (
			e                      models.ConflictLog
			kind                   string
			localTS, remoteTS, det int64
			snapshot               sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &e.LocalID, &localTS, &remoteTS, &e.Resolution, &snapshot, &det); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict", err)
		}
		e.EntityKind = models.EntityKind(kind)
		e.LocalTimestamp = fromMillis(localTS)
		e.RemoteTimestamp = fromMillis(remoteTS)
		e.DetectedAt = fromMillis(det)
		if snapshot.Valid {
			e.RemoteSnapshot = []byte(snapshot.String)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate conflicts", err)
	}
	return entries, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// markSynced clears the pending flags and, when serverUpdatedAt is set, records it.
// A record that no longer exists is ignored.
func markSynced(ctx context.Context, q execer, kind models.EntityKind, localID string, serverUpdatedAt *time.Time) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET sync_status = ?, needs_sync = 0, server_updated_at = COALESCE(?, server_updated_at) WHERE local_id = ?`,
		kind.Table()),
		string(models.SyncStatusSynced), nullMillis(serverUpdatedAt), localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record synced", err)
	}
	return nil
}

func markFailed(ctx context.Context, q execer, kind models.EntityKind, localID string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET sync_status = ?, needs_sync = 1 WHERE local_id = ?`, kind.Table()),
		string(models.SyncStatusFailed), localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark record failed", err)
	}
	return nil
}
