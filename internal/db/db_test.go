package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// TestOpen verifies database opening with proper configuration.
func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(tmpDir, FileName)); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	var walMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&walMode); err != nil {
		t.Errorf("Failed to check WAL mode: %v", err)
	}
	if walMode != "wal" {
		t.Errorf("WAL mode not enabled, got: %s", walMode)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Errorf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Foreign keys not enabled, got: %d", fkEnabled)
	}
}

// TestOpen_invalidDataDir verifies error when data directory cannot be created.
func TestOpen_invalidDataDir(t *testing.T) {
	if _, err := Open("/dev/null/invalid_path/that/cannot/be/created"); err == nil {
		t.Error("Open() with invalid path should return error")
	}
}

// TestDB_reopen verifies migrated data survives a reopen.
func TestDB_reopen(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("First Open() failed: %v", err)
	}
	if err := Migrate(db1); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if _, err := db1.Exec("INSERT INTO sync_checkpoints (key, value, updated_at) VALUES ('pull:u1', 'x', 1)"); err != nil {
		t.Fatalf("Failed to insert test data: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db2, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Second Open() failed: %v", err)
	}
	defer db2.Close()

	// a second Up on an already migrated file is a no-op
	if err := Migrate(db2); err != nil {
		t.Fatalf("Migrate() on reopen failed: %v", err)
	}

	var value string
	if err := db2.QueryRow("SELECT value FROM sync_checkpoints WHERE key = 'pull:u1'").Scan(&value); err != nil {
		t.Errorf("Failed to query test data: %v", err)
	}
	if value != "x" {
		t.Errorf("Expected 'x', got %q", value)
	}
}

// TestWithTx_rollback verifies a failing callback leaves no writes behind.
func TestWithTx_rollback(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO sync_checkpoints (key, value, updated_at) VALUES ('k', 'v', 1)"); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want %v", err, boom)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sync_checkpoints").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback, found %d rows", n)
	}
}

// TestRecordTable_needsSyncCheck verifies the schema rejects needs_sync disagreeing with sync_status.
func TestRecordTable_needsSyncCheck(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO exercises (local_id, owner_id, data, created_at, updated_at, sync_status, needs_sync)
		VALUES ('l1', 'u1', '{}', 1, 1, 'synced', 1)`)
	if err == nil {
		t.Error("synced row with needs_sync=1 should be rejected")
	}

	_, err = db.Exec(`INSERT INTO exercises (local_id, owner_id, data, created_at, updated_at, sync_status, needs_sync)
		VALUES ('l2', 'u1', '{}', 1, 1, 'failed', 1)`)
	if err != nil {
		t.Errorf("failed row with needs_sync=1 should be accepted: %v", err)
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return db
}
