// internal/database/db_test.go
package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_Open(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// Verify file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestDatabase_Settings(t *testing.T) {
	db := openTestDB(t)

	err := db.SaveSetting("project_root", "/home/user/project")
	if err != nil {
		t.Fatalf("SaveSetting failed: %v", err)
	}

	value, err := db.GetSetting("project_root")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}

	if value != "/home/user/project" {
		t.Errorf("Expected '/home/user/project', got '%s'", value)
	}
}

func TestDatabase_CheckpointRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertSession(&SessionRecord{
			ID:                  "session-1",
			ProjectID:           "project-1",
			RootID:              "cp-1",
			CurrentCheckpointID: "cp-1",
			CheckpointStrategy:  "smart",
			TotalCheckpoints:    1,
		}); err != nil {
			return err
		}
		if err := tx.InsertCheckpoint(&CheckpointRecord{
			ID:          "cp-1",
			SessionID:   "session-1",
			ProjectID:   "project-1",
			Timestamp:   now,
			Description: "root",
			FileChanges: 1,
		}); err != nil {
			return err
		}
		if _, err := tx.InsertSnapshot(&SnapshotRecord{
			CheckpointID: "cp-1",
			FilePath:     "main.go",
			ContentHash:  "abc",
			Permissions:  0644,
			Size:         3,
		}); err != nil {
			return err
		}
		return tx.IncrementBlob("abc", 3)
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	sessions, err := db.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].CurrentCheckpointID != "cp-1" {
		t.Fatalf("Unexpected sessions: %+v", sessions)
	}
	if sessions[0].CheckpointStrategy != "smart" {
		t.Errorf("Expected strategy 'smart', got '%s'", sessions[0].CheckpointStrategy)
	}

	checkpoints, err := db.ListCheckpoints("session-1")
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Fatalf("Expected 1 checkpoint, got %d", len(checkpoints))
	}
	if !checkpoints[0].Timestamp.Equal(time.Unix(0, now.UnixNano())) {
		t.Errorf("Timestamp not preserved: %v vs %v", checkpoints[0].Timestamp, now)
	}
	if checkpoints[0].ParentID != "" {
		t.Errorf("Expected empty parent, got '%s'", checkpoints[0].ParentID)
	}

	snapshots, err := db.ListSnapshots("session-1")
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].Permissions != 0644 {
		t.Fatalf("Unexpected snapshots: %+v", snapshots)
	}

	blob, err := db.GetBlob("abc")
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if blob.RefCount != 1 {
		t.Errorf("Expected refcount 1, got %d", blob.RefCount)
	}
}

func TestDatabase_WithTxRollback(t *testing.T) {
	db := openTestDB(t)
	boom := errors.New("boom")

	err := db.WithTx(context.Background(), func(tx *Tx) error {
		if err := tx.IncrementBlob("deadbeef", 10); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := db.GetBlob("deadbeef"); !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected blob row to be rolled back, got %v", err)
	}
}

func TestDatabase_BlobRefCounting(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.IncrementBlob("h1", 5); err != nil {
			return err
		}
		return tx.IncrementBlob("h1", 5)
	})
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	var released []bool
	for i := 0; i < 2; i++ {
		err := db.WithTx(ctx, func(tx *Tx) error {
			gone, err := tx.DecrementBlob("h1")
			released = append(released, gone)
			return err
		})
		if err != nil {
			t.Fatalf("decrement %d failed: %v", i, err)
		}
	}

	if released[0] || !released[1] {
		t.Errorf("Expected release only on last decrement, got %v", released)
	}

	blobs, err := db.ListBlobs()
	if err != nil {
		t.Fatalf("ListBlobs failed: %v", err)
	}
	if len(blobs) != 0 {
		t.Errorf("Expected no blob rows, got %d", len(blobs))
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.DecrementBlob("h1")
		return err
	})
	if err == nil {
		t.Error("Expected error decrementing unknown blob")
	}
}

func TestDatabase_GetSession(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.GetSession("missing"); !errors.Is(err, ErrNoRows) {
		t.Fatalf("Expected ErrNoRows, got %v", err)
	}

	save := func(rec *SessionRecord) {
		t.Helper()
		if err := db.WithTx(ctx, func(tx *Tx) error { return tx.UpsertSession(rec) }); err != nil {
			t.Fatalf("UpsertSession failed: %v", err)
		}
	}
	save(&SessionRecord{ID: "s", ProjectID: "p", CheckpointStrategy: "manual"})

	// A checkpoint referencing the session must survive the update
	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertCheckpoint(&CheckpointRecord{ID: "cp", SessionID: "s", ProjectID: "p", Timestamp: time.Now()})
	})
	if err != nil {
		t.Fatalf("InsertCheckpoint failed: %v", err)
	}
	save(&SessionRecord{
		ID:                    "s",
		ProjectID:             "p",
		RootID:                "cp",
		CurrentCheckpointID:   "cp",
		AutoCheckpointEnabled: true,
		CheckpointStrategy:    "per_prompt",
		TotalCheckpoints:      1,
	})

	got, err := db.GetSession("s")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.CurrentCheckpointID != "cp" || !got.AutoCheckpointEnabled || got.CheckpointStrategy != "per_prompt" || got.TotalCheckpoints != 1 {
		t.Errorf("Unexpected session: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	checkpoints, _ := db.ListCheckpoints("s")
	if len(checkpoints) != 1 {
		t.Errorf("Expected checkpoint to survive session update, got %d", len(checkpoints))
	}
}

func TestDatabase_DeleteCheckpoint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertSession(&SessionRecord{ID: "s", ProjectID: "p", CheckpointStrategy: "manual"}); err != nil {
			return err
		}
		if err := tx.InsertCheckpoint(&CheckpointRecord{ID: "cp", SessionID: "s", ProjectID: "p", Timestamp: time.Now()}); err != nil {
			return err
		}
		_, err := tx.InsertSnapshot(&SnapshotRecord{CheckpointID: "cp", FilePath: "a", ContentHash: "h", Size: 1})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		snaps, err := tx.SnapshotsFor("cp")
		if err != nil {
			return err
		}
		if len(snaps) != 1 {
			t.Errorf("Expected 1 snapshot, got %d", len(snaps))
		}
		return tx.DeleteCheckpoint("cp")
	})
	if err != nil {
		t.Fatal(err)
	}

	snapshots, _ := db.ListSnapshots("s")
	refs, _ := db.CountSnapshotRefs()
	if len(snapshots) != 0 || len(refs) != 0 {
		t.Errorf("Snapshots not removed with checkpoint: %v %v", snapshots, refs)
	}

	err = db.WithTx(ctx, func(tx *Tx) error { return tx.UpdateDescription("cp", "x") })
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows updating a deleted checkpoint, got %v", err)
	}
}
