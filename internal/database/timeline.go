// internal/database/timeline.go
package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Tx is a transaction scoped to the checkpoint tables
type Tx struct {
	tx *sql.Tx
}

// UpsertSession inserts a session row or updates its pointer and settings
func (t *Tx) UpsertSession(s *SessionRecord) error {
	s.UpdatedAt = time.Now()
	_, err := t.tx.Exec(`
		INSERT INTO sessions
		(id, project_id, root_id, current_checkpoint_id, auto_checkpoint_enabled, checkpoint_strategy, total_checkpoints, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			root_id = excluded.root_id,
			current_checkpoint_id = excluded.current_checkpoint_id,
			auto_checkpoint_enabled = excluded.auto_checkpoint_enabled,
			checkpoint_strategy = excluded.checkpoint_strategy,
			total_checkpoints = excluded.total_checkpoints,
			updated_at_ns = excluded.updated_at_ns`,
		s.ID, s.ProjectID, nullableString(s.RootID), nullableString(s.CurrentCheckpointID),
		boolToInt(s.AutoCheckpointEnabled), s.CheckpointStrategy, s.TotalCheckpoints, s.UpdatedAt.UnixNano())
	return err
}

// InsertCheckpoint inserts a checkpoint row
func (t *Tx) InsertCheckpoint(c *CheckpointRecord) error {
	_, err := t.tx.Exec(`
		INSERT INTO checkpoints
		(id, session_id, project_id, parent_id, message_index, timestamp_ns, description,
		 total_tokens, model_used, user_prompt, file_changes, snapshot_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.ProjectID, nullableString(c.ParentID), c.MessageIndex, c.Timestamp.UnixNano(),
		c.Description, c.TotalTokens, c.ModelUsed, c.UserPrompt, c.FileChanges, c.SnapshotSize)
	return err
}

// UpdateDescription changes the only mutable checkpoint column
func (t *Tx) UpdateDescription(checkpointID, description string) error {
	res, err := t.tx.Exec(`UPDATE checkpoints SET description = ? WHERE id = ?`, description, checkpointID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

// DeleteCheckpoint removes a checkpoint and, by cascade, its snapshots
func (t *Tx) DeleteCheckpoint(checkpointID string) error {
	if _, err := t.tx.Exec(`DELETE FROM file_snapshots WHERE checkpoint_id = ?`, checkpointID); err != nil {
		return err
	}
	_, err := t.tx.Exec(`DELETE FROM checkpoints WHERE id = ?`, checkpointID)
	return err
}

// InsertSnapshot inserts a file snapshot row and returns its id
func (t *Tx) InsertSnapshot(s *SnapshotRecord) (int64, error) {
	res, err := t.tx.Exec(`
		INSERT INTO file_snapshots (checkpoint_id, file_path, content_hash, is_deleted, permissions, size)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.CheckpointID, s.FilePath, nullableString(s.ContentHash), boolToInt(s.IsDeleted), s.Permissions, s.Size)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// SnapshotsFor returns the snapshots introduced by one checkpoint
func (t *Tx) SnapshotsFor(checkpointID string) ([]*SnapshotRecord, error) {
	rows, err := t.tx.Query(`
		SELECT id, checkpoint_id, file_path, COALESCE(content_hash, ''), is_deleted, permissions, size
		FROM file_snapshots WHERE checkpoint_id = ? ORDER BY id`, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// IncrementBlob adds one reference to a blob, creating the row on first use
func (t *Tx) IncrementBlob(hash string, size int64) error {
	_, err := t.tx.Exec(`
		INSERT INTO blobs (hash, ref_count, size) VALUES (?, 1, ?)
		ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1`, hash, size)
	return err
}

// DecrementBlob drops one reference to a blob. It reports true when the
// last reference was released and the row was deleted.
func (t *Tx) DecrementBlob(hash string) (bool, error) {
	res, err := t.tx.Exec(`UPDATE blobs SET ref_count = ref_count - 1 WHERE hash = ? AND ref_count > 1`, hash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	res, err = t.tx.Exec(`DELETE FROM blobs WHERE hash = ?`, hash)
	if err != nil {
		return false, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("blob %s has no reference row", hash)
	}
	return true, nil
}

const sessionColumns = `id, project_id, COALESCE(root_id, ''), COALESCE(current_checkpoint_id, ''),
	auto_checkpoint_enabled, checkpoint_strategy, total_checkpoints, updated_at_ns`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	s := &SessionRecord{}
	var auto int
	var updatedAt int64
	if err := row.Scan(&s.ID, &s.ProjectID, &s.RootID, &s.CurrentCheckpointID,
		&auto, &s.CheckpointStrategy, &s.TotalCheckpoints, &updatedAt); err != nil {
		return nil, err
	}
	s.AutoCheckpointEnabled = auto != 0
	s.UpdatedAt = time.Unix(0, updatedAt)
	return s, nil
}

// GetSession returns one session row, ErrNoRows if it was never saved
func (d *Database) GetSession(id string) (*SessionRecord, error) {
	return scanSession(d.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
}

// ListSessions returns every session row of the project
func (d *Database) ListSessions() ([]*SessionRecord, error) {
	rows, err := d.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListCheckpoints returns all checkpoints of a session ordered by creation time
func (d *Database) ListCheckpoints(sessionID string) ([]*CheckpointRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, project_id, COALESCE(parent_id, ''), message_index, timestamp_ns,
		       COALESCE(description, ''), total_tokens, COALESCE(model_used, ''), COALESCE(user_prompt, ''),
		       file_changes, snapshot_size
		FROM checkpoints WHERE session_id = ? ORDER BY timestamp_ns, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkpoints []*CheckpointRecord
	for rows.Next() {
		c := &CheckpointRecord{}
		var ts int64
		if err := rows.Scan(&c.ID, &c.SessionID, &c.ProjectID, &c.ParentID, &c.MessageIndex, &ts,
			&c.Description, &c.TotalTokens, &c.ModelUsed, &c.UserPrompt, &c.FileChanges, &c.SnapshotSize); err != nil {
			return nil, err
		}
		c.Timestamp = time.Unix(0, ts)
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, rows.Err()
}

// ListSnapshots returns every snapshot introduced by the session's checkpoints
func (d *Database) ListSnapshots(sessionID string) ([]*SnapshotRecord, error) {
	rows, err := d.db.Query(`
		SELECT s.id, s.checkpoint_id, s.file_path, COALESCE(s.content_hash, ''), s.is_deleted, s.permissions, s.size
		FROM file_snapshots s JOIN checkpoints c ON c.id = s.checkpoint_id
		WHERE c.session_id = ? ORDER BY s.id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// GetBlob returns the reference row of a blob
func (d *Database) GetBlob(hash string) (*BlobRecord, error) {
	b := &BlobRecord{}
	err := d.db.QueryRow(`SELECT hash, ref_count, size FROM blobs WHERE hash = ?`, hash).
		Scan(&b.Hash, &b.RefCount, &b.Size)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBlobs returns every blob reference row
func (d *Database) ListBlobs() ([]*BlobRecord, error) {
	rows, err := d.db.Query(`SELECT hash, ref_count, size FROM blobs ORDER BY hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blobs []*BlobRecord
	for rows.Next() {
		b := &BlobRecord{}
		if err := rows.Scan(&b.Hash, &b.RefCount, &b.Size); err != nil {
			return nil, err
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}

// CountSnapshotRefs counts non-deleted snapshots referencing each hash.
// Used by integrity checks to compare against the blobs table.
func (d *Database) CountSnapshotRefs() (map[string]int, error) {
	rows, err := d.db.Query(`
		SELECT content_hash, COUNT(*) FROM file_snapshots
		WHERE is_deleted = 0 AND content_hash IS NOT NULL GROUP BY content_hash`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refs := make(map[string]int)
	for rows.Next() {
		var hash string
		var n int
		if err := rows.Scan(&hash, &n); err != nil {
			return nil, err
		}
		refs[hash] = n
	}
	return refs, rows.Err()
}

func scanSnapshots(rows *sql.Rows) ([]*SnapshotRecord, error) {
	var snapshots []*SnapshotRecord
	for rows.Next() {
		s := &SnapshotRecord{}
		var deleted int
		var perms int64
		if err := rows.Scan(&s.ID, &s.CheckpointID, &s.FilePath, &s.ContentHash, &deleted, &perms, &s.Size); err != nil {
			return nil, err
		}
		s.IsDeleted = deleted != 0
		s.Permissions = uint32(perms)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
