// internal/checkpoint/fork.go
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/database"
)

// ForkSession starts newSessionID from the state of a checkpoint of
// sessionID. The new session's root holds every file live at that
// checkpoint and shares its blobs; working files are not touched. The new
// session inherits the source session's settings.
func (m *Manager) ForkSession(ctx context.Context, sessionID, checkpointID, newSessionID string) (*CheckpointResult, error) {
	if newSessionID == "" || newSessionID == sessionID {
		return nil, fmt.Errorf("%w: fork target %q", ErrSessionExists, newSessionID)
	}
	src, err := m.lockSession(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.opMu.Unlock()
	dst, err := m.session(newSessionID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	from, ok := src.Tree.FindByID(checkpointID)
	var state fileMap
	if ok {
		state, err = src.Tree.effectiveState(checkpointID)
	}
	existing := dst.Tree.Len()
	record := dst.record()
	record.AutoCheckpointEnabled = src.AutoCheckpointEnabled
	record.CheckpointStrategy = string(src.Strategy)
	strategy := src.Strategy
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, newSessionID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files := make([]FileSnapshot, 0, len(state))
	var size int64
	for _, p := range state.paths() {
		f := state[p]
		files = append(files, FileSnapshot{FilePath: p, ContentHash: f.Hash, Permissions: f.Permissions, Size: f.Size})
		size += f.Size
	}

	cp := Checkpoint{
		ID:           GenerateID(),
		SessionID:    newSessionID,
		ProjectID:    m.projectID,
		MessageIndex: from.MessageIndex,
		Timestamp:    time.Now(),
		Description:  fmt.Sprintf("Forked from checkpoint %s", checkpointID),
		Metadata: CheckpointMetadata{
			TotalTokens:  from.Metadata.TotalTokens,
			ModelUsed:    from.Metadata.ModelUsed,
			UserPrompt:   from.Metadata.UserPrompt,
			FileChanges:  len(files),
			SnapshotSize: size,
		},
	}
	for i := range files {
		files[i].CheckpointID = cp.ID
	}
	record.RootID = cp.ID
	record.CurrentCheckpointID = cp.ID
	record.TotalCheckpoints = 1

	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		if err := tx.UpsertSession(record); err != nil {
			return err
		}
		if err := tx.InsertCheckpoint(checkpointRecord(&cp)); err != nil {
			return err
		}
		for i := range files {
			id, err := tx.InsertSnapshot(snapshotRecord(&files[i]))
			if err != nil {
				return err
			}
			files[i].ID = id
			if err := tx.IncrementBlob(files[i].ContentHash, files[i].Size); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ioError("commit fork", "", err)
	}

	m.mu.Lock()
	err = dst.Tree.Insert(cp, files, "")
	if err == nil {
		err = dst.Tree.SetCurrent(cp.ID)
	}
	if err != nil {
		delete(m.sessions, newSessionID)
	} else {
		dst.AutoCheckpointEnabled = record.AutoCheckpointEnabled
		dst.Strategy = strategy
		dst.Activity.MessageIndex = from.MessageIndex
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("in-memory timeline diverged from database",
			zap.String("session_id", newSessionID), zap.Error(err))
		return nil, err
	}

	m.logger.Info("session forked",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID),
		zap.String("new_session_id", newSessionID),
		zap.String("root_id", cp.ID),
		zap.Int("files", len(files)))

	return &CheckpointResult{Checkpoint: &cp, FilesProcessed: len(files)}, nil
}

// Rewind makes a checkpoint current without touching the working files, so
// only the conversation position moves back. The next capture records the
// working files relative to it.
func (m *Manager) Rewind(ctx context.Context, sessionID, checkpointID string) error {
	sess, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	defer m.opMu.Unlock()

	m.mu.RLock()
	cp, ok := sess.Tree.FindByID(checkpointID)
	record := sess.record()
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}
	record.CurrentCheckpointID = checkpointID

	err = m.db.WithTx(ctx, func(tx *database.Tx) error {
		return tx.UpsertSession(record)
	})
	if err != nil {
		return ioError("persist current checkpoint", "", err)
	}

	m.mu.Lock()
	err = sess.Tree.SetCurrent(checkpointID)
	sess.Activity.MessageIndex = cp.MessageIndex
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("rewound to checkpoint",
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", checkpointID))
	return nil
}
