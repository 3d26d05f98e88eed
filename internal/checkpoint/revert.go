// internal/checkpoint/revert.go
package checkpoint

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/database"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
)

type revertOpKind int

const (
	opWrite revertOpKind = iota
	opDelete
)

// revertOp is one file operation plus what is needed to undo it
type revertOp struct {
	kind revertOpKind
	rel  string
	abs  string
	data []byte
	perm fs.FileMode

	existed    bool
	backup     []byte
	backupPerm fs.FileMode
}

// revert restores the working files to the target checkpoint and moves the
// current pointer there. The caller holds opMu.
func (m *Manager) revert(ctx context.Context, sess *SessionState, targetID string) error {
	start := time.Now()

	m.mu.RLock()
	tree := sess.Tree
	if _, ok := tree.FindByID(targetID); !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNotFound, targetID)
	}
	target, err := tree.effectiveState(targetID)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	current := make(fileMap)
	if cur := tree.Current(); cur != "" {
		current, err = tree.effectiveState(cur)
		if err != nil {
			m.mu.RUnlock()
			return err
		}
	}
	ops, err := m.planRevert(targetID, target, current)
	m.mu.RUnlock()
	if err != nil {
		metrics.RecordRevert("error")
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if applied, failedAt, applyErr := m.applyRevert(ops); applyErr != nil {
		inconsistent := m.undoRevert(ops[:applied])
		metrics.RecordRevert("rolled_back")
		rerr := newRevertError(targetID, []string{ops[failedAt].rel}, inconsistent, applyErr)
		m.logRevertFailure(sess.SessionID, rerr)
		return rerr
	}

	m.mu.RLock()
	record := sess.record()
	m.mu.RUnlock()
	record.CurrentCheckpointID = targetID

	err = m.db.WithTx(context.WithoutCancel(ctx), func(tx *database.Tx) error {
		return tx.UpsertSession(record)
	})
	if err != nil {
		inconsistent := m.undoRevert(ops)
		metrics.RecordRevert("rolled_back")
		rerr := newRevertError(targetID, nil, inconsistent, ioError("persist current checkpoint", "", err))
		m.logRevertFailure(sess.SessionID, rerr)
		return rerr
	}

	m.mu.Lock()
	err = tree.SetCurrent(targetID)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	metrics.RecordRevert("ok")
	m.logger.Info("reverted to checkpoint",
		zap.String("session_id", sess.SessionID),
		zap.String("checkpoint_id", targetID),
		zap.Int("file_operations", len(ops)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// planRevert computes the file operations turning the working tree into
// target. Every blob and every backup is loaded before anything is changed,
// so a failure here leaves the disk untouched.
func (m *Manager) planRevert(targetID string, target, current fileMap) ([]revertOp, error) {
	paths := target.clone()
	for p, f := range current {
		if _, ok := paths[p]; !ok {
			paths[p] = f
		}
	}

	var ops []revertOp
	for _, rel := range paths.paths() {
		abs := filepath.Join(m.projectRoot, filepath.FromSlash(rel))

		op := revertOp{rel: rel, abs: abs}
		onDisk, err := m.worktree.ReadFile(abs)
		switch {
		case err == nil:
			op.existed = true
			op.backup = onDisk
			if info, err := m.worktree.Stat(abs); err == nil {
				op.backupPerm = info.Mode().Perm()
			}
		case os.IsNotExist(err):
		default:
			return nil, newRevertError(targetID, []string{rel}, nil, ioError("read", rel, err))
		}

		want, inTarget := target[rel]
		if !inTarget {
			if !op.existed {
				continue
			}
			op.kind = opDelete
			ops = append(ops, op)
			continue
		}

		perm := fs.FileMode(want.Permissions).Perm()
		if op.existed && CalculateHash(onDisk) == want.Hash && (perm == 0 || op.backupPerm == perm) {
			continue
		}
		data, err := m.store.Get(want.Hash)
		if err != nil {
			return nil, newRevertError(targetID, []string{rel}, nil, err)
		}
		op.kind = opWrite
		op.data = data
		op.perm = perm
		ops = append(ops, op)
	}
	return ops, nil
}

// applyRevert runs ops in order. On failure it returns how many operations
// completed and the index of the failing one.
func (m *Manager) applyRevert(ops []revertOp) (int, int, error) {
	for i, op := range ops {
		var err error
		switch op.kind {
		case opWrite:
			err = m.worktree.WriteFileAtomic(op.abs, op.data, op.perm)
		case opDelete:
			err = m.worktree.Remove(op.abs)
		}
		if err != nil {
			return i, i, ioError("restore", op.rel, err)
		}
	}
	return len(ops), -1, nil
}

// undoRevert reverses applied operations newest first and returns the paths
// it could not put back
func (m *Manager) undoRevert(applied []revertOp) []string {
	var inconsistent []string
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		var err error
		if op.existed {
			err = m.worktree.WriteFileAtomic(op.abs, op.backup, op.backupPerm)
		} else {
			err = m.worktree.Remove(op.abs)
		}
		if err != nil {
			m.logger.Error("failed to undo revert operation", zap.String("path", op.rel), zap.Error(err))
			inconsistent = append(inconsistent, op.rel)
		}
	}
	return inconsistent
}

func (m *Manager) logRevertFailure(sessionID string, err *RevertError) {
	fields := []zap.Field{
		zap.String("session_id", sessionID),
		zap.String("checkpoint_id", err.TargetID),
		zap.Strings("failed", err.Failed),
		zap.Error(err.Err),
	}
	if err.Fatal() {
		m.logger.Error("revert left working tree inconsistent", append(fields, zap.Strings("inconsistent", err.Inconsistent))...)
		return
	}
	m.logger.Warn("revert rolled back", fields...)
}
