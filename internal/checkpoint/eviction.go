// internal/checkpoint/eviction.go
package checkpoint

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/database"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
)

// Protected returns the ids cleanup must keep: the root-to-current path, the
// keepCount most recent checkpoints, and every ancestor of those.
func (t *Tree) Protected(keepCount int) map[string]bool {
	protected := make(map[string]bool)
	if t.root == nil {
		return protected
	}

	mark := func(n *treeNode) {
		for ; n != nil && !protected[n.checkpoint.ID]; n = n.parent {
			protected[n.checkpoint.ID] = true
		}
	}
	mark(t.root)
	if n, ok := t.nodes[t.current]; ok {
		mark(n)
	}

	if keepCount > 0 {
		all := t.All()
		if keepCount > len(all) {
			keepCount = len(all)
		}
		for _, cp := range all[len(all)-keepCount:] {
			mark(t.nodes[cp.ID])
		}
	}
	return protected
}

// EvictionCandidates lists the unprotected checkpoints oldest first. The
// protected set is closed under ancestors, so the result is closed under
// descendants and can be removed as a whole.
func (t *Tree) EvictionCandidates(keepCount int) []Checkpoint {
	protected := t.Protected(keepCount)
	var out []Checkpoint
	for _, cp := range t.All() {
		if !protected[cp.ID] {
			out = append(out, cp)
		}
	}
	return out
}

func (t *Tree) depth(id string) int {
	d := 0
	for n := t.nodes[id]; n != nil && n.parent != nil; n = n.parent {
		d++
	}
	return d
}

// cleanup removes every unprotected checkpoint of the session, releases the
// blobs they referenced and sweeps orphaned blob files. The caller holds
// opMu.
func (m *Manager) cleanup(ctx context.Context, sess *SessionState, keepCount int) (int, error) {
	start := time.Now()
	if keepCount < 0 {
		keepCount = 0
	}

	m.mu.RLock()
	victims := sess.Tree.EvictionCandidates(keepCount)
	snapshots := make(map[string][]FileSnapshot, len(victims))
	for _, cp := range victims {
		snaps, err := sess.Tree.Snapshots(cp.ID)
		if err != nil {
			m.mu.RUnlock()
			return 0, err
		}
		snapshots[cp.ID] = snaps
	}
	record := sess.record()
	m.mu.RUnlock()

	var released []string
	if len(victims) > 0 {
		record.TotalCheckpoints -= len(victims)
		err := m.db.WithTx(context.WithoutCancel(ctx), func(tx *database.Tx) error {
			released = released[:0]
			for _, cp := range victims {
				for _, s := range snapshots[cp.ID] {
					if s.IsDeleted {
						continue
					}
					gone, err := tx.DecrementBlob(s.ContentHash)
					if err != nil {
						return err
					}
					if gone {
						released = append(released, s.ContentHash)
					}
				}
				if err := tx.DeleteCheckpoint(cp.ID); err != nil {
					return err
				}
			}
			return tx.UpsertSession(record)
		})
		if err != nil {
			return 0, ioError("commit cleanup", "", err)
		}

		// Children before parents keeps every intermediate tree connected.
		order := make([]string, len(victims))
		for i, cp := range victims {
			order[i] = cp.ID
		}

		m.mu.Lock()
		sort.SliceStable(order, func(i, j int) bool {
			return sess.Tree.depth(order[i]) > sess.Tree.depth(order[j])
		})
		var treeErr error
		for _, id := range order {
			if err := sess.Tree.Remove(id); err != nil && treeErr == nil {
				treeErr = err
			}
		}
		if treeErr != nil {
			delete(m.sessions, sess.SessionID)
		}
		for _, h := range released {
			if err := m.store.Remove(h); err != nil {
				m.logger.Warn("failed to remove released blob", zap.String("hash", h), zap.Error(err))
			}
		}
		m.mu.Unlock()

		if treeErr != nil {
			m.logger.Error("in-memory timeline diverged from database",
				zap.String("session_id", sess.SessionID), zap.Error(treeErr))
			return 0, treeErr
		}
	}

	swept, err := m.sweepOrphans()
	if err != nil {
		m.logger.Warn("orphan sweep failed", zap.Error(err))
	}

	metrics.RecordEviction(len(victims), len(released)+swept)
	m.logger.Info("cleanup finished",
		zap.String("session_id", sess.SessionID),
		zap.Int("keep_count", keepCount),
		zap.Int("removed", len(victims)),
		zap.Int("blobs_released", len(released)),
		zap.Int("orphans_swept", swept),
		zap.Duration("duration", time.Since(start)))

	return len(victims), nil
}

// sweepOrphans deletes blob files with no refcount row. They are left
// behind when the process dies between staging and commit.
func (m *Manager) sweepOrphans() (int, error) {
	blobs, err := m.db.ListBlobs()
	if err != nil {
		return 0, ioError("list blobs", "", err)
	}
	live := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		live[b.Hash] = true
	}
	n, err := m.store.Sweep(live)
	metrics.RecordSweep(n)
	return n, err
}
