// internal/checkpoint/capture.go
package checkpoint

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/database"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
)

// CaptureOptions carries the caller-supplied parts of a new checkpoint
type CaptureOptions struct {
	Description  string `json:"description,omitempty"`
	MessageIndex int    `json:"message_index,omitempty"`
	TotalTokens  int64  `json:"total_tokens,omitempty"`
	ModelUsed    string `json:"model_used,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`
}

type scannedFile struct {
	rel  string
	abs  string
	info fs.FileInfo
}

type hashedFile struct {
	rel     string
	hash    string
	perm    uint32
	size    int64
	data    []byte
	skipped bool
}

// capture records the working tree as a new child of the session's current
// checkpoint. The caller holds opMu.
func (m *Manager) capture(ctx context.Context, sess *SessionState, opts CaptureOptions) (*CheckpointResult, error) {
	start := time.Now()

	m.mu.RLock()
	parentID := sess.Tree.Current()
	activityIndex := sess.Activity.MessageIndex
	var base fileMap
	var parentTime time.Time
	var err error
	if parentID != "" {
		base, err = sess.Tree.effectiveState(parentID)
		if cp, ok := sess.Tree.FindByID(parentID); ok {
			parentTime = cp.Timestamp
		}
	} else {
		base = make(fileMap)
	}
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files, warnings, err := m.scan()
	if err != nil {
		return nil, err
	}

	hashed, hashWarnings := m.hashFiles(files, base)
	warnings = append(warnings, hashWarnings...)

	// Classify against the parent state.
	seen := make(map[string]bool, len(hashed))
	live := make(fileMap, len(hashed))
	toStage := make(map[string][]byte)
	var changed []FileSnapshot
	for _, h := range hashed {
		seen[h.rel] = true
		if h.skipped {
			if prev, ok := base[h.rel]; ok {
				live[h.rel] = prev
			}
			continue
		}
		live[h.rel] = fileState{Hash: h.hash, Permissions: h.perm, Size: h.size}
		if prev, ok := base[h.rel]; ok && prev.Hash == h.hash && prev.Permissions == h.perm {
			continue
		}
		changed = append(changed, FileSnapshot{
			FilePath:    h.rel,
			ContentHash: h.hash,
			Permissions: h.perm,
			Size:        h.size,
		})
		if h.data != nil {
			toStage[h.hash] = h.data
		}
	}
	for _, p := range base.paths() {
		if !seen[p] {
			changed = append(changed, FileSnapshot{FilePath: p, IsDeleted: true})
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].FilePath < changed[j].FilePath })

	// Stage blobs. Nothing below references them until the transaction commits.
	created, err := m.stageBlobs(toStage)
	if err != nil {
		m.unstage(created)
		return nil, err
	}

	var snapshotSize int64
	for _, f := range live {
		snapshotSize += f.Size
	}

	ts := time.Now()
	if !ts.After(parentTime) {
		ts = parentTime.Add(time.Nanosecond)
	}
	messageIndex := opts.MessageIndex
	if messageIndex == 0 {
		messageIndex = activityIndex
	}
	cp := Checkpoint{
		ID:                 GenerateID(),
		SessionID:          sess.SessionID,
		ProjectID:          m.projectID,
		ParentCheckpointID: parentID,
		MessageIndex:       messageIndex,
		Timestamp:          ts,
		Description:        opts.Description,
		Metadata: CheckpointMetadata{
			TotalTokens:  opts.TotalTokens,
			ModelUsed:    opts.ModelUsed,
			UserPrompt:   opts.UserPrompt,
			FileChanges:  len(changed),
			SnapshotSize: snapshotSize,
		},
	}
	for i := range changed {
		changed[i].CheckpointID = cp.ID
	}

	m.mu.RLock()
	record := sess.record()
	m.mu.RUnlock()
	if record.RootID == "" {
		record.RootID = cp.ID
	}
	record.CurrentCheckpointID = cp.ID
	record.TotalCheckpoints++

	// File writes have begun; the commit must not be abandoned half way.
	err = m.db.WithTx(context.WithoutCancel(ctx), func(tx *database.Tx) error {
		if err := tx.UpsertSession(record); err != nil {
			return err
		}
		if err := tx.InsertCheckpoint(checkpointRecord(&cp)); err != nil {
			return err
		}
		for i := range changed {
			rec := snapshotRecord(&changed[i])
			id, err := tx.InsertSnapshot(rec)
			if err != nil {
				return err
			}
			changed[i].ID = id
			if !changed[i].IsDeleted {
				if err := tx.IncrementBlob(changed[i].ContentHash, changed[i].Size); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		m.unstage(created)
		metrics.RecordCapture("error", time.Since(start), 0, 0)
		return nil, ioError("commit checkpoint", "", err)
	}

	m.mu.Lock()
	err = sess.Tree.Insert(cp, changed, parentID)
	if err == nil {
		err = sess.Tree.SetCurrent(cp.ID)
	}
	if err != nil {
		// The database is authoritative; reload the session on next access.
		delete(m.sessions, sess.SessionID)
	}
	sess.Activity.Checkpointed()
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("in-memory timeline diverged from database",
			zap.String("session_id", sess.SessionID), zap.Error(err))
		return nil, err
	}

	m.rememberStats(hashed, files)

	var stagedBytes int64
	for _, h := range created {
		stagedBytes += int64(len(toStage[h]))
	}
	metrics.RecordCapture("ok", time.Since(start), len(created), stagedBytes)

	m.logger.Info("checkpoint created",
		zap.String("session_id", sess.SessionID),
		zap.String("checkpoint_id", cp.ID),
		zap.String("parent_id", parentID),
		zap.Int("file_changes", len(changed)),
		zap.Int("blobs_written", len(created)),
		zap.Duration("duration", time.Since(start)))

	return &CheckpointResult{
		Checkpoint:     &cp,
		FilesProcessed: len(hashed),
		BlobsWritten:   len(created),
		Warnings:       warnings,
	}, nil
}

// scan enumerates the tracked regular files under the project root
func (m *Manager) scan() ([]scannedFile, []string, error) {
	var files []scannedFile
	var warnings []string

	if r, ok := m.ignorer.(reloader); ok {
		if err := r.Reload(); err != nil {
			warnings = append(warnings, fmt.Sprintf("Kept previous ignore patterns: %v", err))
		}
	}

	err := filepath.WalkDir(m.projectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == m.projectRoot {
				return err
			}
			warnings = append(warnings, fmt.Sprintf("Skipped %s: %v", path, err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == m.projectRoot {
			return nil
		}
		if m.dataDir != "" && (path == m.dataDir || strings.HasPrefix(path, m.dataDir+string(filepath.Separator))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(m.projectRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if m.ignorer != nil && m.ignorer.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		if !d.Type().IsRegular() {
			warnings = append(warnings, fmt.Sprintf("Skipped %s: not a regular file", rel))
			return nil
		}

		info, err := d.Info()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Skipped %s: %v", rel, err))
			return nil
		}
		files = append(files, scannedFile{rel: rel, abs: path, info: info})
		return nil
	})
	if err != nil {
		return nil, nil, ioError("scan project", m.projectRoot, err)
	}
	return files, warnings, nil
}

// hashFiles hashes every scanned file in parallel. Content is kept in memory
// only for files that differ from base and are not yet in the store.
func (m *Manager) hashFiles(files []scannedFile, base fileMap) ([]hashedFile, []string) {
	results := make([]hashedFile, len(files))
	var warnings []string
	var wmu sync.Mutex

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, f := range files {
		g.Go(func() error {
			h := hashedFile{
				rel:  f.rel,
				perm: uint32(f.info.Mode().Perm()),
				size: f.info.Size(),
			}

			if hash, ok := m.cachedHash(f.rel, f.info); ok {
				h.hash = hash
				prev, inBase := base[f.rel]
				if (inBase && prev.Hash == hash) || m.store.Has(hash) {
					results[i] = h
					return nil
				}
			}

			data, err := m.worktree.ReadFile(f.abs)
			if err != nil {
				wmu.Lock()
				warnings = append(warnings, fmt.Sprintf("Skipped unreadable %s: %v", f.rel, err))
				wmu.Unlock()
				h.skipped = true
				results[i] = h
				return nil
			}
			h.hash = CalculateHash(data)
			h.size = int64(len(data))
			if prev, ok := base[f.rel]; !ok || prev.Hash != h.hash {
				if !m.store.Has(h.hash) {
					h.data = data
				}
			}
			results[i] = h
			return nil
		})
	}
	g.Wait()

	sort.Strings(warnings)
	return results, warnings
}

// stageBlobs writes every blob in blobs and returns the hashes of files it
// created
func (m *Manager) stageBlobs(blobs map[string][]byte) ([]string, error) {
	var created []string
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for hash, data := range blobs {
		g.Go(func() error {
			ok, err := m.store.Put(hash, data)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				created = append(created, hash)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return created, err
}

// unstage removes blobs staged by a capture that did not commit
func (m *Manager) unstage(hashes []string) {
	for _, h := range hashes {
		if err := m.store.Remove(h); err != nil {
			m.logger.Warn("failed to remove staged blob", zap.String("hash", h), zap.Error(err))
		}
	}
}

func (m *Manager) cachedHash(rel string, info fs.FileInfo) (string, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	e, ok := m.statCache[rel]
	if !ok || !e.matches(info) {
		return "", false
	}
	return e.hash, true
}

func (m *Manager) rememberStats(hashed []hashedFile, files []scannedFile) {
	now := time.Now()
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	for i, h := range hashed {
		if h.skipped || h.hash == "" {
			continue
		}
		info := files[i].info
		m.statCache[h.rel] = statEntry{
			size:       info.Size(),
			modTime:    info.ModTime(),
			mode:       info.Mode(),
			hash:       h.hash,
			recordedAt: now,
		}
	}
}

func (m *Manager) forgetStats() {
	m.cacheMu.Lock()
	m.statCache = make(map[string]statEntry)
	m.cacheMu.Unlock()
}
