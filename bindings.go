// bindings.go
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/checkpoint"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/eventhub"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/git"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/logging"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/watcher"
)

// ===== Project Bindings =====

// ProjectInfo describes a project directory as the engine sees it
type ProjectInfo struct {
	ProjectID   string `json:"project_id"`
	ProjectRoot string `json:"project_root"`
	Branch      string `json:"branch,omitempty"`
	HeadCommit  string `json:"head_commit,omitempty"`
	Watching    bool   `json:"watching"`
}

// GetProjectInfo resolves the project enclosing dir. Inside a git working
// tree the project root is the top of the tree.
func (a *App) GetProjectInfo(dir string) (*ProjectInfo, error) {
	root := git.ProjectRoot(dir)
	info := &ProjectInfo{
		ProjectID:   projectIDFor(root),
		ProjectRoot: root,
	}
	if repo, err := git.Open(root); err == nil {
		info.Branch, _ = repo.CurrentBranch()
		info.HeadCommit, _ = repo.HeadCommit()
	}
	a.mu.RLock()
	_, info.Watching = a.watchers[info.ProjectID]
	a.mu.RUnlock()
	return info, nil
}

// ListOpenProjects returns the ids of projects with an open timeline
func (a *App) ListOpenProjects() []string {
	if a.registry == nil {
		return []string{}
	}
	return a.registry.Projects()
}

// ListCheckpointSessions returns every session with saved history
func (a *App) ListCheckpointSessions(projectID, projectRoot string) ([]string, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return m.Sessions()
}

// ===== Checkpoint Settings Bindings =====

// GetCheckpointSettings returns a session's checkpoint settings
func (a *App) GetCheckpointSettings(projectID, projectRoot, sessionID string) (checkpoint.Settings, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return checkpoint.Settings{}, err
	}
	return m.GetSettings(sessionID)
}

// UpdateCheckpointSettings changes a session's auto-checkpoint flag and strategy
func (a *App) UpdateCheckpointSettings(projectID, projectRoot, sessionID string, autoEnabled bool, strategy string) (checkpoint.Settings, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return checkpoint.Settings{}, err
	}
	settings, err := m.UpdateSettings(sessionID, autoEnabled, checkpoint.Strategy(strategy))
	if err != nil {
		return checkpoint.Settings{}, err
	}
	a.eventHub.EmitCheckpointSettings(eventhub.CheckpointSettingsEvent{
		ProjectID:             projectID,
		SessionID:             sessionID,
		AutoCheckpointEnabled: settings.AutoCheckpointEnabled,
		CheckpointStrategy:    string(settings.CheckpointStrategy),
	})
	return settings, nil
}

// ===== Checkpoint Bindings =====

// CreateCheckpoint captures the project files as a child of the current checkpoint
func (a *App) CreateCheckpoint(ctx context.Context, projectID, projectRoot, sessionID string, opts checkpoint.CaptureOptions) (*checkpoint.CheckpointResult, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	res, err := m.CreateCheckpoint(ctx, sessionID, opts)
	if err != nil {
		a.emitError(projectID, sessionID, "capture", err)
		return nil, err
	}
	a.emitCreated(projectID, sessionID, res, "manual")
	return res, nil
}

// HandleCheckpointEvent feeds a session lifecycle event to the session's
// strategy. The result is nil when no checkpoint was taken.
func (a *App) HandleCheckpointEvent(ctx context.Context, projectID, projectRoot, sessionID string, event checkpoint.Event) (*checkpoint.CheckpointResult, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return a.handleEvent(ctx, m, sessionID, event, string(event.Kind))
}

func (a *App) handleEvent(ctx context.Context, m *checkpoint.Manager, sessionID string, event checkpoint.Event, trigger string) (*checkpoint.CheckpointResult, error) {
	res, err := m.HandleEvent(ctx, sessionID, event)
	if err != nil {
		a.emitError(m.ProjectID(), sessionID, "capture", err)
		return nil, err
	}
	if res != nil {
		a.emitCreated(m.ProjectID(), sessionID, res, trigger)
	}
	return res, nil
}

// TrackCheckpointMessage records the conversation position for the next checkpoint
func (a *App) TrackCheckpointMessage(projectID, projectRoot, sessionID string, messageIndex int) error {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return err
	}
	return m.TrackMessage(sessionID, messageIndex)
}

// GetCheckpointTimeline returns the session's checkpoint tree
func (a *App) GetCheckpointTimeline(projectID, projectRoot, sessionID string) (*checkpoint.SessionTimeline, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return m.ListTimeline(sessionID)
}

// GetActiveCheckpointPath returns the checkpoints from the root to the current one
func (a *App) GetActiveCheckpointPath(projectID, projectRoot, sessionID string) ([]checkpoint.Checkpoint, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return m.ActivePath(sessionID)
}

// GetCheckpoint returns a checkpoint with the file snapshots it introduced
func (a *App) GetCheckpoint(projectID, projectRoot, sessionID, checkpointID string) (*checkpoint.CheckpointDetail, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return m.GetCheckpoint(sessionID, checkpointID)
}

// FileAtCheckpoint is the content of one file at a checkpoint. Content is
// base64 encoded unless Encoding is utf-8.
type FileAtCheckpoint struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// ReadFileAtCheckpoint returns a file as it was at a checkpoint
func (a *App) ReadFileAtCheckpoint(projectID, projectRoot, sessionID, checkpointID, path string) (*FileAtCheckpoint, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	data, err := m.ReadFileAt(sessionID, checkpointID, path)
	if err != nil {
		return nil, err
	}
	f := &FileAtCheckpoint{Path: filepath.ToSlash(path), Size: len(data)}
	if utf8.Valid(data) && !bytes.Contains(data, []byte{0}) {
		f.Content = string(data)
		f.Encoding = "utf-8"
	} else {
		f.Content = base64.StdEncoding.EncodeToString(data)
		f.Encoding = "base64"
	}
	return f, nil
}

// UpdateCheckpointDescription renames a checkpoint
func (a *App) UpdateCheckpointDescription(projectID, projectRoot, sessionID, checkpointID, description string) error {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return err
	}
	return m.UpdateDescription(sessionID, checkpointID, description)
}

// DiffCheckpoints compares the file state of two checkpoints of a session
func (a *App) DiffCheckpoints(projectID, projectRoot, sessionID, fromID, toID string, withContent bool) (*checkpoint.CheckpointDiff, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	return m.Diff(sessionID, fromID, toID, withContent)
}

// RevertToCheckpoint restores the project files to a checkpoint
func (a *App) RevertToCheckpoint(ctx context.Context, projectID, projectRoot, sessionID, checkpointID string) error {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return err
	}
	err = m.RevertTo(ctx, sessionID, checkpointID)
	// The files we just wrote must not look like agent edits
	a.quiet(projectID, 2*a.config.Watch.Debounce+100*time.Millisecond)
	if err != nil {
		a.emitError(projectID, sessionID, "revert", err)
		return err
	}
	a.eventHub.EmitCheckpointReverted(eventhub.CheckpointRevertedEvent{
		ProjectID:     projectID,
		SessionID:     sessionID,
		CheckpointID:  checkpointID,
		FilesRestored: true,
	})
	return nil
}

// RewindToCheckpoint makes a checkpoint current without restoring files
func (a *App) RewindToCheckpoint(ctx context.Context, projectID, projectRoot, sessionID, checkpointID string) error {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return err
	}
	if err := m.Rewind(ctx, sessionID, checkpointID); err != nil {
		a.emitError(projectID, sessionID, "rewind", err)
		return err
	}
	a.eventHub.EmitCheckpointReverted(eventhub.CheckpointRevertedEvent{
		ProjectID:    projectID,
		SessionID:    sessionID,
		CheckpointID: checkpointID,
	})
	return nil
}

// ForkCheckpointSession starts a new session from a checkpoint
func (a *App) ForkCheckpointSession(ctx context.Context, projectID, projectRoot, sessionID, checkpointID, newSessionID string) (*checkpoint.CheckpointResult, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	res, err := m.ForkSession(ctx, sessionID, checkpointID, newSessionID)
	if err != nil {
		a.emitError(projectID, sessionID, "fork", err)
		return nil, err
	}
	a.emitCreated(projectID, newSessionID, res, "fork")
	return res, nil
}

// CleanupCheckpoints evicts old checkpoints. A negative keepCount uses the
// configured default.
func (a *App) CleanupCheckpoints(ctx context.Context, projectID, projectRoot, sessionID string, keepCount int) (int, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return 0, err
	}
	if keepCount < 0 {
		keepCount = a.config.Checkpoint.KeepCount
	}
	removed, err := m.Cleanup(ctx, sessionID, keepCount)
	if err != nil {
		a.emitError(projectID, sessionID, "cleanup", err)
		return 0, err
	}
	a.eventHub.EmitCheckpointCleanup(eventhub.CheckpointCleanupEvent{
		ProjectID: projectID,
		SessionID: sessionID,
		KeepCount: keepCount,
		Removed:   removed,
	})
	return removed, nil
}

// ClearCheckpointSession drops the in-memory state of a session
func (a *App) ClearCheckpointSession(projectID, sessionID string) error {
	m, err := a.manager(projectID, "")
	if err != nil {
		return err
	}
	return m.ClearSession(sessionID)
}

// VerifyCheckpoints checks the project's timelines and content store
func (a *App) VerifyCheckpoints(ctx context.Context, projectID, projectRoot string) (*checkpoint.VerifyReport, error) {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	report, err := m.Verify(ctx)
	if err != nil && report == nil {
		return nil, err
	}
	// Problems are part of the report
	return report, nil
}

// ===== Watch Bindings =====

// WatchProject starts automatic checkpoints for a session: file changes in
// the project become tool events evaluated by the session's strategy
func (a *App) WatchProject(projectID, projectRoot, sessionID string) error {
	m, err := a.manager(projectID, projectRoot)
	if err != nil {
		return err
	}
	matcher, err := git.NewMatcher(m.ProjectRoot(), a.config.Checkpoint.IgnorePatterns...)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pw, ok := a.watchers[projectID]; ok {
		if pw.sessionID == sessionID {
			return nil
		}
		return fmt.Errorf("project %s is already watched for session %s", projectID, pw.sessionID)
	}

	pw := &projectWatch{sessionID: sessionID, matcher: matcher}
	w, err := watcher.New(m.ProjectRoot(), a.config.Watch.Debounce,
		func(b watcher.Batch) { a.handleWatchBatch(projectID, pw, b) },
		watcher.WithFilter(matcher.Match),
		watcher.WithLogger(a.logger.Named("watcher")))
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Close()
		return err
	}
	pw.watcher = w
	a.watchers[projectID] = pw

	a.logger.Info("watching project",
		logging.Project(projectID),
		logging.Session(sessionID),
		zap.String("root", m.ProjectRoot()))
	return nil
}

// UnwatchProject stops automatic checkpoints for a project
func (a *App) UnwatchProject(projectID string) error {
	a.mu.Lock()
	pw, ok := a.watchers[projectID]
	delete(a.watchers, projectID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return pw.watcher.Close()
}

// ===== Event Helpers =====

func (a *App) emitCreated(projectID, sessionID string, res *checkpoint.CheckpointResult, trigger string) {
	cp := res.Checkpoint
	a.eventHub.EmitCheckpointCreated(eventhub.CheckpointCreatedEvent{
		ProjectID:    projectID,
		SessionID:    sessionID,
		CheckpointID: cp.ID,
		ParentID:     cp.ParentCheckpointID,
		Description:  cp.Description,
		FileChanges:  cp.Metadata.FileChanges,
		Trigger:      trigger,
		Warnings:     res.Warnings,
	})
}

func (a *App) emitError(projectID, sessionID, operation string, err error) {
	event := eventhub.CheckpointErrorEvent{
		ProjectID: projectID,
		SessionID: sessionID,
		Operation: operation,
		Error:     err.Error(),
	}
	var revertErr *checkpoint.RevertError
	if errors.As(err, &revertErr) {
		event.Paths = append(append([]string{}, revertErr.Failed...), revertErr.Inconsistent...)
		event.Fatal = revertErr.Fatal()
	}
	a.logger.Error("checkpoint operation failed",
		logging.Project(projectID),
		logging.Session(sessionID),
		zap.String("operation", operation),
		logging.Err(err))
	a.eventHub.EmitCheckpointError(event)
}

// errorCode classifies an engine error for RPC clients
func errorCode(err error) string {
	var revertErr *checkpoint.RevertError
	switch {
	case errors.As(err, &revertErr):
		if revertErr.Fatal() {
			return "revert_inconsistent"
		}
		return "revert_failed"
	case errors.Is(err, checkpoint.ErrNotFound):
		return "not_found"
	case errors.Is(err, checkpoint.ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, checkpoint.ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, checkpoint.ErrTreeIntegrity):
		return "tree_integrity"
	case errors.Is(err, checkpoint.ErrInvalidStrategy):
		return "invalid_argument"
	case errors.Is(err, checkpoint.ErrSessionExists):
		return "session_exists"
	case errors.Is(err, checkpoint.ErrIO):
		return "io"
	default:
		return "internal"
	}
}
