// internal/checkpoint/manager.go
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/database"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
)

// Options configures a per-project Manager
type Options struct {
	ProjectID   string
	ProjectRoot string

	// DataDir holds the project's timeline database and blob objects
	DataDir          string
	CompressionLevel int

	// DefaultStrategy applies to sessions with no saved settings
	DefaultStrategy Strategy
	SmartPolicy     SmartPolicy
	Ignorer         Ignorer
	WorkTree        WorkTree
	Logger          *zap.Logger
}

// Manager owns the checkpoint state of one project: its database, content
// store and the in-memory timeline of every loaded session.
//
// opMu serializes capture, revert and cleanup. mu guards sessions and the
// trees inside them; mutations take it for writing only after their file
// and database work is done.
type Manager struct {
	projectID   string
	projectRoot string
	dataDir     string

	db        *database.Database
	store     *ContentStore
	worktree  WorkTree
	ignorer   Ignorer
	evaluator *Evaluator
	strategy  Strategy
	logger    *zap.Logger

	opMu     sync.Mutex
	mu       sync.RWMutex
	sessions map[string]*SessionState

	cacheMu   sync.Mutex
	statCache map[string]statEntry
}

// SessionState tracks checkpoint state for a single session
type SessionState struct {
	SessionID             string
	ProjectID             string
	Tree                  *Tree
	Activity              Activity
	AutoCheckpointEnabled bool
	Strategy              Strategy
}

func (s *SessionState) record() *database.SessionRecord {
	return &database.SessionRecord{
		ID:                    s.SessionID,
		ProjectID:             s.ProjectID,
		RootID:                s.Tree.RootID(),
		CurrentCheckpointID:   s.Tree.Current(),
		AutoCheckpointEnabled: s.AutoCheckpointEnabled,
		CheckpointStrategy:    string(s.Strategy),
		TotalCheckpoints:      s.Tree.Len(),
	}
}

func (s *SessionState) settings() Settings {
	return Settings{
		AutoCheckpointEnabled: s.AutoCheckpointEnabled,
		CheckpointStrategy:    s.Strategy,
		TotalCheckpoints:      s.Tree.Len(),
	}
}

// Open opens (or creates) the checkpoint state of a project
func Open(opts Options) (*Manager, error) {
	if err := ValidateProjectID(opts.ProjectID); err != nil {
		return nil, err
	}
	if opts.ProjectRoot == "" {
		return nil, fmt.Errorf("project root is required")
	}
	root, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, ioError("stat project root", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(root, ".anyon")
	}
	if dataDir, err = filepath.Abs(dataDir); err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	worktree := opts.WorkTree
	if worktree == nil {
		worktree = OSWorkTree{}
	}
	level := opts.CompressionLevel
	if level == 0 {
		level = 3
	}
	strategy := opts.DefaultStrategy
	if strategy == "" {
		strategy = StrategyManual
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}

	db, err := database.Open(filepath.Join(dataDir, "timeline.db"))
	if err != nil {
		return nil, ioError("open timeline database", dataDir, err)
	}
	store, err := NewContentStore(filepath.Join(dataDir, "objects"), level)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger = logger.With(zap.String("project_id", opts.ProjectID))

	// Remember where the files live; a moved project keeps its history
	if prev, err := db.GetSetting(settingProjectRoot); err == nil && prev != root {
		logger.Warn("project root changed", zap.String("previous", prev), zap.String("root", root))
	}
	if err := db.SaveSetting(settingProjectRoot, root); err != nil {
		store.Close()
		db.Close()
		return nil, ioError("save project root", dataDir, err)
	}
	logger.Debug("project opened", zap.String("database", db.Path()), zap.String("objects", store.Root()))

	return &Manager{
		projectID:   opts.ProjectID,
		projectRoot: root,
		dataDir:     dataDir,
		db:          db,
		store:       store,
		worktree:    worktree,
		ignorer:     opts.Ignorer,
		evaluator:   NewEvaluator(opts.SmartPolicy),
		strategy:    strategy,
		logger:      logger,
		sessions:    make(map[string]*SessionState),
		statCache:   make(map[string]statEntry),
	}, nil
}

const settingProjectRoot = "project_root"

// ProjectID returns the project this manager serves
func (m *Manager) ProjectID() string { return m.projectID }

// ProjectRoot returns the absolute project root
func (m *Manager) ProjectRoot() string { return m.projectRoot }

// Close releases the database and content store
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.store.Close()
	return m.db.Close()
}

// lockOp takes the per-project operation lock without waiting
func (m *Manager) lockOp() error {
	if !m.opMu.TryLock() {
		return fmt.Errorf("%w: project %s", ErrConcurrentModification, m.projectID)
	}
	return nil
}

// lockSession takes the operation lock and then resolves the session, so the
// state returned is the one later mutations apply to. On success the caller
// unlocks opMu.
func (m *Manager) lockSession(sessionID string) (*SessionState, error) {
	if err := m.lockOp(); err != nil {
		return nil, err
	}
	sess, err := m.session(sessionID)
	if err != nil {
		m.opMu.Unlock()
		return nil, err
	}
	return sess, nil
}

// session returns the state of sessionID, loading it from the database on
// first use. A session never seen before starts empty.
func (m *Manager) session(sessionID string) (*SessionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrNotFound)
	}

	m.mu.RLock()
	sess, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		return sess, nil
	}
	sess, err := m.loadSession(sessionID)
	if err != nil {
		return nil, err
	}
	m.sessions[sessionID] = sess
	return sess, nil
}

func (m *Manager) loadSession(sessionID string) (*SessionState, error) {
	sess := &SessionState{
		SessionID: sessionID,
		ProjectID: m.projectID,
		Tree:      NewTree(sessionID),
		Strategy:  m.strategy,
	}

	rec, err := m.db.GetSession(sessionID)
	if errors.Is(err, database.ErrNoRows) {
		return sess, nil
	}
	if err != nil {
		return nil, ioError("load session", sessionID, err)
	}
	sess.AutoCheckpointEnabled = rec.AutoCheckpointEnabled
	if s := Strategy(rec.CheckpointStrategy); s.Valid() {
		sess.Strategy = s
	}

	checkpoints, err := m.db.ListCheckpoints(sessionID)
	if err != nil {
		return nil, ioError("load checkpoints", sessionID, err)
	}
	snapshotRows, err := m.db.ListSnapshots(sessionID)
	if err != nil {
		return nil, ioError("load snapshots", sessionID, err)
	}
	snapshots := make(map[string][]FileSnapshot)
	for _, r := range snapshotRows {
		snapshots[r.CheckpointID] = append(snapshots[r.CheckpointID], snapshotFromRecord(r))
	}

	// Rows come back in creation order, which already puts parents first.
	// Retry stragglers in case clocks went backwards between captures.
	pending := checkpoints
	for len(pending) > 0 {
		var next []*database.CheckpointRecord
		for _, r := range pending {
			if r.ParentID != "" {
				if _, ok := sess.Tree.FindByID(r.ParentID); !ok {
					next = append(next, r)
					continue
				}
			}
			if err := sess.Tree.Insert(checkpointFromRecord(r), snapshots[r.ID], r.ParentID); err != nil {
				return nil, err
			}
		}
		if len(next) == len(pending) {
			return nil, &TreeIntegrityError{CheckpointID: next[0].ID, Reason: fmt.Sprintf("parent %s does not exist", next[0].ParentID)}
		}
		pending = next
	}

	if rec.CurrentCheckpointID != "" {
		if err := sess.Tree.SetCurrent(rec.CurrentCheckpointID); err != nil {
			return nil, &TreeIntegrityError{CheckpointID: rec.CurrentCheckpointID, Reason: "current checkpoint does not exist"}
		}
	}
	if err := sess.Tree.Validate(); err != nil {
		return nil, err
	}

	m.logger.Debug("session loaded",
		zap.String("session_id", sessionID),
		zap.Int("checkpoints", sess.Tree.Len()))
	return sess, nil
}

// Sessions lists the ids of every persisted session of the project
func (m *Manager) Sessions() ([]string, error) {
	records, err := m.db.ListSessions()
	if err != nil {
		return nil, ioError("list sessions", "", err)
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// GetSettings returns the checkpoint settings of a session
func (m *Manager) GetSettings(sessionID string) (Settings, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return Settings{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sess.settings(), nil
}

// UpdateSettings changes and persists the checkpoint settings of a session
func (m *Manager) UpdateSettings(sessionID string, autoEnabled bool, strategy Strategy) (Settings, error) {
	if !strategy.Valid() {
		return Settings{}, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return Settings{}, err
	}

	m.mu.RLock()
	record := sess.record()
	m.mu.RUnlock()
	record.AutoCheckpointEnabled = autoEnabled
	record.CheckpointStrategy = string(strategy)

	err = m.db.WithTx(context.Background(), func(tx *database.Tx) error {
		return tx.UpsertSession(record)
	})
	if err != nil {
		return Settings{}, ioError("save settings", sessionID, err)
	}

	m.mu.Lock()
	sess.AutoCheckpointEnabled = autoEnabled
	sess.Strategy = strategy
	settings := sess.settings()
	m.mu.Unlock()

	m.logger.Info("checkpoint settings updated",
		zap.String("session_id", sessionID),
		zap.Bool("auto_checkpoint_enabled", autoEnabled),
		zap.String("strategy", string(strategy)))
	return settings, nil
}

// CreateCheckpoint captures the project's working files as a new child of
// the session's current checkpoint
func (m *Manager) CreateCheckpoint(ctx context.Context, sessionID string, opts CaptureOptions) (*CheckpointResult, error) {
	sess, err := m.lockSession(sessionID)
	if err != nil {
		return nil, err
	}
	defer m.opMu.Unlock()
	return m.capture(ctx, sess, opts)
}

// HandleEvent feeds a session lifecycle event to the strategy evaluator and
// captures a checkpoint when it fires. Automatic triggers only run while
// auto-checkpointing is enabled; manual requests always do. A nil result
// means no checkpoint was due.
func (m *Manager) HandleEvent(ctx context.Context, sessionID string, event Event) (*CheckpointResult, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	event = sess.Activity.Observe(event)
	auto := sess.AutoCheckpointEnabled
	strategy := sess.Strategy
	opts := CaptureOptions{
		MessageIndex: sess.Activity.MessageIndex,
		UserPrompt:   sess.Activity.LastPrompt,
	}
	m.mu.Unlock()

	if event.Kind != EventManualRequest && !auto {
		return nil, nil
	}
	fire, description := m.evaluator.ShouldCheckpoint(strategy, event)
	metrics.RecordStrategyDecision(string(strategy), string(event.Kind), fire)
	if event.Kind == EventManualRequest {
		// A save the user asked for is never dropped by the strategy.
		fire = true
		if event.Prompt != "" {
			description = event.Prompt
		} else if description == "" {
			description = "Manual checkpoint"
		}
	}
	if !fire {
		return nil, nil
	}
	opts.Description = description

	m.logger.Debug("strategy triggered checkpoint",
		zap.String("session_id", sessionID),
		zap.String("event", string(event.Kind)),
		zap.String("strategy", string(strategy)))
	res, err := m.CreateCheckpoint(ctx, sessionID, opts)
	if err != nil && event.FirstSincePrompt {
		// The unit of work is still uncaptured; the next tool event retries.
		m.mu.Lock()
		if s, ok := m.sessions[sessionID]; ok {
			s.Activity.Rearm()
		}
		m.mu.Unlock()
	}
	return res, err
}

// TrackMessage records the conversation position used for the next
// checkpoint's message index
func (m *Manager) TrackMessage(sessionID string, messageIndex int) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	sess.Activity.MessageIndex = messageIndex
	m.mu.Unlock()
	return nil
}

// ListTimeline returns the session's checkpoint tree
func (m *Manager) ListTimeline(sessionID string) (*SessionTimeline, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	timeline := sess.Tree.Timeline()
	timeline.AutoCheckpointEnabled = sess.AutoCheckpointEnabled
	timeline.CheckpointStrategy = sess.Strategy
	return timeline, nil
}

// ActivePath returns the checkpoints from the root to the current one
func (m *Manager) ActivePath(sessionID string) ([]Checkpoint, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sess.Tree.Current() == "" {
		return []Checkpoint{}, nil
	}
	return sess.Tree.PathToRoot(sess.Tree.Current())
}

// GetCheckpoint returns a checkpoint with the snapshots it introduced
func (m *Manager) GetCheckpoint(sessionID, checkpointID string) (*CheckpointDetail, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := sess.Tree.FindByID(checkpointID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}
	snaps, err := sess.Tree.Snapshots(checkpointID)
	if err != nil {
		return nil, err
	}
	return &CheckpointDetail{Checkpoint: cp, Files: append([]FileSnapshot{}, snaps...)}, nil
}

// ReadFileAt returns the content of path as of a checkpoint
func (m *Manager) ReadFileAt(sessionID, checkpointID, path string) ([]byte, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}
	rel := filepath.ToSlash(filepath.Clean(path))

	m.mu.RLock()
	defer m.mu.RUnlock()
	state, err := sess.Tree.effectiveState(checkpointID)
	if err != nil {
		return nil, err
	}
	f, ok := state[rel]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotFound, rel, checkpointID)
	}
	return m.store.Get(f.Hash)
}

// UpdateDescription changes a checkpoint's description, the only field of a
// checkpoint that can change after capture
func (m *Manager) UpdateDescription(sessionID, checkpointID, description string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}

	m.mu.RLock()
	_, ok := sess.Tree.FindByID(checkpointID)
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, checkpointID)
	}

	err = m.db.WithTx(context.Background(), func(tx *database.Tx) error {
		return tx.UpdateDescription(checkpointID, description)
	})
	if err != nil {
		return ioError("update description", checkpointID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.Tree.UpdateDescription(checkpointID, description)
}

// RevertTo restores the working files to a checkpoint and makes it current.
// Failures are reported as *RevertError.
func (m *Manager) RevertTo(ctx context.Context, sessionID, checkpointID string) error {
	sess, err := m.lockSession(sessionID)
	if err != nil {
		return err
	}
	defer m.opMu.Unlock()
	return m.revert(ctx, sess, checkpointID)
}

// Cleanup evicts old checkpoints of a session, keeping the active path and
// the keepCount most recent checkpoints with their ancestors
func (m *Manager) Cleanup(ctx context.Context, sessionID string, keepCount int) (int, error) {
	sess, err := m.lockSession(sessionID)
	if err != nil {
		return 0, err
	}
	defer m.opMu.Unlock()
	return m.cleanup(ctx, sess, keepCount)
}

// ClearSession drops the in-memory state of a session. Persisted history is
// kept and reloaded on next access. It fails with ErrConcurrentModification
// while a capture, revert or cleanup is running.
func (m *Manager) ClearSession(sessionID string) error {
	if err := m.lockOp(); err != nil {
		return err
	}
	defer m.opMu.Unlock()

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// VerifyReport summarizes an integrity check
type VerifyReport struct {
	Sessions    int      `json:"sessions"`
	Checkpoints int      `json:"checkpoints"`
	Blobs       int      `json:"blobs"`
	Problems    []string `json:"problems,omitempty"`
}

// Verify checks every persisted session tree, compares blob refcounts with
// the snapshots referencing them and re-hashes every blob. Problems are
// reported, never repaired.
func (m *Manager) Verify(ctx context.Context) (*VerifyReport, error) {
	if err := m.lockOp(); err != nil {
		return nil, err
	}
	defer m.opMu.Unlock()

	report := &VerifyReport{}
	var firstErr error
	problem := func(err error) {
		report.Problems = append(report.Problems, err.Error())
		if firstErr == nil {
			firstErr = err
		}
	}

	records, err := m.db.ListSessions()
	if err != nil {
		return nil, ioError("list sessions", "", err)
	}
	for _, r := range records {
		sess, err := m.loadSession(r.ID)
		if err != nil {
			problem(fmt.Errorf("session %s: %w", r.ID, err))
			continue
		}
		report.Sessions++
		report.Checkpoints += sess.Tree.Len()
		for _, err := range m.checkSessionRecord(r, sess) {
			problem(err)
		}
	}

	refs, err := m.db.CountSnapshotRefs()
	if err != nil {
		return nil, ioError("count snapshot references", "", err)
	}
	blobs, err := m.db.ListBlobs()
	if err != nil {
		return nil, ioError("list blobs", "", err)
	}
	counted := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		counted[b.Hash] = true
		report.Blobs++
		if refs[b.Hash] != b.RefCount {
			problem(&TreeIntegrityError{CheckpointID: "-", Reason: fmt.Sprintf("blob %s has ref_count %d but %d snapshots", b.Hash, b.RefCount, refs[b.Hash])})
		}
		if _, err := m.store.Get(b.Hash); err != nil {
			problem(err)
		}
	}
	var missing []string
	for h := range refs {
		if !counted[h] {
			missing = append(missing, h)
		}
	}
	sort.Strings(missing)
	for _, h := range missing {
		problem(&TreeIntegrityError{CheckpointID: "-", Reason: fmt.Sprintf("blob %s is referenced but has no ref_count row", h)})
	}

	if firstErr != nil {
		m.logger.Error("integrity check failed", zap.Int("problems", len(report.Problems)), zap.Error(firstErr))
		return report, firstErr
	}
	m.logger.Info("integrity check passed",
		zap.Int("sessions", report.Sessions),
		zap.Int("checkpoints", report.Checkpoints),
		zap.Int("blobs", report.Blobs))
	return report, nil
}

// checkSessionRecord compares a session row with the tree rebuilt from its
// checkpoint rows and with the copy held in memory
func (m *Manager) checkSessionRecord(r *database.SessionRecord, loaded *SessionState) []error {
	var errs []error
	bad := func(id, format string, args ...interface{}) {
		if id == "" {
			id = "-"
		}
		errs = append(errs, &TreeIntegrityError{CheckpointID: id, Reason: fmt.Sprintf("session %s: ", r.ID) + fmt.Sprintf(format, args...)})
	}

	tree := loaded.Tree
	if r.TotalCheckpoints != tree.Len() {
		bad(r.CurrentCheckpointID, "total_checkpoints is %d but %d checkpoints exist", r.TotalCheckpoints, tree.Len())
	}
	if r.RootID != tree.RootID() {
		bad(r.RootID, "root_id does not match the root checkpoint %q", tree.RootID())
	}
	if tree.Len() > 0 && r.CurrentCheckpointID == "" {
		bad("", "has checkpoints but no current checkpoint")
	}

	m.mu.RLock()
	cached, ok := m.sessions[r.ID]
	var cachedCurrent string
	var cachedLen int
	if ok {
		cachedCurrent, cachedLen = cached.Tree.Current(), cached.Tree.Len()
	}
	m.mu.RUnlock()
	if ok && (cachedCurrent != tree.Current() || cachedLen != tree.Len()) {
		bad(cachedCurrent, "in-memory timeline (current %q, %d checkpoints) differs from the database (current %q, %d checkpoints)",
			cachedCurrent, cachedLen, tree.Current(), tree.Len())
	}
	return errs
}

// GenerateID generates a new checkpoint ID
func GenerateID() string {
	return uuid.New().String()
}

// ValidateProjectID rejects ids that cannot be used as a directory name
func ValidateProjectID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid project id %q", id)
	}
	return nil
}

func checkpointRecord(cp *Checkpoint) *database.CheckpointRecord {
	return &database.CheckpointRecord{
		ID:           cp.ID,
		SessionID:    cp.SessionID,
		ProjectID:    cp.ProjectID,
		ParentID:     cp.ParentCheckpointID,
		MessageIndex: cp.MessageIndex,
		Timestamp:    cp.Timestamp,
		Description:  cp.Description,
		TotalTokens:  cp.Metadata.TotalTokens,
		ModelUsed:    cp.Metadata.ModelUsed,
		UserPrompt:   cp.Metadata.UserPrompt,
		FileChanges:  cp.Metadata.FileChanges,
		SnapshotSize: cp.Metadata.SnapshotSize,
	}
}

func checkpointFromRecord(r *database.CheckpointRecord) Checkpoint {
	return Checkpoint{
		ID:                 r.ID,
		SessionID:          r.SessionID,
		ProjectID:          r.ProjectID,
		ParentCheckpointID: r.ParentID,
		MessageIndex:       r.MessageIndex,
		Timestamp:          r.Timestamp,
		Description:        r.Description,
		Metadata: CheckpointMetadata{
			TotalTokens:  r.TotalTokens,
			ModelUsed:    r.ModelUsed,
			UserPrompt:   r.UserPrompt,
			FileChanges:  r.FileChanges,
			SnapshotSize: r.SnapshotSize,
		},
	}
}

func snapshotRecord(s *FileSnapshot) *database.SnapshotRecord {
	return &database.SnapshotRecord{
		CheckpointID: s.CheckpointID,
		FilePath:     s.FilePath,
		ContentHash:  s.ContentHash,
		IsDeleted:    s.IsDeleted,
		Permissions:  s.Permissions,
		Size:         s.Size,
	}
}

func snapshotFromRecord(r *database.SnapshotRecord) FileSnapshot {
	return FileSnapshot{
		ID:           r.ID,
		CheckpointID: r.CheckpointID,
		FilePath:     r.FilePath,
		ContentHash:  r.ContentHash,
		IsDeleted:    r.IsDeleted,
		Permissions:  r.Permissions,
		Size:         r.Size,
	}
}

// Registry maps project ids to their managers. Projects share nothing.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
	options  func(projectID, projectRoot string) (Options, error)
}

// NewRegistry creates a registry that builds manager options with fn
func NewRegistry(fn func(projectID, projectRoot string) (Options, error)) *Registry {
	return &Registry{
		managers: make(map[string]*Manager),
		options:  fn,
	}
}

// Get returns the manager of a project, opening it on first use. An empty
// projectRoot only finds an already open project.
func (r *Registry) Get(projectID, projectRoot string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[projectID]; ok {
		if projectRoot != "" {
			abs, err := filepath.Abs(projectRoot)
			if err == nil && abs != m.projectRoot {
				return nil, fmt.Errorf("project %s is open at %s, not %s", projectID, m.projectRoot, abs)
			}
		}
		return m, nil
	}
	if projectRoot == "" {
		return nil, fmt.Errorf("%w: project %s is not open", ErrNotFound, projectID)
	}

	opts, err := r.options(projectID, projectRoot)
	if err != nil {
		return nil, err
	}
	m, err := Open(opts)
	if err != nil {
		return nil, err
	}
	r.managers[projectID] = m
	return m, nil
}

// Projects returns the ids of the open projects
func (r *Registry) Projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.managers))
	for id := range r.managers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every open manager
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for id, m := range r.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(r.managers, id)
	}
	return errors.Join(errs...)
}
