// app.go
package main

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cosmosjeon/anyon-acp-sub001/internal/checkpoint"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/config"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/eventhub"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/git"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/logging"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/metrics"
	"github.com/cosmosjeon/anyon-acp-sub001/internal/watcher"
)

// App struct contains the core application state and managers
type App struct {
	ctx    context.Context
	mu     sync.RWMutex
	config *config.Config
	logger *zap.Logger

	// Core managers
	registry *checkpoint.Registry
	eventHub *eventhub.EventHub
	watchers map[string]*projectWatch
}

// projectWatch drives automatic checkpoints for one project session
type projectWatch struct {
	sessionID string
	watcher   *watcher.Watcher
	matcher   *git.Matcher

	// Batches arriving before quietUntil come from our own revert
	mu         sync.Mutex
	quietUntil time.Time
}

// NewApp creates a new App application struct
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		config:   cfg,
		logger:   logger,
		watchers: make(map[string]*projectWatch),
	}
}

// startup initializes the managers. Every later call runs under ctx.
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	// Initialize EventHub (before managers that need it)
	a.eventHub = eventhub.New(ctx)

	a.registry = checkpoint.NewRegistry(a.managerOptions)

	a.logger.Debug("all managers initialized",
		zap.String("data_dir", a.config.DataDir),
		zap.String("config", a.config.Path))
}

// shutdown stops watchers and closes every open project
func (a *App) shutdown(ctx context.Context) {
	a.mu.Lock()
	for id, pw := range a.watchers {
		if err := pw.watcher.Close(); err != nil {
			a.logger.Warn("failed to close watcher", logging.Project(id), logging.Err(err))
		}
		delete(a.watchers, id)
	}
	a.mu.Unlock()

	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Error("failed to close projects", logging.Err(err))
		}
	}

	a.logger.Info("shutdown complete")
}

// setBroadcaster forwards checkpoint events to the host transport
func (a *App) setBroadcaster(b eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(b)
	}
}

// managerOptions builds the engine options of a project from configuration
func (a *App) managerOptions(projectID, projectRoot string) (checkpoint.Options, error) {
	matcher, err := git.NewMatcher(projectRoot, a.config.Checkpoint.IgnorePatterns...)
	if err != nil {
		return checkpoint.Options{}, fmt.Errorf("failed to load ignore patterns: %w", err)
	}

	categories := make([]checkpoint.ToolCategory, 0, len(a.config.Checkpoint.DestructiveCategories))
	for _, c := range a.config.Checkpoint.DestructiveCategories {
		categories = append(categories, checkpoint.ToolCategory(strings.TrimSpace(c)))
	}

	return checkpoint.Options{
		ProjectID:        projectID,
		ProjectRoot:      projectRoot,
		DataDir:          a.config.ProjectDataDir(projectID),
		CompressionLevel: a.config.Checkpoint.CompressionLevel,
		DefaultStrategy:  checkpoint.Strategy(a.config.Checkpoint.DefaultStrategy),
		SmartPolicy: checkpoint.SmartPolicy{
			LineThreshold:         a.config.Checkpoint.LineThreshold,
			DestructiveCategories: categories,
		},
		Ignorer: matcher,
		Logger:  a.logger.Named("checkpoint"),
	}, nil
}

// manager returns the engine of a project, opening it on first use
func (a *App) manager(projectID, projectRoot string) (*checkpoint.Manager, error) {
	if a.registry == nil {
		return nil, fmt.Errorf("app not started")
	}
	return a.registry.Get(projectID, projectRoot)
}

// projectIDFor derives a stable project id from its root directory
func projectIDFor(root string) string {
	return strings.NewReplacer("/", "-", `\`, "-", ":", "-").Replace(root)
}

// quiet suppresses watch batches of a project for the next d
func (a *App) quiet(projectID string, d time.Duration) {
	a.mu.RLock()
	pw, ok := a.watchers[projectID]
	a.mu.RUnlock()
	if !ok {
		return
	}
	pw.mu.Lock()
	pw.quietUntil = time.Now().Add(d)
	pw.mu.Unlock()
}

// handleWatchBatch turns a burst of file changes into a tool event
func (a *App) handleWatchBatch(projectID string, pw *projectWatch, batch watcher.Batch) {
	metrics.RecordWatchBatch()

	if pw.matcher != nil {
		for _, e := range batch.Events {
			if path.Base(e.Path) == ".gitignore" {
				if err := pw.matcher.Reload(); err != nil {
					a.logger.Warn("failed to reload ignore patterns", logging.Project(projectID), logging.Err(err))
				}
				break
			}
		}
	}

	pw.mu.Lock()
	quiet := time.Now().Before(pw.quietUntil)
	pw.mu.Unlock()
	if quiet {
		a.logger.Debug("dropping watch batch after revert",
			logging.Project(projectID),
			zap.Int("paths", len(batch.Events)))
		return
	}

	category := checkpoint.ToolEdit
	if batch.HasRemovals() {
		category = checkpoint.ToolDelete
	}
	event := checkpoint.Event{
		Kind:         checkpoint.EventToolInvoked,
		ToolCategory: category,
		FilesTouched: batch.Paths(),
	}

	m, err := a.manager(projectID, "")
	if err != nil {
		a.logger.Warn("watch batch for closed project", logging.Project(projectID), logging.Err(err))
		return
	}
	if _, err := a.handleEvent(a.ctx, m, pw.sessionID, event, "watch"); err != nil {
		a.logger.Warn("automatic checkpoint failed",
			logging.Project(projectID),
			logging.Session(pw.sessionID),
			logging.Err(err))
	}
}
