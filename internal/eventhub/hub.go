package eventhub

import (
	"context"
	"sync"
)

// Broadcaster delivers events to connected clients
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// Event names
const (
	CheckpointCreated  = "checkpoint:created"
	CheckpointReverted = "checkpoint:reverted"
	CheckpointCleanup  = "checkpoint:cleanup"
	CheckpointSettings = "checkpoint:settings"
	CheckpointError    = "checkpoint:error"
)

// EventHub is the single place host events are dispatched from
type EventHub struct {
	ctx context.Context

	mu          sync.RWMutex
	broadcaster Broadcaster
	listeners   []func(eventType string, payload interface{})
}

// New creates a new EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster sets the websocket broadcaster
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	h.broadcaster = b
	h.mu.Unlock()
}

// Subscribe registers an in-process listener, used by the CLI to print
// events while watching
func (h *EventHub) Subscribe(fn func(eventType string, payload interface{})) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.ctx != nil && h.ctx.Err() != nil {
		return
	}
	h.mu.RLock()
	b := h.broadcaster
	listeners := h.listeners
	h.mu.RUnlock()

	if b != nil {
		b.BroadcastEvent(eventName, payload)
	}
	for _, fn := range listeners {
		fn(eventName, payload)
	}
}

// Emit sends an arbitrary event
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// CheckpointCreatedEvent is sent after a capture commits
type CheckpointCreatedEvent struct {
	ProjectID    string   `json:"project_id"`
	SessionID    string   `json:"session_id"`
	CheckpointID string   `json:"checkpoint_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	Description  string   `json:"description,omitempty"`
	FileChanges  int      `json:"file_changes"`
	Trigger      string   `json:"trigger"` // manual, prompt_submitted, tool_invoked, watch
	Warnings     []string `json:"warnings,omitempty"`
}

func (h *EventHub) EmitCheckpointCreated(event CheckpointCreatedEvent) {
	h.emit(CheckpointCreated, event)
}

// CheckpointRevertedEvent is sent after the working files were restored
type CheckpointRevertedEvent struct {
	ProjectID    string `json:"project_id"`
	SessionID    string `json:"session_id"`
	CheckpointID string `json:"checkpoint_id"`
	// FilesRestored is false when only the current pointer moved
	FilesRestored bool `json:"files_restored"`
}

func (h *EventHub) EmitCheckpointReverted(event CheckpointRevertedEvent) {
	h.emit(CheckpointReverted, event)
}

// CheckpointCleanupEvent reports an eviction pass
type CheckpointCleanupEvent struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	KeepCount int    `json:"keep_count"`
	Removed   int    `json:"removed"`
}

func (h *EventHub) EmitCheckpointCleanup(event CheckpointCleanupEvent) {
	h.emit(CheckpointCleanup, event)
}

// CheckpointSettingsEvent is sent when a session's settings change
type CheckpointSettingsEvent struct {
	ProjectID             string `json:"project_id"`
	SessionID             string `json:"session_id"`
	AutoCheckpointEnabled bool   `json:"auto_checkpoint_enabled"`
	CheckpointStrategy    string `json:"checkpoint_strategy"`
}

func (h *EventHub) EmitCheckpointSettings(event CheckpointSettingsEvent) {
	h.emit(CheckpointSettings, event)
}

// CheckpointErrorEvent reports a failed operation. Paths lists files a
// revert could not restore.
type CheckpointErrorEvent struct {
	ProjectID string   `json:"project_id"`
	SessionID string   `json:"session_id"`
	Operation string   `json:"operation"`
	Error     string   `json:"error"`
	Paths     []string `json:"paths,omitempty"`
	Fatal     bool     `json:"fatal,omitempty"`
}

func (h *EventHub) EmitCheckpointError(event CheckpointErrorEvent) {
	h.emit(CheckpointError, event)
}
