// internal/database/models.go
package database

import "time"

// SessionRecord stores the persisted pointer state of one session timeline
type SessionRecord struct {
	ID                    string    `json:"id"`
	ProjectID             string    `json:"project_id"`
	RootID                string    `json:"root_id,omitempty"`
	CurrentCheckpointID   string    `json:"current_checkpoint_id,omitempty"`
	AutoCheckpointEnabled bool      `json:"auto_checkpoint_enabled"`
	CheckpointStrategy    string    `json:"checkpoint_strategy"`
	TotalCheckpoints      int       `json:"total_checkpoints"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// CheckpointRecord stores one checkpoint row
type CheckpointRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ProjectID    string    `json:"project_id"`
	ParentID     string    `json:"parent_id,omitempty"`
	MessageIndex int       `json:"message_index"`
	Timestamp    time.Time `json:"timestamp"`
	Description  string    `json:"description,omitempty"`
	TotalTokens  int64     `json:"total_tokens"`
	ModelUsed    string    `json:"model_used,omitempty"`
	UserPrompt   string    `json:"user_prompt,omitempty"`
	FileChanges  int       `json:"file_changes"`
	SnapshotSize int64     `json:"snapshot_size"`
}

// SnapshotRecord stores one file_snapshots row
type SnapshotRecord struct {
	ID           int64  `json:"id"`
	CheckpointID string `json:"checkpoint_id"`
	FilePath     string `json:"file_path"`
	ContentHash  string `json:"content_hash,omitempty"`
	IsDeleted    bool   `json:"is_deleted"`
	Permissions  uint32 `json:"permissions"`
	Size         int64  `json:"size"`
}

// BlobRecord stores the reference count of one content-store blob
type BlobRecord struct {
	Hash     string `json:"hash"`
	RefCount int    `json:"ref_count"`
	Size     int64  `json:"size"`
}
