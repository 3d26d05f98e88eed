// internal/checkpoint/models.go
package checkpoint

import "time"

// Strategy selects which session events trigger an automatic checkpoint
type Strategy string

const (
	StrategyManual     Strategy = "manual"
	StrategyPerPrompt  Strategy = "per_prompt"
	StrategyPerToolUse Strategy = "per_tool_use"
	StrategySmart      Strategy = "smart"
)

// Valid reports whether s is one of the known strategies
func (s Strategy) Valid() bool {
	switch s {
	case StrategyManual, StrategyPerPrompt, StrategyPerToolUse, StrategySmart:
		return true
	}
	return false
}

// Checkpoint represents a saved checkpoint in a session
type Checkpoint struct {
	ID                 string             `json:"id"`
	SessionID          string             `json:"session_id"`
	ProjectID          string             `json:"project_id"`
	ParentCheckpointID string             `json:"parent_checkpoint_id,omitempty"`
	MessageIndex       int                `json:"message_index"`
	Timestamp          time.Time          `json:"timestamp"`
	Description        string             `json:"description,omitempty"`
	Metadata           CheckpointMetadata `json:"metadata"`
}

// CheckpointMetadata carries session context recorded with a checkpoint
type CheckpointMetadata struct {
	TotalTokens  int64  `json:"total_tokens"`
	ModelUsed    string `json:"model_used,omitempty"`
	UserPrompt   string `json:"user_prompt,omitempty"`
	FileChanges  int    `json:"file_changes"`
	SnapshotSize int64  `json:"snapshot_size"`
}

// FileSnapshot represents a file at a specific checkpoint. Content lives in
// the content store under ContentHash.
type FileSnapshot struct {
	ID           int64  `json:"id"`
	CheckpointID string `json:"checkpoint_id"`
	FilePath     string `json:"file_path"`
	ContentHash  string `json:"content_hash,omitempty"`
	IsDeleted    bool   `json:"is_deleted"`
	Permissions  uint32 `json:"permissions,omitempty"`
	Size         int64  `json:"size"`
}

// CheckpointResult represents the result of a checkpoint operation
type CheckpointResult struct {
	Checkpoint     *Checkpoint `json:"checkpoint"`
	FilesProcessed int         `json:"files_processed"`
	BlobsWritten   int         `json:"blobs_written"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// SessionTimeline represents the checkpoint timeline for a session
type SessionTimeline struct {
	SessionID             string        `json:"session_id"`
	RootNode              *TimelineNode `json:"root_node,omitempty"`
	CurrentCheckpointID   string        `json:"current_checkpoint_id,omitempty"`
	AutoCheckpointEnabled bool          `json:"auto_checkpoint_enabled"`
	CheckpointStrategy    Strategy      `json:"checkpoint_strategy"`
	TotalCheckpoints      int           `json:"total_checkpoints"`
}

// TimelineNode represents a node in the checkpoint tree
type TimelineNode struct {
	Checkpoint      Checkpoint     `json:"checkpoint"`
	Children        []TimelineNode `json:"children"`
	FileSnapshotIDs []int64        `json:"file_snapshot_ids"`
}

// CheckpointDiff describes how the file state of one checkpoint differs from another
type CheckpointDiff struct {
	FromCheckpointID string     `json:"from_checkpoint_id"`
	ToCheckpointID   string     `json:"to_checkpoint_id"`
	ModifiedFiles    []FileDiff `json:"modified_files"`
	AddedFiles       []string   `json:"added_files"`
	DeletedFiles     []string   `json:"deleted_files"`
	TokenDelta       int64      `json:"token_delta"`
}

// Empty reports whether the two endpoints have identical file state
func (d *CheckpointDiff) Empty() bool {
	return len(d.ModifiedFiles) == 0 && len(d.AddedFiles) == 0 && len(d.DeletedFiles) == 0
}

// FileDiff holds line statistics for a file present at both endpoints
type FileDiff struct {
	Path        string `json:"path"`
	Additions   int    `json:"additions"`
	Deletions   int    `json:"deletions"`
	Binary      bool   `json:"binary,omitempty"`
	DiffContent string `json:"diff_content,omitempty"`
}

// Settings is the host-facing view of a session's checkpoint settings
type Settings struct {
	AutoCheckpointEnabled bool     `json:"auto_checkpoint_enabled"`
	CheckpointStrategy    Strategy `json:"checkpoint_strategy"`
	TotalCheckpoints      int      `json:"total_checkpoints"`
}

// CheckpointDetail is a checkpoint together with the snapshots it introduced
type CheckpointDetail struct {
	Checkpoint Checkpoint     `json:"checkpoint"`
	Files      []FileSnapshot `json:"files"`
}
