package checkpoint

import (
	"time"

	"sessionguard/internal/signals"
)

// Checkpoint is an immutable, versioned snapshot of session state. Once
// persisted, only the three recovery-tracking fields may change, and only
// once, when the checkpoint is consumed by a resume.
type Checkpoint struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	CheckpointNumber int             `json:"checkpoint_number"`
	CreatedAt        time.Time       `json:"created_at"`
	TriggeredBy      signals.Trigger `json:"triggered_by"`

	Conversation ConversationState      `json:"conversation_state"`
	Task         TaskState              `json:"task_state"`
	Files        FileState              `json:"file_state"`
	Tools        ToolState              `json:"tool_state"`
	Signals      signals.SignalSnapshot `json:"signals"`

	UserPreferences string `json:"user_preferences,omitempty"`

	// Recovery tracking, written exactly once by the resume detector.
	RestoredAt      *time.Time `json:"restored_at,omitempty"`
	RestoreSuccess  *bool      `json:"restore_success,omitempty"`
	RestoreFidelity *float64   `json:"restore_fidelity,omitempty"`
}

// ConversationState captures what the session was talking about.
type ConversationState struct {
	Summary        string          `json:"summary"`
	KeyDecisions   []string        `json:"key_decisions,omitempty"`
	CurrentContext string          `json:"current_context,omitempty"`
	RecentMessages []MessageRecord `json:"recent_messages,omitempty"`
}

// MessageRecord is one recent message with content truncated at intake.
type MessageRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskState captures where the session was in its current operation.
type TaskState struct {
	Operation      string   `json:"operation,omitempty"`
	Phase          string   `json:"phase,omitempty"`
	Progress       float64  `json:"progress"`
	CompletedSteps []string `json:"completed_steps,omitempty"`
	NextSteps      []string `json:"next_steps,omitempty"`
	Blockers       []string `json:"blockers,omitempty"`
}

// FileState captures the working-tree view at checkpoint time.
type FileState struct {
	ActiveFiles     []string `json:"active_files,omitempty"`
	ModifiedFiles   []string `json:"modified_files,omitempty"`
	StagedFiles     []string `json:"staged_files,omitempty"`
	UncommittedDiff string   `json:"uncommitted_diff,omitempty"`
}

// ToolState captures active tool sessions and pending operations.
type ToolState struct {
	ActiveSessions    []ToolSession      `json:"active_sessions,omitempty"`
	PendingOperations []PendingOperation `json:"pending_operations,omitempty"`
	RecentCalls       []ToolCallRecord   `json:"recent_calls,omitempty"`
}

// ToolSession is one live tool session with free-form sub-state.
type ToolSession struct {
	Type  string            `json:"type"`
	State map[string]string `json:"state,omitempty"`
}

// PendingOperation is an in-flight operation with a hint for resuming it.
type PendingOperation struct {
	Type       string `json:"type"`
	ResumeHint string `json:"resume_hint,omitempty"`
}

// ToolCallRecord is one entry of the recent tool-call ring.
type ToolCallRecord struct {
	Tool      string        `json:"tool"`
	Args      string        `json:"args,omitempty"`
	Result    string        `json:"result,omitempty"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
}

// SnapshotInput is the caller-supplied session snapshot handed to
// CreateCheckpoint. Fields documented as truncated are cut silently at
// intake; everything else must respect the bounds in validate.go.
type SnapshotInput struct {
	SessionID       string
	Conversation    ConversationState
	Task            TaskState
	Files           FileState
	Tools           ToolState
	UserPreferences string
}

// Result confirms a persisted checkpoint with timing and size metrics.
type Result struct {
	CheckpointID     string  `json:"checkpoint_id"`
	CheckpointNumber int     `json:"checkpoint_number"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	UncompressedSize int     `json:"uncompressed_size"`
	CompressedSize   int     `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}
