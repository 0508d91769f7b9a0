package models

import "time"

// FileChange records a file modification extracted from a tool invocation.
// Idempotent on (session_id, file_path, line_number).
type FileChange struct {
	SessionID  string `json:"session_id"`
	FilePath   string `json:"file_path"`
	Action     string `json:"action"` // "created", "modified", "deleted"
	ToolName   string `json:"tool_name,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	HashBefore string `json:"hash_before,omitempty"`
	HashAfter  string `json:"hash_after,omitempty"`
	Timestamp  string `json:"timestamp"`
	LineNumber int    `json:"line_number"`
}

// TodoSnapshot is the latest todo list for a session, replaced wholesale on
// each TodoWrite. Event-sourced latest projection keyed by session id.
type TodoSnapshot struct {
	SessionID  string `json:"session_id"`
	MessageID  string `json:"message_id"`
	TodosJSON  string `json:"todos_json"`
	Timestamp  string `json:"timestamp"`
	LineNumber int    `json:"line_number"`
}

// NativeTask mirrors the assistant's built-in task system (TaskCreate /
// TaskUpdate tools). Keyed by task id.
type NativeTask struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	MessageID  string   `json:"message_id"`
	Subject    string   `json:"subject,omitempty"`
	Status     string   `json:"status,omitempty"`
	Owner      string   `json:"owner,omitempty"`
	ActiveForm string   `json:"active_form,omitempty"`
	Blocks     []string `json:"blocks,omitempty"`
	BlockedBy  []string `json:"blocked_by,omitempty"`
	Timestamp  string   `json:"timestamp"`
	LineNumber int      `json:"line_number"`
}

// TaskPhase is the lifecycle phase carried by a task event.
type TaskPhase string

const (
	TaskStart    TaskPhase = "start"
	TaskComplete TaskPhase = "complete"
	TaskFail     TaskPhase = "fail"
)

// TaskEvent is a task lifecycle transition (task_start / task_complete /
// task_fail) from the companion event file.
type TaskEvent struct {
	SessionID   string    `json:"session_id"`
	TaskID      string    `json:"task_id"`
	Phase       TaskPhase `json:"phase"`
	Description string    `json:"description,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	At          time.Time `json:"at"`
	LineNumber  int       `json:"line_number"`
}

// SentimentSample is a derived sentiment/frustration measurement for one
// user-authored message. Keyed by the message uuid it was computed from.
type SentimentSample struct {
	SessionID        string   `json:"session_id"`
	MessageID        string   `json:"message_id"`
	SentimentScore   float64  `json:"sentiment_score"`
	SentimentLevel   string   `json:"sentiment_level"`
	FrustrationScore *float64 `json:"frustration_score,omitempty"`
	FrustrationLevel string   `json:"frustration_level,omitempty"`
	Signals          []string `json:"signals,omitempty"`
	TaskID           string   `json:"task_id,omitempty"`
	Timestamp        string   `json:"timestamp"`
	LineNumber       int      `json:"line_number"`
}

// SummaryUpdate is the latest summary (or compact) for a session.
// Latest-wins projection keyed by session id.
type SummaryUpdate struct {
	SessionID  string `json:"session_id"`
	MessageID  string `json:"message_id"`
	Content    string `json:"content,omitempty"`
	RawJSON    string `json:"raw_json,omitempty"`
	Timestamp  string `json:"timestamp"`
	LineNumber int    `json:"line_number"`
	// CompactType is empty for plain summaries, otherwise one of
	// "compact", "auto_compact", "continuation".
	CompactType string `json:"compact_type,omitempty"`
}

// ValidationCacheEvent records one file's validation state from a
// hook_validation_cache event. Idempotent on
// (session_id, file_path, plugin, hook, command_hash).
type ValidationCacheEvent struct {
	SessionID   string `json:"session_id"`
	FilePath    string `json:"file_path"`
	FileHash    string `json:"file_hash"`
	Plugin      string `json:"plugin"`
	Hook        string `json:"hook"`
	Directory   string `json:"directory,omitempty"`
	CommandHash string `json:"command_hash"`
	LineNumber  int    `json:"line_number"`
}
