// Package models contains domain models for chronicle.
package models

// MessageKind is the discriminant of a transcript record.
type MessageKind string

const (
	KindSummary             MessageKind = "summary"
	KindUser                MessageKind = "user"
	KindAssistant           MessageKind = "assistant"
	KindToolUse             MessageKind = "tool_use"
	KindToolResult          MessageKind = "tool_result"
	KindProgress            MessageKind = "progress"
	KindSystem              MessageKind = "system"
	KindFileHistorySnapshot MessageKind = "file-history-snapshot"
	KindSessionEvent        MessageKind = "session_event"
	KindUnknown             MessageKind = "unknown"
)

// ParseMessageKind maps a raw discriminant to a MessageKind.
// Unknown discriminants map to KindUnknown; the parser degrades them to a
// passthrough message rather than rejecting the line.
func ParseMessageKind(s string) MessageKind {
	switch s {
	case "summary", "user", "assistant", "tool_use", "tool_result",
		"progress", "system", "file-history-snapshot", "session_event":
		return MessageKind(s)
	default:
		return KindUnknown
	}
}

// MessageInput is the row shape submitted to the repository for one indexed
// transcript record. ID is the message uuid from the transcript; upserts are
// keyed on it.
type MessageInput struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	AgentID    string      `json:"agent_id,omitempty"`
	ParentID   string      `json:"parent_id,omitempty"`
	Kind       MessageKind `json:"kind"`
	Role       string      `json:"role,omitempty"`
	Content    string      `json:"content,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	ToolInput  string      `json:"tool_input,omitempty"`
	ToolResult string      `json:"tool_result,omitempty"`
	RawJSON    string      `json:"raw_json,omitempty"`
	Timestamp  string      `json:"timestamp"`
	// EstimatedTimestamp marks records whose timestamp was inherited from a
	// neighbouring line because neither the record nor its back-reference
	// carried one.
	EstimatedTimestamp bool  `json:"estimated_timestamp,omitempty"`
	LineNumber         int   `json:"line_number"`
	InputTokens        int64 `json:"input_tokens,omitempty"`
	OutputTokens       int64 `json:"output_tokens,omitempty"`
	CacheReadTokens    int64 `json:"cache_read_tokens,omitempty"`
	CacheCreateTokens  int64 `json:"cache_create_tokens,omitempty"`
	LinesAdded         int   `json:"lines_added,omitempty"`
	LinesRemoved       int   `json:"lines_removed,omitempty"`
	FilesChanged       int   `json:"files_changed,omitempty"`
	SentimentScore     *float64
	SentimentLevel     string
	FrustrationScore   *float64
	FrustrationLevel   string
}

// SessionFileCursor is the sole persisted checkpoint for a transcript file.
// It is owned by the indexing processor and mutated only after a side-effect
// batch is durably committed. LastIndexedLine never regresses.
type SessionFileCursor struct {
	SessionID       string `json:"session_id"`
	FilePath        string `json:"file_path"`
	LastIndexedLine int    `json:"last_indexed_line"`
	LastIndexedAt   string `json:"last_indexed_at"`
}
