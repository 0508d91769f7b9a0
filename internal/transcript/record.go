// Package transcript parses individual JSONL transcript lines into typed
// records and extracts the structured payloads the indexer consumes: message
// content, tool invocations, token usage, line deltas, and compact markers.
package transcript

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/thebtf/chronicle/internal/jsonl"
	"github.com/thebtf/chronicle/pkg/models"
)

// Record is one successfully decoded transcript line. Timestamp may be empty
// for summaries and other records that resolve their time through a
// back-reference; the indexer fills it in during the second pass.
type Record struct {
	Kind       models.MessageKind
	UUID       string
	ParentUUID string
	AgentID    string
	// LeafUUID is the back-reference a summary carries to the message it
	// summarizes; its timestamp stands in for the summary's own.
	LeafUUID   string
	Timestamp  string
	Role       string
	Content    string
	ToolName   string
	ToolInput  string
	ToolResult string
	Raw        string
	Line       int

	// GeneratedUUID is set when the line carried no uuid and one was minted.
	GeneratedUUID bool

	root map[string]any
}

// Malformed describes a line that could not be decoded as a transcript
// record. It is recorded, never fatal.
type Malformed struct {
	Line   int
	Raw    string
	Reason string
}

// Parse decodes a single transcript line. Blank lines and lines that are not
// valid JSON objects with a type discriminant come back as Malformed.
func Parse(line jsonl.Line) (*Record, *Malformed) {
	raw := string(line.Content)
	if strings.TrimSpace(raw) == "" {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "blank line"}
	}

	var root map[string]any
	if err := json.Unmarshal(line.Content, &root); err != nil {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "invalid JSON: " + err.Error()}
	}

	typ, ok := stringField(root, "type")
	if !ok {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "missing type discriminant"}
	}

	rec := &Record{
		Kind:       models.ParseMessageKind(typ),
		ParentUUID: stringOr(root, "parentUuid"),
		AgentID:    stringOr(root, "agentId"),
		LeafUUID:   stringOr(root, "leafUuid"),
		Timestamp:  stringOr(root, "timestamp"),
		Raw:        raw,
		Line:       line.Number,
		root:       root,
	}

	if id, ok := stringField(root, "uuid"); ok {
		rec.UUID = id
	} else {
		rec.UUID = uuid.NewString()
		rec.GeneratedUUID = true
	}

	switch rec.Kind {
	case models.KindUser, models.KindAssistant, models.KindSystem:
		rec.Role = string(rec.Kind)
		rec.Content = flattenContent(root)
	case models.KindSummary:
		rec.Content = stringOr(root, "summary")
	case models.KindToolUse:
		rec.ToolName = stringOr(root, "name")
		if in, ok := root["input"]; ok {
			rec.ToolInput = marshalAny(in)
		}
	case models.KindToolResult:
		rec.ToolName = stringOr(root, "name")
		if res, ok := root["result"]; ok {
			if s, ok := res.(string); ok {
				rec.ToolResult = s
			} else {
				rec.ToolResult = marshalAny(res)
			}
		}
		if id, ok := stringField(root, "toolUseId"); ok {
			rec.ParentUUID = id
		} else if id, ok := stringField(root, "tool_use_id"); ok {
			rec.ParentUUID = id
		}
	case models.KindProgress:
		if id, ok := stringField(root, "parentToolUseID"); ok {
			rec.ParentUUID = id
		}
	case models.KindUnknown:
		// Unknown discriminants degrade to a passthrough record.
		rec.Content = flattenContent(root)
	}

	return rec, nil
}

// SnapshotTimestamp returns the nested snapshot.timestamp carried by
// file-history-snapshot records.
func (r *Record) SnapshotTimestamp() string {
	snap, ok := r.root["snapshot"].(map[string]any)
	if !ok {
		return ""
	}
	return stringOr(snap, "timestamp")
}

// TokenUsage is the model token accounting attached to assistant messages.
type TokenUsage struct {
	Input       int64
	Output      int64
	CacheRead   int64
	CacheCreate int64
}

// Usage extracts message.usage from an assistant record. The second return is
// false unless at least one of input/output tokens is present.
func (r *Record) Usage() (TokenUsage, bool) {
	if r.Kind != models.KindAssistant {
		return TokenUsage{}, false
	}
	var usage map[string]any
	if msg, ok := r.root["message"].(map[string]any); ok {
		usage, _ = msg["usage"].(map[string]any)
	}
	if usage == nil {
		usage, _ = r.root["usage"].(map[string]any)
	}
	if usage == nil {
		return TokenUsage{}, false
	}
	in, hasIn := intField(usage, "input_tokens")
	out, hasOut := intField(usage, "output_tokens")
	if !hasIn && !hasOut {
		return TokenUsage{}, false
	}
	cr, _ := intField(usage, "cache_read_input_tokens")
	cc, _ := intField(usage, "cache_creation_input_tokens")
	return TokenUsage{Input: in, Output: out, CacheRead: cr, CacheCreate: cc}, true
}

// LineChanges sums the line delta across Edit and Write tool_use blocks of an
// assistant message. Edit contributes new_string minus old_string line
// counts; Write contributes the content line count.
func (r *Record) LineChanges() (added, removed, files int, ok bool) {
	if r.Kind != models.KindAssistant {
		return 0, 0, 0, false
	}
	seen := make(map[string]struct{})
	for _, inv := range r.ToolInvocations() {
		var input map[string]any
		if err := json.Unmarshal([]byte(inv.Input), &input); err != nil {
			continue
		}
		path, _ := stringField(input, "file_path")
		if path == "" {
			continue
		}
		switch strings.ToLower(inv.Name) {
		case "edit":
			seen[path] = struct{}{}
			ok = true
			oldLines := strings.Count(stringOr(input, "old_string"), "\n") + 1
			newLines := strings.Count(stringOr(input, "new_string"), "\n") + 1
			if newLines > oldLines {
				added += newLines - oldLines
			} else {
				removed += oldLines - newLines
			}
		case "write":
			seen[path] = struct{}{}
			ok = true
			added += strings.Count(stringOr(input, "content"), "\n") + 1
		}
	}
	return added, removed, len(seen), ok
}

// ToolInvocation is one tool call carried by a record, either as a direct
// tool_use line or as a content block inside an assistant message.
type ToolInvocation struct {
	Name  string
	Input string
}

// ToolInvocations returns every tool call this record carries.
func (r *Record) ToolInvocations() []ToolInvocation {
	if r.Kind == models.KindToolUse {
		if r.ToolName == "" {
			return nil
		}
		return []ToolInvocation{{Name: r.ToolName, Input: r.ToolInput}}
	}
	if r.Kind != models.KindAssistant {
		return nil
	}
	blocks := contentBlocks(r.root)
	var invocations []ToolInvocation
	for _, block := range blocks {
		if stringOr(block, "type") != "tool_use" {
			continue
		}
		name := stringOr(block, "name")
		if name == "" {
			continue
		}
		inv := ToolInvocation{Name: name}
		if in, ok := block["input"]; ok {
			inv.Input = marshalAny(in)
		}
		invocations = append(invocations, inv)
	}
	return invocations
}

// CompactType reports whether this record marks a conversation compaction:
// "compact", "auto_compact", or "continuation". Empty for ordinary records.
func (r *Record) CompactType() string {
	if typ := stringOr(r.root, "type"); typ == "auto_compact" || typ == "compact" {
		return typ
	}
	if boolField(r.root, "is_compact") || boolField(r.root, "isCompact") {
		return "compact"
	}
	if boolField(r.root, "auto_compacted") {
		return "auto_compact"
	}
	if strings.Contains(r.Content, "This session is being continued from a previous conversation") {
		return "continuation"
	}
	return ""
}

// flattenContent extracts human-readable text from message.content (string or
// content-block array), falling back to a root content field.
func flattenContent(root map[string]any) string {
	if msg, ok := root["message"].(map[string]any); ok {
		if text := contentText(msg["content"]); text != "" {
			return text
		}
	}
	return contentText(root["content"])
}

func contentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch stringOr(block, "type") {
			case "text":
				if s := stringOr(block, "text"); s != "" {
					parts = append(parts, s)
				}
			case "thinking":
				if s := stringOr(block, "thinking"); s != "" {
					parts = append(parts, s)
				}
			case "tool_use":
				name := stringOr(block, "name")
				if name == "" {
					name = "unknown"
				}
				parts = append(parts, "[Tool: "+name+"]")
			case "tool_result":
				if s := contentText(block["content"]); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func contentBlocks(root map[string]any) []map[string]any {
	content := root["content"]
	if msg, ok := root["message"].(map[string]any); ok {
		if c, ok := msg["content"]; ok {
			content = c
		}
	}
	arr, ok := content.([]any)
	if !ok {
		return nil
	}
	blocks := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if block, ok := item.(map[string]any); ok {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

func stringOr(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func intField(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func marshalAny(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
