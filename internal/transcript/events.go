package transcript

import (
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"

	"github.com/thebtf/chronicle/internal/jsonl"
)

// Event is one entry from a session's companion event file. Type is the
// event discriminant (task_start, task_complete, task_fail,
// hook_validation_cache, hook_start, ...); Data is its payload.
type Event struct {
	ID        string
	Type      string
	Timestamp string
	AgentID   string
	Data      map[string]any
	Raw       string
	Line      int
}

// ParseEvent decodes a companion-file event line. Large payloads may be
// stored out of line as {"ref":"<relative path>"}; refBaseDir is the
// directory those refs resolve against, typically
// {dir}/{session-id}/ next to the event file. An empty refBaseDir leaves
// ref entries unresolved and parses the inline stub instead.
func ParseEvent(line jsonl.Line, refBaseDir string) (*Event, *Malformed) {
	raw := string(line.Content)

	var root map[string]any
	if err := json.Unmarshal(line.Content, &root); err != nil {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "invalid JSON: " + err.Error()}
	}

	if ref, ok := stringField(root, "ref"); ok && refBaseDir != "" {
		resolved, err := resolveRef(refBaseDir, ref)
		if err != nil {
			return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "unresolvable ref " + ref + ": " + err.Error()}
		}
		root = resolved
		if b, err := json.Marshal(resolved); err == nil {
			raw = string(b)
		}
	}

	id, ok := stringField(root, "uuid")
	if !ok {
		// Legacy event files carry "id" instead.
		if id, ok = stringField(root, "id"); !ok {
			return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "event missing uuid"}
		}
	}
	typ, ok := stringField(root, "type")
	if !ok {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "event missing type"}
	}
	ts, ok := stringField(root, "timestamp")
	if !ok {
		return nil, &Malformed{Line: line.Number, Raw: raw, Reason: "event missing timestamp"}
	}

	data, _ := root["data"].(map[string]any)

	return &Event{
		ID:        id,
		Type:      typ,
		Timestamp: ts,
		AgentID:   stringOr(root, "agentId"),
		Data:      data,
		Raw:       raw,
		Line:      line.Number,
	}, nil
}

func resolveRef(baseDir, ref string) (map[string]any, error) {
	content, err := os.ReadFile(filepath.Join(baseDir, ref))
	if err != nil {
		return nil, err
	}
	var root map[string]any
	if err := json.Unmarshal(content, &root); err != nil {
		return nil, err
	}
	return root, nil
}
