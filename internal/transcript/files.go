package transcript

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// FileKind classifies the JSONL files that make up a session directory.
type FileKind int

const (
	// FileUnknown is a .jsonl file that matches no known naming scheme.
	FileUnknown FileKind = iota
	// FileMain is the primary session transcript: {uuid}.jsonl.
	FileMain
	// FileAgent is a sub-agent transcript: agent-{id}.jsonl.
	FileAgent
	// FileEvents is the companion event stream: {uuid}-events.jsonl.
	FileEvents
)

// FileInfo is the classification result for one transcript path.
type FileInfo struct {
	Kind      FileKind
	SessionID string
	AgentID   string
}

// ClassifyFile determines what role a .jsonl file plays in a session.
// Recognized shapes: {uuid}.jsonl and {uuid}_messages.jsonl (main),
// agent-{id}.jsonl (agent), {uuid}-events.jsonl and cli-{uuid}-events.jsonl
// (companion events).
func ClassifyFile(path string) FileInfo {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if name == "" {
		return FileInfo{Kind: FileUnknown}
	}

	if id := strings.TrimPrefix(name, "agent-"); id != name {
		if id != "" && len(id) <= 16 {
			return FileInfo{Kind: FileAgent, AgentID: id}
		}
	}

	if sid := strings.TrimSuffix(name, "-events"); sid != name {
		if isSessionID(sid) {
			return FileInfo{Kind: FileEvents, SessionID: sid}
		}
	}

	sid := strings.TrimSuffix(name, "_messages")
	if looksLikeUUID(sid) {
		return FileInfo{Kind: FileMain, SessionID: sid}
	}

	return FileInfo{Kind: FileUnknown}
}

func looksLikeUUID(s string) bool {
	if len(s) < 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

func isSessionID(s string) bool {
	if cli := strings.TrimPrefix(s, "cli-"); cli != s {
		return looksLikeUUID(cli)
	}
	return looksLikeUUID(s)
}

// SessionID extracts the session id a .jsonl file belongs to. Agent files do
// not encode it in their name, so the first line's sessionId field is read.
func SessionID(path string) string {
	info := ClassifyFile(path)
	switch info.Kind {
	case FileMain, FileEvents:
		return info.SessionID
	case FileAgent:
		return sessionIDFromFirstLine(path)
	}
	return ""
}

func sessionIDFromFirstLine(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	if !scanner.Scan() {
		return ""
	}
	var root map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &root); err != nil {
		return ""
	}
	return stringOr(root, "sessionId")
}

// EventsPathFor returns the companion event file path next to a main session
// file, or "" when none exists.
func EventsPathFor(sessionPath string) string {
	info := ClassifyFile(sessionPath)
	if info.Kind != FileMain {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(sessionPath), info.SessionID+"-events.jsonl")
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

// ProjectSlug extracts the encoded project directory name from a transcript
// path of the form .../projects/{slug}/{session}.jsonl.
func ProjectSlug(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, part := range parts {
		if part == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// DecodeProjectSlug reconstructs a filesystem path from an encoded slug like
// "-home-user-src-github-com-org-repo". Dashes become slashes; domain-like
// segments are repaired when the naive decoding does not exist on disk.
func DecodeProjectSlug(slug string) string {
	naive := strings.ReplaceAll(slug, "-", "/")
	if _, err := os.Stat(naive); err == nil {
		return naive
	}

	domainPatterns := [][2]string{
		{"/github/com/", "/github.com/"},
		{"/gitlab/com/", "/gitlab.com/"},
		{"/bitbucket/org/", "/bitbucket.org/"},
	}

	candidate := naive
	for _, p := range domainPatterns {
		if strings.Contains(candidate, p[0]) {
			fixed := strings.ReplaceAll(candidate, p[0], p[1])
			if _, err := os.Stat(fixed); err == nil {
				return fixed
			}
			candidate = fixed
		}
	}
	return candidate
}

// SessionFile is a directory listing entry for a session transcript.
type SessionFile struct {
	Name     string
	Path     string
	Size     int64
	Modified int64 // unix milliseconds
}

// ListSessionFiles returns the .jsonl files in dir, newest first. A missing
// directory yields an empty list, not an error.
func ListSessionFiles(dir string) ([]SessionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var files []SessionFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SessionFile{
			Name:     entry.Name(),
			Path:     filepath.Join(dir, entry.Name()),
			Size:     info.Size(),
			Modified: info.ModTime().UnixMilli(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Modified > files[j].Modified })
	return files, nil
}

// FileOperation is a file reference extracted from free-form message text.
type FileOperation struct {
	Path      string
	Operation string // "read", "write", "edit", "delete"
}

var (
	fileOpOnce  sync.Once
	readRE      *regexp.Regexp
	writeRE     *regexp.Regexp
	editRE      *regexp.Regexp
	fileRefRE   *regexp.Regexp
	validPathRE *regexp.Regexp
)

func compileFileOpPatterns() {
	readRE = regexp.MustCompile(`(?i)(?:Reading|Read)\s+` + "[`\"']?" + `([^\s` + "`\"'" + `\n]+\.[a-z]+)`)
	writeRE = regexp.MustCompile(`(?i)(?:Writing|Write|Created|Creating)\s+(?:to\s+)?` + "[`\"']?" + `([^\s` + "`\"'" + `\n]+\.[a-z]+)`)
	editRE = regexp.MustCompile(`(?i)(?:Editing|Edit|Updated|Updating|Modified)\s+` + "[`\"']?" + `([^\s` + "`\"'" + `\n]+\.[a-z]+)`)
	fileRefRE = regexp.MustCompile(`(?i)file[:\s]+` + "[`\"']?" + `([^\s` + "`\"'" + `\n]+\.[a-z]+)`)
	validPathRE = regexp.MustCompile(`^[\w./-]+\.[a-z]{1,10}$`)
}

// ExtractFileOperations scans message text for file mentions and returns the
// deduplicated operations, first mention wins.
func ExtractFileOperations(content string) []FileOperation {
	fileOpOnce.Do(compileFileOpPatterns)

	var ops []FileOperation
	seen := make(map[string]struct{})

	collect := func(re *regexp.Regexp, op string) {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			path := m[1]
			if !validFilePath(path) {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			if op == "" {
				op = inferOperation(content)
			}
			ops = append(ops, FileOperation{Path: path, Operation: op})
		}
	}

	collect(readRE, "read")
	collect(writeRE, "write")
	collect(editRE, "edit")
	collect(fileRefRE, "")

	return ops
}

func validFilePath(path string) bool {
	if !strings.Contains(path, ".") {
		return false
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return false
	}
	if len(path) < 3 || len(path) > 500 {
		return false
	}
	return validPathRE.MatchString(path)
}

func inferOperation(content string) string {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "created") || strings.Contains(lower, "writing") || strings.Contains(lower, "new file"):
		return "write"
	case strings.Contains(lower, "edited") || strings.Contains(lower, "updated") || strings.Contains(lower, "modified"):
		return "edit"
	case strings.Contains(lower, "deleted") || strings.Contains(lower, "removed"):
		return "delete"
	default:
		return "read"
	}
}
