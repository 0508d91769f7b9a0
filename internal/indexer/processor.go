// Package indexer turns transcript files into repository batches. A file run
// is two passes over the unindexed tail of the file: the first parses every
// line and builds a uuid-to-timestamp map, the second resolves
// back-referenced timestamps, extracts side effects, and stages everything
// into a single batch. The cursor advances only after the batch commits.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chronicle/internal/jsonl"
	"github.com/thebtf/chronicle/internal/privacy"
	"github.com/thebtf/chronicle/internal/sentiment"
	"github.com/thebtf/chronicle/internal/timeline"
	"github.com/thebtf/chronicle/internal/transcript"
	"github.com/thebtf/chronicle/pkg/models"
)

const (
	defaultPageSize = 1000
	// Companion events keep their own line numbering; the offset keeps
	// their message rows from colliding with transcript line numbers.
	eventLineOffset = 1_000_000
)

// IndexResult summarizes one file run.
type IndexResult struct {
	SessionID          string
	FilePath           string
	LinesProcessed     int
	MessagesIndexed    int
	SideEffectsEmitted int
	NewSession         bool
	// Problems is the ordered list of malformed lines and warnings
	// encountered during the run. They never abort indexing.
	Problems []Problem
}

// Processor indexes transcript files through a Repository.
type Processor struct {
	repo     Repository
	analyzer *sentiment.Analyzer
	pageSize int
}

// Option configures a Processor.
type Option func(*Processor)

// WithPageSize overrides the read page size.
func WithPageSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// New builds a Processor.
func New(repo Repository, opts ...Option) *Processor {
	p := &Processor{
		repo:     repo,
		analyzer: sentiment.NewAnalyzer(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IndexFile incrementally indexes one transcript file from its cursor. For a
// main session file the companion event file, when present, is consumed into
// the same batch. Returns an *IOError or *RepositoryError on abort; the
// cursor is untouched in either case.
func (p *Processor) IndexFile(ctx context.Context, path string) (*IndexResult, error) {
	info := transcript.ClassifyFile(path)
	sessionID := transcript.SessionID(path)
	if sessionID == "" {
		return nil, fmt.Errorf("cannot determine session id for %s", path)
	}

	result := &IndexResult{SessionID: sessionID, FilePath: path}
	batch := &Batch{SessionID: sessionID, FilePath: path}

	cursor, err := p.repo.LoadCursor(ctx, sessionID, path)
	if err != nil {
		return nil, &RepositoryError{Op: "LoadCursor", Err: err}
	}
	result.NewSession = cursor.LastIndexedAt == "" && cursor.LastIndexedLine == 0

	// Task lifecycle events drive sentiment attribution; start from what
	// is already committed and fold in anything this run discovers.
	taskEvents, err := p.repo.ListTaskEvents(ctx, sessionID)
	if err != nil {
		return nil, &RepositoryError{Op: "ListTaskEvents", Err: err}
	}

	if info.Kind == transcript.FileEvents {
		if err := p.stageEvents(sessionID, path, &cursor, batch, result); err != nil {
			return nil, err
		}
		return p.commit(ctx, batch, result)
	}

	// Companion events first so that task attribution inside the main
	// file's pass 2 can see them.
	if eventsPath := transcript.EventsPathFor(path); eventsPath != "" {
		eventsCursor, err := p.repo.LoadCursor(ctx, sessionID, eventsPath)
		if err != nil {
			return nil, &RepositoryError{Op: "LoadCursor", Err: err}
		}
		if err := p.stageEvents(sessionID, eventsPath, &eventsCursor, batch, result); err != nil {
			return nil, err
		}
	}
	taskEvents = append(taskEvents, batch.TaskEvents...)

	if err := p.stageTranscript(sessionID, path, &cursor, taskEvents, batch, result); err != nil {
		return nil, err
	}

	return p.commit(ctx, batch, result)
}

// FullScan indexes every recognized .jsonl file in a project directory. Main
// session files go first so sessions exist before their agent files land.
func (p *Processor) FullScan(ctx context.Context, dir string) ([]*IndexResult, error) {
	files, err := transcript.ListSessionFiles(dir)
	if err != nil {
		return nil, &IOError{Path: dir, Err: err}
	}

	var mains, agents []string
	for _, f := range files {
		switch transcript.ClassifyFile(f.Path).Kind {
		case transcript.FileMain:
			mains = append(mains, f.Path)
		case transcript.FileAgent:
			agents = append(agents, f.Path)
		}
		// Event files ride along with their main file.
	}

	var results []*IndexResult
	for _, path := range append(mains, agents...) {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.IndexFile(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("indexing failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// stageTranscript runs the two passes over the unindexed tail of a session
// or agent transcript and stages the outcome into the batch.
func (p *Processor) stageTranscript(sessionID, path string, cursor *models.SessionFileCursor,
	taskEvents []models.TaskEvent, batch *Batch, result *IndexResult) error {

	handle, err := jsonl.Open(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer handle.Close()

	// Pass 1: parse the tail, build the uuid->timestamp map.
	type parsedLine struct {
		rec  *transcript.Record
		line int
	}
	var (
		parsed   []parsedLine
		uuidToTS = make(map[string]string)
		maxLine  = cursor.LastIndexedLine
		start    = cursor.LastIndexedLine + 1
	)
	for {
		page := handle.ReadPage(start, p.pageSize)
		if len(page) == 0 {
			break
		}
		for _, line := range page {
			result.LinesProcessed++
			if line.Number > maxLine {
				maxLine = line.Number
			}
			rec, mal := transcript.Parse(line)
			if mal != nil {
				result.Problems = append(result.Problems, Problem{
					Kind: ProblemMalformedLine, Line: mal.Line, Message: mal.Reason,
				})
				continue
			}
			if rec.Timestamp != "" {
				uuidToTS[rec.UUID] = rec.Timestamp
			} else if ts := rec.SnapshotTimestamp(); ts != "" {
				uuidToTS[rec.UUID] = ts
			}
			parsed = append(parsed, parsedLine{rec: rec, line: line.Number})
		}
		start = page[len(page)-1].Number + 1
	}

	tl := timeline.Build(taskEvents)
	for _, warning := range tl.Warnings() {
		result.Problems = append(result.Problems, Problem{
			Kind: ProblemTimelineInconsistency, Message: warning,
		})
	}

	// Pass 2: resolve timestamps and stage rows.
	lastKnownTS := ""
	for _, pl := range parsed {
		rec := pl.rec
		ts, estimated := resolveTimestamp(rec, uuidToTS, lastKnownTS)
		if ts != "" {
			lastKnownTS = ts
		}

		input := models.MessageInput{
			ID:                 rec.UUID,
			SessionID:          sessionID,
			AgentID:            rec.AgentID,
			ParentID:           rec.ParentUUID,
			Kind:               rec.Kind,
			Role:               rec.Role,
			Content:            rec.Content,
			ToolName:           rec.ToolName,
			ToolInput:          rec.ToolInput,
			ToolResult:         rec.ToolResult,
			RawJSON:            rec.Raw,
			Timestamp:          ts,
			EstimatedTimestamp: estimated,
			LineNumber:         pl.line,
		}
		if usage, ok := rec.Usage(); ok {
			input.InputTokens = usage.Input
			input.OutputTokens = usage.Output
			input.CacheReadTokens = usage.CacheRead
			input.CacheCreateTokens = usage.CacheCreate
		}
		if added, removed, files, ok := rec.LineChanges(); ok {
			input.LinesAdded = added
			input.LinesRemoved = removed
			input.FilesChanged = files
		}

		p.stageToolEffects(sessionID, rec, ts, pl.line, batch)
		p.stageSummaryEffects(sessionID, rec, ts, pl.line, batch)

		// Sentiment scores user-authored text only; injected reminder and
		// command blocks are stripped first.
		if rec.Kind == models.KindUser && !privacy.IsEntirelyInjected(rec.Content) {
			if res := p.analyzer.Analyze(privacy.Clean(rec.Content)); res != nil {
				score := res.Score
				input.SentimentScore = &score
				input.SentimentLevel = string(res.Level)
				input.FrustrationScore = res.FrustrationScore
				input.FrustrationLevel = string(res.FrustrationLevel)
				batch.Sentiments = append(batch.Sentiments, p.sentimentSample(sessionID, rec, res, ts, pl.line, tl))
			}
		}

		batch.Messages = append(batch.Messages, input)
	}

	if maxLine > cursor.LastIndexedLine {
		batch.Cursors = append(batch.Cursors, models.SessionFileCursor{
			SessionID:       sessionID,
			FilePath:        path,
			LastIndexedLine: maxLine,
			LastIndexedAt:   time.Now().UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// stageEvents consumes the unindexed tail of a companion event file.
func (p *Processor) stageEvents(sessionID, path string, cursor *models.SessionFileCursor,
	batch *Batch, result *IndexResult) error {

	handle, err := jsonl.Open(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer handle.Close()

	// Out-of-line event payloads live under {dir}/{session-id}/.
	refBase := filepath.Join(filepath.Dir(path), sessionID)

	maxLine := cursor.LastIndexedLine
	start := cursor.LastIndexedLine + 1
	for {
		page := handle.ReadPage(start, p.pageSize)
		if len(page) == 0 {
			break
		}
		for _, line := range page {
			result.LinesProcessed++
			if line.Number > maxLine {
				maxLine = line.Number
			}
			ev, mal := transcript.ParseEvent(line, refBase)
			if mal != nil {
				result.Problems = append(result.Problems, Problem{
					Kind: ProblemMalformedLine, Line: mal.Line, Message: mal.Reason,
				})
				continue
			}
			p.stageEvent(sessionID, ev, batch, result)
		}
		start = page[len(page)-1].Number + 1
	}

	if maxLine > cursor.LastIndexedLine {
		batch.Cursors = append(batch.Cursors, models.SessionFileCursor{
			SessionID:       sessionID,
			FilePath:        path,
			LastIndexedLine: maxLine,
			LastIndexedAt:   time.Now().UTC().Format(time.RFC3339),
		})
	}
	return nil
}

func (p *Processor) stageEvent(sessionID string, ev *transcript.Event, batch *Batch, result *IndexResult) {
	if phase, ok := taskPhase(ev.Type); ok {
		at, err := time.Parse(time.RFC3339, ev.Timestamp)
		if err != nil {
			result.Problems = append(result.Problems, Problem{
				Kind: ProblemMalformedLine, Line: ev.Line,
				Message: "unparseable event timestamp: " + ev.Timestamp,
			})
			return
		}
		taskID, _ := ev.Data["task_id"].(string)
		if taskID == "" {
			result.Problems = append(result.Problems, Problem{
				Kind: ProblemMalformedLine, Line: ev.Line,
				Message: ev.Type + " missing task_id",
			})
			return
		}
		te := models.TaskEvent{
			SessionID:  sessionID,
			TaskID:     taskID,
			Phase:      phase,
			At:         at,
			LineNumber: ev.Line,
		}
		if desc, ok := ev.Data["description"].(string); ok {
			te.Description = desc
		}
		switch phase {
		case models.TaskComplete:
			te.Outcome, _ = ev.Data["outcome"].(string)
		case models.TaskFail:
			te.Outcome, _ = ev.Data["reason"].(string)
		}
		batch.TaskEvents = append(batch.TaskEvents, te)
	}

	if ev.Type == "hook_validation_cache" {
		p.stageValidationCache(sessionID, ev, batch, result)
	}

	// Every event is also kept as a message row for session reconstruction.
	content := ""
	if ev.Data != nil {
		if b, err := json.Marshal(ev.Data); err == nil {
			content = string(b)
		}
	}
	batch.Messages = append(batch.Messages, models.MessageInput{
		ID:         ev.ID,
		SessionID:  sessionID,
		AgentID:    ev.AgentID,
		Kind:       models.KindSessionEvent,
		Content:    content,
		ToolName:   ev.Type,
		RawJSON:    ev.Raw,
		Timestamp:  ev.Timestamp,
		LineNumber: eventLineOffset + ev.Line,
	})
}

// stageValidationCache explodes a hook_validation_cache event's files map
// into one validation row per file.
func (p *Processor) stageValidationCache(sessionID string, ev *transcript.Event, batch *Batch, result *IndexResult) {
	plugin, _ := ev.Data["plugin"].(string)
	hook, _ := ev.Data["hook"].(string)
	commandHash, _ := ev.Data["command_hash"].(string)
	directory, _ := ev.Data["directory"].(string)
	files, _ := ev.Data["files"].(map[string]any)
	if plugin == "" || hook == "" || commandHash == "" || files == nil {
		result.Problems = append(result.Problems, Problem{
			Kind: ProblemMalformedLine, Line: ev.Line,
			Message: "hook_validation_cache missing required fields",
		})
		return
	}
	for filePath, hash := range files {
		hashStr, _ := hash.(string)
		batch.Validations = append(batch.Validations, models.ValidationCacheEvent{
			SessionID:   sessionID,
			FilePath:    filePath,
			FileHash:    hashStr,
			Plugin:      plugin,
			Hook:        hook,
			Directory:   directory,
			CommandHash: commandHash,
			LineNumber:  ev.Line,
		})
	}
}

// stageToolEffects extracts file changes, todo snapshots, and native task
// writes from the record's tool invocations.
func (p *Processor) stageToolEffects(sessionID string, rec *transcript.Record, ts string, line int, batch *Batch) {
	for _, inv := range rec.ToolInvocations() {
		switch inv.Name {
		case "Write", "Edit", "NotebookEdit":
			if fc, ok := fileChangeFromTool(sessionID, rec.AgentID, inv, ts, line); ok {
				batch.FileChanges = append(batch.FileChanges, fc)
			}
		case "TodoWrite":
			if todos, ok := todosFromInput(inv.Input); ok {
				batch.Todos = append(batch.Todos, models.TodoSnapshot{
					SessionID:  sessionID,
					MessageID:  rec.UUID,
					TodosJSON:  todos,
					Timestamp:  ts,
					LineNumber: line,
				})
			}
		case "TaskCreate":
			if task, ok := taskFromCreate(sessionID, rec.UUID, inv.Input, ts, line); ok {
				batch.Tasks = append(batch.Tasks, task)
			}
		case "TaskUpdate":
			if task, ok := taskFromUpdate(sessionID, rec.UUID, inv.Input, ts, line); ok {
				batch.Tasks = append(batch.Tasks, task)
			}
		}
	}
}

// stageSummaryEffects stages latest-wins summary and compact projections.
func (p *Processor) stageSummaryEffects(sessionID string, rec *transcript.Record, ts string, line int, batch *Batch) {
	compactType := rec.CompactType()
	switch {
	case rec.Kind == models.KindSummary || compactType == "compact" || compactType == "auto_compact":
		batch.Summaries = append(batch.Summaries, models.SummaryUpdate{
			SessionID:   sessionID,
			MessageID:   rec.UUID,
			Content:     rec.Content,
			RawJSON:     rec.Raw,
			Timestamp:   ts,
			LineNumber:  line,
			CompactType: compactType,
		})
	case rec.Kind == models.KindUser && compactType == "continuation":
		batch.Summaries = append(batch.Summaries, models.SummaryUpdate{
			SessionID:   sessionID,
			MessageID:   rec.UUID,
			Content:     rec.Content,
			RawJSON:     rec.Raw,
			Timestamp:   ts,
			LineNumber:  line,
			CompactType: compactType,
		})
	}
}

func (p *Processor) sentimentSample(sessionID string, rec *transcript.Record, res *sentiment.Result,
	ts string, line int, tl *timeline.Timeline) models.SentimentSample {

	sample := models.SentimentSample{
		SessionID:        sessionID,
		MessageID:        rec.UUID,
		SentimentScore:   res.Score,
		SentimentLevel:   string(res.Level),
		FrustrationScore: res.FrustrationScore,
		FrustrationLevel: string(res.FrustrationLevel),
		Signals:          res.Signals,
		Timestamp:        ts,
		LineNumber:       line,
	}
	if at, err := time.Parse(time.RFC3339, ts); err == nil {
		// The sample sits just after the message it measures.
		sample.Timestamp = at.Add(time.Millisecond).UTC().Format("2006-01-02T15:04:05.000Z07:00")
		if taskID, ok := tl.ActiveTaskAt(at); ok {
			sample.TaskID = taskID
		}
	}
	return sample
}

// commit applies the batch and finishes the result. An empty batch with no
// cursor movement skips the repository entirely.
func (p *Processor) commit(ctx context.Context, batch *Batch, result *IndexResult) (*IndexResult, error) {
	if batch.Empty() && len(batch.Cursors) == 0 {
		return result, nil
	}
	if err := p.repo.CommitBatch(ctx, batch); err != nil {
		return nil, &RepositoryError{Op: "CommitBatch", Err: err}
	}
	result.MessagesIndexed = len(batch.Messages)
	result.SideEffectsEmitted = batch.SideEffects()
	log.Debug().
		Str("session_id", batch.SessionID).
		Str("path", batch.FilePath).
		Int("lines", result.LinesProcessed).
		Int("messages", result.MessagesIndexed).
		Int("side_effects", result.SideEffectsEmitted).
		Msg("committed index batch")
	return result, nil
}

// resolveTimestamp applies the back-reference chain: direct timestamp, then
// snapshot timestamp, then the summary leafUuid lookup, then parentUuid, then
// the previous line's timestamp. The estimated flag marks the last resort.
func resolveTimestamp(rec *transcript.Record, uuidToTS map[string]string, lastKnown string) (string, bool) {
	if rec.Timestamp != "" {
		return rec.Timestamp, false
	}
	if ts := rec.SnapshotTimestamp(); ts != "" {
		return ts, false
	}
	if rec.LeafUUID != "" {
		if ts, ok := uuidToTS[rec.LeafUUID]; ok {
			return ts, false
		}
	}
	if rec.ParentUUID != "" {
		if ts, ok := uuidToTS[rec.ParentUUID]; ok {
			return ts, false
		}
	}
	return lastKnown, true
}

func taskPhase(eventType string) (models.TaskPhase, bool) {
	switch eventType {
	case "task_start":
		return models.TaskStart, true
	case "task_complete":
		return models.TaskComplete, true
	case "task_fail":
		return models.TaskFail, true
	}
	return "", false
}

func fileChangeFromTool(sessionID, agentID string, inv transcript.ToolInvocation, ts string, line int) (models.FileChange, bool) {
	var input map[string]any
	if err := json.Unmarshal([]byte(inv.Input), &input); err != nil {
		return models.FileChange{}, false
	}
	pathKey := "file_path"
	if inv.Name == "NotebookEdit" {
		pathKey = "notebook_path"
	}
	rawPath, _ := input[pathKey].(string)
	if rawPath == "" {
		return models.FileChange{}, false
	}

	// Normalize symlinked mounts when possible.
	path := rawPath
	if resolved, err := filepath.EvalSymlinks(rawPath); err == nil {
		path = resolved
	}

	action := "modified"
	if inv.Name == "Write" {
		action = "created"
	}

	return models.FileChange{
		SessionID:  sessionID,
		FilePath:   path,
		Action:     action,
		ToolName:   inv.Name,
		AgentID:    agentID,
		HashAfter:  hashFile(path),
		Timestamp:  ts,
		LineNumber: line,
	}, true
}

// hashFile returns the sha256 of the file's current content, best effort.
func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

func todosFromInput(toolInput string) (string, bool) {
	var input map[string]any
	if err := json.Unmarshal([]byte(toolInput), &input); err != nil {
		return "", false
	}
	todos, ok := input["todos"].([]any)
	if !ok {
		return "", false
	}
	b, err := json.Marshal(todos)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func taskFromCreate(sessionID, messageID, toolInput, ts string, line int) (models.NativeTask, bool) {
	var input map[string]any
	if err := json.Unmarshal([]byte(toolInput), &input); err != nil {
		return models.NativeTask{}, false
	}
	subject, _ := input["subject"].(string)
	if subject == "" {
		return models.NativeTask{}, false
	}
	task := models.NativeTask{
		// Tool calls do not carry the assigned task id, so derive a
		// stable one from the session and subject for deduplication.
		ID:         deterministicTaskID(sessionID, subject),
		SessionID:  sessionID,
		MessageID:  messageID,
		Subject:    subject,
		Timestamp:  ts,
		LineNumber: line,
	}
	task.ActiveForm, _ = input["activeForm"].(string)
	return task, true
}

func taskFromUpdate(sessionID, messageID, toolInput, ts string, line int) (models.NativeTask, bool) {
	var input map[string]any
	if err := json.Unmarshal([]byte(toolInput), &input); err != nil {
		return models.NativeTask{}, false
	}
	taskID, _ := input["taskId"].(string)
	if taskID == "" {
		return models.NativeTask{}, false
	}
	task := models.NativeTask{
		ID:         taskID,
		SessionID:  sessionID,
		MessageID:  messageID,
		Timestamp:  ts,
		LineNumber: line,
	}
	task.Subject, _ = input["subject"].(string)
	task.Status, _ = input["status"].(string)
	task.Owner, _ = input["owner"].(string)
	task.ActiveForm, _ = input["activeForm"].(string)
	task.Blocks = stringSlice(input["addBlocks"])
	task.BlockedBy = stringSlice(input["addBlockedBy"])
	return task, true
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func deterministicTaskID(sessionID, subject string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"\x00"+subject)).String()
}
