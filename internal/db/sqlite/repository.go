package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chronicle/internal/indexer"
	"github.com/thebtf/chronicle/pkg/models"
)

// UpsertMessage writes one message row, keyed on the transcript uuid.
func (s *Store) UpsertMessage(ctx context.Context, m models.MessageInput) error {
	return upsertMessage(ctx, s.db, m)
}

func upsertMessage(ctx context.Context, e execer, m models.MessageInput) error {
	const query = `
		INSERT INTO messages
		(id, session_id, agent_id, parent_id, kind, role, content, tool_name,
		 tool_input, tool_result, raw_json, timestamp, estimated_timestamp,
		 line_number, input_tokens, output_tokens, cache_read_tokens,
		 cache_create_tokens, lines_added, lines_removed, files_changed,
		 sentiment_score, sentiment_level, frustration_score, frustration_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			agent_id = excluded.agent_id,
			parent_id = excluded.parent_id,
			kind = excluded.kind,
			role = excluded.role,
			content = excluded.content,
			tool_name = excluded.tool_name,
			tool_input = excluded.tool_input,
			tool_result = excluded.tool_result,
			raw_json = excluded.raw_json,
			timestamp = excluded.timestamp,
			estimated_timestamp = excluded.estimated_timestamp,
			line_number = excluded.line_number,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read_tokens = excluded.cache_read_tokens,
			cache_create_tokens = excluded.cache_create_tokens,
			lines_added = excluded.lines_added,
			lines_removed = excluded.lines_removed,
			files_changed = excluded.files_changed,
			sentiment_score = excluded.sentiment_score,
			sentiment_level = excluded.sentiment_level,
			frustration_score = excluded.frustration_score,
			frustration_level = excluded.frustration_level
	`
	_, err := e.ExecContext(ctx, query,
		m.ID, m.SessionID, m.AgentID, m.ParentID, string(m.Kind), m.Role,
		m.Content, m.ToolName, m.ToolInput, m.ToolResult, m.RawJSON,
		m.Timestamp, m.EstimatedTimestamp, m.LineNumber,
		m.InputTokens, m.OutputTokens, m.CacheReadTokens, m.CacheCreateTokens,
		m.LinesAdded, m.LinesRemoved, m.FilesChanged,
		nullFloat(m.SentimentScore), m.SentimentLevel,
		nullFloat(m.FrustrationScore), m.FrustrationLevel,
	)
	return err
}

// RecordFileChange records one file change, idempotent on
// (session_id, file_path, line_number).
func (s *Store) RecordFileChange(ctx context.Context, c models.FileChange) error {
	return recordFileChange(ctx, s.db, c)
}

func recordFileChange(ctx context.Context, e execer, c models.FileChange) error {
	const query = `
		INSERT INTO file_changes
		(session_id, file_path, action, tool_name, agent_id, hash_before,
		 hash_after, timestamp, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, file_path, line_number) DO UPDATE SET
			action = excluded.action,
			tool_name = excluded.tool_name,
			agent_id = excluded.agent_id,
			hash_before = excluded.hash_before,
			hash_after = excluded.hash_after,
			timestamp = excluded.timestamp
	`
	_, err := e.ExecContext(ctx, query,
		c.SessionID, c.FilePath, c.Action, c.ToolName, c.AgentID,
		c.HashBefore, c.HashAfter, c.Timestamp, c.LineNumber,
	)
	return err
}

// UpsertLatestTodos replaces the session's todo list wholesale.
func (s *Store) UpsertLatestTodos(ctx context.Context, t models.TodoSnapshot) error {
	return upsertLatestTodos(ctx, s.db, t)
}

func upsertLatestTodos(ctx context.Context, e execer, t models.TodoSnapshot) error {
	const query = `
		INSERT INTO latest_todos (session_id, message_id, todos_json, timestamp, line_number)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			message_id = excluded.message_id,
			todos_json = excluded.todos_json,
			timestamp = excluded.timestamp,
			line_number = excluded.line_number
	`
	_, err := e.ExecContext(ctx, query, t.SessionID, t.MessageID, t.TodosJSON, t.Timestamp, t.LineNumber)
	return err
}

// UpsertNativeTask writes a task row. Updates merge field-wise: an empty
// field in the incoming row keeps the stored value, so a status-only
// TaskUpdate does not wipe the subject recorded at creation.
func (s *Store) UpsertNativeTask(ctx context.Context, task models.NativeTask) error {
	return upsertNativeTask(ctx, s.db, task)
}

func upsertNativeTask(ctx context.Context, e execer, task models.NativeTask) error {
	const query = `
		INSERT INTO native_tasks
		(id, session_id, message_id, subject, status, owner, active_form,
		 blocks_json, blocked_by_json, timestamp, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id = excluded.message_id,
			subject = CASE WHEN excluded.subject != '' THEN excluded.subject ELSE subject END,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE status END,
			owner = CASE WHEN excluded.owner != '' THEN excluded.owner ELSE owner END,
			active_form = CASE WHEN excluded.active_form != '' THEN excluded.active_form ELSE active_form END,
			blocks_json = CASE WHEN excluded.blocks_json != '[]' THEN excluded.blocks_json ELSE blocks_json END,
			blocked_by_json = CASE WHEN excluded.blocked_by_json != '[]' THEN excluded.blocked_by_json ELSE blocked_by_json END,
			timestamp = excluded.timestamp,
			line_number = excluded.line_number
	`
	_, err := e.ExecContext(ctx, query,
		task.ID, task.SessionID, task.MessageID, task.Subject, task.Status,
		task.Owner, task.ActiveForm, marshalStrings(task.Blocks),
		marshalStrings(task.BlockedBy), task.Timestamp, task.LineNumber,
	)
	return err
}

// RecordTaskEvent records one lifecycle event, idempotent on
// (session_id, task_id, phase, line_number).
func (s *Store) RecordTaskEvent(ctx context.Context, ev models.TaskEvent) error {
	return recordTaskEvent(ctx, s.db, ev)
}

func recordTaskEvent(ctx context.Context, e execer, ev models.TaskEvent) error {
	const query = `
		INSERT INTO task_events
		(session_id, task_id, phase, description, outcome, at, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, task_id, phase, line_number) DO UPDATE SET
			description = excluded.description,
			outcome = excluded.outcome,
			at = excluded.at
	`
	_, err := e.ExecContext(ctx, query,
		ev.SessionID, ev.TaskID, string(ev.Phase), ev.Description, ev.Outcome,
		ev.At.UTC().Format(time.RFC3339), ev.LineNumber,
	)
	return err
}

// RecordSentimentSample writes one sample, keyed on the message uuid.
func (s *Store) RecordSentimentSample(ctx context.Context, sample models.SentimentSample) error {
	return recordSentimentSample(ctx, s.db, sample)
}

func recordSentimentSample(ctx context.Context, e execer, sample models.SentimentSample) error {
	const query = `
		INSERT INTO sentiment_samples
		(message_id, session_id, sentiment_score, sentiment_level,
		 frustration_score, frustration_level, signals_json, task_id,
		 timestamp, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			sentiment_score = excluded.sentiment_score,
			sentiment_level = excluded.sentiment_level,
			frustration_score = excluded.frustration_score,
			frustration_level = excluded.frustration_level,
			signals_json = excluded.signals_json,
			task_id = excluded.task_id,
			timestamp = excluded.timestamp,
			line_number = excluded.line_number
	`
	_, err := e.ExecContext(ctx, query,
		sample.MessageID, sample.SessionID, sample.SentimentScore,
		sample.SentimentLevel, nullFloat(sample.FrustrationScore),
		sample.FrustrationLevel, marshalStrings(sample.Signals),
		sample.TaskID, sample.Timestamp, sample.LineNumber,
	)
	return err
}

// UpsertLatestSummary replaces the session's summary projection.
func (s *Store) UpsertLatestSummary(ctx context.Context, u models.SummaryUpdate) error {
	return upsertProjection(ctx, s.db, "latest_summaries", u)
}

// UpsertLatestCompact replaces the session's compact projection.
func (s *Store) UpsertLatestCompact(ctx context.Context, u models.SummaryUpdate) error {
	return upsertProjection(ctx, s.db, "latest_compacts", u)
}

func upsertProjection(ctx context.Context, e execer, table string, u models.SummaryUpdate) error {
	// table is one of two package-internal constants, never user input.
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, message_id, content, raw_json, timestamp, line_number, compact_type)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			message_id = excluded.message_id,
			content = excluded.content,
			raw_json = excluded.raw_json,
			timestamp = excluded.timestamp,
			line_number = excluded.line_number,
			compact_type = excluded.compact_type
	`, table)
	_, err := e.ExecContext(ctx, query,
		u.SessionID, u.MessageID, u.Content, u.RawJSON, u.Timestamp,
		u.LineNumber, u.CompactType,
	)
	return err
}

// RecordValidationCacheEvent records one validated file, idempotent on
// (session_id, file_path, plugin, hook, command_hash).
func (s *Store) RecordValidationCacheEvent(ctx context.Context, v models.ValidationCacheEvent) error {
	return recordValidationCacheEvent(ctx, s.db, v)
}

func recordValidationCacheEvent(ctx context.Context, e execer, v models.ValidationCacheEvent) error {
	const query = `
		INSERT INTO validation_cache
		(session_id, file_path, file_hash, plugin, hook, directory, command_hash, line_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, file_path, plugin, hook, command_hash) DO UPDATE SET
			file_hash = excluded.file_hash,
			directory = excluded.directory,
			line_number = excluded.line_number
	`
	_, err := e.ExecContext(ctx, query,
		v.SessionID, v.FilePath, v.FileHash, v.Plugin, v.Hook, v.Directory,
		v.CommandHash, v.LineNumber,
	)
	return err
}

// LoadCursor returns the checkpoint for a file, zero-valued when the file
// has never been indexed.
func (s *Store) LoadCursor(ctx context.Context, sessionID, filePath string) (models.SessionFileCursor, error) {
	const query = `
		SELECT session_id, file_path, last_indexed_line, last_indexed_at
		FROM session_file_cursors
		WHERE file_path = ?
		LIMIT 1
	`
	var cursor models.SessionFileCursor
	err := s.db.QueryRowContext(ctx, query, filePath).Scan(
		&cursor.SessionID, &cursor.FilePath, &cursor.LastIndexedLine, &cursor.LastIndexedAt,
	)
	if err == sql.ErrNoRows {
		return models.SessionFileCursor{SessionID: sessionID, FilePath: filePath}, nil
	}
	if err != nil {
		return models.SessionFileCursor{}, err
	}
	return cursor, nil
}

// SaveCursor advances a file's checkpoint. Regression is refused.
func (s *Store) SaveCursor(ctx context.Context, cursor models.SessionFileCursor) error {
	return saveCursor(ctx, s.db, cursor)
}

func saveCursor(ctx context.Context, e execer, cursor models.SessionFileCursor) error {
	const query = `
		INSERT INTO session_file_cursors (file_path, session_id, last_indexed_line, last_indexed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			session_id = excluded.session_id,
			last_indexed_line = excluded.last_indexed_line,
			last_indexed_at = excluded.last_indexed_at
		WHERE excluded.last_indexed_line >= last_indexed_line
	`
	result, err := e.ExecContext(ctx, query,
		cursor.FilePath, cursor.SessionID, cursor.LastIndexedLine, cursor.LastIndexedAt,
	)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cursor for %s would regress to line %d", cursor.FilePath, cursor.LastIndexedLine)
	}
	return nil
}

// ResetCursors clears every file checkpoint, forcing a full reindex. Row
// upserts stay idempotent, so re-running over committed ranges is safe.
func (s *Store) ResetCursors(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_file_cursors`)
	return err
}

// ListTaskEvents returns a session's lifecycle events in timestamp order.
func (s *Store) ListTaskEvents(ctx context.Context, sessionID string) ([]models.TaskEvent, error) {
	const query = `
		SELECT session_id, task_id, phase, description, outcome, at, line_number
		FROM task_events
		WHERE session_id = ?
		ORDER BY at ASC, line_number ASC
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.TaskEvent
	for rows.Next() {
		var (
			ev    models.TaskEvent
			phase string
			at    string
		)
		if err := rows.Scan(&ev.SessionID, &ev.TaskID, &phase, &ev.Description, &ev.Outcome, &at, &ev.LineNumber); err != nil {
			return nil, err
		}
		ev.Phase = models.TaskPhase(phase)
		if ev.At, err = time.Parse(time.RFC3339, at); err != nil {
			return nil, fmt.Errorf("task event at line %d: %w", ev.LineNumber, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CommitBatch applies every row and cursor in one transaction. Either the
// whole batch lands or none of it does.
func (s *Store) CommitBatch(ctx context.Context, batch *indexer.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			log.Warn().Err(err).Msg("batch rollback failed")
		}
	}()

	for _, m := range batch.Messages {
		if err := upsertMessage(ctx, tx, m); err != nil {
			return fmt.Errorf("message %s: %w", m.ID, err)
		}
	}
	for _, c := range batch.FileChanges {
		if err := recordFileChange(ctx, tx, c); err != nil {
			return fmt.Errorf("file change line %d: %w", c.LineNumber, err)
		}
	}
	for _, t := range batch.Todos {
		if err := upsertLatestTodos(ctx, tx, t); err != nil {
			return fmt.Errorf("todos line %d: %w", t.LineNumber, err)
		}
	}
	for _, task := range batch.Tasks {
		if err := upsertNativeTask(ctx, tx, task); err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	for _, ev := range batch.TaskEvents {
		if err := recordTaskEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("task event line %d: %w", ev.LineNumber, err)
		}
	}
	for _, sample := range batch.Sentiments {
		if err := recordSentimentSample(ctx, tx, sample); err != nil {
			return fmt.Errorf("sentiment %s: %w", sample.MessageID, err)
		}
	}
	for _, u := range batch.Summaries {
		table := "latest_summaries"
		if u.CompactType != "" {
			table = "latest_compacts"
		}
		if err := upsertProjection(ctx, tx, table, u); err != nil {
			return fmt.Errorf("summary line %d: %w", u.LineNumber, err)
		}
	}
	for _, v := range batch.Validations {
		if err := recordValidationCacheEvent(ctx, tx, v); err != nil {
			return fmt.Errorf("validation line %d: %w", v.LineNumber, err)
		}
	}
	for _, cursor := range batch.Cursors {
		if err := saveCursor(ctx, tx, cursor); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func marshalStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}
