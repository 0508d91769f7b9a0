package indexer

import (
	"context"

	"github.com/thebtf/chronicle/pkg/models"
)

// Batch is the full set of side effects produced by one file run. It is
// applied atomically: either every write lands and the cursor advances, or
// nothing does.
type Batch struct {
	SessionID string
	FilePath  string

	Messages    []models.MessageInput
	FileChanges []models.FileChange
	Todos       []models.TodoSnapshot
	Tasks       []models.NativeTask
	TaskEvents  []models.TaskEvent
	Sentiments  []models.SentimentSample
	Summaries   []models.SummaryUpdate
	Validations []models.ValidationCacheEvent

	// Cursors are the checkpoints to persist once every write above has
	// been durably applied: one for the transcript itself and, when a
	// companion event file was consumed in the same run, one for it too.
	// A cursor never moves backwards.
	Cursors []models.SessionFileCursor
}

// Empty reports whether the batch carries no writes beyond the cursor.
func (b *Batch) Empty() bool {
	return len(b.Messages) == 0 && len(b.FileChanges) == 0 && len(b.Todos) == 0 &&
		len(b.Tasks) == 0 && len(b.TaskEvents) == 0 && len(b.Sentiments) == 0 &&
		len(b.Summaries) == 0 && len(b.Validations) == 0
}

// SideEffects counts the non-message writes in the batch.
func (b *Batch) SideEffects() int {
	return len(b.FileChanges) + len(b.Todos) + len(b.Tasks) + len(b.TaskEvents) +
		len(b.Sentiments) + len(b.Summaries) + len(b.Validations)
}

// Repository is the write contract the processor commits through. Every
// write is idempotent on its natural key: message uuid for messages, session
// id for latest-wins projections (todos, summary, compact), task id for
// native tasks, and composite keys for file changes and validations.
// Re-processing an already committed range must be a no-op.
type Repository interface {
	UpsertMessage(ctx context.Context, m models.MessageInput) error
	RecordFileChange(ctx context.Context, c models.FileChange) error
	UpsertLatestTodos(ctx context.Context, t models.TodoSnapshot) error
	UpsertNativeTask(ctx context.Context, task models.NativeTask) error
	RecordTaskEvent(ctx context.Context, e models.TaskEvent) error
	RecordSentimentSample(ctx context.Context, s models.SentimentSample) error
	UpsertLatestSummary(ctx context.Context, s models.SummaryUpdate) error
	UpsertLatestCompact(ctx context.Context, s models.SummaryUpdate) error
	RecordValidationCacheEvent(ctx context.Context, v models.ValidationCacheEvent) error

	// LoadCursor returns the checkpoint for a file, or a zero cursor when
	// the file has never been indexed.
	LoadCursor(ctx context.Context, sessionID, filePath string) (models.SessionFileCursor, error)
	// SaveCursor persists a checkpoint. Implementations must refuse to
	// move a cursor backwards.
	SaveCursor(ctx context.Context, c models.SessionFileCursor) error
	// ListTaskEvents returns the committed task lifecycle events for a
	// session, used to rebuild the task timeline for attribution.
	ListTaskEvents(ctx context.Context, sessionID string) ([]models.TaskEvent, error)

	// CommitBatch applies every write in the batch and saves its cursor in
	// one transaction.
	CommitBatch(ctx context.Context, b *Batch) error
}
