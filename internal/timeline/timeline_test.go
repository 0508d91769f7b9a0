package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chronicle/pkg/models"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestBuildOpensAndClosesRanges(t *testing.T) {
	events := []models.TaskEvent{
		{TaskID: "T1", Phase: models.TaskStart, At: at(t, "2026-01-01T10:00:00Z")},
		{TaskID: "T1", Phase: models.TaskComplete, At: at(t, "2026-01-01T10:30:00Z")},
		{TaskID: "T2", Phase: models.TaskStart, At: at(t, "2026-01-01T10:15:00Z")},
	}

	tl := Build(events)
	ranges := tl.Ranges()
	require.Len(t, ranges, 2)
	assert.Empty(t, tl.Warnings())

	assert.Equal(t, "T1", ranges[0].TaskID)
	require.NotNil(t, ranges[0].End)
	assert.Equal(t, at(t, "2026-01-01T10:30:00Z"), *ranges[0].End)

	assert.Equal(t, "T2", ranges[1].TaskID)
	assert.Nil(t, ranges[1].End)
}

func TestActiveTaskAt(t *testing.T) {
	tl := Build([]models.TaskEvent{
		{TaskID: "task-1", Phase: models.TaskStart, At: at(t, "2026-01-01T10:00:00Z")},
		{TaskID: "task-2", Phase: models.TaskStart, At: at(t, "2026-01-01T10:15:00Z")},
		{TaskID: "task-1", Phase: models.TaskComplete, At: at(t, "2026-01-01T10:30:00Z")},
	})

	tests := []struct {
		name     string
		at       string
		expected string
		found    bool
	}{
		{
			name:     "only first task open",
			at:       "2026-01-01T10:05:00Z",
			expected: "task-1",
			found:    true,
		},
		{
			name:     "both open prefers most recent",
			at:       "2026-01-01T10:20:00Z",
			expected: "task-2",
			found:    true,
		},
		{
			name:     "after first task ends",
			at:       "2026-01-01T10:35:00Z",
			expected: "task-2",
			found:    true,
		},
		{
			name:  "before any task",
			at:    "2026-01-01T09:00:00Z",
			found: false,
		},
		{
			name:     "inclusive start",
			at:       "2026-01-01T10:00:00Z",
			expected: "task-1",
			found:    true,
		},
		{
			name:     "inclusive end",
			at:       "2026-01-01T10:30:00Z",
			expected: "task-2", // most recent containing range wins
			found:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := tl.ActiveTaskAt(at(t, tt.at))
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.expected, id)
		})
	}
}

func TestOrphanCloseRecordsZeroDurationRange(t *testing.T) {
	tl := Build([]models.TaskEvent{
		{TaskID: "ghost", Phase: models.TaskComplete, At: at(t, "2026-01-01T12:00:00Z")},
	})

	ranges := tl.Ranges()
	require.Len(t, ranges, 1)
	require.NotNil(t, ranges[0].End)
	assert.Equal(t, ranges[0].Start, *ranges[0].End)

	id, ok := tl.ActiveTaskAt(at(t, "2026-01-01T12:00:00Z"))
	assert.True(t, ok)
	assert.Equal(t, "ghost", id)

	_, ok = tl.ActiveTaskAt(at(t, "2026-01-01T12:00:01Z"))
	assert.False(t, ok)
}

func TestFailClosesRange(t *testing.T) {
	tl := Build([]models.TaskEvent{
		{TaskID: "T1", Phase: models.TaskStart, At: at(t, "2026-01-01T10:00:00Z")},
		{TaskID: "T1", Phase: models.TaskFail, At: at(t, "2026-01-01T10:10:00Z")},
	})

	ranges := tl.Ranges()
	require.Len(t, ranges, 1)
	require.NotNil(t, ranges[0].End)
	assert.Equal(t, at(t, "2026-01-01T10:10:00Z"), *ranges[0].End)
}

func TestRestartWarnsAndClosesPrevious(t *testing.T) {
	tl := Build([]models.TaskEvent{
		{TaskID: "T1", Phase: models.TaskStart, At: at(t, "2026-01-01T10:00:00Z")},
		{TaskID: "T1", Phase: models.TaskStart, At: at(t, "2026-01-01T10:05:00Z")},
	})

	ranges := tl.Ranges()
	require.Len(t, ranges, 2)
	require.NotNil(t, ranges[0].End)
	assert.Nil(t, ranges[1].End)

	warnings := tl.Warnings()
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "restarted")
}

func TestEmptyTimeline(t *testing.T) {
	tl := Build(nil)
	assert.Empty(t, tl.Ranges())
	_, ok := tl.ActiveTaskAt(at(t, "2026-01-01T10:00:00Z"))
	assert.False(t, ok)
}
