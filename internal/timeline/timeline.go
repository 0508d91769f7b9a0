// Package timeline folds task lifecycle events into time ranges and answers
// which task was active at a given instant. It is used during indexing to
// attribute timestamped side effects, sentiment samples in particular, to the
// task that was in flight when they happened.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/thebtf/chronicle/pkg/models"
)

// Range is one task's span of activity. A nil End means the task never
// completed within the indexed range and extends to now.
type Range struct {
	TaskID string
	Start  time.Time
	End    *time.Time
}

// Timeline holds task ranges sorted by start time.
type Timeline struct {
	ranges   []Range
	warnings []string
}

// Build folds lifecycle events into a timeline. A start event opens a range;
// complete and fail events close the open range for that task id. A close
// without a matching open records a zero-duration range at the event time
// rather than being dropped. Overlapping ranges for distinct task ids are
// allowed; anomalies for the same id are surfaced through Warnings.
func Build(events []models.TaskEvent) *Timeline {
	ordered := make([]models.TaskEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	t := &Timeline{}
	open := make(map[string]int)

	for _, ev := range ordered {
		switch ev.Phase {
		case models.TaskStart:
			if idx, ok := open[ev.TaskID]; ok {
				t.warnings = append(t.warnings, fmt.Sprintf(
					"task %s restarted at %s while still open; closing previous range",
					ev.TaskID, ev.At.Format(time.RFC3339)))
				end := ev.At
				t.ranges[idx].End = &end
			}
			t.ranges = append(t.ranges, Range{TaskID: ev.TaskID, Start: ev.At})
			open[ev.TaskID] = len(t.ranges) - 1

		case models.TaskComplete, models.TaskFail:
			if idx, ok := open[ev.TaskID]; ok {
				end := ev.At
				if end.Before(t.ranges[idx].Start) {
					t.warnings = append(t.warnings, fmt.Sprintf(
						"task %s closed at %s before its start %s",
						ev.TaskID, ev.At.Format(time.RFC3339), t.ranges[idx].Start.Format(time.RFC3339)))
					end = t.ranges[idx].Start
				}
				t.ranges[idx].End = &end
				delete(open, ev.TaskID)
			} else {
				// Orphan close: record the task as a point in time.
				end := ev.At
				t.ranges = append(t.ranges, Range{TaskID: ev.TaskID, Start: ev.At, End: &end})
			}
		}
	}

	sort.SliceStable(t.ranges, func(i, j int) bool { return t.ranges[i].Start.Before(t.ranges[j].Start) })
	t.detectOverlaps()
	return t
}

// detectOverlaps flags instants covered by two ranges of the same task id.
func (t *Timeline) detectOverlaps() {
	last := make(map[string]Range)
	for _, r := range t.ranges {
		prev, ok := last[r.TaskID]
		if ok && prev.End != nil && !r.Start.After(*prev.End) {
			t.warnings = append(t.warnings, fmt.Sprintf(
				"task %s has overlapping ranges around %s",
				r.TaskID, r.Start.Format(time.RFC3339)))
		}
		last[r.TaskID] = r
	}
}

// ActiveTaskAt returns the task active at the given instant: the most
// recently started range containing it. Start and end are inclusive; an open
// end contains every later instant.
func (t *Timeline) ActiveTaskAt(at time.Time) (string, bool) {
	// First range starting after at; everything before is a candidate.
	idx := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].Start.After(at) })
	for i := idx - 1; i >= 0; i-- {
		r := t.ranges[i]
		if r.End == nil || !r.End.Before(at) {
			return r.TaskID, true
		}
	}
	return "", false
}

// Ranges returns the ranges sorted by start time.
func (t *Timeline) Ranges() []Range { return t.ranges }

// Warnings lists the inconsistencies observed while building.
func (t *Timeline) Warnings() []string { return t.warnings }
