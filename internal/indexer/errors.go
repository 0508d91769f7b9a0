package indexer

import "fmt"

// ProblemKind classifies the non-fatal problems collected during a file run.
type ProblemKind string

const (
	// ProblemMalformedLine marks a line that could not be decoded. The line
	// is recorded and indexing continues.
	ProblemMalformedLine ProblemKind = "malformed_line"
	// ProblemTimelineInconsistency marks a task timeline anomaly, such as
	// an instant covered by two ranges of the same task. Warning-class.
	ProblemTimelineInconsistency ProblemKind = "timeline_inconsistency"
)

// Problem is one recorded, non-fatal issue tied to a line of the source file.
// Line is zero for problems that are not line-scoped.
type Problem struct {
	Kind    ProblemKind
	Line    int
	Message string
}

func (p Problem) String() string {
	if p.Line > 0 {
		return fmt.Sprintf("%s at line %d: %s", p.Kind, p.Line, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Kind, p.Message)
}

// IOError aborts the current file run; the cursor is left untouched and the
// run is retried on the next watcher event.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("io failure on %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// RepositoryError aborts the current batch. The commit is transactional, so
// a failed batch leaves no partial writes and the cursor does not advance.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository failure in %s: %v", e.Op, e.Err)
}
func (e *RepositoryError) Unwrap() error { return e.Err }
