// Package store journals research runs: their metadata and progress events.
// Reports themselves are never persisted.
package store

import "context"

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Run struct {
	ID            string
	Prompt        string
	Status        string
	Stage         string
	Mode          string
	StepCount     int
	SourceCount   int
	TotalTokens   int
	Error         string
	CheckpointSeq int64
	CreatedAt     string
	UpdatedAt     string
	FinishedAt    string
}

type RunEvent struct {
	RunID     string
	Seq       int64
	Type      string
	Timestamp string
	Source    string
	TraceID   string
	Payload   map[string]any
}

// Store is implemented by the memory and postgres journals. GetRun returns
// nil, nil for an unknown id.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]RunEvent, error)
	NextSeq(ctx context.Context, runID string) (int64, error)
	Ping(ctx context.Context) error
}
