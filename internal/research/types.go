// Package research runs the plan, retrieve, extract and synthesize pipeline
// that turns an objective into a cited report.
package research

import (
	"time"
)

// PlannedStep is one unit of the research plan. Steps without a SearchQuery
// are analysis steps and trigger no retrieval.
type PlannedStep struct {
	Title       string  `json:"title"`
	Rationale   string  `json:"rationale"`
	SearchQuery *string `json:"searchQuery,omitempty"`
}

// HasQuery reports whether the step should be researched.
func (s PlannedStep) HasQuery() bool {
	return s.SearchQuery != nil && *s.SearchQuery != ""
}

// Query returns the search query or "".
func (s PlannedStep) Query() string {
	if s.SearchQuery == nil {
		return ""
	}
	return *s.SearchQuery
}

type RetrievedSource struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Highlights []string `json:"highlights"`
	RawContent string   `json:"rawContent"`
}

type RunMetadata struct {
	RunID       string    `json:"runId,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	TotalTokens *int      `json:"totalTokens,omitempty"`
}

type AgentRunResult struct {
	Plan             []PlannedStep     `json:"plan"`
	Sources          []RetrievedSource `json:"sources"`
	ExecutiveSummary string            `json:"executiveSummary"`
	DetailedReport   string            `json:"detailedReport"`
	Metadata         RunMetadata       `json:"metadata"`
}

// Report is the synthesizer output.
type Report struct {
	ExecutiveSummary string `json:"executiveSummary"`
	DetailedReport   string `json:"detailedReport"`
}

type Stage string

const (
	StageStarted      Stage = "started"
	StagePlanning     Stage = "planning"
	StageRetrieving   Stage = "retrieving"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Progress event types.
const (
	EventStageChanged  = "stage.changed"
	EventPlanReady     = "plan.ready"
	EventStepStarted   = "step.started"
	EventStepSkipped   = "step.skipped"
	EventStepFailed    = "step.failed"
	EventStepCompleted = "step.completed"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
)

// ProgressEvent describes one observable transition of a run.
type ProgressEvent struct {
	Type      string         `json:"type"`
	Stage     Stage          `json:"stage"`
	StepIndex *int           `json:"stepIndex,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProgressFunc receives events in the order they happen. It is called from
// the run's goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// Config holds the bounds applied to every run.
type Config struct {
	MaxPlanSteps         int
	MaxResultsPerQuery   int
	MaxSources           int
	MaxHighlights        int
	MaxHighlightChars    int
	HighlightMode        string
	HighlightChunkChars  int
	SourceExcerptChars   int
	ContextBudgetChars   int
	RetrievalConcurrency int
	FetchMissingContent  bool
	RunTimeout           time.Duration
}

const (
	HighlightModeHeuristic = "heuristic"
	HighlightModeLLM       = "llm"
)

func DefaultConfig() Config {
	return Config{
		MaxPlanSteps:         5,
		MaxResultsPerQuery:   5,
		MaxSources:           12,
		MaxHighlights:        4,
		MaxHighlightChars:    320,
		HighlightMode:        HighlightModeHeuristic,
		HighlightChunkChars:  600,
		SourceExcerptChars:   1200,
		ContextBudgetChars:   24000,
		RetrievalConcurrency: 4,
		FetchMissingContent:  true,
		RunTimeout:           3 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPlanSteps <= 0 {
		c.MaxPlanSteps = d.MaxPlanSteps
	}
	if c.MaxResultsPerQuery <= 0 {
		c.MaxResultsPerQuery = d.MaxResultsPerQuery
	}
	if c.MaxSources <= 0 {
		c.MaxSources = d.MaxSources
	}
	if c.MaxHighlights <= 0 {
		c.MaxHighlights = d.MaxHighlights
	}
	if c.MaxHighlightChars <= 0 {
		c.MaxHighlightChars = d.MaxHighlightChars
	}
	if c.HighlightMode == "" {
		c.HighlightMode = d.HighlightMode
	}
	if c.HighlightChunkChars <= 0 {
		c.HighlightChunkChars = d.HighlightChunkChars
	}
	if c.SourceExcerptChars <= 0 {
		c.SourceExcerptChars = d.SourceExcerptChars
	}
	if c.ContextBudgetChars <= 0 {
		c.ContextBudgetChars = d.ContextBudgetChars
	}
	if c.RetrievalConcurrency <= 0 {
		c.RetrievalConcurrency = d.RetrievalConcurrency
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	return c
}

func intPtr(v int) *int { return &v }
