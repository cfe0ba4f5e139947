package research

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
)

const tracerName = "github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"

// Orchestrator sequences planning, retrieval and synthesis for one
// objective. It holds no per-run state and is safe for concurrent use.
type Orchestrator struct {
	planner     *Planner
	gatherer    *Gatherer
	synthesizer *Synthesizer
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Components builds the stage components from the two providers.
func Components(completer llm.Completer, provider search.Provider, fetcher PageFetcher, cfg Config, logger *zap.Logger) (*Planner, *Gatherer, *Synthesizer) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.FetchMissingContent {
		fetcher = nil
	}
	planner := NewPlanner(completer, cfg.MaxPlanSteps, logger)
	retriever := NewRetriever(provider, fetcher, cfg.MaxResultsPerQuery, logger)
	extractor := NewExtractor(completer, cfg, logger)
	return planner, NewGatherer(retriever, extractor, cfg.RetrievalConcurrency), NewSynthesizer(completer, cfg)
}

// New wires an Orchestrator over a completion provider and a search
// provider. fetcher may be nil.
func New(completer llm.Completer, provider search.Provider, fetcher PageFetcher, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg.withDefaults(), logger: zap.NewNop(), tracer: otel.Tracer(tracerName), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.planner, o.gatherer, o.synthesizer = Components(completer, provider, fetcher, o.cfg, o.logger)
	return o
}

// RunOptions carries per-run hooks.
type RunOptions struct {
	RunID    string
	Progress ProgressFunc
}

// ValidateObjective trims objective and rejects blank input.
func ValidateObjective(objective string) (string, error) {
	trimmed := strings.TrimSpace(objective)
	if trimmed == "" {
		return "", NewStageError(ErrValidation, "prompt must not be empty", nil)
	}
	return trimmed, nil
}

func (o *Orchestrator) Run(ctx context.Context, objective string) (AgentRunResult, error) {
	return o.Execute(ctx, objective, RunOptions{})
}

// Execute runs the pipeline. Validation happens before any provider call.
// Planning and synthesis failures are fatal; per-step retrieval failures
// only remove that step's sources.
func (o *Orchestrator) Execute(ctx context.Context, objective string, opts RunOptions) (AgentRunResult, error) {
	objective, err := ValidateObjective(objective)
	if err != nil {
		return AgentRunResult{}, err
	}

	startedAt := o.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "research.run", trace.WithAttributes(attribute.String("research.run_id", opts.RunID)))
	defer span.End()

	run := &runState{o: o, runID: opts.RunID, progress: opts.Progress, span: span}
	run.stage(StageStarted)

	run.stage(StagePlanning)
	plan, err := o.plan(ctx, objective, run)
	if err != nil {
		return AgentRunResult{}, run.fail(StagePlanning, err)
	}

	run.stage(StageRetrieving)
	sources := o.retrieve(ctx, plan, run)

	run.stage(StageSynthesizing)
	report, err := o.synthesize(ctx, objective, plan, sources, run)
	if err != nil {
		return AgentRunResult{}, run.fail(StageSynthesizing, err)
	}

	finishedAt := o.now().UTC()
	if finishedAt.Before(startedAt) {
		finishedAt = startedAt
	}
	result := AgentRunResult{
		Plan:             plan,
		Sources:          sources,
		ExecutiveSummary: report.ExecutiveSummary,
		DetailedReport:   report.DetailedReport,
		Metadata: RunMetadata{
			RunID:      opts.RunID,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		},
	}
	if total := run.tokens.Load(); total > 0 {
		result.Metadata.TotalTokens = intPtr(int(total))
	}
	run.emit(ProgressEvent{
		Type:  EventRunCompleted,
		Stage: StageCompleted,
		Data:  map[string]any{"sources": len(sources), "totalTokens": run.tokens.Load()},
	})
	run.stage(StageCompleted)
	return result, nil
}

func (o *Orchestrator) plan(ctx context.Context, objective string, run *runState) ([]PlannedStep, error) {
	ctx, span := o.tracer.Start(ctx, "research.plan")
	defer span.End()
	plan, tokens, err := o.planner.Plan(ctx, objective)
	run.tokens.Add(int64(tokens))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("research.plan_steps", len(plan)))
	run.emit(ProgressEvent{Type: EventPlanReady, Stage: StagePlanning, Data: map[string]any{"steps": plan, "stepCount": len(plan)}})
	return plan, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, plan []PlannedStep, run *runState) []RetrievedSource {
	ctx, span := o.tracer.Start(ctx, "research.retrieve")
	defer span.End()

	perStep := make([][]RetrievedSource, len(plan))
	var g errgroup.Group
	g.SetLimit(o.cfg.RetrievalConcurrency)
	for i, step := range plan {
		index := i
		if !step.HasQuery() {
			run.emit(ProgressEvent{Type: EventStepSkipped, Stage: StageRetrieving, StepIndex: &index, Message: step.Title})
			continue
		}
		g.Go(func() error {
			run.emit(ProgressEvent{
				Type: EventStepStarted, Stage: StageRetrieving, StepIndex: &index, Message: step.Title,
				Data: map[string]any{"query": step.Query()},
			})
			sources, tokens, err := o.gatherer.Gather(ctx, step)
			run.tokens.Add(int64(tokens))
			if err != nil {
				o.logger.Warn("step retrieval failed",
					zap.String("run_id", run.runID),
					zap.Int("step", index),
					zap.String("query", step.Query()),
					zap.Error(err),
				)
				run.emit(ProgressEvent{
					Type: EventStepFailed, Stage: StageRetrieving, StepIndex: &index, Message: PublicMessage(err),
				})
				return nil
			}
			perStep[index] = sources
			run.emit(ProgressEvent{
				Type: EventStepCompleted, Stage: StageRetrieving, StepIndex: &index, Message: step.Title,
				Data: map[string]any{"sources": len(sources)},
			})
			return nil
		})
	}
	_ = g.Wait()

	sources := MergeSources(perStep, o.cfg.MaxSources)
	span.SetAttributes(attribute.Int("research.sources", len(sources)))
	return sources
}

func (o *Orchestrator) synthesize(ctx context.Context, objective string, plan []PlannedStep, sources []RetrievedSource, run *runState) (Report, error) {
	ctx, span := o.tracer.Start(ctx, "research.synthesize")
	defer span.End()
	report, tokens, err := o.synthesizer.Synthesize(ctx, objective, plan, sources)
	run.tokens.Add(int64(tokens))
	if err != nil {
		recordSpanError(span, err)
		return Report{}, err
	}
	return report, nil
}

// runState is the per-run accumulator for tokens and progress reporting.
type runState struct {
	o        *Orchestrator
	runID    string
	progress ProgressFunc
	span     trace.Span
	tokens   atomic.Int64
}

func (r *runState) emit(ev ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.o.now().UTC()
	}
	r.progress.emit(ev)
}

func (r *runState) stage(stage Stage) {
	r.emit(ProgressEvent{Type: EventStageChanged, Stage: stage})
}

func (r *runState) fail(stage Stage, err error) error {
	var se *StageError
	if !errors.As(err, &se) {
		kind := ErrPlanning
		if stage == StageSynthesizing {
			kind = ErrSynthesis
		}
		err = NewStageError(kind, "research run failed", err)
	}
	r.o.logger.Error("research run failed",
		zap.String("run_id", r.runID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	recordSpanError(r.span, err)
	r.emit(ProgressEvent{Type: EventRunFailed, Stage: StageFailed, Message: PublicMessage(err), Data: map[string]any{"failedStage": string(stage)}})
	r.stage(StageFailed)
	return err
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, PublicMessage(err))
}
