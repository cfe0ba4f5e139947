package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

const ResearchWorkflowName = "ResearchWorkflow"

type ResearchInput struct {
	RunID                string
	Objective            string
	MaxSources           int
	RetrievalConcurrency int
	ActivityTimeout      time.Duration
}

type workflowRegistry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
}

func RegisterWorkflow(r workflowRegistry) {
	r.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{Name: ResearchWorkflowName})
}

// ResearchWorkflow runs the same stages as the inline orchestrator, one
// activity per stage and per plan step. Step futures are read in plan order,
// so the merged source list does not depend on completion order.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (research.AgentRunResult, error) {
	timeout := input.ActivityTimeout
	if timeout <= 0 {
		timeout = research.DefaultConfig().RunTimeout
	}
	concurrency := input.RetrievalConcurrency
	if concurrency <= 0 {
		concurrency = research.DefaultConfig().RetrievalConcurrency
	}
	maxSources := input.MaxSources
	if maxSources <= 0 {
		maxSources = research.DefaultConfig().MaxSources
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	logger := workflow.GetLogger(ctx)

	emit := func(ev research.ProgressEvent) {
		ev.Timestamp = workflow.Now(ctx).UTC()
		if err := workflow.ExecuteActivity(ctx, ActivityRecordProgress, ProgressInput{RunID: input.RunID, Event: ev}).Get(ctx, nil); err != nil {
			logger.Warn("failed to record progress", "type", ev.Type, "error", err)
		}
	}
	stage := func(s research.Stage) {
		emit(research.ProgressEvent{Type: research.EventStageChanged, Stage: s})
	}
	fail := func(s research.Stage, err error, kind error, message string) error {
		err = stageErrorFrom(err, kind, message)
		logger.Error("research run failed", "run_id", input.RunID, "stage", string(s), "error", err)
		emit(research.ProgressEvent{
			Type:    research.EventRunFailed,
			Stage:   research.StageFailed,
			Message: research.PublicMessage(err),
			Data:    map[string]any{"failedStage": string(s)},
		})
		stage(research.StageFailed)
		return toApplicationError(err)
	}

	startedAt := workflow.Now(ctx).UTC()
	tokens := 0
	stage(research.StageStarted)

	stage(research.StagePlanning)
	var plan PlanOutput
	if err := workflow.ExecuteActivity(ctx, ActivityGeneratePlan, PlanInput{RunID: input.RunID, Objective: input.Objective}).Get(ctx, &plan); err != nil {
		return research.AgentRunResult{}, fail(research.StagePlanning, err, research.ErrPlanning, "failed to generate a research plan")
	}
	tokens += plan.Tokens
	emit(research.ProgressEvent{
		Type:  research.EventPlanReady,
		Stage: research.StagePlanning,
		Data:  map[string]any{"steps": plan.Steps, "stepCount": len(plan.Steps)},
	})

	stage(research.StageRetrieving)
	perStep := make([][]research.RetrievedSource, len(plan.Steps))
	type pendingStep struct {
		index  int
		future workflow.Future
	}
	var pending []pendingStep
	collect := func(p pendingStep) {
		index := p.index
		var out RetrieveOutput
		if err := p.future.Get(ctx, &out); err != nil {
			err = stageErrorFrom(err, research.ErrRetrieval, "retrieval failed")
			logger.Warn("step retrieval failed", "run_id", input.RunID, "step", index, "error", err)
			emit(research.ProgressEvent{
				Type: research.EventStepFailed, Stage: research.StageRetrieving, StepIndex: &index, Message: research.PublicMessage(err),
			})
			return
		}
		tokens += out.Tokens
		perStep[index] = out.Sources
		emit(research.ProgressEvent{
			Type: research.EventStepCompleted, Stage: research.StageRetrieving, StepIndex: &index, Message: plan.Steps[index].Title,
			Data: map[string]any{"sources": len(out.Sources)},
		})
	}
	for i, step := range plan.Steps {
		index := i
		if !step.HasQuery() {
			emit(research.ProgressEvent{Type: research.EventStepSkipped, Stage: research.StageRetrieving, StepIndex: &index, Message: step.Title})
			continue
		}
		if len(pending) == concurrency {
			collect(pending[0])
			pending = pending[1:]
		}
		emit(research.ProgressEvent{
			Type: research.EventStepStarted, Stage: research.StageRetrieving, StepIndex: &index, Message: step.Title,
			Data: map[string]any{"query": step.Query()},
		})
		future := workflow.ExecuteActivity(ctx, ActivityRetrieveStep, RetrieveInput{RunID: input.RunID, Index: index, Step: step})
		pending = append(pending, pendingStep{index: index, future: future})
	}
	for _, p := range pending {
		collect(p)
	}
	sources := research.MergeSources(perStep, maxSources)

	stage(research.StageSynthesizing)
	var synth SynthesizeOutput
	if err := workflow.ExecuteActivity(ctx, ActivitySynthesizeReport, SynthesizeInput{
		RunID:     input.RunID,
		Objective: input.Objective,
		Plan:      plan.Steps,
		Sources:   sources,
	}).Get(ctx, &synth); err != nil {
		return research.AgentRunResult{}, fail(research.StageSynthesizing, err, research.ErrSynthesis, "failed to synthesize the report")
	}
	tokens += synth.Tokens

	finishedAt := workflow.Now(ctx).UTC()
	if finishedAt.Before(startedAt) {
		finishedAt = startedAt
	}
	result := research.AgentRunResult{
		Plan:             plan.Steps,
		Sources:          sources,
		ExecutiveSummary: synth.Report.ExecutiveSummary,
		DetailedReport:   synth.Report.DetailedReport,
		Metadata: research.RunMetadata{
			RunID:      input.RunID,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		},
	}
	if tokens > 0 {
		total := tokens
		result.Metadata.TotalTokens = &total
	}
	emit(research.ProgressEvent{
		Type:  research.EventRunCompleted,
		Stage: research.StageCompleted,
		Data:  map[string]any{"sources": len(sources), "totalTokens": tokens},
	})
	stage(research.StageCompleted)
	return result, nil
}
