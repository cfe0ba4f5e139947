package workflows

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

const (
	ActivityGeneratePlan     = "GeneratePlan"
	ActivityRetrieveStep     = "RetrieveStep"
	ActivitySynthesizeReport = "SynthesizeReport"
	ActivityRecordProgress   = "RecordProgress"
)

type PlanInput struct {
	RunID     string
	Objective string
}

type PlanOutput struct {
	Steps  []research.PlannedStep `json:"steps"`
	Tokens int                    `json:"tokens"`
}

type RetrieveInput struct {
	RunID string
	Index int
	Step  research.PlannedStep
}

type RetrieveOutput struct {
	Sources []research.RetrievedSource `json:"sources"`
	Tokens  int                        `json:"tokens"`
}

type SynthesizeInput struct {
	RunID     string
	Objective string
	Plan      []research.PlannedStep
	Sources   []research.RetrievedSource
}

type SynthesizeOutput struct {
	Report research.Report `json:"report"`
	Tokens int             `json:"tokens"`
}

type ProgressInput struct {
	RunID string
	Event research.ProgressEvent
}

// ResearchActivities runs the pipeline stages on a worker.
type ResearchActivities struct {
	planner     *research.Planner
	gatherer    *research.Gatherer
	synthesizer *research.Synthesizer
	recorder    *events.Recorder
}

// NewResearchActivities wires the stage components. recorder may be nil, in
// which case progress is dropped.
func NewResearchActivities(planner *research.Planner, gatherer *research.Gatherer, synthesizer *research.Synthesizer, recorder *events.Recorder) *ResearchActivities {
	return &ResearchActivities{planner: planner, gatherer: gatherer, synthesizer: synthesizer, recorder: recorder}
}

type activityRegistry interface {
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register registers every activity under its stable name.
func (a *ResearchActivities) Register(r activityRegistry) {
	r.RegisterActivityWithOptions(a.GeneratePlan, activity.RegisterOptions{Name: ActivityGeneratePlan})
	r.RegisterActivityWithOptions(a.RetrieveStep, activity.RegisterOptions{Name: ActivityRetrieveStep})
	r.RegisterActivityWithOptions(a.SynthesizeReport, activity.RegisterOptions{Name: ActivitySynthesizeReport})
	r.RegisterActivityWithOptions(a.RecordProgress, activity.RegisterOptions{Name: ActivityRecordProgress})
}

func (a *ResearchActivities) GeneratePlan(ctx context.Context, input PlanInput) (PlanOutput, error) {
	steps, tokens, err := a.planner.Plan(ctx, input.Objective)
	if err != nil {
		return PlanOutput{}, toApplicationError(err)
	}
	return PlanOutput{Steps: steps, Tokens: tokens}, nil
}

func (a *ResearchActivities) RetrieveStep(ctx context.Context, input RetrieveInput) (RetrieveOutput, error) {
	sources, tokens, err := a.gatherer.Gather(ctx, input.Step)
	if err != nil {
		return RetrieveOutput{}, toApplicationError(err)
	}
	return RetrieveOutput{Sources: sources, Tokens: tokens}, nil
}

func (a *ResearchActivities) SynthesizeReport(ctx context.Context, input SynthesizeInput) (SynthesizeOutput, error) {
	report, tokens, err := a.synthesizer.Synthesize(ctx, input.Objective, input.Plan, input.Sources)
	if err != nil {
		return SynthesizeOutput{}, toApplicationError(err)
	}
	return SynthesizeOutput{Report: report, Tokens: tokens}, nil
}

func (a *ResearchActivities) RecordProgress(ctx context.Context, input ProgressInput) error {
	if a.recorder == nil {
		return nil
	}
	ev := input.Event
	_, err := a.recorder.Record(ctx, input.RunID, ev.Type, ev.Timestamp, events.PayloadFor(ev))
	return err
}
