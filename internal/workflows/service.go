package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
)

// Service starts research workflows and waits for their result.
type Service struct {
	client    client.Client
	taskQueue string
	cfg       research.Config
}

func NewService(client client.Client, taskQueue string, cfg research.Config) *Service {
	if taskQueue == "" {
		taskQueue = "research-runs"
	}
	return &Service{client: client, taskQueue: taskQueue, cfg: cfg}
}

// Execute validates the objective, runs the workflow and blocks until it
// finishes. When ctx ends first the workflow is cancelled.
func (s *Service) Execute(ctx context.Context, objective string, opts research.RunOptions) (research.AgentRunResult, error) {
	objective, err := research.ValidateObjective(objective)
	if err != nil {
		return research.AgentRunResult{}, err
	}
	timeout := s.cfg.RunTimeout
	if timeout <= 0 {
		timeout = research.DefaultConfig().RunTimeout
	}
	options := client.StartWorkflowOptions{
		ID:                       workflowID(opts.RunID),
		TaskQueue:                s.taskQueue,
		WorkflowExecutionTimeout: timeout,
	}
	run, err := s.client.ExecuteWorkflow(ctx, options, ResearchWorkflowName, ResearchInput{
		RunID:                opts.RunID,
		Objective:            objective,
		MaxSources:           s.cfg.MaxSources,
		RetrievalConcurrency: s.cfg.RetrievalConcurrency,
		ActivityTimeout:      timeout,
	})
	if err != nil {
		return research.AgentRunResult{}, research.NewStageError(research.ErrPlanning, "failed to start the research run", err)
	}

	var result research.AgentRunResult
	if err := run.Get(ctx, &result); err != nil {
		if ctx.Err() != nil {
			cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = s.CancelRun(cancelCtx, opts.RunID)
			cancel()
		}
		return research.AgentRunResult{}, stageErrorFrom(err, research.ErrPlanning, "research run failed")
	}
	if result.Metadata.RunID == "" {
		result.Metadata.RunID = opts.RunID
	}
	return result, nil
}

func (s *Service) CancelRun(ctx context.Context, runID string) error {
	return s.client.CancelWorkflow(ctx, workflowID(runID), "")
}

func workflowID(runID string) string {
	return fmt.Sprintf("research:%s", runID)
}
