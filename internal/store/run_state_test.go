package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyEvent_Lifecycle(t *testing.T) {
	run := Run{ID: "run-1", Prompt: "batteries", Status: StatusRunning, Stage: "started"}

	run = ApplyEvent(run, RunEvent{RunID: "run-1", Seq: 1, Type: "stage.changed", Timestamp: "2026-02-07T00:00:00Z", Payload: map[string]any{"stage": "planning"}})
	require.Equal(t, "planning", run.Stage)
	require.Equal(t, StatusRunning, run.Status)

	run = ApplyEvent(run, RunEvent{RunID: "run-1", Seq: 2, Type: "plan_ready", Payload: map[string]any{"stepCount": float64(3)}})
	require.Equal(t, 3, run.StepCount)
	require.Equal(t, int64(2), run.CheckpointSeq)
	require.Equal(t, "2026-02-07T00:00:00Z", run.UpdatedAt)

	run = ApplyEvent(run, RunEvent{
		RunID: "run-1", Seq: 5, Type: "run.completed", Timestamp: "2026-02-07T00:01:00Z",
		Payload: map[string]any{"sources": 4, "totalTokens": int64(900)},
	})
	require.Equal(t, StatusCompleted, run.Status)
	require.Equal(t, StatusCompleted, run.Stage)
	require.Equal(t, 4, run.SourceCount)
	require.Equal(t, 900, run.TotalTokens)
	require.Equal(t, "2026-02-07T00:01:00Z", run.FinishedAt)
}

func TestApplyEvent_Failure(t *testing.T) {
	run := ApplyEvent(Run{ID: "run-1", Status: StatusRunning}, RunEvent{Seq: 3, Type: "RUN.FAILED", Timestamp: "t", Payload: map[string]any{"message": "failed to generate a research plan"}})
	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, "failed to generate a research plan", run.Error)

	run = ApplyEvent(Run{ID: "run-2"}, RunEvent{Seq: 1, Type: "run.failed"})
	require.Equal(t, "research run failed", run.Error)
}

func TestApplyEvent_OlderSeqKeepsCheckpoint(t *testing.T) {
	run := ApplyEvent(Run{CheckpointSeq: 7}, RunEvent{Seq: 2, Type: "step.started"})
	require.Equal(t, int64(7), run.CheckpointSeq)
}

func TestBuildRunSteps(t *testing.T) {
	events := []RunEvent{
		{RunID: "run-1", Seq: 1, Type: "stage.changed", Payload: map[string]any{"stage": "retrieving"}},
		{RunID: "run-1", Seq: 2, Type: "step.skipped", Timestamp: "t2", Payload: map[string]any{"stepIndex": 1, "message": "Compare findings"}},
		{RunID: "run-1", Seq: 3, Type: "step.started", Timestamp: "t3", Payload: map[string]any{"stepIndex": float64(2), "message": "Costs", "query": "battery costs"}},
		{RunID: "run-1", Seq: 4, Type: "step.started", Timestamp: "t4", Payload: map[string]any{"stepIndex": 0, "message": "Survey", "query": "battery news"}},
		{RunID: "run-1", Seq: 5, Type: "step.completed", Timestamp: "t5", Payload: map[string]any{"stepIndex": 0, "message": "Survey", "sources": 3}},
		{RunID: "run-1", Seq: 6, Type: "step.failed", Timestamp: "t6", Payload: map[string]any{"stepIndex": float64(2), "message": `search failed for "battery costs"`}},
		{RunID: "run-1", Seq: 7, Type: "step.started", Payload: map[string]any{"message": "no index"}},
	}

	steps := BuildRunSteps(events)
	require.Len(t, steps, 3)

	require.Equal(t, RunStep{RunID: "run-1", Index: 0, Title: "Survey", Query: "battery news", Status: "completed", Sources: 3, StartedAt: "t4", CompletedAt: "t5"}, steps[0])
	require.Equal(t, "skipped", steps[1].Status)
	require.Equal(t, "Compare findings", steps[1].Title)
	require.Equal(t, "failed", steps[2].Status)
	require.Equal(t, "Costs", steps[2].Title)
	require.Equal(t, `search failed for "battery costs"`, steps[2].Message)
}

func TestCloneMap(t *testing.T) {
	original := map[string]any{"a": 1}
	cloned := CloneMap(original)
	cloned["a"] = 2
	require.Equal(t, 1, original["a"])
	require.NotNil(t, CloneMap(nil))
}
