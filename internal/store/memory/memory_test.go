package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	m := New()

	require.NoError(t, m.CreateRun(ctx, store.Run{ID: "run-1", Prompt: "batteries", CreatedAt: "2026-02-07T00:00:00Z"}))
	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.Equal(t, store.StatusRunning, run.Status)
	require.Equal(t, "started", run.Stage)

	missing, err := m.GetRun(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestAppendEventAppliesRunState(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateRun(ctx, store.Run{ID: "run-1"}))

	payload := map[string]any{"stage": "planning"}
	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{RunID: "run-1", Seq: 1, Type: "STAGE_CHANGED", Timestamp: "2026-02-07T00:00:01Z", Payload: payload}))
	payload["stage"] = "mutated"
	require.NoError(t, m.AppendEvent(ctx, store.RunEvent{RunID: "run-1", Seq: 2, Type: "run.failed", Timestamp: "2026-02-07T00:00:02Z", Payload: map[string]any{"message": "failed to generate a research plan"}}))

	run, err := m.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, run.Status)
	require.Equal(t, "failed to generate a research plan", run.Error)
	require.Equal(t, "2026-02-07T00:00:02Z", run.FinishedAt)
	require.Equal(t, int64(2), run.CheckpointSeq)

	events, err := m.ListEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "stage.changed", events[0].Type)
	require.Equal(t, "planning", events[0].Payload["stage"])
}

func TestListEventsAfterSeq(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, seq := range []int64{3, 1, 2} {
		require.NoError(t, m.AppendEvent(ctx, store.RunEvent{RunID: "run-1", Seq: seq, Type: "step.started"}))
	}

	events, err := m.ListEvents(ctx, "run-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(2), events[0].Seq)
	require.Equal(t, int64(3), events[1].Seq)

	none, err := m.ListEvents(ctx, "other", 0)
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := New()
	require.NoError(t, m.CreateRun(ctx, store.Run{ID: "old", UpdatedAt: "2026-02-07T00:00:00Z"}))
	require.NoError(t, m.CreateRun(ctx, store.Run{ID: "new", UpdatedAt: "2026-02-07T00:05:00Z"}))

	runs, err := m.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "new", runs[0].ID)
	require.Equal(t, "old", runs[1].ID)
}

func TestNextSeqConcurrent(t *testing.T) {
	ctx := context.Background()
	m := New()

	var wg sync.WaitGroup
	seen := make(chan int64, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := m.NextSeq(ctx, "run-1")
			if err == nil {
				seen <- seq
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int64]bool{}
	for seq := range seen {
		unique[seq] = true
	}
	require.Len(t, unique, 50)
	require.True(t, unique[1])
	require.True(t, unique[50])
}

func TestPing(t *testing.T) {
	require.NoError(t, New().Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, New().Ping(ctx))
}
