package research

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/provider"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
)

const batteryPlan = `{"steps":[
	{"title":"Survey recent developments","rationale":"Collect recent solid-state battery news","searchQuery":"solid-state battery trends 2024"},
	{"title":"Assess implications","rationale":"Compare findings and draw conclusions","searchQuery":null}
]}`

func batteryDocs() map[string][]search.Document {
	return map[string][]search.Document{
		"solid-state battery trends 2024": {{
			URL:        "https://example.com/ssb",
			Title:      "Solid-state batteries",
			RawContent: "Solid-state battery makers announced pilot lines. Sulfide electrolytes lead on conductivity.",
		}},
	}
}

func newTestOrchestrator(completer *scriptedLLM, provider search.Provider, opts ...Option) *Orchestrator {
	cfg := DefaultConfig()
	cfg.FetchMissingContent = false
	return New(completer, provider, nil, cfg, opts...)
}

type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) record(ev ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) stages() []Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Stage
	for _, ev := range l.events {
		if ev.Type == EventStageChanged {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func TestRunScenarioA(t *testing.T) {
	completer := newScriptedLLM().
		on(plannerSystemPrompt, batteryPlan, 100).
		on(summarySystemPrompt, "Solid-state batteries are moving to pilot production [1].", 40).
		on(reportSystemPrompt, "### Survey recent developments\nPilot lines were announced [1].", 60)
	searcher := &fakeSearch{results: batteryDocs()}
	events := &eventLog{}

	result, err := newTestOrchestrator(completer, searcher).Execute(context.Background(),
		"  Summarize recent trends in solid-state batteries ", RunOptions{RunID: "run-a", Progress: events.record})
	require.NoError(t, err)

	require.Len(t, result.Plan, 2)
	require.Len(t, result.Sources, 1)
	require.NotEmpty(t, result.ExecutiveSummary)
	require.NotEmpty(t, result.DetailedReport)
	require.Equal(t, "https://example.com/ssb", result.Sources[0].URL)
	require.NotNil(t, result.Sources[0].Highlights)
	require.Nil(t, result.Plan[1].SearchQuery)

	require.Equal(t, "run-a", result.Metadata.RunID)
	require.False(t, result.Metadata.FinishedAt.Before(result.Metadata.StartedAt))
	require.NotNil(t, result.Metadata.TotalTokens)
	require.Equal(t, 200, *result.Metadata.TotalTokens)

	// The analysis step never reaches the search provider.
	require.Equal(t, []string{"solid-state battery trends 2024"}, searcher.queries)
	require.Contains(t, completer.lastUser(plannerSystemPrompt), "Objective: Summarize recent trends in solid-state batteries")
	require.Contains(t, completer.lastUser(reportSystemPrompt), "[1] Solid-state batteries - https://example.com/ssb")

	require.Equal(t, []Stage{StageStarted, StagePlanning, StageRetrieving, StageSynthesizing, StageCompleted}, events.stages())
	require.Equal(t, 1, events.count(EventStepSkipped))
	require.Equal(t, 1, events.count(EventStepCompleted))
	require.Equal(t, 1, events.count(EventRunCompleted))
}

func TestRunScenarioBEmptyReportIsFatal(t *testing.T) {
	completer := newScriptedLLM().
		on(plannerSystemPrompt, batteryPlan, 0).
		on(summarySystemPrompt, "A summary.", 0).
		on(reportSystemPrompt, "  \n ", 0)
	events := &eventLog{}

	result, err := newTestOrchestrator(completer, &fakeSearch{results: batteryDocs()}).Execute(context.Background(),
		"Summarize recent trends in solid-state batteries", RunOptions{Progress: events.record})
	require.ErrorIs(t, err, ErrSynthesis)
	require.Equal(t, AgentRunResult{}, result)
	require.Equal(t, "failed to write the detailed report", PublicMessage(err))

	stages := events.stages()
	require.Equal(t, StageFailed, stages[len(stages)-1])
	require.Equal(t, 1, events.count(EventRunFailed))
}

func TestRunScenarioCRetrievalFailuresAreAbsorbed(t *testing.T) {
	plan := `{"steps":[
		{"title":"One","rationale":"r1","searchQuery":"q1"},
		{"title":"Two","rationale":"r2","searchQuery":"q2"}
	]}`
	completer := newScriptedLLM().
		on(plannerSystemPrompt, plan, 10).
		on(summarySystemPrompt, "No sources were available.", 5).
		on(reportSystemPrompt, "Tentative report.", 5)
	searcher := &fakeSearch{err: provider.FromStatus("tavily", http.StatusServiceUnavailable, nil)}
	events := &eventLog{}

	result, err := newTestOrchestrator(completer, searcher).Execute(context.Background(), "objective", RunOptions{Progress: events.record})
	require.NoError(t, err)
	require.NotNil(t, result.Sources)
	require.Empty(t, result.Sources)
	require.Equal(t, 2, searcher.callCount())
	require.Equal(t, 2, events.count(EventStepFailed))
	require.Equal(t, 1, completer.callCount(summarySystemPrompt))
	require.Contains(t, completer.lastUser(reportSystemPrompt), "no sources were retrieved")
}

func TestRunKeepsSourcesOfStepsThatSucceed(t *testing.T) {
	plan := `{"steps":[
		{"title":"Broken","rationale":"r1","searchQuery":"q1"},
		{"title":"Working","rationale":"pilot lines","searchQuery":"q2"},
		{"title":"Also broken","rationale":"r3","searchQuery":"q3"}
	]}`
	completer := newScriptedLLM().
		on(plannerSystemPrompt, plan, 10).
		on(summarySystemPrompt, "Pilot lines are scaling [1].", 5).
		on(reportSystemPrompt, "Report on pilot lines [1].", 5)
	searcher := &fakeSearch{
		results: map[string][]search.Document{
			"q2": {
				{URL: "https://survivor.example/a", Title: "Survivor A", RawContent: "Pilot lines are scaling."},
				{URL: "https://survivor.example/b", Title: "Survivor B", RawContent: "More pilot lines."},
			},
		},
		failures: map[string]error{
			"q1": provider.FromStatus("tavily", http.StatusTooManyRequests, nil),
			"q3": errors.New("connection reset"),
		},
	}
	events := &eventLog{}

	result, err := newTestOrchestrator(completer, searcher).Execute(context.Background(), "objective", RunOptions{Progress: events.record})
	require.NoError(t, err)
	require.Len(t, result.Plan, 3)
	require.Len(t, result.Sources, 2)
	require.Equal(t, "https://survivor.example/a", result.Sources[0].URL)
	require.Equal(t, "https://survivor.example/b", result.Sources[1].URL)
	require.Equal(t, 3, searcher.callCount())
	require.Equal(t, 2, events.count(EventStepFailed))
	require.Equal(t, 1, events.count(EventStepCompleted))
	require.Equal(t, 1, events.count(EventRunCompleted))
	require.Equal(t, "Report on pilot lines [1].", result.DetailedReport)
	require.Contains(t, completer.lastUser(reportSystemPrompt), "https://survivor.example/a")
	require.NotContains(t, completer.lastUser(reportSystemPrompt), "no sources were retrieved")
}

func TestRunRejectsBlankPromptWithoutProviderCalls(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t"} {
		completer := newScriptedLLM()
		searcher := &fakeSearch{}
		events := &eventLog{}

		_, err := newTestOrchestrator(completer, searcher).Execute(context.Background(), prompt, RunOptions{Progress: events.record})
		require.ErrorIs(t, err, ErrValidation)
		require.Zero(t, completer.total())
		require.Zero(t, searcher.callCount())
		require.Empty(t, events.stages())
	}
}

func TestRunPlanningFailures(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		completer := newScriptedLLM().fail(plannerSystemPrompt, provider.FromStatus("openai", http.StatusUnauthorized, nil))
		_, err := newTestOrchestrator(completer, &fakeSearch{}).Run(context.Background(), "objective")
		require.ErrorIs(t, err, ErrPlanning)
		require.ErrorIs(t, err, provider.ErrAuth)
		require.Equal(t, "failed to generate a research plan", PublicMessage(err))
	})

	t.Run("empty plan", func(t *testing.T) {
		completer := newScriptedLLM().on(plannerSystemPrompt, `{"steps":[{"title":"  "}]}`, 0)
		searcher := &fakeSearch{}
		_, err := newTestOrchestrator(completer, searcher).Run(context.Background(), "objective")
		require.ErrorIs(t, err, ErrPlanning)
		require.Zero(t, searcher.callCount())
		require.Zero(t, completer.callCount(summarySystemPrompt))
	})
}

func TestRunMergesInPlanOrderWithDedup(t *testing.T) {
	plan := `{"steps":[
		{"title":"A","rationale":"","searchQuery":"qa"},
		{"title":"B","rationale":"","searchQuery":"qb"},
		{"title":"C","rationale":"","searchQuery":"qc"}
	]}`
	completer := newScriptedLLM().
		on(plannerSystemPrompt, plan, 0).
		on(summarySystemPrompt, "s", 0).
		on(reportSystemPrompt, "r", 0)
	searcher := &fakeSearch{results: map[string][]search.Document{
		"qa": {{URL: "https://a.example/1", RawContent: "a1"}, {URL: "https://shared.example#top", RawContent: "shared"}},
		"qb": {{URL: "https://shared.example", RawContent: "shared again"}, {URL: "https://b.example/1", RawContent: "b1"}},
		"qc": {{URL: "https://c.example/1", RawContent: "c1"}},
	}}

	result, err := newTestOrchestrator(completer, searcher).Run(context.Background(), "objective")
	require.NoError(t, err)
	urls := make([]string, 0, len(result.Sources))
	for _, src := range result.Sources {
		urls = append(urls, src.URL)
	}
	require.Equal(t, []string{"https://a.example/1", "https://shared.example#top", "https://b.example/1", "https://c.example/1"}, urls)
	require.Nil(t, result.Metadata.TotalTokens)
}

func TestRunTimestampsClampWhenClockRegresses(t *testing.T) {
	completer := newScriptedLLM().
		on(plannerSystemPrompt, batteryPlan, 0).
		on(summarySystemPrompt, "s", 0).
		on(reportSystemPrompt, "r", 0)

	var mu sync.Mutex
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(-time.Minute)
		return current
	}

	result, err := newTestOrchestrator(completer, &fakeSearch{results: batteryDocs()}, WithClock(clock)).Run(context.Background(), "objective")
	require.NoError(t, err)
	require.Equal(t, result.Metadata.StartedAt, result.Metadata.FinishedAt)
}

func TestRunTimeoutCancelsInFlightCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RunTimeout = 20 * time.Millisecond
	searcher := &fakeSearch{}
	orch := New(llm.CompleterFunc(func(ctx context.Context, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}), searcher, nil, cfg)

	_, err := orch.Run(context.Background(), "objective")
	require.ErrorIs(t, err, ErrPlanning)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Zero(t, searcher.callCount())
}

func TestFinishedAtNotBeforeStartedAtProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("finishedAt >= startedAt for any clock drift", prop.ForAll(
		func(driftSeconds int) bool {
			completer := newScriptedLLM().
				on(plannerSystemPrompt, batteryPlan, 0).
				on(summarySystemPrompt, "s", 0).
				on(reportSystemPrompt, "r", 0)
			var mu sync.Mutex
			current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			clock := func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				current = current.Add(time.Duration(driftSeconds) * time.Second)
				return current
			}
			result, err := newTestOrchestrator(completer, &fakeSearch{results: batteryDocs()}, WithClock(clock)).Run(context.Background(), "objective")
			return err == nil && !result.Metadata.FinishedAt.Before(result.Metadata.StartedAt)
		},
		gen.IntRange(-3600, 3600),
	))

	properties.TestingRun(t)
}
