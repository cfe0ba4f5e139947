package api

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store/memory"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRun(ctx context.Context, run store.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *MockStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if value := args.Get(0); value != nil {
		return value.(*store.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	args := m.Called(ctx)
	var result []store.Run
	if value := args.Get(0); value != nil {
		result = value.([]store.Run)
	}
	return result, args.Error(1)
}

func (m *MockStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	args := m.Called(ctx, runID, afterSeq)
	var result []store.RunEvent
	if value := args.Get(0); value != nil {
		result = value.([]store.RunEvent)
	}
	return result, args.Error(1)
}

func (m *MockStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// stubRunner records the calls it receives and answers with a canned result.
type stubRunner struct {
	mu     sync.Mutex
	calls  []research.RunOptions
	result research.AgentRunResult
	err    error
	// events are emitted through the progress hook before returning.
	events []research.ProgressEvent
}

func (s *stubRunner) Execute(_ context.Context, _ string, opts research.RunOptions) (research.AgentRunResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, opts)
	s.mu.Unlock()
	for _, ev := range s.events {
		if opts.Progress != nil {
			opts.Progress(ev)
		}
	}
	return s.result, s.err
}

func (s *stubRunner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubRunner) lastCall() research.RunOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return research.RunOptions{}
	}
	return s.calls[len(s.calls)-1]
}

type testEnv struct {
	store    *memory.MemoryStore
	broker   *events.Broker
	recorder *events.Recorder
	server   *Server
}

func newTestEnv(runner Runner, cfg config.Config) *testEnv {
	st := memory.New()
	broker := events.NewBroker()
	recorder := events.NewRecorder(st, broker, "server", nil)
	return &testEnv{
		store:    st,
		broker:   broker,
		recorder: recorder,
		server:   NewServer(st, broker, recorder, runner, cfg, nil),
	}
}

func newTestServer(t *testing.T, server *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts
}

func inlineConfig() config.Config {
	return config.Config{ExecutionMode: config.ExecutionModeInline, LLMProvider: "local", SearchProvider: "tavily", TavilyAPIKey: "tv"}
}
