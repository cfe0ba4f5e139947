package main

import (
	"errors"
	"testing"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store/postgres"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/workflows"
)

type stubWorker struct {
	runErr     error
	workflows  []string
	activities []string
}

func (s *stubWorker) RegisterWorkflowWithOptions(_ interface{}, options workflow.RegisterOptions) {
	s.workflows = append(s.workflows, options.Name)
}

func (s *stubWorker) RegisterActivityWithOptions(_ interface{}, options activity.RegisterOptions) {
	s.activities = append(s.activities, options.Name)
}

func (s *stubWorker) Run(_ <-chan interface{}) error {
	return s.runErr
}

func captureWorkerDeps() func() {
	origLoadConfig := loadConfig
	origNewLogger := newLogger
	origDialTemporal := dialTemporal
	origNewPostgres := newPostgres
	origNewCompleter := newCompleter
	origNewWorker := newWorker
	origWorkerInterrupt := workerInterrupt

	return func() {
		loadConfig = origLoadConfig
		newLogger = origNewLogger
		dialTemporal = origDialTemporal
		newPostgres = origNewPostgres
		newCompleter = origNewCompleter
		newWorker = origNewWorker
		workerInterrupt = origWorkerInterrupt
	}
}

func workerConfig() config.Config {
	cfg, _ := config.Load()
	cfg.LLMProvider = "local"
	cfg.TavilyAPIKey = "tv"
	cfg.PostgresURL = "postgres://example"
	cfg.TemporalTaskQueue = "research-test"
	return cfg
}

func stubWorkerDeps(w *stubWorker) {
	newLogger = func(string, string) (*zap.Logger, error) { return zap.NewNop(), nil }
	dialTemporal = func(client.Options) (client.Client, error) { return nil, nil }
	newPostgres = func(string) (*postgres.PostgresStore, error) { return &postgres.PostgresStore{}, nil }
	newWorker = func(_ client.Client, taskQueue string, _ worker.Options) researchWorker {
		if taskQueue != "research-test" {
			panic("unexpected task queue " + taskQueue)
		}
		return w
	}
	workerInterrupt = func() <-chan interface{} { return make(chan interface{}) }
}

func TestRunSuccess(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubWorkerDeps(w)
	loadConfig = func() (config.Config, error) { return workerConfig(), nil }

	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(w.workflows) != 1 || w.workflows[0] != workflows.ResearchWorkflowName {
		t.Fatalf("registered workflows = %v", w.workflows)
	}
	want := []string{workflows.ActivityGeneratePlan, workflows.ActivityRetrieveStep, workflows.ActivitySynthesizeReport, workflows.ActivityRecordProgress}
	if len(w.activities) != len(want) {
		t.Fatalf("registered activities = %v", w.activities)
	}
	for i := range want {
		if w.activities[i] != want[i] {
			t.Fatalf("activity %d = %q, want %q", i, w.activities[i], want[i])
		}
	}
}

func TestRunWithoutPostgres(t *testing.T) {
	restore := captureWorkerDeps()
	t.Cleanup(restore)

	w := &stubWorker{}
	stubWorkerDeps(w)
	newPostgres = func(string) (*postgres.PostgresStore, error) {
		t.Fatal("postgres should not be opened")
		return nil, nil
	}
	loadConfig = func() (config.Config, error) {
		cfg := workerConfig()
		cfg.PostgresURL = ""
		return cfg, nil
	}
	if err := run(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRunFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(w *stubWorker)
	}{
		{name: "config", setup: func(*stubWorker) {
			loadConfig = func() (config.Config, error) { return config.Config{}, errors.New("config failed") }
		}},
		{name: "dial", setup: func(*stubWorker) {
			dialTemporal = func(client.Options) (client.Client, error) { return nil, errors.New("dial failed") }
		}},
		{name: "store", setup: func(*stubWorker) {
			newPostgres = func(string) (*postgres.PostgresStore, error) { return nil, errors.New("store failed") }
		}},
		{name: "completer", setup: func(*stubWorker) {
			newCompleter = func(llm.Config) (llm.Completer, error) { return nil, errors.New("unsupported") }
		}},
		{name: "worker run", setup: func(w *stubWorker) {
			w.runErr = errors.New("worker stopped")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			restore := captureWorkerDeps()
			t.Cleanup(restore)

			w := &stubWorker{}
			stubWorkerDeps(w)
			loadConfig = func() (config.Config, error) { return workerConfig(), nil }
			tc.setup(w)
			if err := run(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
