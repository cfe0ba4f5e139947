package main

import (
	"log"
	"net/http"
	"strings"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/fetch"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/logging"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/search"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store/memory"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store/postgres"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/workflows"
)

type researchWorker interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
	Run(interruptCh <-chan interface{}) error
}

var (
	loadConfig   = config.Load
	newLogger    = logging.New
	dialTemporal = client.Dial
	newPostgres  = postgres.New
	newCompleter = llm.NewProvider
	newSearch    = search.NewProvider
	newWorker    = func(c client.Client, taskQueue string, options worker.Options) researchWorker {
		return worker.New(c, taskQueue, options)
	}
	workerInterrupt = worker.InterruptCh
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if missing := cfg.MissingKeys(); len(missing) > 0 {
		logger.Warn("provider credentials missing, activities will fail", zap.Strings("keys", missing))
	}

	temporalClient, err := dialTemporal(client.Options{
		HostPort: cfg.TemporalAddress,
	})
	if err != nil {
		return err
	}
	if temporalClient != nil {
		defer temporalClient.Close()
	}

	var journal store.Store = memory.New()
	if strings.TrimSpace(cfg.PostgresURL) != "" {
		st, err := newPostgres(cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		journal = st
	} else {
		logger.Warn("POSTGRES_URL not set, progress events are journaled in worker memory only")
	}

	completer, err := newCompleter(cfg.LLMConfig())
	if err != nil {
		return err
	}
	provider, err := newSearch(cfg.SearchConfig())
	if err != nil {
		return err
	}
	fetcher := fetch.New(fetch.WithHTTPClient(&http.Client{Timeout: cfg.SearchTimeout}))
	planner, gatherer, synthesizer := research.Components(completer, provider, fetcher, cfg.ResearchConfig(), logger)
	activities := workflows.NewResearchActivities(planner, gatherer, synthesizer, events.NewRecorder(journal, nil, "worker", logger))

	w := newWorker(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	workflows.RegisterWorkflow(w)
	activities.Register(w)

	logger.Info("research worker started", zap.String("task_queue", cfg.TemporalTaskQueue))
	if err := w.Run(workerInterrupt()); err != nil {
		return err
	}
	return nil
}
