package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/api"
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

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	loadConfig   = config.Load
	newLogger    = logging.New
	newBroker    = events.NewBroker
	newPostgres  = postgres.New
	newCompleter = llm.NewProvider
	newSearch    = search.NewProvider
	dialTemporal = client.Dial
	newServer    = func(st store.Store, broker *events.Broker, recorder *events.Recorder, runner api.Runner, cfg config.Config, logger *zap.Logger) server {
		return api.NewServer(st, broker, recorder, runner, cfg, logger)
	}
	notifyContext = signal.NotifyContext
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
		logger.Warn("provider credentials missing, research requests will fail", zap.Strings("keys", missing))
	}

	ctx, cancel := notifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	broker := newBroker()
	recorder := events.NewRecorder(st, broker, "server", logger)

	runner, closeRunner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRunner()

	srv := newServer(st, broker, recorder, runner, cfg, logger)
	if err := srv.Start(ctx, ":"+cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openStore picks the Postgres journal when a DSN is configured and the
// in-memory journal otherwise.
func openStore(cfg config.Config) (store.Store, func(), error) {
	if strings.TrimSpace(cfg.PostgresURL) == "" {
		return memory.New(), func() {}, nil
	}
	st, err := newPostgres(cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

// newRunner returns the inline orchestrator or, in temporal mode, a client
// for workflows executed by cmd/worker.
func newRunner(cfg config.Config, logger *zap.Logger) (api.Runner, func(), error) {
	if cfg.ExecutionMode == config.ExecutionModeTemporal {
		temporalClient, err := dialTemporal(client.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			return nil, nil, err
		}
		closeClient := func() {
			if temporalClient != nil {
				temporalClient.Close()
			}
		}
		if strings.TrimSpace(cfg.PostgresURL) == "" {
			logger.Warn("temporal mode without POSTGRES_URL, live step events stay on the worker")
		}
		return workflows.NewService(temporalClient, cfg.TemporalTaskQueue, cfg.ResearchConfig()), closeClient, nil
	}

	completer, err := newCompleter(cfg.LLMConfig())
	if err != nil {
		return nil, nil, err
	}
	provider, err := newSearch(cfg.SearchConfig())
	if err != nil {
		return nil, nil, err
	}
	fetcher := fetch.New(fetch.WithHTTPClient(&http.Client{Timeout: cfg.SearchTimeout}))
	orchestrator := research.New(completer, provider, fetcher, cfg.ResearchConfig(), research.WithLogger(logger))
	return orchestrator, func() {}, nil
}
