package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

// Runner executes one research run. Both the inline orchestrator and the
// Temporal service implement it.
type Runner interface {
	Execute(ctx context.Context, objective string, opts research.RunOptions) (research.AgentRunResult, error)
}

type Broker interface {
	Publish(event events.RunEvent)
	Subscribe(ctx context.Context, runID string) <-chan events.RunEvent
}

type Server struct {
	store        store.Store
	broker       Broker
	recorder     *events.Recorder
	runner       Runner
	cfg          config.Config
	logger       *zap.Logger
	newID        func() string
	heartbeat    time.Duration
	pollInterval time.Duration
}

// NewServer wires the handlers. The recorder journals server-side events;
// in inline mode it also receives the orchestrator's progress.
func NewServer(store store.Store, broker Broker, recorder *events.Recorder, runner Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:        store,
		broker:       broker,
		recorder:     recorder,
		runner:       runner,
		cfg:          cfg,
		logger:       logger,
		newID:        func() string { return uuid.New().String() },
		heartbeat:    15 * time.Second,
		pollInterval: 2 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/api/research", s.createResearch)
	r.Post("/api/export", s.exportMarkdown)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	r.Get("/runs/{id}/events", s.streamEvents)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID(r)),
			}
			if shouldSuppressRequestLog(r.Method, r.URL.Path) {
				s.logger.Debug("request", fields...)
				return
			}
			s.logger.Info("request", fields...)
		}()
		next.ServeHTTP(ww, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && (strings.HasSuffix(cleanPath, "/events") || cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return method == http.MethodOptions
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}
	if s.runner == nil {
		subsystems["runner"] = subsystemStatus{Status: "error", Error: "no runner configured"}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["runner"] = subsystemStatus{Status: "ok"}
	}
	if missing := s.cfg.MissingKeys(); len(missing) > 0 {
		subsystems["credentials"] = subsystemStatus{Status: "missing", Error: strings.Join(missing, ", ")}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, errorResponse{Error: message}, statusCode)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Run-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is done. In-flight runs get the shutdown grace
// period to finish.
func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("listening", zap.String("addr", addr), zap.String("execution_mode", s.cfg.ExecutionMode))
	return server.ListenAndServe()
}
