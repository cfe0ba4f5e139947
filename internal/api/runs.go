package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

type runResponse struct {
	ID            string `json:"id"`
	Prompt        string `json:"prompt"`
	Status        string `json:"status"`
	Stage         string `json:"stage"`
	Mode          string `json:"mode,omitempty"`
	StepCount     int    `json:"step_count"`
	SourceCount   int    `json:"source_count"`
	TotalTokens   int    `json:"total_tokens"`
	Error         string `json:"error,omitempty"`
	CheckpointSeq int64  `json:"checkpoint_seq"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	FinishedAt    string `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type runStepResponse struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Query       string `json:"query,omitempty"`
	Status      string `json:"status"`
	Sources     int    `json:"sources"`
	Message     string `json:"message,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type runDetailResponse struct {
	runResponse
	Steps []runStepResponse `json:"steps"`
}

func toRunResponse(run store.Run) runResponse {
	return runResponse{
		ID:            run.ID,
		Prompt:        run.Prompt,
		Status:        run.Status,
		Stage:         run.Stage,
		Mode:          run.Mode,
		StepCount:     run.StepCount,
		SourceCount:   run.SourceCount,
		TotalTokens:   run.TotalTokens,
		Error:         run.Error,
		CheckpointSeq: run.CheckpointSeq,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	response := listRunsResponse{Runs: make([]runResponse, 0, len(runs))}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}
	writeJSONStatus(w, response, http.StatusOK)
}

// getRun returns the journal entry with its per-step trace.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.logger.Error("failed to load run", zap.String("run_id", runID), zap.Error(err))
		writeError(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	if run == nil {
		writeError(w, "run not found", http.StatusNotFound)
		return
	}
	stored, err := s.store.ListEvents(r.Context(), runID, 0)
	if err != nil {
		s.logger.Error("failed to load run events", zap.String("run_id", runID), zap.Error(err))
		writeError(w, "failed to load run", http.StatusInternalServerError)
		return
	}
	steps := store.BuildRunSteps(stored)
	response := runDetailResponse{runResponse: toRunResponse(*run), Steps: make([]runStepResponse, 0, len(steps))}
	for _, step := range steps {
		response.Steps = append(response.Steps, runStepResponse{
			Index:       step.Index,
			Title:       step.Title,
			Query:       step.Query,
			Status:      step.Status,
			Sources:     step.Sources,
			Message:     step.Message,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
		})
	}
	writeJSONStatus(w, response, http.StatusOK)
}

// streamEvents replays journaled events after the cursor, then follows the
// broker and the journal until a terminal event or client disconnect. The
// journal poll picks up events written by other processes, such as a
// Temporal worker sharing the database.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	var live <-chan events.RunEvent
	if s.broker != nil {
		live = s.broker.Subscribe(ctx, runID)
	}
	lastSeq := parseAfterSeq(runID, r)
	stored, err := s.store.ListEvents(ctx, runID, lastSeq)
	if err != nil {
		s.logger.Error("failed to replay run events", zap.String("run_id", runID), zap.Error(err))
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// send writes ev unless it was already delivered and reports whether
	// the stream should end.
	send := func(ev events.RunEvent) bool {
		if ev.Seq <= lastSeq {
			return false
		}
		lastSeq = ev.Seq
		sendSSE(w, ev)
		flusher.Flush()
		return ev.Terminal()
	}
	for _, event := range stored {
		if send(events.FromStore(event)) {
			return
		}
	}
	catchUp := func() bool {
		pending, err := s.store.ListEvents(ctx, runID, lastSeq)
		if err != nil {
			s.logger.Warn("failed to poll run events", zap.String("run_id", runID), zap.Error(err))
			return false
		}
		for _, event := range pending {
			if send(events.FromStore(event)) {
				return true
			}
		}
		return false
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case event, ok := <-live:
			if !ok {
				// The broker retired the stream. Anything it dropped is
				// still in the journal.
				catchUp()
				return
			}
			if send(event) {
				return
			}
		case <-poll.C:
			if catchUp() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.RunEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.RunID, event.Seq)
	fmt.Fprint(w, "event: run_event\n")
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func parseAfterSeq(runID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil && parsed >= 0 {
			return parsed
		}
	}
	lastEventID := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if lastEventID == "" {
		return 0
	}
	id, seqText, found := strings.Cut(lastEventID, ":")
	if !found || id != runID {
		return 0
	}
	seq, err := strconv.ParseInt(seqText, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
