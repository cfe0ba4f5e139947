package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/export"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

const markdownContentType = "text/markdown; charset=utf-8"

type researchRequest struct {
	Prompt string `json:"prompt"`
	// RunID lets a client open the event stream before the run starts.
	RunID string `json:"runId"`
}

// createResearch runs one research request to completion and answers with
// the result. Blank prompts are rejected before any provider call.
func (s *Server) createResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	prompt, err := research.ValidateObjective(req.Prompt)
	if err != nil {
		writeError(w, research.PublicMessage(err), http.StatusBadRequest)
		return
	}
	if s.runner == nil {
		writeError(w, "research runner unavailable", http.StatusServiceUnavailable)
		return
	}

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = s.newID()
	} else if _, err := uuid.Parse(runID); err != nil {
		writeError(w, "runId must be a UUID", http.StatusBadRequest)
		return
	} else if existing, err := s.store.GetRun(r.Context(), runID); err == nil && existing != nil {
		writeError(w, "run already exists", http.StatusConflict)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.store.CreateRun(r.Context(), store.Run{
		ID:        runID,
		Prompt:    prompt,
		Status:    store.StatusRunning,
		Stage:     string(research.StageStarted),
		Mode:      s.cfg.ExecutionMode,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		s.logger.Warn("failed to journal run", zap.String("run_id", runID), zap.Error(err))
	}
	w.Header().Set("X-Run-ID", runID)

	opts := research.RunOptions{RunID: runID}
	if s.recorder != nil && !s.temporalMode() {
		opts.Progress = s.recorder.Progress(r.Context(), runID)
	}
	result, err := s.runner.Execute(r.Context(), prompt, opts)
	s.finishJournal(r.Context(), runID, result, err)
	if err != nil {
		if errors.Is(err, research.ErrValidation) {
			writeError(w, research.PublicMessage(err), http.StatusBadRequest)
			return
		}
		s.logger.Error("research request failed",
			zap.String("run_id", runID),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		writeError(w, research.PublicMessage(err), http.StatusInternalServerError)
		return
	}

	if wantsMarkdown(r) {
		w.Header().Set("Content-Type", markdownContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, export.MarkdownWith(result, export.MarkdownOptions{Objective: prompt}))
		return
	}
	writeJSONStatus(w, result, http.StatusOK)
}

// finishJournal records the terminal event when nobody else did. Inline
// runs and Temporal runs sharing this journal already wrote it.
func (s *Server) finishJournal(ctx context.Context, runID string, result research.AgentRunResult, runErr error) {
	if s.recorder == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	run, err := s.store.GetRun(ctx, runID)
	if err != nil || run == nil || run.Status != store.StatusRunning {
		return
	}
	progress := s.recorder.Progress(ctx, runID)
	if runErr != nil {
		progress(research.ProgressEvent{
			Type:    research.EventRunFailed,
			Stage:   research.StageFailed,
			Message: research.PublicMessage(runErr),
			Data:    map[string]any{"failedStage": run.Stage},
		})
		progress(research.ProgressEvent{Type: research.EventStageChanged, Stage: research.StageFailed})
		return
	}
	tokens := 0
	if result.Metadata.TotalTokens != nil {
		tokens = *result.Metadata.TotalTokens
	}
	progress(research.ProgressEvent{
		Type:  research.EventRunCompleted,
		Stage: research.StageCompleted,
		Data:  map[string]any{"sources": len(result.Sources), "totalTokens": tokens},
	})
	progress(research.ProgressEvent{Type: research.EventStageChanged, Stage: research.StageCompleted})
}

func (s *Server) temporalMode() bool {
	return s.cfg.ExecutionMode == config.ExecutionModeTemporal
}

// exportMarkdown renders a posted AgentRunResult. The optional objective and
// title query parameters set the heading.
func (s *Server) exportMarkdown(w http.ResponseWriter, r *http.Request) {
	var result research.AgentRunResult
	if err := decodeJSON(r, &result); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	query := r.URL.Query()
	body := export.MarkdownWith(result, export.MarkdownOptions{
		Objective: query.Get("objective"),
		Title:     query.Get("title"),
	})
	w.Header().Set("Content-Type", markdownContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, 8<<20))
	return decoder.Decode(dst)
}

func wantsMarkdown(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "text/markdown" {
			return true
		}
	}
	return false
}
