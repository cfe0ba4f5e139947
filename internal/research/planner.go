package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/llm"
)

// Planner asks the completion provider for an ordered research plan.
type Planner struct {
	llm      llm.Completer
	maxSteps int
	logger   *zap.Logger
}

func NewPlanner(completer llm.Completer, maxSteps int, logger *zap.Logger) *Planner {
	if maxSteps <= 0 {
		maxSteps = DefaultConfig().MaxPlanSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{llm: completer, maxSteps: maxSteps, logger: logger}
}

// Plan makes exactly one completion call and returns the validated steps
// together with the tokens the call consumed.
func (p *Planner) Plan(ctx context.Context, objective string) ([]PlannedStep, int, error) {
	resp, err := p.llm.Complete(ctx, llm.Request{
		System:      plannerSystemPrompt,
		User:        "Objective: " + objective,
		MaxTokens:   1024,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return nil, 0, NewStageError(ErrPlanning, "failed to generate a research plan", err)
	}
	steps, err := ParsePlan(resp.Text, p.maxSteps)
	if err != nil {
		p.logger.Debug("unusable plan", zap.String("completion", resp.Text), zap.Error(err))
		return nil, resp.TotalTokens, NewStageError(ErrPlanning, "the research plan could not be parsed", err)
	}
	return steps, resp.TotalTokens, nil
}

var errEmptyPlan = errors.New("plan contained no usable steps")

// ParsePlan turns a raw completion into at most maxSteps validated steps.
func ParsePlan(text string, maxSteps int) ([]PlannedStep, error) {
	cleaned := cleanCompletion(text)
	raw, ok := firstJSONValue(cleaned)
	if !ok {
		return nil, errors.New("no JSON found in plan response")
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	doc := normalizePlanDocument(decoded)
	if err := validatePlanDocument(doc); err != nil {
		return nil, fmt.Errorf("plan does not match schema: %w", err)
	}

	items, _ := doc.(map[string]any)["steps"].([]any)
	steps := make([]PlannedStep, 0, len(items))
	for _, item := range items {
		fields, _ := item.(map[string]any)
		title := strings.TrimSpace(stringField(fields, "title"))
		if title == "" {
			continue
		}
		step := PlannedStep{
			Title:     title,
			Rationale: strings.TrimSpace(stringField(fields, "rationale")),
		}
		if query := strings.TrimSpace(stringField(fields, "searchQuery")); query != "" {
			step.SearchQuery = &query
		}
		steps = append(steps, step)
		if maxSteps > 0 && len(steps) >= maxSteps {
			break
		}
	}
	if len(steps) == 0 {
		return nil, errEmptyPlan
	}
	return steps, nil
}

// normalizePlanDocument accepts a bare array and the common key aliases
// models produce, and rewrites them into the schema's shape.
func normalizePlanDocument(decoded any) any {
	var items any
	switch v := decoded.(type) {
	case []any:
		items = v
	case map[string]any:
		items = v["steps"]
		if items == nil {
			items = v["plan"]
		}
		if items == nil {
			return v
		}
	default:
		return decoded
	}
	list, ok := items.([]any)
	if !ok {
		return map[string]any{"steps": items}
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		fields, ok := item.(map[string]any)
		if !ok {
			out = append(out, item)
			continue
		}
		copied := make(map[string]any, len(fields))
		for k, val := range fields {
			copied[k] = val
		}
		if _, ok := copied["searchQuery"]; !ok {
			for _, alias := range []string{"search_query", "query"} {
				if val, ok := copied[alias]; ok {
					copied["searchQuery"] = val
					break
				}
			}
		}
		delete(copied, "search_query")
		delete(copied, "query")
		out = append(out, copied)
	}
	return map[string]any{"steps": out}
}

func stringField(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	s, _ := fields[key].(string)
	return s
}
