package store

import (
	"encoding/json"
	"sort"
	"strings"
)

// RunStep is the journal view of one plan step, folded from its events.
type RunStep struct {
	RunID       string
	Index       int
	Title       string
	Query       string
	Status      string
	Sources     int
	Message     string
	StartedAt   string
	CompletedAt string
}

func NormalizeEventType(eventType string) string {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		return ""
	}
	return strings.ReplaceAll(normalized, "_", ".")
}

// ApplyEvent folds one event into the run record. Unknown event types only
// advance the checkpoint and the update time.
func ApplyEvent(run Run, event RunEvent) Run {
	switch NormalizeEventType(event.Type) {
	case "stage.changed":
		if stage := readString(event.Payload, "stage"); stage != "" {
			run.Stage = stage
			if stage != StatusCompleted && stage != StatusFailed && run.Status == "" {
				run.Status = StatusRunning
			}
		}
	case "plan.ready":
		run.StepCount = readInt(event.Payload, "stepCount")
	case "run.completed":
		run.Status = StatusCompleted
		run.Stage = StatusCompleted
		run.SourceCount = readInt(event.Payload, "sources")
		run.TotalTokens = readInt(event.Payload, "totalTokens")
		run.FinishedAt = event.Timestamp
	case "run.failed":
		run.Status = StatusFailed
		run.Stage = StatusFailed
		run.Error = readString(event.Payload, "message")
		if run.Error == "" {
			run.Error = "research run failed"
		}
		run.FinishedAt = event.Timestamp
	}
	if event.Seq > run.CheckpointSeq {
		run.CheckpointSeq = event.Seq
	}
	if strings.TrimSpace(event.Timestamp) != "" {
		run.UpdatedAt = event.Timestamp
	}
	return run
}

// BuildRunSteps folds step.* events into one entry per step index, ordered
// by index.
func BuildRunSteps(events []RunEvent) []RunStep {
	steps := map[int]RunStep{}
	for _, event := range events {
		eventType := NormalizeEventType(event.Type)
		if !strings.HasPrefix(eventType, "step.") {
			continue
		}
		index, ok := readIndex(event.Payload, "stepIndex")
		if !ok {
			continue
		}
		step, exists := steps[index]
		if !exists {
			step = RunStep{RunID: event.RunID, Index: index, Status: "pending"}
		}
		message := readString(event.Payload, "message")
		switch eventType {
		case "step.started":
			step.Status = "running"
			step.Title = message
			step.Query = readString(event.Payload, "query")
			step.StartedAt = event.Timestamp
		case "step.skipped":
			step.Status = "skipped"
			step.Title = message
			step.CompletedAt = event.Timestamp
		case "step.completed":
			step.Status = "completed"
			if message != "" {
				step.Title = message
			}
			step.Sources = readInt(event.Payload, "sources")
			step.CompletedAt = event.Timestamp
		case "step.failed":
			step.Status = "failed"
			step.Message = message
			step.CompletedAt = event.Timestamp
		default:
			continue
		}
		steps[index] = step
	}

	results := make([]RunStep, 0, len(steps))
	for _, step := range steps {
		results = append(results, step)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

func readString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func readInt(payload map[string]any, key string) int {
	value, _ := readIndex(payload, key)
	return value
}

// readIndex accepts the numeric shapes a payload takes before and after a
// JSON round trip.
func readIndex(payload map[string]any, key string) (int, bool) {
	if payload == nil {
		return 0, false
	}
	switch typed := payload[key].(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return int(parsed), true
		}
	}
	return 0, false
}

// CloneMap makes a shallow copy so callers cannot mutate a stored payload.
func CloneMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
