package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/research"
	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

// Journal is the subset of store.Store the recorder writes to.
type Journal interface {
	NextSeq(ctx context.Context, runID string) (int64, error)
	AppendEvent(ctx context.Context, event store.RunEvent) error
}

// Recorder assigns sequence numbers, journals events and fans them out to
// live subscribers. The broker may be nil.
type Recorder struct {
	mu      sync.Mutex
	journal Journal
	broker  *Broker
	source  string
	logger  *zap.Logger
	newID   func() string
}

func NewRecorder(journal Journal, broker *Broker, source string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(source) == "" {
		source = "research"
	}
	return &Recorder{
		journal: journal,
		broker:  broker,
		source:  source,
		logger:  logger,
		newID:   func() string { return uuid.New().String() },
	}
}

// Record journals one event. Writes are serialized so sequence order and
// publish order agree.
func (r *Recorder) Record(ctx context.Context, runID, eventType string, ts time.Time, payload map[string]any) (RunEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, err := r.journal.NextSeq(ctx, runID)
	if err != nil {
		return RunEvent{}, err
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	stored := store.RunEvent{
		RunID:     runID,
		Seq:       seq,
		Type:      NormalizeType(eventType),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Source:    r.source,
		TraceID:   r.newID(),
		Payload:   store.CloneMap(payload),
	}
	if err := r.journal.AppendEvent(ctx, stored); err != nil {
		return RunEvent{}, err
	}
	event := FromStore(stored)
	if r.broker != nil {
		r.broker.Publish(event)
	}
	return event, nil
}

// Progress adapts the recorder to a research.ProgressFunc. Journal failures
// are logged and never fail the run; writes survive cancellation of ctx so
// the terminal event of a timed-out run is still recorded.
func (r *Recorder) Progress(ctx context.Context, runID string) research.ProgressFunc {
	ctx = context.WithoutCancel(ctx)
	return func(ev research.ProgressEvent) {
		if _, err := r.Record(ctx, runID, ev.Type, ev.Timestamp, PayloadFor(ev)); err != nil {
			r.logger.Warn("failed to journal run event",
				zap.String("run_id", runID),
				zap.String("type", ev.Type),
				zap.Error(err),
			)
		}
	}
}

// PayloadFor flattens a progress event into a journal payload.
func PayloadFor(ev research.ProgressEvent) map[string]any {
	payload := make(map[string]any, len(ev.Data)+3)
	for key, value := range ev.Data {
		payload[key] = value
	}
	payload["stage"] = string(ev.Stage)
	if ev.StepIndex != nil {
		payload["stepIndex"] = *ev.StepIndex
	}
	if ev.Message != "" {
		payload["message"] = ev.Message
	}
	return payload
}
