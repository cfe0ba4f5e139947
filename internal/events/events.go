package events

import (
	"context"
	"sync"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

type RunEvent struct {
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Timestamp string         `json:"ts"`
	Source    string         `json:"source"`
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func FromStore(event store.RunEvent) RunEvent {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return RunEvent{
		RunID:     event.RunID,
		Seq:       event.Seq,
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Source:    event.Source,
		TraceID:   event.TraceID,
		Payload:   payload,
	}
}

// Terminal reports whether no further events follow for the run.
func (e RunEvent) Terminal() bool {
	switch NormalizeType(e.Type) {
	case "run.completed", "run.failed":
		return true
	}
	return false
}

func NormalizeType(eventType string) string {
	return store.NormalizeEventType(eventType)
}

// subscriberBuffer bounds how far a slow stream may fall behind before the
// broker starts dropping its events.
const subscriberBuffer = 16

type subscriber struct {
	ch   chan RunEvent
	done chan struct{}
}

// Broker fans journaled events out to live streams of the same run. A run's
// streams are closed once its terminal event has been offered to them.
type Broker struct {
	mu   sync.RWMutex
	runs map[string]map[*subscriber]struct{}
}

func NewBroker() *Broker {
	return &Broker{runs: map[string]map[*subscriber]struct{}{}}
}

// Subscribe returns a stream of events for runID. The channel is closed when
// ctx ends or after the run's terminal event.
func (b *Broker) Subscribe(ctx context.Context, runID string) <-chan RunEvent {
	sub := &subscriber{ch: make(chan RunEvent, subscriberBuffer), done: make(chan struct{})}

	b.mu.Lock()
	if b.runs[runID] == nil {
		b.runs[runID] = map[*subscriber]struct{}{}
	}
	b.runs[runID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.removeLocked(runID, sub)
			b.mu.Unlock()
		case <-sub.done:
		}
	}()

	return sub.ch
}

// Publish never blocks; a stream with a full buffer misses the event and can
// recover it from the journal. Sends happen under the lock so they never
// race with a stream being closed.
func (b *Broker) Publish(event RunEvent) {
	if event.Terminal() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.runs[event.RunID] {
			offer(sub.ch, event)
			b.removeLocked(event.RunID, sub)
		}
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.runs[event.RunID] {
		offer(sub.ch, event)
	}
}

// removeLocked closes sub if it is still registered. b.mu must be held for
// writing.
func (b *Broker) removeLocked(runID string, sub *subscriber) {
	subs := b.runs[runID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.runs, runID)
	}
	close(sub.ch)
	close(sub.done)
}

func offer(ch chan RunEvent, event RunEvent) {
	select {
	case ch <- event:
	default:
	}
}
