package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/research-agent/internal/store"
)

type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]store.Run
	events map[string][]store.RunEvent
	seq    map[string]int64
}

func New() *MemoryStore {
	return &MemoryStore{
		runs:   map[string]store.Run{},
		events: map[string][]store.RunEvent{},
		seq:    map[string]int64{},
	}
}

func (m *MemoryStore) CreateRun(ctx context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.Status == "" {
		run.Status = store.StatusRunning
	}
	if run.Stage == "" {
		run.Stage = "started"
	}
	m.runs[run.ID] = run
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, nil
	}
	return &run, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context) ([]store.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Run, 0, len(m.runs))
	for _, run := range m.runs {
		results = append(results, run)
	}
	sort.Slice(results, func(i, j int) bool {
		left := parseTime(results[i].UpdatedAt)
		right := parseTime(results[j].UpdatedAt)
		if left.Equal(right) {
			return results[i].ID < results[j].ID
		}
		return left.After(right)
	})
	return results, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Type = store.NormalizeEventType(event.Type)
	event.Payload = store.CloneMap(event.Payload)
	m.events[event.RunID] = append(m.events[event.RunID], event)
	if run, ok := m.runs[event.RunID]; ok {
		m.runs[event.RunID] = store.ApplyEvent(run, event)
	}
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]store.RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filtered := []store.RunEvent{}
	for _, event := range m.events[runID] {
		if event.Seq > afterSeq {
			filtered = append(filtered, event)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Seq < filtered[j].Seq })
	return filtered, nil
}

func (m *MemoryStore) NextSeq(ctx context.Context, runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[runID] += 1
	return m.seq[runID], nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func parseTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
