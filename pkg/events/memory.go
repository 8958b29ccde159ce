package events

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryLog is an in-process Log used by tests and local runs.
type MemoryLog struct {
	mu      sync.Mutex
	records []Record
	failErr error
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// FailWith makes subsequent appends return err (nil restores success).
func (m *MemoryLog) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *MemoryLog) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended, in order.
func (m *MemoryLog) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// EventsForCall reads one call's history back in append order, shaped the
// way the durable backends return it.
func (m *MemoryLog) EventsForCall(_ context.Context, callID string) ([]StoredEvent, error) {
	var out []StoredEvent
	for i, rec := range m.Records() {
		if rec.Call() != callID {
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredEvent{
			ID:        int64(i + 1),
			CallID:    rec.Call(),
			Kind:      rec.Kind(),
			CreatedAt: rec.Created(),
			Payload:   string(payload),
		})
	}
	return out, nil
}

var (
	_ Log    = (*MemoryLog)(nil)
	_ Reader = (*MemoryLog)(nil)
)

// ByKind filters records of one kind, preserving order.
func (m *MemoryLog) ByKind(kind Kind) []Record {
	var out []Record
	for _, r := range m.Records() {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}
