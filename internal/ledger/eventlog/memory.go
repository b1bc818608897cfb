package eventlog

import (
	"context"
	"fmt"
	"sync"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

// Memory is an in-process event log.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]models.Event
}

func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]models.Event)}
}

func (m *Memory) Append(_ context.Context, stream string, expected int64, events ...models.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(len(m.streams[stream]))
	if expected != AnyVersion && expected != current {
		return current, fmt.Errorf("stream %s at version %d, expected %d: %w", stream, current, expected, sentinel.ErrConflict)
	}
	for _, ev := range events {
		ev.StreamID = stream
		ev.Version = current
		ev.Data = append([]byte(nil), ev.Data...)
		m.streams[stream] = append(m.streams[stream], ev)
		current++
	}
	return current, nil
}

func (m *Memory) Read(_ context.Context, stream string, start int64, count int) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.streams[stream]
	if start < 0 {
		start = 0
	}
	if start >= int64(len(all)) {
		return nil, nil
	}
	end := int64(len(all))
	if count > 0 && start+int64(count) < end {
		end = start + int64(count)
	}
	out := make([]models.Event, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (m *Memory) Version(_ context.Context, stream string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.streams[stream])), nil
}

func (m *Memory) Close() error { return nil }
