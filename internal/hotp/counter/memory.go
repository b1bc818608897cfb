package counter

import (
	"context"
	"fmt"
	"sync"

	"steward/pkg/platform/sentinel"
)

// Memory is an in-process counter store for tests.
type Memory struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewMemory creates a store seeded with initial counters.
func NewMemory(initial map[string]uint64) *Memory {
	m := &Memory{counters: make(map[string]uint64, len(initial))}
	for k, v := range initial {
		m.counters[k] = v
	}
	return m
}

func (m *Memory) Load(_ context.Context, id string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[id], nil
}

func (m *Memory) Advance(_ context.Context, id string, expected, next uint64) error {
	if err := checkMonotonic(expected, next); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.counters[id]; cur != expected {
		return fmt.Errorf("counter %s at %d, expected %d: %w", id, cur, expected, sentinel.ErrConflict)
	}
	m.counters[id] = next
	return nil
}
