// Package memory is an in-process access log used by tests and single-node
// deployments without a Kafka cluster.
package memory

import (
	"context"
	"sync"

	"steward/pkg/platform/audit"
)

// Store keeps events in arrival order.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Record lets the store stand in wherever an audit.Recorder is expected.
func (s *Store) Record(ctx context.Context, event audit.Event) error {
	return s.Append(ctx, event)
}

// ListByUser returns a user's events, oldest first.
func (s *Store) ListByUser(userID string) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ListByAction returns events with action, oldest first.
func (s *Store) ListByAction(action string) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ListRecent returns the last limit events, oldest first.
func (s *Store) ListRecent(limit int) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Event(nil), s.events[start:]...)
}

// Clear drops every event.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
