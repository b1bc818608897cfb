package tamper

import (
	"context"
	"sync"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

// Memory is an in-process chain for tests and single-shot tooling.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

func (m *Memory) Store(_ context.Context, rec *models.Record) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[rec.ID]; ok {
		return Entry{}, sentinel.ErrConflict
	}
	prev := GenesisHash
	if n := len(m.entries); n > 0 {
		prev = m.entries[n-1].EntryHash
	}
	e, err := newEntry(int64(len(m.entries)+1), prev, rec)
	if err != nil {
		return Entry{}, err
	}
	m.index[rec.ID] = len(m.entries)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return open(m.entries[i])
}

func (m *Memory) ListByType(_ context.Context, t models.RecordType, limit int) ([]*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Record
	for i := len(m.entries) - 1; i >= 0; i-- {
		rec, err := open(m.entries[i])
		if err != nil {
			return nil, err
		}
		if rec.Type != t {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RecentIDs(_ context.Context, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for i := len(m.entries) - 1; i >= 0 && len(ids) < n; i-- {
		ids = append(ids, m.entries[i].RecordID)
	}
	return ids, nil
}

func (m *Memory) Verify(_ context.Context) (Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := newWalker()
	for _, e := range m.entries {
		w.step(e)
	}
	return w.report, nil
}

func (m *Memory) Close() error { return nil }
