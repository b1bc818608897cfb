package mirror

import (
	"context"
	"sort"
	"sync"

	"steward/pkg/platform/sentinel"
)

// Memory is an in-process mirror.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]Row
	fail error
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]Row)}
}

// SetFailure makes every subsequent call return err (nil restores service).
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) Upsert(_ context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	row.Record = row.Record.Clone()
	m.rows[row.Record.ID] = row
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return Row{}, m.fail
	}
	row, ok := m.rows[id]
	if !ok {
		return Row{}, sentinel.ErrNotFound
	}
	row.Record = row.Record.Clone()
	return row, nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []Row
	for _, row := range m.rows {
		if f.Type != "" && row.Record.Type != f.Type {
			continue
		}
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		row.Record = row.Record.Clone()
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record.Timestamp != out[j].Record.Timestamp {
			return out[i].Record.Timestamp > out[j].Record.Timestamp
		}
		return out[i].Record.ID > out[j].Record.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) Verify(_ context.Context) (Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fail != nil {
		return Report{}, m.fail
	}
	var r Report
	for id, row := range m.rows {
		r.Rows++
		if row.Record.VerifyContent() != nil {
			r.Stale = append(r.Stale, id)
		}
	}
	sort.Strings(r.Stale)
	return r, nil
}

func (m *Memory) Close() error { return nil }
