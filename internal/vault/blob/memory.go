package blob

import (
	"context"
	"fmt"
	"sync"

	"steward/pkg/platform/sentinel"
)

// Memory holds the blob in process memory.
type Memory struct {
	mu   sync.Mutex
	data []byte
	salt []byte
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(_ context.Context) (Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return Blob{}, sentinel.ErrNotFound
	}
	return Decode(m.data)
}

func (m *Memory) Save(_ context.Context, b Blob, expected uint64) error {
	if err := checkNext(b, expected); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var current uint64
	if m.data != nil {
		cur, err := Decode(m.data)
		if err != nil {
			return err
		}
		current = cur.Version
	}
	if current != expected {
		return fmt.Errorf("blob at version %d, expected %d: %w", current, expected, sentinel.ErrConflict)
	}
	m.data = Encode(b)
	return nil
}

func (m *Memory) Salt(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.salt == nil {
		return nil, sentinel.ErrNotFound
	}
	return append([]byte(nil), m.salt...), nil
}

func (m *Memory) InitSalt(_ context.Context, salt []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.salt != nil {
		return fmt.Errorf("salt already initialized: %w", sentinel.ErrConflict)
	}
	m.salt = append([]byte(nil), salt...)
	return nil
}

// Raw exposes the stored bytes for tamper tests.
func (m *Memory) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

// SetRaw overwrites the stored bytes out-of-band.
func (m *Memory) SetRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
}
