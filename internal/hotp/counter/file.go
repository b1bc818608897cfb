package counter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"steward/pkg/platform/sentinel"
)

// File keeps counters in a JSON document, rewritten atomically (temp file,
// fsync, rename) on every advance. It serializes writers inside one process;
// use Redis when several processes share credentials.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file-backed store at path. The file is created on first
// advance.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) read() (map[string]uint64, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]uint64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read counter file: %w", err)
	}
	counters := map[string]uint64{}
	if err := json.Unmarshal(data, &counters); err != nil {
		return nil, fmt.Errorf("decode counter file: %w", sentinel.ErrCorrupted)
	}
	return counters, nil
}

func (f *File) Load(_ context.Context, id string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counters, err := f.read()
	if err != nil {
		return 0, err
	}
	return counters[id], nil
}

func (f *File) Advance(_ context.Context, id string, expected, next uint64) error {
	if err := checkMonotonic(expected, next); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	counters, err := f.read()
	if err != nil {
		return err
	}
	if cur := counters[id]; cur != expected {
		return fmt.Errorf("counter %s at %d, expected %d: %w", id, cur, expected, sentinel.ErrConflict)
	}
	counters[id] = next

	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return fmt.Errorf("encode counter file: %w", err)
	}
	return writeAtomic(f.path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create counter dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".counters-*")
	if err != nil {
		return fmt.Errorf("create temp counter file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write counter file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync counter file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close counter file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod counter file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename counter file: %w", err)
	}
	return nil
}
