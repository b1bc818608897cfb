package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"steward/pkg/platform/sentinel"
)

// File keeps the blob at path and the salt at path+".salt", both 0600.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) SaltPath() string { return f.path + ".salt" }

func (f *File) load() (Blob, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Blob{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("read vault file: %w", err)
	}
	return Decode(data)
}

func (f *File) Load(_ context.Context) (Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) Save(_ context.Context, b Blob, expected uint64) error {
	if err := checkNext(b, expected); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var current uint64
	switch cur, err := f.load(); {
	case err == nil:
		current = cur.Version
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return err
	}
	if current != expected {
		return fmt.Errorf("vault file at version %d, expected %d: %w", current, expected, sentinel.ErrConflict)
	}
	return writeAtomic(f.path, Encode(b))
}

func (f *File) Salt(_ context.Context) ([]byte, error) {
	salt, err := os.ReadFile(f.SaltPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read salt file: %w", err)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt file empty: %w", sentinel.ErrCorrupted)
	}
	return salt, nil
}

func (f *File) InitSalt(_ context.Context, salt []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	fh, err := os.OpenFile(f.SaltPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("salt already initialized: %w", sentinel.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create salt file: %w", err)
	}
	if _, err := fh.Write(salt); err != nil {
		fh.Close()
		return fmt.Errorf("write salt file: %w", err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("sync salt file: %w", err)
	}
	return fh.Close()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("create temp vault file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod vault file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write vault file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync vault file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close vault file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename vault file: %w", err)
	}
	return nil
}
