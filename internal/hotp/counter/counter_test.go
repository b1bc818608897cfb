package counter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"steward/pkg/platform/sentinel"
)

// storeContract runs the same behavioral checks against every implementation.
type storeContract struct {
	suite.Suite
	newStore func() Store
	store    Store
}

func (s *storeContract) SetupTest() {
	s.store = s.newStore()
}

func (s *storeContract) TestUnknownCredentialStartsAtZero() {
	n, err := s.store.Load(context.Background(), "primary")
	s.Require().NoError(err)
	s.Equal(uint64(0), n)
}

func (s *storeContract) TestAdvance() {
	ctx := context.Background()
	s.Require().NoError(s.store.Advance(ctx, "primary", 0, 6))

	n, err := s.store.Load(ctx, "primary")
	s.Require().NoError(err)
	s.Equal(uint64(6), n)

	s.Run("stale expected value conflicts", func() {
		err := s.store.Advance(ctx, "primary", 0, 3)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("non increasing next is rejected", func() {
		err := s.store.Advance(ctx, "primary", 6, 6)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("credentials are independent", func() {
		n, err := s.store.Load(ctx, "backup-1")
		s.Require().NoError(err)
		s.Equal(uint64(0), n)
	})
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func() Store { return NewMemory(nil) }})
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &storeContract{newStore: func() Store {
		return NewFile(filepath.Join(t.TempDir(), "hotp", "counters.json"))
	}})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.json")
	ctx := context.Background()
	if err := NewFile(path).Advance(ctx, "primary", 0, 11); err != nil {
		t.Fatalf("advance: %v", err)
	}

	n, err := NewFile(path).Load(ctx, "primary")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 11 {
		t.Fatalf("expected 11, got %d", n)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
}

func TestFileStoreCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counters.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFile(path).Load(context.Background(), "primary")
	if err == nil {
		t.Fatal("expected error")
	}
}
