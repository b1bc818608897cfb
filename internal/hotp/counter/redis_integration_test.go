//go:build integration

package counter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"steward/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	suite.Run(t, &storeContract{newStore: func() Store {
		if err := rc.FlushAll(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return NewRedis(rc.Client)
	}})
}

func TestRedisStoreConcurrentAdvance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	if err := rc.FlushAll(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	store := NewRedis(rc.Client)

	const goroutines = 20
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Advance(ctx, "primary", 0, 1); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one advance to win, got %d", wins.Load())
	}
}
