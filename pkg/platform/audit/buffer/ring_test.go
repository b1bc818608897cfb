package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"steward/pkg/platform/audit"
)

func ev(action string) audit.Event { return audit.Event{Action: action} }

func actions(events []audit.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	r := NewRing(2)
	assert.False(t, r.Enqueue(ev("a")))
	assert.False(t, r.Enqueue(ev("b")))
	assert.True(t, r.Enqueue(ev("c")))

	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, []string{"b", "c"}, actions(r.DequeueBatch(10)))
	assert.Equal(t, 0, r.Len())
}

func TestRingRequeuePreservesOrder(t *testing.T) {
	r := NewRing(4)
	r.Enqueue(ev("a"))
	r.Enqueue(ev("b"))
	r.Enqueue(ev("c"))

	batch := r.DequeueBatch(2)
	r.Requeue(batch)

	assert.Equal(t, []string{"a", "b", "c"}, actions(r.DequeueBatch(10)))
}

func TestRingRequeueOverflowCountsDrops(t *testing.T) {
	r := NewRing(2)
	r.Enqueue(ev("x"))
	r.Requeue([]audit.Event{ev("a"), ev("b")})

	assert.Equal(t, int64(1), r.Dropped())
	assert.Equal(t, []string{"b", "x"}, actions(r.DequeueBatch(10)))
}

func TestRingDequeueEmpty(t *testing.T) {
	assert.Nil(t, NewRing(1).DequeueBatch(5))
}
