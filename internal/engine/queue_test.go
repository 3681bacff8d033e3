package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

func TestRequestQueue_FIFO(t *testing.T) {
	q := newRequestQueue()

	q.Enqueue(ir.StackGetRequest{StackID: "A"})
	q.Enqueue(ir.StackGetRequest{StackID: "B"})
	q.Enqueue(ir.StackGetRequest{StackID: "C"})

	for _, want := range []string{"A", "B", "C"} {
		r, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, r.(ir.StackGetRequest).StackID)
	}

	_, ok := q.Pop()
	assert.False(t, ok, "pop from empty queue should return false")
}

func TestRequestQueue_PeekDoesNotRemove(t *testing.T) {
	q := newRequestQueue()
	q.Enqueue(ir.DisplayRequest{DisplayID: "d1"})

	r, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, ir.RequestKindDisplay, r.Kind())
	assert.Equal(t, 1, q.Len())

	_, ok = newRequestQueue().Peek()
	assert.False(t, ok)
}

func TestRequestQueue_ClearByKind(t *testing.T) {
	q := newRequestQueue()
	q.Enqueue(ir.StackGetRequest{StackID: "s"})
	q.Enqueue(ir.DisplayRequest{DisplayID: "d"})
	q.Enqueue(ir.StackUpdateRequest{StackID: "s"})
	q.Enqueue(ir.DisplayRequest{DisplayID: "e"})

	q.Clear(ir.RequestKindDisplay)

	got := q.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, ir.RequestKindStackGet, got[0].Kind())
	assert.Equal(t, ir.RequestKindStackUpdate, got[1].Kind())

	q.Clear()
	assert.Equal(t, 0, q.Len())
}

func TestRequestQueue_SnapshotIsCopy(t *testing.T) {
	q := newRequestQueue()
	q.Enqueue(ir.StackGetRequest{StackID: "s"})

	snap := q.Snapshot()
	snap[0] = ir.DisplayRequest{}

	r, _ := q.Peek()
	assert.Equal(t, ir.RequestKindStackGet, r.Kind())
}

func TestRequestQueue_ConcurrentEnqueue(t *testing.T) {
	q := newRequestQueue()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(ir.StackGetRequest{})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
