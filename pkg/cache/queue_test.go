package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmwren/replica/pkg/entity"
)

func queuedAction(name string) entity.Action {
	return entity.Action{Entity: name, Op: entity.OpQueryAll}
}

func TestActionQueue_EnqueueDequeue(t *testing.T) {
	q := newActionQueue()

	ok := q.Enqueue(queuedAction("hero"))
	require.True(t, ok, "enqueue should succeed")

	got, ok := q.TryDequeue()
	require.True(t, ok, "dequeue should succeed")
	assert.Equal(t, "hero", got.Entity)
	assert.Equal(t, entity.OpQueryAll, got.Op)
}

func TestActionQueue_FIFO(t *testing.T) {
	q := newActionQueue()

	q.Enqueue(queuedAction("a"))
	q.Enqueue(queuedAction("b"))
	q.Enqueue(queuedAction("c"))

	a1, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "a", a1.Entity)

	a2, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "b", a2.Entity)

	a3, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "c", a3.Entity)
}

func TestActionQueue_TryDequeue_Empty(t *testing.T) {
	q := newActionQueue()

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestActionQueue_Enqueue_AfterClose(t *testing.T) {
	q := newActionQueue()
	q.Close()

	ok := q.Enqueue(queuedAction("hero"))
	assert.False(t, ok, "enqueue after close should return false")
	assert.True(t, q.Closed())
}

func TestActionQueue_Close_Idempotent(t *testing.T) {
	q := newActionQueue()
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
}

func TestActionQueue_Close_WakesWaiter(t *testing.T) {
	q := newActionQueue()

	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()

	// Give goroutine time to block
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("waiter did not unblock after close")
	}
}

func TestActionQueue_Wait_SignalsEnqueue(t *testing.T) {
	q := newActionQueue()

	done := make(chan entity.Action)
	go func() {
		<-q.Wait()
		a, ok := q.TryDequeue()
		if ok {
			done <- a
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(queuedAction("signal"))

	select {
	case a := <-done:
		assert.Equal(t, "signal", a.Entity)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("waiter did not receive enqueued action")
	}
}

func TestActionQueue_Len(t *testing.T) {
	q := newActionQueue()

	assert.Equal(t, 0, q.Len())

	q.Enqueue(queuedAction("a"))
	assert.Equal(t, 1, q.Len())

	q.Enqueue(queuedAction("b"))
	assert.Equal(t, 2, q.Len())

	q.TryDequeue()
	assert.Equal(t, 1, q.Len())

	q.TryDequeue()
	assert.Equal(t, 0, q.Len())
}

func TestActionQueue_ThreadSafe(t *testing.T) {
	q := newActionQueue()

	const producers = 10
	const actionsPerProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < actionsPerProducer; i++ {
				q.Enqueue(queuedAction("hero"))
			}
		}()
	}

	received := 0
	consumerDone := make(chan struct{})
	go func() {
		for received < producers*actionsPerProducer {
			if _, ok := q.TryDequeue(); !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			received++
		}
		close(consumerDone)
	}()

	wg.Wait()

	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumer timeout: received %d actions", received)
	}
}
