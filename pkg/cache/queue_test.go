package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureApply struct {
	mu     sync.Mutex
	calls  []invalidationEvent
	ngrams int
}

func (c *captureApply) apply(table string, ngrams []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, invalidationEvent{table: table, ngrams: ngrams})
	c.ngrams += len(ngrams)
}

func (c *captureApply) snapshot() []invalidationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]invalidationEvent{}, c.calls...)
}

func TestQueueSynchronousWhenStopped(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(8, 50*time.Millisecond, cap.apply)

	// Never started: enqueue applies inline.
	q.Enqueue("posts", []string{"abc"})

	calls := cap.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "posts", calls[0].table)
	assert.Equal(t, []string{"abc"}, calls[0].ngrams)
}

func TestQueueZeroDelayStaysSynchronous(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(8, 0, cap.apply)

	q.Start() // no-op with zero delay
	assert.False(t, q.Running())

	q.Enqueue("posts", []string{"abc"})
	assert.Len(t, cap.snapshot(), 1)
}

func TestQueueBatchSizeThreshold(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(3, time.Hour, cap.apply)
	q.Start()
	defer q.Stop()

	q.Enqueue("posts", []string{"a"})
	q.Enqueue("posts", []string{"b"})
	assert.Empty(t, cap.snapshot(), "below batch size nothing flushes")

	q.Enqueue("posts", []string{"c"})

	require.Eventually(t, func() bool {
		return len(cap.snapshot()) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestQueueMaxDelayThreshold(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(1000, 20*time.Millisecond, cap.apply)
	q.Start()
	defer q.Stop()

	q.Enqueue("posts", []string{"a"})

	require.Eventually(t, func() bool {
		return len(cap.snapshot()) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestQueueDeduplicatesWithinBatch(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(4, time.Hour, cap.apply)
	q.Start()

	q.Enqueue("posts", []string{"dup", "dup", "other"})
	q.Enqueue("posts", []string{"dup"})
	q.Enqueue("posts", []string{"dup"})
	q.Enqueue("posts", []string{"dup"})
	q.Stop() // flushes pending

	cap.mu.Lock()
	defer cap.mu.Unlock()
	assert.Equal(t, 2, cap.ngrams, "duplicate (table, ngram) events collapse")
}

func TestQueueStopFlushesPending(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(1000, time.Hour, cap.apply)
	q.Start()

	q.Enqueue("posts", []string{"a"})
	q.Stop()

	assert.NotEmpty(t, cap.snapshot())
}

func TestQueueStopWithoutStart(t *testing.T) {
	q := NewQueue(8, time.Millisecond, func(string, []string) {})
	q.Stop() // must not panic or hang
	assert.False(t, q.Running())
}

func TestQueueMultipleStartStop(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(8, time.Millisecond, cap.apply)

	for i := 0; i < 5; i++ {
		q.Start()
		assert.True(t, q.Running())
		q.Enqueue("posts", []string{"x"})
		q.Stop()
		assert.False(t, q.Running())
	}
}

func TestQueueEnqueueWhileStoppedAfterRun(t *testing.T) {
	cap := &captureApply{}
	q := NewQueue(8, time.Millisecond, cap.apply)
	q.Start()
	q.Stop()

	q.Enqueue("posts", []string{"sync"})
	assert.NotEmpty(t, cap.snapshot(), "stopped queue applies inline")
}

func TestQueueConcurrentStartCalls(t *testing.T) {
	q := NewQueue(8, time.Millisecond, func(string, []string) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Start()
		}()
	}
	wg.Wait()
	assert.True(t, q.Running())
	q.Stop()
}

func TestQueueConcurrentStopCalls(t *testing.T) {
	q := NewQueue(8, time.Millisecond, func(string, []string) {})
	q.Start()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Stop()
		}()
	}
	wg.Wait()
	assert.False(t, q.Running())
}

// The running check and the queue push happen under one mutex: a Stop
// racing an Enqueue can never lose the event.
func TestQueueTOCTOUEnqueueStopRace(t *testing.T) {
	var applied atomic.Int64
	q := NewQueue(1, time.Millisecond, func(_ string, ngrams []string) {
		applied.Add(int64(len(ngrams)))
	})

	const rounds = 50
	for i := 0; i < rounds; i++ {
		q.Start()
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			q.Enqueue("posts", []string{"a"})
		}()
		go func() {
			defer wg.Done()
			q.Stop()
		}()
		wg.Wait()
		q.Stop()
	}

	assert.Equal(t, int64(rounds), applied.Load(), "every event applies exactly once")
}

func TestQueueHighFrequencyEnqueue(t *testing.T) {
	var applied atomic.Int64
	q := NewQueue(32, 5*time.Millisecond, func(_ string, ngrams []string) {
		applied.Add(int64(len(ngrams)))
	})
	q.Start()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				q.Enqueue("posts", []string{string(rune('a' + w)), string(rune('0' + i%10))})
			}
		}(w)
	}
	wg.Wait()
	q.Stop()

	// Dedup collapses repeats; at least one application per distinct ngram.
	assert.Positive(t, applied.Load())
	assert.Positive(t, q.Batches())
}
