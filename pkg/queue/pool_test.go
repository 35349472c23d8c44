package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/models"
)

// recordingExecutor records executed session IDs and reports completion.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	done     chan string
	block    chan struct{}
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{done: make(chan string, 16)}
}

func (e *recordingExecutor) Execute(ctx context.Context, sessionID string) *ExecutionResult {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
		}
	}
	e.mu.Lock()
	e.executed = append(e.executed, sessionID)
	e.mu.Unlock()
	e.done <- sessionID
	return &ExecutionResult{Status: models.StatusCompleted}
}

func (e *recordingExecutor) executedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

func testQueueConfig() *config.QueueConfig {
	cfg := config.DefaultQueueConfig()
	cfg.WorkerCount = 2
	cfg.MaxConcurrentSessions = 2
	cfg.PollInterval = 5 * time.Millisecond
	cfg.PollIntervalJitter = 0
	return cfg
}

func TestEnqueueClaimFIFO(t *testing.T) {
	pool := NewWorkerPool(testQueueConfig(), newRecordingExecutor())

	require.NoError(t, pool.Enqueue("first"))
	require.NoError(t, pool.Enqueue("second"))
	assert.Equal(t, 2, pool.QueueDepth())

	id, err := pool.claim()
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	id, err = pool.claim()
	require.NoError(t, err)
	assert.Equal(t, "second", id)

	_, err = pool.claim()
	assert.ErrorIs(t, err, ErrNoSessionsAvailable)
}

func TestEnqueueDeduplicates(t *testing.T) {
	pool := NewWorkerPool(testQueueConfig(), newRecordingExecutor())

	require.NoError(t, pool.Enqueue("session-1"))
	require.NoError(t, pool.Enqueue("session-1"))
	assert.Equal(t, 1, pool.QueueDepth())

	// Active sessions are not re-enqueued either.
	id, err := pool.claim()
	require.NoError(t, err)
	require.NoError(t, pool.Enqueue(id))
	assert.Equal(t, 0, pool.QueueDepth())

	// Once released the session may be enqueued again (resume).
	pool.release(id)
	require.NoError(t, pool.Enqueue(id))
	assert.Equal(t, 1, pool.QueueDepth())
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrentSessions = 1
	cfg.RejectWhenFull = true
	pool := NewWorkerPool(cfg, newRecordingExecutor())

	require.NoError(t, pool.Enqueue("first"))
	assert.ErrorIs(t, pool.Enqueue("second"), ErrQueueFull)
}

func TestClaimEnforcesConcurrencyCap(t *testing.T) {
	cfg := testQueueConfig()
	cfg.MaxConcurrentSessions = 1
	pool := NewWorkerPool(cfg, newRecordingExecutor())

	require.NoError(t, pool.Enqueue("first"))
	require.NoError(t, pool.Enqueue("second"))

	id, err := pool.claim()
	require.NoError(t, err)
	assert.Equal(t, "first", id)

	_, err = pool.claim()
	assert.ErrorIs(t, err, ErrAtCapacity)

	pool.release("first")
	id, err = pool.claim()
	require.NoError(t, err)
	assert.Equal(t, "second", id)
}

func TestWorkersProcessEnqueuedSessions(t *testing.T) {
	executor := newRecordingExecutor()
	pool := NewWorkerPool(testQueueConfig(), executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	require.NoError(t, pool.Enqueue("session-a"))
	require.NoError(t, pool.Enqueue("session-b"))

	seen := map[string]bool{}
	for range 2 {
		select {
		case id := <-executor.done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for sessions to be processed")
		}
	}
	assert.True(t, seen["session-a"])
	assert.True(t, seen["session-b"])
}

func TestStopWaitsForActiveSession(t *testing.T) {
	executor := newRecordingExecutor()
	executor.block = make(chan struct{})
	pool := NewWorkerPool(testQueueConfig(), executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	require.NoError(t, pool.Enqueue("slow-session"))

	// Wait until a worker has claimed the session.
	require.Eventually(t, func() bool {
		return pool.Health().ActiveSessions == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop must wait for the active session to finish")
	case <-time.After(50 * time.Millisecond):
	}

	close(executor.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the session finished")
	}
	assert.Equal(t, []string{"slow-session"}, executor.executedIDs())
}

func TestHealthReflectsPoolState(t *testing.T) {
	executor := newRecordingExecutor()
	pool := NewWorkerPool(testQueueConfig(), executor)

	health := pool.Health()
	assert.False(t, health.IsHealthy, "no workers before Start")
	assert.Equal(t, 0, health.TotalWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	health = pool.Health()
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 2, health.TotalWorkers)
	assert.Len(t, health.WorkerStats, 2)
	assert.Equal(t, 2, health.MaxConcurrent)
}
