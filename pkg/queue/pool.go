package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/insightlabs/marketscope/pkg/config"
)

// WorkerPool manages the session workers and the pending queue.
type WorkerPool struct {
	config          *config.QueueConfig
	sessionExecutor SessionExecutor
	workers         []*Worker
	started         bool

	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	active  map[string]bool
}

// NewWorkerPool creates a worker pool. Workers start on Start.
func NewWorkerPool(cfg *config.QueueConfig, executor SessionExecutor) *WorkerPool {
	return &WorkerPool{
		config:          cfg,
		sessionExecutor: executor,
		workers:         make([]*Worker, 0, cfg.WorkerCount),
		queued:          make(map[string]bool),
		active:          make(map[string]bool),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.config, p.sessionExecutor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}
	slog.Info("Worker pool started")
}

// Stop signals all workers to stop and waits for them. Workers finish
// their current sessions before exiting.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	if active := p.activeSessionIDs(); len(active) > 0 {
		slog.Info("Waiting for active sessions to complete",
			"count", len(active), "session_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}
	slog.Info("Worker pool stopped gracefully")
}

// Enqueue adds a session to the pending queue. When the queue already
// holds MaxConcurrentSessions waiting entries and the pool is configured
// to reject, the submission fails with ErrQueueFull.
func (p *WorkerPool) Enqueue(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queued[sessionID] || p.active[sessionID] {
		// Already pending or running: enqueueing twice is a no-op, so a
		// resume racing a finishing worker cannot double-run a session.
		return nil
	}
	if p.config.RejectWhenFull && len(p.pending) >= p.config.MaxConcurrentSessions {
		return fmt.Errorf("%w: %d sessions pending", ErrQueueFull, len(p.pending))
	}

	p.pending = append(p.pending, sessionID)
	p.queued[sessionID] = true
	return nil
}

// claim pops the oldest pending session, enforcing the concurrency cap.
func (p *WorkerPool) claim() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return "", ErrNoSessionsAvailable
	}
	if len(p.active) >= p.config.MaxConcurrentSessions {
		return "", ErrAtCapacity
	}

	sessionID := p.pending[0]
	p.pending = p.pending[1:]
	delete(p.queued, sessionID)
	p.active[sessionID] = true
	return sessionID, nil
}

// release marks a claimed session as no longer executing.
func (p *WorkerPool) release(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, sessionID)
}

// QueueDepth returns the number of sessions waiting for a worker.
func (p *WorkerPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	p.mu.Lock()
	activeSessions := len(p.active)
	queueDepth := len(p.pending)
	p.mu.Unlock()

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == WorkerStatusWorking {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:      len(p.workers) > 0 && activeSessions <= p.config.MaxConcurrentSessions,
		ActiveWorkers:  activeWorkers,
		TotalWorkers:   len(p.workers),
		ActiveSessions: activeSessions,
		MaxConcurrent:  p.config.MaxConcurrentSessions,
		QueueDepth:     queueDepth,
		WorkerStats:    workerStats,
	}
}

func (p *WorkerPool) activeSessionIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}
