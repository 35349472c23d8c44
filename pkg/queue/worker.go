package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/models"
)

// Worker is a single queue worker that polls for and processes sessions.
type Worker struct {
	id              string
	config          *config.QueueConfig
	sessionExecutor SessionExecutor
	pool            *WorkerPool
	stopCh          chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a queue worker bound to its pool.
func NewWorker(id string, cfg *config.QueueConfig, executor SessionExecutor, pool *WorkerPool) *Worker {
	return &Worker{
		id:              id,
		config:          cfg,
		sessionExecutor: executor,
		pool:            pool,
		stopCh:          make(chan struct{}),
		status:          WorkerStatusIdle,
		lastActivity:    time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to
// call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing session", "error", err)
				w.sleep(time.Second) // brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next pending session and runs it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	sessionID, err := w.pool.claim()
	if err != nil {
		return err
	}
	defer w.pool.release(sessionID)

	log := slog.With("session_id", sessionID, "worker_id", w.id)
	log.Info("Session claimed")

	w.setStatus(WorkerStatusWorking, sessionID)
	defer w.setStatus(WorkerStatusIdle, "")

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.config.SessionTimeout)
	defer cancelSession()

	result := w.sessionExecutor.Execute(sessionCtx, sessionID)
	if result == nil {
		result = &ExecutionResult{Status: models.StatusFailed,
			Err: errors.New("executor returned nil result")}
	}

	w.mu.Lock()
	w.sessionsProcessed++
	w.mu.Unlock()

	if result.Err != nil {
		log.Info("Session processing finished", "status", string(result.Status), "error", result.Err)
	} else {
		log.Info("Session processing finished", "status", string(result.Status))
	}
	return nil
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.config.PollInterval
	jitter := w.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}
