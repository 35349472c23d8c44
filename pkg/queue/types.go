// Package queue runs sessions on a bounded worker pool over an in-memory
// FIFO pending queue. Submissions beyond the concurrency cap wait in the
// queue or are rejected, depending on configuration.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/insightlabs/marketscope/pkg/models"
)

var (
	// ErrNoSessionsAvailable means the pending queue is empty.
	ErrNoSessionsAvailable = errors.New("no sessions available")

	// ErrAtCapacity means the concurrent-session cap is reached.
	ErrAtCapacity = errors.New("at max concurrent sessions")

	// ErrQueueFull rejects a submission when the queue is full and the
	// pool is configured to reject instead of waiting.
	ErrQueueFull = errors.New("session queue full")
)

// ExecutionResult is what a session executor reports back to the worker.
type ExecutionResult struct {
	Status models.SessionStatus
	Err    error
}

// SessionExecutor runs one claimed session to a paused or terminal state.
// Implemented by the orchestrator's runner.
type SessionExecutor interface {
	Execute(ctx context.Context, sessionID string) *ExecutionResult
}

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is a point-in-time view of one worker.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentSessionID  string       `json:"current_session_id,omitempty"`
	SessionsProcessed int          `json:"sessions_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// PoolHealth is a point-in-time view of the whole pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	ActiveSessions int            `json:"active_sessions"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}
