package models

import (
	"time"
)

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is immutable.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Session is one analysis job lifecycle, from submit to a terminal state.
// Mutation happens only through the session manager; readers get snapshots.
type Session struct {
	ID               string                     `json:"session_id"`
	Input            JobRequest                 `json:"input"`
	Status           SessionStatus              `json:"status"`
	CreatedAt        time.Time                  `json:"created_at"`
	StartedAt        *time.Time                 `json:"started_at,omitempty"`
	PausedAt         *time.Time                 `json:"paused_at,omitempty"`
	ResumedAt        *time.Time                 `json:"resumed_at,omitempty"`
	CompletedAt      *time.Time                 `json:"completed_at,omitempty"`
	ComponentResults map[string]ComponentResult `json:"component_results,omitempty"`
	Error            string                     `json:"error,omitempty"`
}

// Snapshot is a read-only copy of session state for status endpoints.
type Snapshot struct {
	SessionID      string         `json:"session_id"`
	Status         SessionStatus  `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ComponentsDone int            `json:"components_done"`
	ComponentsOK   int            `json:"components_ok"`
	Error          string         `json:"error,omitempty"`
	LastProgress   *ProgressEvent `json:"last_progress,omitempty"`
}

// SessionSummary is a persisted-session listing entry, derived from the
// checkpoint store without needing the producing process.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	ArtifactCount int       `json:"artifact_count"`
	FirstArtifact time.Time `json:"first_artifact"`
	LastArtifact  time.Time `json:"last_artifact"`
	Categories    []string  `json:"categories"`
}
