// Package session implements the session lifecycle state machine: start,
// pause, resume, cancel, and continue-from-persisted, with a
// single-executor-per-session guard. Terminal states are immutable.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/models"
)

var (
	// ErrNotFound means no session with that ID exists, in memory or on disk.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition rejects a lifecycle operation the current state
	// forbids (e.g. pause from completed). Maps to HTTP 409.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrExecutorActive guards the single-executor-per-session invariant.
	ErrExecutorActive = errors.New("session executor already active")

	// ErrInvalidInput rejects a job without enough information to analyze.
	ErrInvalidInput = errors.New("invalid job request")
)

// state is the in-memory record for one session.
type state struct {
	session      models.Session
	pauseFlag    bool
	executing    bool
	resumeNext   bool // next execution reloads checkpoints
	cancelFunc   context.CancelFunc
	cancelOnExit bool // cancel was requested while the executor ran
}

// Manager owns all session state. Every mutation goes through it; readers
// get defensive snapshots.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*state

	store     *checkpoint.Store
	publisher *events.Publisher
	now       func() time.Time
}

// NewManager creates a session manager over the checkpoint store.
func NewManager(store *checkpoint.Store, publisher *events.Publisher) *Manager {
	return &Manager{
		sessions:  make(map[string]*state),
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// newSessionID builds a sortable session ID: UTC timestamp + uuid fragment.
func newSessionID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format("20060102T150405"), uuid.New().String()[:8])
}

// Start allocates a session, persists the job request, and marks it
// running. Execution itself is asynchronous: the caller hands the ID to the
// worker pool.
func (m *Manager) Start(job models.JobRequest) (*models.Session, error) {
	if !job.Valid() {
		return nil, fmt.Errorf("%w: segment, product, or query is required", ErrInvalidInput)
	}

	now := m.now().UTC()
	session := models.Session{
		ID:               newSessionID(now),
		Input:            job,
		Status:           models.StatusRunning,
		CreatedAt:        now,
		StartedAt:        &now,
		ComponentResults: make(map[string]models.ComponentResult),
	}

	// The job request is the session's first durable artifact; without it
	// continue_from_persisted could never rebuild the job after a restart.
	payload := jobPayload(job)
	if err := m.store.Append(session.ID, "job_request", models.CategoryLogs, models.ArtifactOK, payload); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.ID] = &state{session: session}
	m.mu.Unlock()

	m.publisher.SessionStatus(session.ID, models.StatusRunning, "session started")
	slog.Info("Session started", "session_id", session.ID)

	snapshot := session
	return &snapshot, nil
}

// Pause signals the cooperative pause flag. Only valid while running; the
// scheduler observes the flag between components, so the status flips to
// paused only after the in-flight component completes.
func (m *Manager) Pause(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.stateLocked(sessionID)
	if err != nil {
		return err
	}
	if st.session.Status != models.StatusRunning {
		return fmt.Errorf("%w: pause requires running, session is %s", ErrInvalidTransition, st.session.Status)
	}
	st.pauseFlag = true
	return nil
}

// Resume clears the pause flag and marks the session running again. The
// caller re-enqueues it; the scheduler continues at the next pending
// component by reloading checkpoints.
func (m *Manager) Resume(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.stateLocked(sessionID)
	if err != nil {
		return err
	}
	if st.session.Status != models.StatusPaused {
		return fmt.Errorf("%w: resume requires paused, session is %s", ErrInvalidTransition, st.session.Status)
	}

	now := m.now().UTC()
	st.pauseFlag = false
	st.resumeNext = true
	st.session.Status = models.StatusRunning
	st.session.ResumedAt = &now

	m.publisher.SessionStatus(sessionID, models.StatusRunning, "session resumed")
	return nil
}

// Cancel moves any non-terminal session toward cancelled. A running
// executor is interrupted through its context and observed at the next
// suspension point; a session with no executor is cancelled immediately.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	st, err := m.stateLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if st.session.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: session already %s", ErrInvalidTransition, st.session.Status)
	}

	if st.executing {
		st.cancelOnExit = true
		cancel := st.cancelFunc
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}

	m.terminateLocked(st, models.StatusCancelled, "cancelled before execution")
	m.mu.Unlock()
	return nil
}

// ContinueFromPersisted re-opens a terminal session for another scheduler
// pass that re-runs only components without an ok checkpoint. Sessions
// unknown to this process are rebuilt from the persisted job request.
func (m *Manager) ContinueFromPersisted(sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		restored, err := m.restoreLocked(sessionID)
		if err != nil {
			return nil, err
		}
		st = restored
	} else if !st.session.Status.Terminal() {
		return nil, fmt.Errorf("%w: continue requires a terminal state, session is %s",
			ErrInvalidTransition, st.session.Status)
	}

	now := m.now().UTC()
	st.session.Status = models.StatusRunning
	st.session.Error = ""
	st.session.CompletedAt = nil
	st.session.ResumedAt = &now
	st.pauseFlag = false
	st.resumeNext = true

	m.publisher.SessionStatus(sessionID, models.StatusRunning, "continuing from persisted state")
	snapshot := st.session
	return &snapshot, nil
}

// restoreLocked rebuilds a session record from its persisted job request.
func (m *Manager) restoreLocked(sessionID string) (*state, error) {
	payload, err := m.store.LoadArtifact(sessionID, "job_request")
	if err != nil {
		if errors.Is(err, checkpoint.ErrArtifactNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, err
	}

	job, err := jobFromPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt job request for %s: %v", ErrNotFound, sessionID, err)
	}

	st := &state{session: models.Session{
		ID:               sessionID,
		Input:            job,
		Status:           models.StatusFailed, // unknown outcome; continue re-runs what's missing
		ComponentResults: make(map[string]models.ComponentResult),
	}}
	m.sessions[sessionID] = st
	return st, nil
}

// Execution is the handle a worker holds while running one session.
type Execution struct {
	SessionID string
	Job       models.JobRequest
	Resume    bool
	Ctx       context.Context

	// Paused is polled by the scheduler between components.
	Paused func() bool
}

// BeginExecution claims the session for one executor. A second concurrent
// claim fails: at no instant do two executors run the same session.
func (m *Manager) BeginExecution(parent context.Context, sessionID string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.stateLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if st.executing {
		return nil, fmt.Errorf("%w: %s", ErrExecutorActive, sessionID)
	}
	if st.session.Status != models.StatusRunning {
		return nil, fmt.Errorf("%w: execution requires running, session is %s",
			ErrInvalidTransition, st.session.Status)
	}

	ctx, cancel := context.WithCancel(parent)
	st.executing = true
	st.cancelFunc = cancel
	st.cancelOnExit = false
	resume := st.resumeNext

	return &Execution{
		SessionID: sessionID,
		Job:       st.session.Input,
		Resume:    resume,
		Ctx:       ctx,
		Paused: func() bool {
			m.mu.RLock()
			defer m.mu.RUnlock()
			if s, ok := m.sessions[sessionID]; ok {
				return s.pauseFlag
			}
			return false
		},
	}, nil
}

// FinishExecution releases the executor claim and applies the outcome:
// results are recorded and the session transitions to paused or a terminal
// state. Terminal states are never overwritten. The caller (the worker)
// maps the scheduler's pause signal to the paused flag.
func (m *Manager) FinishExecution(sessionID string, results map[string]models.ComponentResult, failedRequired []string, paused bool, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.stateLocked(sessionID)
	if err != nil {
		slog.Error("Finishing execution for unknown session", "session_id", sessionID)
		return
	}

	st.executing = false
	if st.cancelFunc != nil {
		st.cancelFunc()
		st.cancelFunc = nil
	}
	st.resumeNext = false

	for name, result := range results {
		st.session.ComponentResults[name] = result
	}

	if st.session.Status.Terminal() {
		// No writes after a terminal state.
		return
	}

	switch {
	case st.cancelOnExit || errors.Is(runErr, context.Canceled):
		m.terminateLocked(st, models.StatusCancelled, "cancelled")

	case paused:
		now := m.now().UTC()
		st.session.Status = models.StatusPaused
		st.session.PausedAt = &now
		st.pauseFlag = false
		st.resumeNext = true
		m.persistTransition(st.session.ID, models.StatusPaused, "")
		m.publisher.SessionStatus(st.session.ID, models.StatusPaused, "paused between components")

	case runErr != nil:
		m.terminateLocked(st, models.StatusFailed, runErr.Error())

	case len(failedRequired) > 0:
		m.terminateLocked(st, models.StatusFailed,
			fmt.Sprintf("required components failed: %v", failedRequired))

	default:
		m.terminateLocked(st, models.StatusCompleted, "")
	}
}

// terminateLocked applies a terminal transition. Caller holds m.mu.
func (m *Manager) terminateLocked(st *state, status models.SessionStatus, errMsg string) {
	now := m.now().UTC()
	st.session.Status = status
	st.session.CompletedAt = &now
	st.session.Error = errMsg

	m.persistTransition(st.session.ID, status, errMsg)
	m.publisher.SessionStatus(st.session.ID, status, errMsg)
	slog.Info("Session reached terminal state",
		"session_id", st.session.ID, "status", string(status))
}

// persistTransition records a lifecycle transition as a log artifact. The
// transition log is informational; a write failure is logged, not fatal.
func (m *Manager) persistTransition(sessionID string, status models.SessionStatus, errMsg string) {
	payload := map[string]any{"status": string(status)}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	if err := m.store.Append(sessionID, "session_status", models.CategoryLogs, models.ArtifactOK, payload); err != nil {
		slog.Error("Persisting session transition failed",
			"session_id", sessionID, "error", err)
	}
}

// Get returns a read-only snapshot of one session.
func (m *Manager) Get(sessionID string) (*models.Snapshot, error) {
	m.mu.RLock()
	st, ok := m.sessions[sessionID]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	snapshot := models.Snapshot{
		SessionID:   st.session.ID,
		Status:      st.session.Status,
		CreatedAt:   st.session.CreatedAt,
		StartedAt:   st.session.StartedAt,
		CompletedAt: st.session.CompletedAt,
		Error:       st.session.Error,
	}
	for _, result := range st.session.ComponentResults {
		snapshot.ComponentsDone++
		if result.OK() {
			snapshot.ComponentsOK++
		}
	}
	m.mu.RUnlock()

	snapshot.LastProgress = m.lastProgress(sessionID)
	return &snapshot, nil
}

// Session returns a defensive copy of the full session record.
func (m *Manager) Session(sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	session := st.session
	session.ComponentResults = make(map[string]models.ComponentResult, len(st.session.ComponentResults))
	for name, result := range st.session.ComponentResults {
		session.ComponentResults[name] = result
	}
	return &session, nil
}

// Active returns snapshots of every in-memory session.
func (m *Manager) Active() []models.Snapshot {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]models.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snapshot, err := m.Get(id); err == nil {
			out = append(out, *snapshot)
		}
	}
	return out
}

// Delete removes a session from memory and its artifacts from disk. A
// running session must be cancelled first.
func (m *Manager) Delete(sessionID string) error {
	m.mu.Lock()
	st, inMemory := m.sessions[sessionID]
	if inMemory {
		if st.executing {
			m.mu.Unlock()
			return fmt.Errorf("%w: cancel before deleting a running session", ErrInvalidTransition)
		}
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !inMemory {
		// The store deletes missing directories without complaint, so an
		// unknown ID has to be rejected before the store call.
		artifacts, err := m.store.ListArtifacts(sessionID)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
	}

	if err := m.store.Delete(sessionID); err != nil {
		return err
	}
	m.publisher.Drop(sessionID)
	return nil
}

// lastProgress returns the newest component progress event for a session.
func (m *Manager) lastProgress(sessionID string) *models.ProgressEvent {
	history := m.publisher.History(sessionID)
	for i := len(history) - 1; i >= 0; i-- {
		payload, ok := history[i].Payload.(events.ComponentStatusPayload)
		if !ok {
			continue
		}
		ts, _ := time.Parse(time.RFC3339Nano, payload.Timestamp)
		return &models.ProgressEvent{
			SessionID:  payload.SessionID,
			Step:       payload.Step,
			TotalSteps: payload.TotalSteps,
			Component:  payload.Component,
			Status:     payload.Status,
			Message:    payload.Message,
			Timestamp:  ts,
		}
	}
	return nil
}

func (m *Manager) stateLocked(sessionID string) (*state, error) {
	st, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return st, nil
}

func jobPayload(job models.JobRequest) map[string]any {
	data, err := json.Marshal(job)
	if err != nil {
		return map[string]any{"segment": job.Segment, "product": job.Product}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"segment": job.Segment, "product": job.Product}
	}
	return payload
}

func jobFromPayload(payload map[string]any) (models.JobRequest, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.JobRequest{}, err
	}
	var job models.JobRequest
	if err := json.Unmarshal(data, &job); err != nil {
		return models.JobRequest{}, err
	}
	return job, nil
}
