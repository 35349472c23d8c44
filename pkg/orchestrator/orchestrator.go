// Package orchestrator is the facade over the pipeline: it accepts jobs,
// drives the session lifecycle through the worker pool, and assembles the
// consolidated report when a session reaches a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/engine"
	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/provider"
	"github.com/insightlabs/marketscope/pkg/queue"
	"github.com/insightlabs/marketscope/pkg/session"
)

// ErrReportPending means the session has not reached a terminal state yet,
// so there is no consolidated report to return.
var ErrReportPending = errors.New("session still in progress")

// Queue accepts sessions for asynchronous execution. Implemented by the
// worker pool.
type Queue interface {
	Enqueue(sessionID string) error
}

// Orchestrator wires job intake, the session manager, the scheduler, and
// report consolidation behind one API. It is also the pool's session
// executor: workers call Execute for every claimed session.
type Orchestrator struct {
	cfg       *config.Config
	sessions  *session.Manager
	scheduler *engine.Scheduler
	registry  *engine.ComponentRegistry
	providers *provider.Registry
	queue     Queue
}

// New creates an orchestrator. The queue is attached separately because the
// worker pool needs the orchestrator as its executor first.
func New(cfg *config.Config, sessions *session.Manager, scheduler *engine.Scheduler,
	registry *engine.ComponentRegistry, providers *provider.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		sessions:  sessions,
		scheduler: scheduler,
		registry:  registry,
		providers: providers,
	}
}

// SetQueue attaches the execution queue. Must be called before Submit.
func (o *Orchestrator) SetQueue(q Queue) { o.queue = q }

// Submit validates the job, starts a session, and enqueues it. Fails fast
// with ErrClassUnavailable when an essential provider class has no
// credentials at all, before any session state is created.
func (o *Orchestrator) Submit(job models.JobRequest) (*models.Session, error) {
	for _, class := range []config.ProviderClass{config.ClassLLM, config.ClassSearch} {
		if !o.cfg.ClassConfigured(class) {
			return nil, fmt.Errorf("%w: %s", provider.ErrClassUnavailable, class)
		}
	}

	sess, err := o.sessions.Start(job)
	if err != nil {
		return nil, err
	}

	if err := o.queue.Enqueue(sess.ID); err != nil {
		// The session never ran; cancel it so it does not hang in running.
		if cancelErr := o.sessions.Cancel(sess.ID); cancelErr != nil {
			slog.Error("Cancelling unqueueable session failed",
				"session_id", sess.ID, "error", cancelErr)
		}
		return nil, err
	}
	return sess, nil
}

// Pause signals the cooperative pause flag; the in-flight component
// completes before the status flips.
func (o *Orchestrator) Pause(sessionID string) error {
	return o.sessions.Pause(sessionID)
}

// Resume re-opens a paused session and enqueues it for another scheduler
// pass that reloads checkpoints.
func (o *Orchestrator) Resume(sessionID string) error {
	if err := o.sessions.Resume(sessionID); err != nil {
		return err
	}
	return o.queue.Enqueue(sessionID)
}

// Cancel stops a session. A running executor is interrupted through its
// context; an idle session is cancelled immediately.
func (o *Orchestrator) Cancel(sessionID string) error {
	return o.sessions.Cancel(sessionID)
}

// Continue re-opens a terminal session from its persisted artifacts and
// enqueues it: components with an ok checkpoint are reloaded, the rest
// re-execute.
func (o *Orchestrator) Continue(sessionID string) (*models.Session, error) {
	sess, err := o.sessions.ContinueFromPersisted(sessionID)
	if err != nil {
		return nil, err
	}
	if err := o.queue.Enqueue(sessionID); err != nil {
		return nil, err
	}
	return sess, nil
}

// Status returns a read-only snapshot of one session.
func (o *Orchestrator) Status(sessionID string) (*models.Snapshot, error) {
	return o.sessions.Get(sessionID)
}

// Sessions returns snapshots of every in-memory session.
func (o *Orchestrator) Sessions() []models.Snapshot {
	return o.sessions.Active()
}

// Delete removes a session and its artifacts.
func (o *Orchestrator) Delete(sessionID string) error {
	return o.sessions.Delete(sessionID)
}

// Providers returns the current provider health snapshot.
func (o *Orchestrator) Providers() []models.ProviderSnapshot {
	return o.providers.Snapshot()
}

// Report consolidates a terminal session into the final report. Returns
// ErrReportPending while the session is still running or paused.
func (o *Orchestrator) Report(sessionID string) (*models.Report, error) {
	sess, err := o.sessions.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		return nil, fmt.Errorf("%w: session is %s", ErrReportPending, sess.Status)
	}

	var failedRequired []string
	for _, name := range o.registry.Required() {
		if result, ok := sess.ComponentResults[name]; !ok || !result.OK() {
			failedRequired = append(failedRequired, name)
		}
	}

	return engine.Consolidate(o.registry, sessionID, sess.Status,
		sess.ComponentResults, failedRequired,
		processingTime(sess), o.providers.Snapshot()), nil
}

// RunSync submits a job and blocks until the session reaches a terminal
// state, then returns the consolidated report. Used by the synchronous
// analyze endpoint and the CLI path.
func (o *Orchestrator) RunSync(ctx context.Context, job models.JobRequest) (*models.Report, error) {
	sess, err := o.Submit(job)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			snapshot, err := o.sessions.Get(sess.ID)
			if err != nil {
				return nil, err
			}
			if snapshot.Status.Terminal() {
				return o.Report(sess.ID)
			}
		}
	}
}

// Execute runs one claimed session to a paused or terminal state. It is the
// worker pool's SessionExecutor: the claim, the scheduler pass, and the
// outcome mapping all happen here.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string) *queue.ExecutionResult {
	exec, err := o.sessions.BeginExecution(ctx, sessionID)
	if err != nil {
		// Lost the race with a cancel or a concurrent executor; whatever
		// state the session is in now stands.
		slog.Warn("Session execution claim rejected", "session_id", sessionID, "error", err)
		return &queue.ExecutionResult{Status: o.currentStatus(sessionID), Err: err}
	}

	outcome, runErr := o.scheduler.Run(exec.Ctx, engine.RunRequest{
		SessionID: exec.SessionID,
		Job:       exec.Job,
		Resume:    exec.Resume,
		Paused:    exec.Paused,
	})

	paused := errors.Is(runErr, engine.ErrPaused)
	if paused {
		runErr = nil
	}

	var results map[string]models.ComponentResult
	var failedRequired []string
	if outcome != nil {
		results = outcome.Results
		failedRequired = outcome.FailedRequired
	}

	o.sessions.FinishExecution(sessionID, results, failedRequired, paused, runErr)
	return &queue.ExecutionResult{Status: o.currentStatus(sessionID), Err: runErr}
}

func (o *Orchestrator) currentStatus(sessionID string) models.SessionStatus {
	if snapshot, err := o.sessions.Get(sessionID); err == nil {
		return snapshot.Status
	}
	return models.StatusFailed
}

// processingTime measures from first start to terminal transition.
func processingTime(sess *models.Session) time.Duration {
	if sess.StartedAt == nil || sess.CompletedAt == nil {
		return 0
	}
	return sess.CompletedAt.Sub(*sess.StartedAt)
}
