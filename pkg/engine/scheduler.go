package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/provider"
)

// ErrPaused is returned by Run when the cooperative pause flag was observed
// between components. The session keeps its partial results and resumes at
// the next pending component.
var ErrPaused = errors.New("run paused")

// RunRequest describes one scheduler pass over the pipeline.
type RunRequest struct {
	SessionID string
	Job       models.JobRequest

	// Resume reloads ok artifacts from the checkpoint store instead of
	// re-executing their components (pause/resume and continue).
	Resume bool

	// Paused is the cooperative pause flag, polled between components.
	// Nil means the run is never paused.
	Paused func() bool
}

// Outcome is the result of one complete (non-paused) scheduler pass.
type Outcome struct {
	Results        map[string]models.ComponentResult
	FailedRequired []string
}

// Scheduler executes a session's components in stable topological order,
// checkpointing after every component and publishing progress events.
type Scheduler struct {
	registry  *ComponentRegistry
	store     *checkpoint.Store
	publisher *events.Publisher

	componentDeadline time.Duration
}

// NewScheduler wires a scheduler. componentDeadline bounds each executor
// call; on expiry the component is marked errored and execution moves on.
func NewScheduler(registry *ComponentRegistry, store *checkpoint.Store, publisher *events.Publisher, componentDeadline time.Duration) *Scheduler {
	if componentDeadline <= 0 {
		componentDeadline = 10 * time.Minute
	}
	return &Scheduler{
		registry:          registry,
		store:             store,
		publisher:         publisher,
		componentDeadline: componentDeadline,
	}
}

// Run executes the pipeline for one session.
//
// Executor failures are absorbed: the component's result becomes an error
// sentinel and execution continues, so a failed required component never
// stops later components from producing what they can. Only three things
// end a run early: a storage failure (checkpointing is an invariant),
// context cancellation, and the pause flag (ErrPaused).
func (s *Scheduler) Run(ctx context.Context, req RunRequest) (*Outcome, error) {
	ordered, err := s.registry.Order()
	if err != nil {
		return nil, err
	}

	log := slog.With("session_id", req.SessionID)
	results := make(map[string]models.ComponentResult, len(ordered))

	var checkpointed map[string]models.ComponentResult
	if req.Resume {
		checkpointed, err = s.loadCheckpointed(req.SessionID)
		if err != nil {
			return nil, err
		}
		for _, name := range dropStaleCheckpoints(ordered, checkpointed) {
			log.Info("Checkpoint invalidated, predecessor re-executes", "component", name)
		}
	}

	total := len(ordered)
	for i, component := range ordered {
		step := i + 1

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.Paused != nil && req.Paused() {
			log.Info("Pause observed, stopping between components",
				"next_component", component.Name, "step", step)
			return nil, ErrPaused
		}

		// Resumed sessions reload prior successes instead of re-fetching.
		if prior, ok := checkpointed[component.Name]; ok {
			prior.Status = models.ResultSkipped
			results[component.Name] = prior
			s.publishProgress(req.SessionID, step, total, component.Name, string(models.ResultSkipped), "reloaded from checkpoint")
			log.Info("Component reloaded from checkpoint", "component", component.Name, "step", step)
			continue
		}

		s.publishProgress(req.SessionID, step, total, component.Name, events.ComponentStatusStarted, "")

		result := s.runComponent(ctx, component, req, results)
		results[component.Name] = result

		// Write-then-continue: the artifact must be durable before the
		// next component starts. Storage failures are fatal for the run.
		if err := s.appendResult(req.SessionID, result); err != nil {
			return nil, err
		}

		s.publishProgress(req.SessionID, step, total, component.Name, string(result.Status), result.Error)
		log.Info("Component finished",
			"component", component.Name,
			"step", step,
			"status", string(result.Status))
	}

	outcome := &Outcome{Results: results}
	for _, name := range s.registry.Required() {
		if result, ok := results[name]; !ok || !result.OK() {
			outcome.FailedRequired = append(outcome.FailedRequired, name)
		}
	}
	return outcome, nil
}

// runComponent executes one component under the component deadline and
// normalizes whatever comes back. Never returns a zero result.
func (s *Scheduler) runComponent(ctx context.Context, component Component, req RunRequest, results map[string]models.ComponentResult) models.ComponentResult {
	input := Input{
		SessionID: req.SessionID,
		Job:       req.Job,
		Previous:  make(map[string]models.ComponentResult, len(component.Dependencies)),
	}
	// Dependencies that errored are passed through as sentinels: the
	// component may still degrade gracefully (best-effort reporting).
	for _, dep := range component.Dependencies {
		if prior, ok := results[dep]; ok {
			input.Previous[dep] = prior
		} else {
			input.Previous[dep] = models.ErrorResult(dep,
				string(provider.KindDependencyMissing), "dependency produced no result")
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, s.componentDeadline)
	defer cancel()

	raw, err := component.Executor(execCtx, input)
	if err != nil {
		// Deadline of the component (not the session) is a timeout.
		if execCtx.Err() != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return models.ErrorResult(component.Name, string(provider.KindTimeout),
				fmt.Sprintf("component deadline %s exceeded", s.componentDeadline))
		}
		return NormalizeError(component.Name, err)
	}

	result := Normalize(component.Name, raw)
	if result.Status == models.ResultOK && component.Validator != nil && !component.Validator(result) {
		return models.ErrorResult(component.Name, string(provider.KindValidationFailed),
			"validator rejected component output")
	}
	return result
}

// appendResult persists one component result as a checkpoint artifact.
func (s *Scheduler) appendResult(sessionID string, result models.ComponentResult) error {
	status := models.ArtifactOK
	if result.Status == models.ResultError {
		status = models.ArtifactError
	}
	return s.store.Append(sessionID, result.Component, models.CategoryAnalysis, status, resultToPayload(result))
}

// loadCheckpointed returns the latest ok result per stage for a session.
// Errored artifacts are ignored so continue_from_persisted re-runs them.
func (s *Scheduler) loadCheckpointed(sessionID string) (map[string]models.ComponentResult, error) {
	artifacts, err := s.store.ListArtifacts(sessionID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.ComponentResult)
	for _, artifact := range artifacts {
		if artifact.Category != models.CategoryAnalysis || artifact.Status != models.ArtifactOK {
			continue
		}
		result, err := payloadToResult(artifact.Payload)
		if err != nil {
			slog.Warn("Skipping unreadable checkpoint artifact",
				"session_id", sessionID, "stage", artifact.Stage, "error", err)
			continue
		}
		// Artifacts are sequence-ordered; the latest write wins.
		out[artifact.Stage] = result
	}
	return out, nil
}

// dropStaleCheckpoints removes checkpoints for components downstream of one
// that will re-execute. A dependent that ran against a failed predecessor
// left an ok artifact built on the error sentinel; once that predecessor
// re-runs, the artifact is stale and the dependent must recompute. ordered
// is topological, so one forward pass propagates staleness transitively.
func dropStaleCheckpoints(ordered []Component, checkpointed map[string]models.ComponentResult) []string {
	rerun := make(map[string]bool, len(ordered))
	var dropped []string
	for _, component := range ordered {
		stale := false
		for _, dep := range component.Dependencies {
			if rerun[dep] {
				stale = true
				break
			}
		}
		if _, ok := checkpointed[component.Name]; !ok {
			rerun[component.Name] = true
			continue
		}
		if stale {
			delete(checkpointed, component.Name)
			rerun[component.Name] = true
			dropped = append(dropped, component.Name)
		}
	}
	return dropped
}

func (s *Scheduler) publishProgress(sessionID string, step, total int, component, status, message string) {
	if s.publisher == nil {
		return
	}
	s.publisher.ComponentProgress(models.ProgressEvent{
		SessionID:  sessionID,
		Step:       step,
		TotalSteps: total,
		Component:  component,
		Status:     status,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	})
}

// resultToPayload round-trips the result through JSON so the artifact on
// disk is a plain keyed document, parseable without this process.
func resultToPayload(result models.ComponentResult) map[string]any {
	data, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"component": result.Component, "status": string(result.Status)}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"component": result.Component, "status": string(result.Status)}
	}
	return payload
}

func payloadToResult(payload map[string]any) (models.ComponentResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.ComponentResult{}, err
	}
	var result models.ComponentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return models.ComponentResult{}, err
	}
	if result.Component == "" {
		return models.ComponentResult{}, fmt.Errorf("artifact payload has no component field")
	}
	return result, nil
}
