package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/engine"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/provider"
	"github.com/insightlabs/marketscope/pkg/session"
)

// harness wires a full orchestrator over a temp checkpoint store with an
// inline queue: Enqueue runs the session synchronously on the caller's
// goroutine, so tests observe terminal state right after Submit.
type harness struct {
	orch      *Orchestrator
	store     *checkpoint.Store
	registry  *engine.ComponentRegistry
	providers *provider.Registry
	bus       *events.Bus
}

type inlineQueue struct {
	orch *Orchestrator
}

func (q *inlineQueue) Enqueue(sessionID string) error {
	q.orch.Execute(context.Background(), sessionID)
	return nil
}

// asyncQueue runs sessions on their own goroutines, for pause tests.
type asyncQueue struct {
	orch *Orchestrator
	done chan string
}

func (q *asyncQueue) Enqueue(sessionID string) error {
	go func() {
		q.orch.Execute(context.Background(), sessionID)
		q.done <- sessionID
	}()
	return nil
}

func configWith(providers *config.ProvidersConfig) *config.Config {
	return &config.Config{
		Providers: providers,
		Engine:    config.DefaultEngineConfig(),
		Queue:     config.DefaultQueueConfig(),
		Retention: config.DefaultRetentionConfig(),
		Storage:   config.DefaultStorageConfig(),
	}
}

func testConfig() *config.Config {
	return configWith(&config.ProvidersConfig{
		LLM:    []config.ProviderCredential{{Name: "llm-1", Kind: "fake", Priority: 1}},
		Search: []config.ProviderCredential{{Name: "search-1", Kind: "fake", Priority: 1}},
	})
}

func newHarness(t *testing.T, cfg *config.Config, registry *engine.ComponentRegistry) *harness {
	t.Helper()

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	sessions := session.NewManager(store, publisher)
	scheduler := engine.NewScheduler(registry, store, publisher, time.Second)
	providers := provider.NewRegistryFromConfig(cfg)

	orch := New(cfg, sessions, scheduler, registry, providers)
	orch.SetQueue(&inlineQueue{orch: orch})

	return &harness{orch: orch, store: store, registry: registry, providers: providers, bus: bus}
}

func okExecutor(payload map[string]any) engine.Executor {
	return func(ctx context.Context, in engine.Input) (any, error) {
		return payload, nil
	}
}

func register(t *testing.T, registry *engine.ComponentRegistry, c engine.Component) {
	t.Helper()
	require.NoError(t, registry.Register(c))
}

func threeStageRegistry(t *testing.T) *engine.ComponentRegistry {
	registry := engine.NewComponentRegistry()
	register(t, registry, engine.Component{
		Name: "web_search", Required: true,
		Executor: okExecutor(map[string]any{"results": []any{"r1"}}),
	})
	register(t, registry, engine.Component{
		Name: "avatar", Dependencies: []string{"web_search"}, Required: true,
		Executor: okExecutor(map[string]any{"persona": "athlete"}),
	})
	register(t, registry, engine.Component{
		Name: "drivers", Dependencies: []string{"avatar"}, Required: true,
		Executor: okExecutor(map[string]any{"drivers": []any{"status"}}),
	})
	return registry
}

func TestHappyPathThreeComponents(t *testing.T) {
	h := newHarness(t, testConfig(), threeStageRegistry(t))

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness", Product: "coaching app"})
	require.NoError(t, err)

	snapshot, err := h.orch.Status(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snapshot.Status)

	report, err := h.orch.Report(sess.ID)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.Components, 3)
	for _, name := range []string{"web_search", "avatar", "drivers"} {
		assert.Equal(t, models.ResultOK, report.Components[name].Status, name)
	}
	assert.Equal(t, 1.0, report.Metrics.SuccessRate)

	// Progress events arrive in dependency order, steps 1..3.
	history := h.bus.History(events.SessionChannel(sess.ID), 0, 0)
	var steps []int
	var names []string
	for _, env := range history {
		if p, ok := env.Payload.(events.ComponentStatusPayload); ok && p.Status == string(models.ResultOK) {
			steps = append(steps, p.Step)
			names = append(names, p.Component)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, steps)
	assert.Equal(t, []string{"web_search", "avatar", "drivers"}, names)
}

func TestSubmitRequiresEssentialProviderClasses(t *testing.T) {
	cfg := configWith(&config.ProvidersConfig{
		Search: []config.ProviderCredential{{Name: "search-1", Kind: "fake"}},
	})
	h := newHarness(t, cfg, threeStageRegistry(t))

	_, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	assert.ErrorIs(t, err, provider.ErrClassUnavailable)
}

func TestSubmitRollsBackOnQueueFailure(t *testing.T) {
	h := newHarness(t, testConfig(), threeStageRegistry(t))
	h.orch.SetQueue(failingQueue{})

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.Error(t, err)
	assert.Nil(t, sess)
}

type failingQueue struct{}

func (failingQueue) Enqueue(string) error { return errors.New("queue full") }

func TestRateLimitedPrimaryFallsBackToSecondary(t *testing.T) {
	cfg := configWith(&config.ProvidersConfig{
		LLM: []config.ProviderCredential{
			{Name: "P1", Kind: "fake", Priority: 1},
			{Name: "P2", Kind: "fake", Priority: 2},
		},
		Search: []config.ProviderCredential{{Name: "S1", Kind: "fake", Priority: 1}},
	})

	registry := engine.NewComponentRegistry()
	h := newHarness(t, cfg, registry)

	limiter := provider.NewRateLimiter(cfg)
	dispatcher := provider.NewDispatcher(cfg, h.providers, limiter)
	dispatcher.RegisterAdapter(config.ClassLLM, "fake",
		provider.AdapterFunc(func(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
			if cred.Name == "P1" {
				return nil, provider.NewCallError("P1", provider.KindRateLimited,
					errors.New("429 too many requests"))
			}
			return &provider.Response{Text: `{"persona":"athlete"}`}, nil
		}))

	register(t, registry, engine.Component{
		Name: "avatar", Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			resp, err := dispatcher.Invoke(ctx, config.ClassLLM, provider.Request{Prompt: "avatar"})
			if err != nil {
				return nil, err
			}
			return map[string]any{"persona": resp.Text, "provider": resp.Provider}, nil
		},
	})

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	report, err := h.orch.Report(sess.ID)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, "P2", report.Components["avatar"].Data["provider"])
	assert.Equal(t, 1.0, report.Metrics.SuccessRate)

	for _, snap := range report.ProviderStatus {
		if snap.Name == "P1" {
			assert.Equal(t, 1, snap.ConsecutiveFailures)
			require.NotNil(t, snap.DisabledUntil)
			assert.True(t, snap.DisabledUntil.After(time.Now()))
		}
	}
}

func TestRequiredFailureDoesNotAbortPipeline(t *testing.T) {
	registry := engine.NewComponentRegistry()
	register(t, registry, engine.Component{
		Name: "drivers", Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			return nil, errors.New("model produced garbage")
		},
	})
	var prePitchSawSentinel atomic.Bool
	register(t, registry, engine.Component{
		Name: "pre_pitch", Dependencies: []string{"drivers"},
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			if in.Previous["drivers"].Status == models.ResultError {
				prePitchSawSentinel.Store(true)
			}
			return map[string]any{"pitch": "best effort"}, nil
		},
	})

	h := newHarness(t, testConfig(), registry)
	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	snapshot, err := h.orch.Status(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snapshot.Status)

	report, err := h.orch.Report(sess.ID)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, []string{"drivers"}, report.FailedRequired)
	assert.Equal(t, models.ResultError, report.Components["drivers"].Status)
	assert.Equal(t, models.ResultOK, report.Components["pre_pitch"].Status)
	assert.True(t, prePitchSawSentinel.Load(), "downstream must receive the error sentinel")
}

func TestPauseBetweenComponentsThenResume(t *testing.T) {
	const stageDelay = 50 * time.Millisecond

	var mu sync.Mutex
	executed := map[string]int{}
	registry := engine.NewComponentRegistry()
	var prev []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("stage_%d", i)
		deps := prev
		register(t, registry, engine.Component{
			Name: name, Dependencies: deps,
			Executor: func(ctx context.Context, in engine.Input) (any, error) {
				time.Sleep(stageDelay)
				mu.Lock()
				executed[name]++
				mu.Unlock()
				return map[string]any{"stage": name}, nil
			},
		})
		prev = []string{name}
	}

	h := newHarness(t, testConfig(), registry)
	q := &asyncQueue{orch: h.orch, done: make(chan string, 4)}
	h.orch.SetQueue(q)

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	time.Sleep(stageDelay / 2)
	require.NoError(t, h.orch.Pause(sess.ID))

	select {
	case <-q.done:
	case <-time.After(2 * time.Second):
		t.Fatal("paused run did not stop")
	}

	snapshot, err := h.orch.Status(sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPaused, snapshot.Status)

	// Every completed component left a durable artifact before the pause.
	artifacts := stageArtifacts(t, h.store, sess.ID)
	pausedCount := len(artifacts)
	require.GreaterOrEqual(t, pausedCount, 1)
	require.Less(t, pausedCount, 5)

	require.NoError(t, h.orch.Resume(sess.ID))
	select {
	case <-q.done:
	case <-time.After(2 * time.Second):
		t.Fatal("resumed run did not finish")
	}

	snapshot, err = h.orch.Status(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snapshot.Status)

	// No component ran twice, and every stage has exactly one artifact.
	mu.Lock()
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("stage_%d", i)
		assert.Equal(t, 1, executed[name], name)
	}
	mu.Unlock()
	assert.Len(t, stageArtifacts(t, h.store, sess.ID), 5)
}

func TestAllProvidersExhausted(t *testing.T) {
	cfg := configWith(&config.ProvidersConfig{
		LLM: []config.ProviderCredential{
			{Name: "P1", Kind: "fake", Priority: 1},
			{Name: "P2", Kind: "fake", Priority: 2},
		},
		Search: []config.ProviderCredential{{Name: "S1", Kind: "fake", Priority: 1}},
	})
	cfg.Engine.MaxConsecutiveFailures = 1

	registry := engine.NewComponentRegistry()
	h := newHarness(t, cfg, registry)

	limiter := provider.NewRateLimiter(cfg)
	dispatcher := provider.NewDispatcher(cfg, h.providers, limiter)
	dispatcher.RegisterAdapter(config.ClassLLM, "fake",
		provider.AdapterFunc(func(ctx context.Context, cred config.ProviderCredential, req provider.Request) (*provider.Response, error) {
			return nil, provider.NewCallError(cred.Name, provider.KindAuth, errors.New("401 unauthorized"))
		}))

	register(t, registry, engine.Component{
		Name: "avatar",
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			resp, err := dispatcher.Invoke(ctx, config.ClassLLM, provider.Request{Prompt: "avatar"})
			if err != nil {
				return nil, err
			}
			return map[string]any{"persona": resp.Text}, nil
		},
	})
	register(t, registry, engine.Component{
		Name: "summary", Dependencies: []string{"avatar"},
		Executor: okExecutor(map[string]any{"summary": "no llm needed"}),
	})

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	report, err := h.orch.Report(sess.ID)
	require.NoError(t, err)

	avatar := report.Components["avatar"]
	assert.Equal(t, models.ResultError, avatar.Status)
	assert.Equal(t, string(provider.KindAllProvidersExhausted), avatar.ErrorKind)

	// Components that never touch the LLM class still run.
	assert.Equal(t, models.ResultOK, report.Components["summary"].Status)

	for _, snap := range report.ProviderStatus {
		if snap.Class == string(config.ClassLLM) {
			assert.Equal(t, "disabled", snap.State, snap.Name)
		}
	}
}

func TestContinueFromPersistedRestoresPartialProgress(t *testing.T) {
	var driversFail atomic.Bool
	driversFail.Store(true)
	var mu sync.Mutex
	executed := map[string]int{}
	count := func(name string) {
		mu.Lock()
		executed[name]++
		mu.Unlock()
	}

	registry := engine.NewComponentRegistry()
	register(t, registry, engine.Component{
		Name: "web_search", Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			count("web_search")
			return map[string]any{"results": []any{"r1"}}, nil
		},
	})
	register(t, registry, engine.Component{
		Name: "avatar", Dependencies: []string{"web_search"}, Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			count("avatar")
			return map[string]any{"persona": "athlete"}, nil
		},
	})
	register(t, registry, engine.Component{
		Name: "drivers", Dependencies: []string{"avatar"}, Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			count("drivers")
			if driversFail.Load() {
				return nil, errors.New("model unavailable")
			}
			return map[string]any{"drivers": []any{"status"}}, nil
		},
	})
	register(t, registry, engine.Component{
		Name: "plan", Dependencies: []string{"drivers"},
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			count("plan")
			return map[string]any{"plan": "90 days"}, nil
		},
	})

	h := newHarness(t, testConfig(), registry)
	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	snapshot, err := h.orch.Status(sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, snapshot.Status)

	// The model comes back; continue re-runs only what never succeeded.
	driversFail.Store(false)
	_, err = h.orch.Continue(sess.ID)
	require.NoError(t, err)

	report, err := h.orch.Report(sess.ID)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, models.ResultSkipped, report.Components["web_search"].Status)
	assert.Equal(t, models.ResultSkipped, report.Components["avatar"].Status)
	assert.Equal(t, models.ResultOK, report.Components["drivers"].Status)
	assert.Equal(t, models.ResultOK, report.Components["plan"].Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, executed["web_search"], "checkpointed component must not re-run")
	assert.Equal(t, 1, executed["avatar"], "checkpointed component must not re-run")
	assert.Equal(t, 2, executed["drivers"])
	assert.Equal(t, 2, executed["plan"], "dependents of the failed component re-run")
}

func TestReportPendingWhileRunning(t *testing.T) {
	registry := engine.NewComponentRegistry()
	release := make(chan struct{})
	register(t, registry, engine.Component{
		Name: "slow",
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			<-release
			return map[string]any{"done": true}, nil
		},
	})

	h := newHarness(t, testConfig(), registry)
	q := &asyncQueue{orch: h.orch, done: make(chan string, 1)}
	h.orch.SetQueue(q)

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	_, err = h.orch.Report(sess.ID)
	assert.ErrorIs(t, err, ErrReportPending)

	close(release)
	<-q.done

	_, err = h.orch.Report(sess.ID)
	assert.NoError(t, err)
}

func TestRunSyncBlocksUntilTerminal(t *testing.T) {
	h := newHarness(t, testConfig(), threeStageRegistry(t))
	q := &asyncQueue{orch: h.orch, done: make(chan string, 1)}
	h.orch.SetQueue(q)

	report, err := h.orch.RunSync(context.Background(), models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.Components, 3)
}

func TestCancelRunningSession(t *testing.T) {
	registry := engine.NewComponentRegistry()
	started := make(chan struct{})
	register(t, registry, engine.Component{
		Name: "slow",
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	h := newHarness(t, testConfig(), registry)
	q := &asyncQueue{orch: h.orch, done: make(chan string, 1)}
	h.orch.SetQueue(q)

	sess, err := h.orch.Submit(models.JobRequest{Segment: "fitness"})
	require.NoError(t, err)

	<-started
	require.NoError(t, h.orch.Cancel(sess.ID))
	<-q.done

	snapshot, err := h.orch.Status(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, snapshot.Status)
}

// stageArtifacts lists the analysis-category artifacts for a session.
func stageArtifacts(t *testing.T, store *checkpoint.Store, sessionID string) []models.Artifact {
	t.Helper()
	artifacts, err := store.ListArtifacts(sessionID)
	require.NoError(t, err)
	out := artifacts[:0:0]
	for _, a := range artifacts {
		if a.Category == models.CategoryAnalysis {
			out = append(out, a)
		}
	}
	return out
}
