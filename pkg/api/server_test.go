package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/config"
	"github.com/insightlabs/marketscope/pkg/engine"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/orchestrator"
	"github.com/insightlabs/marketscope/pkg/provider"
	"github.com/insightlabs/marketscope/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// inlineQueue executes sessions synchronously on Enqueue so handlers can be
// tested without a running worker pool.
type inlineQueue struct {
	orch *orchestrator.Orchestrator
}

func (q *inlineQueue) Enqueue(sessionID string) error {
	q.orch.Execute(context.Background(), sessionID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	cfg := &config.Config{
		Providers: &config.ProvidersConfig{
			LLM:    []config.ProviderCredential{{Name: "llm-1", Kind: "fake", Priority: 1}},
			Search: []config.ProviderCredential{{Name: "search-1", Kind: "fake", Priority: 1}},
		},
		Engine:    config.DefaultEngineConfig(),
		Queue:     config.DefaultQueueConfig(),
		Retention: config.DefaultRetentionConfig(),
		Storage:   config.DefaultStorageConfig(),
	}

	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)

	bus := events.NewBus()
	publisher := events.NewPublisher(bus)
	sessions := session.NewManager(store, publisher)

	registry := engine.NewComponentRegistry()
	require.NoError(t, registry.Register(engine.Component{
		Name: "web_search", Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			return map[string]any{"results": []any{"r1"}}, nil
		},
	}))
	require.NoError(t, registry.Register(engine.Component{
		Name: "avatar", Dependencies: []string{"web_search"}, Required: true,
		Executor: func(ctx context.Context, in engine.Input) (any, error) {
			return map[string]any{"persona": "athlete"}, nil
		},
	}))

	scheduler := engine.NewScheduler(registry, store, publisher, time.Second)
	providers := provider.NewRegistryFromConfig(cfg)

	orch := orchestrator.New(cfg, sessions, scheduler, registry, providers)
	orch.SetQueue(&inlineQueue{orch: orch})

	server := NewServer(orch, store, nil, events.NewConnectionManager(bus, time.Second))
	return server, server.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submitSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/analyze",
		AnalyzeRequest{Segment: "fitness", Product: "coaching app"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, _ := resp["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestAnalyzeReturnsSessionID(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/sessions/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, models.StatusCompleted, snapshot.Status)
	assert.Equal(t, 2, snapshot.ComponentsDone)
}

func TestAnalyzeRejectsEmptyJob(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/analyze", AnalyzeRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeUnavailableWithoutLLMProviders(t *testing.T) {
	// A wiring with an empty LLM pool.
	cfg := &config.Config{
		Providers: &config.ProvidersConfig{
			Search: []config.ProviderCredential{{Name: "search-1", Kind: "fake"}},
		},
		Engine:    config.DefaultEngineConfig(),
		Queue:     config.DefaultQueueConfig(),
		Retention: config.DefaultRetentionConfig(),
		Storage:   config.DefaultStorageConfig(),
	}
	store, err := checkpoint.NewStore(t.TempDir())
	require.NoError(t, err)
	publisher := events.NewPublisher(events.NewBus())
	registry := engine.NewComponentRegistry()
	orch := orchestrator.New(cfg, session.NewManager(store, publisher),
		engine.NewScheduler(registry, store, publisher, time.Second),
		registry, provider.NewRegistryFromConfig(cfg))
	orch.SetQueue(&inlineQueue{orch: orch})
	router := NewServer(orch, store, nil, nil).Router()

	w := doJSON(t, router, http.MethodPost, "/analyze", AnalyzeRequest{Segment: "fitness"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSessionStatusUnknown(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/sessions/missing/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseCompletedSessionConflicts(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/sessions/"+id+"/pause", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResultsReturnsConsolidatedReport(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/sessions/"+id+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var report models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.Len(t, report.Components, 2)
	assert.Equal(t, 1.0, report.Metrics.SuccessRate)
}

func TestProgressReturnsLastEvent(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/sessions/"+id+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string                `json:"session_id"`
		Status    models.SessionStatus  `json:"status"`
		Progress  *models.ProgressEvent `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.SessionID)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, "avatar", resp.Progress.Component)
	assert.Equal(t, 2, resp.Progress.Step)
}

func TestContinueReloadsCheckpoints(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	// Completed sessions can also be continued; checkpoints are reloaded.
	w := doJSON(t, router, http.MethodPost, "/sessions/"+id+"/continue", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/sessions/"+id+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report models.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	for name, result := range report.Components {
		assert.Equal(t, models.ResultSkipped, result.Status, name)
	}
}

func TestDeleteSessionRemovesIt(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/sessions/"+id+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteUnknownSessionIs404(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodDelete, "/sessions/no-such-session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessionsIncludesPersisted(t *testing.T) {
	_, router := newTestServer(t)
	id := submitSession(t, router)

	w := doJSON(t, router, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, id, resp.Sessions[0].SessionID)
	assert.Greater(t, resp.Sessions[0].ArtifactCount, 0)
}

func TestClearSessionsRequiresConfirm(t *testing.T) {
	_, router := newTestServer(t)
	submitSession(t, router)

	w := doJSON(t, router, http.MethodPost, "/sessions/clear", ClearSessionsRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/sessions/clear", ClearSessionsRequest{Confirm: true})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []models.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sessions)
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "marketscope", resp["service"])
}

func TestProvidersEndpoint(t *testing.T) {
	_, router := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Providers []models.ProviderSnapshot `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Providers, 2)
}
