// Package api is the thin HTTP surface over the orchestrator: job intake,
// session lifecycle operations, status polling, and the WebSocket progress
// stream. Handlers translate between HTTP and domain sentinels and contain
// no pipeline logic.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/events"
	"github.com/insightlabs/marketscope/pkg/orchestrator"
	"github.com/insightlabs/marketscope/pkg/queue"
	"github.com/insightlabs/marketscope/pkg/version"
)

// Server holds the HTTP dependencies and builds the router.
type Server struct {
	orch   *orchestrator.Orchestrator
	store  *checkpoint.Store
	pool   *queue.WorkerPool
	stream *events.ConnectionManager

	httpServer *http.Server
}

// NewServer wires the HTTP surface. stream may be nil to disable the
// WebSocket endpoint.
func NewServer(orch *orchestrator.Orchestrator, store *checkpoint.Store, pool *queue.WorkerPool, stream *events.ConnectionManager) *Server {
	return &Server{orch: orch, store: store, pool: pool, stream: stream}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.Health)
	router.GET("/providers", s.Providers)

	router.POST("/analyze", s.Analyze)
	router.POST("/analyze/sync", s.AnalyzeSync)

	router.GET("/sessions", s.ListSessions)
	router.POST("/sessions/clear", s.ClearSessions)
	router.GET("/sessions/:id/status", s.SessionStatus)
	router.GET("/sessions/:id/progress", s.SessionProgress)
	router.GET("/sessions/:id/results", s.SessionResults)
	router.POST("/sessions/:id/pause", s.PauseSession)
	router.POST("/sessions/:id/resume", s.ResumeSession)
	router.POST("/sessions/:id/continue", s.ContinueSession)
	router.POST("/sessions/:id/cancel", s.CancelSession)
	router.DELETE("/sessions/:id", s.DeleteSession)

	if s.stream != nil {
		router.GET("/ws", s.StreamEvents)
	}
	return router
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully within the given timeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Health reports process liveness plus worker pool state.
func (s *Server) Health(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": version.AppName,
		"version": version.Version,
	}
	if s.pool != nil {
		health := s.pool.Health()
		body["queue"] = health
		if !health.IsHealthy {
			body["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}

// Providers returns the live provider health snapshot.
func (s *Server) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": s.orch.Providers()})
}
