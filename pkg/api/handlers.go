package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/orchestrator"
	"github.com/insightlabs/marketscope/pkg/session"
)

// AnalyzeRequest is the job submission body.
type AnalyzeRequest struct {
	Segment    string `json:"segment"`
	Product    string `json:"product"`
	Audience   string `json:"audience"`
	Objectives string `json:"objectives"`
	Context    string `json:"context"`
	Query      string `json:"query"`
}

func (r AnalyzeRequest) job() models.JobRequest {
	return models.JobRequest{
		Segment:    r.Segment,
		Product:    r.Product,
		Audience:   r.Audience,
		Objectives: r.Objectives,
		Context:    r.Context,
		Query:      r.Query,
	}
}

// Analyze handles POST /analyze: submit a job for asynchronous execution.
func (s *Server) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.orch.Submit(req.job())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"status":     sess.Status,
	})
}

// AnalyzeSync handles POST /analyze/sync: submit and block until the
// session is terminal, returning the consolidated report.
func (s *Server) AnalyzeSync(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := s.orch.RunSync(c.Request.Context(), req.job())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListSessions handles GET /sessions: persisted sessions from the
// checkpoint store, plus in-memory snapshots for sessions this process
// still tracks.
func (s *Server) ListSessions(c *gin.Context) {
	persisted, err := s.store.ListSessions()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": persisted,
		"active":   s.orch.Sessions(),
	})
}

// SessionStatus handles GET /sessions/:id/status.
func (s *Server) SessionStatus(c *gin.Context) {
	snapshot, err := s.orch.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// SessionProgress handles GET /sessions/:id/progress: the latest progress
// event for polling clients.
func (s *Server) SessionProgress(c *gin.Context) {
	snapshot, err := s.orch.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": snapshot.SessionID,
		"status":     snapshot.Status,
		"progress":   snapshot.LastProgress,
	})
}

// SessionResults handles GET /sessions/:id/results: the consolidated
// report once the session is terminal, 202 while it is still running.
func (s *Server) SessionResults(c *gin.Context) {
	report, err := s.orch.Report(c.Param("id"))
	if err != nil {
		if errors.Is(err, orchestrator.ErrReportPending) {
			snapshot, statusErr := s.orch.Status(c.Param("id"))
			if statusErr != nil {
				writeError(c, statusErr)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{
				"session_id": snapshot.SessionID,
				"status":     snapshot.Status,
				"detail":     "report pending",
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// PauseSession handles POST /sessions/:id/pause.
func (s *Server) PauseSession(c *gin.Context) {
	if err := s.orch.Pause(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "status": "pausing"})
}

// ResumeSession handles POST /sessions/:id/resume.
func (s *Server) ResumeSession(c *gin.Context) {
	if err := s.orch.Resume(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "status": models.StatusRunning})
}

// ContinueSession handles POST /sessions/:id/continue: re-open a terminal
// session and re-run only the components without an ok checkpoint.
func (s *Server) ContinueSession(c *gin.Context) {
	sess, err := s.orch.Continue(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID, "status": sess.Status})
}

// CancelSession handles POST /sessions/:id/cancel.
func (s *Server) CancelSession(c *gin.Context) {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "status": "cancelling"})
}

// DeleteSession handles DELETE /sessions/:id.
func (s *Server) DeleteSession(c *gin.Context) {
	if err := s.orch.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "deleted": true})
}

// ClearSessionsRequest guards the destructive clear endpoint.
type ClearSessionsRequest struct {
	Confirm bool `json:"confirm"`
}

// ClearSessions handles POST /sessions/clear: delete every persisted
// session. Requires an explicit confirm flag.
func (s *Server) ClearSessions(c *gin.Context) {
	var req ClearSessionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirm flag required"})
		return
	}

	summaries, err := s.store.ListSessions()
	if err != nil {
		writeError(c, err)
		return
	}

	deleted := 0
	var skipped []string
	for _, summary := range summaries {
		if err := s.orch.Delete(summary.SessionID); err != nil {
			if errors.Is(err, session.ErrInvalidTransition) {
				// Still executing; leave it alone.
				skipped = append(skipped, summary.SessionID)
				continue
			}
			writeError(c, fmt.Errorf("deleting %s: %w", summary.SessionID, err))
			return
		}
		deleted++
	}

	slog.Info("Sessions cleared", "deleted", deleted, "skipped", len(skipped))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "skipped": skipped})
}
