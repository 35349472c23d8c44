package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/insightlabs/marketscope/pkg/checkpoint"
	"github.com/insightlabs/marketscope/pkg/provider"
	"github.com/insightlabs/marketscope/pkg/queue"
	"github.com/insightlabs/marketscope/pkg/session"
)

// writeError maps domain sentinels to HTTP status codes. Everything the
// handlers surface goes through here so the mapping lives in one place.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrExecutorActive):
		status = http.StatusConflict
	case errors.Is(err, provider.ErrClassUnavailable),
		errors.Is(err, queue.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, checkpoint.ErrStorage):
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
