package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AriseOS/amid/internal/events"
)

// Stream handles GET /quick-task/stream/{task_id} (spec.md §6): an SSE feed
// of the task's event emitter, with the required no-buffering headers.
func (h *Handler) Stream(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	if err := events.WriteSSE(c.Writer, flush, st.Emitter, h.log); err != nil {
		h.log.WithError(err).Debug("sse stream ended")
	}
}
