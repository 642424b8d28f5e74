package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AriseOS/amid/internal/task"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// Message handles POST /quick-task/message/{task_id} (spec.md §6): either a
// human_response delivered to the ask_human rendezvous slot, or a
// user_message queued to the steering queue.
func (h *Handler) Message(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}

	var req v1.TaskMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message body"})
		return
	}

	switch req.Type {
	case "human_response":
		st.ProvideHumanResponse(req.Response)
		c.JSON(http.StatusOK, gin.H{"status": "delivered"})
	case "user_message":
		if err := st.PutUserMessage(req.Message); err != nil {
			if _, full := err.(task.ErrQueueFull); full {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "queued"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be human_response or user_message"})
	}
}

// Cancel handles POST /quick-task/cancel/{task_id}.
func (h *Handler) Cancel(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	st.MarkCancelled("cancelled by user")
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// Pause handles POST /quick-task/pause/{task_id}, only valid from running
// (spec.md §6).
func (h *Handler) Pause(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	if st.Status() != v1.TaskStatusRunning {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task is not running"})
		return
	}
	st.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

// Resume handles POST /quick-task/resume/{task_id}, only valid from waiting
// (spec.md §6).
func (h *Handler) Resume(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	if st.Status() != v1.TaskStatusWaiting {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task is not waiting"})
		return
	}
	st.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}
