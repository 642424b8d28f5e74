package httpapi

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/task"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// Execute handles POST /quick-task/execute (spec.md §6).
func (h *Handler) Execute(c *gin.Context) {
	var req v1.ExecuteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Task == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task field is required"})
		return
	}

	st, err := h.starter.Start(c.Request.Context(), req.Task)
	if err != nil {
		h.log.WithError(err).Error("failed to start task")
		c.JSON(errkind.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, v1.ExecuteTaskResponse{TaskID: st.TaskID, Status: "started"})
}

// ListTasks handles GET /quick-task/tasks, sorted newest first (spec.md §6).
func (h *Handler) ListTasks(c *gin.Context) {
	summaries := h.registry.List()
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	st := h.registry.Stats()
	c.JSON(http.StatusOK, v1.TaskListResponse{
		Tasks:     summaries,
		Total:     st.Total,
		Running:   st.Running,
		Completed: st.Completed,
		Failed:    st.Failed,
	})
}

// Status handles GET /quick-task/status/{task_id}.
func (h *Handler) Status(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st.ToJSON())
}

// Result handles GET /quick-task/result/{task_id}.
func (h *Handler) Result(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v1.TaskResultResponse{
		TaskID: st.TaskID,
		Status: st.Status(),
		Result: st.Result(),
		Error:  st.ErrorText(),
	})
}

// Detail handles GET /quick-task/{task_id}/detail.
func (h *Handler) Detail(c *gin.Context) {
	st, ok := h.getTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v1.TaskDetail{
		TaskSummary:  st.ToJSON(),
		Conversation: st.Conversation(),
	})
}

// getTask resolves :task_id against the registry, writing a 404 and
// reporting failure if it's missing.
func (h *Handler) getTask(c *gin.Context) (*task.State, bool) {
	taskID := c.Param("task_id")
	st, err := h.registry.Get(taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil, false
	}
	return st, true
}

