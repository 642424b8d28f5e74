// Package v1 defines the wire types shared between the daemon's HTTP/SSE
// surface and its internal task-execution engine.
package v1

import "time"

// TaskStatus is the lifecycle state of a task (spec.md §3 Task).
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ConversationTurn is one entry in a task's conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"` // "user", "assistant", "system"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskSummary is the projection returned by list/detail endpoints. It
// carries no secrets and bounds content previews (spec.md §4.2 to_json).
type TaskSummary struct {
	TaskID          string     `json:"task_id"`
	Prompt          string     `json:"prompt"`
	WorkingDir      string     `json:"working_dir"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DurationSeconds float64    `json:"duration_seconds"`
	LoopIterations  int        `json:"loop_iterations"`
	ToolsCalled     int        `json:"tools_called"`
	ResultPreview   string     `json:"result_preview,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// ExecuteTaskRequest is the body of POST /quick-task/execute.
type ExecuteTaskRequest struct {
	Task string `json:"task"`
}

// ExecuteTaskResponse is the body returned on successful task submission.
type ExecuteTaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskMessageRequest is the body of POST /quick-task/message/{task_id}.
type TaskMessageRequest struct {
	Type     string `json:"type"` // "human_response" or "user_message"
	Response string `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}

// TaskListResponse is the body of GET /quick-task/tasks.
type TaskListResponse struct {
	Tasks     []TaskSummary `json:"tasks"`
	Total     int           `json:"total"`
	Running   int           `json:"running"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
}

// TaskResultResponse is the body of GET /quick-task/result/{task_id}.
type TaskResultResponse struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	Result string     `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// TaskDetail is the body of GET /quick-task/{task_id}/detail: the summary
// projection plus the full conversation history (spec.md §4.2 to_json
// bounds previews; the detail route is where the unbounded history lives).
type TaskDetail struct {
	TaskSummary
	Conversation []ConversationTurn `json:"conversation"`
}

// WorkspaceEntry is one file listed by GET /quick-task/workspace/{task_id}.
type WorkspaceEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size_bytes"`
}

// WorkspaceListResponse is the body of GET /quick-task/workspace/{task_id}.
type WorkspaceListResponse struct {
	TaskID string           `json:"task_id"`
	Files  []WorkspaceEntry `json:"files"`
}
