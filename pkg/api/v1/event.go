package v1

import "time"

// EventAction identifies the shape of an Event's payload (spec.md §3 Event,
// §6 SSE action taxonomy, non-exhaustive). Consumers must treat an action
// they don't recognize as non-terminal and forward it unchanged.
type EventAction string

const (
	// Terminal actions close the emitter's stream once delivered.
	ActionEnd                EventAction = "end"
	ActionWorkforceCompleted EventAction = "workforce_completed"
	ActionWorkforceStopped   EventAction = "workforce_stopped"
	ActionError              EventAction = "error"

	// Non-terminal actions (spec.md §6).
	ActionActivateAgent    EventAction = "activate_agent"
	ActionDeactivateAgent  EventAction = "deactivate_agent"
	ActionActivateToolkit  EventAction = "activate_toolkit"
	ActionDeactivateToolkit EventAction = "deactivate_toolkit"
	ActionWorkerStarted    EventAction = "worker_started"
	ActionWorkerCompleted  EventAction = "worker_completed"
	ActionWorkerFailed     EventAction = "worker_failed"
	ActionWorkforceStarted EventAction = "workforce_started"
	ActionTaskDecomposed   EventAction = "task_decomposed"
	ActionSubtaskState     EventAction = "subtask_state"
	ActionDynamicTasksAdded EventAction = "dynamic_tasks_added"
	ActionTaskReplanned    EventAction = "task_replanned"
	ActionAgentReport      EventAction = "agent_report"
	ActionWaitConfirm      EventAction = "wait_confirm"
	ActionMemoryQuery      EventAction = "memory_query"
	ActionMemoryResult     EventAction = "memory_result"
	ActionMemoryEvent      EventAction = "memory_event"
	ActionMemoryLevel      EventAction = "memory_level"
	ActionScreenshot       EventAction = "screenshot"
	ActionWriteFile        EventAction = "write_file"
	ActionTerminal         EventAction = "terminal"
	ActionNotice           EventAction = "notice"
	ActionConfirmed        EventAction = "confirmed"
)

// terminalActions is the closed set of actions that latch an emitter closed
// once delivered (spec.md §4.1 Event Emitter invariants).
var terminalActions = map[EventAction]bool{
	ActionEnd:                true,
	ActionWorkforceCompleted: true,
	ActionWorkforceStopped:   true,
	ActionError:              true,
}

// IsTerminal reports whether delivering an event with this action should
// close the owning emitter's stream.
func (a EventAction) IsTerminal() bool {
	return terminalActions[a]
}

// Event is the tagged-union message type streamed over SSE and fanned out
// through the in-process event bus. Action-specific data lives in Data so
// the wire shape stays a single flat JSON object (spec.md §6: each SSE
// frame is `data: <json>\n\n`, no envelope nesting).
type Event struct {
	TaskID    string                 `json:"task_id"`
	Action    EventAction            `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(taskID string, action EventAction, data map[string]interface{}) *Event {
	return &Event{
		TaskID:    taskID,
		Action:    action,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// IsTerminal reports whether this event's action closes the stream.
func (e *Event) IsTerminal() bool {
	return e.Action.IsTerminal()
}

// ScreenshotData builds the Data payload for an emit_screenshot convenience
// call (spec.md §4.1): {data_uri, url, title, tab_id?, webview_id?}.
func ScreenshotData(dataURI, url, title, tabID, webviewID string) map[string]interface{} {
	d := map[string]interface{}{
		"data_uri": dataURI,
		"url":      url,
		"title":    title,
	}
	if tabID != "" {
		d["tab_id"] = tabID
	}
	if webviewID != "" {
		d["webview_id"] = webviewID
	}
	return d
}
