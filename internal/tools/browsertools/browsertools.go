// Package browsertools wraps internal/browser.Session as the LLM-visible
// browser automation tools spec.md §4.3/§4.10 describe: one tool per Page
// action plus snapshot, all scoped to the calling task's claimed tab.
package browsertools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/AriseOS/amid/internal/browser"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
)

// ForTask returns the browser tool set for one task, claiming pages from
// session as needed (spec.md §4.10: a task's tools always operate on its
// own claimed tab, never another task's), plus the Controller tracking
// this task's current page URL and active operation recorder across those
// tools (spec.md §4.9).
func ForTask(session browser.Session, taskID string) ([]tools.Tool, *Controller) {
	ctl := &Controller{}
	b := &binding{session: session, taskID: taskID, ctl: ctl}
	return []tools.Tool{
		&visitTool{b}, &clickTool{b}, &typeTool{b}, &enterTool{b},
		&backTool{b}, &forwardTool{b}, &scrollTool{b}, &selectTool{b},
		&pressKeysTool{b}, &mouseControlTool{b}, &snapshotTool{b},
	}, ctl
}

// Controller is the per-task browser state that lives alongside the
// registered tools but is driven by the executor's subtask attempt loop
// rather than the LLM: the page URL those tools last observed, and the
// operation recorder (if any) the current attempt installed.
type Controller struct {
	mu       sync.Mutex
	url      string
	recorder tools.OperationRecorder
}

// CurrentURL returns the URL the tools last observed, or "" before any
// navigation has happened this subtask.
func (c *Controller) CurrentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// SetRecorder installs (or, with nil, clears) the recorder that Record
// calls below are forwarded to.
func (c *Controller) SetRecorder(r tools.OperationRecorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

func (c *Controller) setURL(url string) {
	if url == "" {
		return
	}
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

func (c *Controller) record(action, state string, detail map[string]interface{}) {
	c.mu.Lock()
	r := c.recorder
	c.mu.Unlock()
	if r != nil {
		r.Record(action, state, detail)
	}
}

// binding resolves the task's current page lazily, once per tool call, so
// a page closed mid-subtask is transparently reclaimed on the next call
// (spec.md §4.10 Page doc comment).
type binding struct {
	session browser.Session
	taskID  string
	ctl     *Controller
}

func (b *binding) page(ctx context.Context) (browser.Page, error) {
	return b.session.ClaimPage(ctx, b.taskID)
}

// finish records a completed action's resulting page URL and, on success,
// feeds the operation to the active recorder (spec.md §4.9 write side),
// before building the tool-visible Result.
func (b *binding) finish(p browser.Page, action string, detail map[string]interface{}, r browser.ActionResult, err error) (tools.Result, error) {
	if err == nil {
		url := p.URL()
		b.ctl.setURL(url)
		b.ctl.record(action, url, detail)
	}
	return actionResult(r, err)
}

func actionResult(r browser.ActionResult, err error) (tools.Result, error) {
	if err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "browser action failed", err)
	}
	text := r.Message
	if !r.Success && text == "" {
		text = "action did not succeed"
	}
	return tools.Result{
		Content: []tools.ContentBlock{{Type: tools.ContentText, Text: text}},
		Details: r.Details,
	}, nil
}

type visitTool struct{ *binding }

func (t *visitTool) Name() string           { return "browser_visit" }
func (t *visitTool) Label() string          { return "Visit URL" }
func (t *visitTool) Description() string    { return "Navigates the task's browser tab to a URL." }
func (t *visitTool) Async() bool            { return false }
func (t *visitTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"}},"required":["url"]}`)
}
func (t *visitTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.URL == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "url is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Visit(ctx, args.URL)
	return t.finish(p, "visit", map[string]interface{}{"url": args.URL}, r, err)
}

type clickTool struct{ *binding }

func (t *clickTool) Name() string        { return "browser_click" }
func (t *clickTool) Label() string       { return "Click Element" }
func (t *clickTool) Description() string { return "Clicks an element identified by its snapshot ref." }
func (t *clickTool) Async() bool         { return false }
func (t *clickTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"}},"required":["ref"]}`)
}
func (t *clickTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.Ref == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "ref is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Click(ctx, args.Ref)
	return t.finish(p, "click", map[string]interface{}{"ref": args.Ref}, r, err)
}

type typeTool struct{ *binding }

func (t *typeTool) Name() string        { return "browser_type" }
func (t *typeTool) Label() string       { return "Type Text" }
func (t *typeTool) Description() string { return "Types text into an element identified by its snapshot ref." }
func (t *typeTool) Async() bool         { return false }
func (t *typeTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"},"text":{"type":"string"}},"required":["ref","text"]}`)
}
func (t *typeTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Ref  string `json:"ref"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.Ref == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "ref is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Type(ctx, args.Ref, args.Text)
	return t.finish(p, "type", map[string]interface{}{"ref": args.Ref, "text": args.Text}, r, err)
}

type enterTool struct{ *binding }

func (t *enterTool) Name() string                   { return "browser_enter" }
func (t *enterTool) Label() string                  { return "Press Enter" }
func (t *enterTool) Description() string            { return "Presses Enter in the task's browser tab." }
func (t *enterTool) Async() bool                     { return false }
func (t *enterTool) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object","properties":{}}`) }
func (t *enterTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Enter(ctx)
	return t.finish(p, "enter", nil, r, err)
}

type backTool struct{ *binding }

func (t *backTool) Name() string                   { return "browser_back" }
func (t *backTool) Label() string                  { return "Go Back" }
func (t *backTool) Description() string            { return "Navigates back in the task's browser tab history." }
func (t *backTool) Async() bool                     { return false }
func (t *backTool) ParametersSchema() json.RawMessage { return json.RawMessage(`{"type":"object","properties":{}}`) }
func (t *backTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Back(ctx)
	return t.finish(p, "back", nil, r, err)
}

type forwardTool struct{ *binding }

func (t *forwardTool) Name() string        { return "browser_forward" }
func (t *forwardTool) Label() string       { return "Go Forward" }
func (t *forwardTool) Description() string { return "Navigates forward in the task's browser tab history." }
func (t *forwardTool) Async() bool         { return false }
func (t *forwardTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *forwardTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Forward(ctx)
	return t.finish(p, "forward", nil, r, err)
}

type scrollTool struct{ *binding }

func (t *scrollTool) Name() string        { return "browser_scroll" }
func (t *scrollTool) Label() string       { return "Scroll" }
func (t *scrollTool) Description() string { return "Scrolls the task's browser tab in a direction by pixels." }
func (t *scrollTool) Async() bool         { return false }
func (t *scrollTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"direction":{"type":"string","enum":["up","down","left","right"]},"pixels":{"type":"integer"}},"required":["direction","pixels"]}`)
}
func (t *scrollTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Direction string `json:"direction"`
		Pixels    int    `json:"pixels"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "invalid scroll params")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Scroll(ctx, browser.ScrollDirection(args.Direction), args.Pixels)
	return t.finish(p, "scroll", map[string]interface{}{"direction": args.Direction, "pixels": args.Pixels}, r, err)
}

type selectTool struct{ *binding }

func (t *selectTool) Name() string        { return "browser_select" }
func (t *selectTool) Label() string       { return "Select Option" }
func (t *selectTool) Description() string { return "Selects an option value in a <select> element by its snapshot ref." }
func (t *selectTool) Async() bool         { return false }
func (t *selectTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"ref":{"type":"string"},"value":{"type":"string"}},"required":["ref","value"]}`)
}
func (t *selectTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Ref   string `json:"ref"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.Ref == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "ref is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.Select(ctx, args.Ref, args.Value)
	return t.finish(p, "select", map[string]interface{}{"ref": args.Ref, "value": args.Value}, r, err)
}

type pressKeysTool struct{ *binding }

func (t *pressKeysTool) Name() string        { return "browser_press_keys" }
func (t *pressKeysTool) Label() string       { return "Press Keys" }
func (t *pressKeysTool) Description() string { return "Presses a sequence of keys in the task's browser tab." }
func (t *pressKeysTool) Async() bool         { return false }
func (t *pressKeysTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"keys":{"type":"array","items":{"type":"string"}}},"required":["keys"]}`)
}
func (t *pressKeysTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(params, &args); err != nil || len(args.Keys) == 0 {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "keys is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.PressKeys(ctx, args.Keys)
	return t.finish(p, "press_keys", map[string]interface{}{"keys": args.Keys}, r, err)
}

type mouseControlTool struct{ *binding }

func (t *mouseControlTool) Name() string  { return "browser_mouse_control" }
func (t *mouseControlTool) Label() string { return "Mouse Control" }
func (t *mouseControlTool) Description() string {
	return "Clicks, double-clicks, or right-clicks at an absolute page coordinate."
}
func (t *mouseControlTool) Async() bool { return false }
func (t *mouseControlTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"x":{"type":"integer"},"y":{"type":"integer"},"action":{"type":"string","enum":["click","dblclick","right_click"]}},"required":["x","y","action"]}`)
}
func (t *mouseControlTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args struct {
		X      int    `json:"x"`
		Y      int    `json:"y"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(params, &args); err != nil || args.Action == "" {
		return tools.Result{}, errkind.New(errkind.InvalidInput, "action is required")
	}
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	r, err := p.MouseControl(ctx, args.X, args.Y, browser.MouseAction(args.Action))
	return t.finish(p, "mouse_control", map[string]interface{}{"x": args.X, "y": args.Y, "action": args.Action}, r, err)
}

type snapshotTool struct{ *binding }

func (t *snapshotTool) Name() string  { return "browser_snapshot" }
func (t *snapshotTool) Label() string { return "Page Snapshot" }
func (t *snapshotTool) Description() string {
	return "Returns the current page's accessibility-tree snapshot: URL, title, and interactive elements with their refs."
}
func (t *snapshotTool) Async() bool { return false }
func (t *snapshotTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (t *snapshotTool) Execute(ctx context.Context, id string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	p, err := t.page(ctx)
	if err != nil {
		return tools.Result{}, err
	}
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, "snapshot failed", err)
	}
	t.ctl.setURL(snap.URL)
	data, _ := json.Marshal(snap)
	return tools.Result{
		Content: []tools.ContentBlock{{Type: tools.ContentText, Text: string(data)}},
		Details: map[string]interface{}{"url": snap.URL, "title": snap.Title, "element_count": len(snap.Elements)},
	}, nil
}
