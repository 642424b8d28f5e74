// Package browser implements the Browser Session contract (spec.md §4.10):
// a single connection to a Chromium-family engine exposed as a CDP-style
// surface of pages, each action/snapshot primitive, and a per-task tab
// group for cleanup. The real remote-Chromium driver is out of scope
// (spec.md §1); this package is the interface plus an in-process fake pool
// so internal/tools' browser tools and internal/agent/browser can be built
// and tested against it today.
package browser

import (
	"context"

	"github.com/AriseOS/amid/internal/errkind"
)

// ScrollDirection is one of the four directions the scroll action accepts.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// MouseAction is one of the three pointer gestures mouse_control accepts.
type MouseAction string

const (
	MouseClick       MouseAction = "click"
	MouseDoubleClick MouseAction = "dblclick"
	MouseRightClick  MouseAction = "right_click"
)

// ActionResult is the uniform return shape of every Page action (spec.md
// §4.10: "Each returns {success, message, details}; click/type report if a
// new tab opened").
type ActionResult struct {
	Success      bool
	Message      string
	Details      map[string]interface{}
	NewTabOpened bool
}

// Element is one interactive node of a Snapshot, addressable by Ref.
type Element struct {
	Ref   string `json:"ref"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Snapshot is the accessibility-tree projection of a page's interactive
// elements (spec.md §4.10), keyed by short ref IDs like "e1".
type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
}

// Page is one claimed tab. Every method can return an
// errkind.BrowserPageClosed error if the underlying tab has gone away;
// callers (the browser tools) translate that into a message telling the
// agent to re-navigate, and the owning Session transparently reclaims or
// creates a replacement page on the next ClaimPage call.
type Page interface {
	URL() string
	Visit(ctx context.Context, url string) (ActionResult, error)
	Click(ctx context.Context, ref string) (ActionResult, error)
	Type(ctx context.Context, ref, text string) (ActionResult, error)
	Enter(ctx context.Context) (ActionResult, error)
	Back(ctx context.Context) (ActionResult, error)
	Forward(ctx context.Context) (ActionResult, error)
	Scroll(ctx context.Context, dir ScrollDirection, px int) (ActionResult, error)
	Select(ctx context.Context, ref, value string) (ActionResult, error)
	PressKeys(ctx context.Context, keys []string) (ActionResult, error)
	MouseControl(ctx context.Context, x, y int, action MouseAction) (ActionResult, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	Closed() bool
}

// Session is the daemon-wide pool of pages (spec.md §4.10). Agents claim a
// page per tool call, tagged to the calling task's tab group; CloseTaskTabs
// closes only the tabs opened for that task, leaving the rest of the pool
// untouched.
type Session interface {
	// ClaimPage returns the page currently assigned to taskID, creating one
	// from the pool (or transparently replacing a closed one) if needed.
	ClaimPage(ctx context.Context, taskID string) (Page, error)

	// CloseTaskTabs closes every tab opened for taskID and returns it (and
	// the underlying page) to the pool.
	CloseTaskTabs(ctx context.Context, taskID string) error

	// PoolSize reports the pool's configured maximum concurrent pages
	// (spec.md §4.10: "the pool size bounds parallelism").
	PoolSize() int
}

func pageClosedErr(action string) error {
	return errkind.New(errkind.BrowserPageClosed, "browser tab closed during "+action+"; re-navigate to continue")
}
