package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeElement is the fake pool's locatable implementation, carrying enough
// recorded metadata (xpath/id/name/text) for ResolveLocator to exercise all
// four tiers without a real DOM.
type fakeElement struct {
	ref   string
	role  string
	name  string
	value string
	xpath string
	id    string
	text  string
}

func (e fakeElement) Ref() string                      { return e.ref }
func (e fakeElement) MatchesXPath(xpath string) bool   { return xpath != "" && e.xpath == xpath }
func (e fakeElement) MatchesID(id string) bool         { return id != "" && e.id == id }
func (e fakeElement) MatchesName(name string) bool     { return name != "" && e.name == name }
func (e fakeElement) MatchesText(text string) bool     { return text != "" && e.text == text }

func (e fakeElement) toElement() Element {
	return Element{Ref: e.ref, Role: e.role, Name: e.name, Value: e.value}
}

// FakePage is an in-memory Page used by tests and by any caller that wants
// to exercise the browser contract without a real Chromium connection. It
// tracks just enough state (current URL, a visited-history stack, a fixed
// or caller-seeded element set, and a closed flag) to drive the agent loop
// and its tools through realistic scenarios.
type FakePage struct {
	mu       sync.Mutex
	url      string
	history  []string
	forward  []string
	elements []fakeElement
	closed   bool
}

// NewFakePage returns a fresh, unclosed page with no URL loaded.
func NewFakePage() *FakePage {
	return &FakePage{}
}

// SeedElements installs the element set Snapshot should report for the
// page's current URL, for tests that need to drive click/type/select.
func (p *FakePage) SeedElements(elements ...fakeElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = elements
}

// Close marks the page closed; the next action on it returns
// errkind.BrowserPageClosed, matching spec.md §4.10's recovery contract.
func (p *FakePage) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakePage) Visit(ctx context.Context, url string) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("visit")
	}
	if p.url != "" {
		p.history = append(p.history, p.url)
	}
	p.forward = nil
	p.url = url
	return ActionResult{Success: true, Message: "navigated to " + url}, nil
}

func (p *FakePage) Click(ctx context.Context, ref string) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("click")
	}
	if !p.hasRefLocked(ref) {
		return ActionResult{Success: false, Message: fmt.Sprintf("no element with ref %q", ref)}, nil
	}
	return ActionResult{Success: true, Message: "clicked " + ref}, nil
}

func (p *FakePage) Type(ctx context.Context, ref, text string) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("type")
	}
	for i, e := range p.elements {
		if e.ref == ref {
			p.elements[i].value = text
			return ActionResult{Success: true, Message: "typed into " + ref}, nil
		}
	}
	return ActionResult{Success: false, Message: fmt.Sprintf("no element with ref %q", ref)}, nil
}

func (p *FakePage) Enter(ctx context.Context) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("enter")
	}
	return ActionResult{Success: true, Message: "pressed enter"}, nil
}

func (p *FakePage) Back(ctx context.Context) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("back")
	}
	if len(p.history) == 0 {
		return ActionResult{Success: false, Message: "no page to go back to"}, nil
	}
	last := p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	p.forward = append(p.forward, p.url)
	p.url = last
	return ActionResult{Success: true, Message: "went back to " + last}, nil
}

func (p *FakePage) Forward(ctx context.Context) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("forward")
	}
	if len(p.forward) == 0 {
		return ActionResult{Success: false, Message: "no page to go forward to"}, nil
	}
	next := p.forward[len(p.forward)-1]
	p.forward = p.forward[:len(p.forward)-1]
	p.history = append(p.history, p.url)
	p.url = next
	return ActionResult{Success: true, Message: "went forward to " + next}, nil
}

func (p *FakePage) Scroll(ctx context.Context, dir ScrollDirection, px int) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("scroll")
	}
	return ActionResult{Success: true, Message: fmt.Sprintf("scrolled %s %dpx", dir, px)}, nil
}

func (p *FakePage) Select(ctx context.Context, ref, value string) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("select")
	}
	for i, e := range p.elements {
		if e.ref == ref {
			p.elements[i].value = value
			return ActionResult{Success: true, Message: "selected " + value + " on " + ref}, nil
		}
	}
	return ActionResult{Success: false, Message: fmt.Sprintf("no element with ref %q", ref)}, nil
}

func (p *FakePage) PressKeys(ctx context.Context, keys []string) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("press_keys")
	}
	return ActionResult{Success: true, Message: "pressed " + strings.Join(keys, "+")}, nil
}

func (p *FakePage) MouseControl(ctx context.Context, x, y int, action MouseAction) (ActionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ActionResult{}, pageClosedErr("mouse_control")
	}
	return ActionResult{Success: true, Message: fmt.Sprintf("%s at (%d,%d)", action, x, y)}, nil
}

func (p *FakePage) Snapshot(ctx context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, pageClosedErr("snapshot")
	}
	elems := make([]Element, 0, len(p.elements))
	for _, e := range p.elements {
		elems = append(elems, e.toElement())
	}
	return &Snapshot{URL: p.url, Elements: elems}, nil
}

// ResolveLocator exposes ResolveLocator for the page's current element set,
// since fakeElement is unexported and external tests can't build the
// []locatable slice themselves.
func (p *FakePage) ResolveLocator(loc Locator) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	locs := make([]locatable, len(p.elements))
	for i, e := range p.elements {
		locs[i] = e
	}
	return ResolveLocator(locs, loc)
}

func (p *FakePage) hasRefLocked(ref string) bool {
	for _, e := range p.elements {
		if e.ref == ref {
			return true
		}
	}
	return false
}

// FakePool is an in-process Session implementation backed by FakePage, with
// no real browser process. It models spec.md §4.10's per-task tab group: a
// task's first ClaimPage creates a page and remembers it; CloseTaskTabs
// closes and forgets it.
type FakePool struct {
	size int

	mu    sync.Mutex
	pages map[string]*FakePage
}

// NewFakePool builds a FakePool with the given pool size (spec.md §4.10:
// "the pool size bounds parallelism"); size is advisory only in the fake,
// since it never actually limits concurrent allocation.
func NewFakePool(size int) *FakePool {
	return &FakePool{size: size, pages: make(map[string]*FakePage)}
}

func (p *FakePool) PoolSize() int { return p.size }

func (p *FakePool) ClaimPage(ctx context.Context, taskID string) (Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if page, ok := p.pages[taskID]; ok && !page.Closed() {
		return page, nil
	}
	page := NewFakePage()
	p.pages[taskID] = page
	return page, nil
}

func (p *FakePool) CloseTaskTabs(ctx context.Context, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if page, ok := p.pages[taskID]; ok {
		page.Close()
		delete(p.pages, taskID)
	}
	return nil
}
