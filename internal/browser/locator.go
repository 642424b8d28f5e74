package browser

// Locator is the set of hints behavior-replay can offer for a recorded
// element; a successful resolution returns the ref that a current Snapshot
// assigned to the matching element.
type Locator struct {
	XPath string
	ID    string
	Name  string
	Text  string
}

// locatable is whatever a concrete element representation needs to expose
// for ResolveLocator to try each tier against it. fakeElement implements it
// directly; a real CDP-backed implementation would adapt DOM nodes to it.
type locatable interface {
	MatchesXPath(xpath string) bool
	MatchesID(id string) bool
	MatchesName(name string) bool
	MatchesText(text string) bool
	Ref() string
}

// ResolveLocator tries each tier of spec.md §4.10's four-tier fallback in
// order — XPath, then id, then name (form elements), then visible text
// (link/button/span) — and returns the first matching element's ref.
// Falling through every tier without a match is not an error; callers
// decide what "element not found" means for them.
func ResolveLocator(elements []locatable, loc Locator) (ref string, ok bool) {
	if loc.XPath != "" {
		for _, e := range elements {
			if e.MatchesXPath(loc.XPath) {
				return e.Ref(), true
			}
		}
	}
	if loc.ID != "" {
		for _, e := range elements {
			if e.MatchesID(loc.ID) {
				return e.Ref(), true
			}
		}
	}
	if loc.Name != "" {
		for _, e := range elements {
			if e.MatchesName(loc.Name) {
				return e.Ref(), true
			}
		}
	}
	if loc.Text != "" {
		for _, e := range elements {
			if e.MatchesText(loc.Text) {
				return e.Ref(), true
			}
		}
	}
	return "", false
}
