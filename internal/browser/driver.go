package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LocatorKind selects how a Locator's expression is interpreted.
type LocatorKind int

const (
	// KindCSS interprets the expression as a CSS selector.
	KindCSS LocatorKind = iota
	// KindXPath interprets the expression as an XPath query.
	KindXPath
)

// Locator identifies a page control by a stable attribute. Name is a
// short human-readable description used in logs and errors.
type Locator struct {
	Name string
	Expr string
	Kind LocatorKind
}

func (l Locator) String() string {
	if l.Name != "" {
		return l.Name
	}
	return l.Expr
}

// ByCSS builds a locator from a raw CSS selector.
func ByCSS(name, sel string) Locator {
	return Locator{Name: name, Expr: sel, Kind: KindCSS}
}

// ByAriaLabel matches an element whose aria-label contains label.
func ByAriaLabel(label string) Locator {
	return Locator{
		Name: fmt.Sprintf("aria-label %q", label),
		Expr: fmt.Sprintf(`[aria-label*=%q]`, label),
		Kind: KindCSS,
	}
}

// ByRoleText matches an element with the given ARIA role (or tag for
// native roles like "button") whose visible text contains text.
func ByRoleText(role, text string) Locator {
	esc := strings.ReplaceAll(text, `"`, `\"`)
	return Locator{
		Name: fmt.Sprintf("%s %q", role, text),
		Expr: fmt.Sprintf(`//*[@role="%s" or self::%s][contains(., "%s")]`, role, role, esc),
		Kind: KindXPath,
	}
}

// ByText matches any element whose visible text contains text.
func ByText(text string) Locator {
	esc := strings.ReplaceAll(text, `"`, `\"`)
	return Locator{
		Name: fmt.Sprintf("text %q", text),
		Expr: fmt.Sprintf(`//*[contains(text(), "%s")]`, esc),
		Kind: KindXPath,
	}
}

// Driver is the browser surface the session controller drives. All
// methods honor ctx cancellation; methods taking a timeout bound the
// individual wait so a missing control fails fast instead of hanging
// the join flow.
type Driver interface {
	// Navigate loads url in the active tab.
	Navigate(ctx context.Context, url string) error

	// WaitVisible blocks until the locator is visible or the timeout
	// elapses.
	WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) error

	// Click waits for the locator and clicks it.
	Click(ctx context.Context, loc Locator, timeout time.Duration) error

	// SendKeys waits for the locator and types text into it.
	SendKeys(ctx context.Context, loc Locator, text string, timeout time.Duration) error

	// PressEscape sends the Escape key to the page.
	PressEscape(ctx context.Context) error

	// Evaluate runs a JavaScript expression in the page and decodes
	// the result into out (pass nil to discard).
	Evaluate(ctx context.Context, js string, out any) error

	// Text waits for the locator and returns its visible text.
	Text(ctx context.Context, loc Locator, timeout time.Duration) (string, error)

	// Handle returns the browser process handle captured at spawn, or
	// nil when the process is not directly owned (fakes).
	Handle() *ProcHandle

	// Tag returns the unique instance tag embedded in the browser's
	// profile path and command line.
	Tag() string

	// Close shuts the browser down gracefully.
	Close(ctx context.Context) error
}
