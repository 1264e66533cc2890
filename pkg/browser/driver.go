// Package browser wraps headless-browser automation behind a small driver
// interface so the cancellation agent can run against a real Chrome (rod),
// an already-running browser over CDP, or a scripted fake in tests.
package browser

import "context"

// Capabilities flags optional driver methods. The planner only proposes
// targeting strategies the driver can execute.
type Capabilities struct {
	ARIA          bool // ClickByRole
	Coordinates   bool // ClickAtCoordinates
	Accessibility bool // AccessibilityTree
	Evaluate      bool // Evaluate
}

// Driver is the operation set the agent needs from a browser.
// All blocking operations honor ctx cancellation.
type Driver interface {
	// Navigate loads url and waits for network idle.
	Navigate(ctx context.Context, url string) error

	// Click clicks the first selector in the list that matches.
	Click(ctx context.Context, selectors ...string) error

	// ClickByRole clicks an element by ARIA role; name may be empty.
	ClickByRole(ctx context.Context, role, name string) error

	// ClickByText clicks an element containing text (exact = whole match).
	ClickByText(ctx context.Context, text string, exact bool) error

	// ClickAtCoordinates dispatches a mouse click at viewport coordinates.
	ClickAtCoordinates(ctx context.Context, x, y float64) error

	// Fill types value into the element matching selector.
	Fill(ctx context.Context, selector, value string) error

	// SelectOption selects an option; empty value selects the first option.
	SelectOption(ctx context.Context, selector, value string) error

	// Screenshot captures a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// HTML returns the current document markup.
	HTML(ctx context.Context) (string, error)

	// URL returns the current page URL.
	URL(ctx context.Context) (string, error)

	// VisibleText returns the text content of the body.
	VisibleText(ctx context.Context) (string, error)

	// AccessibilityTree returns a pruned JSON tree, "{}" when unavailable.
	AccessibilityTree(ctx context.Context) (string, error)

	// Viewport returns the viewport size in CSS pixels.
	Viewport(ctx context.Context) (width, height int, err error)

	// ScrollPosition returns the window scroll offsets.
	ScrollPosition(ctx context.Context) (x, y int, err error)

	// Evaluate runs a JS expression and returns its JSON-encoded result.
	Evaluate(ctx context.Context, js string) (string, error)

	// Capabilities reports which optional methods are usable.
	Capabilities() Capabilities

	// Close shuts down the page and, for launched browsers, the process.
	Close() error
}
