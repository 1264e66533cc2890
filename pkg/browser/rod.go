package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/subterminator/agents/pkg/errs"
)

const (
	// clickTimeout bounds per-strategy element waits during agent execution.
	clickTimeout = 3 * time.Second

	// selectorListTimeout bounds the multi-selector Click scan.
	selectorListTimeout = 5 * time.Second
)

// RodConfig configures the rod-backed driver.
type RodConfig struct {
	// ControlURL attaches to a running browser over CDP instead of launching.
	ControlURL string

	Headless       bool
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
	PageTimeout    time.Duration
	ElementTimeout time.Duration
}

// DefaultRodConfig returns the defaults used by the CLI.
func DefaultRodConfig() RodConfig {
	return RodConfig{
		Headless:       true,
		ViewportWidth:  1280,
		ViewportHeight: 900,
		PageTimeout:    30 * time.Second,
		ElementTimeout: 10 * time.Second,
	}
}

// RodDriver drives a Chromium page through go-rod.
// One driver owns exactly one page; the cancellation session owns the driver.
type RodDriver struct {
	cfg      RodConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// NewRodDriver launches a browser (or attaches via cfg.ControlURL), opens a
// blank page, applies the stealth overrides, and sets the viewport.
func NewRodDriver(cfg RodConfig) (*RodDriver, error) {
	d := &RodDriver{cfg: cfg}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, errs.Wrap(errs.KindTransient, err, "failed to launch browser")
		}
		d.launcher = l
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		d.cleanupLauncher()
		return nil, errs.Wrap(errs.KindTransient, err, "failed to connect to browser")
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		d.cleanupLauncher()
		return nil, errs.Wrap(errs.KindTransient, err, "failed to open page")
	}
	d.page = page

	// Stealth is best-effort; a failure here should not kill the session.
	_, _ = page.EvalOnNewDocument(stealthJS)

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		})
	}
	return d, nil
}

// Capabilities reports full support: rod exposes every optional method.
func (d *RodDriver) Capabilities() Capabilities {
	return Capabilities{ARIA: true, Coordinates: true, Accessibility: true, Evaluate: true}
}

// Navigate loads url and waits for network idle, bounded by PageTimeout.
func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page := d.page.Context(ctx).Timeout(d.cfg.PageTimeout)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameNetworkIdle)
	if err := page.Navigate(url); err != nil {
		return errs.Wrap(errs.KindTransient, err, "navigation to %s failed", url)
	}
	wait()
	return nil
}

// Click tries each selector in order and clicks the first match.
func (d *RodDriver) Click(ctx context.Context, selectors ...string) error {
	deadline := time.Now().Add(selectorListTimeout)
	for _, sel := range selectors {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		per := remaining / time.Duration(len(selectors))
		if per > clickTimeout {
			per = clickTimeout
		}
		el, err := d.page.Context(ctx).Timeout(per).Element(sel)
		if err != nil {
			continue
		}
		return d.clickElement(el, "selector %s", sel)
	}
	return errs.New(errs.KindElementNotFound, "no element matched selectors %v", selectors)
}

// ClickByRole clicks the first element matching an ARIA role, optionally
// filtered by accessible name.
func (d *RodDriver) ClickByRole(ctx context.Context, role, name string) error {
	css := roleSelector(role)
	page := d.page.Context(ctx).Timeout(clickTimeout)

	var el *rod.Element
	var err error
	if name == "" {
		el, err = page.Element(css)
	} else {
		el, err = page.ElementR(css, containsPattern(name))
	}
	if err != nil {
		return errs.Wrap(errs.KindElementNotFound, err, "no element with role %q name %q", role, name)
	}
	return d.clickElement(el, "role %s", role)
}

// ClickByText clicks the first clickable element whose text matches.
func (d *RodDriver) ClickByText(ctx context.Context, text string, exact bool) error {
	pattern := containsPattern(text)
	if exact {
		pattern = exactPattern(text)
	}
	el, err := d.page.Context(ctx).Timeout(clickTimeout).
		ElementR("button, a, [role=button], [role=link], label, summary, input[type=submit]", pattern)
	if err != nil {
		return errs.Wrap(errs.KindElementNotFound, err, "no element with text %q", text)
	}
	return d.clickElement(el, "text %q", text)
}

// ClickAtCoordinates dispatches a raw mouse click. Negative coordinates are
// rejected before touching the browser.
func (d *RodDriver) ClickAtCoordinates(ctx context.Context, x, y float64) error {
	if x < 0 || y < 0 {
		return errs.New(errs.KindInputValidation, "coordinates must be non-negative, got (%g, %g)", x, y)
	}
	page := d.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return errs.Wrap(errs.KindTransient, err, "mouse move failed")
	}
	if err := page.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return errs.Wrap(errs.KindTransient, err, "mouse click failed")
	}
	return nil
}

// Fill types value into the matched element, replacing existing content.
func (d *RodDriver) Fill(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Timeout(d.cfg.ElementTimeout).Element(selector)
	if err != nil {
		return errs.Wrap(errs.KindElementNotFound, err, "no element for selector %s", selector)
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return errs.Wrap(errs.KindTransient, err, "failed to fill %s", selector)
	}
	return nil
}

// SelectOption selects an option by visible text; empty value picks the first.
func (d *RodDriver) SelectOption(ctx context.Context, selector, value string) error {
	el, err := d.page.Context(ctx).Timeout(d.cfg.ElementTimeout).Element(selector)
	if err != nil {
		return errs.Wrap(errs.KindElementNotFound, err, "no element for selector %s", selector)
	}
	if value == "" {
		_, err = el.Eval(`() => { this.selectedIndex = 0; this.dispatchEvent(new Event("change", {bubbles: true})); }`)
		if err != nil {
			return errs.Wrap(errs.KindTransient, err, "failed to select first option of %s", selector)
		}
		return nil
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		return errs.Wrap(errs.KindElementNotFound, err, "option %q not found in %s", value, selector)
	}
	return nil
}

// Screenshot captures a full-page PNG.
func (d *RodDriver) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, err, "screenshot failed")
	}
	return data, nil
}

// HTML returns the serialized document.
func (d *RodDriver) HTML(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "failed to read document")
	}
	return html, nil
}

// URL returns the current page URL.
func (d *RodDriver) URL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "failed to read page info")
	}
	return info.URL, nil
}

// VisibleText returns the rendered body text.
func (d *RodDriver) VisibleText(ctx context.Context) (string, error) {
	el, err := d.page.Context(ctx).Timeout(d.cfg.ElementTimeout).Element("body")
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "no body element")
	}
	text, err := el.Text()
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "failed to read body text")
	}
	return text, nil
}

// AccessibilityTree returns the pruned AX tree as JSON.
// An absent snapshot is not an error: callers get "{}".
func (d *RodDriver) AccessibilityTree(ctx context.Context) (string, error) {
	depth := int(axMaxDepth)
	res, err := proto.AccessibilityGetFullAXTree{Depth: &depth}.Call(d.page.Context(ctx))
	if err != nil || len(res.Nodes) == 0 {
		return "{}", nil
	}
	pruned := pruneAXTree(res.Nodes)
	if pruned == nil {
		return "{}", nil
	}
	data, err := json.Marshal(pruned)
	if err != nil {
		return "{}", nil
	}
	return string(data), nil
}

// Viewport returns the window inner size.
func (d *RodDriver) Viewport(ctx context.Context) (int, int, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(`() => ({w: window.innerWidth, h: window.innerHeight})`))
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindTransient, err, "failed to read viewport")
	}
	return res.Value.Get("w").Int(), res.Value.Get("h").Int(), nil
}

// ScrollPosition returns the window scroll offsets.
func (d *RodDriver) ScrollPosition(ctx context.Context) (int, int, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(`() => ({x: window.scrollX, y: window.scrollY})`))
	if err != nil {
		return 0, 0, errs.Wrap(errs.KindTransient, err, "failed to read scroll position")
	}
	return res.Value.Get("x").Int(), res.Value.Get("y").Int(), nil
}

// Evaluate runs a JS function expression and returns its result as JSON text.
func (d *RodDriver) Evaluate(ctx context.Context, js string) (string, error) {
	res, err := d.page.Context(ctx).Evaluate(rod.Eval(js))
	if err != nil {
		return "", errs.Wrap(errs.KindTransient, err, "script evaluation failed")
	}
	return res.Value.JSON("", ""), nil
}

// Close shuts the page, the browser connection, and any launched process.
func (d *RodDriver) Close() error {
	var firstErr error
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			firstErr = err
		}
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.cleanupLauncher()
	return firstErr
}

func (d *RodDriver) cleanupLauncher() {
	if d.launcher != nil {
		d.launcher.Cleanup()
	}
}

func (d *RodDriver) clickElement(el *rod.Element, format string, args ...any) error {
	// Scrolling first avoids misclicks on elements below the fold.
	_ = el.ScrollIntoView()
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		target := fmt.Sprintf(format, args...)
		return errs.Wrap(errs.KindTransient, err, "click failed on %s", target)
	}
	return nil
}

// roleSelector maps an ARIA role to a CSS selector covering both explicit
// role attributes and the implicit-role elements.
func roleSelector(role string) string {
	switch role {
	case "button":
		return `button, input[type=button], input[type=submit], [role=button]`
	case "link":
		return `a[href], [role=link]`
	case "checkbox":
		return `input[type=checkbox], [role=checkbox]`
	case "textbox":
		return `input[type=text], input:not([type]), textarea, [role=textbox]`
	case "combobox":
		return `select, [role=combobox]`
	case "radio":
		return `input[type=radio], [role=radio]`
	default:
		return fmt.Sprintf("[role=%s]", role)
	}
}

func containsPattern(text string) string {
	return "/" + regexp.QuoteMeta(text) + "/i"
}

func exactPattern(text string) string {
	return "/^\\s*" + regexp.QuoteMeta(text) + "\\s*$/i"
}
