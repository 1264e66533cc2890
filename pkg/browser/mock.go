package browser

import (
	"context"
	"fmt"
	"sync"
)

// minimalPNG is a 1x1 transparent PNG, enough for code paths that only need
// valid screenshot bytes.
var minimalPNG = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

// MockPage is one scripted page in a MockDriver site.
// Clicks maps a target key to the URL the click lands on. Keys:
//
//	"css:<selector>", "role:<role>/<name>", "text:<text>", "xy", or "*"
//
// "*" matches any click and is checked last.
type MockPage struct {
	URL    string
	Text   string
	HTML   string
	AXTree string
	Clicks map[string]string
}

// MockDriver is a scripted in-memory Driver used by tests and --target mock.
// Thread-safe; records every operation in order.
type MockDriver struct {
	mu      sync.Mutex
	pages   map[string]*MockPage
	current *MockPage
	calls   []string
	caps    Capabilities

	// NextErr, when set, fails the next operation and resets.
	NextErr error
}

// NewMockDriver builds a driver over the given pages.
func NewMockDriver(pages ...*MockPage) *MockDriver {
	m := &MockDriver{
		pages: make(map[string]*MockPage, len(pages)),
		caps:  Capabilities{ARIA: true, Coordinates: true, Accessibility: true, Evaluate: true},
	}
	for _, p := range pages {
		m.pages[p.URL] = p
	}
	return m
}

// Alias makes navigating to from land on the page registered at to,
// emulating a server-side redirect.
func (m *MockDriver) Alias(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page, ok := m.pages[to]; ok {
		m.pages[from] = page
	}
}

// Calls returns the recorded operation log.
func (m *MockDriver) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockDriver) record(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *MockDriver) takeErr() error {
	err := m.NextErr
	m.NextErr = nil
	return err
}

func (m *MockDriver) Navigate(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("navigate %s", url)
	if err := m.takeErr(); err != nil {
		return err
	}
	page, ok := m.pages[url]
	if !ok {
		return fmt.Errorf("mock: no page for %s", url)
	}
	m.current = page
	return nil
}

func (m *MockDriver) click(key string) error {
	if err := m.takeErr(); err != nil {
		return err
	}
	if m.current == nil {
		return fmt.Errorf("mock: no current page")
	}
	next, ok := m.current.Clicks[key]
	if !ok {
		next, ok = m.current.Clicks["*"]
	}
	if !ok {
		return errElementNotFound(key)
	}
	page, exists := m.pages[next]
	if !exists {
		return fmt.Errorf("mock: click %s leads to unknown page %s", key, next)
	}
	m.current = page
	return nil
}

func (m *MockDriver) Click(_ context.Context, selectors ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("click %v", selectors)
	var lastErr error
	for _, sel := range selectors {
		if err := m.click("css:" + sel); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errElementNotFound("css")
	}
	return lastErr
}

func (m *MockDriver) ClickByRole(_ context.Context, role, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("clickByRole %s %s", role, name)
	return m.click("role:" + role + "/" + name)
}

func (m *MockDriver) ClickByText(_ context.Context, text string, exact bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("clickByText %q exact=%v", text, exact)
	return m.click("text:" + text)
}

func (m *MockDriver) ClickAtCoordinates(_ context.Context, x, y float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("clickAt %g,%g", x, y)
	if x < 0 || y < 0 {
		return errNegativeCoordinates(x, y)
	}
	return m.click("xy")
}

func (m *MockDriver) Fill(_ context.Context, selector, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("fill %s=%s", selector, value)
	return m.takeErr()
}

func (m *MockDriver) SelectOption(_ context.Context, selector, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("select %s=%s", selector, value)
	return m.takeErr()
}

func (m *MockDriver) Screenshot(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("screenshot")
	if err := m.takeErr(); err != nil {
		return nil, err
	}
	return minimalPNG, nil
}

func (m *MockDriver) HTML(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", nil
	}
	return m.current.HTML, nil
}

func (m *MockDriver) URL(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "about:blank", nil
	}
	return m.current.URL, nil
}

func (m *MockDriver) VisibleText(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", nil
	}
	return m.current.Text, nil
}

func (m *MockDriver) AccessibilityTree(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.AXTree == "" {
		return "{}", nil
	}
	return m.current.AXTree, nil
}

func (m *MockDriver) Viewport(_ context.Context) (int, int, error) {
	return 1280, 900, nil
}

func (m *MockDriver) ScrollPosition(_ context.Context) (int, int, error) {
	return 0, 0, nil
}

func (m *MockDriver) Evaluate(_ context.Context, js string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("evaluate")
	if err := m.takeErr(); err != nil {
		return "", err
	}
	return "[]", nil
}

func (m *MockDriver) Capabilities() Capabilities { return m.caps }

func (m *MockDriver) Close() error { return nil }
