package cancel

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/subterminator/agents/pkg/browser"
)

const (
	snippetMaxElements      = 50
	snippetMaxPerElement    = 500
	snippetMaxTotalBytes    = 5000
	visibleTextMaxForPrompt = 3000
)

// interactiveElementsJS collects the outer HTML of interactive elements that
// intersect the viewport. Returns an array of strings, oldest-in-DOM first.
const interactiveElementsJS = `() => {
	const sel = 'a[href], button, input, select, textarea, [role=button], [role=link], [role=tab], [role=checkbox], [onclick]';
	const out = [];
	for (const el of document.querySelectorAll(sel)) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		if (r.bottom < 0 || r.right < 0 || r.top > window.innerHeight || r.left > window.innerWidth) continue;
		out.push(el.outerHTML);
		if (out.length >= 50) break;
	}
	return out;
}`

// extractHTMLSnippet evaluates interactiveElementsJS and applies the size
// caps: 50 elements, 500 chars each, 5000 bytes total. Any failure yields an
// empty snippet rather than an error; the planner still has the screenshot.
func extractHTMLSnippet(ctx context.Context, d browser.Driver) string {
	if !d.Capabilities().Evaluate {
		return ""
	}
	raw, err := d.Evaluate(ctx, interactiveElementsJS)
	if err != nil {
		return ""
	}

	var elements []string
	if err := json.Unmarshal([]byte(raw), &elements); err != nil {
		return ""
	}
	if len(elements) > snippetMaxElements {
		elements = elements[:snippetMaxElements]
	}

	var b strings.Builder
	for _, el := range elements {
		el = strings.TrimSpace(el)
		if len(el) > snippetMaxPerElement {
			el = el[:snippetMaxPerElement]
		}
		if b.Len()+len(el)+1 > snippetMaxTotalBytes {
			break
		}
		b.WriteString(el)
		b.WriteByte('\n')
	}
	return b.String()
}
