package browser

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ysmood/gson"

	"github.com/subterminator/agents/pkg/errs"
)

func axValue(s string) *proto.AccessibilityAXValue {
	return &proto.AccessibilityAXValue{Value: gson.New(s)}
}

func TestPruneAXTreeDepthBound(t *testing.T) {
	// Chain of 7 nodes; pruning must stop at depth 5.
	nodes := make([]*proto.AccessibilityAXNode, 7)
	for i := range nodes {
		nodes[i] = &proto.AccessibilityAXNode{
			NodeID: proto.AccessibilityAXNodeID(rune('a' + i)),
			Role:   axValue("generic"),
		}
		if i > 0 {
			nodes[i-1].ChildIDs = []proto.AccessibilityAXNodeID{nodes[i].NodeID}
		}
	}

	root := pruneAXTree(nodes)
	require.NotNil(t, root)

	depth := 0
	for n := root; n != nil; {
		depth++
		if len(n.Children) == 0 {
			break
		}
		n = n.Children[0]
	}
	assert.Equal(t, axMaxDepth, depth)
}

func TestPruneAXTreeTruncatesNames(t *testing.T) {
	long := strings.Repeat("x", 250)
	nodes := []*proto.AccessibilityAXNode{
		{NodeID: "root", Role: axValue("button"), Name: axValue(long)},
	}

	root := pruneAXTree(nodes)
	require.NotNil(t, root)
	assert.Equal(t, "button", root.Role)
	assert.Len(t, root.Name, axMaxNameLen)

	data, err := json.Marshal(root)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "children")
}

func TestPruneAXTreeEmpty(t *testing.T) {
	assert.Nil(t, pruneAXTree(nil))
}

func TestRoleSelectorCoversImplicitRoles(t *testing.T) {
	tests := []struct {
		role     string
		contains string
	}{
		{"button", "input[type=submit]"},
		{"link", "a[href]"},
		{"checkbox", "input[type=checkbox]"},
		{"textbox", "textarea"},
		{"tab", "[role=tab]"},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			assert.Contains(t, roleSelector(tt.role), tt.contains)
		})
	}
}

func TestTextPatterns(t *testing.T) {
	assert.Equal(t, "/Cancel Membership/i", containsPattern("Cancel Membership"))
	assert.Equal(t, `/^\s*Finish Cancellation\s*$/i`, exactPattern("Finish Cancellation"))
	// Regex metacharacters in page text must be escaped.
	assert.Contains(t, containsPattern("Save 50% (offer)"), `\(offer\)`)
}

func TestMockDriverNavigationAndClicks(t *testing.T) {
	ctx := context.Background()
	m := NewMockDriver(
		&MockPage{
			URL:  "https://example.com/account",
			Text: "Cancel Membership",
			Clicks: map[string]string{
				"text:Cancel Membership": "https://example.com/confirm",
			},
		},
		&MockPage{URL: "https://example.com/confirm", Text: "Finish Cancellation"},
	)

	require.NoError(t, m.Navigate(ctx, "https://example.com/account"))

	url, err := m.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/account", url)

	// A selector click with no mapping falls through to ElementNotFound.
	err = m.Click(ctx, "#does-not-exist")
	require.Error(t, err)
	assert.Equal(t, errs.KindElementNotFound, errs.KindOf(err))

	require.NoError(t, m.ClickByText(ctx, "Cancel Membership", false))
	text, err := m.VisibleText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Finish Cancellation", text)

	calls := m.Calls()
	assert.Equal(t, "navigate https://example.com/account", calls[0])
}

func TestMockDriverNegativeCoordinates(t *testing.T) {
	m := NewMockDriver()
	err := m.ClickAtCoordinates(context.Background(), -1, 0)
	require.Error(t, err)
	assert.Equal(t, errs.KindInputValidation, errs.KindOf(err))

	// (0,0) is valid; it fails only because no page is loaded.
	err = m.ClickAtCoordinates(context.Background(), 0, 0)
	require.Error(t, err)
	assert.NotEqual(t, errs.KindInputValidation, errs.KindOf(err))
}

func TestMockDriverScreenshotIsPNG(t *testing.T) {
	m := NewMockDriver()
	data, err := m.Screenshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}
