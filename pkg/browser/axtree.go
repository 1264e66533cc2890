package browser

import "github.com/go-rod/rod/lib/proto"

const (
	// axMaxDepth bounds the pruned accessibility tree.
	axMaxDepth = 5

	// axMaxNameLen truncates accessible names in the pruned tree.
	axMaxNameLen = 100
)

// AXNode is one node of the pruned accessibility tree handed to the planner.
type AXNode struct {
	Role     string    `json:"role,omitempty"`
	Name     string    `json:"name,omitempty"`
	Children []*AXNode `json:"children,omitempty"`
}

// pruneAXTree converts the flat CDP node list into a depth-bounded tree of
// {role, name, children}. Returns nil for an empty snapshot.
func pruneAXTree(nodes []*proto.AccessibilityAXNode) *AXNode {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	return pruneNode(nodes[0], byID, 1)
}

func pruneNode(node *proto.AccessibilityAXNode, byID map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, depth int) *AXNode {
	if node == nil || depth > axMaxDepth {
		return nil
	}
	out := &AXNode{
		Role: axValueString(node.Role),
		Name: truncate(axValueString(node.Name), axMaxNameLen),
	}
	for _, childID := range node.ChildIDs {
		child, ok := byID[childID]
		if !ok {
			continue
		}
		if pruned := pruneNode(child, byID, depth+1); pruned != nil {
			out.Children = append(out.Children, pruned)
		}
	}
	return out
}

func axValueString(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	return v.Value.Str()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
