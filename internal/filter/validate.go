package filter

import (
	"fmt"
	"strings"
)

// Guardrails for pathological rule ASTs.
const (
	MaxDepth = 32
	MaxNodes = 2000
)

// ValidationError reports a malformed filter. Path locates the offending
// node as a dotted list of child indexes from the root, e.g. "root.1.0".
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid heading filter at %s: %s", e.Path, e.Reason)
}

// Stats describes the size of a filter tree.
type Stats struct {
	Depth int
	Nodes int
}

// Validate checks a filter tree against the structural rules and the
// guardrails. It returns the first violation found, in depth-first order.
//
// Rules:
//  1. No nil nodes
//  2. Match values are non-blank
//  3. And/Or have at least one child
//  4. At least one non-negated literal exists (otherwise nothing can match)
//  5. Depth ≤ MaxDepth and node count ≤ MaxNodes
func Validate(n Node) error {
	v := &validator{}
	if err := v.walk(n, "root", 1); err != nil {
		return err
	}
	if len(Literals(n)) == 0 {
		return &ValidationError{Path: "root", Reason: "filter has no positive match value"}
	}
	return nil
}

// Measure returns depth and node count without enforcing limits.
func Measure(n Node) Stats {
	v := &validator{unbounded: true}
	_ = v.walk(n, "root", 1)
	return Stats{Depth: v.maxDepth, Nodes: v.nodes}
}

type validator struct {
	nodes     int
	maxDepth  int
	unbounded bool
}

func (v *validator) walk(n Node, path string, depth int) error {
	v.nodes++
	if depth > v.maxDepth {
		v.maxDepth = depth
	}
	if !v.unbounded {
		if depth > MaxDepth {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("depth exceeds %d", MaxDepth)}
		}
		if v.nodes > MaxNodes {
			return &ValidationError{Path: path, Reason: fmt.Sprintf("node count exceeds %d", MaxNodes)}
		}
	}

	switch node := n.(type) {
	case nil:
		return &ValidationError{Path: path, Reason: "nil node"}
	case Match:
		return v.match(node, path)
	case *Match:
		if node == nil {
			return &ValidationError{Path: path, Reason: "nil node"}
		}
		return v.match(*node, path)
	case And:
		return v.children("and", node.Nodes, path, depth)
	case *And:
		if node == nil {
			return &ValidationError{Path: path, Reason: "nil node"}
		}
		return v.children("and", node.Nodes, path, depth)
	case Or:
		return v.children("or", node.Nodes, path, depth)
	case *Or:
		if node == nil {
			return &ValidationError{Path: path, Reason: "nil node"}
		}
		return v.children("or", node.Nodes, path, depth)
	case Not:
		return v.walk(node.Node, path+".0", depth+1)
	case *Not:
		if node == nil {
			return &ValidationError{Path: path, Reason: "nil node"}
		}
		return v.walk(node.Node, path+".0", depth+1)
	default:
		return &ValidationError{Path: path, Reason: fmt.Sprintf("unknown node type %T", n)}
	}
}

func (v *validator) match(m Match, path string) error {
	if strings.TrimSpace(m.Value) == "" && !v.unbounded {
		return &ValidationError{Path: path, Reason: "empty match value"}
	}
	return nil
}

func (v *validator) children(op string, nodes []Node, path string, depth int) error {
	if len(nodes) == 0 && !v.unbounded {
		return &ValidationError{Path: path, Reason: op + " requires at least one child"}
	}
	for i, c := range nodes {
		if err := v.walk(c, fmt.Sprintf("%s.%d", path, i), depth+1); err != nil {
			return err
		}
	}
	return nil
}
