package filter

// Node is one node of a heading filter AST.
//
// This is a sealed interface: the marker method keeps implementations inside
// this package.
type Node interface {
	filterNode()
}

// Match is a literal heading pattern.
type Match struct {
	Value string
}

// And is satisfied when every child is.
type And struct {
	Nodes []Node
}

// Or is satisfied when any child is.
type Or struct {
	Nodes []Node
}

// Not negates its child. Values under a Not never produce a match; they only
// exclude headings.
type Not struct {
	Node Node
}

func (Match) filterNode() {}
func (And) filterNode()   {}
func (Or) filterNode()    {}
func (Not) filterNode()   {}

// Any builds an Or over plain match values, the common shape of a rule that
// lists heading variants.
func Any(values ...string) Node {
	if len(values) == 1 {
		return Match{Value: values[0]}
	}
	nodes := make([]Node, len(values))
	for i, v := range values {
		nodes[i] = Match{Value: v}
	}
	return Or{Nodes: nodes}
}

// Literals returns the non-negated match values of n in listing order,
// without duplicates. The scanner tests headings against these values in
// this order.
func Literals(n Node) []string {
	var out []string
	seen := map[string]bool{}
	walkLiterals(n, false, func(v string, negated bool) {
		if negated || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	})
	if out == nil {
		return []string{}
	}
	return out
}

// NegatedLiterals returns the values that appear under an odd number of Not
// nodes, in listing order, without duplicates.
func NegatedLiterals(n Node) []string {
	var out []string
	seen := map[string]bool{}
	walkLiterals(n, false, func(v string, negated bool) {
		if !negated || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	})
	if out == nil {
		return []string{}
	}
	return out
}

func walkLiterals(n Node, negated bool, fn func(value string, negated bool)) {
	switch node := n.(type) {
	case Match:
		fn(node.Value, negated)
	case *Match:
		fn(node.Value, negated)
	case And:
		for _, c := range node.Nodes {
			walkLiterals(c, negated, fn)
		}
	case *And:
		for _, c := range node.Nodes {
			walkLiterals(c, negated, fn)
		}
	case Or:
		for _, c := range node.Nodes {
			walkLiterals(c, negated, fn)
		}
	case *Or:
		for _, c := range node.Nodes {
			walkLiterals(c, negated, fn)
		}
	case Not:
		walkLiterals(node.Node, !negated, fn)
	case *Not:
		walkLiterals(node.Node, !negated, fn)
	}
}
