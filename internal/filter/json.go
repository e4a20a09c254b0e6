package filter

import (
	"encoding/json"
	"fmt"
)

// Wire operators.
const (
	opMatch = "match"
	opAnd   = "and"
	opOr    = "or"
	opNot   = "not"
)

// wireNode is the JSON form of a node:
//
//	{"op":"match","value":"debt"}
//	{"op":"or","children":[...]}
//	{"op":"not","child":{...}}
type wireNode struct {
	Op       string      `json:"op"`
	Value    string      `json:"value,omitempty"`
	Children []*wireNode `json:"children,omitempty"`
	Child    *wireNode   `json:"child,omitempty"`
}

// Encode returns the JSON wire form of a validated tree.
func Encode(n Node) (json.RawMessage, error) {
	if err := Validate(n); err != nil {
		return nil, err
	}
	w, err := toWire(n)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode heading filter: %w", err)
	}
	return data, nil
}

// Decode parses and validates the JSON wire form.
func Decode(data []byte) (Node, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Path: "root", Reason: "empty filter"}
	}
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ValidationError{Path: "root", Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	n, err := fromWire(&w, "root", 1)
	if err != nil {
		return nil, err
	}
	if err := Validate(n); err != nil {
		return nil, err
	}
	return n, nil
}

func toWire(n Node) (*wireNode, error) {
	switch node := n.(type) {
	case Match:
		return &wireNode{Op: opMatch, Value: node.Value}, nil
	case *Match:
		return toWire(*node)
	case And:
		return wireChildren(opAnd, node.Nodes)
	case *And:
		return toWire(*node)
	case Or:
		return wireChildren(opOr, node.Nodes)
	case *Or:
		return toWire(*node)
	case Not:
		c, err := toWire(node.Node)
		if err != nil {
			return nil, err
		}
		return &wireNode{Op: opNot, Child: c}, nil
	case *Not:
		return toWire(*node)
	}
	return nil, fmt.Errorf("encode heading filter: unknown node type %T", n)
}

func wireChildren(op string, nodes []Node) (*wireNode, error) {
	w := &wireNode{Op: op, Children: make([]*wireNode, len(nodes))}
	for i, c := range nodes {
		cw, err := toWire(c)
		if err != nil {
			return nil, err
		}
		w.Children[i] = cw
	}
	return w, nil
}

// fromWire converts a decoded wire tree, stopping as soon as the depth
// guardrail is crossed so oversized documents are never fully materialized.
func fromWire(w *wireNode, path string, depth int) (Node, error) {
	if w == nil {
		return nil, &ValidationError{Path: path, Reason: "nil node"}
	}
	if depth > MaxDepth {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("depth exceeds %d", MaxDepth)}
	}
	switch w.Op {
	case opMatch:
		return Match{Value: w.Value}, nil
	case opAnd, opOr:
		nodes := make([]Node, len(w.Children))
		for i, c := range w.Children {
			n, err := fromWire(c, fmt.Sprintf("%s.%d", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			nodes[i] = n
		}
		if w.Op == opAnd {
			return And{Nodes: nodes}, nil
		}
		return Or{Nodes: nodes}, nil
	case opNot:
		n, err := fromWire(w.Child, path+".0", depth+1)
		if err != nil {
			return nil, err
		}
		return Not{Node: n}, nil
	}
	return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("unknown op %q", w.Op)}
}
