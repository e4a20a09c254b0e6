// Package filter defines the heading filter AST used by rules.
//
// A filter is a boolean tree over string literals:
//
//	Match{Value: "indebtedness"}
//	And{Nodes: [...]}
//	Or{Nodes: [...]}
//	Not{Node: ...}
//
// Node is a sealed interface; only types in this package implement it so
// every consumer can switch exhaustively.
//
// Three representations are kept in sync:
//   - the Go tree (this package's types)
//   - the JSON wire form stored in rules.heading_filter_ast and previews
//   - the DSL string stored in rules.filter_dsl, e.g. "debt" | ("lien" & !"tax")
//
// Render and Parse are inverses over validated trees. Validate enforces the
// guardrails (MaxDepth, MaxNodes) that keep scanning bounded; every decode
// path runs it before returning a tree.
//
// The scanner does not evaluate the tree directly. It matches headings
// against Literals (the non-negated match values in listing order) and
// rejects headings that contain any NegatedLiterals value.
package filter
