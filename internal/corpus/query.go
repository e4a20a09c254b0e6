package corpus

import (
	"fmt"
	"strings"
)

// Query selects documents. A nil Filter matches every document.
type Query struct {
	Filter Predicate
	Limit  int
}

// Predicate is a document filter condition.
//
// This is a sealed interface: only Eq, In and And implement it, so the
// compiler and the in-memory evaluator can switch exhaustively.
type Predicate interface {
	predicateNode()
}

// Eq matches documents whose Field equals Value.
type Eq struct {
	Field string
	Value any
}

// In matches documents whose Field equals any of Values. An empty In
// matches nothing.
type In struct {
	Field  string
	Values []any
}

// And matches documents satisfying every predicate. An empty And matches
// everything.
type And struct {
	Predicates []Predicate
}

func (Eq) predicateNode()  {}
func (In) predicateNode()  {}
func (And) predicateNode() {}

// fieldKinds whitelists the queryable document columns and their value kind.
var fieldKinds = map[string]string{
	"doc_id": "string",
	"title":  "string",
	"kind":   "string",
	"cohort": "bool",
}

// CohortDocs returns a query for cohort documents, narrowed to docIDs when
// any are given.
func CohortDocs(docIDs ...string) Query {
	preds := []Predicate{Eq{Field: "cohort", Value: true}}
	if len(docIDs) > 0 {
		preds = append(preds, DocIDs(docIDs...))
	}
	return Query{Filter: And{Predicates: preds}}
}

// DocIDs returns an In predicate over doc_id.
func DocIDs(ids ...string) In {
	vals := make([]any, len(ids))
	for i, id := range ids {
		vals[i] = id
	}
	return In{Field: "doc_id", Values: vals}
}

// Compile converts q to parameterized SQL over the documents table.
// Every query is ordered by doc_id so results are deterministic, and every
// value is bound as a parameter.
func Compile(q Query) (string, []any, error) {
	var where string
	var params []any
	if q.Filter != nil {
		sql, p, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		where = " WHERE " + sql
		params = p
	}
	sql := "SELECT doc_id, title, kind, cohort FROM documents" + where + " ORDER BY doc_id ASC COLLATE BINARY"
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return sql, params, nil
}

func compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Eq:
		v, err := checkValue(pred.Field, pred.Value)
		if err != nil {
			return "", nil, err
		}
		return pred.Field + " = ?", []any{v}, nil
	case In:
		if len(pred.Values) == 0 {
			return "1 = 0", nil, nil
		}
		params := make([]any, len(pred.Values))
		for i, raw := range pred.Values {
			v, err := checkValue(pred.Field, raw)
			if err != nil {
				return "", nil, err
			}
			params[i] = v
		}
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return pred.Field + " IN (" + marks + ")", params, nil
	case And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			sql, p, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+sql+")")
			params = append(params, p...)
		}
		return strings.Join(parts, " AND "), params, nil
	case nil:
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// checkValue validates field and converts v to its SQL parameter form.
func checkValue(field string, v any) (any, error) {
	kind, ok := fieldKinds[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	switch kind {
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("field %s: want bool, got %T", field, v)
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("field %s: want string, got %T", field, v)
		}
		return s, nil
	}
}

// Match evaluates p against d. It applies the same validation as Compile.
func Match(p Predicate, d Document) (bool, error) {
	switch pred := p.(type) {
	case nil:
		return true, nil
	case Eq:
		v, err := checkValue(pred.Field, pred.Value)
		if err != nil {
			return false, err
		}
		return documentField(d, pred.Field) == v, nil
	case In:
		got := documentField(d, pred.Field)
		for _, raw := range pred.Values {
			v, err := checkValue(pred.Field, raw)
			if err != nil {
				return false, err
			}
			if got == v {
				return true, nil
			}
		}
		return false, nil
	case And:
		for _, sub := range pred.Predicates {
			ok, err := Match(sub, d)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func documentField(d Document, field string) any {
	switch field {
	case "doc_id":
		return d.DocID
	case "title":
		return d.Title
	case "kind":
		return d.Kind
	case "cohort":
		if d.Cohort {
			return int64(1)
		}
		return int64(0)
	}
	return nil
}
