package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/famlink/internal/ir"
)

// maxAliasChain bounds the canonical-chain walk used for cycle detection.
const maxAliasChain = 64

// AddAlias records legacyID → canonicalID. Re-adding a legacy id replaces
// its target (last writer wins).
//
// When the new edge closes a cycle in the alias graph the edge is still
// stored, an alias_cycle Event is logged for review, and cycle=true is
// returned.
func (s *Store) AddAlias(ctx context.Context, legacyID, canonicalID, source string) (cycle bool, err error) {
	legacyID = strings.TrimSpace(legacyID)
	canonicalID = strings.TrimSpace(canonicalID)
	if legacyID == "" || canonicalID == "" {
		return false, fmt.Errorf("add alias: legacy_id and canonical_id are required: %w", ErrInvalidInput)
	}
	if legacyID == canonicalID {
		return false, fmt.Errorf("add alias: %s aliases itself: %w", legacyID, ErrInvalidInput)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO scope_aliases (legacy_id, canonical_id, source, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(legacy_id) DO UPDATE SET
				canonical_id = excluded.canonical_id,
				source = excluded.source,
				created_at = excluded.created_at
		`, legacyID, canonicalID, source, formatTime(tx.Now()))
		if err != nil {
			return fmt.Errorf("add alias: %w", err)
		}

		chain, closes, err := tx.canonicalChain(ctx, canonicalID, legacyID)
		if err != nil {
			return err
		}
		if !closes {
			return nil
		}
		cycle = true
		return tx.InsertEvent(ctx, ir.EntityAlias, legacyID, ir.EventAliasCycle, map[string]any{
			"legacy_id":    legacyID,
			"canonical_id": canonicalID,
			"chain":        append([]string{legacyID}, chain...),
			"resolution":   "last_writer_wins",
		})
	})
	if err != nil {
		return false, err
	}
	return cycle, nil
}

// canonicalChain follows legacy→canonical hops from start and reports
// whether target is reached.
func (q *Queries) canonicalChain(ctx context.Context, start, target string) ([]string, bool, error) {
	chain := []string{start}
	seen := map[string]bool{start: true}
	cur := start
	for range maxAliasChain {
		if cur == target {
			return chain, true, nil
		}
		next, ok, err := q.aliasTarget(ctx, cur)
		if err != nil {
			return nil, false, err
		}
		if !ok || seen[next] {
			return chain, next == target, nil
		}
		seen[next] = true
		chain = append(chain, next)
		cur = next
	}
	return chain, false, nil
}

func (q *Queries) aliasTarget(ctx context.Context, legacyID string) (string, bool, error) {
	var canonical string
	err := q.q.QueryRowContext(ctx, `SELECT canonical_id FROM scope_aliases WHERE legacy_id = ?`, legacyID).Scan(&canonical)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve alias %s: %w", legacyID, err)
	}
	return canonical, true, nil
}

// ResolveCanonicalScope returns the canonical id recorded for id, or id
// itself when it is not a legacy alias. One hop only.
func (q *Queries) ResolveCanonicalScope(ctx context.Context, id string) (string, error) {
	canonical, ok, err := q.aliasTarget(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return id, nil
	}
	return canonical, nil
}

// ResolveAliasClosure returns every scope id connected to id through the
// alias graph in either direction, plus scopes folded in by normalized
// token. The result always contains id and is sorted.
//
// Token fold: for each scope in the graph closure, a known scope outside the
// closure with the same NormalizeScopeToken is folded in only when it is the
// single such scope. Ambiguous collisions are left unresolved.
func (q *Queries) ResolveAliasClosure(ctx context.Context, id string) ([]string, error) {
	seen := map[string]bool{id: true}
	if err := q.aliasBFS(ctx, []string{id}, seen); err != nil {
		return nil, err
	}

	known, err := q.knownScopes(ctx)
	if err != nil {
		return nil, err
	}
	byToken := map[string][]string{}
	for _, k := range known {
		if seen[k] {
			continue
		}
		tok := NormalizeScopeToken(k)
		if tok != "" {
			byToken[tok] = append(byToken[tok], k)
		}
	}

	var folded []string
	for member := range seen {
		matches := byToken[NormalizeScopeToken(member)]
		if len(matches) == 1 && !seen[matches[0]] && !slices.Contains(folded, matches[0]) {
			folded = append(folded, matches[0])
		}
	}
	if len(folded) > 0 {
		for _, f := range folded {
			seen[f] = true
		}
		if err := q.aliasBFS(ctx, folded, seen); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

func (q *Queries) aliasBFS(ctx context.Context, frontier []string, seen map[string]bool) error {
	queue := slices.Clone(frontier)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		rows, err := q.q.QueryContext(ctx, `
			SELECT canonical_id FROM scope_aliases WHERE legacy_id = ?
			UNION
			SELECT legacy_id FROM scope_aliases WHERE canonical_id = ?
		`, cur, cur)
		if err != nil {
			return fmt.Errorf("alias closure: %w", err)
		}
		var next []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return fmt.Errorf("alias closure: %w", err)
			}
			next = append(next, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("alias closure: %w", err)
		}

		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return nil
}

// knownScopes lists every scope id the store has seen anywhere.
func (q *Queries) knownScopes(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT legacy_id FROM scope_aliases
		UNION SELECT canonical_id FROM scope_aliases
		UNION SELECT scope_id FROM rules
		UNION SELECT family_id FROM rules
		UNION SELECT scope_id FROM links
	`)
	if err != nil {
		return nil, fmt.Errorf("known scopes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("known scopes: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListAliases returns every alias ordered by legacy id.
func (q *Queries) ListAliases(ctx context.Context) ([]ir.ScopeAlias, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT legacy_id, canonical_id, source, created_at
		FROM scope_aliases ORDER BY legacy_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	aliases := []ir.ScopeAlias{}
	for rows.Next() {
		var a ir.ScopeAlias
		var created string
		if err := rows.Scan(&a.LegacyID, &a.CanonicalID, &a.Source, &created); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aliases: %w", err)
	}
	return aliases, nil
}

// NormalizeScopeToken lowercases id, strips any leading "fam-" (or "fam_",
// "fam.") prefixes and drops every non-alphanumeric rune.
//
//	"FAM-Debt_Covenants" → "debtcovenants"
func NormalizeScopeToken(id string) string {
	s := strings.ToLower(strings.TrimSpace(id))
	for {
		trimmed := false
		for _, p := range []string{"fam-", "fam_", "fam."} {
			if strings.HasPrefix(s, p) {
				s = s[len(p):]
				trimmed = true
			}
		}
		if !trimmed {
			break
		}
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// inClosure renders "col IN (?, ?, ...)" with args for a closure.
func inClosure(col string, ids []string) (string, []any) {
	return col + " IN (" + placeholders(len(ids)) + ")", stringArgs(ids)
}
