package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/famlink/internal/ir"
)

const previewColumns = `preview_id, rule_id, rule_version, scope_id, heading_filter_ast, candidate_set_hash,
	lineage, candidate_count, by_confidence_tier, created_at, expires_at, applied_at`

const candidateColumns = `doc_id, section_number, clause_id, clause_key, heading, article_concept,
	match_type, matched_value, confidence, confidence_tier, breakdown, conflicts, user_verdict`

// CandidateQuery pages through a preview's candidates in key order.
type CandidateQuery struct {
	Verdict ir.Verdict    // empty matches every verdict
	Tier    ir.Tier       // empty matches every tier
	After   *ir.TargetKey // exclusive keyset cursor
	Limit   int
}

// InsertPreview stores a preview and its candidates. Call inside a
// transaction so the pair is atomic.
func (q *Queries) InsertPreview(ctx context.Context, p ir.Preview, candidates []ir.Candidate) error {
	lineage, err := marshalJSON(p.Lineage)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}
	byTier, err := marshalJSON(p.ByTier)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO previews (`+previewColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.RuleID, p.RuleVersion, p.ScopeID, rawOrNull(p.HeadingFilter), p.CandidateSetHash,
		lineage, p.CandidateCount, byTier, formatTime(p.CreatedAt), formatTime(p.ExpiresAt), nullTime(p.AppliedAt),
	)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}

	stmt, err := prepare(ctx, q.q, `
		INSERT INTO preview_candidates (preview_id, `+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert candidates: %w", err)
	}
	defer stmt.Close()

	for _, c := range candidates {
		breakdown, err := marshalJSON(orEmptyMap(c.Breakdown))
		if err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
		conflicts, err := marshalJSON(orEmptyConflicts(c.Conflicts))
		if err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
		verdict := c.Verdict
		if verdict == "" {
			verdict = ir.VerdictPending
		}
		_, err = stmt.ExecContext(ctx,
			p.ID, c.DocID, c.SectionNumber, c.ClauseID, ir.ClauseKey(c.ClauseID), c.Heading, c.ArticleConcept,
			string(c.MatchType), c.MatchedValue, c.Confidence, string(c.Tier), breakdown, conflicts, string(verdict),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("insert candidate %s: duplicate key: %w", c.Key(), ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
	}
	return nil
}

// prepare works on both *sql.DB and *sql.Tx.
func prepare(ctx context.Context, q querier, query string) (*sql.Stmt, error) {
	type preparer interface {
		PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	}
	p, ok := q.(preparer)
	if !ok {
		return nil, fmt.Errorf("querier cannot prepare statements")
	}
	return p.PrepareContext(ctx, query)
}

func orEmptyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

func orEmptyConflicts(c []ir.Conflict) []ir.Conflict {
	if c == nil {
		return []ir.Conflict{}
	}
	return c
}

// GetPreview returns one preview.
func (q *Queries) GetPreview(ctx context.Context, previewID string) (ir.Preview, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+previewColumns+` FROM previews WHERE preview_id = ?`, previewID)
	p, err := scanPreview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Preview{}, fmt.Errorf("preview %s: %w", previewID, ErrNotFound)
	}
	return p, err
}

// ListPreviews returns previews for a scope closure, newest first.
func (q *Queries) ListPreviews(ctx context.Context, scopeID string, limit int) ([]ir.Preview, error) {
	query := `SELECT ` + previewColumns + ` FROM previews`
	var args []any
	if scopeID != "" {
		closure, err := q.ResolveAliasClosure(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		cond, cargs := inClosure("scope_id", closure)
		query += ` WHERE ` + cond
		args = cargs
	}
	query += ` ORDER BY created_at DESC, preview_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list previews: %w", err)
	}
	defer rows.Close()

	previews := []ir.Preview{}
	for rows.Next() {
		p, err := scanPreview(rows)
		if err != nil {
			return nil, err
		}
		previews = append(previews, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate previews: %w", err)
	}
	return previews, nil
}

// MarkPreviewApplied stamps the first successful apply.
func (q *Queries) MarkPreviewApplied(ctx context.Context, previewID string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE previews SET applied_at = ? WHERE preview_id = ? AND applied_at IS NULL
	`, formatTime(q.Now()), previewID)
	if err != nil {
		return fmt.Errorf("mark preview applied: %w", err)
	}
	return nil
}

// ListCandidates returns one page of candidates ordered by identity key.
func (q *Queries) ListCandidates(ctx context.Context, previewID string, cq CandidateQuery) ([]ir.Candidate, error) {
	where := []string{"preview_id = ?"}
	args := []any{previewID}
	if cq.Verdict != "" {
		where = append(where, "user_verdict = ?")
		args = append(args, string(cq.Verdict))
	}
	if cq.Tier != "" {
		where = append(where, "confidence_tier = ?")
		args = append(args, string(cq.Tier))
	}
	if cq.After != nil {
		where = append(where, "(doc_id, section_number, clause_key) > (?, ?, ?)")
		args = append(args, cq.After.DocID, cq.After.SectionNumber, cq.After.ClauseKey)
	}
	query := `SELECT ` + candidateColumns + ` FROM preview_candidates WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY doc_id, section_number, clause_key`
	if cq.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, cq.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	candidates := []ir.Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}

// SetVerdicts records a reviewer verdict for the given candidate keys and
// returns how many candidates changed.
func (q *Queries) SetVerdicts(ctx context.Context, previewID string, keys []ir.TargetKey, verdict ir.Verdict) (int, error) {
	if !verdict.Valid() {
		return 0, fmt.Errorf("set verdicts: unknown verdict %q: %w", verdict, ErrInvalidInput)
	}
	total := 0
	for _, k := range keys {
		res, err := q.q.ExecContext(ctx, `
			UPDATE preview_candidates SET user_verdict = ?
			WHERE preview_id = ? AND doc_id = ? AND section_number = ? AND clause_key = ?
		`, string(verdict), previewID, k.DocID, k.SectionNumber, k.ClauseKey)
		if err != nil {
			return total, fmt.Errorf("set verdicts: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("set verdicts: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// AcceptTiers accepts every candidate of the preview in one of tiers.
func (q *Queries) AcceptTiers(ctx context.Context, previewID string, tiers []ir.Tier) (int, error) {
	if len(tiers) == 0 {
		return 0, nil
	}
	names := make([]string, len(tiers))
	for i, t := range tiers {
		if !t.Valid() {
			return 0, fmt.Errorf("accept tiers: unknown tier %q: %w", t, ErrInvalidInput)
		}
		names[i] = string(t)
	}
	cond, args := inClosure("confidence_tier", names)
	args = append([]any{string(ir.VerdictAccepted), previewID}, args...)
	res, err := q.q.ExecContext(ctx, `
		UPDATE preview_candidates SET user_verdict = ? WHERE preview_id = ? AND `+cond, args...)
	if err != nil {
		return 0, fmt.Errorf("accept tiers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("accept tiers: %w", err)
	}
	return int(n), nil
}

func scanPreview(row rowScanner) (ir.Preview, error) {
	var p ir.Preview
	var ast, applied sql.NullString
	var lineage, byTier, created, expires string
	if err := row.Scan(
		&p.ID, &p.RuleID, &p.RuleVersion, &p.ScopeID, &ast, &p.CandidateSetHash,
		&lineage, &p.CandidateCount, &byTier, &created, &expires, &applied,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.Preview{}, err
		}
		return ir.Preview{}, fmt.Errorf("scan preview: %w", err)
	}
	if ast.Valid {
		p.HeadingFilter = json.RawMessage(ast.String)
	}
	if err := unmarshalJSON(lineage, &p.Lineage); err != nil {
		return ir.Preview{}, err
	}
	p.ByTier = ir.NewTierCounts()
	if err := unmarshalJSON(byTier, &p.ByTier); err != nil {
		return ir.Preview{}, err
	}

	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return ir.Preview{}, err
	}
	if p.ExpiresAt, err = parseTime(expires); err != nil {
		return ir.Preview{}, err
	}
	if p.AppliedAt, err = parseNullTime(applied); err != nil {
		return ir.Preview{}, err
	}
	return p, nil
}

func scanCandidate(row rowScanner) (ir.Candidate, error) {
	var c ir.Candidate
	var clauseKey, matchType, tier, breakdown, conflicts, verdict string
	if err := row.Scan(
		&c.DocID, &c.SectionNumber, &c.ClauseID, &clauseKey, &c.Heading, &c.ArticleConcept,
		&matchType, &c.MatchedValue, &c.Confidence, &tier, &breakdown, &conflicts, &verdict,
	); err != nil {
		return ir.Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	c.MatchType = ir.MatchType(matchType)
	c.Tier = ir.Tier(tier)
	c.Verdict = ir.Verdict(verdict)
	if err := unmarshalJSON(breakdown, &c.Breakdown); err != nil {
		return ir.Candidate{}, err
	}
	if err := unmarshalJSON(conflicts, &c.Conflicts); err != nil {
		return ir.Candidate{}, err
	}
	if len(c.Conflicts) == 0 {
		c.Conflicts = nil
	}
	return c, nil
}
