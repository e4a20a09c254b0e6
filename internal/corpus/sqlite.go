package corpus

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteIndex reads a corpus index file opened read-only.
type SQLiteIndex struct {
	db *sql.DB
}

var _ Index = (*SQLiteIndex)(nil)

// OpenSQLite opens the index at path read-only. The file must exist and
// carry the corpus schema.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open corpus index: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open corpus index: %w", err)
	}
	// Read-only: concurrent readers are safe.
	db.SetMaxOpenConns(8)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('documents', 'sections', 'clauses', 'definitions')`).Scan(&n)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open corpus index: %w", err)
	}
	if n != 4 {
		db.Close()
		return nil, fmt.Errorf("open corpus index: %s is not a corpus index", path)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close closes the database.
func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}

// Query returns documents matching q.
func (x *SQLiteIndex) Query(ctx context.Context, q Query) ([]Document, error) {
	query, args, err := Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var cohort int
		if err := rows.Scan(&d.DocID, &d.Title, &d.Kind, &cohort); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Cohort = cohort == 1
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// SearchSections returns the section headings of docID.
func (x *SQLiteIndex) SearchSections(ctx context.Context, docID string, cohortOnly bool, limit int) ([]Section, error) {
	query := `
		SELECT s.section_number, s.heading, s.article_concept
		FROM sections s JOIN documents d ON d.doc_id = s.doc_id
		WHERE s.doc_id = ?`
	if cohortOnly {
		query += ` AND d.cohort = 1`
	}
	query += ` ORDER BY s.section_number ASC COLLATE BINARY`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := x.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("search sections: %w", err)
	}
	defer rows.Close()

	sections := []Section{}
	index := map[string]int{}
	for rows.Next() {
		s := Section{DocID: docID}
		if err := rows.Scan(&s.SectionNumber, &s.Heading, &s.ArticleConcept); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		index[s.SectionNumber] = len(sections)
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	if len(sections) == 0 {
		return sections, nil
	}

	crows, err := x.db.QueryContext(ctx, `
		SELECT section_number, clause_id, heading FROM clauses
		WHERE doc_id = ? AND heading != ''
		ORDER BY section_number ASC COLLATE BINARY, span_start ASC, clause_id ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("search clauses: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var section string
		var c ClauseHeading
		if err := crows.Scan(&section, &c.ClauseID, &c.Heading); err != nil {
			return nil, fmt.Errorf("scan clause: %w", err)
		}
		if i, ok := index[section]; ok {
			sections[i].Clauses = append(sections[i].Clauses, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clauses: %w", err)
	}
	return sections, nil
}

// GetDefinitions returns the defined terms of docID.
func (x *SQLiteIndex) GetDefinitions(ctx context.Context, docID string) ([]Definition, error) {
	rows, err := x.db.QueryContext(ctx, `
		SELECT term, text FROM definitions WHERE doc_id = ? ORDER BY term ASC COLLATE BINARY
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("get definitions: %w", err)
	}
	defer rows.Close()

	defs := []Definition{}
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.Term, &d.Text); err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	return defs, nil
}

// GetSectionText returns the text of one section.
func (x *SQLiteIndex) GetSectionText(ctx context.Context, docID, sectionNumber string) (SectionText, error) {
	st := SectionText{DocID: docID, SectionNumber: sectionNumber}
	err := x.db.QueryRowContext(ctx, `
		SELECT text FROM sections WHERE doc_id = ? AND section_number = ?
	`, docID, sectionNumber).Scan(&st.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return SectionText{}, fmt.Errorf("section %s/%s: %w", docID, sectionNumber, ErrNotFound)
	}
	if err != nil {
		return SectionText{}, fmt.Errorf("get section text: %w", err)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT clause_id, heading, span_start, span_end FROM clauses
		WHERE doc_id = ? AND section_number = ?
		ORDER BY span_start ASC, clause_id ASC
	`, docID, sectionNumber)
	if err != nil {
		return SectionText{}, fmt.Errorf("get clauses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Clause
		if err := rows.Scan(&c.ClauseID, &c.Heading, &c.SpanStart, &c.SpanEnd); err != nil {
			return SectionText{}, fmt.Errorf("scan clause: %w", err)
		}
		st.Clauses = append(st.Clauses, c)
	}
	if err := rows.Err(); err != nil {
		return SectionText{}, fmt.Errorf("iterate clauses: %w", err)
	}
	return st, nil
}

// Version returns the corpus_meta version entry, or "" when absent.
func (x *SQLiteIndex) Version(ctx context.Context) (string, error) {
	var v string
	err := x.db.QueryRowContext(ctx, `SELECT value FROM corpus_meta WHERE key = 'version'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("corpus version: %w", err)
	}
	return v, nil
}

// WriteSQLite writes f into the index file at path, creating it when
// missing. Rows are upserted in one transaction.
func WriteSQLite(ctx context.Context, path string, f Fixture) error {
	if err := f.validate(); err != nil {
		return err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("write corpus index: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("write corpus index: schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write corpus index: %w", err)
	}
	defer tx.Rollback()

	if f.Version != "" {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO corpus_meta (key, value) VALUES ('version', ?)`, f.Version); err != nil {
			return fmt.Errorf("write corpus version: %w", err)
		}
	}
	for _, d := range f.Documents {
		if err := writeDocument(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write corpus index: commit: %w", err)
	}
	return nil
}

func writeDocument(ctx context.Context, tx *sql.Tx, d FixtureDocument) error {
	cohort := 0
	if d.Cohort {
		cohort = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents (doc_id, title, kind, cohort) VALUES (?, ?, ?, ?)
	`, d.DocID, d.Title, d.Kind, cohort); err != nil {
		return fmt.Errorf("write document %s: %w", d.DocID, err)
	}
	for _, s := range d.Sections {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO sections (doc_id, section_number, heading, article_concept, text)
			VALUES (?, ?, ?, ?, ?)
		`, d.DocID, s.SectionNumber, s.Heading, s.ArticleConcept, s.Text); err != nil {
			return fmt.Errorf("write section %s/%s: %w", d.DocID, s.SectionNumber, err)
		}
		for _, c := range s.Clauses {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO clauses (doc_id, section_number, clause_id, heading, span_start, span_end)
				VALUES (?, ?, ?, ?, ?, ?)
			`, d.DocID, s.SectionNumber, c.ClauseID, c.Heading, c.SpanStart, c.SpanEnd); err != nil {
				return fmt.Errorf("write clause %s/%s/%s: %w", d.DocID, s.SectionNumber, c.ClauseID, err)
			}
		}
	}
	for _, def := range d.Definitions {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO definitions (doc_id, term, text) VALUES (?, ?, ?)
		`, d.DocID, def.Term, def.Text); err != nil {
			return fmt.Errorf("write definition %s/%s: %w", d.DocID, def.Term, err)
		}
	}
	return nil
}
