package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/famlink/internal/ir"
)

// UpsertEmbedding stores a section embedding, replacing any prior vector for
// the same (doc, section, model).
func (q *Queries) UpsertEmbedding(ctx context.Context, e ir.SectionEmbedding) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO section_embeddings (doc_id, section_number, model, content_hash, dims, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id, section_number, model) DO UPDATE SET
			content_hash = excluded.content_hash,
			dims = excluded.dims,
			vector = excluded.vector,
			updated_at = excluded.updated_at
	`, e.DocID, e.SectionNumber, e.Model, e.ContentHash, len(e.Vector), encodeVector(e.Vector), formatTime(q.Now()))
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored embedding or nil when none exists.
func (q *Queries) GetEmbedding(ctx context.Context, docID, sectionNumber, model string) (*ir.SectionEmbedding, error) {
	var e ir.SectionEmbedding
	var dims int
	var blob []byte
	var updated string
	err := q.q.QueryRowContext(ctx, `
		SELECT doc_id, section_number, model, content_hash, dims, vector, updated_at
		FROM section_embeddings WHERE doc_id = ? AND section_number = ? AND model = ?
	`, docID, sectionNumber, model).Scan(&e.DocID, &e.SectionNumber, &e.Model, &e.ContentHash, &dims, &blob, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get embedding: %w", err)
	}
	if e.Vector, err = decodeVector(blob, dims); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}

// CountEmbeddings returns the number of stored vectors for a model.
func (q *Queries) CountEmbeddings(ctx context.Context, model string) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM section_embeddings WHERE model = ?`, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// encodeVector packs float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dims int) ([]float32, error) {
	if len(buf) != 4*dims {
		return nil, fmt.Errorf("decode vector: %d bytes for %d dims", len(buf), dims)
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
