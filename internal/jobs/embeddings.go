package jobs

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/embed"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

const (
	defaultChunkSize   = 64
	defaultConcurrency = 8
)

// EmbeddingsResult reports an embeddings_compute job.
type EmbeddingsResult struct {
	Model      string `json:"model"`
	Sections   int    `json:"sections"`
	Computed   int    `json:"computed"`
	Skipped    int    `json:"skipped"`
	Missing    int    `json:"missing"`
	Chunks     int    `json:"chunks"`
	ChunksDone int    `json:"chunks_done"`
}

type sectionRef struct {
	docID, section string
}

// computeEmbeddings embeds every section of the selected documents in
// fixed-size chunks. Each chunk is persisted before the next starts, and the
// job's cancelled flag is checked between chunks.
func (e *Env) computeEmbeddings(ctx context.Context, job ir.Job, progress Progress) (any, error) {
	p, err := Params[EmbeddingsParams](job)
	if err != nil {
		return nil, err
	}
	if e.Embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	chunkSize := p.ChunkSize
	if chunkSize == 0 {
		chunkSize = e.Embeddings.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	refs, err := e.sectionRefs(ctx, p.DocIDs)
	if err != nil {
		return nil, err
	}
	res := EmbeddingsResult{
		Model:    e.Embedder.Model(),
		Sections: len(refs),
		Chunks:   (len(refs) + chunkSize - 1) / chunkSize,
	}
	log := e.logger().With("job_id", job.ID, "model", res.Model)

	for start := 0; start < len(refs); start += chunkSize {
		cancelled, err := e.Store.IsJobCancelled(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if cancelled {
			log.Info("embeddings cancelled", "chunks_done", res.ChunksDone, "chunks", res.Chunks)
			return nil, &CancelledError{
				Result:  res,
				Message: fmt.Sprintf("stopped after %d of %d chunks", res.ChunksDone, res.Chunks),
			}
		}

		chunk := refs[start:min(start+chunkSize, len(refs))]
		if err := e.embedChunk(ctx, chunk, p.Force, &res); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", res.ChunksDone+1, err)
		}
		res.ChunksDone++
		progress(res.ChunksDone*100/res.Chunks, fmt.Sprintf("chunk %d/%d", res.ChunksDone, res.Chunks))
	}
	log.Info("embeddings computed", "computed", res.Computed, "skipped", res.Skipped)
	return res, nil
}

// sectionRefs lists every section of docIDs, or of the whole corpus.
func (e *Env) sectionRefs(ctx context.Context, docIDs []string) ([]sectionRef, error) {
	var q corpus.Query
	if len(docIDs) > 0 {
		q.Filter = corpus.DocIDs(docIDs...)
	}
	docs, err := e.Index.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	var refs []sectionRef
	for _, d := range docs {
		sections, err := e.Index.SearchSections(ctx, d.DocID, false, 0)
		if err != nil {
			return nil, err
		}
		for _, s := range sections {
			refs = append(refs, sectionRef{d.DocID, s.SectionNumber})
		}
	}
	return refs, nil
}

// embedChunk reads the chunk's texts in parallel, skips unchanged sections,
// embeds the rest in one provider call and stores them in one transaction.
func (e *Env) embedChunk(ctx context.Context, chunk []sectionRef, force bool, res *EmbeddingsResult) error {
	texts := make([]string, len(chunk))
	found := make([]bool, len(chunk))

	concurrency := e.Embeddings.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ref := range chunk {
		g.Go(func() error {
			st, err := e.Index.GetSectionText(gctx, ref.docID, ref.section)
			if errors.Is(err, corpus.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			texts[i], found[i] = st.Text, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	model := e.Embedder.Model()
	var todo []int
	hashes := make([]string, len(chunk))
	for i, ref := range chunk {
		if !found[i] {
			res.Missing++
			continue
		}
		hashes[i] = embed.ContentHash(texts[i])
		if !force {
			existing, err := e.Store.GetEmbedding(ctx, ref.docID, ref.section, model)
			if err != nil {
				return err
			}
			if existing != nil && existing.ContentHash == hashes[i] {
				res.Skipped++
				continue
			}
		}
		todo = append(todo, i)
	}
	if len(todo) == 0 {
		return nil
	}

	batch := make([]string, len(todo))
	for j, i := range todo {
		batch[j] = texts[i]
	}
	vectors, err := e.Embedder.Embed(ctx, batch)
	if err != nil {
		return err
	}
	if len(vectors) != len(todo) {
		return fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), len(todo))
	}

	err = e.Store.WithTx(ctx, func(tx *store.Tx) error {
		now := tx.Now()
		for j, i := range todo {
			err := tx.UpsertEmbedding(ctx, ir.SectionEmbedding{
				DocID:         chunk[i].docID,
				SectionNumber: chunk[i].section,
				Model:         model,
				ContentHash:   hashes[i],
				Vector:        vectors[j],
				UpdatedAt:     now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	res.Computed += len(todo)
	return nil
}
