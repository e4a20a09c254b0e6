package jobs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/famlink/internal/embed"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/jobs"
	"github.com/roach88/famlink/internal/store"
)

func TestEmbeddings_ChunksAndSkipsUnchanged(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()

	progress := &progressLog{}
	out, err := run(t, env, claim(t, s, ir.JobEmbeddingsCompute, jobs.EmbeddingsParams{}), progress)
	require.NoError(t, err)
	assert.Equal(t, jobs.EmbeddingsResult{
		Model:      "hash",
		Sections:   9,
		Computed:   9,
		Chunks:     3,
		ChunksDone: 3,
	}, out)
	assert.Equal(t, []int{33, 66, 100}, progress.pcts)
	assert.Equal(t, "chunk 3/3", progress.messages[2])

	n, err := s.CountEmbeddings(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	e, err := s.GetEmbedding(ctx, "ca-001", "7.01", "hash")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Len(t, e.Vector, 8)

	out, err = run(t, env, claim(t, s, ir.JobEmbeddingsCompute, jobs.EmbeddingsParams{}), &progressLog{})
	require.NoError(t, err)
	assert.Equal(t, 9, out.(jobs.EmbeddingsResult).Skipped)
	assert.Zero(t, out.(jobs.EmbeddingsResult).Computed)

	out, err = run(t, env, claim(t, s, ir.JobEmbeddingsCompute, jobs.EmbeddingsParams{DocIDs: []string{"ca-003"}, Force: true}), &progressLog{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(jobs.EmbeddingsResult).Computed)
}

// cancellingProvider cancels the job after its first call.
type cancellingProvider struct {
	embed.Provider
	store *store.Store
	jobID string
	calls int
}

func (p *cancellingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.calls == 1 {
		if _, err := p.store.CancelJob(ctx, p.jobID); err != nil {
			return nil, err
		}
	}
	return p.Provider.Embed(ctx, texts)
}

func TestEmbeddings_CancelledBetweenChunks(t *testing.T) {
	env, s := newEnv(t)
	ctx := context.Background()
	job := claim(t, s, ir.JobEmbeddingsCompute, jobs.EmbeddingsParams{})
	provider := &cancellingProvider{Provider: env.Embedder, store: s, jobID: job.ID}
	env.Embedder = provider

	_, err := run(t, env, job, &progressLog{})
	ce, ok := jobs.AsCancelled(err)
	require.True(t, ok, "got %v", err)
	res := ce.Result.(jobs.EmbeddingsResult)
	assert.Equal(t, 1, res.ChunksDone)
	assert.Equal(t, 4, res.Computed)
	assert.Equal(t, 1, provider.calls)
	assert.Contains(t, ce.Message, "1 of 3 chunks")

	n, err := s.CountEmbeddings(ctx, "hash")
	require.NoError(t, err)
	assert.Equal(t, 4, n, "finished chunk stays persisted")
}

func TestEmbeddings_NoProvider(t *testing.T) {
	env, s := newEnv(t)
	env.Embedder = nil
	_, err := run(t, env, claim(t, s, ir.JobEmbeddingsCompute, jobs.EmbeddingsParams{}), &progressLog{})
	assert.ErrorContains(t, err, "no embedding provider")
}
