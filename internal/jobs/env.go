package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/embed"
	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/store"
)

// Progress records handler progress on the job row.
type Progress func(pct int, message string)

// Handler runs one job and returns its result.
type Handler func(ctx context.Context, job ir.Job, progress Progress) (any, error)

// CancelledError stops a handler whose job was cancelled. Result is what the
// handler had finished and persisted before it stopped.
type CancelledError struct {
	Result  any
	Message string
}

func (e *CancelledError) Error() string {
	return "job cancelled: " + e.Message
}

// AsCancelled returns the *CancelledError in err's chain.
func AsCancelled(err error) (*CancelledError, bool) {
	var ce *CancelledError
	ok := errors.As(err, &ce)
	return ce, ok
}

// FailureResult returns the structured result stored on a failed job, or
// nil when err carries none. Rejected applies report {error, code}.
func FailureResult(err error) any {
	var ae *commit.ApplyError
	if errors.As(err, &ae) {
		return ae.Failure()
	}
	return nil
}

// EmbeddingOptions tune embeddings_compute.
type EmbeddingOptions struct {
	ChunkSize   int
	Concurrency int
}

// Env is everything the handlers need.
type Env struct {
	Store      *store.Store
	Protocol   *commit.Protocol
	Index      corpus.Index
	Embedder   embed.Provider
	Embeddings EmbeddingOptions
	Logger     *slog.Logger
}

// Handlers returns the dispatch table.
func (e *Env) Handlers() map[ir.JobType]Handler {
	return map[ir.JobType]Handler{
		ir.JobPreview:           e.preview,
		ir.JobApply:             e.apply,
		ir.JobCanary:            e.canary,
		ir.JobBatchRun:          e.batchRun,
		ir.JobEmbeddingsCompute: e.computeEmbeddings,
		ir.JobCheckDrift:        e.checkDrift,
		ir.JobExport:            e.export,
	}
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) requireProtocol() error {
	if e.Protocol == nil {
		return fmt.Errorf("handler environment has no commit protocol")
	}
	return nil
}
