package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/famlink/internal/commit"
	"github.com/roach88/famlink/internal/corpus"
	"github.com/roach88/famlink/internal/embed"
	"github.com/roach88/famlink/internal/jobs"
	"github.com/roach88/famlink/internal/scan"
	"github.com/roach88/famlink/internal/store"
	"github.com/roach88/famlink/internal/worker"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	ID    string
	Drain bool
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker",
		Long: `Run the single job worker for a database.

On start the worker returns jobs orphaned by a dead worker to pending, then
claims pending jobs oldest first and runs them one at a time until it is
interrupted. With --drain it exits once the queue stays empty.

Example:
  famlink worker --db ./famlink.db --config ./famlink.yaml
  famlink worker --drain --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "worker id recorded on claimed jobs (default host-pid)")
	cmd.Flags().BoolVar(&opts.Drain, "drain", false, "exit when the queue is empty")

	return cmd
}

func runWorker(ctx context.Context, opts *WorkerOptions) error {
	cfg := opts.Config
	logger := opts.Logger

	logger.Info("opening database", "path", cfg.DB.Path)
	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("opening corpus index", "path", cfg.Corpus.Path)
	idx, err := corpus.OpenSQLite(cfg.Corpus.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open corpus index", err)
	}
	defer idx.Close()

	embedder, err := embed.New(cfg.Embeddings.ProviderConfig())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create embedding provider", err)
	}

	env := &jobs.Env{
		Store:    st,
		Protocol: newProtocol(opts.RootOptions, st, idx),
		Index:    idx,
		Embedder: embedder,
		Embeddings: jobs.EmbeddingOptions{
			ChunkSize:   cfg.Embeddings.ChunkSize,
			Concurrency: cfg.Embeddings.Concurrency,
		},
		Logger: logger,
	}

	wcfg := worker.Config{
		ID:               opts.ID,
		PollInterval:     cfg.Worker.PollInterval,
		MaxBackoffFactor: cfg.Worker.MaxBackoffFactor,
		DrainIdleCycles:  cfg.Worker.DrainIdleCycles,
	}
	if opts.Drain && wcfg.DrainIdleCycles == 0 {
		wcfg.DrainIdleCycles = 1
	}
	w := worker.New(st, env.Handlers(), wcfg, worker.WithLogger(logger))

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := worker.ServeMetrics(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("worker running", "worker_id", w.ID(), "embedding_model", embedder.Model())
	if err := w.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "worker stopped", err)
	}
	return nil
}

func newProtocol(opts *RootOptions, st *store.Store, idx corpus.Index) *commit.Protocol {
	return commit.New(st, idx, scan.NewScanner(idx, st, nil, opts.Logger),
		commit.WithTTL(opts.Config.Preview.TTL),
		commit.WithLineageDefaults(opts.Config.Lineage),
		commit.WithLogger(opts.Logger),
	)
}
