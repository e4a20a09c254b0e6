// Package worker runs the single job worker of a deployment: it recovers
// jobs orphaned by a dead worker, then claims pending jobs one at a time and
// dispatches them to the handler for their type.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/roach88/famlink/internal/ir"
	"github.com/roach88/famlink/internal/jobs"
	"github.com/roach88/famlink/internal/store"
)

// Config tunes the poll loop.
type Config struct {
	// ID names the worker on claimed rows. Defaults to host-pid.
	ID string

	// PollInterval is the base idle backoff.
	PollInterval time.Duration

	// MaxBackoffFactor caps idle backoff at MaxBackoffFactor × PollInterval.
	MaxBackoffFactor int

	// DrainIdleCycles makes Run return after that many consecutive idle
	// polls. Zero runs until the context is cancelled.
	DrainIdleCycles int
}

// Worker claims and runs jobs.
type Worker struct {
	store    *store.Store
	handlers map[ir.JobType]jobs.Handler
	cfg      Config
	pid      int
	isAlive  func(pid int) bool
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	// active is the id of the job this worker is running, if any.
	active atomic.Pointer[string]
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithLiveness replaces the OS process liveness check used by crash recovery.
func WithLiveness(isAlive func(pid int) bool) Option {
	return func(w *Worker) { w.isAlive = isAlive }
}

// WithSleep replaces the idle sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// WithPID overrides the pid recorded on claimed jobs.
func WithPID(pid int) Option {
	return func(w *Worker) { w.pid = pid }
}

// New creates a worker over st dispatching to handlers.
func New(st *store.Store, handlers map[ir.JobType]jobs.Handler, cfg Config, opts ...Option) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxBackoffFactor < 1 {
		cfg.MaxBackoffFactor = 5
	}
	w := &Worker{
		store:    st,
		handlers: handlers,
		cfg:      cfg,
		pid:      os.Getpid(),
		isAlive:  ProcessAlive,
		sleep:    sleepContext,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.ID == "" {
		host, _ := os.Hostname()
		w.cfg.ID = fmt.Sprintf("%s-%d", host, w.pid)
	}
	w.logger = w.logger.With("worker_id", w.cfg.ID)
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.cfg.ID }

// Backoff returns the idle sleep after idle consecutive empty polls.
func (w *Worker) Backoff(idle int) time.Duration {
	factor := min(max(idle, 1), w.cfg.MaxBackoffFactor)
	return time.Duration(factor) * w.cfg.PollInterval
}

// Recover resets jobs held by dead worker processes to pending. A job
// recorded under this process's own pid is orphaned unless this worker is
// running it: the pid was reused by a restart.
func (w *Worker) Recover(ctx context.Context) ([]string, error) {
	ids, err := w.store.RecoverOrphanedJobs(ctx, w.holderAlive)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		jobsRecovered.Inc()
		w.logger.Warn("recovered orphaned job", "job_id", id)
	}
	return ids, nil
}

func (w *Worker) holderAlive(h store.JobHolder) bool {
	if h.PID == w.pid {
		active := w.active.Load()
		return active != nil && *active == h.JobID
	}
	return w.isAlive(h.PID)
}

// Run recovers orphaned jobs and then polls until ctx is cancelled or, in
// drain mode, the queue stays empty for DrainIdleCycles polls. Handler
// failures never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	if _, err := w.Recover(ctx); err != nil {
		return fmt.Errorf("recover orphaned jobs: %w", err)
	}
	w.logger.Info("worker started", "poll_interval", w.cfg.PollInterval, "drain_idle_cycles", w.cfg.DrainIdleCycles)

	idle := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		ran, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("poll failed", "error", err)
		}
		if ran {
			idle = 0
			continue
		}
		idle++
		if w.cfg.DrainIdleCycles > 0 && idle >= w.cfg.DrainIdleCycles {
			w.logger.Info("queue drained", "idle_cycles", idle)
			return nil
		}
		if err := w.sleep(ctx, w.Backoff(idle)); err != nil {
			w.logger.Info("worker stopped")
			return nil
		}
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(ctx, w.cfg.ID, w.pid)
	if err != nil || job == nil {
		return false, err
	}
	jobsClaimed.WithLabelValues(string(job.Type)).Inc()
	w.active.Store(&job.ID)
	defer w.active.Store(nil)
	w.dispatch(ctx, *job)
	return true, nil
}

// dispatch runs one claimed job and records its outcome. Bookkeeping writes
// survive cancellation of ctx.
func (w *Worker) dispatch(ctx context.Context, job ir.Job) {
	bg := context.WithoutCancel(ctx)
	log := w.logger.With("job_id", job.ID, "job_type", job.Type)

	h, ok := w.handlers[job.Type]
	if !ok {
		w.finish(log, job, ir.JobFailed, func() (bool, error) {
			return w.store.FailJob(bg, job.ID, fmt.Sprintf("no handler for job type %q", job.Type))
		})
		return
	}
	running, err := w.store.MarkJobRunning(bg, job.ID)
	if err != nil {
		log.Error("mark running failed", "error", err)
		return
	}
	if !running {
		log.Info("job no longer claimed, skipping")
		return
	}

	progress := func(pct int, message string) {
		if _, err := w.store.UpdateJobProgress(bg, job.ID, pct, message); err != nil {
			log.Warn("progress update failed", "error", err)
		}
	}
	log.Info("job started")
	start := time.Now()
	result, err := invoke(ctx, h, job, progress)
	jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if ce, ok := jobs.AsCancelled(err); ok {
		w.finish(log, job, ir.JobCancelled, func() (bool, error) {
			data, merr := json.Marshal(ce.Result)
			if merr != nil {
				data = nil
			}
			return w.store.RecordCancelledResult(bg, job.ID, data, ce.Message)
		})
		return
	}
	if err != nil {
		log.Error("job failed", "error", err)
		errMessage := err.Error()
		var body json.RawMessage
		if failure := jobs.FailureResult(err); failure != nil {
			if body, err = json.Marshal(failure); err != nil {
				log.Warn("encode failure result", "error", err)
				body = nil
			}
		}
		w.finish(log, job, ir.JobFailed, func() (bool, error) {
			return w.store.FailJobWithResult(bg, job.ID, errMessage, body)
		})
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		w.finish(log, job, ir.JobFailed, func() (bool, error) {
			return w.store.FailJob(bg, job.ID, fmt.Sprintf("encode result: %v", err))
		})
		return
	}
	w.finish(log, job, ir.JobCompleted, func() (bool, error) {
		return w.store.CompleteJob(bg, job.ID, data)
	})
}

func (w *Worker) finish(log *slog.Logger, job ir.Job, status ir.JobStatus, write func() (bool, error)) {
	changed, err := write()
	if err != nil {
		log.Error("recording job outcome failed", "status", status, "error", err)
		return
	}
	if !changed {
		// Cancelled while running; the cancel wins.
		log.Info("job outcome discarded", "status", status)
		status = ir.JobCancelled
	}
	jobsFinished.WithLabelValues(string(job.Type), string(status)).Inc()
	log.Info("job finished", "status", status)
}

// invoke calls h and turns a panic into an error.
func invoke(ctx context.Context, h jobs.Handler, job ir.Job, progress jobs.Progress) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job, progress)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
