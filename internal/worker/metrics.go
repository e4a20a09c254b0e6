package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "famlink_jobs_claimed_total",
		Help: "Jobs claimed by this worker",
	}, []string{"job_type"})

	jobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "famlink_jobs_finished_total",
		Help: "Jobs finished by terminal status",
	}, []string{"job_type", "status"})

	jobsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "famlink_jobs_recovered_total",
		Help: "Orphaned jobs returned to pending",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "famlink_job_duration_seconds",
		Help:    "Handler run time",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"job_type"})
)

// ServeMetrics serves /metrics on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
