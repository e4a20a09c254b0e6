package commit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	previewsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "famlink_previews_created_total",
		Help: "Previews persisted.",
	})

	previewCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "famlink_preview_candidates",
		Help:    "Candidates per persisted preview.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	applyLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "famlink_apply_links_total",
		Help: "Links written by committing operations, by outcome.",
	}, []string{"outcome"})

	applyRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "famlink_apply_rejections_total",
		Help: "Apply calls rejected before any write, by error code.",
	}, []string{"code"})
)
