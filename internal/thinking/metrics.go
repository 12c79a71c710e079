package thinking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// thoughtsProcessed counts stored thoughts by display category.
	thoughtsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqthink_thoughts_processed_total",
		Help: "Thoughts stored, by category",
	}, []string{"category"})

	// thoughtFailures counts rejected thoughts by error kind.
	thoughtFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqthink_thought_failures_total",
		Help: "Thoughts rejected, by error kind",
	}, []string{"kind"})

	historyEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqthink_history_evictions_total",
		Help: "Thoughts evicted from history by the retention bound",
	})

	historyLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seqthink_history_length",
		Help: "Thoughts currently held in history",
	})

	branchCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "seqthink_branches",
		Help: "Distinct branch IDs currently known",
	})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seqthink_process_duration_seconds",
		Help:    "Time spent processing one thought",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	})
)
