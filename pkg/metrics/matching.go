package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MatchingMetrics records outcomes of matching engine batches.
type MatchingMetrics struct {
	batchDuration prometheus.Histogram
	matchedPairs  prometheus.Counter
	skippedPairs  *prometheus.CounterVec
}

// NewMatchingMetrics registers the matching metrics on the provided registerer.
func NewMatchingMetrics(reg prometheus.Registerer) *MatchingMetrics {
	if reg == nil {
		return &MatchingMetrics{}
	}
	batchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "matching_batch_duration_seconds",
		Help:    "Duration of matching batches in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	matchedPairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matching_pairs_matched_total",
		Help: "Candidate pairs committed as matches.",
	})
	skippedPairs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_pairs_skipped_total",
		Help: "Candidate pairs skipped during orchestration.",
	}, []string{"reason"})
	reg.MustRegister(batchDuration, matchedPairs, skippedPairs)
	return &MatchingMetrics{
		batchDuration: batchDuration,
		matchedPairs:  matchedPairs,
		skippedPairs:  skippedPairs,
	}
}

// ObserveBatch records the duration of one orchestration batch.
func (m *MatchingMetrics) ObserveBatch(duration time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}
	m.batchDuration.Observe(duration.Seconds())
}

// IncMatched increments the matched pair counter.
func (m *MatchingMetrics) IncMatched() {
	if m == nil || m.matchedPairs == nil {
		return
	}
	m.matchedPairs.Inc()
}

// IncSkipped increments the skipped pair counter for a reason label.
func (m *MatchingMetrics) IncSkipped(reason string) {
	if m == nil || m.skippedPairs == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.skippedPairs.WithLabelValues(reason).Inc()
}
