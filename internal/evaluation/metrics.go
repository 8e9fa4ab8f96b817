package evaluation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/solatis/cepwarden/internal/tree"
)

var (
	// eventsTotal counts events offered to the mechanism.
	// Labels: pattern
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cepwarden",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Events processed by the evaluation mechanism",
	}, []string{"pattern"})

	// frozenTotal counts leaf deliveries skipped by an active freezer.
	// Labels: pattern
	frozenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cepwarden",
		Subsystem: "engine",
		Name:      "frozen_deliveries_total",
		Help:      "Leaf deliveries skipped because a freezer event was active",
	}, []string{"pattern"})

	// matchesTotal counts full matches emitted.
	// Labels: pattern
	matchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cepwarden",
		Subsystem: "engine",
		Name:      "matches_total",
		Help:      "Full matches emitted",
	}, []string{"pattern"})

	// partialMatchesTotal counts partial matches stored by tree nodes.
	// Labels: pattern
	partialMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cepwarden",
		Subsystem: "tree",
		Name:      "partial_matches_total",
		Help:      "Partial matches created by tree nodes",
	}, []string{"pattern"})

	// droppedTotal counts candidates rejected inside the tree.
	// Labels: pattern, reason (window, duplicate, order, condition, consumed, negation, expired)
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cepwarden",
		Subsystem: "tree",
		Name:      "dropped_total",
		Help:      "Partial matches rejected or expired by tree nodes",
	}, []string{"pattern", "reason"})

	// pendingMatches tracks matches waiting on unbounded negation.
	// Labels: pattern
	pendingMatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cepwarden",
		Subsystem: "tree",
		Name:      "pending_matches",
		Help:      "Matches waiting for an unbounded negation window to close",
	}, []string{"pattern"})

	// processSeconds measures per-event processing time.
	// Labels: pattern
	processSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cepwarden",
		Subsystem: "engine",
		Name:      "process_seconds",
		Help:      "Time to propagate one event through the tree",
		Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"pattern"})
)

// recordStats publishes the counters that changed between prev and cur.
func recordStats(pattern string, prev, cur tree.Stats, pending int) {
	add := func(c prometheus.Counter, before, after uint64) {
		if after > before {
			c.Add(float64(after - before))
		}
	}
	add(partialMatchesTotal.WithLabelValues(pattern), prev.PartialMatches, cur.PartialMatches)
	add(droppedTotal.WithLabelValues(pattern, "window"), prev.RejectedWindow, cur.RejectedWindow)
	add(droppedTotal.WithLabelValues(pattern, "duplicate"), prev.RejectedDuplicate, cur.RejectedDuplicate)
	add(droppedTotal.WithLabelValues(pattern, "order"), prev.RejectedOrder, cur.RejectedOrder)
	add(droppedTotal.WithLabelValues(pattern, "condition"), prev.RejectedCondition, cur.RejectedCondition)
	add(droppedTotal.WithLabelValues(pattern, "consumed"), prev.RejectedConsumed, cur.RejectedConsumed)
	add(droppedTotal.WithLabelValues(pattern, "negation"), prev.RejectedNegation, cur.RejectedNegation)
	add(droppedTotal.WithLabelValues(pattern, "expired"), prev.Expired, cur.Expired)
	pendingMatches.WithLabelValues(pattern).Set(float64(pending))
}
