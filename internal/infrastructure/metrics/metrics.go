package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query-API Metrics
var (
	// Cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "cache_lookups_total",
			Help:      "Result-cache probes by outcome",
		},
		[]string{"outcome"},
	)

	// Attempt counters
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "attempts_total",
			Help:      "Retrieval and synthesis attempts by stage and status",
		},
		[]string{"stage", "status"},
	)

	// Persisted turns
	TurnsPersistedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "turns_persisted_total",
			Help:      "Final turn writes by outcome",
		},
		[]string{"outcome"},
	)

	// Votes
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "votes_total",
			Help:      "Vote writes by value",
		},
		[]string{"value"},
	)

	// Backend call durations
	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "backend_duration_seconds",
			Help:      "Duration of reasoner, search and docstore calls",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend", "operation", "status"},
	)

	// Retention sweeper
	PurgedTurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "threadwise",
			Subsystem: "query_api",
			Name:      "purged_turns_total",
			Help:      "Soft-deleted turns removed by the retention sweeper",
		},
	)
)

// RecordCacheLookup records a result-cache probe
func RecordCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordAttempt records one retrieval or synthesis attempt
func RecordAttempt(stage string, ok bool) {
	status := "error"
	if ok {
		status = "ok"
	}
	AttemptsTotal.WithLabelValues(stage, status).Inc()
}

// RecordTurnPersisted records the final write of a submission
func RecordTurnPersisted(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	TurnsPersistedTotal.WithLabelValues(outcome).Inc()
}

// RecordVote records a vote write
func RecordVote(value int) {
	VotesTotal.WithLabelValues(strconv.Itoa(value)).Inc()
}

// RecordBackendCall records the duration of an outbound backend call
func RecordBackendCall(backend, operation string, ok bool, durationSec float64) {
	status := "error"
	if ok {
		status = "ok"
	}
	BackendDuration.WithLabelValues(backend, operation, status).Observe(durationSec)
}

// RecordPurgedTurns records rows removed by the retention sweeper
func RecordPurgedTurns(count int64) {
	if count > 0 {
		PurgedTurnsTotal.Add(float64(count))
	}
}
