package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// recordOutcomes counts terminal record outcomes
	recordOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldline_archive_records_total",
		Help: "Records processed by terminal outcome",
	}, []string{"outcome"})

	// chunkStatuses counts chunks by final status
	chunkStatuses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldline_archive_chunks_total",
		Help: "Chunks processed by final status",
	}, []string{"status"})

	// attemptFailures counts failed record attempts by error code
	attemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldline_archive_attempt_failures_total",
		Help: "Failed record attempts by error code",
	}, []string{"code"})

	invalidCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_archive_invalid_candidates_total",
		Help: "Candidates dropped because their key cannot address a record",
	})

	throttleSignals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_archive_throttle_signals_total",
		Help: "Backend throttle signals observed",
	})

	duplicateCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_archive_duplicate_candidates_total",
		Help: "Candidates dropped because the record was already in flight",
	})

	// chunkDuration tracks wall time from dispatch to final status
	chunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldline_archive_chunk_duration_seconds",
		Help:    "Chunk processing duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	})

	governorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coldline_archive_governor_rate",
		Help: "Permitted record attempts per second (0 = unlimited)",
	})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coldline_archive_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)
