package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scannedCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_scan_candidates_total",
		Help: "Candidates emitted by the periodic scan",
	})

	retriedCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_scan_retried_candidates_total",
		Help: "Failed candidates offered again by a later scan pass",
	})

	requeuedCandidates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_requeue_candidates_total",
		Help: "Dead-lettered records re-injected after operator requeue",
	})

	// feedMessages counts change-feed notifications by what happened to them
	feedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldline_feed_messages_total",
		Help: "Change-feed notifications by result",
	}, []string{"result"})
)
