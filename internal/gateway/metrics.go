package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reads counts successful reads by serving tier
	reads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldline_gateway_reads_total",
		Help: "Successful reads by the tier that served them",
	}, []string{"source"})

	misses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldline_gateway_not_found_total",
		Help: "Reads for records held by neither tier",
	})

	readLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coldline_gateway_read_duration_seconds",
		Help:    "Read latency by serving tier",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"source"})
)

func observe(src Source, start time.Time) {
	reads.WithLabelValues(string(src)).Inc()
	readLatency.WithLabelValues(string(src)).Observe(time.Since(start).Seconds())
}
