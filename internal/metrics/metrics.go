// Package metrics holds the sentinel's Prometheus instruments. All
// instruments share the sentinel namespace so the textfile export can
// pick them out of the default gatherer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace prefixes every instrument; WriteTextfile filters on it.
const namespace = "sentinel"

var (
	MonitorsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monitors_active",
		Help:      "Number of wishlist entries currently being monitored.",
	})
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of portal HTTP requests by endpoint.",
	}, []string{"endpoint"})
	GrabsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grabs_total",
		Help:      "Total number of grab attempts by outcome.",
	}, []string{"outcome"})
	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swaps_total",
		Help:      "Total number of swap protocol runs by outcome.",
	}, []string{"outcome"})
	RecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recoveries_total",
		Help:      "Total number of session recovery runs by outcome.",
	}, []string{"outcome"})
	GrabDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "grab_duration_seconds",
		Help:      "Duration of grab attempts, from select to verification.",
		Buckets:   prometheus.DefBuckets,
	})
	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "probe_duration_seconds",
		Help:      "Duration of login liveness probes.",
		Buckets:   prometheus.DefBuckets,
	})
	AvailabilityTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "availability_total",
		Help:      "Total number of seat availability detections.",
	})
)
