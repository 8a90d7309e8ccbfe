// Package metrics is the Prometheus-backed implementation of the
// scheduler's Metrics sink (spec §6), following the same promauto
// registration style used elsewhere in the stack: one package-level
// struct holding every collector, built once via New and threaded through
// by reference.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink collects every counter/gauge/histogram the scheduler and workers
// report against. Field names match the command names they instrument so
// call sites stay self-explanatory at the point of use.
type Sink struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	namespacesActive prometheus.Gauge
	watchersActive   prometheus.Gauge

	poolStrings prometheus.Gauge
	poolChunks  prometheus.Gauge
	poolBytes   prometheus.Gauge

	gcPassesTotal     *prometheus.CounterVec
	gcReclaimedTotal  prometheus.Counter
	gcPassDuration    *prometheus.HistogramVec
	buildCoalescedHit prometheus.Counter
}

// New registers every collector against reg and returns a ready Sink. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests so parallel test packages never
// collide on global collector names.
func New(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)

	return &Sink{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mhconfig",
			Name:      "commands_total",
			Help:      "Total scheduler/worker commands processed, by command name and result.",
		}, []string{"command", "result"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mhconfig",
			Name:      "command_duration_seconds",
			Help:      "Time spent handling one command, by command name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),

		namespacesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhconfig",
			Name:      "namespaces_active",
			Help:      "Number of namespaces currently live (not softdeleted).",
		}),

		watchersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhconfig",
			Name:      "watchers_active",
			Help:      "Number of watchers currently registered across all namespaces.",
		}),

		poolStrings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhconfig",
			Subsystem: "pool",
			Name:      "strings",
			Help:      "Number of distinct strings interned in the string pool.",
		}),
		poolChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhconfig",
			Subsystem: "pool",
			Name:      "chunks",
			Help:      "Number of arena chunks allocated by the string pool.",
		}),
		poolBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhconfig",
			Subsystem: "pool",
			Name:      "used_bytes",
			Help:      "Bytes currently occupied by live strings across all pool chunks.",
		}),

		gcPassesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mhconfig",
			Subsystem: "gc",
			Name:      "passes_total",
			Help:      "Total GC passes run, by pass type.",
		}, []string{"pass"}),
		gcReclaimedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mhconfig",
			Subsystem: "gc",
			Name:      "reclaimed_total",
			Help:      "Total items reclaimed across all GC passes (merged configs, dead pointers, namespaces, raw config versions).",
		}),
		gcPassDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mhconfig",
			Subsystem: "gc",
			Name:      "pass_duration_seconds",
			Help:      "Time spent running one GC pass, by pass type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
		buildCoalescedHit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mhconfig",
			Subsystem: "build",
			Name:      "coalesced_total",
			Help:      "Total Get/Watch requests that joined an in-flight build instead of starting a new one.",
		}),
	}
}

// RecordCommand observes one command's outcome and latency.
func (s *Sink) RecordCommand(command, result string, d time.Duration) {
	s.commandsTotal.WithLabelValues(command, result).Inc()
	s.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// SetNamespacesActive reports the current live-namespace count.
func (s *Sink) SetNamespacesActive(n int) {
	s.namespacesActive.Set(float64(n))
}

// SetWatchersActive reports the current registered-watcher count.
func (s *Sink) SetWatchersActive(n int64) {
	s.watchersActive.Set(float64(n))
}

// SetPoolStats mirrors internal/strpool.Stats onto gauges.
func (s *Sink) SetPoolStats(numStrings, numChunks, usedBytes int) {
	s.poolStrings.Set(float64(numStrings))
	s.poolChunks.Set(float64(numChunks))
	s.poolBytes.Set(float64(usedBytes))
}

// RecordGCPass observes one GC pass's duration and reclaimed count.
func (s *Sink) RecordGCPass(pass string, d time.Duration, reclaimed int) {
	s.gcPassesTotal.WithLabelValues(pass).Inc()
	s.gcPassDuration.WithLabelValues(pass).Observe(d.Seconds())
	s.gcReclaimedTotal.Add(float64(reclaimed))
}

// RecordBuildCoalesced records that a request joined an in-flight build
// rather than triggering a new one (spec property #4).
func (s *Sink) RecordBuildCoalesced() {
	s.buildCoalescedHit.Inc()
}
