package cache

// metrics.go is a thin abstraction over Prometheus, same shape as the
// teacher's pkg/metrics.go: when the caller passes a *prometheus.Registry
// via WithMetrics, unlabeled collectors are created and registered; otherwise
// a no-op sink is used and the hot path pays nothing for metric updates.
//
// © 2025 segcache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink is the internal interface Cache talks to; concrete backend
// (Prometheus vs noop) is resolved once at construction.
type metricsSink interface {
	incHit()
	incMiss()
	incRemoval()
	incCleanupSweep()
	incAccessExpiry()
	incWriteExpiry()
	incSplit()
	incDegraded()
	setEntries(n int64)
	setProbeAvg(pct float64)
	setProbeMax(max int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()               {}
func (noopMetrics) incMiss()              {}
func (noopMetrics) incRemoval()           {}
func (noopMetrics) incCleanupSweep()      {}
func (noopMetrics) incAccessExpiry()      {}
func (noopMetrics) incWriteExpiry()       {}
func (noopMetrics) incSplit()             {}
func (noopMetrics) incDegraded()          {}
func (noopMetrics) setEntries(int64)      {}
func (noopMetrics) setProbeAvg(float64)   {}
func (noopMetrics) setProbeMax(int64)     {}

type promMetrics struct {
	hits           prometheus.Counter
	misses         prometheus.Counter
	removals       prometheus.Counter
	cleanupSweeps  prometheus.Counter
	accessExpiries prometheus.Counter
	writeExpiries  prometheus.Counter
	splits         prometheus.Counter
	degraded       prometheus.Counter
	entries        prometheus.Gauge
	probeAvgPct    prometheus.Gauge
	probeMax       prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "hits_total", Help: "Number of cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "misses_total", Help: "Number of cache misses.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "removals_total", Help: "Number of entries deleted by explicit Remove calls.",
		}),
		cleanupSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "cleanup_sweeps_total", Help: "Number of eviction-coordinator sweeps that ran (not skipped by the ticker gate).",
		}),
		accessExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "access_expirations_total", Help: "Entries removed by the access-TTL window.",
		}),
		writeExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "write_expirations_total", Help: "Entries removed by the creation-TTL window.",
		}),
		splits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "segment_splits_total", Help: "Number of successful segment splits.",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcache", Name: "capacity_degraded_total", Help: "Number of splits that aborted into oversized doubling.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcache", Name: "entries", Help: "Current live entry count.",
		}),
		probeAvgPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcache", Name: "probe_distance_avg_pct", Help: "Average probe distance as a percent of size, from the last Stats() call.",
		}),
		probeMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcache", Name: "probe_distance_max", Help: "Max probe distance observed during the last Stats() call.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.removals, m.cleanupSweeps,
		m.accessExpiries, m.writeExpiries, m.splits, m.degraded,
		m.entries, m.probeAvgPct, m.probeMax)
	return m
}

func (m *promMetrics) incHit()              { m.hits.Inc() }
func (m *promMetrics) incMiss()             { m.misses.Inc() }
func (m *promMetrics) incRemoval()          { m.removals.Inc() }
func (m *promMetrics) incCleanupSweep()     { m.cleanupSweeps.Inc() }
func (m *promMetrics) incAccessExpiry()     { m.accessExpiries.Inc() }
func (m *promMetrics) incWriteExpiry()      { m.writeExpiries.Inc() }
func (m *promMetrics) incSplit()            { m.splits.Inc() }
func (m *promMetrics) incDegraded()         { m.degraded.Inc() }
func (m *promMetrics) setEntries(n int64)   { m.entries.Set(float64(n)) }
func (m *promMetrics) setProbeAvg(p float64) { m.probeAvgPct.Set(p) }
func (m *promMetrics) setProbeMax(n int64)  { m.probeMax.Set(float64(n)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
