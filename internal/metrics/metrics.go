// Package metrics exposes ambient Prometheus collectors for the
// harvester. The Redis tick-meta hash stays the operator surface of
// record; these counters exist for dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is nil-safe: a nil receiver turns every record call into a
// no-op, so tests and tools can pass nil instead of a registry.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal      *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	postsInserted   prometheus.Counter
	channelsChecked prometheus.Counter
	floodWaits      prometheus.Counter
	quarantines     prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ticksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tgparser",
			Name:      "ticks_total",
			Help:      "Harvest tick attempts by result (ok, skipped, error).",
		}, []string{"result"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tgparser",
			Name:      "tick_duration_seconds",
			Help:      "Duration of completed harvest ticks.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		postsInserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tgparser",
			Name:      "posts_inserted_total",
			Help:      "Posts actually inserted (duplicates excluded).",
		}),
		channelsChecked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tgparser",
			Name:      "channels_checked_total",
			Help:      "Channels processed by the parse pass.",
		}),
		floodWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tgparser",
			Name:      "flood_waits_total",
			Help:      "FloodWait cooldowns applied to accounts.",
		}),
		quarantines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tgparser",
			Name:      "quarantines_total",
			Help:      "Accounts quarantined (banned or forbidden).",
		}),
	}
}

// Registry returns the registry for the ops /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) RecordTick(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		m.tickDuration.Observe(durationSeconds)
	}
}

func (m *Metrics) AddPostsInserted(n int) {
	if m == nil {
		return
	}
	m.postsInserted.Add(float64(n))
}

func (m *Metrics) AddChannelsChecked(n int) {
	if m == nil {
		return
	}
	m.channelsChecked.Add(float64(n))
}

func (m *Metrics) IncFloodWait() {
	if m == nil {
		return
	}
	m.floodWaits.Inc()
}

func (m *Metrics) IncQuarantine() {
	if m == nil {
		return
	}
	m.quarantines.Inc()
}
