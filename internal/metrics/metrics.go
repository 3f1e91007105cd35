package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inventory_sync"

// Metrics holds the prometheus collectors of the sync engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted  *prometheus.CounterVec
	sessionsFinished *prometheus.CounterVec
	batchesProcessed *prometheus.CounterVec
	batchDuration    prometheus.Histogram
	warehouseSKUs    *prometheus.CounterVec
	channelUpdates   *prometheus.CounterVec
	updateLatency    *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
}

// New creates collectors on a dedicated registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sync sessions created, by trigger.",
		}, []string{"trigger"}),
		sessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sync sessions that reached a terminal state, by final state.",
		}, []string{"state"}),
		batchesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Batch steps executed, by result.",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch step.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		warehouseSKUs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warehouse_skus_fetched_total",
			Help:      "Warehouse SKUs requested, by whether the warehouse reported them.",
		}, []string{"found"}),
		channelUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_updates_total",
			Help:      "Channel quantity updates, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		updateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_update_duration_seconds",
			Help:      "Latency of one channel quantity update.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Pending or in-progress sessions seen at the last status check.",
		}),
	}

	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsFinished,
		m.batchesProcessed,
		m.batchDuration,
		m.warehouseSKUs,
		m.channelUpdates,
		m.updateLatency,
		m.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionStarted(trigger string) {
	if m == nil {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.sessionsStarted.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SessionFinished(state string) {
	if m == nil {
		return
	}
	m.sessionsFinished.WithLabelValues(state).Inc()
}

// BatchProcessed records one batch step; result is "ok" or "failed"
func (m *Metrics) BatchProcessed(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchesProcessed.WithLabelValues(result).Inc()
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) WarehouseFetched(requested, found int) {
	if m == nil {
		return
	}
	m.warehouseSKUs.WithLabelValues("true").Add(float64(found))
	m.warehouseSKUs.WithLabelValues("false").Add(float64(requested - found))
}

// ChannelUpdate records one item outcome; outcome is "success" or an error kind
func (m *Metrics) ChannelUpdate(channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.channelUpdates.WithLabelValues(channel, outcome).Inc()
	m.updateLatency.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
