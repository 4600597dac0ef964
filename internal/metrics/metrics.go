// Package metrics records sync run metrics and pushes them to a Pushgateway.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	messagesProcessed prometheus.Counter
	messagesFailed    *prometheus.CounterVec
	assetsPublished   prometheus.Counter
}

// New registers the sync collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbound_sync_runs_total",
				Help: "Total number of sync runs by outcome",
			},
			[]string{"outcome"}, // success, or the failure reason
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inbound_sync_run_duration_seconds",
				Help:    "Sync run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4m
			},
		),
		messagesProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inbound_sync_messages_processed_total",
				Help: "Total number of messages published, persisted and queued for cleanup",
			},
		),
		messagesFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inbound_sync_messages_failed_total",
				Help: "Total number of messages that failed, by reason",
			},
			[]string{"reason"},
		),
		assetsPublished: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "inbound_sync_assets_published_total",
				Help: "Total number of objects written to the bucket",
			},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records the outcome and duration of a run.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

// MessageProcessed counts a message that completed the full path.
func (m *Metrics) MessageProcessed() {
	m.messagesProcessed.Inc()
}

// MessageFailed counts a message that failed for reason.
func (m *Metrics) MessageFailed(reason string) {
	m.messagesFailed.WithLabelValues(reason).Inc()
}

// AssetsPublished counts objects written for one message.
func (m *Metrics) AssetsPublished(n int) {
	m.assetsPublished.Add(float64(n))
}

// Push sends the current values to the Pushgateway at url under job. client
// may be nil to use http.DefaultClient.
func (m *Metrics) Push(ctx context.Context, url, job string, client push.HTTPDoer) error {
	pusher := push.New(url, job).Gatherer(m.registry)
	if client != nil {
		pusher = pusher.Client(client)
	}
	return pusher.PushContext(ctx)
}
