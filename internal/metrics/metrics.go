// Package metrics provides Prometheus metrics for the broker
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the broker. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Webhook ingestion
	WebhookBatchesTotal   *prometheus.CounterVec
	WebhookBatchDuration  prometheus.Histogram
	WebhookInFlight       prometheus.Gauge
	ReconciledEventsTotal *prometheus.CounterVec
	DuplicateEventsTotal  prometheus.Counter

	// Outbound
	OutboundSendsTotal *prometheus.CounterVec

	// Retry sweeps
	RetrySweepsTotal  prometheus.Counter
	RetriedLogsTotal  *prometheus.CounterVec
	ServerStartTime   time.Time
	ServerUptimeGauge prometheus.GaugeFunc
}

// NewMetrics creates and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{registry: reg, ServerStartTime: time.Now()}

	m.WebhookBatchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_webhook_batches_total",
			Help: "Total number of webhook batches processed, by outcome",
		},
		[]string{"outcome"},
	)

	m.WebhookBatchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broker_webhook_batch_duration_seconds",
			Help:    "Duration of webhook batch processing in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	m.WebhookInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "broker_webhook_batches_in_flight",
			Help: "Number of webhook batches currently being processed",
		},
	)

	m.ReconciledEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_reconciled_events_total",
			Help: "Total number of reconciled events, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.DuplicateEventsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_duplicate_messages_total",
			Help: "Total number of inbound messages skipped as already processed",
		},
	)

	m.OutboundSendsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_outbound_sends_total",
			Help: "Total number of outbound sends, by message type and outcome",
		},
		[]string{"type", "outcome"},
	)

	m.RetrySweepsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_retry_sweeps_total",
			Help: "Total number of failed-webhook retry sweeps",
		},
	)

	m.RetriedLogsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_retried_webhooks_total",
			Help: "Total number of failed webhook batches retried, by outcome",
		},
		[]string{"outcome"},
	)

	m.ServerUptimeGauge = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "broker_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordBatch records one processed webhook batch.
func (m *Metrics) RecordBatch(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.WebhookBatchesTotal.WithLabelValues(outcome(err)).Inc()
	m.WebhookBatchDuration.Observe(duration.Seconds())
}

// BatchStarted tracks an in-flight batch; call the returned func when done.
func (m *Metrics) BatchStarted() func() {
	if m == nil {
		return func() {}
	}
	m.WebhookInFlight.Inc()
	return m.WebhookInFlight.Dec
}

// RecordEvent records one reconciled event of kind "message" or "status".
func (m *Metrics) RecordEvent(kind string, err error) {
	if m == nil {
		return
	}
	m.ReconciledEventsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateEventsTotal.Inc()
}

func (m *Metrics) RecordSend(messageType string, err error) {
	if m == nil {
		return
	}
	m.OutboundSendsTotal.WithLabelValues(messageType, outcome(err)).Inc()
}

// RecordSweep records one retry sweep and the outcome of each retried log.
func (m *Metrics) RecordSweep(succeeded, failed int) {
	if m == nil {
		return
	}
	m.RetrySweepsTotal.Inc()
	m.RetriedLogsTotal.WithLabelValues("success").Add(float64(succeeded))
	m.RetriedLogsTotal.WithLabelValues("error").Add(float64(failed))
}
