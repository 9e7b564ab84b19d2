package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "pvpcbill_"

	ResultSuccess = "success"
	ResultError   = "error"

	SourceStore    = "store"
	SourceDownload = "download"

	PublishSent    = "sent"
	PublishRetried = "retried"
	PublishFailed  = "failed"
	PublishDLQ     = "dlq"
)

// Metrics bundles the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BillsTotal     *prometheus.CounterVec
	BillDuration   *prometheus.HistogramVec
	PriceLookups   *prometheus.CounterVec
	PublishTotal   *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	PublishPending prometheus.Gauge
}

// New constructs the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bills_total",
				Help: "Total computed bills by tariff and result",
			},
			[]string{"tariff", "result"},
		),
		BillDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "bill_duration_seconds",
				Help:    "Bill computation latency in seconds, price lookup included",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		PriceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_lookups_total",
				Help: "Total PVPC price lookups by source and result",
			},
			[]string{"source", "result"},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_total",
				Help: "Total bill publish outcomes",
			},
			[]string{"outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		PublishPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "publish_pending",
			Help: "Bills queued for publishing",
		}),
	}
	reg.MustRegister(
		m.BillsTotal,
		m.BillDuration,
		m.PriceLookups,
		m.PublishTotal,
		m.HTTPRequests,
		m.PublishPending,
	)
	return m
}

// ObserveBill records one bill computation.
func (m *Metrics) ObserveBill(tariff, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if tariff == "" {
		tariff = "unknown"
	}
	m.BillsTotal.WithLabelValues(tariff, result).Inc()
	m.BillDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// IncPriceLookup counts a price lookup.
func (m *Metrics) IncPriceLookup(source, result string) {
	if m == nil {
		return
	}
	m.PriceLookups.WithLabelValues(source, result).Inc()
}

// IncPublish counts a publish outcome.
func (m *Metrics) IncPublish(outcome string) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(outcome).Inc()
}

// SetPublishPending sets the publish backlog.
func (m *Metrics) SetPublishPending(n int) {
	if m == nil {
		return
	}
	m.PublishPending.Set(float64(n))
}

// IncHTTPRequest counts a served request.
func (m *Metrics) IncHTTPRequest(route, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
