package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/azogue/pvpcbill/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.ObserveBill("2.0A", metrics.ResultSuccess, 20*time.Millisecond)
	m.ObserveBill("2.0A", metrics.ResultSuccess, 10*time.Millisecond)
	m.ObserveBill("", metrics.ResultError, time.Millisecond)
	m.IncPriceLookup(metrics.SourceStore, metrics.ResultSuccess)
	m.IncPublish(metrics.PublishDLQ)
	m.SetPublishPending(3)
	m.IncHTTPRequest("/api/v1/bills", "200")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BillsTotal.WithLabelValues("2.0A", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillsTotal.WithLabelValues("unknown", metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceLookups.WithLabelValues(metrics.SourceStore, metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues(metrics.PublishDLQ)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PublishPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/v1/bills", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.BillDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics

	assert.NotPanics(t, func() {
		m.ObserveBill("2.0A", metrics.ResultSuccess, time.Second)
		m.IncPriceLookup(metrics.SourceDownload, metrics.ResultError)
		m.IncPublish(metrics.PublishSent)
		m.SetPublishPending(1)
		m.IncHTTPRequest("/health", "200")
	})
}
