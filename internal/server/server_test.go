package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/config"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/publisher"
	"github.com/azogue/pvpcbill/internal/server"
	"github.com/azogue/pvpcbill/internal/service"
	"github.com/azogue/pvpcbill/internal/tariff"
)

var january = time.Date(2020, 1, 1, 0, 0, 0, 0, tariff.Location)

type fixedStats struct{}

func (fixedStats) Stats() publisher.Stats { return publisher.Stats{Accepted: 7, Sent: 6} }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Server.RateLimitPerSecond = 0
	return cfg
}

func newServer(t *testing.T, cfg *config.Config, opts ...server.Option) *server.HTTPServer {
	t.Helper()
	svc := service.NewBillService(nil, tariff.DefaultTables(), zap.NewNop(), nil)
	srv, err := server.NewHTTPServer(cfg, svc, tariff.DefaultTables(), zap.NewNop(), opts...)
	require.NoError(t, err)
	return srv
}

// billBody is 720 hours of 0.5 kWh priced at 100 EUR/MWh.
func billBody(contract map[string]any, hours int, withPrices bool) map[string]any {
	cons := make([]map[string]any, hours)
	var prices []map[string]any
	for i := range cons {
		ts := january.Add(time.Duration(i) * time.Hour).Format(model.TimestampLayout)
		cons[i] = map[string]any{"time": ts, "kwh": 0.5}
		if withPrices {
			prices = append(prices, map[string]any{"time": ts, "GEN": 100.0, "NOC": 100.0, "VHC": 100.0})
		}
	}
	body := map[string]any{"consumption": cons}
	if contract != nil {
		body["contract"] = contract
	}
	if withPrices {
		body["prices"] = prices
	}
	return body
}

func post(t *testing.T, h http.Handler, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleBill_JSON(t *testing.T) {
	h := newServer(t, testConfig(t)).Handler()

	rec := post(t, h, server.RouteBills, billBody(map[string]any{"contracted_power_kw": 4.6}, 720, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var bill model.Bill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bill))
	assert.Equal(t, 86.64, bill.Total)
	assert.Equal(t, tariff.General, bill.Contract.Tariff)
	assert.Equal(t, model.DefaultCUPS, bill.Contract.CUPS)
}

func TestHandleBill_Formats(t *testing.T) {
	h := newServer(t, testConfig(t)).Handler()
	body := billBody(map[string]any{"contracted_power_kw": 4.6, "tariff": "2.0DHA"}, 720, true)

	rec := post(t, h, server.RouteBills+"?format=text", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "# TOTAL FACTURA")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "_NOC_4_6_IVA.txt")

	rec = post(t, h, server.RouteBills+"?format=xlsx", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = post(t, h, server.RouteBills+"?format=pdf", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = post(t, h, server.RouteBills+"?format=docx", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBill_Errors(t *testing.T) {
	h := newServer(t, testConfig(t)).Handler()

	misaligned := billBody(nil, 48, true)
	misaligned["prices"] = misaligned["prices"].([]map[string]any)[:47]

	negative := billBody(nil, 2, true)
	negative["consumption"].([]map[string]any)[0]["kwh"] = -1.0

	huge := billBody(nil, 24, true)
	huge["consumption"].([]map[string]any)[3]["kwh"] = 1e300

	tests := []struct {
		name string
		body any
		want int
	}{
		{"not_an_object", []int{1, 2}, http.StatusUnprocessableEntity},
		{"no_consumption", map[string]any{"prices": []any{}}, http.StatusUnprocessableEntity},
		{"negative_kwh", negative, http.StatusUnprocessableEntity},
		{"unknown_tariff", billBody(map[string]any{"tariff": "3.0TD"}, 24, true), http.StatusUnprocessableEntity},
		{"unknown_field", map[string]any{"consumo": 1}, http.StatusUnprocessableEntity},
		{"zero_power", billBody(map[string]any{"contracted_power_kw": 0}, 24, true), http.StatusUnprocessableEntity},
		{"misaligned_prices", misaligned, http.StatusBadRequest},
		{"huge_kwh", huge, http.StatusBadRequest},
		{"no_price_source", billBody(nil, 24, false), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, server.RouteBills, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}

	req := httptest.NewRequest(http.MethodPost, server.RouteBills, strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, server.RouteBills, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleBatch(t *testing.T) {
	h := newServer(t, testConfig(t)).Handler()

	rec := post(t, h, server.RouteBatch, []any{
		billBody(map[string]any{"contracted_power_kw": 4.6}, 720, true),
		map[string]any{"consumption": []any{}},
		billBody(map[string]any{"contracted_power_kw": 4.6}, 24, false),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var items []struct {
		Bill  *model.Bill `json:"bill"`
		Error string      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Bill)
	assert.Equal(t, 86.64, items[0].Bill.Total)
	assert.Nil(t, items[1].Bill)
	assert.Contains(t, items[1].Error, "invalid bill request")
	assert.Contains(t, items[2].Error, "no PVPC prices")

	rec = post(t, h, server.RouteBatch, []any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := testConfig(t)
	h := newServer(t, cfg, server.WithMetrics(m, reg), server.WithPublisherStats(fixedStats{})).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, server.RouteHealth, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status    string          `json:"status"`
		Years     []int           `json:"years"`
		Publisher publisher.Stats `json:"publisher"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, tariff.DefaultTables().Years(), health.Years)
	assert.Equal(t, uint64(7), health.Publisher.Accepted)

	post(t, h, server.RouteBills, billBody(nil, 24, true))
	post(t, h, server.RouteBills, []int{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(server.RouteBills, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(server.RouteBills, "422")))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, cfg.Metrics.Path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "pvpcbill_http_requests_total")
}

func TestRateLimitAndBodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimitPerSecond = 1
	h := newServer(t, cfg).Handler()

	body := billBody(nil, 24, true)
	assert.Equal(t, http.StatusOK, post(t, h, server.RouteBills, body).Code)
	assert.Equal(t, http.StatusOK, post(t, h, server.RouteBills, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(t, h, server.RouteBills, body).Code)

	cfg = testConfig(t)
	cfg.Server.MaxBodyBytes = 64
	h = newServer(t, cfg).Handler()
	assert.Equal(t, http.StatusRequestEntityTooLarge, post(t, h, server.RouteBills, body).Code)
}
