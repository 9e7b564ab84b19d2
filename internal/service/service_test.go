package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/billing"
	"github.com/azogue/pvpcbill/internal/esios"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/service"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

var january = time.Date(2020, 1, 1, 0, 0, 0, 0, tariff.Location)

// flatSource prices every hour at 100 EUR/MWh net of transport terms.
type flatSource struct {
	calls atomic.Int32
	err   error
}

func (f *flatSource) PricesFor(_ context.Context, index []time.Time) ([]esios.HourlyPrice, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return flatPrices(index), nil
}

func flatPrices(index []time.Time) []esios.HourlyPrice {
	out := make([]esios.HourlyPrice, len(index))
	for i, ts := range index {
		out[i] = esios.HourlyPrice{Time: ts, GEN: 100, NOC: 100, VHC: 100}
	}
	return out
}

type recordingPublisher struct {
	mu    sync.Mutex
	bills []model.Bill
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, bill model.Bill) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bills = append(p.bills, bill)
	return p.err
}

func hourly(start time.Time, n int, value float64) timeseries.Series {
	s := make(timeseries.Series, n)
	for i := range s {
		s[i] = timeseries.Sample{Time: start.Add(time.Duration(i) * time.Hour), Value: value}
	}
	return s
}

func contract(power float64) model.Contract {
	c := model.DefaultContract()
	c.ContractedPowerKW = power
	return c
}

func TestCompute_FetchesPricesAndPublishes(t *testing.T) {
	source := &flatSource{}
	pub := &recordingPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	svc := service.NewBillService(source, tariff.DefaultTables(), zap.NewNop(), m, service.WithPublisher(pub))

	bill, err := svc.Compute(context.Background(), service.Request{
		Contract:    contract(4.6),
		Consumption: hourly(january, 720, 0.5),
	})
	require.NoError(t, err)

	assert.Equal(t, 86.64, bill.Total)
	assert.Equal(t, int32(1), source.calls.Load())
	require.Len(t, pub.bills, 1)
	assert.Equal(t, bill.Identifier(), pub.bills[0].Identifier())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BillsTotal.WithLabelValues("2.0A", metrics.ResultSuccess)))
}

func TestCompute_GivenPrices(t *testing.T) {
	svc := service.NewBillService(nil, tariff.DefaultTables(), zap.NewNop(), nil)
	cons := hourly(january, 720, 0.5)

	// Extra hours and a shuffled order are fine: prices are reindexed on the consumption.
	prices := flatPrices(hourly(january.Add(-24*time.Hour), 800, 0).Times())
	prices[10], prices[500] = prices[500], prices[10]

	bill, err := svc.Compute(context.Background(), service.Request{
		Contract:    contract(4.6),
		Consumption: cons,
		Prices:      prices,
	})
	require.NoError(t, err)
	assert.Equal(t, 86.64, bill.Total)
}

func TestCompute_Errors(t *testing.T) {
	down := errors.New("esios down")
	m := metrics.New(prometheus.NewRegistry())
	cons := hourly(january, 48, 0.5)

	tests := []struct {
		name   string
		source service.PriceSource
		req    service.Request
		want   error
	}{
		{"no_prices", nil, service.Request{Contract: contract(4.6), Consumption: cons}, service.ErrNoPrices},
		{"source_error", &flatSource{err: down}, service.Request{Contract: contract(4.6), Consumption: cons}, down},
		{"empty", &flatSource{}, service.Request{Contract: contract(4.6)}, billing.ErrEmptySeries},
		{"bad_contract", &flatSource{}, service.Request{Contract: contract(0), Consumption: cons}, model.ErrInvalidContract},
		{"unordered", &flatSource{}, service.Request{Contract: contract(4.6), Consumption: timeseries.Series{cons[1], cons[0]}}, timeseries.ErrUnordered},
		{"missing_price", nil, service.Request{Contract: contract(4.6), Consumption: cons, Prices: flatPrices(cons.Times()[:47])}, timeseries.ErrInputAlignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			svc := service.NewBillService(tt.source, tariff.DefaultTables(), zap.NewNop(), m, service.WithPublisher(pub))
			_, err := svc.Compute(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, pub.bills)
		})
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(m.BillsTotal.WithLabelValues("2.0A", metrics.ResultError)))
}

func TestCompute_PublishFailureKeepsBill(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("queue full")}
	svc := service.NewBillService(&flatSource{}, tariff.DefaultTables(), zap.NewNop(), nil, service.WithPublisher(pub))

	bill, err := svc.Compute(context.Background(), service.Request{Contract: contract(4.6), Consumption: hourly(january, 720, 0.5)})
	require.NoError(t, err)
	assert.Equal(t, 86.64, bill.Total)
}

func TestFromCSV(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("CUPS;Fecha;Hora;Consumo_kWh;Metodo_obtencion\n")
	for d := 0; d < 30; d++ {
		date := january.AddDate(0, 0, d).Format("02/01/2006")
		for h := 1; h <= 24; h++ {
			fmt.Fprintf(&sb, "ES0031405000000001AB;%s;%d;0,5;R\n", date, h)
		}
	}
	path := filepath.Join(t.TempDir(), "consumo.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o600))

	svc := service.NewBillService(&flatSource{}, tariff.DefaultTables(), zap.NewNop(), nil)
	bill, err := svc.FromCSV(context.Background(), path, contract(4.6))
	require.NoError(t, err)

	assert.Equal(t, "ES0031405000000001AB", bill.Contract.CUPS)
	assert.Equal(t, 30, bill.BilledDays)
	assert.Equal(t, 86.64, bill.Total)

	_, err = svc.FromCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), contract(4.6))
	assert.Error(t, err)
}

func TestComputeBatch(t *testing.T) {
	svc := service.NewBillService(&flatSource{}, tariff.DefaultTables(), zap.NewNop(), nil, service.WithBatchConcurrency(2))

	reqs := []service.Request{
		{Contract: contract(4.6), Consumption: hourly(january, 720, 0.5)},
		{Contract: contract(0), Consumption: hourly(january, 24, 0.5)},
		{Contract: contract(4.6), Consumption: hourly(january, 720, 0.5)},
	}
	results, err := svc.ComputeBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, 86.64, results[0].Bill.Total)
	assert.ErrorIs(t, results[1].Err, model.ErrInvalidContract)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, results[0].Bill, results[2].Bill)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.ComputeBatch(ctx, reqs)
	assert.ErrorIs(t, err, context.Canceled)
}
