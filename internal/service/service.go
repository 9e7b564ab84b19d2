// Package service turns consumption curves into bills: it resolves PVPC prices,
// runs the billing engine, records metrics and hands finished bills to the publisher.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/azogue/pvpcbill/internal/billing"
	"github.com/azogue/pvpcbill/internal/consumption"
	"github.com/azogue/pvpcbill/internal/esios"
	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/model"
	"github.com/azogue/pvpcbill/internal/tariff"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// ErrNoPrices is returned when a request carries no prices and no price source is configured.
var ErrNoPrices = errors.New("service: no PVPC prices available")

// PriceSource resolves one hourly price per consumption instant.
type PriceSource interface {
	PricesFor(ctx context.Context, index []time.Time) ([]esios.HourlyPrice, error)
}

// Publisher receives every computed bill.
type Publisher interface {
	Publish(ctx context.Context, bill model.Bill) error
}

// Request is one bill to compute. Prices are optional and fetched from the
// price source when empty.
type Request struct {
	Contract    model.Contract
	Consumption timeseries.Series
	Prices      []esios.HourlyPrice
}

// Result is the outcome of one request of a batch.
type Result struct {
	Bill model.Bill
	Err  error
}

// BillService computes bills.
type BillService struct {
	source      PriceSource
	tables      *tariff.Tables
	publisher   Publisher
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a BillService.
type Option func(*BillService)

// WithPublisher publishes every successful bill.
func WithPublisher(p Publisher) Option {
	return func(s *BillService) { s.publisher = p }
}

// WithBatchConcurrency bounds the bills computed at once by ComputeBatch.
func WithBatchConcurrency(n int) Option {
	return func(s *BillService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewBillService builds the service. source and m may be nil.
func NewBillService(source PriceSource, tables *tariff.Tables, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *BillService {
	s := &BillService{
		source:      source,
		tables:      tables,
		concurrency: 4,
		logger:      logger,
		metrics:     m,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromCSV bills a distributor consumption file. The CUPS of the file replaces the
// contract's.
func (s *BillService) FromCSV(ctx context.Context, path string, contract model.Contract) (model.Bill, error) {
	curve, err := consumption.Load(path)
	if err != nil {
		return model.Bill{}, err
	}
	contract.CUPS = curve.CUPS
	return s.Compute(ctx, Request{Contract: contract, Consumption: curve.Series})
}

// Compute bills one request.
func (s *BillService) Compute(ctx context.Context, req Request) (model.Bill, error) {
	started := time.Now()
	bill, err := s.compute(ctx, req)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	s.metrics.ObserveBill(req.Contract.Tariff.Code(), result, time.Since(started))

	if err != nil {
		s.logger.Warn("bill computation failed",
			zap.String("cups", req.Contract.CUPS),
			zap.Int("hours", len(req.Consumption)),
			zap.Error(err),
		)
		return model.Bill{}, err
	}

	s.logger.Info("bill computed",
		zap.String("identifier", bill.Identifier()),
		zap.Int("billed_days", bill.BilledDays),
		zap.Float64("total", bill.Total),
	)
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, bill); err != nil {
			s.logger.Warn("bill not published", zap.String("identifier", bill.Identifier()), zap.Error(err))
		}
	}
	return bill, nil
}

func (s *BillService) compute(ctx context.Context, req Request) (model.Bill, error) {
	if err := req.Contract.Validate(); err != nil {
		return model.Bill{}, err
	}
	if len(req.Consumption) == 0 {
		return model.Bill{}, billing.ErrEmptySeries
	}
	if err := req.Consumption.Validate(); err != nil {
		return model.Bill{}, err
	}

	index := req.Consumption.Times()
	prices, err := s.prices(ctx, req.Prices, index)
	if err != nil {
		return model.Bill{}, err
	}
	energy, err := esios.EnergyTermSeries(prices, req.Contract.Tariff)
	if err != nil {
		return model.Bill{}, err
	}
	return billing.Evaluate(s.tables, req.Contract, req.Consumption, energy)
}

func (s *BillService) prices(ctx context.Context, given []esios.HourlyPrice, index []time.Time) ([]esios.HourlyPrice, error) {
	if len(given) > 0 {
		return esios.Reindex(given, index)
	}
	if s.source == nil {
		return nil, ErrNoPrices
	}
	prices, err := s.source.PricesFor(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("resolve prices: %w", err)
	}
	return prices, nil
}

// ComputeBatch bills independent requests concurrently. Results keep the order of
// reqs and one failure does not stop the others; only a cancelled context aborts
// the batch.
func (s *BillService) ComputeBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bill, err := s.Compute(gctx, req)
			results[i] = Result{Bill: bill, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
