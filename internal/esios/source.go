package esios

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/azogue/pvpcbill/internal/metrics"
	"github.com/azogue/pvpcbill/internal/timeseries"
)

// Downloader fetches prices for a time range.
type Downloader interface {
	DownloadRange(ctx context.Context, start, end time.Time) ([]HourlyPrice, error)
}

// Source serves prices for a consumption index, from the store when it already
// holds every hour and from ESIOS otherwise.
type Source struct {
	downloader Downloader
	store      *Store
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewSource builds a price source. store and m may be nil.
func NewSource(downloader Downloader, store *Store, logger *zap.Logger, m *metrics.Metrics) *Source {
	return &Source{
		downloader: downloader,
		store:      store,
		logger:     logger,
		metrics:    m,
	}
}

// PricesFor returns one price per instant of index, in the same order.
func (s *Source) PricesFor(ctx context.Context, index []time.Time) ([]HourlyPrice, error) {
	if len(index) == 0 {
		return nil, fmt.Errorf("%w: empty index", timeseries.ErrInputAlignment)
	}

	if s.store != nil {
		stored, err := s.store.Load()
		if err != nil {
			s.logger.Warn("ignoring unreadable price store", zap.String("path", s.store.Path()), zap.Error(err))
		} else if prices, err := Reindex(stored, index); err == nil {
			s.metrics.IncPriceLookup(metrics.SourceStore, metrics.ResultSuccess)
			s.logger.Debug("prices served from store", zap.Int("hours", len(prices)))
			return prices, nil
		}
	}

	start, end := index[0], index[len(index)-1]
	downloaded, err := s.downloader.DownloadRange(ctx, start, end)
	if err != nil {
		s.metrics.IncPriceLookup(metrics.SourceDownload, metrics.ResultError)
		return nil, fmt.Errorf("download PVPC prices: %w", err)
	}
	prices, err := Reindex(downloaded, index)
	if err != nil {
		s.metrics.IncPriceLookup(metrics.SourceDownload, metrics.ResultError)
		return nil, err
	}
	s.metrics.IncPriceLookup(metrics.SourceDownload, metrics.ResultSuccess)

	if s.store != nil {
		if err := s.store.Upsert(downloaded); err != nil {
			s.logger.Warn("failed to update price store", zap.String("path", s.store.Path()), zap.Error(err))
		} else {
			s.logger.Info("price store updated",
				zap.String("path", s.store.Path()),
				zap.Int("hours", len(downloaded)),
			)
		}
	}
	return prices, nil
}
