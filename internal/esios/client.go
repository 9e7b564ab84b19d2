package esios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/azogue/pvpcbill/internal/tariff"
)

const (
	DefaultBaseURL = "https://api.esios.ree.es"
	archivePath    = "/archives/70/download_json"

	archiveDateLayout = "02/01/2006"
	queryDateLayout   = "2006-01-02"
)

var (
	// ErrUnavailable is returned when ESIOS has no prices for a day, usually because
	// they are not published yet.
	ErrUnavailable = errors.New("esios: prices unavailable")
	// ErrBadResponse is returned for payloads that cannot be parsed.
	ErrBadResponse = errors.New("esios: bad response")
)

type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxRetries        uint64
	RetryInterval     time.Duration
	Concurrency       int
}

// Client downloads the daily PVPC archive of ESIOS.
type Client struct {
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
	concurrency   int
	logger        *zap.Logger
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          &http.Client{Timeout: cfg.Timeout},
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		concurrency:   cfg.Concurrency,
		logger:        logger,
	}
}

// DownloadRange downloads every local day touched by [start, end] and returns the
// prices inside the range, sorted.
func (c *Client) DownloadRange(ctx context.Context, start, end time.Time) ([]HourlyPrice, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("esios: range ends before it starts")
	}
	days := localDays(start, end)
	results := make([][]HourlyPrice, len(days))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)
	for i, day := range days {
		eg.Go(func() error {
			prices, err := c.DownloadDay(egCtx, day)
			if err != nil {
				return fmt.Errorf("day %s: %w", day.Format(queryDateLayout), err)
			}
			results[i] = prices
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []HourlyPrice
	for _, prices := range results {
		for _, p := range prices {
			if !p.Time.Before(start) && !p.Time.After(end) {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	c.logger.Debug("downloaded PVPC prices",
		zap.Int("days", len(days)),
		zap.Int("hours", len(out)),
	)
	return out, nil
}

// DownloadDay downloads the prices of one local day. Server errors and timeouts are
// retried with exponential backoff; client errors are not.
func (c *Client) DownloadDay(ctx context.Context, day time.Time) ([]HourlyPrice, error) {
	day = startOfDay(day)

	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := c.fetch(ctx, day)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		policy.InitialInterval = c.retryInterval
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying PVPC download",
			zap.String("day", day.Format(queryDateLayout)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx),
		notify,
	)
	if err != nil {
		return nil, err
	}
	return parseArchive(body, day)
}

func (c *Client) fetch(ctx context.Context, day time.Time) ([]byte, error) {
	q := url.Values{}
	q.Set("locale", "es")
	q.Set("date", day.Format(queryDateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+archivePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrUnavailable, day.Format(queryDateLayout)))
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, backoff.Permanent(fmt.Errorf("esios: status %d: %s", resp.StatusCode, truncate(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("esios: status %d: %s", resp.StatusCode, truncate(body))
	}
	return body, nil
}

type archive struct {
	PVPC []archiveRow `json:"PVPC"`
}

type archiveRow struct {
	Day    string `json:"Dia"`
	Hour   string `json:"Hora"`
	GEN    string `json:"GEN"`
	NOC    string `json:"NOC"`
	VHC    string `json:"VHC"`
	TEUGEN string `json:"TEUGEN"`
	TEUNOC string `json:"TEUNOC"`
	TEUVHC string `json:"TEUVHC"`
}

// parseArchive reads the rows of one day in publication order; the i-th row is the
// hour starting i elapsed hours after local midnight, so DST days map one row to one
// instant.
func parseArchive(body []byte, day time.Time) ([]HourlyPrice, error) {
	var doc archive
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(doc.PVPC) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, day.Format(queryDateLayout))
	}
	if n := len(doc.PVPC); n < 23 || n > 25 {
		return nil, fmt.Errorf("%w: %d hourly rows", ErrBadResponse, n)
	}

	out := make([]HourlyPrice, len(doc.PVPC))
	for i, row := range doc.PVPC {
		if row.Day != day.Format(archiveDateLayout) {
			return nil, fmt.Errorf("%w: row for %q in the archive of %s", ErrBadResponse, row.Day, day.Format(queryDateLayout))
		}
		p := HourlyPrice{Time: day.Add(time.Duration(i) * time.Hour)}
		fields := []struct {
			dst *float64
			raw string
		}{
			{&p.GEN, row.GEN}, {&p.NOC, row.NOC}, {&p.VHC, row.VHC},
			{&p.TEUGEN, row.TEUGEN}, {&p.TEUNOC, row.TEUNOC}, {&p.TEUVHC, row.TEUVHC},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.ReplaceAll(f.raw, ",", "."), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: hour %s: value %q", ErrBadResponse, row.Hour, f.raw)
			}
			*f.dst = v
		}
		out[i] = p
	}
	return out, nil
}

func startOfDay(t time.Time) time.Time {
	local := t.In(tariff.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tariff.Location)
}

func localDays(start, end time.Time) []time.Time {
	var days []time.Time
	last := startOfDay(end)
	for d := startOfDay(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
