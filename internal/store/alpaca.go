package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"pagescope/internal/domain"
)

// Metric keys produced by AlpacaSource.
const (
	MetricOpen   domain.MetricKey = "open"
	MetricHigh   domain.MetricKey = "high"
	MetricLow    domain.MetricKey = "low"
	MetricClose  domain.MetricKey = "close"
	MetricVolume domain.MetricKey = "volume"
)

// Compile-time interface check.
var _ DatasetSource = (*AlpacaSource)(nil)

// barsClient is the part of the market-data client AlpacaSource uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaSource serves daily bars from the Alpaca market-data API as
// datasets named by symbol.
type AlpacaSource struct {
	client   barsClient
	symbols  []string
	lookback time.Duration
	feed     marketdata.Feed
	now      func() time.Time
}

// NewAlpacaSource creates an AlpacaSource for the given symbols. lookback
// bounds how much history LoadDataset fetches.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, symbols []string, lookback time.Duration) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaSource(marketdata.NewClient(opts), symbols, lookback)
}

func newAlpacaSource(client barsClient, symbols []string, lookback time.Duration) *AlpacaSource {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	sort.Strings(upper)
	if lookback <= 0 {
		lookback = 365 * 24 * time.Hour
	}
	return &AlpacaSource{
		client:   client,
		symbols:  upper,
		lookback: lookback,
		feed:     marketdata.IEX,
		now:      time.Now,
	}
}

// LoadDataset fetches daily bars for the symbol named by name.
func (a *AlpacaSource) LoadDataset(ctx context.Context, name string) ([]domain.Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	symbol := strings.ToUpper(name)
	if !a.known(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}

	end := a.now()
	bars, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     end.Add(-a.lookback),
		End:       end,
		Feed:      a.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return barsToRecords(bars), nil
}

// ListDatasets returns the configured symbols.
func (a *AlpacaSource) ListDatasets(context.Context) ([]string, error) {
	return append([]string(nil), a.symbols...), nil
}

func (a *AlpacaSource) known(symbol string) bool {
	i := sort.SearchStrings(a.symbols, symbol)
	return i < len(a.symbols) && a.symbols[i] == symbol
}

func barsToRecords(bars []marketdata.Bar) []domain.Record {
	records := make([]domain.Record, 0, len(bars))
	for _, b := range bars {
		records = append(records, domain.Record{
			Timestamp: b.Timestamp.UTC(),
			Metrics: map[domain.MetricKey]float64{
				MetricOpen:   b.Open,
				MetricHigh:   b.High,
				MetricLow:    b.Low,
				MetricClose:  b.Close,
				MetricVolume: float64(b.Volume),
			},
		})
	}
	domain.SortRecords(records)
	return records
}
