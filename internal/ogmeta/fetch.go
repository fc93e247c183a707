package ogmeta

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pagescope/internal/util"
)

// Fetch defaults.
const (
	DefaultWorkers    = 16
	DefaultTimeout    = 15 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultUserAgent  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

	maxBodyBytes = 4 << 20
)

// Item is the metadata of one page. Empty fields were not found.
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Image string `json:"image"`
}

// Empty reports whether neither title nor image is known.
func (it Item) Empty() bool {
	return it.Title == "" && it.Image == ""
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Workers       int
	Timeout       time.Duration
	Retries       int
	RetryDelay    time.Duration
	RatePerMinute int
	UserAgent     string
}

// Fetcher downloads pages concurrently and extracts their metadata.
type Fetcher struct {
	client     *http.Client
	workers    int
	retries    int
	retryDelay time.Duration
	userAgent  string
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewFetcher creates a Fetcher. Zero config fields take the defaults.
func NewFetcher(cfg FetcherConfig, log *slog.Logger) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:     &http.Client{Timeout: cfg.Timeout},
		workers:    cfg.Workers,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		userAgent:  cfg.UserAgent,
		limiter:    util.NewRateLimiter(cfg.RatePerMinute, cfg.Workers),
		log:        log,
	}
}

// FetchAll fetches every URL with at most Workers requests in flight.
// Results keep the order of urls; failed pages yield empty items. progress,
// when set, is called after each page.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, progress func(done, total int)) ([]Item, error) {
	items := make([]Item, len(urls))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			item, err := f.Fetch(gctx, u)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.log.Warn("fetching OG metadata", "url", u, "error", err)
			}
			items[i] = item
			if progress != nil {
				progress(int(done.Add(1)), len(urls))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	return items, nil
}

// Fetch downloads one page and extracts its metadata. Server errors and
// throttling are retried; other client errors are not. The returned item
// always carries the URL.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (Item, error) {
	item := Item{URL: pageURL}
	var body []byte
	err := util.Retry(ctx, f.retries+1, f.retryDelay, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		b, err := f.get(ctx, pageURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return item, err
	}
	item.Title, item.Image = Extract(body, pageURL)
	return item, nil
}

func (f *Fetcher) get(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	// Set explicitly, so the transport leaves decompression to us.
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		err := fmt.Errorf("GET %s: %s", pageURL, resp.Status)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, util.Permanent(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip") {
		data = gunzip(data)
	}
	return data, nil
}

// gunzip decompresses data, returning it unchanged when it is not valid
// gzip.
func gunzip(data []byte) []byte {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return data
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, maxBodyBytes))
	if err != nil {
		return data
	}
	return out
}
