package ogmeta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoURLs is returned when no source yields a URL.
var ErrNoURLs = errors.New("no URLs discovered from data sources")

// Options selects URL sources and output for Run.
type Options struct {
	Source        string // SourceAuto, SourceWeekly or SourceDashboard
	WeeklyDir     string
	BaseURL       string
	DashboardJSON string
	Output        string
	Limit         int // 0 means no limit
	Overwrite     bool
}

// Report summarizes a Run.
type Report struct {
	Discovered int
	Fetched    int
	Written    int
	Elapsed    time.Duration
}

// Discover collects URLs from the configured source. SourceAuto prefers the
// weekly exports and falls back to the dashboard JSON.
func Discover(opts Options, log *slog.Logger) ([]string, error) {
	skip := func(path string, err error) {
		log.Warn("skipping weekly export", "path", path, "error", err)
	}
	var (
		urls []string
		err  error
	)
	switch opts.Source {
	case SourceWeekly:
		urls, err = CollectWeekly(opts.WeeklyDir, opts.BaseURL, skip)
	case SourceDashboard:
		urls, err = CollectDashboard(opts.DashboardJSON)
	case SourceAuto, "":
		urls, err = CollectWeekly(opts.WeeklyDir, opts.BaseURL, skip)
		if err == nil && len(urls) == 0 {
			urls, err = CollectDashboard(opts.DashboardJSON)
		}
	default:
		return nil, fmt.Errorf("unknown URL source %q", opts.Source)
	}
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	if opts.Limit > 0 && len(urls) > opts.Limit {
		urls = urls[:opts.Limit]
	}
	return urls, nil
}

// Run discovers URLs, fetches the ones not yet known (all of them with
// Overwrite) and writes the merged output.
func Run(ctx context.Context, f *Fetcher, opts Options, log *slog.Logger) (Report, error) {
	start := time.Now()
	urls, err := Discover(opts, log)
	if err != nil {
		return Report{}, err
	}
	log.Info("discovered URLs", "count", len(urls))

	existing := map[string]Item{}
	if !opts.Overwrite {
		existing, err = LoadExisting(opts.Output)
		if err != nil {
			log.Warn("ignoring unreadable output", "path", opts.Output, "error", err)
			existing = map[string]Item{}
		} else if len(existing) > 0 {
			log.Info("loaded existing entries", "count", len(existing), "path", opts.Output)
		}
	}

	todo := Pending(urls, existing, opts.Overwrite)
	fetched, err := f.FetchAll(ctx, todo, func(done, total int) {
		if done%25 == 0 {
			log.Info("fetch progress", "done", done, "total", total)
		}
	})
	if err != nil {
		return Report{}, err
	}

	items := Merge(existing, fetched)
	if err := WriteOutput(opts.Output, items); err != nil {
		return Report{}, fmt.Errorf("writing %s: %w", opts.Output, err)
	}
	rep := Report{
		Discovered: len(urls),
		Fetched:    len(todo),
		Written:    len(items),
		Elapsed:    time.Since(start),
	}
	log.Info("wrote OG metadata", "entries", rep.Written, "path", opts.Output, "elapsed", rep.Elapsed)
	return rep, nil
}
