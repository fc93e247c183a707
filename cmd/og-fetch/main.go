package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pagescope/internal/config"
	"pagescope/internal/ogmeta"
	"pagescope/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "config/pagescope.yaml"
	if p := os.Getenv("PAGESCOPE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	og := cfg.OG

	source := flag.String("source", ogmeta.SourceAuto, "URL source: auto, weekly or dashboard")
	weeklyDir := flag.String("weekly-dir", og.WeeklyDir, "directory of per-page weekly CSV exports")
	baseURL := flag.String("base-url", og.BaseURL, "site origin used to rebuild URLs from export file names")
	dashboardJSON := flag.String("dashboard-json", og.DashboardJSON, "dashboard JSON with a url_data map")
	output := flag.String("output", og.Output, "output JSON file")
	limit := flag.Int("limit", 0, "fetch at most N URLs (0 = all)")
	overwrite := flag.Bool("overwrite", false, "refetch URLs already present in the output")
	workers := flag.Int("workers", og.Workers, "concurrent requests")
	timeout := flag.Duration("timeout", og.Timeout, "per-request timeout")
	retries := flag.Int("retries", og.Retries, "retries per URL on network errors and 5xx/429")
	rate := flag.Int("rate", og.RatePerMinute, "max requests per minute (0 = unlimited)")
	flag.Parse()

	logger := util.NewLogger(cfg.Logging.Options())
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	f := ogmeta.NewFetcher(ogmeta.FetcherConfig{
		Workers:       *workers,
		Timeout:       *timeout,
		Retries:       *retries,
		RatePerMinute: *rate,
		UserAgent:     og.UserAgent,
	}, logger)

	rep, err := ogmeta.Run(ctx, f, ogmeta.Options{
		Source:        *source,
		WeeklyDir:     *weeklyDir,
		BaseURL:       *baseURL,
		DashboardJSON: *dashboardJSON,
		Output:        *output,
		Limit:         *limit,
		Overwrite:     *overwrite,
	}, logger)
	if errors.Is(err, ogmeta.ErrNoURLs) {
		fmt.Fprintln(os.Stderr, "No URLs discovered from data sources; nothing to do.")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("og-fetch: %v", err)
	}
	fmt.Printf("Wrote %d entries to %s (%d fetched, %s)\n", rep.Written, *output, rep.Fetched, rep.Elapsed.Round(time.Millisecond))
}
