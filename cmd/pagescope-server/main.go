package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pagescope/internal/api"
	"pagescope/internal/broker"
	"pagescope/internal/config"
	"pagescope/internal/dashboard"
	"pagescope/internal/domain"
	"pagescope/internal/httpapi"
	"pagescope/internal/store"
	"pagescope/internal/util"
	"pagescope/internal/viewport"
)

func main() {
	// A missing .env is fine; real environment variables still apply.
	_ = godotenv.Load()

	cfgPath := "config/pagescope.yaml"
	if p := os.Getenv("PAGESCOPE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Options())
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Dataset source.
	src, closer, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("opening dataset source: %v", err)
	}
	defer closer.Close()

	name := cfg.Dataset.Name
	records, err := src.LoadDataset(ctx, name)
	switch {
	case errors.Is(err, store.ErrDatasetNotFound):
		logger.Warn("dataset not found, starting empty", "dataset", name)
	case err != nil:
		log.Fatalf("loading dataset %s: %v", name, err)
	}

	// Shared range broker and chart viewports.
	b := broker.New(cfg.Sync,
		broker.WithLogger(logger),
		broker.WithStatePath(cfg.Storage.StatePath),
		broker.WithDisplay(func(text string) { logger.Debug("range display", "text", text) }),
	)
	defer b.Close()

	recs := httpapi.NewRecorders()
	opts := []viewport.Option{
		viewport.WithLogger(logger),
		viewport.WithSink(b),
		viewport.WithDelegateFactory(recs.Factory),
	}
	if cfg.Dataset.FrameInterval > 0 {
		opts = append(opts, viewport.WithFrames(viewport.NewTimerFrames(cfg.Dataset.FrameInterval)))
	}
	charts := viewport.NewRegistry(cfg.Viewport, opts...)
	b.SetFollower(charts)
	for _, id := range chartIDs(cfg, records) {
		charts.GetOrCreate(id)
	}
	charts.SetDatasetAll(records)
	charts.ApplyExternalRange(b.CommittedRange(), "")

	summary := dashboard.NewConsumer(b, records, logger)
	defer summary.Close()

	// HTTP and gRPC surfaces.
	httpSrv := httpapi.NewServer(b, charts, summary, recs, logger)
	httpSrv.SetSource(src, name)
	ranges := api.NewRangeService(b, logger)
	srv := api.NewServer(cfg.Server.HTTPAddr(), cfg.Server.GRPCAddr(), httpSrv.Handler(), ranges, logger)

	// Reload when the parquet file is rewritten.
	if ps, ok := src.(*store.ParquetStore); ok && cfg.Dataset.Watch {
		w, err := store.NewWatcher(ps.DatasetPath(name), name, ps, httpSrv.LoadDataset,
			store.WithWatchLogger(logger),
			store.WithOnError(func(err error) { logger.Warn("dataset reload failed", "error", err) }),
		)
		if err != nil {
			log.Fatalf("creating watcher: %v", err)
		}
		if err := w.Start(); err != nil {
			logger.Warn("dataset watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	logger.Info("pagescope-server starting",
		"http", cfg.Server.HTTPAddr(),
		"grpc", cfg.Server.GRPCAddr(),
		"dataset", name,
		"backend", cfg.Dataset.Backend,
		"points", len(records),
		"charts", charts.IDs(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("pagescope-server stopped", slog.String("range", b.CommittedRange().String()))
}

// chartIDs returns the configured chart ids, or one chart per metric in the
// dataset.
func chartIDs(cfg *config.Config, records []domain.Record) []string {
	if len(cfg.Dataset.Charts) > 0 {
		return cfg.Dataset.Charts
	}
	var ids []string
	for _, k := range domain.MetricKeys(records) {
		ids = append(ids, string(k))
	}
	if len(ids) == 0 {
		ids = []string{string(domain.MetricClicks)}
	}
	return ids
}
