package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"pagescope/internal/config"
	"pagescope/internal/store"
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

	name := flag.String("dataset", "", "dataset name (default: CSV file name without extension)")
	backend := flag.String("backend", cfg.Dataset.Backend, "target store: parquet or sqlite")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pagescope-import [-dataset NAME] [-backend parquet|sqlite] FILE.csv\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	path := flag.Arg(0)
	if *name == "" {
		*name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	cfg.Dataset.Backend = *backend

	logger := util.NewLogger(cfg.Logging.Options())

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	records, err := store.ReadCSV(f)
	if err != nil {
		log.Fatalf("reading %s: %v", path, err)
	}

	st, closer, err := store.OpenStore(cfg)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer closer.Close()

	if err := st.WriteDataset(context.Background(), *name, records); err != nil {
		log.Fatalf("writing dataset %s: %v", *name, err)
	}
	logger.Info("dataset imported", "dataset", *name, "backend", *backend, "records", len(records), "source", path)
}
