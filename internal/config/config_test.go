package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagescope.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PAGESCOPE_DATA_DIR", "PAGESCOPE_SQLITE_PATH", "PAGESCOPE_STATE_PATH",
		"PAGESCOPE_HOST", "PAGESCOPE_HTTP_PORT", "PAGESCOPE_GRPC_PORT",
		"PAGESCOPE_LOG_LEVEL", "PAGESCOPE_LOG_FORMAT", "PAGESCOPE_LOG_FILE",
		"PAGESCOPE_DATASET", "PAGESCOPE_BACKEND", "PAGESCOPE_OG_BASE_URL",
		"APCA_API_KEY_ID", "APCA_API_SECRET_KEY", "APCA_API_DATA_URL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/pagescope/data"
  sqlite_path: "/tmp/pagescope/pagescope.db"
server:
  host: "0.0.0.0"
  port: 8081
  grpc_port: 0
alpaca:
  api_key: "test-key"
  symbols: ["AAPL", "MSFT"]
logging:
  level: "debug"
  format: "text"
  file: "/tmp/pagescope/server.log"
dataset:
  name: "weekly"
  backend: "sqlite"
  charts: ["clicks", "ctr"]
  frame_interval: 0s
viewport:
  max_zoom: 20
sync:
  gesture_sync_delay: 50ms
og:
  base_url: "https://www.example.com"
  workers: 8
  timeout: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/pagescope/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}

	// -- Server --
	if cfg.Server.HTTPAddr() != "0.0.0.0:8081" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr())
	}
	if cfg.Server.GRPCAddr() != "" {
		t.Errorf("GRPCAddr = %q, want disabled", cfg.Server.GRPCAddr())
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" || len(cfg.Alpaca.Symbols) != 2 {
		t.Errorf("Alpaca = %+v", cfg.Alpaca)
	}
	if cfg.Alpaca.Lookback() != 365*24*time.Hour {
		t.Errorf("Lookback = %v, want default", cfg.Alpaca.Lookback())
	}

	// -- Logging --
	opts := cfg.Logging.Options()
	if opts.Level != "debug" || opts.Format != "text" || opts.File != "/tmp/pagescope/server.log" {
		t.Errorf("Logging = %+v", opts)
	}

	// -- Dataset --
	if cfg.Dataset.Name != "weekly" || cfg.Dataset.Backend != BackendSQLite || cfg.Dataset.FrameInterval != 0 {
		t.Errorf("Dataset = %+v", cfg.Dataset)
	}
	if !cfg.Dataset.Watch {
		t.Error("Dataset.Watch lost its default")
	}

	// -- Viewport and sync: unset keys keep defaults --
	if cfg.Viewport.MaxZoom != 20 || cfg.Viewport.MinZoom != 0.1 || cfg.Viewport.ZoomStep != 0.2 {
		t.Errorf("Viewport = %+v", cfg.Viewport)
	}
	if cfg.Sync.GestureSyncDelay != 50*time.Millisecond || cfg.Sync.GestureConsumerDelay != 150*time.Millisecond {
		t.Errorf("Sync = %+v", cfg.Sync)
	}

	// -- OG --
	if cfg.OG.Workers != 8 || cfg.OG.Timeout != 5*time.Second || cfg.OG.Output != "og_metadata.json" {
		t.Errorf("OG = %+v", cfg.OG)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
storage:
  data_dir: "/original/data"
`)

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("PAGESCOPE_DATA_DIR", "/env/data")
	t.Setenv("PAGESCOPE_HTTP_PORT", "9000")
	t.Setenv("PAGESCOPE_BACKEND", "Alpaca")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want env override", cfg.Alpaca.APIKey)
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want from YAML", cfg.Alpaca.APISecret)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want env override", cfg.Storage.DataDir)
	}
	if cfg.Server.Port != 9000 || cfg.Dataset.Backend != BackendAlpaca {
		t.Errorf("Server.Port = %d, Dataset.Backend = %q", cfg.Server.Port, cfg.Dataset.Backend)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name, yaml, want string
	}{
		{"zoom bounds", "viewport:\n  min_zoom: 2\n", "viewport"},
		{"negative delay", "sync:\n  explicit_delay: -1ms\n", "sync"},
		{"backend", "dataset:\n  backend: csv\n", "unknown backend"},
		{"port", "server:\n  port: 70000\n", "ports"},
		{"og", "og:\n  workers: -1\n", "og"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAGESCOPE_DATASET", "fallback")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Dataset.Name != "fallback" || cfg.Server.Port != 8080 {
		t.Errorf("defaults = %+v", cfg)
	}
}
