package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pagescope/internal/broker"
	"pagescope/internal/util"
	"pagescope/internal/viewport"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for pagescope.
type Config struct {
	Storage  Storage         `yaml:"storage"`
	Server   Server          `yaml:"server"`
	Alpaca   Alpaca          `yaml:"alpaca"`
	Logging  Logging         `yaml:"logging"`
	Dataset  Dataset         `yaml:"dataset"`
	Viewport viewport.Config `yaml:"viewport"`
	Sync     broker.Config   `yaml:"sync"`
	OG       OG              `yaml:"og"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	StatePath  string `yaml:"state_path"` // last committed range; empty disables
}

// Server holds network listener configuration. A zero port disables that
// listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// HTTPAddr returns host:port for the HTTP listener, or "" when disabled.
func (s Server) HTTPAddr() string {
	if s.Port == 0 {
		return ""
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GRPCAddr returns host:port for the gRPC listener, or "" when disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.GRPCPort))
}

// Alpaca holds credentials and the symbols served by the Alpaca dataset
// backend.
type Alpaca struct {
	APIKey       string   `yaml:"api_key"`
	APISecret    string   `yaml:"api_secret"`
	DataURL      string   `yaml:"data_url"`
	Symbols      []string `yaml:"symbols"`
	LookbackDays int      `yaml:"lookback_days"`
}

// Lookback returns the bar history window.
func (a Alpaca) Lookback() time.Duration {
	return time.Duration(a.LookbackDays) * 24 * time.Hour
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Options converts the section for util.NewLogger.
func (l Logging) Options() util.LogOptions {
	return util.LogOptions{Level: l.Level, Format: l.Format, File: l.File}
}

// Dataset backends.
const (
	BackendParquet = "parquet"
	BackendSQLite  = "sqlite"
	BackendAlpaca  = "alpaca"
)

// Dataset selects the records the charts show.
type Dataset struct {
	Name          string        `yaml:"name"`
	Backend       string        `yaml:"backend"`
	Charts        []string      `yaml:"charts"`         // chart ids; defaults to one per metric
	Watch         bool          `yaml:"watch"`          // reload when the parquet file changes
	FrameInterval time.Duration `yaml:"frame_interval"` // redraw coalescing; 0 redraws immediately
}

// OG configures the Open Graph metadata fetcher.
type OG struct {
	BaseURL       string        `yaml:"base_url"`
	WeeklyDir     string        `yaml:"weekly_dir"`
	DashboardJSON string        `yaml:"dashboard_json"`
	Output        string        `yaml:"output"`
	Workers       int           `yaml:"workers"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	UserAgent     string        `yaml:"user_agent"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data"},
		Server:  Server{Host: "127.0.0.1", Port: 8080, GRPCPort: 9090},
		Alpaca:  Alpaca{LookbackDays: 365},
		Logging: Logging{Level: "info", Format: "json"},
		Dataset: Dataset{
			Name:          "search",
			Backend:       BackendParquet,
			Watch:         true,
			FrameInterval: 16 * time.Millisecond,
		},
		Viewport: viewport.DefaultConfig(),
		Sync:     broker.DefaultConfig(),
		OG: OG{
			WeeklyDir:     "Data/weekly_data_output/aggregated",
			DashboardJSON: "dashboard_data.json",
			Output:        "og_metadata.json",
			Workers:       16,
			Timeout:       15 * time.Second,
			Retries:       2,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// with environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	return cfg, err
}

// Validate checks the sections that have invariants.
func (c *Config) Validate() error {
	if err := c.Viewport.Validate(); err != nil {
		return fmt.Errorf("viewport: %w", err)
	}
	if c.Sync.GestureSyncDelay < 0 || c.Sync.GestureConsumerDelay < 0 || c.Sync.ExplicitDelay < 0 {
		return errors.New("sync: delays must not be negative")
	}
	switch c.Dataset.Backend {
	case BackendParquet, BackendSQLite, BackendAlpaca:
	default:
		return fmt.Errorf("dataset: unknown backend %q", c.Dataset.Backend)
	}
	if c.Dataset.FrameInterval < 0 {
		return errors.New("dataset: frame_interval must not be negative")
	}
	if !validPort(c.Server.Port) || !validPort(c.Server.GRPCPort) {
		return fmt.Errorf("server: ports must be in 0..65535")
	}
	if c.OG.Workers < 0 || c.OG.Retries < 0 || c.OG.RatePerMinute < 0 {
		return errors.New("og: workers, retries and rate_per_minute must not be negative")
	}
	return nil
}

func validPort(p int) bool {
	return p >= 0 && p <= 65535
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGESCOPE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("PAGESCOPE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PAGESCOPE_STATE_PATH"); v != "" {
		cfg.Storage.StatePath = v
	}

	if v := os.Getenv("PAGESCOPE_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, err := strconv.Atoi(os.Getenv("PAGESCOPE_HTTP_PORT")); err == nil {
		cfg.Server.Port = v
	}
	if v, err := strconv.Atoi(os.Getenv("PAGESCOPE_GRPC_PORT")); err == nil {
		cfg.Server.GRPCPort = v
	}

	if v := os.Getenv("PAGESCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAGESCOPE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PAGESCOPE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv("PAGESCOPE_DATASET"); v != "" {
		cfg.Dataset.Name = v
	}
	if v := os.Getenv("PAGESCOPE_BACKEND"); v != "" {
		cfg.Dataset.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("PAGESCOPE_OG_BASE_URL"); v != "" {
		cfg.OG.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
}
