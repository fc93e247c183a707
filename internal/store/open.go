package store

import (
	"fmt"
	"io"
	"path/filepath"

	"pagescope/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SQLitePath returns the configured database path, defaulting to
// <data_dir>/pagescope.db.
func SQLitePath(cfg *config.Config) string {
	if cfg.Storage.SQLitePath != "" {
		return cfg.Storage.SQLitePath
	}
	return filepath.Join(cfg.Storage.DataDir, "pagescope.db")
}

// Open returns the dataset source selected by cfg.Dataset.Backend. The
// closer releases the source's resources and is never nil.
func Open(cfg *config.Config) (DatasetSource, io.Closer, error) {
	switch cfg.Dataset.Backend {
	case config.BackendParquet, "":
		return NewParquetStore(cfg.Storage.DataDir), nopCloser{}, nil
	case config.BackendSQLite:
		s, err := NewSQLiteStore(SQLitePath(cfg))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendAlpaca:
		a := cfg.Alpaca
		if a.APIKey == "" || a.APISecret == "" {
			return nil, nil, fmt.Errorf("alpaca backend needs APCA_API_KEY_ID and APCA_API_SECRET_KEY")
		}
		return NewAlpacaSource(a.APIKey, a.APISecret, a.DataURL, a.Symbols, a.Lookback()), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown dataset backend %q", cfg.Dataset.Backend)
	}
}

// OpenStore is Open restricted to the writable backends.
func OpenStore(cfg *config.Config) (DatasetStore, io.Closer, error) {
	src, closer, err := Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, ok := src.(DatasetStore)
	if !ok {
		closer.Close()
		return nil, nil, fmt.Errorf("dataset backend %q is read-only", cfg.Dataset.Backend)
	}
	return st, closer, nil
}
