package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pagescope/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ DatasetStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS metric_points (
	dataset TEXT    NOT NULL,
	ts      INTEGER NOT NULL,
	metric  TEXT    NOT NULL,
	value   REAL    NOT NULL,
	PRIMARY KEY (dataset, ts, metric)
);
CREATE INDEX IF NOT EXISTS idx_metric_points_dataset_ts ON metric_points (dataset, ts);
`

// SQLiteStore implements DatasetStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WriteDataset upserts the points of records in a single transaction.
func (s *SQLiteStore) WriteDataset(ctx context.Context, name string, records []domain.Record) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO metric_points (dataset, ts, metric, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range Flatten(records) {
		if _, err := stmt.ExecContext(ctx, name, p.Timestamp.UnixMilli(), string(p.Metric), p.Value); err != nil {
			return fmt.Errorf("writing dataset %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// LoadDataset reads all points of a dataset and pivots them into records.
func (s *SQLiteStore) LoadDataset(ctx context.Context, name string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, metric, value FROM metric_points WHERE dataset = ? ORDER BY ts, metric`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			ts     int64
			metric string
			value  float64
		)
		if err := rows.Scan(&ts, &metric, &value); err != nil {
			return nil, err
		}
		points = append(points, Point{
			Timestamp: time.UnixMilli(ts).UTC(),
			Metric:    domain.MetricKey(metric),
			Value:     value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	return Pivot(points), nil
}

// ListDatasets returns the distinct dataset names.
func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT dataset FROM metric_points ORDER BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
