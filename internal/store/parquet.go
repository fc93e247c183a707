package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"pagescope/internal/domain"
)

// Compile-time interface check.
var _ DatasetStore = (*ParquetStore)(nil)

// ParquetStore implements DatasetStore using one Parquet file per dataset.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// PointRecord is the Parquet schema for metric points.
type PointRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Metric    string  `parquet:"metric,dict"`
	Value     float64 `parquet:"value"`
}

// WriteDataset merges records into <DataDir>/datasets/<name>.parquet.
func (s *ParquetStore) WriteDataset(_ context.Context, name string, records []domain.Record) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	incoming := make([]PointRecord, 0, len(records))
	for _, p := range Flatten(records) {
		incoming = append(incoming, PointRecord{
			Timestamp: p.Timestamp.UnixMilli(),
			Metric:    string(p.Metric),
			Value:     p.Value,
		})
	}

	path := s.datasetPath(name)
	existing, _ := readParquetFile[PointRecord](path)
	merged := mergePointRecords(existing, incoming)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing dataset %s: %w", name, err)
	}
	return nil
}

// LoadDataset reads a dataset and pivots it into records.
func (s *ParquetStore) LoadDataset(_ context.Context, name string) ([]domain.Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := s.datasetPath(name)
	rows, err := readParquetFile[PointRecord](path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	points := make([]Point, len(rows))
	for i, r := range rows {
		points[i] = Point{
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Metric:    domain.MetricKey(r.Metric),
			Value:     r.Value,
		}
	}
	return Pivot(points), nil
}

// ListDatasets lists the datasets under <DataDir>/datasets.
func (s *ParquetStore) ListDatasets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "datasets"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".parquet"))
	}
	sort.Strings(names)
	return names, nil
}

// DatasetPath returns the file backing a dataset. The file watcher uses it.
func (s *ParquetStore) DatasetPath(name string) string {
	return s.datasetPath(name)
}

// datasetPath returns the filesystem path for a dataset Parquet file.
// Layout: <dataDir>/datasets/<name>.parquet
func (s *ParquetStore) datasetPath(name string) string {
	return filepath.Join(s.DataDir, "datasets", name+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Write to a temp file and rename so watchers never see a partial file.
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergePointRecords deduplicates points by (timestamp, metric), preferring
// new records over existing ones. Results are sorted by timestamp then
// metric.
func mergePointRecords(existing, incoming []PointRecord) []PointRecord {
	type key struct {
		ts     int64
		metric string
	}
	seen := make(map[key]PointRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Timestamp, r.Metric}] = r
	}
	for _, r := range incoming {
		seen[key{r.Timestamp, r.Metric}] = r
	}

	merged := make([]PointRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Metric < merged[j].Metric
	})
	return merged
}
