// Package store persists and loads metric datasets. A dataset is a named,
// time-ordered series of domain.Record values.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"pagescope/internal/domain"
)

// Common errors.
var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrInvalidName     = errors.New("invalid dataset name")
)

// DatasetSource loads datasets by name.
type DatasetSource interface {
	// LoadDataset returns the records of a dataset sorted by timestamp.
	LoadDataset(ctx context.Context, name string) ([]domain.Record, error)

	// ListDatasets returns the sorted names of all available datasets.
	ListDatasets(ctx context.Context) ([]string, error)
}

// DatasetStore is a DatasetSource that can also persist datasets.
type DatasetStore interface {
	DatasetSource

	// WriteDataset merges records into the named dataset. Incoming values
	// replace stored values with the same timestamp and metric.
	WriteDataset(ctx context.Context, name string, records []domain.Record) error
}

// Point is one metric value at one timestamp: the long-format row both
// stores persist.
type Point struct {
	Timestamp time.Time
	Metric    domain.MetricKey
	Value     float64
}

// Flatten converts records into points ordered by timestamp then metric.
func Flatten(records []domain.Record) []Point {
	var points []Point
	for i := range records {
		keys := make([]string, 0, len(records[i].Metrics))
		for k := range records[i].Metrics {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := domain.MetricKey(k)
			points = append(points, Point{
				Timestamp: records[i].Timestamp,
				Metric:    key,
				Value:     records[i].Metrics[key],
			})
		}
	}
	return points
}

// Pivot groups points by timestamp into records sorted ascending.
func Pivot(points []Point) []domain.Record {
	byTime := make(map[int64]int)
	var records []domain.Record
	for _, p := range points {
		ms := p.Timestamp.UnixMilli()
		i, ok := byTime[ms]
		if !ok {
			i = len(records)
			byTime[ms] = i
			records = append(records, domain.Record{
				Timestamp: p.Timestamp,
				Metrics:   make(map[domain.MetricKey]float64),
			})
		}
		records[i].Metrics[p.Metric] = p.Value
	}
	domain.SortRecords(records)
	return records
}

// ValidateName rejects names that could escape the data directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
