package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pagescope/internal/domain"
)

// ErrBadCSV is returned for CSV input without a date column.
var ErrBadCSV = errors.New("malformed metrics CSV")

// dateColumns are accepted names for the timestamp column.
var dateColumns = map[string]bool{"date": true, "day": true, "timestamp": true}

// ReadCSV parses daily metrics: a header row with a date column followed by
// one column per metric. Empty cells are absent values; percent signs are
// stripped so exported CTR columns parse as ratios.
func ReadCSV(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadCSV, err)
	}
	dateCol := -1
	keys := make([]domain.MetricKey, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if dateColumns[name] && dateCol < 0 {
			dateCol = i
			continue
		}
		keys[i] = domain.MetricKey(name)
	}
	if dateCol < 0 {
		return nil, fmt.Errorf("%w: no date column in %v", ErrBadCSV, header)
	}

	var records []domain.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadCSV, line, err)
		}
		if dateCol >= len(row) || strings.TrimSpace(row[dateCol]) == "" {
			continue
		}
		ts, err := time.Parse(domain.DateLayout, strings.TrimSpace(row[dateCol]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadCSV, line, err)
		}

		rec := domain.Record{Timestamp: ts, Metrics: make(map[domain.MetricKey]float64)}
		for i, cell := range row {
			if i == dateCol || i >= len(keys) || keys[i] == "" {
				continue
			}
			v, ok := parseCell(cell)
			if !ok {
				continue
			}
			rec.Metrics[keys[i]] = v
		}
		records = append(records, rec)
	}
	domain.SortRecords(records)
	return records, nil
}

func parseCell(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0, false
	}
	percent := strings.HasSuffix(cell, "%")
	cell = strings.ReplaceAll(strings.TrimSuffix(cell, "%"), ",", "")
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		v /= 100
	}
	return v, true
}
