// Package domain defines the core value types shared across pagescope:
// time-stamped metric records, the explicit absent-value marker used by
// day-granular views, and the shared date range.
package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MetricKey names a single metric column of a dataset.
type MetricKey string

// Well-known search performance metrics.
const (
	MetricClicks      MetricKey = "clicks"
	MetricImpressions MetricKey = "impressions"
	MetricCTR         MetricKey = "ctr"
	MetricPosition    MetricKey = "position"
)

// DateLayout is the canonical date format used in labels, files and APIs.
const DateLayout = "2006-01-02"

// ErrInvalidRange is returned by ParseDateRange for malformed or inverted
// bounds. Callers that filter data treat it as "no filter".
var ErrInvalidRange = errors.New("invalid date range")

// Record is one time-stamped row of a dataset.
type Record struct {
	Timestamp time.Time
	Metrics   map[MetricKey]float64
}

// Value is a metric value that may be absent. Absent values are distinct
// from zero so that line renderers do not bridge across missing days.
type Value struct {
	Number float64
	Valid  bool
}

// Absent is the explicit marker for a missing value.
var Absent = Value{}

// Present wraps a number as a valid Value.
func Present(v float64) Value {
	return Value{Number: v, Valid: true}
}

// Series is one metric column of a visible slice.
type Series struct {
	Metric MetricKey
	Values []Value
}

// DateRange is an inclusive [Start, End] range. The zero value means "no
// filter": every record is in range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether r is the "no filter" range.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Valid reports whether both bounds are set and Start <= End.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.Start.After(r.End)
}

// Normalize coerces an invalid range to the zero range.
func (r DateRange) Normalize() DateRange {
	if !r.Valid() {
		return DateRange{}
	}
	return r
}

// Equal reports whether two ranges have the same bounds.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// Contains reports whether t falls inside r. The zero range contains all
// times.
func (r DateRange) Contains(t time.Time) bool {
	if r.IsZero() {
		return true
	}
	return !t.Before(r.Start) && !t.After(r.End)
}

// String renders the range for display, e.g. "2024-01-01 – 2024-01-31".
func (r DateRange) String() string {
	if r.IsZero() {
		return "All time"
	}
	return fmt.Sprintf("%s – %s", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}

// ParseDateRange parses two YYYY-MM-DD bounds. Empty bounds on both sides
// yield the zero range.
func ParseDateRange(start, end string) (DateRange, error) {
	if start == "" && end == "" {
		return DateRange{}, nil
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start %q", ErrInvalidRange, start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end %q", ErrInvalidRange, end)
	}
	r := DateRange{Start: s, End: e}
	if !r.Valid() {
		return DateRange{}, fmt.Errorf("%w: start after end", ErrInvalidRange)
	}
	return r, nil
}

// Filter returns the records inside r. The input must be sorted.
func Filter(records []Record, r DateRange) []Record {
	if r.IsZero() {
		return records
	}
	lo := sort.Search(len(records), func(i int) bool {
		return !records[i].Timestamp.Before(r.Start)
	})
	hi := sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp.After(r.End)
	})
	if hi <= lo {
		return nil
	}
	return records[lo:hi]
}

// MetricKeys returns the sorted union of metric keys present in records.
func MetricKeys(records []Record) []MetricKey {
	seen := make(map[MetricKey]bool)
	for i := range records {
		for k := range records[i].Metrics {
			seen[k] = true
		}
	}
	keys := make([]MetricKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SortRecords sorts records ascending by timestamp, keeping the original
// order of equal timestamps.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
