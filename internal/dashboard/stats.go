// Package dashboard computes the summary metrics shown next to the charts:
// per-metric aggregates over the records inside the shared date range.
package dashboard

import (
	"math"
	"sort"

	"pagescope/internal/domain"
)

// MetricStats holds aggregated values for a single metric.
type MetricStats struct {
	Metric  domain.MetricKey `json:"metric"`
	Points  int              `json:"points"`
	Value   float64          `json:"value"` // sum for counts, mean for ratios
	Min     float64          `json:"min"`
	Max     float64          `json:"max"`
	First   float64          `json:"first"`
	Last    float64          `json:"last"`
	MaxRise float64          `json:"max_rise"` // largest relative rise from an earlier low to a later point
	MaxDrop float64          `json:"max_drop"` // largest relative drop from an earlier high to a later point
}

// Summary is the aggregate view of one date range.
type Summary struct {
	Range   domain.DateRange `json:"-"`
	Label   string           `json:"range"`
	Points  int              `json:"points"`
	Metrics []MetricStats    `json:"metrics"`
}

// Get returns the stats for a metric.
func (s Summary) Get(key domain.MetricKey) (MetricStats, bool) {
	for _, m := range s.Metrics {
		if m.Metric == key {
			return m, true
		}
	}
	return MetricStats{}, false
}

// averaged lists metrics that are ratios or ranks: summing them is
// meaningless, so they are averaged.
var averaged = map[domain.MetricKey]bool{
	domain.MetricCTR:      true,
	domain.MetricPosition: true,
}

// Aggregate computes the summary of the records inside r. Records must be
// sorted by timestamp.
func Aggregate(records []domain.Record, r domain.DateRange) Summary {
	in := domain.Filter(records, r)
	s := Summary{Range: r, Label: r.String(), Points: len(in)}

	for _, key := range domain.MetricKeys(in) {
		m := MetricStats{Metric: key, Min: math.MaxFloat64}
		minSeen := math.MaxFloat64
		maxSeen := -math.MaxFloat64
		sum := 0.0

		for i := range in {
			v, ok := in[i].Metrics[key]
			if !ok {
				continue
			}
			if m.Points == 0 {
				m.First = v
			}
			m.Points++
			m.Last = v
			sum += v
			if v < m.Min {
				m.Min = v
			}
			if v > m.Max {
				m.Max = v
			}

			// Rise: from the lowest value seen so far to now.
			if v < minSeen {
				minSeen = v
			}
			if minSeen > 0 {
				if g := (v - minSeen) / minSeen; g > m.MaxRise {
					m.MaxRise = g
				}
			}
			// Drop: from the highest value seen so far to now.
			if v > maxSeen {
				maxSeen = v
			}
			if maxSeen > 0 {
				if l := (maxSeen - v) / maxSeen; l > m.MaxDrop {
					m.MaxDrop = l
				}
			}
		}
		if m.Points == 0 {
			continue
		}
		if averaged[key] {
			m.Value = sum / float64(m.Points)
		} else {
			m.Value = sum
		}
		s.Metrics = append(s.Metrics, m)
	}

	// CTR over a range is total clicks over total impressions, not the mean
	// of daily ratios.
	clicks, okC := s.Get(domain.MetricClicks)
	impressions, okI := s.Get(domain.MetricImpressions)
	if okC && okI && impressions.Value > 0 {
		ctr := clicks.Value / impressions.Value
		if i := s.index(domain.MetricCTR); i >= 0 {
			s.Metrics[i].Value = ctr
		} else {
			s.Metrics = append(s.Metrics, MetricStats{
				Metric: domain.MetricCTR, Points: len(in), Value: ctr,
				Min: ctr, Max: ctr, First: ctr, Last: ctr,
			})
			sortMetrics(s.Metrics, SortByName)
		}
	}
	return s
}

func (s Summary) index(key domain.MetricKey) int {
	for i := range s.Metrics {
		if s.Metrics[i].Metric == key {
			return i
		}
	}
	return -1
}

// Sort orders for summary metrics.
const (
	SortByName    = 0 // metric name (default)
	SortByValue   = 1 // aggregate value, descending
	SortByRise    = 2 // max rise, descending
	SortByDrop    = 3 // max drop, descending
	SortModeCount = 4
)

// SortModeLabel returns a short label for the given sort mode.
func SortModeLabel(mode int) string {
	switch mode {
	case SortByName:
		return "NAME"
	case SortByValue:
		return "VALUE"
	case SortByRise:
		return "RISE"
	case SortByDrop:
		return "DROP"
	default:
		return "?"
	}
}

// Sorted returns a copy of the summary with metrics in the given order.
func (s Summary) Sorted(mode int) Summary {
	out := s
	out.Metrics = append([]MetricStats(nil), s.Metrics...)
	sortMetrics(out.Metrics, mode)
	return out
}

func sortMetrics(ms []MetricStats, mode int) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		switch mode {
		case SortByValue:
			if a.Value != b.Value {
				return a.Value > b.Value
			}
		case SortByRise:
			if a.MaxRise != b.MaxRise {
				return a.MaxRise > b.MaxRise
			}
		case SortByDrop:
			if a.MaxDrop != b.MaxDrop {
				return a.MaxDrop > b.MaxDrop
			}
		}
		return a.Metric < b.Metric
	})
}

// PreviousRange returns the range of equal length that ends the day before
// r starts. The zero range has no previous period.
func PreviousRange(r domain.DateRange) domain.DateRange {
	if r.IsZero() {
		return domain.DateRange{}
	}
	days := int(r.End.Sub(r.Start).Hours()/24 + 0.5)
	end := r.Start.AddDate(0, 0, -1)
	return domain.DateRange{Start: end.AddDate(0, 0, -days), End: end}
}

// Change is the relative difference between two aggregate values.
func Change(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / math.Abs(prev)
}
