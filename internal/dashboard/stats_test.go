package dashboard

import (
	"math"
	"testing"
	"time"

	"pagescope/internal/broker"
	"pagescope/internal/domain"
	"pagescope/internal/util"
)

func sampleRecords() []domain.Record {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clicks := []float64{10, 20, 5, 40}
	impressions := []float64{100, 200, 100, 400}
	positions := []float64{4, 6, 8, 2}
	records := make([]domain.Record, len(clicks))
	for i := range clicks {
		records[i] = domain.Record{
			Timestamp: start.AddDate(0, 0, i),
			Metrics: map[domain.MetricKey]float64{
				domain.MetricClicks:      clicks[i],
				domain.MetricImpressions: impressions[i],
				domain.MetricCTR:         clicks[i] / impressions[i],
				domain.MetricPosition:    positions[i],
			},
		}
	}
	return records
}

func TestAggregate(t *testing.T) {
	s := Aggregate(sampleRecords(), domain.DateRange{})

	if s.Points != 4 || s.Label != "All time" {
		t.Fatalf("summary header = %d points, %q", s.Points, s.Label)
	}

	tests := []struct {
		key  domain.MetricKey
		want float64
	}{
		{domain.MetricClicks, 75},
		{domain.MetricImpressions, 800},
		{domain.MetricCTR, 75.0 / 800},
		{domain.MetricPosition, 5},
	}
	for _, tt := range tests {
		m, ok := s.Get(tt.key)
		if !ok {
			t.Errorf("%s missing", tt.key)
			continue
		}
		if math.Abs(m.Value-tt.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", tt.key, m.Value, tt.want)
		}
	}

	clicks, _ := s.Get(domain.MetricClicks)
	if clicks.First != 10 || clicks.Last != 40 || clicks.Min != 5 || clicks.Max != 40 {
		t.Errorf("clicks stats = %+v", clicks)
	}
	if clicks.MaxRise != 7 { // 5 -> 40
		t.Errorf("MaxRise = %v, want 7", clicks.MaxRise)
	}
	if clicks.MaxDrop != 0.75 { // 20 -> 5
		t.Errorf("MaxDrop = %v, want 0.75", clicks.MaxDrop)
	}
}

func TestAggregateFiltersRange(t *testing.T) {
	records := sampleRecords()
	r := domain.DateRange{Start: records[1].Timestamp, End: records[2].Timestamp}

	s := Aggregate(records, r)
	if s.Points != 2 {
		t.Fatalf("Points = %d, want 2", s.Points)
	}
	if m, _ := s.Get(domain.MetricClicks); m.Value != 25 {
		t.Errorf("clicks = %v, want 25", m.Value)
	}

	empty := Aggregate(records, domain.DateRange{Start: records[3].Timestamp.AddDate(0, 1, 0), End: records[3].Timestamp.AddDate(0, 2, 0)})
	if empty.Points != 0 || len(empty.Metrics) != 0 {
		t.Errorf("out-of-range summary = %+v", empty)
	}
}

func TestSorted(t *testing.T) {
	s := Aggregate(sampleRecords(), domain.DateRange{}).Sorted(SortByValue)
	if s.Metrics[0].Metric != domain.MetricImpressions {
		t.Errorf("top by value = %s", s.Metrics[0].Metric)
	}
	if SortModeLabel(SortByDrop) != "DROP" || SortModeLabel(99) != "?" {
		t.Error("SortModeLabel")
	}
}

func TestPreviousRange(t *testing.T) {
	r := domain.DateRange{
		Start: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	p := PreviousRange(r)
	if !p.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) || !p.End.Equal(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("PreviousRange = %v", p)
	}
	if !PreviousRange(domain.DateRange{}).IsZero() {
		t.Error("zero range has no previous period")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatInt(0), "0"},
		{FormatInt(1234), "1,234"},
		{FormatInt(-1234567), "-1,234,567"},
		{FormatCompact(9999), "9,999"},
		{FormatCompact(12345), "12.3K"},
		{FormatCompact(2.5e6), "2.5M"},
		{FormatPercent(0.0937), "9.37%"},
		{FormatChange(0), ""},
		{FormatChange(0.125), "+12.5%"},
		{FormatChange(-2.5), "-250%"},
		{FormatMetric(domain.MetricPosition, 3.14), "3.1"},
		{FormatRange(domain.DateRange{}), "All time"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestConsumerFollowsBroker(t *testing.T) {
	sched := util.NewManualScheduler()
	b := broker.New(broker.DefaultConfig(), broker.WithScheduler(sched), broker.WithLogger(util.Discard()))
	records := sampleRecords()

	c := NewConsumer(b, records, util.Discard())
	defer c.Close()
	if c.Summary().Points != 4 {
		t.Fatalf("initial points = %d", c.Summary().Points)
	}

	b.UpdateRange(domain.DateRange{Start: records[2].Timestamp, End: records[3].Timestamp}, broker.Explicit)
	if c.Summary().Points != 4 {
		t.Error("summary changed before the range committed")
	}
	sched.Flush()

	s := c.Summary()
	if s.Points != 2 {
		t.Errorf("points after commit = %d, want 2", s.Points)
	}
	if prev := c.Previous(); prev.Points != 2 {
		t.Errorf("previous period points = %d, want 2", prev.Points)
	}

	c.SetRecords(records[:3])
	if got := c.Summary().Points; got != 1 {
		t.Errorf("points after SetRecords = %d, want 1", got)
	}
}
