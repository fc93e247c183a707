package main

import (
	"testing"
	"unicode/utf8"

	"pagescope/internal/domain"
	"pagescope/internal/viewport"
)

func TestSparkline(t *testing.T) {
	values := []domain.Value{domain.Present(0), domain.Absent, domain.Present(7), domain.Present(14)}
	if got := sparkline(values, 10); got != "▁ ▄█" {
		t.Errorf("sparkline = %q", got)
	}
	if got := sparkline(values, 2); utf8.RuneCountInString(got) != 2 {
		t.Errorf("downsampled sparkline = %q", got)
	}
	if got := sparkline(nil, 10); got != "" {
		t.Errorf("empty sparkline = %q", got)
	}
	flat := []domain.Value{domain.Present(3), domain.Present(3)}
	if got := sparkline(flat, 2); got != "▁▁" {
		t.Errorf("flat sparkline = %q", got)
	}
}

func TestChartDelegate(t *testing.T) {
	notify := make(chan string, 1)
	d := newChartDelegate("ctr", notify)
	d.SetVisibleSlice([]string{"2024-01-01"}, []domain.Series{
		{Metric: domain.MetricClicks, Values: []domain.Value{domain.Present(1)}},
		{Metric: domain.MetricCTR, Values: []domain.Value{domain.Present(0.5)}},
	})
	d.Redraw(viewport.RedrawAnimated)
	d.Redraw(viewport.RedrawImmediate)

	if id := <-notify; id != "ctr" {
		t.Errorf("notified %q", id)
	}
	labels, values := d.snapshot()
	if len(labels) != 1 || values[0].Number != 0.5 {
		t.Errorf("snapshot = %v %v", labels, values)
	}
	if v, ok := latest(values); !ok || v != 0.5 {
		t.Errorf("latest = %v %v", v, ok)
	}
}
