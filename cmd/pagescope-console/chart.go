package main

import (
	"math"
	"strings"
	"sync"

	"pagescope/internal/domain"
	"pagescope/internal/viewport"
)

// chartDelegate is the terminal RenderDelegate. Controllers call it from
// frame goroutines; the bubbletea loop reads it through snapshot.
type chartDelegate struct {
	id     string
	notify chan<- string

	mu     sync.Mutex
	labels []string
	values []domain.Value
}

func newChartDelegate(id string, notify chan<- string) *chartDelegate {
	return &chartDelegate{id: id, notify: notify}
}

// SetVisibleSlice keeps the series named after the chart, or the first one.
func (d *chartDelegate) SetVisibleSlice(labels []string, series []domain.Series) {
	var values []domain.Value
	for i, s := range series {
		if i == 0 || string(s.Metric) == d.id {
			values = s.Values
		}
		if string(s.Metric) == d.id {
			break
		}
	}
	d.mu.Lock()
	d.labels = labels
	d.values = values
	d.mu.Unlock()
}

// Redraw wakes the UI loop. Animation is not rendered in a terminal, so
// the mode is ignored.
func (d *chartDelegate) Redraw(viewport.RedrawMode) {
	select {
	case d.notify <- d.id:
	default:
	}
}

func (d *chartDelegate) snapshot() ([]string, []domain.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.labels, d.values
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders values into width cells. Each cell shows the mean of
// the values it covers; cells with only absent values stay blank.
func sparkline(values []domain.Value, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if width > len(values) {
		width = len(values)
	}

	cells := make([]float64, width)
	valid := make([]bool, width)
	lo, hi := math.Inf(1), math.Inf(-1)
	for c := 0; c < width; c++ {
		from := c * len(values) / width
		to := (c + 1) * len(values) / width
		sum, n := 0.0, 0
		for _, v := range values[from:to] {
			if v.Valid {
				sum += v.Number
				n++
			}
		}
		if n == 0 {
			continue
		}
		cells[c], valid[c] = sum/float64(n), true
		lo, hi = math.Min(lo, cells[c]), math.Max(hi, cells[c])
	}

	var b strings.Builder
	for c := range cells {
		if !valid[c] {
			b.WriteRune(' ')
			continue
		}
		idx := 0
		if hi > lo {
			idx = int((cells[c] - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

// latest returns the last present value.
func latest(values []domain.Value) (float64, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].Valid {
			return values[i].Number, true
		}
	}
	return 0, false
}
