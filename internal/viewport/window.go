package viewport

import (
	"math"
)

// window is a resolved half-open index range.
type window struct {
	start, end int
	center     int // index the window is centered on after sliding
}

// visiblePoints returns how many points a zoom level shows out of n. The
// small epsilon keeps n/(n/k) from flooring to k-1.
func visiblePoints(n int, zoom float64) int {
	if n <= 0 {
		return 0
	}
	v := int(math.Floor(float64(n)/zoom + 1e-9))
	if v < 1 {
		v = 1
	}
	if v > n {
		v = n
	}
	return v
}

// maxPanOffset bounds the pan offset so the window cannot leave the dataset.
func maxPanOffset(visible, n int) float64 {
	if n <= 0 {
		return 0
	}
	return (1 - float64(visible)/float64(n)) / 2
}

// indexAtRatio maps a [0,1] ratio to an index in [0, n).
func indexAtRatio(ratio float64, n int) int {
	idx := int(math.Floor(ratio * float64(n)))
	return clampInt(idx, 0, n-1)
}

// ratioOfIndex returns the ratio that maps back to idx through
// indexAtRatio: the midpoint of the point's slot.
func ratioOfIndex(idx, n int) float64 {
	return (float64(idx) + 0.5) / float64(n)
}

// resolveWindow centers visible points on center and slides the window back
// inside [0, n] when it crosses a boundary. Sliding keeps the width; the
// window is never shrunk at the edges.
func resolveWindow(n, visible, center int) window {
	start := center - visible/2
	end := start + visible
	if start < 0 {
		start, end = 0, visible
	}
	if end > n {
		start, end = n-visible, n
	}
	return window{start: start, end: end, center: start + visible/2}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
