package viewport

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"

	"pagescope/internal/broker"
	"pagescope/internal/domain"
	"pagescope/internal/util"
)

type sinkUpdate struct {
	source string
	r      domain.DateRange
	origin broker.Origin
}

type recordingSink struct {
	mu      sync.Mutex
	updates []sinkUpdate
	cancels []string
}

func (s *recordingSink) UpdateRangeFrom(source string, r domain.DateRange, origin broker.Origin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, sinkUpdate{source: source, r: r, origin: origin})
}

func (s *recordingSink) CancelFrom(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels = append(s.cancels, source)
}

type countingDelegate struct {
	labels  []string
	series  []domain.Series
	redraws []RedrawMode
}

func (d *countingDelegate) SetVisibleSlice(labels []string, series []domain.Series) {
	d.labels = labels
	d.series = series
}

func (d *countingDelegate) Redraw(mode RedrawMode) {
	d.redraws = append(d.redraws, mode)
}

// dailyRecords returns n consecutive daily records starting at start.
func dailyRecords(n int, start time.Time) []domain.Record {
	records := make([]domain.Record, n)
	for i := range records {
		records[i] = domain.Record{
			Timestamp: start.AddDate(0, 0, i),
			Metrics: map[domain.MetricKey]float64{
				domain.MetricClicks:      float64(i),
				domain.MetricImpressions: float64(10 * i),
			},
		}
	}
	return records
}

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestController(t testing.TB, n int, opts ...Option) (*Controller, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	opts = append([]Option{WithLogger(util.Discard()), WithSink(sink)}, opts...)
	c := NewController("chart", DefaultConfig(), opts...)
	c.SetDataset(dailyRecords(n, jan1))
	return c, sink
}

func TestZoomAtPointer(t *testing.T) {
	c, _ := newTestController(t, 10)

	if err := c.SetZoomLevelAt(2, 0.8); err != nil {
		t.Fatalf("SetZoomLevelAt: %v", err)
	}
	s := c.State()
	if !s.HasCenterOverride || s.CenterIndexOverride != 8 {
		t.Errorf("override = %d (set %v), want 8", s.CenterIndexOverride, s.HasCenterOverride)
	}
	if s.VisibleStart != 5 || s.VisibleEnd != 10 {
		t.Errorf("window = [%d,%d), want [5,10)", s.VisibleStart, s.VisibleEnd)
	}

	if err := c.SetZoomLevel(1); err != nil {
		t.Fatalf("SetZoomLevel: %v", err)
	}
	s = c.State()
	if s.VisibleStart != 0 || s.VisibleEnd != 10 || s.HasCenterOverride || s.PanOffsetRatio != 0 {
		t.Errorf("zoom 1 state = %+v", s)
	}
}

func TestUnchangedZoomIsNoop(t *testing.T) {
	c, sink := newTestController(t, 100)

	if err := c.SetZoomLevelAt(4, 0.5); err != nil {
		t.Fatal(err)
	}
	before := c.State()
	published := len(sink.updates)

	if err := c.SetZoomLevelAt(4, 0.95); err != nil {
		t.Fatal(err)
	}
	if after := c.State(); after != before {
		t.Errorf("same level moved the view: %+v -> %+v", before, after)
	}
	if len(sink.updates) != published {
		t.Errorf("same level published %d extra updates", len(sink.updates)-published)
	}

	// Held at max zoom, a further zoom-in is clamped away.
	maxZoom := DefaultConfig().MaxZoom
	if err := c.SetZoomLevelAt(maxZoom, 0.5); err != nil {
		t.Fatal(err)
	}
	before = c.State()
	if before.Month == nil {
		t.Fatal("max zoom did not enter the month view")
	}
	if err := c.SetZoomLevelAt(maxZoom*2, 0.1); err != nil {
		t.Fatal(err)
	}
	if after := c.State(); after.CenterIndexOverride != before.CenterIndexOverride || *after.Month != *before.Month {
		t.Errorf("clamped zoom changed month view: %+v -> %+v", before, after)
	}
}

func TestPointerZoomKeepsPinnedPoint(t *testing.T) {
	c, _ := newTestController(t, 100)
	ratio := 0.8

	for i := 0; i < 4; i++ {
		if err := c.OnZoomDelta(1, &ratio); err != nil {
			t.Fatal(err)
		}
		s := c.State()
		if !s.HasCenterOverride || s.CenterIndexOverride != 80 {
			t.Fatalf("step %d: override = %d (set %v), want 80", i, s.CenterIndexOverride, s.HasCenterOverride)
		}
		if s.VisibleStart > 80 || s.VisibleEnd <= 80 {
			t.Fatalf("step %d: window [%d,%d) lost the pinned point", i, s.VisibleStart, s.VisibleEnd)
		}
	}

	// Moving the pointer pins the point now under it.
	ratio = 0
	if err := c.OnZoomDelta(1, &ratio); err != nil {
		t.Fatal(err)
	}
	if s := c.State(); s.CenterIndexOverride == 80 {
		t.Errorf("pointer moved but override stayed at 80")
	}

	// Panning ends the gesture.
	c.Pan(Left)
	if s := c.State(); s.HasCenterOverride {
		t.Errorf("pan kept the override: %+v", s)
	}
}

func TestZoomBelowOneShowsEverything(t *testing.T) {
	c, _ := newTestController(t, 50)

	if err := c.SetZoomLevel(0.25); err != nil {
		t.Fatal(err)
	}
	s := c.State()
	if s.ZoomLevel != 0.25 || s.VisibleStart != 0 || s.VisibleEnd != 50 {
		t.Errorf("state = %+v", s)
	}
	if err := c.SetZoomLevel(0.01); err != nil {
		t.Fatal(err)
	}
	if got := c.State().ZoomLevel; got != DefaultConfig().MinZoom {
		t.Errorf("zoom = %v, want clamped to min", got)
	}
}

func TestInvalidZoomKeepsState(t *testing.T) {
	c, _ := newTestController(t, 40)
	if err := c.SetZoomLevel(4); err != nil {
		t.Fatal(err)
	}
	before := c.State()

	for _, level := range []float64{math.NaN(), math.Inf(1), 0, -2} {
		if err := c.SetZoomLevel(level); !errors.Is(err, ErrInvalidZoomLevel) {
			t.Errorf("SetZoomLevel(%v) = %v, want ErrInvalidZoomLevel", level, err)
		}
	}
	if after := c.State(); after != before {
		t.Errorf("state changed: %+v -> %+v", before, after)
	}
}

func TestEmptyDataset(t *testing.T) {
	c := NewController("empty", DefaultConfig(), WithLogger(util.Discard()))

	if _, ok := c.ResolveVisibleDateRange(); ok {
		t.Error("empty dataset resolved a range")
	}
	if err := c.SetZoomLevel(2); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("SetZoomLevel on empty = %v", err)
	}
	if c.Pan(Right) {
		t.Error("Pan on empty dataset moved")
	}
	c.ApplyExternalRange(domain.DateRange{Start: jan1, End: jan1.AddDate(0, 0, 3)})
}

func TestOnZoomDelta(t *testing.T) {
	c, _ := newTestController(t, 100)

	if err := c.OnZoomDelta(1, nil); err != nil {
		t.Fatal(err)
	}
	if got, want := c.State().ZoomLevel, 1+DefaultConfig().ZoomStep; math.Abs(got-want) > 1e-12 {
		t.Errorf("zoom = %v, want %v", got, want)
	}
	if err := c.OnZoomDelta(-1, nil); err != nil {
		t.Fatal(err)
	}
	if got := c.State().ZoomLevel; math.Abs(got-1) > 1e-12 {
		t.Errorf("zoom after -1 = %v, want 1", got)
	}
	if err := c.OnZoomDelta(math.NaN(), nil); !errors.Is(err, ErrInvalidZoomLevel) {
		t.Errorf("NaN delta = %v", err)
	}
}

func TestPanSlidesToEdge(t *testing.T) {
	c, _ := newTestController(t, 100)

	if c.Pan(Right) {
		t.Error("Pan at zoom 1 should not move")
	}
	if err := c.SetZoomLevel(2); err != nil {
		t.Fatal(err)
	}
	if s := c.State(); s.VisibleStart != 25 || s.VisibleEnd != 75 {
		t.Fatalf("window = [%d,%d)", s.VisibleStart, s.VisibleEnd)
	}

	moves := 0
	for c.Pan(Right) {
		moves++
		if moves > 20 {
			t.Fatal("pan never reached the edge")
		}
	}
	s := c.State()
	if s.VisibleEnd != 100 || s.VisibleEnd-s.VisibleStart != 50 {
		t.Errorf("window at right edge = [%d,%d)", s.VisibleStart, s.VisibleEnd)
	}
	if limit := maxPanOffset(50, 100); math.Abs(s.PanOffsetRatio) > limit+1e-9 {
		t.Errorf("pan %v exceeds %v", s.PanOffsetRatio, limit)
	}

	if !c.Pan(Left) {
		t.Error("Pan left from the right edge should move")
	}
}

func TestResolveVisibleDateRange(t *testing.T) {
	c, _ := newTestController(t, 30)

	r, ok := c.ResolveVisibleDateRange()
	if !ok || !r.Start.Equal(jan1) || !r.End.Equal(jan1.AddDate(0, 0, 29)) {
		t.Errorf("full range = %v %v", r, ok)
	}

	if err := c.SetZoomLevelAt(3, 0.5); err != nil {
		t.Fatal(err)
	}
	s := c.State()
	r, _ = c.ResolveVisibleDateRange()
	if !r.Start.Equal(jan1.AddDate(0, 0, s.VisibleStart)) || !r.End.Equal(jan1.AddDate(0, 0, s.VisibleEnd-1)) {
		t.Errorf("zoomed range %v does not match window [%d,%d)", r, s.VisibleStart, s.VisibleEnd)
	}
}

func TestMonthView(t *testing.T) {
	// 100 daily points over a quarter; index 45 is 2024-02-15.
	c, _ := newTestController(t, 100)
	ratio := (45 + 0.5) / 100

	if err := c.SetZoomLevelAt(DefaultConfig().MaxZoom, ratio); err != nil {
		t.Fatal(err)
	}
	s := c.State()
	if s.Month == nil || s.Month.Year != 2024 || s.Month.Month != time.February {
		t.Fatalf("month = %+v, want 2024-02", s.Month)
	}

	slice := c.VisibleSlice()
	if len(slice.Labels) != 29 {
		t.Fatalf("month slice has %d points, want 29", len(slice.Labels))
	}
	if slice.Labels[0] != "Feb 1, 2024" || slice.Labels[28] != "Feb 29, 2024" || slice.Labels[14] != "15" {
		t.Errorf("labels = %q ... %q ... %q", slice.Labels[0], slice.Labels[14], slice.Labels[28])
	}
	for _, series := range slice.Series {
		for i, v := range series.Values {
			if !v.Valid {
				t.Errorf("%s day %d absent in fully covered month", series.Metric, i+1)
			}
		}
	}

	r, _ := c.ResolveVisibleDateRange()
	if !r.Start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) ||
		!r.End.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("month range = %v", r)
	}

	// Leaving the month returns to the point that was centered.
	if err := c.SetZoomLevel(5); err != nil {
		t.Fatal(err)
	}
	s = c.State()
	if s.Month != nil || s.VisibleStart != 35 || s.VisibleEnd != 55 {
		t.Errorf("after leaving month: %+v", s)
	}
}

func TestMonthViewMarksMissingDays(t *testing.T) {
	sink := &recordingSink{}
	c := NewController("chart", DefaultConfig(), WithLogger(util.Discard()), WithSink(sink))
	c.SetDataset(dailyRecords(100, time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))

	if err := c.SetZoomLevelAt(DefaultConfig().MaxZoom, 0.055); err != nil {
		t.Fatal(err)
	}
	slice := c.VisibleSlice()
	if slice.Month == nil || slice.Month.Month != time.February || len(slice.Labels) != 29 {
		t.Fatalf("slice month = %+v with %d labels", slice.Month, len(slice.Labels))
	}
	clicks := slice.Series[0].Values
	for day := 1; day <= 29; day++ {
		want := day >= 10
		if clicks[day-1].Valid != want {
			t.Errorf("day %d valid = %v, want %v", day, clicks[day-1].Valid, want)
		}
	}
	if clicks[9].Number != 0 || !clicks[9].Valid {
		t.Errorf("Feb 10 should carry a present zero, got %+v", clicks[9])
	}
}

func TestApplyExternalRangeDoesNotEcho(t *testing.T) {
	c, sink := newTestController(t, 100)

	c.ApplyExternalRange(domain.DateRange{Start: jan1.AddDate(0, 0, 10), End: jan1.AddDate(0, 0, 19)})
	s := c.State()
	if s.VisibleStart != 10 || s.VisibleEnd != 20 {
		t.Errorf("window = [%d,%d), want [10,20)", s.VisibleStart, s.VisibleEnd)
	}
	if len(sink.updates) != 0 {
		t.Errorf("external range echoed: %+v", sink.updates)
	}

	c.ApplyExternalRange(domain.DateRange{})
	if s := c.State(); s.ZoomLevel != 1 || s.VisibleEnd != 100 {
		t.Errorf("zero range state = %+v", s)
	}
}

func TestApplyExternalRangeAcrossMonthsStaysOutOfMonthView(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxZoom = 10
	c := NewController("chart", cfg, WithLogger(util.Discard()))
	c.SetDataset(dailyRecords(100, jan1))

	// Four points spanning Jan 30 - Feb 2 would imply zoom 25.
	c.ApplyExternalRange(domain.DateRange{Start: jan1.AddDate(0, 0, 29), End: jan1.AddDate(0, 0, 32)})
	s := c.State()
	if s.Month != nil {
		t.Fatalf("multi-month range entered month view %v", s.Month)
	}
	if s.ZoomLevel >= cfg.MaxZoom {
		t.Errorf("zoom = %v, want just below max", s.ZoomLevel)
	}
	if s.VisibleStart > 29 || s.VisibleEnd < 33 {
		t.Errorf("window [%d,%d) does not enclose [29,33)", s.VisibleStart, s.VisibleEnd)
	}
}

func TestGesturePublishesOncePerFrame(t *testing.T) {
	sched := util.NewManualScheduler()
	frames := &TimerFrames{Scheduler: sched, Interval: 16 * time.Millisecond}
	d := &countingDelegate{}
	c, sink := newTestController(t, 200, WithFrames(frames), WithDelegate(d))
	sched.Flush()
	d.redraws = nil

	for i := 0; i < 5; i++ {
		if err := c.OnZoomDelta(1, nil); err != nil {
			t.Fatal(err)
		}
	}
	if len(d.redraws) != 0 {
		t.Fatal("redraw ran before the frame")
	}
	sched.Advance(16 * time.Millisecond)

	if len(d.redraws) != 1 || d.redraws[0] != RedrawImmediate {
		t.Errorf("redraws = %v, want one immediate", d.redraws)
	}
	s := c.State()
	if len(d.labels) != s.VisibleEnd-s.VisibleStart {
		t.Errorf("delegate got %d labels for window of %d", len(d.labels), s.VisibleEnd-s.VisibleStart)
	}
	if len(sink.updates) != 1 || sink.updates[0].origin != broker.Gesture || sink.updates[0].source != "chart" {
		t.Fatalf("sink updates = %+v", sink.updates)
	}
	want, _ := c.ResolveVisibleDateRange()
	if !sink.updates[0].r.Equal(want) {
		t.Errorf("published %v, want %v", sink.updates[0].r, want)
	}
}

func TestResetToDefault(t *testing.T) {
	c, sink := newTestController(t, 60)
	if err := c.SetZoomLevelAt(4, 0.2); err != nil {
		t.Fatal(err)
	}
	sink.updates = nil

	c.ResetToDefault()
	first := c.State()
	c.ResetToDefault()
	if second := c.State(); second != first {
		t.Errorf("reset not idempotent: %+v vs %+v", first, second)
	}
	if first.ZoomLevel != 1 || first.HasCenterOverride || first.VisibleEnd != 60 {
		t.Errorf("reset state = %+v", first)
	}
	if len(sink.cancels) == 0 || sink.cancels[len(sink.cancels)-1] != "chart" {
		t.Errorf("pending propagation not cancelled: %v", sink.cancels)
	}
	last := sink.updates[len(sink.updates)-1]
	if !last.r.IsZero() || last.origin != broker.Explicit {
		t.Errorf("reset published %+v", last)
	}
}

func TestSetDatasetIdentity(t *testing.T) {
	c, sink := newTestController(t, 50)
	if err := c.SetZoomLevel(3); err != nil {
		t.Fatal(err)
	}

	// Same timestamps, new values: the view is kept.
	refreshed := dailyRecords(50, jan1)
	refreshed[0].Metrics[domain.MetricClicks] = 99
	c.SetDataset(refreshed)
	if got := c.State().ZoomLevel; got != 3 {
		t.Errorf("refresh reset zoom to %v", got)
	}
	if len(sink.cancels) != 0 {
		t.Errorf("refresh cancelled propagation: %v", sink.cancels)
	}

	c.SetDataset(dailyRecords(50, jan1.AddDate(1, 0, 0)))
	if s := c.State(); s.ZoomLevel != 1 || s.VisibleEnd != 50 {
		t.Errorf("new dataset state = %+v", s)
	}
	if len(sink.cancels) != 1 {
		t.Errorf("cancels = %v, want one", sink.cancels)
	}
}

func TestDestroyIgnoresInput(t *testing.T) {
	d := &countingDelegate{}
	c, _ := newTestController(t, 20, WithDelegate(d))
	c.Destroy()
	d.redraws = nil

	c.SetDataset(dailyRecords(20, jan1))
	c.ResetToDefault()
	if len(d.redraws) != 0 {
		t.Errorf("destroyed controller redrew %d times", len(d.redraws))
	}
}

func TestWindowInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 400).Draw(t, "n")
		records := dailyRecords(n, jan1)
		c := NewController("p", DefaultConfig(), WithLogger(util.Discard()))
		c.SetDataset(records)
		cfg := DefaultConfig()

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 6).Draw(t, "op") {
			case 0:
				_ = c.SetZoomLevel(rapid.Float64Range(0.05, 40).Draw(t, "level"))
			case 1:
				_ = c.SetZoomLevelAt(rapid.Float64Range(0.05, 40).Draw(t, "level"),
					rapid.Float64Range(0, 1).Draw(t, "ratio"))
			case 2:
				_ = c.OnZoomDelta(rapid.Float64Range(-5, 5).Draw(t, "delta"), nil)
			case 3:
				if rapid.Bool().Draw(t, "right") {
					c.Pan(Right)
				} else {
					c.Pan(Left)
				}
			case 4:
				lo := rapid.IntRange(0, n-1).Draw(t, "lo")
				hi := rapid.IntRange(lo, n-1).Draw(t, "hi")
				c.ApplyExternalRange(domain.DateRange{Start: records[lo].Timestamp, End: records[hi].Timestamp})
			case 5:
				// Same length; a shifted start is a new dataset identity.
				records = dailyRecords(n, jan1.AddDate(0, 0, rapid.IntRange(0, 60).Draw(t, "shift")))
				c.SetDataset(records)
			case 6:
				c.ResetToDefault()
			}

			s := c.State()
			if s.ZoomLevel < cfg.MinZoom || s.ZoomLevel > cfg.MaxZoom {
				t.Fatalf("zoom %v out of bounds", s.ZoomLevel)
			}
			if (s.Month != nil) != (s.ZoomLevel == cfg.MaxZoom) {
				t.Fatalf("month %v at zoom %v", s.Month, s.ZoomLevel)
			}
			if s.VisibleStart < 0 || s.VisibleStart >= s.VisibleEnd || s.VisibleEnd > n {
				t.Fatalf("window [%d,%d) invalid for n=%d", s.VisibleStart, s.VisibleEnd, n)
			}
			if s.ZoomLevel > 1 && s.ZoomLevel < cfg.MaxZoom {
				if want := visiblePoints(n, s.ZoomLevel); s.VisibleEnd-s.VisibleStart != want {
					t.Fatalf("window width %d, want %d at zoom %v", s.VisibleEnd-s.VisibleStart, want, s.ZoomLevel)
				}
				if limit := maxPanOffset(s.VisibleEnd-s.VisibleStart, n); math.Abs(s.PanOffsetRatio) > limit+1e-9 {
					t.Fatalf("pan %v exceeds %v", s.PanOffsetRatio, limit)
				}
			}
			if s.ZoomLevel <= 1 && (s.VisibleStart != 0 || s.VisibleEnd != n || s.PanOffsetRatio != 0) {
				t.Fatalf("zoom <= 1 state %+v", s)
			}
		}
	})
}

func TestZoomRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 300).Draw(t, "n")
		c := NewController("p", DefaultConfig(), WithLogger(util.Discard()))
		c.SetDataset(dailyRecords(n, jan1))

		level := rapid.Float64Range(0.1, 30).Draw(t, "level")
		ratio := rapid.Float64Range(0, 1).Draw(t, "ratio")
		if err := c.SetZoomLevelAt(level, ratio); err != nil {
			t.Fatal(err)
		}
		if err := c.SetZoomLevel(1); err != nil {
			t.Fatal(err)
		}
		s := c.State()
		if s.VisibleStart != 0 || s.VisibleEnd != n {
			t.Fatalf("round trip window [%d,%d), want [0,%d)", s.VisibleStart, s.VisibleEnd, n)
		}
		if s.ZoomLevel != 1 || s.ZoomCenterRatio != 0.5 || s.PanOffsetRatio != 0 || s.HasCenterOverride || s.Month != nil {
			t.Fatalf("round trip state %+v, want the default view", s)
		}
	})
}

func TestExternalRangeEnclosure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 400).Draw(t, "n")
		records := dailyRecords(n, jan1)
		c := NewController("p", DefaultConfig(), WithLogger(util.Discard()))
		c.SetDataset(records)

		lo := rapid.IntRange(0, n-1).Draw(t, "lo")
		hi := rapid.IntRange(lo, n-1).Draw(t, "hi")
		r := domain.DateRange{Start: records[lo].Timestamp, End: records[hi].Timestamp}
		c.ApplyExternalRange(r)

		got, ok := c.ResolveVisibleDateRange()
		if !ok {
			t.Fatal("no range resolved")
		}
		if got.Start.After(r.Start) || got.End.Before(r.End) {
			t.Fatalf("resolved %v does not enclose %v", got, r)
		}
	})
}
