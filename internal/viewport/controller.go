package viewport

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"pagescope/internal/broker"
	"pagescope/internal/domain"
	"pagescope/internal/util"
)

// Direction is a pan direction.
type Direction int

const (
	Left  Direction = -1
	Right Direction = 1
)

// ParseDirection parses "left" or "right".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return 0, fmt.Errorf("unknown pan direction %q", s)
	}
}

// RangeSink receives the ranges a controller resolves after user gestures.
// *broker.Broker implements it.
type RangeSink interface {
	UpdateRangeFrom(source string, r domain.DateRange, origin broker.Origin)
	CancelFrom(source string)
}

// State is a snapshot of a controller's view parameters.
type State struct {
	ZoomLevel           float64       `json:"zoom_level"`
	ZoomCenterRatio     float64       `json:"zoom_center_ratio"`
	PanOffsetRatio      float64       `json:"pan_offset_ratio"`
	CenterIndexOverride int           `json:"center_index_override"`
	HasCenterOverride   bool          `json:"has_center_override"`
	VisibleStart        int           `json:"visible_start"`
	VisibleEnd          int           `json:"visible_end"`
	Month               *MonthContext `json:"month,omitempty"`
	DatasetLength       int           `json:"dataset_length"`
}

// Slice is the data a renderer draws for the current window.
type Slice struct {
	Labels []string
	Series []domain.Series
	Month  *MonthContext
}

// Option configures controllers and the registry.
type Option func(*options)

type options struct {
	log         *slog.Logger
	frames      Frames
	sink        RangeSink
	calendar    *util.Calendar
	delegate    RenderDelegate
	newDelegate func(id string) RenderDelegate
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithFrames sets the frame source used to coalesce redraws.
func WithFrames(f Frames) Option {
	return func(o *options) { o.frames = f }
}

// WithSink sets where gesture-resolved ranges are published.
func WithSink(s RangeSink) Option {
	return func(o *options) { o.sink = s }
}

// WithCalendar sets the calendar used for month drill-down.
func WithCalendar(c *util.Calendar) Option {
	return func(o *options) { o.calendar = c }
}

// WithDelegate attaches a renderer to a single controller.
func WithDelegate(d RenderDelegate) Option {
	return func(o *options) { o.delegate = d }
}

// WithDelegateFactory makes a registry attach a renderer to every
// controller it creates.
func WithDelegateFactory(fn func(id string) RenderDelegate) Option {
	return func(o *options) { o.newDelegate = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		log:    slog.Default(),
		frames: ImmediateFrames{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.calendar == nil {
		o.calendar = util.NewCalendar(nil)
	}
	return o
}

// Controller owns the view state of one chart. All methods are safe for
// concurrent use; renderer and sink callbacks run without the lock held.
type Controller struct {
	id       string
	cfg      Config
	log      *slog.Logger
	frames   Frames
	sink     RangeSink
	resolver *MonthResolver

	mu          sync.Mutex
	delegate    RenderDelegate
	records     []domain.Record
	metrics     []domain.MetricKey
	hasData     bool
	zoom        float64
	center      float64
	pan         float64
	override    int
	hasOverride bool
	pinRatio    float64 // pointer ratio that produced override
	start, end  int
	month       *MonthView
	monthCenter int
	destroyed   bool

	framePending  bool
	notifyPending bool
	redrawMode    RedrawMode
}

// NewController creates a controller with no data at the default view.
func NewController(id string, cfg Config, opts ...Option) *Controller {
	o := buildOptions(opts)
	return &Controller{
		id:       id,
		cfg:      cfg,
		log:      o.log.With("chart", id),
		frames:   o.frames,
		sink:     o.sink,
		resolver: NewMonthResolver(o.calendar),
		delegate: o.delegate,
		zoom:     1,
		center:   0.5,
	}
}

// ID returns the chart id.
func (c *Controller) ID() string { return c.id }

// SetDelegate replaces the renderer and schedules a redraw.
func (c *Controller) SetDelegate(d RenderDelegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
	c.requestRedraw(RedrawImmediate, false)
}

// SetDataset replaces the records. When the dataset identity (its
// timestamps) changes, view state resets and any pending range propagation
// from this chart is cancelled. A refresh with the same timestamps keeps
// the view.
func (c *Controller) SetDataset(records []domain.Record) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	changed := c.hasData && !sameTimestamps(c.records, records)
	c.records = records
	c.metrics = domain.MetricKeys(records)
	c.hasData = true
	c.month = nil
	if changed {
		c.log.Info("dataset identity changed, resetting view", "points", len(records))
		c.resetLocked()
		c.notifyPending = false
	} else {
		c.resolveLocked()
	}
	sink := c.sink
	c.mu.Unlock()

	if changed && sink != nil {
		sink.CancelFrom(c.id)
	}
	c.requestRedraw(RedrawAnimated, false)
}

// SetZoomLevel sets the zoom level, keeping the current center.
func (c *Controller) SetZoomLevel(level float64) error {
	return c.setZoom(level, nil)
}

// SetZoomLevelAt sets the zoom level and centers the view on the point
// under pointerRatio, the pointer position across the visible window in
// [0, 1].
func (c *Controller) SetZoomLevelAt(level, pointerRatio float64) error {
	return c.setZoom(level, &pointerRatio)
}

// OnZoomDelta applies a relative zoom gesture. Positive deltas zoom in by
// ZoomStep per unit.
func (c *Controller) OnZoomDelta(delta float64, pointerRatio *float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		c.log.Warn("ignoring non-finite zoom delta", "delta", delta)
		return fmt.Errorf("%w: delta %v", ErrInvalidZoomLevel, delta)
	}
	c.mu.Lock()
	level := c.zoom * math.Pow(1+c.cfg.ZoomStep, delta)
	c.mu.Unlock()
	return c.setZoom(level, pointerRatio)
}

func (c *Controller) setZoom(level float64, pointerRatio *float64) error {
	if math.IsNaN(level) || math.IsInf(level, 0) || level <= 0 {
		c.log.Warn("rejecting zoom level", "level", level)
		return fmt.Errorf("%w: %v", ErrInvalidZoomLevel, level)
	}
	if pointerRatio != nil && (math.IsNaN(*pointerRatio) || math.IsInf(*pointerRatio, 0)) {
		c.log.Warn("ignoring non-finite pointer ratio", "ratio", *pointerRatio)
		pointerRatio = nil
	}

	c.mu.Lock()
	n := len(c.records)
	if n == 0 {
		c.mu.Unlock()
		return ErrEmptyDataset
	}
	clamped := c.cfg.clamp(level)
	if clamped == c.zoom {
		c.mu.Unlock()
		return nil
	}

	if pointerRatio != nil {
		ratio := clampFloat(*pointerRatio, 0, 1)
		// A gesture whose pointer has not moved keeps its pinned point.
		if !c.hasOverride || ratio != c.pinRatio {
			c.override = c.indexAtPointerLocked(ratio)
			c.pinRatio = ratio
			c.hasOverride = true
		}
	}
	if c.month != nil && clamped < c.cfg.MaxZoom {
		// Leaving the month view returns to the point that was centered.
		idx := c.monthCenter
		if c.hasOverride {
			idx = c.override
		}
		c.center = ratioOfIndex(idx, n)
		c.pan = 0
		c.month = nil
	}
	c.zoom = clamped
	c.resolveLocked()
	c.mu.Unlock()

	c.requestRedraw(RedrawImmediate, true)
	return nil
}

// Pan moves the window by PanStep of the dataset. It only applies between
// zoom 1 and the month view and reports whether the view moved.
func (c *Controller) Pan(dir Direction) bool {
	c.mu.Lock()
	n := len(c.records)
	if n == 0 || c.zoom <= 1 || c.month != nil || c.destroyed {
		c.mu.Unlock()
		return false
	}
	prevStart := c.start
	limit := maxPanOffset(c.end-c.start, n)
	target := c.center + c.pan + float64(dir)*c.cfg.PanStep
	// Movement beyond the pan bound shifts the center instead so that the
	// window keeps moving until it reaches the dataset edge.
	c.pan = clampFloat(c.pan+float64(dir)*c.cfg.PanStep, -limit, limit)
	c.center = clampFloat(target-c.pan, 0, 1)
	c.hasOverride = false
	c.resolveLocked()
	moved := c.start != prevStart
	c.mu.Unlock()

	if moved {
		c.requestRedraw(RedrawImmediate, true)
	}
	return moved
}

// ResetToDefault restores zoom 1 with no pan and no override, drops any
// pending gesture propagation from this chart and publishes "no filter".
// Calling it twice yields the same state.
func (c *Controller) ResetToDefault() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.notifyPending = false
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink.CancelFrom(c.id)
		sink.UpdateRangeFrom(c.id, domain.DateRange{}, broker.Explicit)
	}
	c.requestRedraw(RedrawAnimated, false)
}

// ApplyExternalRange positions the view so the visible window encloses r.
// It never publishes back to the sink. The zero range shows everything.
func (c *Controller) ApplyExternalRange(r domain.DateRange) {
	r = r.Normalize()

	c.mu.Lock()
	n := len(c.records)
	if n == 0 || c.destroyed {
		c.mu.Unlock()
		return
	}
	if r.IsZero() {
		c.resetLocked()
	} else {
		c.applyRangeLocked(r)
	}
	c.mu.Unlock()

	c.requestRedraw(RedrawAnimated, false)
}

func (c *Controller) applyRangeLocked(r domain.DateRange) {
	n := len(c.records)
	lo := sort.Search(n, func(i int) bool {
		return !c.records[i].Timestamp.Before(r.Start)
	})
	hi := sort.Search(n, func(i int) bool {
		return c.records[i].Timestamp.After(r.End)
	})
	if hi <= lo {
		// No points inside r: show the nearest point.
		lo = clampInt(lo, 0, n-1)
		hi = lo + 1
	}
	k := hi - lo
	zoom := float64(n) / float64(k)
	if zoom >= c.cfg.MaxZoom {
		first := c.resolver.ContextOf(c.records, lo)
		last := c.resolver.ContextOf(c.records, hi-1)
		if first != last {
			// A multi-month range must not collapse into one month.
			zoom = math.Nextafter(c.cfg.MaxZoom, 0)
		}
	}
	zoom = c.cfg.clamp(zoom)
	if zoom <= 1 {
		c.resetLocked()
		return
	}
	c.zoom = zoom
	c.pan = 0
	c.hasOverride = false
	c.month = nil
	c.center = ratioOfIndex(lo+k/2, n)
	c.resolveLocked()
}

// ResolveVisibleDateRange returns the calendar range currently shown: the
// dataset bounds at zoom <= 1, the whole month in the month view, otherwise
// the first and last visible timestamps. ok is false with no data.
func (c *Controller) ResolveVisibleDateRange() (domain.DateRange, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleRangeLocked()
}

func (c *Controller) visibleRangeLocked() (domain.DateRange, bool) {
	n := len(c.records)
	if n == 0 {
		return domain.DateRange{}, false
	}
	if c.zoom <= 1 {
		return domain.DateRange{Start: c.records[0].Timestamp, End: c.records[n-1].Timestamp}, true
	}
	if c.month != nil {
		first, last := c.resolver.Bounds(c.month.Context)
		return domain.DateRange{Start: first, End: last}, true
	}
	return domain.DateRange{Start: c.records[c.start].Timestamp, End: c.records[c.end-1].Timestamp}, true
}

// State returns a snapshot of the view parameters.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		ZoomLevel:           c.zoom,
		ZoomCenterRatio:     c.center,
		PanOffsetRatio:      c.pan,
		CenterIndexOverride: c.override,
		HasCenterOverride:   c.hasOverride,
		VisibleStart:        c.start,
		VisibleEnd:          c.end,
		DatasetLength:       len(c.records),
	}
	if c.month != nil {
		m := c.month.Context
		s.Month = &m
	}
	return s
}

// VisibleSlice returns the labels and series of the current window.
func (c *Controller) VisibleSlice() Slice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sliceLocked()
}

func (c *Controller) sliceLocked() Slice {
	if c.month != nil {
		m := c.month.Context
		return Slice{Labels: c.month.Labels, Series: c.month.Series, Month: &m}
	}
	window := c.records[c.start:c.end]
	s := Slice{
		Labels: make([]string, len(window)),
		Series: make([]domain.Series, len(c.metrics)),
	}
	for i := range window {
		s.Labels[i] = window[i].Timestamp.Format(domain.DateLayout)
	}
	for m, key := range c.metrics {
		values := make([]domain.Value, len(window))
		for i := range window {
			if v, ok := window[i].Metrics[key]; ok {
				values[i] = domain.Present(v)
			}
		}
		s.Series[m] = domain.Series{Metric: key, Values: values}
	}
	return s
}

// Destroy detaches the renderer and drops pending propagation. The
// controller ignores later input.
func (c *Controller) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.delegate = nil
	c.notifyPending = false
	sink := c.sink
	c.mu.Unlock()

	if sink != nil {
		sink.CancelFrom(c.id)
	}
}

// resetLocked restores the default view. Must be called with mu held.
func (c *Controller) resetLocked() {
	c.zoom = 1
	c.center = 0.5
	c.pan = 0
	c.hasOverride = false
	c.month = nil
	c.resolveLocked()
}

// resolveLocked recomputes the visible window from the view parameters and
// folds the result back into center and pan. Must be called with mu held.
func (c *Controller) resolveLocked() {
	n := len(c.records)
	if n == 0 {
		c.start, c.end = 0, 0
		c.month = nil
		return
	}
	if c.zoom <= 1 {
		c.center, c.pan = 0.5, 0
		c.hasOverride = false
		c.month = nil
		c.start, c.end = 0, n
		return
	}
	if c.zoom >= c.cfg.MaxZoom {
		c.enterMonthLocked()
		return
	}
	c.month = nil

	visible := visiblePoints(n, c.zoom)
	var centerIdx int
	if c.hasOverride && c.override >= 0 && c.override < n {
		centerIdx = c.override
	} else {
		c.hasOverride = false
		centerIdx = indexAtRatio(c.center+c.pan, n)
	}
	w := resolveWindow(n, visible, centerIdx)
	c.start, c.end = w.start, w.end

	effective := ratioOfIndex(w.center, n)
	limit := maxPanOffset(visible, n)
	c.pan = clampFloat(c.pan, -limit, limit)
	c.center = clampFloat(effective-c.pan, 0, 1)
	c.pan = effective - c.center
}

// enterMonthLocked switches to the month containing the centered point. It
// is a no-op when the month view is already built.
func (c *Controller) enterMonthLocked() {
	if c.month != nil {
		return
	}
	n := len(c.records)
	idx := indexAtRatio(c.center+c.pan, n)
	if c.hasOverride && c.override >= 0 && c.override < n {
		idx = c.override
	}
	ctx := c.resolver.ContextOf(c.records, idx)
	c.month = c.resolver.Resolve(c.records, c.metrics, ctx)
	c.monthCenter = idx
	c.start, c.end = c.month.Start, c.month.End
	c.log.Debug("entered month view", "month", ctx.String(), "center", idx)
}

// indexAtPointerLocked maps a pointer ratio across the visible window to a
// dataset index. In the month view the ratio selects a calendar day and the
// nearest record in the month wins.
func (c *Controller) indexAtPointerLocked(ratio float64) int {
	n := len(c.records)
	if c.month != nil {
		day := int(math.Floor(ratio * float64(len(c.month.Days))))
		return c.month.IndexAtDay(c.records, day)
	}
	start, end := c.start, c.end
	if end <= start {
		start, end = 0, n
	}
	idx := start + int(math.Floor(ratio*float64(end-start)))
	return clampInt(idx, start, end-1)
}

// requestRedraw marks the view dirty and schedules a frame unless one is
// already pending. notify requests publication of the resolved range once
// the frame runs; external applications never publish.
func (c *Controller) requestRedraw(mode RedrawMode, notify bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if notify {
		c.notifyPending = true
	}
	if mode == RedrawAnimated {
		c.redrawMode = RedrawAnimated
	}
	if c.framePending {
		c.mu.Unlock()
		return
	}
	c.framePending = true
	c.mu.Unlock()

	c.frames.RequestFrame(c.frame)
}

// frame pushes the coalesced state to the renderer and publishes the
// resolved range.
func (c *Controller) frame() {
	c.mu.Lock()
	c.framePending = false
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	delegate := c.delegate
	var slice Slice
	if delegate != nil && len(c.records) > 0 {
		slice = c.sliceLocked()
	}
	mode := c.redrawMode
	c.redrawMode = RedrawImmediate
	notify := c.notifyPending
	c.notifyPending = false
	r, ok := c.visibleRangeLocked()
	if ok && c.zoom <= 1 {
		// The full view means no filter for everyone else.
		r = domain.DateRange{}
	}
	sink := c.sink
	c.mu.Unlock()

	if delegate != nil {
		delegate.SetVisibleSlice(slice.Labels, slice.Series)
		delegate.Redraw(mode)
	}
	if notify && ok && sink != nil {
		sink.UpdateRangeFrom(c.id, r, broker.Gesture)
	}
}

func sameTimestamps(a, b []domain.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Timestamp.Equal(b[i].Timestamp) {
			return false
		}
	}
	return true
}
