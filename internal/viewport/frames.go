package viewport

import (
	"time"

	"pagescope/internal/domain"
	"pagescope/internal/util"
)

// RedrawMode tells a renderer whether to animate the transition.
type RedrawMode int

const (
	// RedrawImmediate repaints without animation; used during gestures.
	RedrawImmediate RedrawMode = iota
	// RedrawAnimated lets the renderer tween to the new slice.
	RedrawAnimated
)

func (m RedrawMode) String() string {
	if m == RedrawAnimated {
		return "animated"
	}
	return "immediate"
}

// RenderDelegate receives the visible slice and redraw requests. It is
// called outside the controller's lock and may call back into it.
type RenderDelegate interface {
	SetVisibleSlice(labels []string, series []domain.Series)
	Redraw(mode RedrawMode)
}

// Frames schedules the deferred redraw callback. A controller keeps at most
// one request outstanding, so any number of state changes between two frames
// collapse into a single redraw.
type Frames interface {
	RequestFrame(f func())
}

// ImmediateFrames runs the callback synchronously. Useful for headless
// consumers and tests.
type ImmediateFrames struct{}

// RequestFrame calls f.
func (ImmediateFrames) RequestFrame(f func()) { f() }

// TimerFrames runs the callback after a fixed frame interval on a scheduler.
type TimerFrames struct {
	Scheduler util.Scheduler
	Interval  time.Duration
}

// NewTimerFrames returns a frame source ticking at interval on the real clock.
func NewTimerFrames(interval time.Duration) *TimerFrames {
	return &TimerFrames{Scheduler: util.RealScheduler{}, Interval: interval}
}

// RequestFrame schedules f for the next frame.
func (t *TimerFrames) RequestFrame(f func()) {
	t.Scheduler.AfterFunc(t.Interval, f)
}
