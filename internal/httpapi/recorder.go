package httpapi

import (
	"sync"

	"pagescope/internal/domain"
	"pagescope/internal/viewport"
)

// Frame is the last slice a chart handed to its renderer.
type Frame struct {
	Labels  []string
	Series  []domain.Series
	Redraws int
	Mode    viewport.RedrawMode
}

// Recorder is a RenderDelegate that keeps the last visible slice so HTTP
// clients can draw it themselves.
type Recorder struct {
	mu    sync.Mutex
	frame Frame
}

// SetVisibleSlice implements viewport.RenderDelegate.
func (r *Recorder) SetVisibleSlice(labels []string, series []domain.Series) {
	r.mu.Lock()
	r.frame.Labels = labels
	r.frame.Series = series
	r.mu.Unlock()
}

// Redraw implements viewport.RenderDelegate.
func (r *Recorder) Redraw(mode viewport.RedrawMode) {
	r.mu.Lock()
	r.frame.Redraws++
	r.frame.Mode = mode
	r.mu.Unlock()
}

// Last returns the most recent frame.
func (r *Recorder) Last() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

// Recorders hands out one Recorder per chart id.
type Recorders struct {
	mu   sync.Mutex
	recs map[string]*Recorder
}

// NewRecorders creates an empty set.
func NewRecorders() *Recorders {
	return &Recorders{recs: make(map[string]*Recorder)}
}

// Factory returns the recorder for id, creating it on first use. It matches
// viewport.WithDelegateFactory.
func (rs *Recorders) Factory(id string) viewport.RenderDelegate {
	return rs.getOrCreate(id)
}

// Get returns the recorder for id, if any.
func (rs *Recorders) Get(id string) (*Recorder, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.recs[id]
	return r, ok
}

func (rs *Recorders) getOrCreate(id string) *Recorder {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.recs[id]
	if !ok {
		r = &Recorder{}
		rs.recs[id] = r
	}
	return r
}
