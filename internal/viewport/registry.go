package viewport

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"pagescope/internal/domain"
)

// Registry holds one controller per chart, keyed by chart id, and tracks
// which chart receives keyboard input.
type Registry struct {
	cfg  Config
	opts []Option
	log  *slog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller
	active      string
	newDelegate func(id string) RenderDelegate
}

// NewRegistry creates an empty Registry. opts apply to every controller it
// creates.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	o := buildOptions(opts)
	return &Registry{
		cfg:         cfg,
		opts:        opts,
		log:         o.log,
		controllers: make(map[string]*Controller),
		newDelegate: o.newDelegate,
	}
}

// GetOrCreate returns the controller for id, creating it on first use. The
// first chart created becomes active.
func (r *Registry) GetOrCreate(id string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[id]; ok {
		return c
	}
	opts := r.opts
	if r.newDelegate != nil {
		opts = append(append([]Option(nil), r.opts...), WithDelegate(r.newDelegate(id)))
	}
	c := NewController(id, r.cfg, opts...)
	r.controllers[id] = c
	if r.active == "" {
		r.active = id
	}
	r.log.Debug("chart created", "chart", id)
	return c
}

// Get retrieves a controller by id. The second return value indicates
// whether it exists.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[id]
	return c, ok
}

// IDs returns a sorted slice of all chart ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.controllers)
}

// SetActive marks which chart receives keyboard input.
func (r *Registry) SetActive(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controllers[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChart, id)
	}
	r.active = id
	return nil
}

// ActiveID returns the id of the active chart, or "" if there is none.
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Active returns the active controller.
func (r *Registry) Active() (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[r.active]
	return c, ok
}

// Destroy removes a chart and cancels its pending propagation. If it was
// active, the first remaining chart (by id) becomes active.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	c, ok := r.controllers[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.controllers, id)
	if r.active == id {
		r.active = ""
		if ids := sortedKeys(r.controllers); len(ids) > 0 {
			r.active = ids[0]
		}
	}
	r.mu.Unlock()

	c.Destroy()
	r.log.Debug("chart destroyed", "chart", id)
	return true
}

// ApplyExternalRange applies dr to every chart except exceptID. It makes the
// registry the broker's follower.
func (r *Registry) ApplyExternalRange(dr domain.DateRange, exceptID string) {
	for _, c := range r.snapshot() {
		if c.ID() == exceptID {
			continue
		}
		c.ApplyExternalRange(dr)
	}
}

// SetDatasetAll gives every chart the same records.
func (r *Registry) SetDatasetAll(records []domain.Record) {
	for _, c := range r.snapshot() {
		c.SetDataset(records)
	}
}

// OnZoomDelta forwards a zoom gesture to the active chart.
func (r *Registry) OnZoomDelta(delta float64, pointerRatio *float64) error {
	c, ok := r.Active()
	if !ok {
		return ErrNoActiveChart
	}
	return c.OnZoomDelta(delta, pointerRatio)
}

// Pan forwards a pan request to the active chart.
func (r *Registry) Pan(dir Direction) (bool, error) {
	c, ok := r.Active()
	if !ok {
		return false, ErrNoActiveChart
	}
	return c.Pan(dir), nil
}

// Reset resets the active chart.
func (r *Registry) Reset() error {
	c, ok := r.Active()
	if !ok {
		return ErrNoActiveChart
	}
	c.ResetToDefault()
	return nil
}

// snapshot returns the controllers so callbacks run without the registry
// lock.
func (r *Registry) snapshot() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Controller, 0, len(r.controllers))
	for _, id := range sortedKeys(r.controllers) {
		out = append(out, r.controllers[id])
	}
	return out
}

func sortedKeys(m map[string]*Controller) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
