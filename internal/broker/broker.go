// Package broker holds the shared date range and propagates changes to it.
// Updates are debounced: the newest pending update wins, followers (other
// chart viewports) are synced first, and subscribers are notified once the
// range settles.
package broker

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"pagescope/internal/domain"
	"pagescope/internal/util"
)

// Origin says where a range update came from. It selects the debounce
// policy.
type Origin int

const (
	// Gesture updates come from continuous zoom and pan input.
	Gesture Origin = iota + 1
	// Explicit updates come from discrete actions: a date picker, a reset,
	// an API call.
	Explicit
)

func (o Origin) String() string {
	switch o {
	case Gesture:
		return "gesture"
	case Explicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Phase is the propagation state of the broker.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseFlushing
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// Change is one committed range update.
type Change struct {
	Range  domain.DateRange
	Origin Origin
	Source string // id of the viewport that produced it, empty for external callers
}

// Consumer is called with every committed change.
type Consumer func(Change)

// Follower keeps chart viewports aligned with the shared range. The source
// viewport is excluded so that it does not re-apply its own range.
type Follower interface {
	ApplyExternalRange(r domain.DateRange, exceptID string)
}

// Config holds the debounce delays.
type Config struct {
	GestureSyncDelay     time.Duration `yaml:"gesture_sync_delay"`
	GestureConsumerDelay time.Duration `yaml:"gesture_consumer_delay"`
	ExplicitDelay        time.Duration `yaml:"explicit_delay"`
}

// DefaultConfig returns the stock delays. Gestures sync sibling charts
// quickly and wait longer before data consumers refetch.
func DefaultConfig() Config {
	return Config{
		GestureSyncDelay:     40 * time.Millisecond,
		GestureConsumerDelay: 150 * time.Millisecond,
		ExplicitDelay:        20 * time.Millisecond,
	}
}

// Option configures a Broker.
type Option func(*Broker)

// WithScheduler sets the timer source. Tests use util.ManualScheduler.
func WithScheduler(s util.Scheduler) Option {
	return func(b *Broker) { b.sched = s }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broker) { b.log = log }
}

// WithFollower sets the follower synced before consumers.
func WithFollower(f Follower) Option {
	return func(b *Broker) { b.follower = f }
}

// WithDisplay registers a callback for the display text. It is called
// synchronously on every accepted update.
func WithDisplay(fn func(string)) Option {
	return func(b *Broker) { b.onDisplay = fn }
}

// WithStatePath persists the committed range as JSON and restores it on
// construction.
func WithStatePath(path string) Option {
	return func(b *Broker) { b.statePath = path }
}

// Broker owns the shared date range.
type Broker struct {
	cfg       Config
	sched     util.Scheduler
	log       *slog.Logger
	statePath string

	mu         sync.Mutex
	phase      Phase
	current    domain.DateRange // latest accepted, shown in the display
	committed  domain.DateRange // last range delivered to consumers
	synced     domain.DateRange // last range pushed to followers
	pending    *Change
	gen        uint64 // bumped per pending change; stale timer callbacks compare against it
	syncTimer  util.Timer
	flushTimer util.Timer
	reflush    bool
	closed     bool
	follower   Follower
	onDisplay  func(string)

	subsMu    sync.Mutex
	nextSubID int
	consumers map[int]Consumer
	watchers  map[int]chan Change
}

// New creates a Broker.
func New(cfg Config, opts ...Option) *Broker {
	b := &Broker{
		cfg:       cfg,
		sched:     util.RealScheduler{},
		log:       slog.Default(),
		consumers: make(map[int]Consumer),
		watchers:  make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.load()
	return b
}

// SetFollower replaces the follower. Charts and the broker reference each
// other, so the follower is usually attached after both exist.
func (b *Broker) SetFollower(f Follower) {
	b.mu.Lock()
	b.follower = f
	b.mu.Unlock()
}

// UpdateRange schedules r for propagation on behalf of an external caller.
func (b *Broker) UpdateRange(r domain.DateRange, origin Origin) {
	b.UpdateRangeFrom("", r, origin)
}

// UpdateRangeFrom schedules r for propagation. The display text changes
// immediately; followers and consumers are reached after the origin's
// debounce delay. A newer update replaces an older pending one. Invalid
// ranges are treated as "no filter".
func (b *Broker) UpdateRangeFrom(source string, r domain.DateRange, origin Origin) {
	norm := r.Normalize()
	if !r.IsZero() && norm.IsZero() {
		b.log.Warn("invalid range treated as no filter",
			"start", r.Start, "end", r.End, "source", source)
	}
	if origin != Gesture && origin != Explicit {
		b.log.Warn("unknown update origin, using explicit policy", "origin", int(origin))
		origin = Explicit
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.current = norm
	text := norm.String()
	display := b.onDisplay

	if b.pending == nil && b.phase != PhaseFlushing && norm.Equal(b.committed) && norm.Equal(b.synced) {
		b.mu.Unlock()
		if display != nil {
			display(text)
		}
		return
	}

	b.pending = &Change{Range: norm, Origin: origin, Source: source}
	b.stopTimersLocked()
	gen := b.gen
	switch origin {
	case Gesture:
		b.syncTimer = b.sched.AfterFunc(b.cfg.GestureSyncDelay, func() { b.syncFollowers(gen) })
		b.flushTimer = b.sched.AfterFunc(b.cfg.GestureConsumerDelay, func() { b.flush(gen) })
	case Explicit:
		b.flushTimer = b.sched.AfterFunc(b.cfg.ExplicitDelay, func() { b.flush(gen) })
	}
	if b.phase == PhaseIdle {
		b.phase = PhasePending
	}
	b.mu.Unlock()

	if display != nil {
		display(text)
	}
}

// CancelFrom drops a pending update produced by source, restoring the
// display to the committed range. Used when a viewport is reset or
// destroyed mid-debounce.
func (b *Broker) CancelFrom(source string) {
	b.mu.Lock()
	if b.pending == nil || b.pending.Source != source {
		b.mu.Unlock()
		return
	}
	b.pending = nil
	b.stopTimersLocked()
	if b.phase == PhasePending {
		b.phase = PhaseIdle
	}
	b.current = b.committed
	text := b.current.String()
	display := b.onDisplay
	b.mu.Unlock()

	b.log.Debug("pending range cancelled", "source", source)
	if display != nil {
		display(text)
	}
}

// CurrentRange returns the latest accepted range.
func (b *Broker) CurrentRange() domain.DateRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// CommittedRange returns the range last delivered to consumers.
func (b *Broker) CommittedRange() domain.DateRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// DisplayText renders the current range.
func (b *Broker) DisplayText() string {
	return b.CurrentRange().String()
}

// Phase reports the propagation state.
func (b *Broker) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Subscribe registers fn for committed changes and returns its id.
func (b *Broker) Subscribe(fn Consumer) int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id := b.nextSubID
	b.nextSubID++
	b.consumers[id] = fn
	return id
}

// Unsubscribe removes a consumer registered with Subscribe.
func (b *Broker) Unsubscribe(id int) {
	b.subsMu.Lock()
	delete(b.consumers, id)
	b.subsMu.Unlock()
}

// Watch returns a channel of committed changes. bufSize controls the channel
// buffer; slow watchers have changes dropped.
func (b *Broker) Watch(bufSize int) (int, <-chan Change) {
	ch := make(chan Change, bufSize)
	b.subsMu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.watchers[id] = ch
	b.subsMu.Unlock()
	return id, ch
}

// Unwatch removes a watcher and closes its channel.
func (b *Broker) Unwatch(id int) {
	b.subsMu.Lock()
	if ch, ok := b.watchers[id]; ok {
		delete(b.watchers, id)
		close(ch)
	}
	b.subsMu.Unlock()
}

// Close stops pending timers and closes all watch channels. Later updates
// are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.pending = nil
	b.stopTimersLocked()
	b.phase = PhaseIdle
	b.mu.Unlock()

	b.subsMu.Lock()
	for id, ch := range b.watchers {
		delete(b.watchers, id)
		close(ch)
	}
	b.subsMu.Unlock()
}

// syncFollowers is the first gesture stage: align sibling viewports without
// waiting for the consumer delay. gen identifies the pending change the timer
// was armed for.
func (b *Broker) syncFollowers(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || b.pending == nil || b.phase == PhaseFlushing || b.closed {
		b.mu.Unlock()
		return
	}
	ch := *b.pending
	follower := b.follower
	if ch.Range.Equal(b.synced) || follower == nil {
		b.synced = ch.Range
		b.mu.Unlock()
		return
	}
	b.synced = ch.Range
	b.phase = PhaseFlushing
	b.mu.Unlock()

	follower.ApplyExternalRange(ch.Range, ch.Source)

	b.mu.Lock()
	b.settleLocked()
	b.mu.Unlock()
}

// flush commits the pending change. Calls that arrive while callbacks run
// only replace the pending slot; their own timers deliver them later. A
// callback armed for an older change is ignored, since a timer already
// waiting on mu cannot be stopped.
func (b *Broker) flush(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return
	}
	if b.phase == PhaseFlushing {
		b.reflush = true
		b.mu.Unlock()
		return
	}
	if b.pending == nil {
		b.phase = PhaseIdle
		b.mu.Unlock()
		return
	}
	ch := *b.pending
	b.pending = nil
	b.stopTimersLocked()

	syncNeeded := !ch.Range.Equal(b.synced)
	notifyNeeded := !ch.Range.Equal(b.committed)
	b.synced = ch.Range
	b.committed = ch.Range
	follower := b.follower
	b.phase = PhaseFlushing
	b.mu.Unlock()

	if syncNeeded && follower != nil {
		follower.ApplyExternalRange(ch.Range, ch.Source)
	}
	if notifyNeeded {
		b.log.Debug("range committed", "range", ch.Range.String(),
			"origin", ch.Origin.String(), "source", ch.Source)
		b.persist(ch.Range)
		b.broadcast(ch)
	}

	b.mu.Lock()
	b.settleLocked()
	b.mu.Unlock()
}

// settleLocked leaves the flushing phase. Must be called with mu held.
func (b *Broker) settleLocked() {
	if b.closed {
		b.phase = PhaseIdle
		return
	}
	if b.pending == nil {
		b.phase = PhaseIdle
		b.reflush = false
		return
	}
	b.phase = PhasePending
	if b.reflush {
		b.reflush = false
		gen := b.gen
		b.flushTimer = b.sched.AfterFunc(0, func() { b.flush(gen) })
	}
}

// stopTimersLocked stops outstanding timers and invalidates callbacks that
// already fired but have not yet taken mu. Must be called with mu held.
func (b *Broker) stopTimersLocked() {
	b.gen++
	if b.syncTimer != nil {
		b.syncTimer.Stop()
		b.syncTimer = nil
	}
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
}

// broadcast delivers ch to consumers and, non-blocking, to watchers.
func (b *Broker) broadcast(ch Change) {
	b.subsMu.Lock()
	consumers := make([]Consumer, 0, len(b.consumers))
	for _, fn := range b.consumers {
		consumers = append(consumers, fn)
	}
	for _, w := range b.watchers {
		select {
		case w <- ch:
		default:
			// Slow watcher; drop the change.
		}
	}
	b.subsMu.Unlock()

	for _, fn := range consumers {
		fn(ch)
	}
}

// persistedRange is the on-disk form of the committed range.
type persistedRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// load restores the committed range from statePath.
func (b *Broker) load() {
	if b.statePath == "" {
		return
	}
	data, err := os.ReadFile(b.statePath)
	if err != nil {
		return // no state yet
	}
	var p persistedRange
	if err := json.Unmarshal(data, &p); err != nil {
		b.log.Warn("loading range state", "path", b.statePath, "error", err)
		return
	}
	r, err := domain.ParseDateRange(p.Start, p.End)
	if err != nil {
		b.log.Warn("ignoring stored range", "path", b.statePath, "error", err)
		return
	}
	b.current, b.committed, b.synced = r, r, r
	b.log.Info("restored range", "range", r.String())
}

// persist writes r to statePath.
func (b *Broker) persist(r domain.DateRange) {
	if b.statePath == "" {
		return
	}
	var p persistedRange
	if !r.IsZero() {
		p = persistedRange{Start: r.Start.Format(domain.DateLayout), End: r.End.Format(domain.DateLayout)}
	}
	data, err := json.Marshal(p)
	if err != nil {
		b.log.Error("marshalling range state", "error", err)
		return
	}
	if err := os.WriteFile(b.statePath, data, 0644); err != nil {
		b.log.Error("writing range state", "path", b.statePath, "error", err)
	}
}
