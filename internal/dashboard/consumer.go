package dashboard

import (
	"log/slog"
	"sync"

	"pagescope/internal/broker"
	"pagescope/internal/domain"
)

// Subscriber is the part of the broker the summary consumer needs.
type Subscriber interface {
	Subscribe(fn broker.Consumer) int
	Unsubscribe(id int)
	CurrentRange() domain.DateRange
}

// Consumer keeps the summary of the shared date range current. It
// recomputes on every committed range change and on dataset swaps.
type Consumer struct {
	log *slog.Logger
	src Subscriber
	id  int

	mu      sync.RWMutex
	records []domain.Record
	summary Summary
	prev    Summary
}

// NewConsumer creates a Consumer over records and subscribes it to src.
func NewConsumer(src Subscriber, records []domain.Record, log *slog.Logger) *Consumer {
	c := &Consumer{log: log, src: src, records: records}
	c.recompute(src.CurrentRange())
	c.id = src.Subscribe(func(ch broker.Change) { c.recompute(ch.Range) })
	return c
}

// SetRecords replaces the dataset and recomputes the summary.
func (c *Consumer) SetRecords(records []domain.Record) {
	c.mu.Lock()
	c.records = records
	r := c.summary.Range
	c.mu.Unlock()
	c.recompute(r)
}

// Summary returns the latest summary.
func (c *Consumer) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// Previous returns the summary of the period before the current range. It
// is empty when the current range is "All time".
func (c *Consumer) Previous() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prev
}

// Close unsubscribes from the broker.
func (c *Consumer) Close() {
	c.src.Unsubscribe(c.id)
}

func (c *Consumer) recompute(r domain.DateRange) {
	c.mu.RLock()
	records := c.records
	c.mu.RUnlock()

	s := Aggregate(records, r)
	var prev Summary
	if p := PreviousRange(r); !p.IsZero() {
		prev = Aggregate(records, p)
	}

	c.mu.Lock()
	c.summary = s
	c.prev = prev
	c.mu.Unlock()
	c.log.Debug("summary recomputed", "range", s.Label, "points", s.Points)
}
