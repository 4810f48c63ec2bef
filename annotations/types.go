// Package annotations provides a low-overhead event stream for tracking
// what the plan rewriter and the parameter-bind hook did to a query:
// which filters were injected, skipped, or disabled, and how parameters
// resolved at bind time.
package annotations

import (
	"sync"
	"time"
)

// Event name constants following hierarchical naming pattern
const (
	// Rewrite lifecycle
	RewriteBegin    = "rewrite/begin"
	RewriteComplete = "rewrite/complete"

	// Per-filter decisions during a traversal
	FilterInjected = "filter/injected"
	FilterFused    = "filter/fused"
	FilterDisabled = "filter/disabled"
	FilterSkipped  = "filter/skipped"

	// Parameter binding
	ParamResolved = "param/resolved"
	ParamAbsent   = "param/absent"

	// Session lifecycle
	SessionCleared = "session/cleared"

	// Errors
	ErrorRewrite = "error/rewrite"
	ErrorBinding = "error/binding"
)

// Event represents a single annotation event during query rewriting or
// parameter binding.
type Event struct {
	Name    string                 // Event name using hierarchical constants above
	Start   time.Time              // Start timestamp
	End     time.Time              // End timestamp
	Latency time.Duration          // Duration (End - Start)
	Data    map[string]interface{} // Additional event-specific data
}

// Handler processes annotation events as they occur.
type Handler func(event Event)

// Collector accumulates events during query rewriting and binding.
type Collector struct {
	enabled bool
	handler Handler

	mu     sync.Mutex
	events []Event
}

// NewCollector creates a new annotation collector. A nil handler disables
// collection entirely.
func NewCollector(handler Handler) *Collector {
	return &Collector{
		enabled: handler != nil,
		handler: handler,
		events:  make([]Event, 0, 32),
	}
}

// Enabled reports whether the collector records anything. Callers can use
// this to skip building event data maps on the hot path.
func (c *Collector) Enabled() bool {
	return c != nil && c.enabled
}

// Add records a new event. Thread-safe for concurrent access.
func (c *Collector) Add(event Event) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()

	// Call handler outside the lock to avoid deadlocks
	if c.handler != nil {
		c.handler(event)
	}
}

// AddTiming records an event with timing information.
func (c *Collector) AddTiming(name string, start time.Time, data map[string]interface{}) {
	if !c.Enabled() {
		return
	}

	end := time.Now()
	c.Add(Event{
		Name:    name,
		Start:   start,
		End:     end,
		Latency: end.Sub(start),
		Data:    data,
	})
}

// Events returns a copy of all collected events.
func (c *Collector) Events() []Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	eventsCopy := make([]Event, len(c.events))
	copy(eventsCopy, c.events)
	return eventsCopy
}

// Reset clears the collector for reuse.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = c.events[:0]
}
