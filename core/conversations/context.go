package conversations

import (
	"sync"

	"github.com/koscakluka/ema-graph/core/events"
)

// Context is an append-only, ordered log of events scoped to one call.
//
// All mutation goes through Append/Extend (and the explicit Clear/Retain used
// by node-private contexts) which serialize on a single mutex. Once the
// configured maximum is exceeded the oldest events are trimmed and are gone
// for good.
type Context struct {
	mu        sync.RWMutex
	events    []events.Event
	maxEvents int
	trimmed   int
}

// New creates an empty context.
func New(opts ...Option) *Context {
	c := &Context{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append adds an event to the end of the log and trims the oldest events past
// the configured maximum. The event is visible to every reader once Append
// returns.
func (c *Context) Append(event events.Event) {
	if event == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.trim()
}

// Extend appends several events contiguously.
func (c *Context) Extend(evts ...events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, event := range evts {
		if event != nil {
			c.events = append(c.events, event)
		}
	}
	c.trim()
}

func (c *Context) trim() {
	if c.maxEvents <= 0 || len(c.events) <= c.maxEvents {
		return
	}

	overflow := len(c.events) - c.maxEvents
	// Trimmed slots stay untouched in the backing array: snapshots taken
	// before the trim may still reference them. They are released on the next
	// reallocation.
	c.events = c.events[overflow:]
	c.trimmed += overflow
}

// Len returns the number of retained events.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// MaxEvents returns the configured maximum, 0 meaning unbounded.
func (c *Context) MaxEvents() int {
	return c.maxEvents
}

// Trimmed returns how many events were dropped by the retention policy.
func (c *Context) Trimmed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.trimmed
}

// LatestOf returns the most recent retained event of the given kind.
func (c *Context) LatestOf(kind events.Kind) (events.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return latestOf(c.events, kind)
}

// LatestUserTranscript returns the content of the most recent user
// transcription, or an empty string when there is none.
func (c *Context) LatestUserTranscript() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return latestUserTranscript(c.events)
}

// Snapshot returns a point-in-time view of the log. Events appended after the
// snapshot was taken are never observed through it.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := len(c.events)
	return Snapshot{events: c.events[:n:n]}
}

// Clear removes every event.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// Retain keeps only the events for which keep returns true.
func (c *Context) Retain(keep func(events.Event) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	retained := make([]events.Event, 0, len(c.events))
	for _, event := range c.events {
		if keep(event) {
			retained = append(retained, event)
		}
	}
	c.events = retained
}

func latestOf(evts []events.Event, kind events.Kind) (events.Event, bool) {
	for i := len(evts) - 1; i >= 0; i-- {
		if evts[i].Kind() == kind {
			return evts[i], true
		}
	}
	return nil, false
}

func latestUserTranscript(evts []events.Event) string {
	event, ok := latestOf(evts, events.KindUserTranscriptionReceived)
	if !ok {
		return ""
	}
	return events.Content(event)
}
