package bridges

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-graph/core/events"
)

type stubNode struct{ id string }

func (n stubNode) ID() string { return n.id }

// recordingSink records broadcast events and arbitrary marks in one
// timeline.
type recordingSink struct {
	mu       sync.Mutex
	events   []events.Event
	timeline []string
	deliver  func(events.Event)
}

func (s *recordingSink) Broadcast(_ context.Context, _ Node, event events.Event) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.timeline = append(s.timeline, "event:"+events.Content(event))
	deliver := s.deliver
	s.mu.Unlock()

	if deliver != nil {
		deliver(event)
	}
	return nil
}

func (s *recordingSink) mark(m string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, m)
}

func (s *recordingSink) Events() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) Timeline() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.timeline))
	copy(out, s.timeline)
	return out
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *errorCollector) collect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCollector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

// timedGenerator yields n agent responses, one per interval, and honors
// cancellation between items. It tracks how many generations run at once.
type timedGenerator struct {
	n        int
	interval time.Duration

	started    atomic.Int32
	running    atomic.Int32
	maxRunning atomic.Int32
}

func (g *timedGenerator) Generate(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		run := g.started.Add(1)
		current := g.running.Add(1)
		defer g.running.Add(-1)
		for {
			previous := g.maxRunning.Load()
			if current <= previous || g.maxRunning.CompareAndSwap(previous, current) {
				break
			}
		}

		for i := range g.n {
			select {
			case <-ctx.Done():
				return
			case <-time.After(g.interval):
			}
			if !yield(events.NewAgentResponse(fmt.Sprintf("run %d chunk %d", run, i)), nil) {
				return
			}
		}
	}
}

func startBridge(t *testing.T, bridge *Bridge, sink Sink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := bridge.Start(ctx, sink); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = bridge.Stop(stopCtx, context.Canceled)
		cancel()
	})
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %s", description)
}
