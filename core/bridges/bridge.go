package bridges

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-graph/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Node is the identity a bridge routes for.
type Node interface {
	ID() string
}

// Sink receives every event a bridge broadcasts.
type Sink interface {
	Broadcast(ctx context.Context, from Node, event events.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, from Node, event events.Event) error

func (f SinkFunc) Broadcast(ctx context.Context, from Node, event events.Event) error {
	return f(ctx, from, event)
}

// Bridge wires event kinds to the behavior of one node.
//
// Routes are declared with On before Start. Once started, the bridge owns a
// single worker goroutine that drains its mailbox: interrupt bindings run
// first, then every route subscribed to the event's kind, in declaration
// order. Generation tasks run in their own goroutines.
type Bridge struct {
	node   Node
	routes []*Route

	onError func(error)

	mailbox *mailbox
	sink    Sink
	tasks   sync.WaitGroup

	lifecycleMu sync.Mutex
	running     bool
	stopping    bool
	stopCtx     context.Context
	stopCause   error
	abortOnce   sync.Once
	abort       chan struct{}
	done        chan struct{}
	err         error
}

func New(node Node) *Bridge {
	return &Bridge{
		node:    node,
		mailbox: newMailbox(),
		abort:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (b *Bridge) Node() Node { return b.node }

func (b *Bridge) NodeID() string {
	if b == nil || b.node == nil {
		return ""
	}
	return b.node.ID()
}

// On begins a route bound to events of kind.
func (b *Bridge) On(kind events.Kind) *Route {
	route := &Route{bridge: b, kind: kind}
	b.routes = append(b.routes, route)
	return route
}

// OnError replaces the default error reporter, which logs. It receives every
// RoutingError and GenerationError of the bridge.
func (b *Bridge) OnError(fn func(error)) *Bridge {
	b.onError = fn
	return b
}

func (b *Bridge) Routes() []*Route {
	routes := make([]*Route, len(b.routes))
	copy(routes, b.routes)
	return routes
}

// Kinds lists every kind the bridge reacts to, subscriptions and interrupt
// triggers alike.
func (b *Bridge) Kinds() []events.Kind {
	var kinds []events.Kind
	seen := map[events.Kind]bool{}
	add := func(kind events.Kind) {
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	for _, route := range b.routes {
		add(route.kind)
		for _, binding := range route.interrupts {
			add(binding.trigger)
		}
	}
	return kinds
}

// Validate checks the wiring. When known is non-nil every subscribed and
// trigger kind must be one of the known kinds. All problems are reported as
// joined ConfigurationErrors.
func (b *Bridge) Validate(known []events.Kind) error {
	var knownSet map[events.Kind]struct{}
	if known != nil {
		knownSet = make(map[events.Kind]struct{}, len(known))
		for _, kind := range known {
			knownSet[kind] = struct{}{}
		}
	}

	var errs []error
	if b.node == nil {
		errs = append(errs, configurationErrorf("bridge without node"))
	} else if b.node.ID() == "" {
		errs = append(errs, configurationErrorf("node without id"))
	}
	for _, route := range b.routes {
		errs = append(errs, route.validate(knownSet)...)
	}
	return errors.Join(errs...)
}

// Start launches the bridge worker. Outputs are broadcast to sink.
func (b *Bridge) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return configurationErrorf("node %q: bridge started without sink", b.NodeID())
	}

	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()
	switch {
	case b.stopping:
		return ErrStopped
	case b.running:
		return ErrAlreadyStarted
	}
	b.running = true
	b.sink = sink

	go func() {
		defer close(b.done)
		b.err = panicSafeNamedWorker(fmt.Sprintf("bridge %q", b.NodeID()), b.run)(ctx)
	}()
	return nil
}

// Deliver queues an event for the worker. It never blocks and reports false
// once the bridge is stopping.
func (b *Bridge) Deliver(event events.Event) bool {
	if event == nil {
		return false
	}
	return b.mailbox.push(envelope{event: event})
}

// Stop cancels every running generation with cause, following the same
// protocol as an interrupt, and stops the worker. Queued events are
// discarded. When ctx ends first the remaining tasks are abandoned and an
// ErrTaskLeaked error is returned. Stop is idempotent.
func (b *Bridge) Stop(ctx context.Context, cause error) error {
	b.lifecycleMu.Lock()
	if !b.stopping {
		b.stopping = true
		b.stopCtx, b.stopCause = ctx, cause
		b.mailbox.Close()
		if !b.running {
			close(b.done)
		}
	}
	b.lifecycleMu.Unlock()

	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		b.abortOnce.Do(func() { close(b.abort) })
		return fmt.Errorf("node %q: %w", b.NodeID(), ErrTaskLeaked)
	}
}

// Done is closed once the worker exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) run(ctx context.Context) error {
	for item := range b.mailbox.Items {
		if item.finished != nil {
			item.finished.route.finished(ctx, item.finished)
			continue
		}
		b.dispatch(ctx, item.event)
	}

	b.lifecycleMu.Lock()
	stopCtx, cause := b.stopCtx, b.stopCause
	b.lifecycleMu.Unlock()
	return b.cancelAll(stopCtx, cause)
}

func (b *Bridge) dispatch(ctx context.Context, event events.Event) {
	ctx, span := tracer.Start(ctx, "bridge dispatch", trace.WithAttributes(
		attribute.String("node", b.NodeID()),
		attribute.String("event.kind", string(event.Kind())),
	))
	defer span.End()

	for _, route := range b.routes {
		binding, ok := route.triggeredBy(event.Kind())
		if !ok || route.reap() == nil {
			continue
		}
		span.AddEvent("interrupting generation", trace.WithAttributes(attribute.String("route", string(route.kind))))
		if err := route.cancel(ctx, event, ErrInterrupted, binding.handler); err != nil {
			span.RecordError(err)
			b.reportError(err)
		}
	}

	for _, route := range b.routes {
		if route.kind == event.Kind() {
			route.process(ctx, event)
		}
	}
}

// cancelAll runs the cancellation protocol on every generating route and
// waits for every task goroutine to exit.
func (b *Bridge) cancelAll(ctx context.Context, cause error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, route := range b.routes {
		if route.reap() == nil {
			continue
		}
		if err := route.cancel(ctx, nil, cause, nil); err != nil {
			errs = append(errs, err)
		}
	}

	finished := make(chan struct{})
	go func() {
		b.tasks.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-b.abort:
		errs = append(errs, fmt.Errorf("node %q: %w", b.NodeID(), ErrTaskLeaked))
	}
	return errors.Join(errs...)
}

func (b *Bridge) publish(ctx context.Context, event events.Event) error {
	return b.sink.Broadcast(ctx, b.node, event)
}

func (b *Bridge) reportRoutingError(ctx context.Context, err *RoutingError) {
	routingErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", err.Node),
		attribute.String("stage", err.Stage)))
	b.reportError(err)
}

func (b *Bridge) reportError(err error) {
	if b.onError != nil {
		b.onError(err)
		return
	}
	logGenerationError(err)
}
