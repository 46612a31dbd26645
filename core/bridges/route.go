package bridges

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/koscakluka/ema-graph/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type (
	// Predicate decides whether an event continues down the route. It runs on
	// the routing path and must not block.
	Predicate func(events.Event) bool
	// MapFunc transforms an event synchronously. Returning a nil event ends
	// the route for that event without error.
	MapFunc func(ctx context.Context, event events.Event) (events.Event, error)
	// GenerateFunc lazily produces output events for a trigger. It must stop
	// producing once ctx is cancelled.
	GenerateFunc func(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error]
	// InterruptHandler reconciles a cancelled generation. It runs after the
	// generation task exited and before the route processes further input.
	InterruptHandler func(ctx context.Context, interruption Interruption)
)

// Interruption describes a cancelled generation.
type Interruption struct {
	// Trigger is the event that caused the cancellation, nil on shutdown.
	Trigger events.Event
	// Partial holds the outputs the task had already emitted, in order.
	Partial []events.Event
	// Cause is ErrInterrupted, ErrReplaced or the shutdown cause.
	Cause error
}

// PartialText joins the content of the agent responses emitted before the
// cancellation.
func (i Interruption) PartialText() string {
	var b strings.Builder
	for _, event := range i.Partial {
		if response, ok := event.(events.AgentResponse); ok {
			b.WriteString(response.Content)
		}
	}
	return b.String()
}

type stage struct {
	name   string
	filter Predicate
	mapFn  MapFunc
}

type interruptBinding struct {
	trigger events.Kind
	handler InterruptHandler
}

// Route is one declarative pipeline of a bridge, bound to a single event
// kind. Stages run in declaration order; Filter and Map stages declared after
// Stream apply to the generated events instead of the trigger.
type Route struct {
	bridge *Bridge
	kind   events.Kind

	inputStages  []stage
	outputStages []stage
	generate     GenerateFunc
	interrupts   []interruptBinding
	policy       BusyPolicy
	broadcast    bool
	configErrs   []string

	// Owned by the bridge worker.
	active atomic.Pointer[task]
	queued events.Event
}

func (r *Route) Kind() events.Kind { return r.kind }

// Filter drops events for which pred returns false.
func (r *Route) Filter(pred Predicate) *Route {
	if pred == nil {
		r.configErrs = append(r.configErrs, "nil filter predicate")
	}
	r.addStage(stage{name: "filter", filter: pred})
	return r
}

// Map transforms events synchronously.
func (r *Route) Map(fn MapFunc) *Route {
	if fn == nil {
		r.configErrs = append(r.configErrs, "nil map function")
	}
	r.addStage(stage{name: "map", mapFn: fn})
	return r
}

func (r *Route) addStage(s stage) {
	if r.generate != nil {
		r.outputStages = append(r.outputStages, s)
		return
	}
	r.inputStages = append(r.inputStages, s)
}

// Stream binds a generation operation started by every event that reaches
// this stage.
func (r *Route) Stream(gen GenerateFunc) *Route {
	switch {
	case gen == nil:
		r.configErrs = append(r.configErrs, "nil generate function")
	case r.generate != nil:
		r.configErrs = append(r.configErrs, "stream declared twice")
	default:
		r.generate = gen
	}
	return r
}

// InterruptOn cancels the active generation when an event of the trigger
// kind reaches the bridge, then calls handler.
func (r *Route) InterruptOn(trigger events.Kind, handler InterruptHandler) *Route {
	r.interrupts = append(r.interrupts, interruptBinding{trigger: trigger, handler: handler})
	return r
}

// WhileGenerating sets the busy policy of the Stream stage.
func (r *Route) WhileGenerating(policy BusyPolicy) *Route {
	r.policy = policy
	return r
}

// Broadcast publishes the route output: the generated events when the route
// streams, the (mapped) event itself otherwise.
func (r *Route) Broadcast() *Route {
	r.broadcast = true
	return r
}

// State reports whether the route currently has a running generation.
func (r *Route) State() State {
	if t := r.active.Load(); t != nil && t.State() == Generating {
		return Generating
	}
	return Idle
}

func (r *Route) triggeredBy(kind events.Kind) (interruptBinding, bool) {
	for _, binding := range r.interrupts {
		if binding.trigger == kind {
			return binding, true
		}
	}
	return interruptBinding{}, false
}

func (r *Route) validate(known map[events.Kind]struct{}) []error {
	nodeID := r.bridge.NodeID()
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, configurationErrorf("node %q route %q: "+format, append([]any{nodeID, r.kind}, args...)...))
	}

	checkKind := func(role string, kind events.Kind) {
		if !kind.Valid() {
			report("invalid %s kind %q", role, kind)
			return
		}
		if known != nil {
			if _, ok := known[kind]; !ok {
				report("unknown %s kind %q", role, kind)
			}
		}
	}

	checkKind("subscribed", r.kind)
	for _, reason := range r.configErrs {
		report("%s", reason)
	}

	seen := []events.Kind{}
	for _, binding := range r.interrupts {
		checkKind("interrupt trigger", binding.trigger)
		if binding.handler == nil {
			report("nil interrupt handler for %q", binding.trigger)
		}
		if slices.Contains(seen, binding.trigger) {
			report("duplicate interrupt trigger %q", binding.trigger)
		}
		seen = append(seen, binding.trigger)
	}
	if len(r.interrupts) > 0 && r.generate == nil {
		report("interrupt declared without a stream stage")
	}
	if r.policy < Drop || r.policy > Replace {
		report("unknown busy policy %d", r.policy)
	}
	return errs
}

// apply runs the given stages. It reports false when the event was filtered
// out, mapped to nil or dropped because a stage failed.
func (r *Route) apply(ctx context.Context, stages []stage, event events.Event) (events.Event, bool) {
	for _, s := range stages {
		var keep bool
		err := callSafely(func() error {
			if s.filter != nil {
				keep = s.filter(event)
				return nil
			}
			mapped, err := s.mapFn(ctx, event)
			if err != nil {
				return err
			}
			event, keep = mapped, mapped != nil
			return nil
		})
		if err != nil {
			r.bridge.reportRoutingError(ctx, &RoutingError{Node: r.bridge.NodeID(), Kind: event.Kind(), Stage: s.name, Err: err})
			return nil, false
		}
		if !keep {
			return nil, false
		}
	}
	return event, true
}

// process runs an event of the subscribed kind through the route. Worker
// only.
func (r *Route) process(ctx context.Context, event events.Event) {
	event, ok := r.apply(ctx, r.inputStages, event)
	if !ok {
		return
	}

	if r.generate == nil {
		if r.broadcast {
			if err := r.bridge.publish(ctx, event); err != nil {
				logger.Warn("failed to broadcast mapped event",
					slog.String("node", r.bridge.NodeID()),
					slog.String("event.kind", string(event.Kind())),
					slog.Any("error", err))
			}
		}
		return
	}

	if r.reap() != nil {
		switch r.policy {
		case QueueLatest:
			r.queued = event
			return
		case Replace:
			r.cancel(ctx, event, ErrReplaced, nil)
		default:
			droppedEventCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("node", r.bridge.NodeID()),
				attribute.String("event.kind", string(r.kind))))
			logger.Debug("dropping trigger while generating",
				slog.String("node", r.bridge.NodeID()),
				slog.String("event.kind", string(event.Kind())))
			return
		}
	}

	r.start(ctx, event)
}

// reap returns the active task while it is generating and forgets it once it
// reached a terminal state.
func (r *Route) reap() *task {
	t := r.active.Load()
	if t == nil {
		return nil
	}
	if t.State() != Generating {
		r.active.Store(nil)
		return nil
	}
	return t
}

func (r *Route) start(ctx context.Context, trigger events.Event) {
	t := newTask(ctx, r, trigger)
	r.queued = nil
	r.active.Store(t)
	r.bridge.tasks.Add(1)
	go func() {
		defer r.bridge.tasks.Done()
		t.run()
	}()
}

// finished is called by the worker once a task reported completion.
func (r *Route) finished(ctx context.Context, t *task) {
	if r.active.Load() != t {
		return
	}
	r.active.Store(nil)
	if r.queued != nil {
		next := r.queued
		r.queued = nil
		r.start(ctx, next)
	}
}

// cancel runs the cancellation protocol on the active task: the task is
// marked cancelled, its context is cancelled, the worker waits for it to exit
// and only then the interrupt handler runs. A task that already reached a
// terminal state is left alone. Worker only.
func (r *Route) cancel(ctx context.Context, trigger events.Event, cause error, handler InterruptHandler) error {
	t := r.active.Load()
	if t == nil {
		return nil
	}
	r.active.Store(nil)
	r.queued = nil

	if !t.state.CompareAndSwap(int32(Generating), int32(Cancelled)) {
		return nil
	}
	t.cancel(cause)
	generationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", r.bridge.NodeID()),
		attribute.String("state", Cancelled.String())))

	select {
	case <-t.done:
	case <-r.bridge.abort:
		return fmt.Errorf("node %q route %q: %w", r.bridge.NodeID(), r.kind, ErrTaskLeaked)
	}

	if handler == nil && len(r.interrupts) > 0 {
		handler = r.interrupts[0].handler
	}
	if handler == nil {
		return nil
	}

	interruption := Interruption{Trigger: trigger, Partial: slices.Clone(t.partial), Cause: cause}
	if err := callSafely(func() error { handler(ctx, interruption); return nil }); err != nil {
		logger.Error("interrupt handler failed",
			slog.String("node", r.bridge.NodeID()),
			slog.String("route", string(r.kind)),
			slog.Any("error", err))
	}
	return nil
}
