package bridges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/koscakluka/ema-graph/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is the generation state of a route.
type State int32

const (
	Idle State = iota
	Generating
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Generating:
		return "generating"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a generation.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// task is one run of a route's generate function. Terminal transitions are
// compare-and-swaps out of Generating: whichever of completion and
// cancellation swaps first wins and the other becomes a no-op.
type task struct {
	route   *Route
	trigger events.Event

	ctx    context.Context
	cancel context.CancelCauseFunc
	state  atomic.Int32
	done   chan struct{}

	// Written by the task goroutine only, read after done is closed.
	partial []events.Event
	err     error
}

func newTask(ctx context.Context, route *Route, trigger events.Event) *task {
	ctx, cancel := context.WithCancelCause(ctx)
	t := &task{
		route:   route,
		trigger: trigger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.state.Store(int32(Generating))
	return t
}

func (t *task) State() State {
	return State(t.state.Load())
}

func (t *task) run() {
	bridge := t.route.bridge
	defer func() {
		t.cancel(context.Canceled)
		close(t.done)
		bridge.mailbox.push(envelope{finished: t})
	}()

	ctx, span := tracer.Start(t.ctx, "generate", trace.WithAttributes(
		attribute.String("node", bridge.NodeID()),
		attribute.String("trigger.kind", string(t.trigger.Kind())),
	))
	defer span.End()

	err := t.consume(ctx)
	span.SetAttributes(attribute.Int("outputs", len(t.partial)))

	switch {
	case ctx.Err() != nil:
		// The swap only succeeds when the context ended outside the
		// cancellation protocol, e.g. the system context was cancelled.
		if t.state.CompareAndSwap(int32(Generating), int32(Cancelled)) {
			t.record(ctx, Cancelled)
		}
	case err != nil:
		if !t.state.CompareAndSwap(int32(Generating), int32(Failed)) {
			return
		}
		t.err = &GenerationError{Node: bridge.NodeID(), Kind: t.trigger.Kind(), Err: err}
		span.RecordError(t.err)
		span.SetStatus(codes.Error, t.err.Error())
		t.record(ctx, Failed)
		bridge.reportError(t.err)
	default:
		if t.state.CompareAndSwap(int32(Generating), int32(Completed)) {
			t.record(ctx, Completed)
		}
	}
	span.SetAttributes(attribute.String("state", t.State().String()))
}

func (t *task) record(ctx context.Context, state State) {
	generationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", t.route.bridge.NodeID()),
		attribute.String("state", state.String())))
}

func (t *task) generating() bool {
	return t.State() == Generating && t.ctx.Err() == nil
}

// consume pulls outputs one at a time and broadcasts each as soon as it is
// produced. No further item is requested once the task left Generating.
func (t *task) consume(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("generation panicked: %v", recovered)
		}
	}()

	route := t.route
	for event, genErr := range route.generate(ctx, t.trigger) {
		if !t.generating() {
			return nil
		}
		if genErr != nil {
			return genErr
		}
		if event == nil {
			continue
		}

		output, ok := route.apply(ctx, route.outputStages, event)
		if !ok {
			continue
		}
		if !t.generating() {
			return nil
		}

		t.partial = append(t.partial, output)
		if !route.broadcast {
			continue
		}
		if err := route.bridge.publish(ctx, output); err != nil {
			return fmt.Errorf("failed to broadcast %s: %w", output.Kind(), err)
		}
	}
	return nil
}

// logGenerationError is the default error reporter.
func logGenerationError(err error) {
	var generationErr *GenerationError
	var routingErr *RoutingError
	switch {
	case errors.As(err, &generationErr):
		logger.Error("generation failed",
			slog.String("node", generationErr.Node),
			slog.String("trigger.kind", string(generationErr.Kind)),
			slog.Any("error", generationErr.Err))
	case errors.As(err, &routingErr):
		logger.Warn("dropping event after stage failure",
			slog.String("node", routingErr.Node),
			slog.String("event.kind", string(routingErr.Kind)),
			slog.String("stage", routingErr.Stage),
			slog.Any("error", routingErr.Err))
	default:
		logger.Error("bridge error", slog.Any("error", err))
	}
}
