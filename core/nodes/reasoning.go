package nodes

import (
	"context"
	"iter"
	"log/slog"
	"strings"

	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxContextEvents = 100

// InterruptPolicy decides what happens to the text a node already produced
// when its generation is interrupted.
type InterruptPolicy int

const (
	// KeepPartial records the partial response in the node's context so the
	// next generation knows what the user already heard.
	KeepPartial InterruptPolicy = iota
	// DropPartial forgets the partial response.
	DropPartial
)

// Reasoning is the reusable core of a conversational node. It keeps a
// private context fed through AddEvent and runs its process function over a
// snapshot of that context on every generation.
type Reasoning struct {
	id       string
	process  ProcessFunc
	context  *conversations.Context
	policy   InterruptPolicy
	busy     bridges.BusyPolicy
	textOnly bool
}

type ReasoningOption func(*Reasoning)

// WithMaxContextEvents bounds the private context, 100 events by default.
func WithMaxContextEvents(maxEvents int) ReasoningOption {
	return func(r *Reasoning) {
		r.context = conversations.New(conversations.WithMaxEvents(maxEvents))
	}
}

func WithInterruptPolicy(policy InterruptPolicy) ReasoningOption {
	return func(r *Reasoning) {
		r.policy = policy
	}
}

// WithBusyPolicy sets what Bind does with a stopped-speaking event that
// arrives while a response is being generated.
func WithBusyPolicy(policy bridges.BusyPolicy) ReasoningOption {
	return func(r *Reasoning) {
		r.busy = policy
	}
}

// WithTextOnly makes the process function see user transcripts and agent
// responses only.
func WithTextOnly() ReasoningOption {
	return func(r *Reasoning) {
		r.textOnly = true
	}
}

func NewReasoning(id string, process ProcessFunc, opts ...ReasoningOption) *Reasoning {
	r := &Reasoning{
		id:      id,
		process: process,
		context: conversations.New(conversations.WithMaxEvents(defaultMaxContextEvents)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reasoning) ID() string { return r.id }

// Context exposes the node's private context.
func (r *Reasoning) Context() *conversations.Context { return r.context }

// AddEvent appends the event to the private context and passes it on. It is
// meant to be used as a Map stage.
func (r *Reasoning) AddEvent(_ context.Context, event events.Event) (events.Event, error) {
	r.context.Append(event)
	return event, nil
}

// ClearContext forgets everything the node has seen.
func (r *Reasoning) ClearContext() {
	r.context.Clear()
}

// Generate runs the process function over a snapshot taken when the
// generation starts. Events arriving meanwhile are not observed by this run.
// Once the run completes, the produced response is recorded in the private
// context with consecutive response chunks folded into one event.
func (r *Reasoning) Generate(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "reasoning generate", trace.WithAttributes(
			attribute.String("node", r.id),
			attribute.String("trigger.kind", string(trigger.Kind())),
		))
		defer span.End()

		snapshot := r.context.Snapshot()
		if r.textOnly {
			snapshot = snapshot.TextOnly()
		}
		span.SetAttributes(attribute.Int("context.events", snapshot.Len()))

		if latest := snapshot.LatestUserTranscript(); latest != "" {
			logger.Info("processing user message", slog.String("node", r.id), slog.String("message", latest))
		}

		record := newResponseRecord()
		for event, err := range r.process(ctx, snapshot) {
			if err != nil {
				span.RecordError(err)
				yield(nil, err)
				return
			}
			if event == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			record.add(event)
			if !yield(event, nil) {
				return
			}
		}

		if ctx.Err() != nil {
			return
		}
		r.context.Extend(record.events()...)
		if response := record.text(); response != "" {
			logger.Info("agent response", slog.String("node", r.id), slog.String("response", response))
		}
	}
}

// OnInterrupt reconciles a cancelled generation according to the interrupt
// policy.
func (r *Reasoning) OnInterrupt(_ context.Context, interruption bridges.Interruption) {
	partial := interruption.PartialText()
	logger.Info("generation interrupted",
		slog.String("node", r.id),
		slog.Int("partial_events", len(interruption.Partial)),
		slog.Any("cause", interruption.Cause))

	if r.policy == DropPartial || strings.TrimSpace(partial) == "" {
		return
	}

	record := newResponseRecord()
	for _, event := range interruption.Partial {
		record.add(event)
	}
	r.context.Extend(record.events()...)
}

// Bind declares the usual conversational routes: transcripts feed the
// private context and a stopped-speaking event starts a generation that the
// user interrupts by speaking again.
func (r *Reasoning) Bind(bridge *bridges.Bridge) *bridges.Bridge {
	bridge.On(events.KindUserTranscriptionReceived).Map(r.AddEvent)
	bridge.On(events.KindUserStoppedSpeaking).
		InterruptOn(events.KindUserStartedSpeaking, r.OnInterrupt).
		Stream(r.Generate).
		WhileGenerating(r.busy).
		Broadcast()
	return bridge
}

// responseRecord accumulates produced events in order, folding consecutive
// response chunks into a single AgentResponse.
type responseRecord struct {
	recorded []events.Event
	pending  strings.Builder
	all      strings.Builder
}

func newResponseRecord() *responseRecord {
	return &responseRecord{}
}

func (r *responseRecord) add(event events.Event) {
	if response, ok := event.(events.AgentResponse); ok {
		r.pending.WriteString(response.Content)
		r.all.WriteString(response.Content)
		return
	}
	r.flush()
	switch event.Kind() {
	case events.KindToolCall, events.KindToolResult, events.KindEndCall, events.KindTransferCall, events.KindLogMetric:
		r.recorded = append(r.recorded, event)
	}
}

func (r *responseRecord) flush() {
	if r.pending.Len() == 0 {
		return
	}
	r.recorded = append(r.recorded, events.NewAgentResponse(r.pending.String()))
	r.pending.Reset()
}

func (r *responseRecord) events() []events.Event {
	r.flush()
	return r.recorded
}

func (r *responseRecord) text() string {
	return r.all.String()
}
