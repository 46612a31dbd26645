package nodes

import (
	"context"
	"iter"

	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
)

// Node is a unit of reactive behavior registered with a system.
type Node interface {
	ID() string
}

// Generator can produce a lazy sequence of output events for a trigger.
type Generator interface {
	Node
	Generate(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error]
}

// Interrupter reconciles its state after a generation was cancelled.
type Interrupter interface {
	OnInterrupt(ctx context.Context, interruption bridges.Interruption)
}

// ProcessFunc turns a point-in-time view of a node's context into output
// events. It must stop once ctx is cancelled.
type ProcessFunc func(ctx context.Context, snapshot conversations.Snapshot) iter.Seq2[events.Event, error]
