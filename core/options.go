package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/nodes"
)

type SystemOption func(*System)

// Transport carries the speaking node's output to the caller.
type Transport interface {
	Send(ctx context.Context, event events.Event) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, event events.Event) error

func (f TransportFunc) Send(ctx context.Context, event events.Event) error {
	return f(ctx, event)
}

// WithConfig replaces every tunable at once. Later options still apply on top.
func WithConfig(cfg Config) SystemOption {
	return func(s *System) {
		s.config = cfg
	}
}

// WithMaxContextEvents bounds the shared context. Zero keeps every event.
func WithMaxContextEvents(maxEvents int) SystemOption {
	return func(s *System) {
		s.config.MaxContextEvents = maxEvents
	}
}

// WithShutdownGrace sets how long Shutdown waits for generations to stop.
func WithShutdownGrace(grace time.Duration) SystemOption {
	return func(s *System) {
		s.config.ShutdownGrace = grace
	}
}

func WithTransport(transport Transport) SystemOption {
	return func(s *System) {
		s.transport = transport
	}
}

// WithEventKinds declares custom event kinds routes may subscribe to.
func WithEventKinds(kinds ...events.Kind) SystemOption {
	return func(s *System) {
		s.kinds = append(s.kinds, kinds...)
	}
}

func WithID(id string) SystemOption {
	return func(s *System) {
		s.id = id
	}
}

// WithSpeakingNode registers the node whose output reaches the caller.
func WithSpeakingNode(node nodes.Node, bridge *bridges.Bridge) SystemOption {
	return func(s *System) {
		s.deferConfigError(s.Register(node, bridge, AsSpeaking()))
	}
}

func WithNode(node nodes.Node, bridge *bridges.Bridge) SystemOption {
	return func(s *System) {
		s.deferConfigError(s.Register(node, bridge))
	}
}

type registerOptions struct {
	speaking bool
}

type RegisterOption func(*registerOptions)

// AsSpeaking marks the registered node as the speaking node.
func AsSpeaking() RegisterOption {
	return func(o *registerOptions) {
		o.speaking = true
	}
}
