package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/nodes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type registration struct {
	node     nodes.Node
	bridge   *bridges.Bridge
	speaking bool
}

// System owns the shared context, the registered nodes and their bridges. It
// routes every broadcast event to all bridges and forwards the speaking
// node's output to the transport.
type System struct {
	id        string
	config    Config
	context   *conversations.Context
	transport Transport
	kinds     []events.Kind

	registryMu    sync.Mutex
	registrations []*registration
	configErrs    []error

	// publishMu makes appending to the context and delivering to every
	// bridge one step, so all bridges observe events in context order.
	publishMu sync.Mutex
	running   bool
	closed    bool
	inbound   []events.Event

	lifecycleMu  sync.Mutex
	started      bool
	cancel       context.CancelFunc
	stopWatching chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

func New(opts ...SystemOption) *System {
	s := &System{
		config: DefaultConfig(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.id == "" {
		s.id = uuid.NewString()
	}
	s.context = conversations.New(conversations.WithMaxEvents(s.config.MaxContextEvents))
	return s
}

func (s *System) ID() string { return s.id }

// Context returns the shared conversation context.
func (s *System) Context() *conversations.Context { return s.context }

// Done is closed once shutdown completed.
func (s *System) Done() <-chan struct{} { return s.done }

// Register adds a node with its bridge. Registering a second speaking node is
// a configuration error.
func (s *System) Register(node nodes.Node, bridge *bridges.Bridge, opts ...RegisterOption) error {
	options := registerOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	switch {
	case node == nil:
		return configurationErrorf("nil node")
	case bridge == nil:
		return configurationErrorf("node %q registered without a bridge", node.ID())
	case bridge.NodeID() != node.ID():
		return configurationErrorf("bridge of node %q registered for node %q", bridge.NodeID(), node.ID())
	}

	s.lifecycleMu.Lock()
	started := s.started
	s.lifecycleMu.Unlock()
	if started {
		return fmt.Errorf("register node %q: %w", node.ID(), ErrAlreadyStarted)
	}

	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	for _, existing := range s.registrations {
		if existing.node.ID() == node.ID() {
			return configurationErrorf("node %q registered twice", node.ID())
		}
		if options.speaking && existing.speaking {
			return configurationErrorf("node %q marked as speaking, but %q already is", node.ID(), existing.node.ID())
		}
	}

	s.registrations = append(s.registrations, &registration{node: node, bridge: bridge, speaking: options.speaking})
	return nil
}

func (s *System) deferConfigError(err error) {
	if err == nil {
		return
	}
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	s.configErrs = append(s.configErrs, err)
}

func (s *System) speakingNode() nodes.Node {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	for _, r := range s.registrations {
		if r.speaking {
			return r.node
		}
	}
	return nil
}

func (s *System) validate() error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()

	errs := slices.Clone(s.configErrs)
	known := append(events.BuiltinKinds(), s.kinds...)
	for _, kind := range s.kinds {
		if !kind.Valid() {
			errs = append(errs, configurationErrorf("invalid declared event kind %q", kind))
		}
	}

	speaking := []string{}
	for _, r := range s.registrations {
		if r.speaking {
			speaking = append(speaking, r.node.ID())
		}
		if err := r.bridge.Validate(known); err != nil {
			errs = append(errs, err)
		}
	}
	if len(speaking) > 1 {
		errs = append(errs, configurationErrorf("more than one speaking node: %v", speaking))
	}
	return errors.Join(errs...)
}

// Start validates the wiring, launches one worker per bridge and replays the
// events published before the start. Cancelling ctx shuts the system down.
func (s *System) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "start system", trace.WithAttributes(attribute.String("system.id", s.id)))
	defer span.End()

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	select {
	case <-s.done:
		return ErrShutdown
	default:
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("start system: %w", err)
	}

	// Bridges run on a context detached from the caller so that shutdown
	// cancels generations through the interrupt protocol.
	parent := ctx
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.cancel = cancel
	s.stopWatching = withContextCancelHook(parent, func() {
		logger.Info("start context done, shutting down", slog.String("system.id", s.id))
		s.Shutdown(context.Background())
	})

	s.registryMu.Lock()
	registrations := slices.Clone(s.registrations)
	s.registryMu.Unlock()

	sink := bridges.SinkFunc(s.broadcast)
	for i, r := range registrations {
		if err := r.bridge.Start(ctx, sink); err != nil {
			for _, started := range registrations[:i] {
				started.bridge.Stop(ctx, err)
			}
			close(s.stopWatching)
			s.stopWatching = nil
			cancel()
			err = fmt.Errorf("start node %q: %w", r.node.ID(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	s.started = true
	logger.Info("system started", slog.String("system.id", s.id), slog.Int("nodes", len(registrations)))

	s.publishMu.Lock()
	s.running = true
	inbound := s.inbound
	s.inbound = nil
	if s.closed {
		inbound = nil
	}
	for _, event := range inbound {
		s.appendAndDeliver(ctx, "inbound", event)
	}
	s.publishMu.Unlock()
	for _, event := range inbound {
		s.afterBroadcast(ctx, nil, event)
	}

	return nil
}

// Publish appends an inbound event to the shared context and delivers it to
// every bridge. Events published before Start are buffered and replayed in
// order once the system starts.
func (s *System) Publish(ctx context.Context, event events.Event) error {
	if event == nil {
		return nil
	}

	s.publishMu.Lock()
	if s.closed {
		s.publishMu.Unlock()
		return ErrShutdown
	}
	if !s.running {
		s.inbound = append(s.inbound, event)
		s.publishMu.Unlock()
		return nil
	}
	s.appendAndDeliver(ctx, "inbound", event)
	s.publishMu.Unlock()

	s.afterBroadcast(ctx, nil, event)
	return nil
}

// SendInitialMessage makes the speaking node say text, as if it had
// generated it.
func (s *System) SendInitialMessage(ctx context.Context, text string) error {
	speaking := s.speakingNode()
	if speaking == nil {
		return configurationErrorf("initial message without a speaking node")
	}
	if !s.isStarted() {
		return ErrNotStarted
	}
	return s.broadcast(ctx, speaking, events.NewAgentResponse(text))
}

func (s *System) isStarted() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.started
}

// broadcast is the sink of every bridge.
func (s *System) broadcast(ctx context.Context, from bridges.Node, event events.Event) error {
	source := "unknown"
	if from != nil {
		source = from.ID()
	}

	s.publishMu.Lock()
	if s.closed {
		s.publishMu.Unlock()
		return ErrShutdown
	}
	s.appendAndDeliver(ctx, source, event)
	s.publishMu.Unlock()

	s.afterBroadcast(ctx, from, event)
	return nil
}

// appendAndDeliver must be called with publishMu held.
func (s *System) appendAndDeliver(ctx context.Context, source string, event events.Event) {
	s.context.Append(event)
	broadcastCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("event.kind", string(event.Kind()))))
	logger.Debug("event",
		slog.String("system.id", s.id),
		slog.String("source", source),
		slog.String("event.kind", string(event.Kind())),
		slog.String("content", events.Content(event)))

	s.registryMu.Lock()
	registrations := s.registrations
	s.registryMu.Unlock()
	for _, r := range registrations {
		r.bridge.Deliver(event)
	}
}

// afterBroadcast forwards speaking node output to the transport and ends the
// call on EndCall. It runs outside publishMu in the producing goroutine.
func (s *System) afterBroadcast(ctx context.Context, from bridges.Node, event events.Event) {
	if speaking := s.speakingNode(); from != nil && speaking != nil && speaking.ID() == from.ID() {
		logger.Info("speaking node output",
			slog.String("system.id", s.id),
			slog.String("node", from.ID()),
			slog.String("event.kind", string(event.Kind())),
			slog.String("content", events.Content(event)))
		if s.transport != nil {
			if err := s.transport.Send(ctx, event); err != nil {
				logger.Warn("failed to send event to transport",
					slog.String("system.id", s.id),
					slog.String("event.kind", string(event.Kind())),
					slog.Any("error", err))
			}
		}
	}

	if endCall, ok := event.(events.EndCall); ok {
		logger.Info("call ended", slog.String("system.id", s.id), slog.String("reason", endCall.Reason))
		go s.Shutdown(context.Background())
	}
}

// Shutdown stops the system: further publishing fails with ErrShutdown, every
// running generation is cancelled with ErrShutdown as the cause and the
// bridges are stopped. Generations still running after the grace period are
// abandoned and reported in a ShutdownTimeoutError. Shutdown is idempotent;
// every call returns the result of the first one.
func (s *System) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
		close(s.done)
	})
	return s.shutdownErr
}

func (s *System) shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "shutdown system", trace.WithAttributes(attribute.String("system.id", s.id)))
	defer span.End()

	s.publishMu.Lock()
	s.closed = true
	s.inbound = nil
	s.publishMu.Unlock()

	s.lifecycleMu.Lock()
	cancel, stopWatching := s.cancel, s.stopWatching
	s.lifecycleMu.Unlock()
	if stopWatching != nil {
		close(stopWatching)
	}

	s.registryMu.Lock()
	registrations := slices.Clone(s.registrations)
	s.registryMu.Unlock()

	graceCtx, cancelGrace := context.WithTimeout(ctx, s.config.ShutdownGrace)
	defer cancelGrace()

	var mu sync.Mutex
	var leaked []string
	var errs []error
	var group errgroup.Group
	for _, r := range registrations {
		group.Go(func() error {
			err := r.bridge.Stop(graceCtx, ErrShutdown)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, bridges.ErrTaskLeaked) {
				leaked = append(leaked, r.node.ID())
				return nil
			}
			errs = append(errs, fmt.Errorf("stop node %q: %w", r.node.ID(), err))
			return nil
		})
	}
	group.Wait()

	if cancel != nil {
		cancel()
	}

	if len(leaked) > 0 {
		slices.Sort(leaked)
		leakedTaskCounter.Add(ctx, int64(len(leaked)))
		timeoutErr := &ShutdownTimeoutError{Leaked: leaked}
		logger.Warn("generation tasks leaked on shutdown",
			slog.String("system.id", s.id),
			slog.Any("nodes", leaked),
			slog.Duration("grace", s.config.ShutdownGrace))
		errs = append([]error{timeoutErr}, errs...)
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	logger.Info("system shut down", slog.String("system.id", s.id))
	return err
}

// WaitForShutdown blocks until the system shut down or ctx is done.
func (s *System) WaitForShutdown(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
