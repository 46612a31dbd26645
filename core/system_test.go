package orchestration

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/nodes"
)

const (
	kindLeadsAnalysis    events.Kind = "leads_analysis"
	kindResearchAnalysis events.Kind = "research_analysis"
)

type stubNode struct{ id string }

func (n stubNode) ID() string { return n.id }

type recordingTransport struct {
	mu     sync.Mutex
	events []events.Event
}

func (t *recordingTransport) Send(_ context.Context, event events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
	return nil
}

func (t *recordingTransport) Events() []events.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

// observer records every event its bridge sees, in order.
type observer struct {
	mu   sync.Mutex
	seen []events.Event
}

func (o *observer) record(_ context.Context, event events.Event) (events.Event, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, event)
	return event, nil
}

func (o *observer) Seen() []events.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.seen)
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func shutdownOnCleanup(t *testing.T, s *System) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
}

func indexOf(evts []events.Event, kind events.Kind) int {
	return slices.IndexFunc(evts, func(e events.Event) bool { return e.Kind() == kind })
}

func TestBackgroundAnalysisCascade(t *testing.T) {
	research := stubNode{id: "research"}
	researchBridge := bridges.New(research)
	researchBridge.On(kindLeadsAnalysis).
		Stream(func(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
			return func(yield func(events.Event, error) bool) {
				leads := trigger.(events.Custom[string])
				yield(events.NewCustom(kindResearchAnalysis, "research on "+leads.Payload), nil)
			}
		}).
		Broadcast()

	chat := nodes.NewEchoNode("chat", 0)
	chatBridge := chat.Bind(bridges.New(chat))
	chatBridge.On(kindResearchAnalysis).Map(chat.AddEvent)

	s := New(
		WithEventKinds(kindLeadsAnalysis, kindResearchAnalysis),
		WithSpeakingNode(chat, chatBridge),
		WithNode(research, researchBridge),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	if err := s.Publish(context.Background(), events.NewCustom(kindLeadsAnalysis, "acme")); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	waitForCondition(t, time.Second, "research analysis in the shared context", func() bool {
		return indexOf(s.Context().Snapshot().Events(), kindResearchAnalysis) >= 0
	})
	snapshot := s.Context().Snapshot().Events()
	if leads, research := indexOf(snapshot, kindLeadsAnalysis), indexOf(snapshot, kindResearchAnalysis); research <= leads {
		t.Fatalf("expected research (%d) strictly after leads (%d)", research, leads)
	}

	waitForCondition(t, time.Second, "research analysis in the chat node context", func() bool {
		_, ok := chat.Context().LatestOf(kindResearchAnalysis)
		return ok
	})
}

func TestSecondSpeakingNodeIsRejected(t *testing.T) {
	first, second := stubNode{id: "first"}, stubNode{id: "second"}

	t.Run("register", func(t *testing.T) {
		s := New()
		if err := s.Register(first, bridges.New(first), AsSpeaking()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err := s.Register(second, bridges.New(second), AsSpeaking())
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("expected configuration error, got %v", err)
		}
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("expected the rejected registration to leave a valid system, got %v", err)
		}
		s.Shutdown(context.Background())
	})

	t.Run("options", func(t *testing.T) {
		s := New(
			WithSpeakingNode(first, bridges.New(first)),
			WithSpeakingNode(second, bridges.New(second)),
		)
		err := s.Start(context.Background())
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("expected configuration error at start, got %v", err)
		}
	})
}

func TestRegisterRejectsInvalidWiring(t *testing.T) {
	node := stubNode{id: "node"}
	s := New()

	if err := s.Register(node, nil); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for missing bridge, got %v", err)
	}
	if err := s.Register(node, bridges.New(stubNode{id: "other"})); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for mismatched bridge, got %v", err)
	}
	if err := s.Register(node, bridges.New(node)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Register(node, bridges.New(node)); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error for duplicate node, got %v", err)
	}
}

func TestStartRejectsUndeclaredKinds(t *testing.T) {
	node := stubNode{id: "node"}
	bridge := bridges.New(node)
	bridge.On(kindLeadsAnalysis).Map(func(_ context.Context, e events.Event) (events.Event, error) { return e, nil })

	s := New(WithNode(node, bridge))
	if err := s.Start(context.Background()); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartTwice(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shutdownOnCleanup(t, s)

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := s.Register(stubNode{id: "late"}, bridges.New(stubNode{id: "late"})); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted for late registration, got %v", err)
	}
}

func TestBridgesObserveContextOrder(t *testing.T) {
	observers := []*observer{{}, {}, {}}
	opts := []SystemOption{}
	for i, o := range observers {
		node := stubNode{id: fmt.Sprintf("observer-%d", i)}
		bridge := bridges.New(node)
		bridge.On(events.KindUserTranscriptionReceived).Map(o.record)
		opts = append(opts, WithNode(node, bridge))
	}

	s := New(append(opts, WithMaxContextEvents(0))...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	const producers, perProducer = 4, 25
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				s.Publish(context.Background(), events.NewUserTranscriptionReceived(fmt.Sprintf("%d-%d", p, i)))
			}
		}()
	}
	wg.Wait()

	expected := s.Context().Snapshot().Events()
	for i, o := range observers {
		waitForCondition(t, 2*time.Second, fmt.Sprintf("observer %d to see every event", i), func() bool {
			return len(o.Seen()) == producers*perProducer
		})
		if !slices.Equal(contentsOf(o.Seen()), contentsOf(expected)) {
			t.Fatalf("observer %d saw events out of context order", i)
		}
	}
}

func contentsOf(evts []events.Event) []string {
	out := make([]string, 0, len(evts))
	for _, event := range evts {
		out = append(out, events.Content(event))
	}
	return out
}

func TestPublishBeforeStartIsReplayed(t *testing.T) {
	o := &observer{}
	node := stubNode{id: "observer"}
	bridge := bridges.New(node)
	bridge.On(events.KindUserTranscriptionReceived).Map(o.record)

	s := New(WithNode(node, bridge))
	for _, text := range []string{"one", "two"} {
		if err := s.Publish(context.Background(), events.NewUserTranscriptionReceived(text)); err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
	}
	if s.Context().Len() != 0 {
		t.Fatalf("expected nothing appended before start")
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	waitForCondition(t, time.Second, "replayed events", func() bool { return len(o.Seen()) == 2 })
	if got := contentsOf(o.Seen()); !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("unexpected replay order: %v", got)
	}
}

func TestOnlySpeakingNodeReachesTransport(t *testing.T) {
	transport := &recordingTransport{}

	speaker := nodes.NewEchoNode("speaker", 0)
	speakerBridge := speaker.Bind(bridges.New(speaker))

	listener := stubNode{id: "listener"}
	listenerBridge := bridges.New(listener)
	listenerBridge.On(events.KindUserStoppedSpeaking).
		Stream(func(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
			return func(yield func(events.Event, error) bool) {
				yield(events.NewLogMetric("turns", 1), nil)
			}
		}).
		Broadcast()

	s := New(
		WithTransport(transport),
		WithSpeakingNode(speaker, speakerBridge),
		WithNode(listener, listenerBridge),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	s.Publish(context.Background(), events.NewUserTranscriptionReceived("hello"))
	s.Publish(context.Background(), events.NewUserStoppedSpeaking())

	waitForCondition(t, time.Second, "speaker output and listener metric", func() bool {
		_, metric := s.Context().LatestOf(events.KindLogMetric)
		return len(transport.Events()) == 1 && metric
	})
	time.Sleep(20 * time.Millisecond)

	sent := transport.Events()
	if len(sent) != 1 || events.Content(sent[0]) != "You said: hello" {
		t.Fatalf("expected only the speaking node output on the transport, got %v", sent)
	}
}

func TestSendInitialMessage(t *testing.T) {
	transport := &recordingTransport{}
	speaker := stubNode{id: "speaker"}
	s := New(WithTransport(transport), WithSpeakingNode(speaker, bridges.New(speaker)))

	if err := s.SendInitialMessage(context.Background(), "Hello!"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	if err := s.SendInitialMessage(context.Background(), "Hello!"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sent := transport.Events()
	if len(sent) != 1 || events.Content(sent[0]) != "Hello!" {
		t.Fatalf("expected greeting on the transport, got %v", sent)
	}
	if response, ok := s.Context().LatestOf(events.KindAgentResponse); !ok || events.Content(response) != "Hello!" {
		t.Fatalf("expected greeting in the shared context")
	}

	if err := New().SendInitialMessage(context.Background(), "Hi"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error without speaking node, got %v", err)
	}
}

func TestSharedContextIsTrimmed(t *testing.T) {
	t.Setenv("EMA_MAX_CONTEXT_EVENTS", "4")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected config error: %v", err)
	}

	s := New(WithConfig(cfg))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	shutdownOnCleanup(t, s)

	for i := 1; i <= 5; i++ {
		s.Publish(context.Background(), events.NewUserTranscriptionReceived(fmt.Sprintf("E%d", i)))
	}
	if got := contentsOf(s.Context().Snapshot().Events()); !slices.Equal(got, []string{"E2", "E3", "E4", "E5"}) {
		t.Fatalf("unexpected context: %v", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	}

	select {
	case <-s.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	if err := s.WaitForShutdown(context.Background()); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if err := s.Publish(context.Background(), events.NewUserStoppedSpeaking()); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown after shutdown, got %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown when starting after shutdown, got %v", err)
	}
}

func TestShutdownCancelsGenerations(t *testing.T) {
	node := stubNode{id: "slow"}
	started := make(chan struct{})
	interruptions := make(chan bridges.Interruption, 1)

	bridge := bridges.New(node)
	bridge.On(events.KindUserStoppedSpeaking).
		InterruptOn(events.KindUserStartedSpeaking, func(_ context.Context, i bridges.Interruption) {
			interruptions <- i
		}).
		Stream(func(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
			return func(yield func(events.Event, error) bool) {
				close(started)
				<-ctx.Done()
			}
		})

	s := New(WithNode(node, bridge))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	s.Publish(context.Background(), events.NewUserStoppedSpeaking())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("generation did not start")
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	select {
	case interruption := <-interruptions:
		if !errors.Is(interruption.Cause, ErrShutdown) {
			t.Fatalf("expected shutdown cause, got %v", interruption.Cause)
		}
		if interruption.Trigger != nil {
			t.Fatalf("expected no trigger on shutdown, got %v", interruption.Trigger)
		}
	case <-time.After(time.Second):
		t.Fatalf("interrupt handler was not called")
	}
}

func TestShutdownReportsLeakedGenerations(t *testing.T) {
	node := stubNode{id: "stubborn"}
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	bridge := bridges.New(node)
	bridge.On(events.KindUserStoppedSpeaking).
		Stream(func(ctx context.Context, trigger events.Event) iter.Seq2[events.Event, error] {
			return func(yield func(events.Event, error) bool) {
				close(started)
				<-release
			}
		})

	s := New(WithNode(node, bridge), WithShutdownGrace(50*time.Millisecond))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	s.Publish(context.Background(), events.NewUserStoppedSpeaking())
	<-started

	err := s.Shutdown(context.Background())
	var timeoutErr *ShutdownTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ShutdownTimeoutError, got %v", err)
	}
	if !slices.Equal(timeoutErr.Leaked, []string{"stubborn"}) {
		t.Fatalf("unexpected leaked nodes: %v", timeoutErr.Leaked)
	}
	if !errors.Is(err, bridges.ErrTaskLeaked) {
		t.Fatalf("expected the error to match ErrTaskLeaked")
	}
	if again := s.Shutdown(context.Background()); again != err {
		t.Fatalf("expected repeated shutdown to return the first result")
	}
}

func TestEndCallShutsDown(t *testing.T) {
	transport := &recordingTransport{}
	counter := nodes.NewCounterNode("counter", &nodes.Counter{Max: 1})
	s := New(WithTransport(transport), WithSpeakingNode(counter, counter.Bind(bridges.New(counter))))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	s.Publish(context.Background(), events.NewUserStoppedSpeaking())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitForShutdown(ctx); err != nil {
		t.Fatalf("expected the end call to shut the system down: %v", err)
	}

	sent := transport.Events()
	if len(sent) != 2 || events.Content(sent[0]) != "1. Counter complete!" || sent[1].Kind() != events.KindEndCall {
		t.Fatalf("expected goodbye and end call on the transport, got %v", sent)
	}
}

func TestStartContextCancellationShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := s.WaitForShutdown(waitCtx); err != nil {
		t.Fatalf("expected cancellation to shut the system down: %v", err)
	}
}
