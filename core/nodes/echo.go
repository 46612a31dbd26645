package nodes

import (
	"context"
	"iter"
	"time"

	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
)

// Echo repeats the latest user transcript back, optionally after a delay.
func Echo(delay time.Duration) ProcessFunc {
	return func(ctx context.Context, snapshot conversations.Snapshot) iter.Seq2[events.Event, error] {
		return func(yield func(events.Event, error) bool) {
			latest := snapshot.LatestUserTranscript()
			if latest == "" {
				return
			}
			if !sleep(ctx, delay) {
				return
			}
			yield(events.NewAgentResponse("You said: "+latest), nil)
		}
	}
}

func NewEchoNode(id string, delay time.Duration, opts ...ReasoningOption) *Reasoning {
	return NewReasoning(id, Echo(delay), opts...)
}

// sleep waits for d and reports false when ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
