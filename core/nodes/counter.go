package nodes

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"time"

	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
)

// InitialCount is the greeting a counter node starts a call with.
const InitialCount = "0"

// Counter answers every user turn with the next number. Reaching Max ends the
// call. A zero Max counts forever.
type Counter struct {
	Max   int
	Delay time.Duration

	mu    sync.Mutex
	count int
}

func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Process advances the count. A turn interrupted during the delay does not
// count.
func (c *Counter) Process(ctx context.Context, _ conversations.Snapshot) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		if !sleep(ctx, c.Delay) {
			return
		}

		c.mu.Lock()
		c.count++
		n := c.count
		c.mu.Unlock()

		if c.Max > 0 && n >= c.Max {
			if !yield(events.NewAgentResponse(fmt.Sprintf("%d. Counter complete!", n)), nil) {
				return
			}
			yield(events.NewEndCall("counter complete"), nil)
			return
		}
		yield(events.NewAgentResponse(strconv.Itoa(n)), nil)
	}
}

func NewCounterNode(id string, counter *Counter, opts ...ReasoningOption) *Reasoning {
	return NewReasoning(id, counter.Process, opts...)
}
