package nodes

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/llms"
)

type contentChunk string

func (contentChunk) FinishReason() *string { return nil }
func (c contentChunk) Content() string     { return string(c) }

type toolCallChunk llms.ToolCall

func (toolCallChunk) FinishReason() *string     { return nil }
func (c toolCallChunk) ToolCall() llms.ToolCall { return llms.ToolCall(c) }

type usageChunk llms.Usage

func (usageChunk) FinishReason() *string { return nil }
func (c usageChunk) Usage() llms.Usage   { return llms.Usage(c) }

type reasoningChunk string

func (reasoningChunk) FinishReason() *string { return nil }
func (c reasoningChunk) Reasoning() string   { return string(c) }
func (reasoningChunk) Channel() string       { return "analysis" }

// scriptedLLM answers each prompt with the next scripted round of chunks.
type scriptedLLM struct {
	mu      sync.Mutex
	rounds  [][]llms.StreamChunk
	err     error
	prompts []llms.PromptOptions
}

func (l *scriptedLLM) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, llms.NewPromptOptions(opts...))

	var chunks []llms.StreamChunk
	if len(l.rounds) > 0 {
		chunks, l.rounds = l.rounds[0], l.rounds[1:]
	}
	return scriptedStream{chunks: chunks, err: l.err}
}

func (l *scriptedLLM) Prompts() []llms.PromptOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]llms.PromptOptions(nil), l.prompts...)
}

type scriptedStream struct {
	chunks []llms.StreamChunk
	err    error
}

func (s scriptedStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		if s.err != nil {
			yield(nil, s.err)
			return
		}
		for _, chunk := range s.chunks {
			if ctx.Err() != nil {
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func collect(t *testing.T, seq iter.Seq2[events.Event, error]) ([]events.Event, error) {
	t.Helper()
	var out []events.Event
	for event, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, event)
	}
	return out, nil
}

func contents(evts []events.Event) []string {
	out := make([]string, 0, len(evts))
	for _, event := range evts {
		out = append(out, events.Content(event))
	}
	return out
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
