package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koscakluka/ema-graph/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type Stream struct {
	client *Client

	tools      []tool
	toolChoice *string
	messages   []message
}

type requestBody struct {
	Model      string    `json:"model"`
	Messages   []message `json:"messages"`
	Stream     bool      `json:"stream"`
	ToolChoice *string   `json:"tool_choice,omitempty"`
	Tools      []tool    `json:"tools,omitempty"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role      string     `json:"role,omitempty"`
			Content   string     `json:"content,omitempty"`
			ToolCalls []toolCall `json:"tool_calls,omitempty"`
			Reasoning string     `json:"reasoning,omitempty"`
			Channel   string     `json:"channel,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		QueueTime               float64 `json:"queue_time"`
		PromptTokens            int     `json:"prompt_tokens"`
		PromptTime              float64 `json:"prompt_time"`
		CompletionTokens        int     `json:"completion_tokens"`
		CompletionTime          float64 `json:"completion_time"`
		TotalTokens             int     `json:"total_tokens"`
		TotalTime               float64 `json:"total_time"`
		CompletionTokensDetails *struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		} `json:"completion_tokens_details,omitempty"`
	} `json:"usage"`
}

var requestCounter, _ = meter.Int64Counter("groq.requests",
	metric.WithDescription("Streaming chat completion requests by outcome"))

func (s *Stream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	requestToFirstTokenTime := time.Time{}
	setRequestToFirstTokenTime := func(span trace.Span) {
		if requestToFirstTokenTime.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestToFirstTokenTime).Seconds()))
		span.AddEvent("received first chunk")
		requestToFirstTokenTime = time.Time{}
	}

	return func(yield func(llms.StreamChunk, error) bool) {
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(attribute.String("request.model", s.client.model))
		var toolNames []string
		for _, tool := range s.tools {
			toolNames = append(toolNames, tool.Function.Name)
		}
		span.SetAttributes(attribute.StringSlice("request.available_tools", toolNames))

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
			yield(nil, err)
		}

		reqBody := requestBody{
			Model:      s.client.model,
			Messages:   s.messages,
			Stream:     true,
			Tools:      s.tools,
			ToolChoice: s.toolChoice,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			fail(fmt.Errorf("error marshalling JSON: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.url, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			fail(fmt.Errorf("error creating HTTP request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.client.apiKey)

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestToFirstTokenTime = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			fail(fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				span.RecordError(fmt.Errorf("error reading error body: %w", err))
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}

			fail(fmt.Errorf("non-OK HTTP status: %s", resp.Status))
			return
		}

		pending := toolCallAccumulator{}
		defer func() {
			span.SetAttributes(attribute.StringSlice("response.tool_calls", pending.names()))
		}()

		flushToolCalls := func(finishReason *string) bool {
			for _, call := range pending.drain() {
				if !yield(StreamToolCallChunk{finishReason: finishReason, toolCall: call}, nil) {
					return false
				}
			}
			return true
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			setRequestToFirstTokenTime(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield(nil, err) {
					return
				}
				continue
			}

			if len(responseBody.Choices) > 0 {
				choice := responseBody.Choices[0]
				finishReason := choice.FinishReason
				delta := choice.Delta

				pending.add(delta.ToolCalls)

				if delta.Role != "" {
					if !yield(StreamRoleChunk{finishReason: finishReason, role: delta.Role}, nil) {
						return
					}
				}

				if delta.Content != "" {
					if !yield(StreamContentChunk{finishReason: finishReason, content: delta.Content}, nil) {
						return
					}
				}

				if delta.Reasoning != "" {
					if !yield(StreamReasoningChunk{finishReason: finishReason, reasoning: delta.Reasoning, channel: delta.Channel}, nil) {
						return
					}
				}

				if finishReason != nil && !flushToolCalls(finishReason) {
					return
				}
			}

			if usage := responseBody.Usage; usage != nil {
				span.SetAttributes(
					attribute.Int("usage.input", usage.PromptTokens),
					attribute.Int("usage.output", usage.CompletionTokens),
					attribute.Int("usage.total", usage.TotalTokens),
					attribute.Float64("usage.queue_time", usage.QueueTime),
					attribute.Float64("usage.prompt_time", usage.PromptTime),
					attribute.Float64("usage.completion_time", usage.CompletionTime),
					attribute.Float64("usage.total_time", usage.TotalTime),
				)

				var outputTokensDetails *llms.OutputTokensDetails
				if usage.CompletionTokensDetails != nil {
					span.SetAttributes(attribute.Int("usage.reasoning", usage.CompletionTokensDetails.ReasoningTokens))
					outputTokensDetails = &llms.OutputTokensDetails{
						ReasoningTokens: usage.CompletionTokensDetails.ReasoningTokens,
					}
				}

				if !yield(StreamUsageChunk{
					usage: llms.Usage{
						InputTokens:          usage.PromptTokens,
						OutputTokens:         usage.CompletionTokens,
						OutputTokensDetails:  outputTokensDetails,
						TotalTokens:          usage.TotalTokens,
						QueueTime:            usage.QueueTime,
						InputProcessingTime:  usage.PromptTime,
						OutputProcessingTime: usage.CompletionTime,
						TotalTime:            usage.TotalTime,
					},
				}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("error reading streamed response: %w", err))
			return
		}

		if !flushToolCalls(nil) {
			return
		}
		requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	}
}

// toolCallAccumulator stitches tool call fragments streamed across several
// chunks back together. Fragments are matched by index, falling back to id.
type toolCallAccumulator struct {
	calls   []llms.ToolCall
	byIndex map[int]int
	emitted []string
}

func (a *toolCallAccumulator) add(fragments []toolCall) {
	if a.byIndex == nil {
		a.byIndex = map[int]int{}
	}
	for _, fragment := range fragments {
		position := -1
		if fragment.Index != nil {
			if existing, ok := a.byIndex[*fragment.Index]; ok {
				position = existing
			}
		} else if fragment.ID != "" {
			for i, call := range a.calls {
				if call.ID == fragment.ID {
					position = i
					break
				}
			}
		}

		if position == -1 {
			a.calls = append(a.calls, llms.ToolCall{ID: fragment.ID, Name: fragment.Function.Name})
			position = len(a.calls) - 1
			if fragment.Index != nil {
				a.byIndex[*fragment.Index] = position
			}
		}

		call := &a.calls[position]
		if call.ID == "" {
			call.ID = fragment.ID
		}
		if call.Name == "" {
			call.Name = fragment.Function.Name
		}
		call.Arguments += fragment.Function.Arguments
	}
}

func (a *toolCallAccumulator) drain() []llms.ToolCall {
	calls := a.calls
	for _, call := range calls {
		a.emitted = append(a.emitted, call.Name)
	}
	a.calls = nil
	a.byIndex = nil
	return calls
}

func (a *toolCallAccumulator) names() []string {
	return a.emitted
}

type StreamRoleChunk struct {
	finishReason *string
	role         string
}

func (s StreamRoleChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamRoleChunk) Role() string {
	return s.role
}

type StreamReasoningChunk struct {
	finishReason *string
	reasoning    string
	channel      string
}

func (s StreamReasoningChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamReasoningChunk) Reasoning() string {
	return s.reasoning
}

func (s StreamReasoningChunk) Channel() string {
	return s.channel
}

type StreamContentChunk struct {
	finishReason *string
	content      string
}

func (s StreamContentChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamContentChunk) Content() string {
	return s.content
}

type StreamToolCallChunk struct {
	finishReason *string
	toolCall     llms.ToolCall
}

func (s StreamToolCallChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamToolCallChunk) ToolCall() llms.ToolCall {
	return s.toolCall
}

type StreamUsageChunk struct {
	finishReason *string
	usage        llms.Usage
}

func (s StreamUsageChunk) FinishReason() *string {
	return s.finishReason
}

func (s StreamUsageChunk) Usage() llms.Usage {
	return s.usage
}
