package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	EndCallToolName      = "end_call"
	TransferCallToolName = "transfer_call"

	MetricInputTokens  = "llm.input_tokens"
	MetricOutputTokens = "llm.output_tokens"

	defaultMaxToolRounds = 4
	cannedResponse       = "I'm running without a language model right now, so I can only acknowledge what you said."
)

// EndCallArgs are the arguments of the end_call tool.
type EndCallArgs struct {
	GoodbyeMessage string `json:"goodbye_message" jsonschema:"description=What to say to the user before hanging up"`
}

// EndCallTool lets the model end the call. It is intercepted by LLMStream,
// which speaks the goodbye message and emits an EndCall event.
func EndCallTool() llms.Tool {
	return llms.NewTool(EndCallToolName,
		"End the call once the conversation is over. Always say goodbye first.",
		func(args EndCallArgs) (string, error) {
			return "Call ended", nil
		})
}

// TransferCallArgs are the arguments of the transfer_call tool.
type TransferCallArgs struct {
	Target  string `json:"target" jsonschema:"description=Where to transfer the caller"`
	Message string `json:"message,omitempty" jsonschema:"description=What to tell the user before the transfer"`
}

// TransferCallTool lets the model hand the call over to one of targets. A
// valid call is intercepted by LLMStream, which speaks the message and emits a
// TransferCall event. Unknown targets fail like any other tool.
func TransferCallTool(targets ...string) llms.Tool {
	return llms.NewTool(TransferCallToolName,
		fmt.Sprintf("Transfer the caller to someone else. Valid targets: %s.", strings.Join(targets, ", ")),
		func(args TransferCallArgs) (string, error) {
			if !slices.Contains(targets, args.Target) {
				return "", fmt.Errorf("unknown transfer target %q", args.Target)
			}
			return "Call transferred", nil
		})
}

// LLMStream is a ProcessFunc factory that prompts a streaming model with the
// node's context. Content chunks become AgentResponse events, executed tools
// become ToolCall and ToolResult events and the model is prompted again with
// their results. Token usage is reported as LogMetric events.
type LLMStream struct {
	LLM          llms.StreamingLLM
	SystemPrompt string
	Tools        []llms.Tool
	// EndCall exposes the end_call tool to the model.
	EndCall bool
	// TransferTargets exposes the transfer_call tool limited to these targets.
	TransferTargets []string
	// MaxToolRounds bounds how many times the model is re-prompted with tool
	// results in one generation, 4 by default.
	MaxToolRounds int
}

// Process streams the model response for the snapshot. Without a model it
// answers with a canned response.
func (s LLMStream) Process(ctx context.Context, snapshot conversations.Snapshot) iter.Seq2[events.Event, error] {
	return func(yield func(events.Event, error) bool) {
		if s.LLM == nil {
			yield(events.NewAgentResponse(cannedResponse), nil)
			return
		}

		ctx, span := tracer.Start(ctx, "stream llm response")
		defer span.End()

		tools := s.Tools
		if s.EndCall {
			tools = append(tools[:len(tools):len(tools)], EndCallTool())
		}
		if len(s.TransferTargets) > 0 {
			tools = append(tools[:len(tools):len(tools)], TransferCallTool(s.TransferTargets...))
		}

		maxRounds := s.MaxToolRounds
		if maxRounds <= 0 {
			maxRounds = defaultMaxToolRounds
		}

		messages := llms.ToMessages("", snapshot)
		for round := 0; round < maxRounds; round++ {
			span.SetAttributes(attribute.Int("rounds", round+1))
			stream := s.LLM.PromptWithStream(ctx,
				llms.WithSystemPrompt(s.SystemPrompt),
				llms.WithMessages(messages...),
				llms.WithTools(tools...),
			)

			toolCalls := []llms.ToolCall{}
			var reasoning strings.Builder
			for chunk, err := range stream.Chunks(ctx) {
				if err != nil {
					err = fmt.Errorf("failed to stream llm response: %w", err)
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					yield(nil, err)
					return
				}
				if ctx.Err() != nil {
					return
				}

				switch chunk := chunk.(type) {
				case llms.StreamContentChunk:
					if chunk.Content() == "" {
						continue
					}
					if !yield(events.NewAgentResponse(chunk.Content()), nil) {
						return
					}
				case llms.StreamToolCallChunk:
					toolCalls = append(toolCalls, chunk.ToolCall())
				case llms.StreamReasoningChunk:
					reasoning.WriteString(chunk.Reasoning())
				case llms.StreamRoleChunk:
					span.SetAttributes(attribute.String("response.role", chunk.Role()))
				case llms.StreamUsageChunk:
					usage := chunk.Usage()
					span.AddEvent("usage", trace.WithAttributes(
						attribute.Int("usage.input", usage.InputTokens),
						attribute.Int("usage.output", usage.OutputTokens)))
					if !yield(events.NewLogMetric(MetricInputTokens, usage.InputTokens), nil) {
						return
					}
					if !yield(events.NewLogMetric(MetricOutputTokens, usage.OutputTokens), nil) {
						return
					}
				}
			}
			if reasoning.Len() > 0 {
				span.AddEvent("reasoning", trace.WithAttributes(
					attribute.Int("round", round+1),
					attribute.String("reasoning", reasoning.String())))
			}

			if len(toolCalls) == 0 {
				return
			}

			assistant := llms.Message{Role: llms.MessageRoleAssistant}
			results := []llms.Message{}
			for _, toolCall := range toolCalls {
				if toolCall.Name == EndCallToolName {
					s.endCall(toolCall, yield)
					return
				}
				if args, ok := s.transferArgs(toolCall); ok {
					s.transfer(args, yield)
					return
				}

				if !yield(events.NewToolCall(toolCall.ID, toolCall.Name, toolCall.Arguments), nil) {
					return
				}
				result := s.callTool(ctx, tools, toolCall)
				if !yield(result, nil) {
					return
				}

				content := result.Result
				if result.Failed() {
					content = "error: " + result.Error
				}
				assistant.ToolCalls = append(assistant.ToolCalls, toolCall)
				results = append(results, llms.Message{Role: llms.MessageRoleTool, Content: content, ToolCallID: toolCall.ID})
			}
			messages = append(append(messages, assistant), results...)
		}

		logger.Warn("tool rounds exhausted", slog.Int("max_rounds", maxRounds))
		yield(events.NewLogMessage("llm", "warn", "tool rounds exhausted", map[string]any{"max_rounds": maxRounds}), nil)
	}
}

// transferArgs decodes a transfer_call whose target is allowed.
func (s LLMStream) transferArgs(toolCall llms.ToolCall) (TransferCallArgs, bool) {
	var args TransferCallArgs
	if toolCall.Name != TransferCallToolName || len(s.TransferTargets) == 0 {
		return args, false
	}
	if err := json.Unmarshal([]byte(toolCall.Arguments), &args); err != nil {
		logger.Warn("failed to decode transfer_call arguments", slog.Any("error", err))
		return args, false
	}
	return args, slices.Contains(s.TransferTargets, args.Target)
}

func (s LLMStream) transfer(args TransferCallArgs, yield func(events.Event, error) bool) {
	if args.Message != "" {
		if !yield(events.NewAgentResponse(args.Message), nil) {
			return
		}
	}
	yield(events.NewTransferCall(args.Target), nil)
}

func (s LLMStream) endCall(toolCall llms.ToolCall, yield func(events.Event, error) bool) {
	var args EndCallArgs
	if toolCall.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Arguments), &args); err != nil {
			logger.Warn("failed to decode end_call arguments", slog.Any("error", err))
		}
	}
	if args.GoodbyeMessage != "" {
		if !yield(events.NewAgentResponse(args.GoodbyeMessage), nil) {
			return
		}
	}
	yield(events.NewEndCall("agent ended the call"), nil)
}

func (s LLMStream) callTool(ctx context.Context, tools []llms.Tool, toolCall llms.ToolCall) events.ToolResult {
	_, span := tracer.Start(ctx, "execute tool")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", toolCall.Name))

	tool, ok := llms.FindTool(tools, toolCall.Name)
	if !ok {
		err := fmt.Errorf("tool not found: %s", toolCall.Name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return events.NewToolFailure(toolCall.ID, toolCall.Name, toolCall.Arguments, err.Error())
	}

	response, err := tool.Execute(toolCall.Arguments)
	if err != nil {
		err = fmt.Errorf("failed to execute tool %q: %w", toolCall.Name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return events.NewToolFailure(toolCall.ID, toolCall.Name, toolCall.Arguments, err.Error())
	}
	return events.NewToolResult(toolCall.ID, toolCall.Name, toolCall.Arguments, response)
}

// NewLLMNode creates a conversational node backed by a streaming model.
func NewLLMNode(id string, stream LLMStream, opts ...ReasoningOption) *Reasoning {
	return NewReasoning(id, stream.Process, opts...)
}
