package llms

import "context"

// StreamingLLM is the model-invocation collaborator used by nodes.
type StreamingLLM interface {
	PromptWithStream(ctx context.Context, opts ...PromptOption) Stream
}

// Stream yields the chunks of one model response. Breaking out of the range
// stops the underlying request.
type Stream interface {
	Chunks(context.Context) func(func(StreamChunk, error) bool)
}

// StreamChunk is one streamed piece of a response. FinishReason is set on the
// last chunk of a choice.
type StreamChunk interface {
	FinishReason() *string
}

// StreamRoleChunk announces the role of the response author.
type StreamRoleChunk interface {
	StreamChunk
	Role() string
}

// StreamReasoningChunk carries model reasoning. It is traced, never spoken.
type StreamReasoningChunk interface {
	StreamChunk
	Reasoning() string
	Channel() string
}

// StreamContentChunk carries response text meant for the user.
type StreamContentChunk interface {
	StreamChunk
	Content() string
}

// StreamToolCallChunk carries one complete tool call.
type StreamToolCallChunk interface {
	StreamChunk
	ToolCall() ToolCall
}

// StreamUsageChunk reports token usage for the request, usually last.
type StreamUsageChunk interface {
	StreamChunk
	Usage() Usage
}

// Usage is the token accounting of one request.
type Usage struct {
	// InputTokens represents the number of input tokens.
	InputTokens int
	// InputTokensDetails represents a detailed breakdown of the input tokens.
	InputTokensDetails *InputTokensDetails
	// OutputTokens represents the number of output tokens.
	OutputTokens int
	// OutputTokensDetails represents a detailed breakdown of the output tokens.
	OutputTokensDetails *OutputTokensDetails
	// TotalTokens represents the total number of tokens used.
	TotalTokens int

	// QueueTime represents the time it took to queue the request.
	//
	// Note: This might be just an approximation.
	QueueTime float64
	// InputProcessingTime represents the time it took to process the input.
	//
	// Note: This might be just an approximation.
	InputProcessingTime float64
	// OutputProcessingTime represents the time it took to generate the output.
	//
	// Note: This might be just an approximation.
	OutputProcessingTime float64
	// TotalTime represents the total time it took to complete the request.
	//
	// Note: This might be just an approximation.
	TotalTime float64
}

// InputTokensDetails represents a detailed breakdown of the input tokens.
type InputTokensDetails struct {
	// CachedTokens represents the number of tokens that were retrieved from the
	// cache.
	CachedTokens int
}

// OutputTokensDetails represents a detailed breakdown of the output tokens.
type OutputTokensDetails struct {
	// ReasoningTokens represents the number of reasoning tokens.
	ReasoningTokens int
}
