package llms

import "slices"

// PromptOptions collects everything a provider needs for one request.
type PromptOptions struct {
	Instructions    string
	Messages        []Message
	Tools           []Tool
	ForcedToolsCall bool
}

// PromptOption is a function that can be used to modify the prompt options.
type PromptOption func(*PromptOptions)

// NewPromptOptions applies the options on top of the zero value.
func NewPromptOptions(opts ...PromptOption) PromptOptions {
	options := PromptOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithSystemPrompt sets the system prompt for the prompt. Repeating this
// option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) PromptOption {
	return func(opts *PromptOptions) {
		opts.Instructions = prompt
	}
}

// WithMessages appends messages to the conversation sent to the model.
func WithMessages(messages ...Message) PromptOption {
	return func(opts *PromptOptions) {
		opts.Messages = append(opts.Messages, messages...)
	}
}

// WithTools adds tools the model may call.
func WithTools(tools ...Tool) PromptOption {
	return func(opts *PromptOptions) {
		opts.Tools = append(slices.Clone(opts.Tools), tools...)
	}
}

// WithForcedToolsCall requires the model to call one of the tools.
func WithForcedToolsCall() PromptOption {
	return func(opts *PromptOptions) {
		opts.ForcedToolsCall = true
	}
}
