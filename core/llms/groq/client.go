package groq

import (
	"context"
	"net/http"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-graph/core/llms"
	"github.com/koscakluka/ema-graph/internal/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultURL = "https://api.groq.com/openai/v1/chat/completions"

	endMessage  = "[DONE]"
	chunkPrefix = "data:"
)

// Client prompts Groq's OpenAI compatible chat completions endpoint.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithURL overrides the chat completions endpoint, e.g. to point the client
// at another OpenAI compatible provider.
func WithURL(url string) ClientOption {
	return func(c *Client) {
		c.url = url
	}
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey: apiKey,
		model:  model,
		url:    defaultURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PromptWithStream prepares a streaming request. Nothing is sent until the
// returned stream's chunks are consumed.
func (c *Client) PromptWithStream(_ context.Context, opts ...llms.PromptOption) llms.Stream {
	options := llms.NewPromptOptions(opts...)

	var tools []tool
	if options.Tools != nil {
		if err := copier.Copy(&tools, options.Tools); err != nil {
			logger.Warn("failed to convert tools", "error", err)
		}
	}

	var toolChoice *string
	if len(tools) > 0 {
		toolChoice = utils.Ptr("auto")
		if options.ForcedToolsCall {
			toolChoice = utils.Ptr("required")
		}
	}

	return &Stream{
		client:     c,
		tools:      tools,
		toolChoice: toolChoice,
		messages:   toMessages(options.Instructions, options.Messages),
	}
}
