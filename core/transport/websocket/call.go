package websocket

import (
	"context"

	orchestration "github.com/koscakluka/ema-graph/core"
)

// CallRequest describes an incoming call. It is the first frame a client
// sends.
type CallRequest struct {
	CallID   string         `json:"call_id"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PreCallResult accepts a call. Metadata is merged into the call request
// handed to the call handler, Config is returned to the client.
type PreCallResult struct {
	Metadata map[string]any `json:"metadata,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// PreCallHandler decides whether to take a call. A nil result rejects it.
type PreCallHandler func(ctx context.Context, call CallRequest) (*PreCallResult, error)

// CallHandler wires the nodes of one call into system, starts it and
// usually waits for its shutdown.
type CallHandler func(ctx context.Context, system *orchestration.System, call CallRequest) error

type callAccepted struct {
	CallID string         `json:"call_id"`
	Config map[string]any `json:"config,omitempty"`
}

type callRejected struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason,omitempty"`
}

type errorData struct {
	Message string `json:"message"`
}
