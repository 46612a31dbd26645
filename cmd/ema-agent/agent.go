package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	orchestration "github.com/koscakluka/ema-graph/core"
	"github.com/koscakluka/ema-graph/core/bridges"
	"github.com/koscakluka/ema-graph/core/events"
	"github.com/koscakluka/ema-graph/core/llms"
	"github.com/koscakluka/ema-graph/core/nodes"
	"github.com/koscakluka/ema-graph/core/transport/websocket"
)

const speakingNodeID = "conversation"

// agent builds the nodes of every call from a profile.
type agent struct {
	profile *Profile
	llm     llms.StreamingLLM
	logger  *slog.Logger
}

func newAgent(profile *Profile, llm llms.StreamingLLM, logger *slog.Logger) *agent {
	return &agent{profile: profile, llm: llm, logger: logger}
}

// preCall rejects blocked destinations and attaches the caller profile.
func (a *agent) preCall(_ context.Context, call websocket.CallRequest) (*websocket.PreCallResult, error) {
	if slices.Contains(a.profile.RejectNumbers, call.To) {
		a.logger.Info("rejecting call", "call_id", call.CallID, "to", call.To)
		return nil, nil
	}

	caller, ok := a.profile.Callers[call.To]
	if !ok {
		if a.profile.DefaultCaller == nil {
			return &websocket.PreCallResult{}, nil
		}
		caller = *a.profile.DefaultCaller
	}

	result := &websocket.PreCallResult{Config: caller.Config}
	if caller.ExtraPrompt != "" {
		result.Metadata = map[string]any{"extra_prompt": caller.ExtraPrompt}
	}
	return result, nil
}

// handleCall registers the conversation node, starts the system, greets the
// caller and waits for the call to end.
func (a *agent) handleCall(ctx context.Context, system *orchestration.System, call websocket.CallRequest) error {
	node, err := a.newNode(call)
	if err != nil {
		return err
	}
	if err := system.Register(node, node.Bind(bridges.New(node)), orchestration.AsSpeaking()); err != nil {
		return fmt.Errorf("register conversation node: %w", err)
	}
	if err := system.Start(ctx); err != nil {
		return err
	}

	if greeting := a.greeting(); greeting != "" {
		if err := system.SendInitialMessage(ctx, greeting); err != nil {
			return fmt.Errorf("send initial message: %w", err)
		}
		node.Context().Append(events.NewAgentResponse(greeting))
	}

	a.logger.Info("call in progress", "call_id", call.CallID, "agent", a.profile.Agent)
	return system.WaitForShutdown(ctx)
}

func (a *agent) greeting() string {
	if a.profile.Agent == agentCounter && a.profile.InitialMessage == "" {
		return nodes.InitialCount
	}
	return a.profile.InitialMessage
}

func (a *agent) newNode(call websocket.CallRequest) (*nodes.Reasoning, error) {
	busy, err := a.profile.busyPolicy()
	if err != nil {
		return nil, err
	}
	interrupt, err := a.profile.interruptPolicy()
	if err != nil {
		return nil, err
	}

	opts := []nodes.ReasoningOption{nodes.WithBusyPolicy(busy), nodes.WithInterruptPolicy(interrupt)}
	if a.profile.MaxContext > 0 {
		opts = append(opts, nodes.WithMaxContextEvents(a.profile.MaxContext))
	}

	switch a.profile.Agent {
	case agentEcho:
		return nodes.NewEchoNode(speakingNodeID, a.profile.Delay, opts...), nil
	case agentCounter:
		return nodes.NewCounterNode(speakingNodeID, &nodes.Counter{Max: a.profile.MaxCount, Delay: a.profile.Delay}, opts...), nil
	default:
		stream := nodes.LLMStream{
			LLM:          a.llm,
			SystemPrompt: a.systemPrompt(call),
			EndCall:      true,

			TransferTargets: a.profile.TransferTargets,
		}
		return nodes.NewLLMNode(speakingNodeID, stream, append(opts, nodes.WithTextOnly())...), nil
	}
}

func (a *agent) systemPrompt(call websocket.CallRequest) string {
	prompt := a.profile.SystemPrompt
	if extra, ok := call.Metadata["extra_prompt"].(string); ok && strings.TrimSpace(extra) != "" {
		prompt += "\n\n" + extra
	}
	return prompt
}
