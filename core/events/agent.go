package events

const (
	// KindAgentResponse identifies a streamed response chunk.
	KindAgentResponse Kind = "agent.response"
	// KindAgentSpeechSent identifies text confirmed as spoken by the transport.
	KindAgentSpeechSent Kind = "agent.speech_sent"
)

// AgentResponse carries a response text chunk produced by a node.
type AgentResponse struct {
	Base
	Content string
}

// NewAgentResponse creates an agent response event.
func NewAgentResponse(content string, opts ...RebaseOption) AgentResponse {
	return AgentResponse{Base: rebase(KindAgentResponse, opts), Content: content}
}

// AgentSpeechSent carries the text the transport reported as spoken.
type AgentSpeechSent struct {
	Base
	Content string
}

// NewAgentSpeechSent creates an agent speech sent event.
func NewAgentSpeechSent(content string, opts ...RebaseOption) AgentSpeechSent {
	return AgentSpeechSent{Base: rebase(KindAgentSpeechSent, opts), Content: content}
}
