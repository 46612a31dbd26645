package llms

import (
	"strings"

	"github.com/koscakluka/ema-graph/core/conversations"
	"github.com/koscakluka/ema-graph/core/events"
)

// Message is a provider-neutral chat message built from conversation events.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// MessageRole describes who the message is from.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
	Response  string
}

// ToMessages converts a context snapshot into chat messages.
//
// Consecutive agent responses are merged into a single assistant message,
// tool calls are attached to the assistant message they belong to and tool
// results become tool messages. Events that carry no conversational meaning
// are skipped.
func ToMessages(instructions string, snapshot conversations.Snapshot) []Message {
	messages := []Message{}
	if instructions != "" {
		messages = append(messages, Message{Role: MessageRoleSystem, Content: instructions})
	}

	var response *strings.Builder
	flushResponse := func() {
		if response == nil {
			return
		}
		if content := strings.TrimSpace(response.String()); content != "" {
			messages = append(messages, Message{Role: MessageRoleAssistant, Content: content})
		}
		response = nil
	}

	for event := range snapshot.All() {
		switch typedEvent := event.(type) {
		case events.UserTranscriptionReceived:
			flushResponse()
			if typedEvent.Content == "" {
				continue
			}
			messages = append(messages, Message{Role: MessageRoleUser, Content: typedEvent.Content})

		case events.AgentResponse:
			if response == nil {
				response = &strings.Builder{}
			} else if response.Len() > 0 && !strings.HasSuffix(response.String(), " ") && !strings.HasPrefix(typedEvent.Content, " ") {
				response.WriteString(" ")
			}
			response.WriteString(typedEvent.Content)

		case events.ToolCall:
			flushResponse()
			toolCall := ToolCall{ID: typedEvent.ID, Name: typedEvent.Name, Arguments: typedEvent.Arguments}
			last := len(messages) - 1
			if last >= 0 && messages[last].Role == MessageRoleAssistant && messages[last].Content == "" {
				messages[last].ToolCalls = append(messages[last].ToolCalls, toolCall)
				continue
			}
			messages = append(messages, Message{Role: MessageRoleAssistant, ToolCalls: []ToolCall{toolCall}})

		case events.ToolResult:
			flushResponse()
			content := typedEvent.Result
			if typedEvent.Failed() {
				content = "error: " + typedEvent.Error
			}
			messages = append(messages, Message{Role: MessageRoleTool, Content: content, ToolCallID: typedEvent.ID})
		}
	}
	flushResponse()

	return messages
}
