package events

var builtinKinds = []Kind{
	KindUserStartedSpeaking,
	KindUserStoppedSpeaking,
	KindUserTranscriptionReceived,
	KindAgentResponse,
	KindAgentSpeechSent,
	KindToolCall,
	KindToolResult,
	KindEndCall,
	KindTransferCall,
	KindLogMetric,
	KindLogMessage,
}

// BuiltinKinds returns the kinds of all events defined by this package.
func BuiltinKinds() []Kind {
	kinds := make([]Kind, len(builtinKinds))
	copy(kinds, builtinKinds)
	return kinds
}

// IsText reports whether the event is part of the spoken conversation, i.e.
// a user transcript or an agent response.
func IsText(event Event) bool {
	switch event.(type) {
	case UserTranscriptionReceived, AgentResponse:
		return true
	default:
		return false
	}
}

// Content returns the conversational text of the event, or an empty string
// for events that carry none.
func Content(event Event) string {
	switch typedEvent := event.(type) {
	case UserTranscriptionReceived:
		return typedEvent.Content
	case AgentResponse:
		return typedEvent.Content
	case AgentSpeechSent:
		return typedEvent.Content
	default:
		return ""
	}
}
