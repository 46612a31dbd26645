package events

const (
	// KindUserStartedSpeaking identifies start of user speech activity.
	KindUserStartedSpeaking Kind = "user_input.started_speaking"
	// KindUserStoppedSpeaking identifies end of user speech activity.
	KindUserStoppedSpeaking Kind = "user_input.stopped_speaking"
	// KindUserTranscriptionReceived identifies a finalized user transcript.
	KindUserTranscriptionReceived Kind = "user_input.transcription_received"
)

// UserStartedSpeaking marks when user speech activity starts.
type UserStartedSpeaking struct{ Base }

// NewUserStartedSpeaking creates a user started speaking event.
func NewUserStartedSpeaking(opts ...RebaseOption) UserStartedSpeaking {
	return UserStartedSpeaking{Base: rebase(KindUserStartedSpeaking, opts)}
}

// UserStoppedSpeaking marks when user speech activity ends.
type UserStoppedSpeaking struct{ Base }

// NewUserStoppedSpeaking creates a user stopped speaking event.
func NewUserStoppedSpeaking(opts ...RebaseOption) UserStoppedSpeaking {
	return UserStoppedSpeaking{Base: rebase(KindUserStoppedSpeaking, opts)}
}

// UserTranscriptionReceived carries the finalized transcript of an utterance.
type UserTranscriptionReceived struct {
	Base
	Content string
}

// NewUserTranscriptionReceived creates a user transcription event.
func NewUserTranscriptionReceived(content string, opts ...RebaseOption) UserTranscriptionReceived {
	return UserTranscriptionReceived{Base: rebase(KindUserTranscriptionReceived, opts), Content: content}
}
