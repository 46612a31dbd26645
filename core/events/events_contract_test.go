package events

import (
	"testing"
	"time"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "user started speaking", event: NewUserStartedSpeaking(), expected: KindUserStartedSpeaking},
		{name: "user stopped speaking", event: NewUserStoppedSpeaking(), expected: KindUserStoppedSpeaking},
		{name: "user transcription", event: NewUserTranscriptionReceived("hi"), expected: KindUserTranscriptionReceived},
		{name: "agent response", event: NewAgentResponse("hello"), expected: KindAgentResponse},
		{name: "agent speech sent", event: NewAgentSpeechSent("hello"), expected: KindAgentSpeechSent},
		{name: "tool call", event: NewToolCall("1", "end_call", "{}"), expected: KindToolCall},
		{name: "tool result", event: NewToolResult("1", "end_call", "{}", "ok"), expected: KindToolResult},
		{name: "tool failure", event: NewToolFailure("1", "end_call", "{}", "boom"), expected: KindToolResult},
		{name: "end call", event: NewEndCall("done"), expected: KindEndCall},
		{name: "transfer call", event: NewTransferCall("+100"), expected: KindTransferCall},
		{name: "log metric", event: NewLogMetric("score", 3), expected: KindLogMetric},
		{name: "log message", event: NewLogMessage("node", "info", "msg", nil), expected: KindLogMessage},
		{name: "custom", event: NewCustom("analysis.leads", struct{}{}), expected: Kind("analysis.leads")},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}

func TestBuiltinKindsAreDistinctAndValid(t *testing.T) {
	seen := map[Kind]bool{}
	for _, kind := range BuiltinKinds() {
		if !kind.Valid() {
			t.Fatalf("expected builtin kind %q to be valid", kind)
		}
		if seen[kind] {
			t.Fatalf("duplicate builtin kind %q", kind)
		}
		seen[kind] = true
	}
}

func TestBuiltinKindsReturnsCopy(t *testing.T) {
	kinds := BuiltinKinds()
	kinds[0] = "mutated"

	if BuiltinKinds()[0] == "mutated" {
		t.Fatalf("expected builtin kinds to be unaffected by caller mutation")
	}
}

func TestKindValid(t *testing.T) {
	if Kind("").Valid() {
		t.Fatalf("expected empty kind to be invalid")
	}
	if Kind("has space").Valid() {
		t.Fatalf("expected kind with whitespace to be invalid")
	}
	if !Kind("analysis.research").Valid() {
		t.Fatalf("expected namespaced kind to be valid")
	}
}

func TestIsTextAndContent(t *testing.T) {
	if !IsText(NewUserTranscriptionReceived("hi")) || !IsText(NewAgentResponse("hello")) {
		t.Fatalf("expected transcripts and responses to be text events")
	}
	if IsText(NewUserStartedSpeaking()) || IsText(NewToolCall("1", "x", "{}")) {
		t.Fatalf("expected non-conversational events not to be text events")
	}
	if got := Content(NewAgentResponse("hello")); got != "hello" {
		t.Fatalf("expected content %q, got %q", "hello", got)
	}
	if got := Content(NewEndCall("bye")); got != "" {
		t.Fatalf("expected no content for end call, got %q", got)
	}
}

func TestWithTimestampOverridesTimestamp(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	event := NewUserStoppedSpeaking(WithTimestamp(at))

	if !event.Timestamp().Equal(at) {
		t.Fatalf("expected timestamp %v, got %v", at, event.Timestamp())
	}
}

func TestLogMessageCopiesMetadata(t *testing.T) {
	metadata := map[string]any{"a": 1}
	event := NewLogMessage("node", "info", "msg", metadata)
	metadata["a"] = 2

	if event.Metadata["a"] != 1 {
		t.Fatalf("expected metadata to be copied, got %v", event.Metadata["a"])
	}
}
