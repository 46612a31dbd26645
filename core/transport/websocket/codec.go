package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koscakluka/ema-graph/core/events"
)

const (
	frameCallRequest  = "call.request"
	frameCallAccepted = "call.accepted"
	frameCallRejected = "call.rejected"
	frameError        = "error"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Frame is a single JSON message on the socket.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

type contentData struct {
	Content string `json:"content"`
}

type toolCallData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type toolResultData struct {
	toolCallData
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type endCallData struct {
	Reason string `json:"reason,omitempty"`
}

type transferCallData struct {
	Target string `json:"target"`
}

type logMetricData struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type logMessageData struct {
	Name     string         `json:"name"`
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type payloadCarrier interface {
	PayloadValue() any
}

// Codec converts events to frames and back. Custom kinds must be declared to
// be accepted inbound; their payload is kept as raw JSON.
type Codec struct {
	custom map[events.Kind]struct{}
}

func NewCodec(customKinds ...events.Kind) *Codec {
	c := &Codec{custom: map[events.Kind]struct{}{}}
	for _, kind := range customKinds {
		c.custom[kind] = struct{}{}
	}
	return c
}

func (c *Codec) Encode(event events.Event) (Frame, error) {
	var data any
	switch e := event.(type) {
	case events.UserStartedSpeaking, events.UserStoppedSpeaking:
	case events.UserTranscriptionReceived:
		data = contentData{Content: e.Content}
	case events.AgentResponse:
		data = contentData{Content: e.Content}
	case events.AgentSpeechSent:
		data = contentData{Content: e.Content}
	case events.ToolCall:
		data = toolCallData{ID: e.ID, Name: e.Name, Arguments: e.Arguments}
	case events.ToolResult:
		data = toolResultData{toolCallData: toolCallData{ID: e.ID, Name: e.Name, Arguments: e.Arguments}, Result: e.Result, Error: e.Error}
	case events.EndCall:
		data = endCallData{Reason: e.Reason}
	case events.TransferCall:
		data = transferCallData{Target: e.Target}
	case events.LogMetric:
		data = logMetricData{Name: e.Name, Value: e.Value}
	case events.LogMessage:
		data = logMessageData{Name: e.Name, Level: e.Level, Message: e.Message, Metadata: e.Metadata}
	case payloadCarrier:
		data = e.PayloadValue()
	default:
		return Frame{}, fmt.Errorf("encode %q: %w", event.Kind(), ErrUnknownKind)
	}

	timestamp := event.Timestamp()
	frame := Frame{Type: string(event.Kind()), Timestamp: &timestamp}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %q: %w", event.Kind(), err)
		}
		frame.Data = raw
	}
	return frame, nil
}

func (c *Codec) Decode(frame Frame) (events.Event, error) {
	var opts []events.RebaseOption
	if frame.Timestamp != nil {
		opts = append(opts, events.WithTimestamp(*frame.Timestamp))
	}

	kind := events.Kind(frame.Type)
	switch kind {
	case events.KindUserStartedSpeaking:
		return events.NewUserStartedSpeaking(opts...), nil
	case events.KindUserStoppedSpeaking:
		return events.NewUserStoppedSpeaking(opts...), nil
	case events.KindUserTranscriptionReceived:
		var data contentData
		if err := decodeData(frame, &data); err != nil {
			return nil, err
		}
		return events.NewUserTranscriptionReceived(data.Content, opts...), nil
	case events.KindAgentSpeechSent:
		var data contentData
		if err := decodeData(frame, &data); err != nil {
			return nil, err
		}
		return events.NewAgentSpeechSent(data.Content, opts...), nil
	case events.KindEndCall:
		var data endCallData
		if err := decodeData(frame, &data); err != nil {
			return nil, err
		}
		return events.NewEndCall(data.Reason, opts...), nil
	}

	if _, ok := c.custom[kind]; ok {
		return events.NewCustom(kind, frame.Data, opts...), nil
	}
	return nil, fmt.Errorf("decode %q: %w", frame.Type, ErrUnknownKind)
}

func decodeData(frame Frame, target any) error {
	if len(frame.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Data, target); err != nil {
		return fmt.Errorf("decode %q data: %w", frame.Type, err)
	}
	return nil
}
