package events

const (
	// KindLogMetric identifies a named metric value.
	KindLogMetric Kind = "log.metric"
	// KindLogMessage identifies a structured log line.
	KindLogMessage Kind = "log.message"
)

// LogMetric carries a named metric value, e.g. a recorded form answer.
type LogMetric struct {
	Base
	Name  string
	Value any
}

// NewLogMetric creates a log metric event.
func NewLogMetric(name string, value any, opts ...RebaseOption) LogMetric {
	return LogMetric{Base: rebase(KindLogMetric, opts), Name: name, Value: value}
}

// LogMessage carries a structured log line emitted by a node.
type LogMessage struct {
	Base
	Name     string
	Level    string
	Message  string
	Metadata map[string]any
}

// NewLogMessage creates a log message event. The metadata map is copied.
func NewLogMessage(name, level, message string, metadata map[string]any, opts ...RebaseOption) LogMessage {
	var copied map[string]any
	if metadata != nil {
		copied = make(map[string]any, len(metadata))
		for key, value := range metadata {
			copied[key] = value
		}
	}
	return LogMessage{Base: rebase(KindLogMessage, opts), Name: name, Level: level, Message: message, Metadata: copied}
}
