package events

const (
	// KindToolCall identifies a requested tool invocation.
	KindToolCall Kind = "tool.call"
	// KindToolResult identifies the outcome of a tool invocation.
	KindToolResult Kind = "tool.result"
)

// ToolCall marks a tool invocation requested by a node. Arguments hold the
// raw JSON arguments as produced by the model.
type ToolCall struct {
	Base
	ID        string
	Name      string
	Arguments string
}

// NewToolCall creates a tool call event.
func NewToolCall(id, name, arguments string, opts ...RebaseOption) ToolCall {
	return ToolCall{Base: rebase(KindToolCall, opts), ID: id, Name: name, Arguments: arguments}
}

// ToolResult marks the outcome of a tool invocation. Error is empty on
// success.
type ToolResult struct {
	Base
	ID        string
	Name      string
	Arguments string
	Result    string
	Error     string
}

// NewToolResult creates a successful tool result event.
func NewToolResult(id, name, arguments, result string, opts ...RebaseOption) ToolResult {
	return ToolResult{Base: rebase(KindToolResult, opts), ID: id, Name: name, Arguments: arguments, Result: result}
}

// NewToolFailure creates a failed tool result event.
func NewToolFailure(id, name, arguments, err string, opts ...RebaseOption) ToolResult {
	return ToolResult{Base: rebase(KindToolResult, opts), ID: id, Name: name, Arguments: arguments, Error: err}
}

// Failed reports whether the tool invocation failed.
func (r ToolResult) Failed() bool { return r.Error != "" }
