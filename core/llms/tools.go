package llms

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

type Tool struct {
	Type     string
	Function ToolFunction
	Execute  func(parameters string) (string, error)
}

type ToolFunction struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// NewTool creates a function tool whose parameters schema is reflected from
// T. The execute function receives the decoded arguments.
func NewTool[T any](name, description string, execute func(T) (string, error)) Tool {
	var parameters T
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}

	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  reflector.ReflectFromType(reflect.TypeOf(parameters)),
		},
		Execute: func(arguments string) (string, error) {
			var decoded T
			if arguments != "" {
				if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
					return "", fmt.Errorf("failed to decode %s arguments: %w", name, err)
				}
			}
			return execute(decoded)
		},
	}
}

// FindTool returns the tool registered under name.
func FindTool(tools []Tool, name string) (Tool, bool) {
	for _, tool := range tools {
		if tool.Function.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}
