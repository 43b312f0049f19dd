package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string  // unique logical name
	Description string  // concise doc for model selection
	Parameters  *Schema // argument schema
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Name() string
	Spec() ToolSpec
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}
