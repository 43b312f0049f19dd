package harnessports

import (
	"context"
	"encoding/json"
)

// Conversation roles understood by generative providers.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Blob is inline binary data (audio input, generated images, speech output).
type Blob struct {
	MIMEType string
	Data     []byte
}

// FunctionCall is a structured tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// FunctionResponse carries a tool result back to the model.
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// Part is one element of a Content. Exactly one field is expected to be set.
type Part struct {
	Text             string
	InlineData       *Blob
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// Content is a single conversational turn sent to or received from a provider.
type Content struct {
	Role  string // "user" | "model"
	Parts []Part
}

// TextContent builds a single-part text Content.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// ContentConfig controls structured output, tools, and sampling for one call.
type ContentConfig struct {
	SystemInstruction  string
	ResponseMIMEType   string // "application/json" for structured output
	ResponseSchema     *Schema
	Tools              []ToolSpec
	Temperature        *float32
	MaxOutputTokens    int
	ResponseModalities []string // e.g. "TEXT", "AUDIO", "IMAGE"
}

// GenerateContentRequest is the provider-agnostic generateContent request.
type GenerateContentRequest struct {
	Model    string
	Contents []Content
	Config   *ContentConfig
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GenerateContentResponse is the provider's non-streaming response.
type GenerateContentResponse struct {
	Text          string
	FunctionCalls []FunctionCall
	InlineData    []Blob
	FinishReason  string
	Usage         *Usage
}

// Provider is the abstraction for generative backends.
type Provider interface {
	GenerateContent(ctx context.Context, req GenerateContentRequest) (GenerateContentResponse, error)
}
