package tools

import "context"

// ToolCall is one requested invocation taken from an assistant turn.
// Arguments holds the raw JSON exactly as received; sanitization happens at
// dispatch time.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallResult is what a handler returns. Output is the text fed back to
// the model; IsError marks a handled failure that should not abort the turn.
type ToolCallResult struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

func ResultSuccess(output string) *ToolCallResult {
	return &ToolCallResult{Output: output}
}

func ResultError(output string) *ToolCallResult {
	return &ToolCallResult{Output: output, IsError: true}
}

// Handler executes one tool call. Params is the sanitized argument object;
// it is never nil.
type Handler func(ctx context.Context, call ToolCall, params map[string]any) (*ToolCallResult, error)

type ToolAnnotations struct {
	Title        string `json:"title,omitempty"`
	ReadOnlyHint bool   `json:"readOnlyHint,omitempty"`
}

// Tool is a named capability declared to the model service.
type Tool struct {
	Name        string
	Description string

	// Parameters is the JSON schema of the input object.
	Parameters any

	Handler     Handler
	Annotations ToolAnnotations
}
