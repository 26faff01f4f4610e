package builtin

import (
	"context"
	"strings"

	"github.com/turnwheel/turnwheel/pkg/tools"
)

// ToolNameTaskComplete is the designated completion signal. A successful call
// to this tool ends the conversation loop.
const ToolNameTaskComplete = "task_complete"

type TaskCompleteArgs struct {
	Summary string `json:"summary" jsonschema:"description=A short summary of what was accomplished"`
}

// NewTaskCompleteTool returns the tool the model calls to declare the task
// finished. The handler never fails, so the signal cannot be lost to a tool
// error.
func NewTaskCompleteTool() tools.Tool {
	return tools.Tool{
		Name:        ToolNameTaskComplete,
		Description: "Declare the current task complete. Call this exactly once, when the user's request has been fully handled. Include a short summary of the outcome.",
		Parameters:  tools.MustSchemaFor[TaskCompleteArgs](),
		Handler: func(_ context.Context, _ tools.ToolCall, params map[string]any) (*tools.ToolCallResult, error) {
			summary, _ := params["summary"].(string)
			summary = strings.TrimSpace(summary)
			if summary == "" {
				summary = "Task complete."
			}
			return tools.ResultSuccess(summary), nil
		},
		Annotations: tools.ToolAnnotations{
			Title:        "Task complete",
			ReadOnlyHint: true,
		},
	}
}
