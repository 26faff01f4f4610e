package builtin

import (
	"context"
	"strings"
	"sync"

	"github.com/turnwheel/turnwheel/pkg/tools"
)

const ToolNameThink = "think"

type ThinkArgs struct {
	Thought string `json:"thought" jsonschema:"description=The thought to think about"`
}

// ThinkTool is an in-memory scratchpad. It never touches the outside world,
// so it is safe to offer in any conversation.
type ThinkTool struct {
	mu       sync.Mutex
	thoughts []string
}

func NewThinkTool() *ThinkTool {
	return &ThinkTool{}
}

func (t *ThinkTool) Tool() tools.Tool {
	return tools.Tool{
		Name:        ToolNameThink,
		Description: "Use the tool to think about something. It will not obtain new information or change anything, but just append the thought to the log. Use it when complex reasoning or some cache memory is needed.",
		Parameters:  tools.MustSchemaFor[ThinkArgs](),
		Handler:     t.callTool,
		Annotations: tools.ToolAnnotations{
			Title:        "Think",
			ReadOnlyHint: true,
		},
	}
}

func (t *ThinkTool) callTool(_ context.Context, _ tools.ToolCall, params map[string]any) (*tools.ToolCallResult, error) {
	thought, _ := params["thought"].(string)

	t.mu.Lock()
	t.thoughts = append(t.thoughts, thought)
	joined := strings.Join(t.thoughts, "\n")
	t.mu.Unlock()

	return tools.ResultSuccess("Thoughts:\n" + joined), nil
}
