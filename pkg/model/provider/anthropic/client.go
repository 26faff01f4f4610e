package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/model/provider"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

// minThinkingBudget is Anthropic's floor for extended thinking.
const minThinkingBudget = 1024

// defaultMaxTokens is used when the request does not set a budget. Safe for
// all current Anthropic models.
const defaultMaxTokens = 8192

// Config selects the model and connection settings for one client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client wraps the Anthropic SDK and implements provider.Provider. All
// translation between SDK types and the normalized chat types happens here.
type Client struct {
	client anthropic.Client
	model  string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	requestOptions := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		requestOptions = append(requestOptions, option.WithBaseURL(cfg.BaseURL))
	}

	slog.Debug("Anthropic client created", "model", cfg.Model)
	return &Client{
		client: anthropic.NewClient(requestOptions...),
		model:  cfg.Model,
	}, nil
}

func (c *Client) ID() string {
	return "anthropic/" + c.model
}

// CreateChatCompletion performs one batch request and normalizes the
// response.
func (c *Client) CreateChatCompletion(ctx context.Context, req provider.Request) (*chat.Response, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	slog.Debug("Creating Anthropic chat completion",
		"model", c.model,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	return convertResponse(msg), nil
}

// CreateChatCompletionStream starts a streaming request and returns a stream
// of normalized events.
func (c *Client) CreateChatCompletionStream(ctx context.Context, req provider.Request) (chat.MessageStream, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	slog.Debug("Creating Anthropic chat completion stream",
		"model", c.model,
		"message_count", len(params.Messages),
		"tool_count", len(params.Tools))

	stream := c.client.Messages.NewStreaming(ctx, params)
	return newStreamAdapter(stream), nil
}

func (c *Client) buildParams(req provider.Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	converted := convertMessages(req.Messages)
	if len(converted) == 0 {
		return anthropic.MessageNewParams{}, errors.New("anthropic: no messages to send after conversion")
	}

	allTools, err := convertTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  converted,
		Tools:     allTools,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if req.ThinkingBudget > 0 {
		switch {
		case req.ThinkingBudget >= minThinkingBudget && req.ThinkingBudget < maxTokens:
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(req.ThinkingBudget)
		case req.ThinkingBudget >= maxTokens:
			slog.Warn("Anthropic thinking budget must be less than max tokens, ignoring",
				"thinking_budget", req.ThinkingBudget, "max_tokens", maxTokens)
		default:
			slog.Warn("Anthropic thinking budget below minimum, ignoring",
				"thinking_budget", req.ThinkingBudget, "minimum", minThinkingBudget)
		}
	}

	return params, nil
}

// convertMessages translates history into Anthropic message params.
// Consecutive tool results are grouped into a single user message, which the
// API requires immediately after an assistant message with tool_use blocks.
// Orphaned tool results (whose assistant turn was pruned) are dropped.
func convertMessages(messages []chat.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	pendingToolUse := false

	for i := 0; i < len(messages); i++ {
		msg := &messages[i]
		switch msg.Role {
		case chat.MessageRoleSystem:
			// System content travels in params.System.
			continue

		case chat.MessageRoleUser:
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}

		case chat.MessageRoleAssistant:
			blocks := assistantBlocks(msg)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
			pendingToolUse = len(msg.ToolCalls) > 0

		case chat.MessageRoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			j := i
			for j < len(messages) && messages[j].Role == chat.MessageRoleTool {
				tr := anthropic.NewToolResultBlock(messages[j].ToolCallID, strings.TrimSpace(messages[j].Content), messages[j].IsError)
				blocks = append(blocks, tr)
				j++
			}
			if len(blocks) > 0 && pendingToolUse {
				out = append(out, anthropic.NewUserMessage(blocks...))
			} else if len(blocks) > 0 {
				slog.Debug("Dropping orphaned tool results", "count", len(blocks))
			}
			pendingToolUse = false
			i = j - 1
		}
	}

	return out
}

// assistantBlocks renders one assistant message: thinking blocks first (kept
// verbatim with their signatures), then text, then tool_use blocks.
func assistantBlocks(msg *chat.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	for _, tb := range msg.ThinkingBlocks {
		if tb.Signature == "" {
			continue
		}
		blocks = append(blocks, anthropic.NewThinkingBlock(tb.Signature, tb.Content))
	}

	if txt := strings.TrimSpace(msg.Content); txt != "" {
		blocks = append(blocks, anthropic.NewTextBlock(txt))
	}

	for _, call := range msg.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
			input = map[string]any{}
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{
			OfToolUse: &anthropic.ToolUseBlockParam{
				ID:    call.ID,
				Name:  call.Name,
				Input: input,
			},
		})
	}

	return blocks
}

func convertTools(toolList []tools.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(toolList))
	for i := range toolList {
		schema, err := convertInputSchema(toolList[i].Parameters)
		if err != nil {
			return nil, fmt.Errorf("converting schema for tool %q: %w", toolList[i].Name, err)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        toolList[i].Name,
			Description: anthropic.String(toolList[i].Description),
			InputSchema: schema,
		}})
	}
	return out, nil
}

// convertInputSchema round-trips an arbitrary schema value through JSON into
// the SDK's schema param, without depending on the schema's concrete type.
func convertInputSchema(params any) (anthropic.ToolInputSchemaParam, error) {
	var schema anthropic.ToolInputSchemaParam
	if params == nil {
		schema.Type = "object"
		return schema, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return schema, err
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return schema, err
	}
	return schema, nil
}

// convertResponse normalizes a complete SDK message. Unknown block types are
// carried through with their raw type tag so the reconstructor can log and
// skip them.
func convertResponse(msg *anthropic.Message) *chat.Response {
	resp := &chat.Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		StopReason: chat.StopReason(msg.StopReason),
		Usage: chat.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	for i := range msg.Content {
		switch block := msg.Content[i].AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, chat.ContentBlock{
				Type: chat.ContentBlockTypeText,
				Text: block.Text,
			})
		case anthropic.ThinkingBlock:
			resp.Content = append(resp.Content, chat.ContentBlock{
				Type:      chat.ContentBlockTypeThinking,
				Thinking:  block.Thinking,
				Signature: block.Signature,
			})
		case anthropic.ToolUseBlock:
			resp.Content = append(resp.Content, chat.ContentBlock{
				Type:  chat.ContentBlockTypeToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: json.RawMessage(block.JSON.Input.Raw()),
			})
		default:
			resp.Content = append(resp.Content, chat.ContentBlock{
				Type: chat.ContentBlockType(msg.Content[i].Type),
			})
		}
	}

	return resp
}
