package provider

import (
	"context"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/tools"
)

// Request is one turn request to the model service: ordered history, a
// system instruction, the declared capability catalog and per-call budgets.
type Request struct {
	System   string
	Messages []chat.Message
	Tools    []tools.Tool

	// MaxTokens is the combined work budget for this turn. Zero means the
	// provider's default.
	MaxTokens int64

	// ThinkingBudget enables extended thinking when positive.
	ThinkingBudget int64
}

// Provider is the model service collaborator. Implementations translate
// between the service's wire protocol and the normalized chat types; callers
// never see vendor SDK types.
type Provider interface {
	ID() string

	// CreateChatCompletion performs one batch request and returns the
	// complete response.
	CreateChatCompletion(ctx context.Context, req Request) (*chat.Response, error)

	// CreateChatCompletionStream starts a streaming request. The returned
	// stream yields normalized events strictly in arrival order.
	CreateChatCompletionStream(ctx context.Context, req Request) (chat.MessageStream, error)
}
