package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/turnwheel/turnwheel/pkg/chat"
)

// historyCharsPerToken is the pruning size heuristic: roughly four characters
// per token of history.
const historyCharsPerToken = 4

// Session owns one conversation's state: append-only history, iteration
// count and accumulated cost. A session belongs to exactly one orchestrator
// at a time; nothing else mutates its counters.
type Session struct {
	ID        string         `json:"id"`
	Messages  []chat.Message `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`

	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"`
	Iterations   int     `json:"iterations"`
}

type Opt func(s *Session)

func WithUserMessage(content string) Opt {
	return func(s *Session) {
		s.Messages = append(s.Messages, chat.Message{
			Role:      chat.MessageRoleUser,
			Content:   content,
			CreatedAt: time.Now().Format(time.RFC3339),
		})
	}
}

func WithID(id string) Opt {
	return func(s *Session) {
		s.ID = id
	}
}

// New creates a session with a fresh conversation id.
func New(opts ...Opt) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Messages:  make([]chat.Message, 0),
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("Created session", "session_id", s.ID)
	return s
}

// AddMessage appends to history. History entries are never mutated or
// reordered after this.
func (s *Session) AddMessage(msg chat.Message) {
	if msg.CreatedAt == "" {
		msg.CreatedAt = time.Now().Format(time.RFC3339)
	}
	s.Messages = append(s.Messages, msg)
}

// History returns a copy of the message history for building a request.
func (s *Session) History() []chat.Message {
	out := make([]chat.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

// RecordTurn accounts one completed turn. Cost is monotone: negative values
// are ignored.
func (s *Session) RecordTurn(usage chat.Usage, cost float64) {
	s.InputTokens += max(usage.InputTokens, 0)
	s.OutputTokens += max(usage.OutputTokens, 0)
	if cost > 0 {
		s.TotalCost += cost
	}
	s.Iterations++
}

// EstimatedTokens is the size heuristic used for pruning.
func (s *Session) EstimatedTokens() int64 {
	var chars int64
	for i := range s.Messages {
		chars += int64(len(s.Messages[i].Content))
		for _, tb := range s.Messages[i].ThinkingBlocks {
			chars += int64(len(tb.Content))
		}
		for _, tc := range s.Messages[i].ToolCalls {
			chars += int64(len(tc.Arguments))
		}
	}
	return chars / historyCharsPerToken
}

// Prune drops the oldest non-system entries until the estimated size fits
// maxTokens, preserving the most recent context. Dropping an assistant
// message with tool calls also drops its tool results so the history never
// contains orphaned pairs. Returns the number of messages removed.
func (s *Session) Prune(maxTokens int64) int {
	if maxTokens <= 0 {
		return 0
	}

	removed := 0
	for s.EstimatedTokens() > maxTokens {
		idx := s.firstPrunable()
		if idx < 0 {
			break
		}
		removed += s.removeAt(idx)
	}

	if removed > 0 {
		slog.Debug("Pruned session history",
			"session_id", s.ID,
			"removed", removed,
			"remaining", len(s.Messages))
	}
	return removed
}

// firstPrunable finds the oldest entry eligible for removal. System messages
// and the most recent entry are always kept.
func (s *Session) firstPrunable() int {
	for i := 0; i < len(s.Messages)-1; i++ {
		if s.Messages[i].Role != chat.MessageRoleSystem {
			return i
		}
	}
	return -1
}

// removeAt removes one entry and, for assistant messages with tool calls,
// the matching tool results.
func (s *Session) removeAt(idx int) int {
	msg := s.Messages[idx]

	orphaned := make(map[string]bool, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		orphaned[tc.ID] = true
	}

	kept := s.Messages[:idx:idx]
	removed := 1
	for i := idx + 1; i < len(s.Messages); i++ {
		m := s.Messages[i]
		if m.Role == chat.MessageRoleTool && orphaned[m.ToolCallID] {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.Messages = kept
	return removed
}
