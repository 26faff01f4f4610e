package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/concurrent"
	"github.com/turnwheel/turnwheel/pkg/model/provider"
	"github.com/turnwheel/turnwheel/pkg/session"
	"github.com/turnwheel/turnwheel/pkg/tools"
	"github.com/turnwheel/turnwheel/pkg/turns"
)

// DefaultCompletionTool matches the builtin task_complete tool.
const DefaultCompletionTool = "task_complete"

const (
	defaultMaxIterations    = 25
	defaultProgressInterval = 250 * time.Millisecond
	defaultMaxHistoryTokens = int64(150_000)
)

// Status is the terminal state of a conversation.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusBudgetExceeded Status = "budget_exceeded"
	StatusMaxIterations  Status = "max_iterations"
	StatusFailed         Status = "failed"
	// StatusCanceled means the context was canceled mid-conversation. The
	// partial final turn is kept, but the run does not count as a success.
	StatusCanceled Status = "canceled"
)

// Result reports how a conversation ended. Iterations and TotalCost are
// populated even on failure so partial spend is never lost.
type Result struct {
	ConversationID string
	Status         Status
	Success        bool
	FinalTurn      *turns.ParsedTurn
	Err            error
	Iterations     int
	TotalCost      float64
}

// CostFunc converts a turn's usage counters into monetary cost. Pricing is
// owned by the caller.
type CostFunc func(usage chat.Usage) float64

func zeroCost(chat.Usage) float64 { return 0 }

type Opt func(*Runtime)

func WithRegistry(registry *tools.Registry) Opt {
	return func(r *Runtime) { r.registry = registry }
}

func WithStore(store session.Store) Opt {
	return func(r *Runtime) { r.store = store }
}

func WithCostFunc(fn CostFunc) Opt {
	return func(r *Runtime) { r.cost = fn }
}

func WithSystemPrompt(system string) Opt {
	return func(r *Runtime) { r.system = system }
}

func WithMaxIterations(n int) Opt {
	return func(r *Runtime) { r.maxIterations = n }
}

// WithCostBudget caps the conversation's spend. Zero means unlimited.
func WithCostBudget(budget float64) Opt {
	return func(r *Runtime) { r.costBudget = budget }
}

func WithStreaming(enabled bool) Opt {
	return func(r *Runtime) { r.useStreaming = enabled }
}

// WithTypewriterDelay paces partial-text delivery at one character per d.
// Zero delivers text as it arrives.
func WithTypewriterDelay(d time.Duration) Opt {
	return func(r *Runtime) { r.typewriterDelay = d }
}

// WithIdleTimeout bounds streaming inactivity. The resulting timeout error
// goes through the retry policy like any other transient failure.
func WithIdleTimeout(d time.Duration) Opt {
	return func(r *Runtime) { r.idleTimeout = d }
}

func WithRetryConfig(cfg RetryConfig) Opt {
	return func(r *Runtime) { r.retry = cfg }
}

func WithCompletionTool(name string) Opt {
	return func(r *Runtime) { r.completionTool = name }
}

func WithMaxTokens(n int64) Opt {
	return func(r *Runtime) { r.maxTokens = n }
}

func WithThinkingBudget(n int64) Opt {
	return func(r *Runtime) { r.thinkingBudget = n }
}

func WithMaxHistoryTokens(n int64) Opt {
	return func(r *Runtime) { r.maxHistoryTokens = n }
}

func WithTracer(tracer trace.Tracer) Opt {
	return func(r *Runtime) { r.tracer = tracer }
}

// WithProgress reports streaming progress at a fixed interval. fn is never
// invoked concurrently with itself.
func WithProgress(fn func(turns.Progress)) Opt {
	return func(r *Runtime) { r.onProgress = fn }
}

// WithPartialText delivers response text as it streams. Chunks arrive in
// order and fn is never invoked concurrently, so a plain writer is a valid
// callback. A chunk delivered before a mid-stream failure is not delivered
// again by the retried attempt.
func WithPartialText(fn func(string)) Opt {
	return func(r *Runtime) { r.onPartialText = fn }
}

// WithPartialThinking delivers reasoning text as it streams, under the same
// delivery contract as WithPartialText.
func WithPartialThinking(fn func(string)) Opt {
	return func(r *Runtime) { r.onPartialThinking = fn }
}

// Runtime drives conversations against one model provider. A runtime may
// serve concurrent conversations; its collaborators (provider, registry,
// cost function, store) are read-mostly and shared, while all per-
// conversation state lives in the session and in accumulators keyed by
// conversation id.
type Runtime struct {
	provider provider.Provider
	registry *tools.Registry
	store    session.Store
	cost     CostFunc
	tracer   trace.Tracer

	system           string
	maxIterations    int
	costBudget       float64
	useStreaming     bool
	typewriterDelay  time.Duration
	idleTimeout      time.Duration
	retry            RetryConfig
	completionTool   string
	maxTokens        int64
	thinkingBudget   int64
	maxHistoryTokens int64

	onProgress        func(turns.Progress)
	onPartialText     func(string)
	onPartialThinking func(string)

	// active holds a progress probe per in-flight streaming turn. At most
	// one exists per conversation since turns are strictly sequential.
	active *concurrent.Map[string, progressProbe]
}

// progressProbe reads a streaming turn's progress under that turn's lock.
type progressProbe func(now time.Time) turns.Progress

func New(p provider.Provider, opts ...Opt) (*Runtime, error) {
	if p == nil {
		return nil, errors.New("runtime: provider is required")
	}

	r := &Runtime{
		provider:         p,
		registry:         tools.NewRegistry(),
		store:            session.NewInMemoryStore(),
		cost:             zeroCost,
		maxIterations:    defaultMaxIterations,
		retry:            DefaultRetryConfig(),
		completionTool:   DefaultCompletionTool,
		maxHistoryTokens: defaultMaxHistoryTokens,
		active:           concurrent.NewMap[string, progressProbe](),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.maxIterations < 1 {
		return nil, fmt.Errorf("runtime: max iterations must be positive, got %d", r.maxIterations)
	}
	return r, nil
}

// RunConversation drives one conversation to a terminal state. The returned
// Result is always non-nil; the error mirrors Result.Err for failed
// conversations.
func (r *Runtime) RunConversation(ctx context.Context, prompt string) (*Result, error) {
	sess := session.New(session.WithUserMessage(prompt))
	if err := r.store.AddSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("adding session: %w", err)
	}

	slog.Debug("Starting conversation",
		"conversation_id", sess.ID,
		"provider", r.provider.ID(),
		"max_iterations", r.maxIterations,
		"streaming", r.useStreaming)

	dispatcher := &toolDispatcher{registry: r.registry, tracer: r.tracer}
	result := &Result{ConversationID: sess.ID, Status: StatusMaxIterations}

	for iteration := 1; iteration <= r.maxIterations; iteration++ {
		// Budget pre-check: once spend has met the budget, no further
		// request is made. The iteration that crosses the budget is allowed
		// to finish; the next one halts here.
		if r.costBudget > 0 && sess.TotalCost >= r.costBudget {
			slog.Info("Cost budget exhausted",
				"conversation_id", sess.ID,
				"total_cost", sess.TotalCost,
				"budget", r.costBudget)
			result.Status = StatusBudgetExceeded
			result.Err = Classify(fmt.Errorf("%w: spent %.6f of %.6f", ErrBudgetExceeded, sess.TotalCost, r.costBudget))
			break
		}

		// The gate outlives retry attempts so a retried stream does not
		// re-deliver text the consumer already saw.
		var gate *outputGate
		if r.useStreaming {
			gate = newOutputGate(r.drainMode(), r.onPartialText, r.onPartialThinking)
		}
		turn, err := ExecuteWithRetry(ctx, r.retry, func(ctx context.Context) (*turns.ParsedTurn, error) {
			return r.completeTurn(ctx, sess, gate)
		})
		if err != nil {
			result.Status = StatusFailed
			result.Err = err
			break
		}

		sess.RecordTurn(turn.Usage, r.cost(turn.Usage))
		sess.AddMessage(turn.AssistantMessage())
		result.FinalTurn = turn

		canceled := ctx.Err() != nil

		switch {
		case canceled:
			// A canceled turn keeps whatever it accumulated; tool dispatch
			// for this turn is skipped.
			slog.Debug("Conversation canceled, folding partial turn", "conversation_id", sess.ID)
			result.Status = StatusCanceled

		case turn.HasToolCalls():
			results := dispatcher.Dispatch(ctx, turn.ToolCalls)
			for i := range results {
				sess.AddMessage(results[i].Message())
			}
			if completionFired(results, r.completionTool) || terminalStop(turn.StopReason) {
				result.Status = StatusCompleted
			}

		case turn.IsComplete(r.completionTool):
			result.Status = StatusCompleted
		}

		if err := r.store.UpdateSession(ctx, sess); err != nil {
			slog.Warn("Failed to persist session", "conversation_id", sess.ID, "error", err)
		}

		if result.Status == StatusCompleted || result.Status == StatusCanceled {
			break
		}
		result.Status = StatusMaxIterations

		if pruned := sess.Prune(r.maxHistoryTokens); pruned > 0 {
			slog.Debug("History pruned", "conversation_id", sess.ID, "messages_removed", pruned)
		}
	}

	result.Iterations = sess.Iterations
	result.TotalCost = sess.TotalCost
	result.Success = result.Status == StatusCompleted

	if err := r.store.UpdateSession(ctx, sess); err != nil {
		slog.Warn("Failed to persist session", "conversation_id", sess.ID, "error", err)
	}

	slog.Info("Conversation finished",
		"conversation_id", sess.ID,
		"status", result.Status,
		"iterations", result.Iterations,
		"total_cost", result.TotalCost)

	if result.Status == StatusFailed {
		return result, result.Err
	}
	return result, nil
}

// terminalStop reports whether the service itself declared the turn final.
func terminalStop(reason chat.StopReason) bool {
	return reason == chat.StopReasonEndTurn || reason == chat.StopReasonStopSequence
}

// Progress reports the live progress of a conversation's in-flight streaming
// turn. The second return is false when no streaming turn is active for that
// conversation.
func (r *Runtime) Progress(conversationID string) (turns.Progress, bool) {
	probe, ok := r.active.Load(conversationID)
	if !ok {
		return turns.Progress{}, false
	}
	return probe(time.Now()), true
}

func (r *Runtime) drainMode() turns.DrainMode {
	if r.typewriterDelay > 0 {
		return turns.DrainTypewriter
	}
	return turns.DrainImmediate
}

// completeTurn performs one model call, batch or streaming, and returns the
// reconstructed turn.
func (r *Runtime) completeTurn(ctx context.Context, sess *session.Session, gate *outputGate) (*turns.ParsedTurn, error) {
	req := provider.Request{
		System:         r.system,
		Messages:       sess.History(),
		Tools:          r.registry.All(),
		MaxTokens:      r.maxTokens,
		ThinkingBudget: r.thinkingBudget,
	}

	if !r.useStreaming {
		resp, err := r.provider.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return turns.Parse(resp), nil
	}

	return r.streamTurn(ctx, sess.ID, req, gate)
}

// streamTurn consumes one streaming turn. Events are folded strictly in
// arrival order into an accumulator owned by this conversation. On
// cancellation the partial turn is returned with all buffered output
// flushed, not discarded.
func (r *Runtime) streamTurn(ctx context.Context, conversationID string, req provider.Request, gate *outputGate) (*turns.ParsedTurn, error) {
	stream, err := r.provider.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	stream = provider.WithIdleTimeout(stream, r.idleTimeout)
	defer stream.Close()

	// Fresh buffers for this attempt; the gate's delivered marks persist
	// across attempts of the same turn.
	gate.rearm()

	acc := turns.NewAccumulator()

	var mu sync.Mutex
	r.active.Store(conversationID, func(now time.Time) turns.Progress {
		mu.Lock()
		defer mu.Unlock()
		return acc.Progress(now)
	})
	defer r.active.Delete(conversationID)

	stopAux := r.startAuxiliaries(&mu, acc, gate)
	defer stopAux()

	var finalTurn *turns.ParsedTurn
	for {
		ev, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			if ctx.Err() != nil {
				// Explicit stop: flush and keep what we have.
				mu.Lock()
				turn := acc.Cancel()
				mu.Unlock()
				gate.flush()
				return turn, nil
			}
			mu.Lock()
			acc.Apply(chat.StreamEvent{Type: chat.StreamEventError, Timestamp: time.Now(), Err: recvErr})
			mu.Unlock()
			// No flush. A retried attempt re-delivers from the gate's marks,
			// so whatever this attempt buffered but never delivered arrives
			// with the replay instead.
			return nil, recvErr
		}

		mu.Lock()
		signals := acc.Apply(ev)
		mu.Unlock()

		for _, sig := range signals {
			switch s := sig.(type) {
			case turns.TextSignal:
				gate.PushText(s.Text)
			case turns.ThinkingSignal:
				gate.PushThinking(s.Text)
			case turns.TurnSignal:
				finalTurn = s.Turn
			case turns.ErrorSignal:
				return nil, s.Err
			}
		}

		// Buffers drain fully at block boundaries regardless of pacing.
		if ev.Type == chat.StreamEventContentBlockStop || ev.Type == chat.StreamEventMessageStop {
			gate.flush()
		} else if r.typewriterDelay <= 0 {
			gate.drain(-1)
		}
	}

	if finalTurn == nil {
		// Stream ended without message_stop; salvage what arrived.
		mu.Lock()
		finalTurn = acc.Cancel()
		mu.Unlock()
	}
	gate.flush()

	// Stop the tickers before the final report so the progress callback
	// never overlaps itself.
	stopAux()
	if r.onProgress != nil {
		mu.Lock()
		progress := acc.Progress(time.Now())
		mu.Unlock()
		r.onProgress(progress)
	}

	return finalTurn, nil
}

// startAuxiliaries runs the progress timer and, in typewriter mode, the
// paced drain timer. The returned stop function flushes nothing and is safe
// to call more than once; callers flush explicitly.
func (r *Runtime) startAuxiliaries(mu *sync.Mutex, acc *turns.Accumulator, gate *outputGate) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup

	if r.onProgress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(defaultProgressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					mu.Lock()
					progress := acc.Progress(time.Now())
					mu.Unlock()
					r.onProgress(progress)
				case <-done:
					return
				}
			}
		}()
	}

	if r.typewriterDelay > 0 && (r.onPartialText != nil || r.onPartialThinking != nil) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(r.typewriterDelay)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					gate.drain(1)
				case <-done:
					return
				}
			}
		}()
	}

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
