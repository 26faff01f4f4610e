package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/turnwheel/turnwheel/pkg/chat"
	"github.com/turnwheel/turnwheel/pkg/tools"
	"github.com/turnwheel/turnwheel/pkg/turns"
)

// ToolExecutionResult pairs 1:1 with the tool call that produced it.
type ToolExecutionResult struct {
	Call     tools.ToolCall
	Success  bool
	Output   string
	Error    string
	Duration time.Duration
}

// Message renders the result as the tool message folded into history.
func (r *ToolExecutionResult) Message() chat.Message {
	content := r.Output
	if !r.Success {
		content = r.Error
	}
	if strings.TrimSpace(content) == "" {
		content = "(no output)"
	}
	return chat.Message{
		Role:       chat.MessageRoleTool,
		Content:    content,
		ToolCallID: r.Call.ID,
		IsError:    !r.Success,
		CreatedAt:  time.Now().Format(time.RFC3339),
	}
}

// toolDispatcher resolves and executes the tool calls of one turn. All calls
// fan out concurrently; a failing call never aborts its siblings, it just
// settles as a failed result.
type toolDispatcher struct {
	registry *tools.Registry
	tracer   trace.Tracer
}

// Dispatch executes all calls and returns results in call order. Every call
// settles: unresolved names and handler errors become failed results, never
// a returned error.
func (d *toolDispatcher) Dispatch(ctx context.Context, calls []tools.ToolCall) []ToolExecutionResult {
	if len(calls) == 0 {
		return nil
	}

	slog.Debug("Dispatching tool calls", "call_count", len(calls))

	results := make([]ToolExecutionResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.execute(ctx, call)
			return nil
		})
	}
	// The group never propagates errors; Wait is only a join point.
	_ = g.Wait()

	return results
}

func (d *toolDispatcher) execute(ctx context.Context, call tools.ToolCall) ToolExecutionResult {
	ctx, span := d.startSpan(ctx, "runtime.tool.call", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	start := time.Now()

	tool, ok := d.registry.Lookup(call.Name)
	if !ok {
		slog.Warn("Tool call to unregistered tool", "tool", call.Name, "call_id", call.ID)
		span.SetStatus(codes.Error, "tool not found")
		return ToolExecutionResult{
			Call:     call,
			Error:    fmt.Sprintf("tool not found: %s", call.Name),
			Duration: time.Since(start),
		}
	}

	params := turns.SanitizeParameters(call.Arguments)
	res, err := tool.Handler(ctx, call, params)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool handler error")
		slog.Error("Error calling tool", "tool", call.Name, "error", err)
		return ToolExecutionResult{
			Call:     call,
			Error:    fmt.Sprintf("Error calling tool: %v", err),
			Duration: duration,
		}
	}
	if res == nil {
		res = tools.ResultError("tool returned no result")
	}

	output, success := normalizeOutput(res)
	if success {
		span.SetStatus(codes.Ok, "tool call completed")
		slog.Debug("Tool call completed", "tool", call.Name, "duration", duration, "output_length", len(output))
		return ToolExecutionResult{Call: call, Success: true, Output: output, Duration: duration}
	}

	span.SetStatus(codes.Error, "tool reported failure")
	return ToolExecutionResult{Call: call, Error: output, Duration: duration}
}

// normalizeOutput flattens the two result shapes handlers produce: a bare
// output string, or a JSON envelope {"success": bool, "result"|"error": ...}.
// Both collapse into (text, success) here so callers never inspect shapes.
func normalizeOutput(res *tools.ToolCallResult) (string, bool) {
	output := res.Output

	if gjson.Valid(output) {
		parsed := gjson.Parse(output)
		if parsed.IsObject() {
			if success := parsed.Get("success"); success.Type == gjson.True || success.Type == gjson.False {
				if success.Bool() {
					if result := parsed.Get("result"); result.Exists() {
						return result.String(), !res.IsError
					}
					return output, !res.IsError
				}
				if errVal := parsed.Get("error"); errVal.Exists() {
					return errVal.String(), false
				}
				return output, false
			}
		}
	}

	return output, !res.IsError
}

// completionFired reports whether any successful result targeted the
// designated completion tool.
func completionFired(results []ToolExecutionResult, completionTool string) bool {
	if completionTool == "" {
		return false
	}
	for i := range results {
		if results[i].Success && results[i].Call.Name == completionTool {
			return true
		}
	}
	return false
}

func (d *toolDispatcher) startSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return d.tracer.Start(ctx, name, opts...)
}
