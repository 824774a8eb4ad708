package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/classpilot/classpilot/internal/observability"
	"github.com/classpilot/classpilot/pkg/models"
)

// Executor runs tool calls sequentially with a per-call timeout. Sequential
// execution keeps tool effects ordered the way the model requested them;
// a slow tool delays the turn rather than racing its siblings.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewExecutor creates an executor. timeout bounds each individual tool.
func NewExecutor(registry *Registry, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger,
	}
}

// ExecOutcome is the result of one tool call, already shaped for both the
// model (Return) and the SSE layer (Result).
type ExecOutcome struct {
	Call     models.ToolCall
	Result   *models.ToolResult
	Return   models.ToolReturn
	Duration time.Duration
	TimedOut bool
}

// Execute runs one tool call. Failures of any kind (unknown tool, invalid
// arguments, handler error, timeout) become structured error results fed
// back to the model; Execute itself fails only when the turn context is
// gone.
func (e *Executor) Execute(ctx context.Context, tc *TurnContext, call models.ToolCall) *ExecOutcome {
	start := time.Now()

	def, ok := e.registry.Lookup(call.Name)
	if !ok {
		return e.failure(call, start, "unknown_tool",
			fmt.Sprintf("no tool named %q is registered", call.Name))
	}

	if err := e.registry.ValidateArgs(call.Name, call.Input); err != nil {
		return e.failure(call, start, "invalid_arguments", err.Error())
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	toolCtx = WithTurnContext(toolCtx, tc)

	type handlerOut struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan handlerOut, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool handler panicked",
					"tool", call.Name, "tool_call_id", call.ID, "panic", r)
				done <- handlerOut{nil, fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := def.Handler(toolCtx, tc, call.Input)
		done <- handlerOut{result, err}
	}()

	var result *models.ToolResult
	timedOut := false
	select {
	case out := <-done:
		if out.err != nil {
			e.logger.Error("tool handler failed",
				"tool", call.Name, "tool_call_id", call.ID, "error", out.err)
			result = models.ErrorResult("tool execution failed: " + out.err.Error())
		} else if out.result == nil {
			result = models.ErrorResult("tool returned no result")
		} else {
			result = out.result
		}
	case <-toolCtx.Done():
		if ctx.Err() != nil {
			// Turn-level cancellation, not a tool fault.
			result = models.ErrorResult("turn cancelled during tool execution")
		} else {
			timedOut = true
			result = models.ErrorResult(fmt.Sprintf("tool timed out after %s", e.timeout))
		}
	}

	return e.outcome(call, result, start, timedOut)
}

func (e *Executor) failure(call models.ToolCall, start time.Time, kind, reason string) *ExecOutcome {
	e.logger.Warn("tool call rejected", "tool", call.Name, "kind", kind, "reason", reason)
	return e.outcome(call, models.ErrorResult(reason), start, false)
}

func (e *Executor) outcome(call models.ToolCall, result *models.ToolResult, start time.Time, timedOut bool) *ExecOutcome {
	duration := time.Since(start)

	payload, err := json.Marshal(result)
	if err != nil {
		// Data was not serializable; degrade to the reason alone.
		result = models.ErrorResult("tool result was not serializable")
		payload, _ = json.Marshal(result)
	}

	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, string(result.Status)).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(duration.Seconds())
	}
	e.logger.Debug("tool executed",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"status", result.Status,
		"duration_ms", duration.Milliseconds(),
		"timed_out", timedOut)

	return &ExecOutcome{
		Call:   call,
		Result: result,
		Return: models.ToolReturn{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Result:     payload,
			Status:     string(result.Status),
		},
		Duration: duration,
		TimedOut: timedOut,
	}
}
