package agent

import (
	"context"
	"encoding/json"

	"github.com/classpilot/classpilot/pkg/models"
)

// ModelEventType discriminates the normalized provider stream events. Both
// providers are adapted onto this one vocabulary so the runtime and the SSE
// layer never see vendor event shapes.
type ModelEventType string

const (
	// EventTextStart opens a text part at Index.
	EventTextStart ModelEventType = "text-start"

	// EventTextDelta appends prose to the open text part.
	EventTextDelta ModelEventType = "text-delta"

	// EventTextEnd closes the text part at Index.
	EventTextEnd ModelEventType = "text-end"

	// EventToolCallStart announces a tool call; arguments follow as deltas.
	EventToolCallStart ModelEventType = "tool-call-start"

	// EventToolCallDelta carries a fragment of the tool call's JSON input.
	EventToolCallDelta ModelEventType = "tool-call-delta"

	// EventToolCall delivers the fully accumulated tool call.
	EventToolCall ModelEventType = "tool-call"

	// EventDone terminates the stream with a finish reason and usage.
	EventDone ModelEventType = "done"

	// EventError terminates the stream with a provider failure.
	EventError ModelEventType = "error"
)

// Finish reasons reported on EventDone.
const (
	DoneStop      = "stop"
	DoneToolCalls = "tool_calls"
	DoneLength    = "length"
)

// ModelEvent is one normalized event from a provider stream. Fields are
// populated per Type.
type ModelEvent struct {
	Type ModelEventType

	// Index identifies the content part for text events.
	Index int

	// Text is the delta payload for EventTextDelta.
	Text string

	// ToolCallID and ToolName are set on EventToolCallStart and
	// EventToolCallDelta.
	ToolCallID string
	ToolName   string

	// ArgsDelta is the input JSON fragment on EventToolCallDelta.
	ArgsDelta string

	// ToolCall is the complete call on EventToolCall.
	ToolCall *models.ToolCall

	// Reason and token usage are set on EventDone.
	Reason       string
	InputTokens  int
	OutputTokens int

	// Err is set on EventError.
	Err error
}

// ToolSchema is the provider-facing description of a registered tool.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ModelRequest is one streaming completion request.
type ModelRequest struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []ToolSchema
	MaxTokens int
}

// ModelProvider streams completions from one vendor. Stream returns as
// soon as the request is accepted; events arrive on the channel, which is
// closed after EventDone or EventError.
type ModelProvider interface {
	// Name identifies the vendor ("anthropic", "openai", "mock").
	Name() string

	// Stream starts a completion and returns the normalized event channel.
	// Cancelling ctx aborts the stream; the channel still closes.
	Stream(ctx context.Context, req *ModelRequest) (<-chan *ModelEvent, error)
}
