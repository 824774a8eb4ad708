package models

import "encoding/json"

// Wire event types. This schema is the inter-process contract with the
// browser client; renaming or re-casing a key requires a coordinated
// client rollout.
const (
	WireStart               = "start"
	WireTextStart           = "text-start"
	WireTextDelta           = "text-delta"
	WireTextEnd             = "text-end"
	WireToolInputStart      = "tool-input-start"
	WireToolInputAvailable  = "tool-input-available"
	WireToolOutputAvailable = "tool-output-available"
	WireError               = "error"
	WireFinish              = "finish"
)

// Finish reasons carried by the terminal wire event.
const (
	FinishStop    = "stop"
	FinishBudget  = "budget"
	FinishError   = "error"
	FinishTimeout = "timeout"
)

// WireEvent is one SSE payload. Field names are camelCase on the wire.
type WireEvent struct {
	Type string `json:"type"`

	// ID identifies a text part ("t-0", "t-1", ...).
	ID string `json:"id,omitempty"`

	// Delta carries incremental text for text-delta events.
	Delta string `json:"delta,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`

	ErrorText    string `json:"errorText,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`

	// ConversationID is sent once on the start event so clients can
	// continue the conversation.
	ConversationID string `json:"conversationId,omitempty"`
}
