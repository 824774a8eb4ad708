// Package models defines the wire and storage types shared across the
// classpilot gateway: the conversation message union, sessions, artifacts,
// tool envelopes, and the frozen SSE event schema.
package models

import (
	"encoding/json"
	"time"
)

// MessageKind discriminates the four conversation message variants.
type MessageKind string

const (
	// MessageUser is a teacher-authored turn opener.
	MessageUser MessageKind = "user"

	// MessageAssistantText is model-emitted prose.
	MessageAssistantText MessageKind = "assistant_text"

	// MessageToolCall records the model requesting a tool execution.
	MessageToolCall MessageKind = "tool_call"

	// MessageToolReturn records the outcome of a tool execution. Every
	// persisted tool_call must be followed by its tool_return; truncation
	// keeps or drops the pair together.
	MessageToolReturn MessageKind = "tool_return"
)

// Message is the tagged union of conversation history entries. Only the
// fields for the active Kind are populated; order within a session is
// significant.
type Message struct {
	Kind MessageKind `json:"kind"`

	// Content is set for user and assistant_text messages.
	Content string `json:"content,omitempty"`

	// ToolCallID links a tool_call to its tool_return.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolName is set for tool_call and tool_return messages.
	ToolName string `json:"tool_name,omitempty"`

	// Arguments holds the structured tool input (tool_call only).
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Result holds the structured tool output (tool_return only).
	Result json.RawMessage `json:"result,omitempty"`

	// Status is the tool_return outcome: ok, no_result, error, degraded, partial.
	Status string `json:"status,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewUserMessage builds a user-variant message stamped now.
func NewUserMessage(content string) Message {
	return Message{Kind: MessageUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantText builds an assistant_text-variant message stamped now.
func NewAssistantText(content string) Message {
	return Message{Kind: MessageAssistantText, Content: content, Timestamp: time.Now()}
}

// NewToolCallMessage builds a tool_call-variant message stamped now.
func NewToolCallMessage(toolCallID, toolName string, args json.RawMessage) Message {
	return Message{
		Kind:       MessageToolCall,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Arguments:  args,
		Timestamp:  time.Now(),
	}
}

// NewToolReturnMessage builds a tool_return-variant message stamped now.
func NewToolReturnMessage(toolCallID, toolName string, result json.RawMessage, status string) Message {
	return Message{
		Kind:       MessageToolReturn,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Result:     result,
		Status:     status,
		Timestamp:  time.Now(),
	}
}

// ConversationSession is the persisted state of one conversation. Sessions
// are keyed by ConversationID and scoped to the owning teacher.
type ConversationSession struct {
	ConversationID string    `json:"conversation_id"`
	TeacherID      string    `json:"teacher_id"`
	Messages       []Message `json:"messages"`

	// Summary compresses a truncated prefix of the history.
	Summary string `json:"summary,omitempty"`

	// SummarizedMessageCount is how many leading messages Summary replaces.
	SummarizedMessageCount int `json:"summarized_message_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so store readers never share message slices
// with writers.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	return &clone
}

// ToolCall is the model's request to execute a registered tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolReturn is the structured outcome fed back to the model.
type ToolReturn struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Result     json.RawMessage `json:"result"`
	Status     string          `json:"status"`
}
