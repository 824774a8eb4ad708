package models

// ToolStatus classifies a tool outcome for the model and the wire.
type ToolStatus string

const (
	StatusOK       ToolStatus = "ok"
	StatusNoResult ToolStatus = "no_result"
	StatusError    ToolStatus = "error"
	StatusDegraded ToolStatus = "degraded"
	StatusPartial  ToolStatus = "partial"
)

// ToolAction hints what the model should do with a generation result.
type ToolAction string

const (
	ActionComplete ToolAction = "complete"
	ActionClarify  ToolAction = "clarify"
	ActionPartial  ToolAction = "partial"
)

// ToolResult is the uniform envelope returned by generation, RAG, write and
// clarification tools. Data/analysis tools return plain maps with a status
// field instead; the runtime treats both identically on the wire.
type ToolResult struct {
	Data          any           `json:"data,omitempty"`
	Status        ToolStatus    `json:"status"`
	ArtifactType  ArtifactType  `json:"artifact_type,omitempty"`
	ContentFormat ContentFormat `json:"content_format,omitempty"`
	Action        ToolAction    `json:"action,omitempty"`

	// Reason carries a short machine-readable cause when Status is error
	// or degraded (e.g. "timeout", "teacher_id required").
	Reason string `json:"reason,omitempty"`
}

// ErrorResult builds an error envelope with the given reason.
func ErrorResult(reason string) *ToolResult {
	return &ToolResult{Status: StatusError, Reason: reason}
}

// ClarifyEvent is the structured question a tool raises when it cannot
// proceed without more input. Clarification is never inferred from free
// text; the model must call ask_clarification to produce one.
type ClarifyEvent struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`

	// Field names the missing parameter the clarification resolves.
	Field string `json:"field,omitempty"`
}
