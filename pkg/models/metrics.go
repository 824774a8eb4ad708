package models

// TurnMetrics summarizes one completed turn. The runtime emits it as a
// single structured log record and mirrors the counters to prometheus.
type TurnMetrics struct {
	ConversationID   string   `json:"conversation_id"`
	TurnID           string   `json:"turn_id"`
	ToolCallCount    int      `json:"tool_call_count"`
	ToolNames        []string `json:"tool_names"`
	TotalLatencyMS   int64    `json:"total_latency_ms"`
	InputTokens      int      `json:"input_tokens"`
	OutputTokens     int      `json:"output_tokens"`
	ToolsetsSelected []string `json:"toolsets_selected"`

	// TerminatedReason is one of stop, budget, error, timeout.
	TerminatedReason string `json:"terminated_reason"`
}
