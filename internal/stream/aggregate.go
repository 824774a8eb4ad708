package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/classpilot/classpilot/pkg/models"
)

// ToolInvocation is one executed tool call in an aggregated response.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
}

// AggregateResponse is the blocking-endpoint view of a full turn.
type AggregateResponse struct {
	ConversationID string           `json:"conversationId"`
	Text           string           `json:"text"`
	ToolCalls      []ToolInvocation `json:"toolCalls,omitempty"`
	FinishReason   string           `json:"finishReason"`
	Error          string           `json:"error,omitempty"`
}

// Aggregate drains a turn's wire events into a single response document.
func Aggregate(ctx context.Context, events <-chan *models.WireEvent) *AggregateResponse {
	resp := &AggregateResponse{FinishReason: models.FinishError}
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			resp.Text = text.String()
			resp.FinishReason = models.FinishTimeout
			return resp
		case ev, ok := <-events:
			if !ok {
				resp.Text = text.String()
				return resp
			}
			switch ev.Type {
			case models.WireStart:
				resp.ConversationID = ev.ConversationID
			case models.WireTextDelta:
				text.WriteString(ev.Delta)
			case models.WireToolInputAvailable:
				resp.ToolCalls = append(resp.ToolCalls, ToolInvocation{
					ToolCallID: ev.ToolCallID,
					ToolName:   ev.ToolName,
					Input:      ev.Input,
				})
			case models.WireToolOutputAvailable:
				for i := range resp.ToolCalls {
					if resp.ToolCalls[i].ToolCallID == ev.ToolCallID {
						resp.ToolCalls[i].Output = ev.Output
					}
				}
			case models.WireError:
				resp.Error = ev.ErrorText
			case models.WireFinish:
				resp.FinishReason = ev.FinishReason
			}
		}
	}
}
