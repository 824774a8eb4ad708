// Package providers adapts vendor model SDKs onto the agent's normalized
// streaming interface. Each adapter translates vendor stream events into
// agent.ModelEvent values so the runtime never handles vendor shapes.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/pkg/models"
)

// AnthropicProvider streams completions through the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider builds a provider with the given API key.
func NewAnthropicProvider(apiKey string, logger *slog.Logger) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(3)),
		logger: logger,
	}, nil
}

// Name identifies the vendor.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream starts a Messages API stream and adapts its events.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelEvent, error) {
	messages, err := convertMessagesAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: req.System,
			},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsAnthropic(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	events := make(chan *agent.ModelEvent, 32)
	go func() {
		defer close(events)
		p.processStream(ctx, stream, events)
	}()
	return events, nil
}

// processStream consumes the SDK stream through a minimal interface so
// tests can feed scripted events.
func (p *AnthropicProvider) processStream(ctx context.Context, stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, events chan<- *agent.ModelEvent) {
	var currentTool *models.ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int
	textIndex := -1
	sawToolCall := false

	send := func(ev *agent.ModelEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			switch contentBlock.Type {
			case "text":
				textIndex++
				if !send(&agent.ModelEvent{Type: agent.EventTextStart, Index: textIndex}) {
					return
				}
			case "tool_use":
				toolUse := contentBlock.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
				if !send(&agent.ModelEvent{
					Type:       agent.EventToolCallStart,
					ToolCallID: toolUse.ID,
					ToolName:   toolUse.Name,
				}) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(&agent.ModelEvent{Type: agent.EventTextDelta, Index: textIndex, Text: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					if currentTool != nil {
						if !send(&agent.ModelEvent{
							Type:       agent.EventToolCallDelta,
							ToolCallID: currentTool.ID,
							ToolName:   currentTool.Name,
							ArgsDelta:  delta.PartialJSON,
						}) {
							return
						}
					}
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				input := toolInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				sawToolCall = true
				if !send(&agent.ModelEvent{Type: agent.EventToolCall, ToolCall: currentTool}) {
					return
				}
				currentTool = nil
			} else if textIndex >= 0 {
				if !send(&agent.ModelEvent{Type: agent.EventTextEnd, Index: textIndex}) {
					return
				}
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			reason := agent.DoneStop
			if sawToolCall {
				reason = agent.DoneToolCalls
			}
			send(&agent.ModelEvent{
				Type:         agent.EventDone,
				Reason:       reason,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			send(&agent.ModelEvent{
				Type: agent.EventError,
				Err:  errors.New("anthropic: server-side stream error"),
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.logger.Warn("anthropic stream terminated", "error", err)
		send(&agent.ModelEvent{Type: agent.EventError, Err: fmt.Errorf("anthropic stream: %w", err)})
		return
	}
	// Stream ended without message_stop; treat as a clean stop.
	send(&agent.ModelEvent{
		Type:         agent.EventDone,
		Reason:       agent.DoneStop,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
}

// convertMessagesAnthropic maps the conversation union onto Anthropic
// content blocks. Tool returns become user-role tool_result blocks; tool
// calls become assistant-role tool_use blocks.
func convertMessagesAnthropic(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Kind {
		case models.MessageUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case models.MessageAssistantText:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))

		case models.MessageToolCall:
			var input map[string]interface{}
			if err := json.Unmarshal(nonEmptyJSON(msg.Arguments), &input); err != nil {
				return nil, fmt.Errorf("invalid tool call input for %s: %w", msg.ToolName, err)
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(msg.ToolCallID, input, msg.ToolName)))

		case models.MessageToolReturn:
			isError := msg.Status == string(models.StatusError)
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, string(msg.Result), isError)))
		}
	}
	return result, nil
}

func convertToolsAnthropic(tools []agent.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool definition for %s", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func nonEmptyJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}
