package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/classpilot/classpilot/internal/agent"
	"github.com/classpilot/classpilot/pkg/models"
)

// OpenAIProvider streams completions through the Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider builds a provider with the given API key.
func NewOpenAIProvider(apiKey string, logger *slog.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), logger: logger}, nil
}

// Name identifies the vendor.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stream starts a chat completion stream and adapts its chunks. OpenAI
// deltas carry no explicit text part boundaries, so the adapter
// synthesizes one text part around the contiguous prose.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelEvent, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessagesOpenAI(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsOpenAI(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	events := make(chan *agent.ModelEvent, 32)
	go func() {
		defer close(events)
		p.processStream(ctx, stream, events)
	}()
	return events, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- *agent.ModelEvent) {
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	announced := make(map[int]bool)
	var order []int
	textOpen := false
	sawToolCall := false
	var inputTokens, outputTokens int

	send := func(ev *agent.ModelEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	closeText := func() bool {
		if !textOpen {
			return true
		}
		textOpen = false
		return send(&agent.ModelEvent{Type: agent.EventTextEnd, Index: 0})
	}
	flushToolCalls := func() bool {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Input) == 0 {
				tc.Input = json.RawMessage(`{}`)
			}
			sawToolCall = true
			if !send(&agent.ModelEvent{Type: agent.EventToolCall, ToolCall: tc}) {
				return false
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		announced = make(map[int]bool)
		order = nil
		return true
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !closeText() || !flushToolCalls() {
					return
				}
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
			}
			send(&agent.ModelEvent{Type: agent.EventError, Err: fmt.Errorf("openai stream: %w", err)})
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !textOpen {
				textOpen = true
				if !send(&agent.ModelEvent{Type: agent.EventTextStart, Index: 0}) {
					return
				}
			}
			if !send(&agent.ModelEvent{Type: agent.EventTextDelta, Index: 0, Text: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			call := toolCalls[index]
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if call.ID != "" && call.Name != "" && !announced[index] {
				announced[index] = true
				if !closeText() {
					return
				}
				if !send(&agent.ModelEvent{
					Type:       agent.EventToolCallStart,
					ToolCallID: call.ID,
					ToolName:   call.Name,
				}) {
					return
				}
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
				if announced[index] {
					if !send(&agent.ModelEvent{
						Type:       agent.EventToolCallDelta,
						ToolCallID: call.ID,
						ToolName:   call.Name,
						ArgsDelta:  tc.Function.Arguments,
					}) {
						return
					}
				}
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			if !closeText() || !flushToolCalls() {
				return
			}
		case openai.FinishReasonLength:
			if !closeText() {
				return
			}
			send(&agent.ModelEvent{
				Type:         agent.EventDone,
				Reason:       agent.DoneLength,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return
		}
	}
}

// convertMessagesOpenAI maps the conversation union onto chat roles. The
// system prompt leads the array; tool returns become "tool" role messages
// keyed by tool call id.
func convertMessagesOpenAI(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Kind {
		case models.MessageUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})

		case models.MessageAssistantText:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			})

		case models.MessageToolCall:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   msg.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      msg.ToolName,
						Arguments: string(nonEmptyJSON(msg.Arguments)),
					},
				}},
			})

		case models.MessageToolReturn:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: msg.ToolCallID,
				Content:    string(msg.Result),
			})
		}
	}
	return result
}

func convertToolsOpenAI(tools []agent.ToolSchema) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
