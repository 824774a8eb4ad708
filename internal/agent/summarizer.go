package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/classpilot/classpilot/pkg/models"
)

const summarySystemPrompt = `You compress teacher-assistant conversation history. Produce a
concise running summary that preserves: which classes and students were
discussed, what analyses were run and their key findings, what materials
were generated or edited (with their artifact ids), and any teacher
preferences stated. Output plain prose, no headings.`

// ModelSummarizer compresses truncated history with the fast model tier.
// It implements sessions.Summarizer.
type ModelSummarizer struct {
	provider  ModelProvider
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewModelSummarizer builds a summarizer on the given provider and model.
func NewModelSummarizer(provider ModelProvider, model string, maxTokens int, logger *slog.Logger) *ModelSummarizer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelSummarizer{provider: provider, model: model, maxTokens: maxTokens, logger: logger}
}

// Summarize folds newly dropped messages into the running summary.
func (s *ModelSummarizer) Summarize(ctx context.Context, prefix string, dropped []models.Message) (string, error) {
	var b strings.Builder
	if prefix != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	b.WriteString("New conversation excerpt to fold in:\n")
	for _, m := range dropped {
		renderMessageLine(&b, m)
	}
	b.WriteString("\nWrite the updated summary.")

	events, err := s.provider.Stream(ctx, &ModelRequest{
		Model:     s.model,
		System:    summarySystemPrompt,
		Messages:  []models.Message{models.NewUserMessage(b.String())},
		MaxTokens: s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("open summary stream: %w", err)
	}

	var out strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventTextDelta:
			out.WriteString(ev.Text)
		case EventError:
			return "", fmt.Errorf("summary stream: %w", ev.Err)
		}
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" {
		return "", fmt.Errorf("summary stream produced no text")
	}
	return summary, nil
}

// renderMessageLine flattens one history message for the summary prompt.
// Tool payloads are elided past a cap; the summary needs shape, not data.
func renderMessageLine(b *strings.Builder, m models.Message) {
	const payloadCap = 400
	switch m.Kind {
	case models.MessageUser:
		fmt.Fprintf(b, "Teacher: %s\n", m.Content)
	case models.MessageAssistantText:
		fmt.Fprintf(b, "Assistant: %s\n", m.Content)
	case models.MessageToolCall:
		fmt.Fprintf(b, "Assistant called %s(%s)\n", m.ToolName, clip(string(m.Arguments), payloadCap))
	case models.MessageToolReturn:
		fmt.Fprintf(b, "Tool %s returned [%s]: %s\n", m.ToolName, m.Status, clip(string(m.Result), payloadCap))
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
