package sessions

import (
	"context"
	"fmt"

	"github.com/classpilot/classpilot/pkg/models"
)

// Summarizer compresses truncated history into running prose. prefix is
// the existing summary (empty on first truncation); dropped are the
// messages removed by the latest truncation, oldest first.
type Summarizer interface {
	Summarize(ctx context.Context, prefix string, dropped []models.Message) (string, error)
}

// ApplySummary folds the latest truncation into the session. When
// summarization fails or is disabled (nil summarizer), the dropped
// messages are simply gone; the error lets the caller log the loss.
func ApplySummary(ctx context.Context, s Summarizer, session *models.ConversationSession, dropped []models.Message) error {
	session.SummarizedMessageCount += len(dropped)
	if s == nil {
		return nil
	}
	summary, err := s.Summarize(ctx, session.Summary, dropped)
	if err != nil {
		return fmt.Errorf("summarize dropped history: %w", err)
	}
	session.Summary = summary
	return nil
}

// SummaryPrelude renders the session summary as synthetic leading
// messages for the model context. Returns nil when there is no summary.
func SummaryPrelude(session *models.ConversationSession) []models.Message {
	if session.Summary == "" {
		return nil
	}
	note := fmt.Sprintf("[Earlier conversation summary covering %d messages]: %s",
		session.SummarizedMessageCount, session.Summary)
	return []models.Message{
		models.NewUserMessage(note),
		models.NewAssistantText("Understood. I will treat that summary as established context."),
	}
}
