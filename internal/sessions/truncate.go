package sessions

import (
	"log/slog"

	"github.com/classpilot/classpilot/internal/tokens"
	"github.com/classpilot/classpilot/pkg/models"
)

// Truncator trims conversation history against a token budget. Trimming is
// pair-atomic: a tool_call and its tool_return are dropped or kept
// together, never split. The most recent protected generation pair is
// never dropped even when it is the oldest remaining unit.
type Truncator struct {
	estimator tokens.Estimator
	budget    int
	trigger   float64
	target    float64

	// protected reports tool names whose most recent call/return pair must
	// survive truncation (generation tools, whose output later artifact
	// edits reference).
	protected func(toolName string) bool

	logger *slog.Logger
}

// NewTruncator builds a truncator. trigger and target are ratios of budget;
// truncation fires when the history exceeds trigger*budget and trims down
// to at most target*budget.
func NewTruncator(estimator tokens.Estimator, budget int, trigger, target float64, protected func(string) bool, logger *slog.Logger) *Truncator {
	if protected == nil {
		protected = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Truncator{
		estimator: estimator,
		budget:    budget,
		trigger:   trigger,
		target:    target,
		protected: protected,
		logger:    logger,
	}
}

// unit is an atomic truncation group: one standalone message, or a
// tool_call together with its tool_return.
type unit struct {
	messages  []models.Message
	tokens    int
	protected bool
}

// Truncate trims the session's history in place when it exceeds the
// trigger threshold. It returns the dropped messages, oldest first, so the
// caller can fold them into the session summary. A nil return means no
// truncation occurred.
func (t *Truncator) Truncate(session *models.ConversationSession) []models.Message {
	total := tokens.CountMessages(t.estimator, session.Messages)
	if float64(total) <= t.trigger*float64(t.budget) {
		return nil
	}

	units := t.groupUnits(session.Messages)
	markLatestProtected(units, t.protected)

	targetTokens := int(t.target * float64(t.budget))
	var dropped []models.Message
	kept := units

	for total > targetTokens && len(kept) > 1 {
		// Find the oldest droppable unit. Protected units are skipped but
		// stay in place; everything older than them can still go.
		idx := -1
		for i, u := range kept {
			if !u.protected {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		dropped = append(dropped, kept[idx].messages...)
		total -= kept[idx].tokens
		kept = append(kept[:idx], kept[idx+1:]...)
	}

	if len(dropped) == 0 {
		return nil
	}

	remaining := make([]models.Message, 0, len(session.Messages)-len(dropped))
	for _, u := range kept {
		remaining = append(remaining, u.messages...)
	}
	session.Messages = remaining

	t.logger.Info("truncated conversation history",
		"conversation_id", session.ConversationID,
		"dropped_messages", len(dropped),
		"remaining_tokens", total,
		"budget", t.budget)
	return dropped
}

// groupUnits pairs each tool_call with its following tool_return. An
// orphan call or return (should not happen in a well-formed session)
// becomes a unit of its own.
func (t *Truncator) groupUnits(msgs []models.Message) []*unit {
	var units []*unit
	for i := 0; i < len(msgs); i++ {
		m := msgs[i]
		u := &unit{messages: []models.Message{m}}
		if m.Kind == models.MessageToolCall && i+1 < len(msgs) &&
			msgs[i+1].Kind == models.MessageToolReturn &&
			msgs[i+1].ToolCallID == m.ToolCallID {
			u.messages = append(u.messages, msgs[i+1])
			i++
		}
		u.tokens = tokens.CountMessages(t.estimator, u.messages)
		units = append(units, u)
	}
	return units
}

// markLatestProtected flags the most recent unit whose tool name passes
// the predicate. Only the latest such pair is shielded; older generation
// pairs are ordinary history.
func markLatestProtected(units []*unit, protected func(string) bool) {
	for i := len(units) - 1; i >= 0; i-- {
		m := units[i].messages[0]
		if m.Kind == models.MessageToolCall && protected(m.ToolName) {
			units[i].protected = true
			return
		}
	}
}
