package sessions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/classpilot/classpilot/pkg/models"
)

// fixedEstimator charges a flat rate per message-sized payload so tests can
// reason about budgets in whole numbers.
type fixedEstimator struct{ perText int }

func (f fixedEstimator) Count(string) int { return f.perText }
func (f fixedEstimator) Name() string     { return "fixed" }

func longText(n int) string { return strings.Repeat("x", n) }

func isGenerationTool(name string) bool {
	return name == "generate_quiz" || name == "generate_ppt"
}

func TestTruncateNoOpUnderTrigger(t *testing.T) {
	// 2 messages * (10 + 3 overhead) = 26 tokens, trigger at 0.8*100 = 80.
	tr := NewTruncator(fixedEstimator{perText: 10}, 100, 0.8, 0.4, nil, nil)
	session := NewSession("conv-1", "t-1")
	session.Messages = []models.Message{
		models.NewUserMessage("a"),
		models.NewAssistantText("b"),
	}

	if dropped := tr.Truncate(session); dropped != nil {
		t.Errorf("expected no truncation, dropped %d messages", len(dropped))
	}
	if len(session.Messages) != 2 {
		t.Errorf("history modified without truncation")
	}
}

func TestTruncateDropsOldestFirst(t *testing.T) {
	// Each message costs 13 tokens. 10 messages = 130 > 0.8*100. Target
	// 0.4*100 = 40, so 7 oldest go and 3 stay.
	tr := NewTruncator(fixedEstimator{perText: 10}, 100, 0.8, 0.4, nil, nil)
	session := NewSession("conv-1", "t-1")
	for i := 0; i < 5; i++ {
		session.Messages = append(session.Messages,
			models.NewUserMessage("question"),
			models.NewAssistantText("answer"))
	}

	dropped := tr.Truncate(session)
	if len(dropped) != 7 {
		t.Fatalf("dropped %d messages, want 7", len(dropped))
	}
	if dropped[0].Kind != models.MessageUser {
		t.Error("oldest message should be dropped first")
	}
	if len(session.Messages) != 3 {
		t.Errorf("kept %d messages, want 3", len(session.Messages))
	}
	// Newest messages survive.
	last := session.Messages[len(session.Messages)-1]
	if last.Kind != models.MessageAssistantText {
		t.Errorf("final message kind = %s, want assistant_text", last.Kind)
	}
}

func TestTruncatePairAtomic(t *testing.T) {
	tr := NewTruncator(fixedEstimator{perText: 10}, 100, 0.8, 0.4, nil, nil)
	session := NewSession("conv-1", "t-1")
	args := json.RawMessage(`{"class_id":"c1"}`)
	result := json.RawMessage(`{"rows":[]}`)

	session.Messages = []models.Message{
		models.NewUserMessage("show grades"),
		models.NewToolCallMessage("tc-1", "get_student_grades", args),
		models.NewToolReturnMessage("tc-1", "get_student_grades", result, "ok"),
		models.NewUserMessage("and attendance"),
		models.NewToolCallMessage("tc-2", "get_attendance", args),
		models.NewToolReturnMessage("tc-2", "get_attendance", result, "ok"),
		models.NewAssistantText("done"),
	}

	dropped := tr.Truncate(session)
	if dropped == nil {
		t.Fatal("expected truncation")
	}

	// No orphan calls or returns anywhere.
	checkPaired := func(name string, msgs []models.Message) {
		open := map[string]bool{}
		for _, m := range msgs {
			switch m.Kind {
			case models.MessageToolCall:
				open[m.ToolCallID] = true
			case models.MessageToolReturn:
				if !open[m.ToolCallID] {
					t.Errorf("%s: tool_return %s without its tool_call", name, m.ToolCallID)
				}
				delete(open, m.ToolCallID)
			}
		}
		for id := range open {
			t.Errorf("%s: tool_call %s without its tool_return", name, id)
		}
	}
	checkPaired("dropped", dropped)
	checkPaired("kept", session.Messages)
}

func TestTruncateProtectsLatestGenerationPair(t *testing.T) {
	// Budget forces everything droppable out; the generation pair must
	// survive even though it is old.
	tr := NewTruncator(fixedEstimator{perText: 10}, 30, 0.5, 0.1, isGenerationTool, nil)
	session := NewSession("conv-1", "t-1")
	args := json.RawMessage(`{"topic":"fractions"}`)
	quiz := json.RawMessage(`{"questions":[{"stem":"1/2+1/4?"}]}`)

	session.Messages = []models.Message{
		models.NewUserMessage("make a quiz"),
		models.NewToolCallMessage("tc-gen", "generate_quiz", args),
		models.NewToolReturnMessage("tc-gen", "generate_quiz", quiz, "ok"),
		models.NewUserMessage("chatter"),
		models.NewAssistantText("chatter reply"),
		models.NewUserMessage("more chatter"),
		models.NewAssistantText("another reply"),
	}

	tr.Truncate(session)

	foundGen := false
	for _, m := range session.Messages {
		if m.Kind == models.MessageToolCall && m.ToolName == "generate_quiz" {
			foundGen = true
		}
	}
	if !foundGen {
		t.Error("latest generation pair was truncated away")
	}
}

func TestTruncateOnlyLatestGenerationPairProtected(t *testing.T) {
	tr := NewTruncator(fixedEstimator{perText: 10}, 30, 0.5, 0.1, isGenerationTool, nil)
	session := NewSession("conv-1", "t-1")
	args := json.RawMessage(`{}`)
	out := json.RawMessage(`{}`)

	session.Messages = []models.Message{
		models.NewToolCallMessage("tc-old", "generate_quiz", args),
		models.NewToolReturnMessage("tc-old", "generate_quiz", out, "ok"),
		models.NewUserMessage("filler"),
		models.NewAssistantText("filler"),
		models.NewToolCallMessage("tc-new", "generate_ppt", args),
		models.NewToolReturnMessage("tc-new", "generate_ppt", out, "ok"),
		models.NewUserMessage("filler"),
		models.NewAssistantText("filler"),
	}

	tr.Truncate(session)

	for _, m := range session.Messages {
		if m.ToolCallID == "tc-old" {
			t.Error("older generation pair should be droppable")
		}
	}
	foundNew := false
	for _, m := range session.Messages {
		if m.ToolCallID == "tc-new" {
			foundNew = true
		}
	}
	if !foundNew {
		t.Error("latest generation pair must survive")
	}
}

type staticSummarizer struct{ out string }

func (s staticSummarizer) Summarize(_ context.Context, prefix string, dropped []models.Message) (string, error) {
	return s.out, nil
}

func TestApplySummaryAndPrelude(t *testing.T) {
	session := NewSession("conv-1", "t-1")
	dropped := []models.Message{
		models.NewUserMessage("old question"),
		models.NewAssistantText("old answer"),
	}

	err := ApplySummary(context.Background(), staticSummarizer{out: "teacher asked about fractions"}, session, dropped)
	if err != nil {
		t.Fatalf("ApplySummary: %v", err)
	}
	if session.Summary != "teacher asked about fractions" {
		t.Errorf("Summary = %q", session.Summary)
	}
	if session.SummarizedMessageCount != 2 {
		t.Errorf("SummarizedMessageCount = %d, want 2", session.SummarizedMessageCount)
	}

	prelude := SummaryPrelude(session)
	if len(prelude) != 2 {
		t.Fatalf("prelude has %d messages, want 2", len(prelude))
	}
	if prelude[0].Kind != models.MessageUser || prelude[1].Kind != models.MessageAssistantText {
		t.Error("prelude should be a user note followed by an assistant ack")
	}
	if !strings.Contains(prelude[0].Content, "teacher asked about fractions") {
		t.Errorf("prelude missing summary text: %q", prelude[0].Content)
	}
}

func TestSummaryPreludeEmptyWithoutSummary(t *testing.T) {
	session := NewSession("conv-1", "t-1")
	if got := SummaryPrelude(session); got != nil {
		t.Errorf("expected nil prelude, got %d messages", len(got))
	}
}
