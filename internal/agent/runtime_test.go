package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/classpilot/classpilot/internal/sessions"
	"github.com/classpilot/classpilot/pkg/models"
)

// scriptedProvider replays canned event sequences, one per Stream call.
type scriptedProvider struct {
	scripts [][]*ModelEvent
	openErr error
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, _ *ModelRequest) (<-chan *ModelEvent, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	idx := p.calls
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	p.calls++
	script := p.scripts[idx]

	out := make(chan *ModelEvent, len(script))
	for _, ev := range script {
		out <- ev
	}
	close(out)
	return out, nil
}

func textScript(text string) []*ModelEvent {
	return []*ModelEvent{
		{Type: EventTextStart, Index: 0},
		{Type: EventTextDelta, Index: 0, Text: text},
		{Type: EventTextEnd, Index: 0},
		{Type: EventDone, Reason: DoneStop, InputTokens: 100, OutputTokens: 20},
	}
}

func toolScript(id, name, input string) []*ModelEvent {
	return []*ModelEvent{
		{Type: EventToolCallStart, ToolCallID: id, ToolName: name},
		{Type: EventToolCall, ToolCall: &models.ToolCall{
			ID: id, Name: name, Input: json.RawMessage(input)}},
		{Type: EventDone, Reason: DoneToolCalls},
	}
}

func newTestRuntime(t *testing.T, provider ModelProvider, defs []Definition, maxToolCalls int) (*Runtime, *sessions.MemoryStore) {
	t.Helper()
	registry := NewRegistry()
	registry.RegisterAll(defs)
	store := sessions.NewMemoryStore(time.Minute, nil)
	t.Cleanup(func() { store.Close() })

	rt := NewRuntime(
		provider, registry,
		NewExecutor(registry, time.Second, nil, nil),
		store, nil, nil, nil, nil,
		RuntimeConfig{
			Model:           "test-model",
			MaxToolCalls:    maxToolCalls,
			MaxTurnDuration: 5 * time.Second,
			MaxOutputTokens: 1024,
		})
	return rt, store
}

func collect(t *testing.T, ch <-chan *models.WireEvent) []*models.WireEvent {
	t.Helper()
	var events []*models.WireEvent
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatal("timed out draining wire events")
		}
	}
}

func countType(events []*models.WireEvent, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func lastFinish(t *testing.T, events []*models.WireEvent) *models.WireEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	last := events[len(events)-1]
	if last.Type != models.WireFinish {
		t.Fatalf("last event = %s, want finish", last.Type)
	}
	return last
}

func TestRunTurnPlainText(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*ModelEvent{textScript("Hello, teacher!")}}
	rt, store := newTestRuntime(t, provider, nil, 10)

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "hi",
	}))

	if events[0].Type != models.WireStart || events[0].ConversationID != "conv-1" {
		t.Errorf("first event = %+v, want start with conversation id", events[0])
	}
	if countType(events, models.WireTextDelta) != 1 {
		t.Error("expected one text delta")
	}
	fin := lastFinish(t, events)
	if fin.FinishReason != models.FinishStop {
		t.Errorf("finish reason = %s, want stop", fin.FinishReason)
	}
	if countType(events, models.WireFinish) != 1 {
		t.Error("finish must be emitted exactly once")
	}

	saved, _ := store.Load(context.Background(), "conv-1")
	if len(saved.Messages) != 2 {
		t.Fatalf("saved %d messages, want user+assistant", len(saved.Messages))
	}
	if saved.Messages[1].Content != "Hello, teacher!" {
		t.Errorf("assistant text = %q", saved.Messages[1].Content)
	}
}

func TestRunTurnWithToolCall(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*ModelEvent{
		toolScript("tc-1", "get_classes", `{}`),
		textScript("You teach two classes."),
	}}
	defs := []Definition{{
		Name:    "get_classes",
		Toolset: ToolsetBaseData,
		Handler: func(_ context.Context, _ *TurnContext, _ json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Status: models.StatusOK, Data: []string{"class-1", "class-2"}}, nil
		},
	}}
	rt, store := newTestRuntime(t, provider, defs, 10)

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "what classes do I teach",
	}))

	for _, typ := range []string{models.WireToolInputStart, models.WireToolInputAvailable, models.WireToolOutputAvailable} {
		if countType(events, typ) != 1 {
			t.Errorf("expected exactly one %s event", typ)
		}
	}
	if lastFinish(t, events).FinishReason != models.FinishStop {
		t.Error("tool turn should finish with stop")
	}

	saved, _ := store.Load(context.Background(), "conv-1")
	// user, tool_call, tool_return, assistant text
	if len(saved.Messages) != 4 {
		t.Fatalf("saved %d messages, want 4", len(saved.Messages))
	}
	if saved.Messages[1].Kind != models.MessageToolCall || saved.Messages[2].Kind != models.MessageToolReturn {
		t.Error("tool pair not recorded in order")
	}
}

func TestRunTurnToolBudget(t *testing.T) {
	// The model keeps asking for tools; the runtime must cut it off.
	provider := &scriptedProvider{scripts: [][]*ModelEvent{
		toolScript("tc-1", "get_classes", `{}`),
		toolScript("tc-2", "get_classes", `{}`),
	}}
	defs := []Definition{{
		Name:    "get_classes",
		Toolset: ToolsetBaseData,
		Handler: func(_ context.Context, _ *TurnContext, _ json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Status: models.StatusOK}, nil
		},
	}}
	rt, store := newTestRuntime(t, provider, defs, 1)

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "hi",
	}))

	if lastFinish(t, events).FinishReason != models.FinishBudget {
		t.Errorf("finish reason = %s, want budget", lastFinish(t, events).FinishReason)
	}
	if countType(events, models.WireFinish) != 1 {
		t.Error("finish must be emitted exactly once")
	}

	// Every tool_call in the saved history must still have its return.
	saved, _ := store.Load(context.Background(), "conv-1")
	calls, returns := 0, 0
	for _, m := range saved.Messages {
		switch m.Kind {
		case models.MessageToolCall:
			calls++
		case models.MessageToolReturn:
			returns++
		}
	}
	if calls != returns {
		t.Errorf("history has %d calls but %d returns", calls, returns)
	}
	// The over-budget call is dropped unexecuted, not recorded.
	if calls != 1 {
		t.Errorf("history has %d call pairs, want exactly the budget of 1", calls)
	}
	if countType(events, models.WireToolOutputAvailable) != 1 {
		t.Error("dropped call must not produce a tool output event")
	}
}

// flatEstimator reports a fixed token count for any text.
type flatEstimator struct{ n int }

func (f flatEstimator) Count(string) int { return f.n }
func (f flatEstimator) Name() string     { return "flat" }

func TestRunTurnInputBudget(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*ModelEvent{textScript("unreachable")}}
	registry := NewRegistry()
	store := sessions.NewMemoryStore(time.Minute, nil)
	t.Cleanup(func() { store.Close() })

	rt := NewRuntime(
		provider, registry,
		NewExecutor(registry, time.Second, nil, nil),
		store, nil, nil, nil, nil,
		RuntimeConfig{
			Model:           "test-model",
			MaxToolCalls:    10,
			MaxTurnDuration: 5 * time.Second,
			MaxOutputTokens: 1024,
			MaxInputTokens:  100,
			Estimator:       flatEstimator{n: 500},
		})

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "hi",
	}))

	if provider.calls != 0 {
		t.Errorf("provider called %d times, the oversized prompt must never be sent", provider.calls)
	}
	if countType(events, models.WireError) != 1 {
		t.Error("expected one error event")
	}
	if lastFinish(t, events).FinishReason != models.FinishBudget {
		t.Errorf("finish reason = %s, want budget", lastFinish(t, events).FinishReason)
	}
}

func TestRunTurnProviderOpenFailure(t *testing.T) {
	provider := &scriptedProvider{openErr: errors.New("connection refused")}
	rt, _ := newTestRuntime(t, provider, nil, 10)

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "hi",
	}))

	if countType(events, models.WireError) != 1 {
		t.Error("expected one error event")
	}
	if lastFinish(t, events).FinishReason != models.FinishError {
		t.Error("finish reason should be error")
	}
}

func TestRunTurnStreamError(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*ModelEvent{{
		{Type: EventTextStart, Index: 0},
		{Type: EventTextDelta, Index: 0, Text: "partial"},
		{Type: EventError, Err: errors.New("stream reset")},
	}}}
	rt, _ := newTestRuntime(t, provider, nil, 10)

	session := sessions.NewSession("conv-1", "teacher-1")
	events := collect(t, rt.RunTurn(context.Background(), session, TurnRequest{
		ConversationID: "conv-1", TeacherID: "teacher-1", Message: "hi",
	}))

	if countType(events, models.WireError) != 1 {
		t.Error("expected one error event")
	}
	fin := lastFinish(t, events)
	if fin.FinishReason != models.FinishError {
		t.Errorf("finish reason = %s, want error", fin.FinishReason)
	}
}

func TestHistoryHasArtifacts(t *testing.T) {
	provider := &scriptedProvider{scripts: [][]*ModelEvent{textScript("x")}}
	rt, _ := newTestRuntime(t, provider, []Definition{
		{Name: "generate_quiz", Toolset: ToolsetGeneration, Handler: okHandler},
	}, 10)

	session := sessions.NewSession("conv-1", "teacher-1")
	if rt.historyHasArtifacts(session) {
		t.Error("empty session should have no artifacts")
	}
	session.Messages = append(session.Messages,
		models.NewToolCallMessage("tc-1", "generate_quiz", json.RawMessage(`{}`)),
		models.NewToolReturnMessage("tc-1", "generate_quiz", json.RawMessage(`{"status":"ok"}`), "ok"))
	if !rt.historyHasArtifacts(session) {
		t.Error("successful generation should mark artifacts present")
	}
}
