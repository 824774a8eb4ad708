package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/classpilot/internal/observability"
	"github.com/classpilot/classpilot/internal/sessions"
	"github.com/classpilot/classpilot/internal/tokens"
	"github.com/classpilot/classpilot/pkg/models"
)

// ErrMaxToolCalls reports that a turn hit its tool call budget.
var ErrMaxToolCalls = errors.New("tool call budget exhausted")

// ErrInputBudget reports that the assembled prompt exceeds the input
// token limit before the provider is even called.
var ErrInputBudget = errors.New("input token budget exceeded")

// RuntimeConfig bounds a turn.
type RuntimeConfig struct {
	Model           string
	MaxToolCalls    int
	MaxTurnDuration time.Duration
	MaxOutputTokens int

	// MaxInputTokens caps the estimated prompt size per provider round.
	// Zero, or a nil Estimator, disables the pre-flight check.
	MaxInputTokens int
	Estimator      tokens.Estimator

	Debug bool
}

// Runtime drives one conversation turn: model stream, tool execution,
// continuation, history maintenance. It owns no transport; the gateway
// consumes the wire event channel and frames it as SSE or JSON.
type Runtime struct {
	provider   ModelProvider
	registry   *Registry
	executor   *Executor
	store      sessions.Store
	truncator  *sessions.Truncator
	summarizer sessions.Summarizer
	metrics    *observability.Metrics
	logger     *slog.Logger
	cfg        RuntimeConfig
}

// NewRuntime wires the turn loop.
func NewRuntime(provider ModelProvider, registry *Registry, executor *Executor,
	store sessions.Store, truncator *sessions.Truncator, summarizer sessions.Summarizer,
	metrics *observability.Metrics, logger *slog.Logger, cfg RuntimeConfig) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolCalls <= 0 {
		cfg.MaxToolCalls = 10
	}
	if cfg.MaxTurnDuration <= 0 {
		cfg.MaxTurnDuration = 120 * time.Second
	}
	return &Runtime{
		provider:   provider,
		registry:   registry,
		executor:   executor,
		store:      store,
		truncator:  truncator,
		summarizer: summarizer,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
	}
}

// TurnRequest is one teacher message addressed to a conversation.
type TurnRequest struct {
	ConversationID string
	TeacherID      string
	ClassID        string
	Message        string
}

// RunTurn executes a full turn and streams wire events. The channel closes
// after exactly one finish event. The caller provides the loaded session;
// the runtime persists it before finishing.
func (rt *Runtime) RunTurn(ctx context.Context, session *models.ConversationSession, req TurnRequest) <-chan *models.WireEvent {
	out := make(chan *models.WireEvent, 64)
	go func() {
		defer close(out)
		rt.runTurn(ctx, session, req, out)
	}()
	return out
}

// turnState accumulates per-turn bookkeeping across continuation rounds.
type turnState struct {
	tc            *TurnContext
	toolsets      []Toolset
	schemas       []ToolSchema
	partSeq       int
	openParts     map[int]string
	toolCallCount int
	toolNames     []string
	inputTokens   int
	outputTokens  int
	finished      bool
}

func (rt *Runtime) runTurn(ctx context.Context, session *models.ConversationSession, req TurnRequest, out chan<- *models.WireEvent) {
	start := time.Now()
	turnID := "turn-" + uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, rt.cfg.MaxTurnDuration)
	defer cancel()

	st := &turnState{
		tc: &TurnContext{
			TeacherID:      req.TeacherID,
			ConversationID: req.ConversationID,
			TurnID:         turnID,
			ClassID:        req.ClassID,
			Debug:          rt.cfg.Debug,
		},
		openParts: make(map[int]string),
	}

	st.toolsets = SelectToolsets(req.Message, SelectionContext{
		HasArtifacts: rt.historyHasArtifacts(session),
		ClassID:      req.ClassID,
	})
	st.schemas = rt.registry.SchemasFor(st.toolsets)

	emit := func(ev *models.WireEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	finish := func(reason string) {
		if st.finished {
			return
		}
		st.finished = true
		// The finish event must always leave, even when ctx already
		// expired, so the client sees a terminal frame.
		select {
		case out <- &models.WireEvent{Type: models.WireFinish, FinishReason: reason}:
		default:
			out <- &models.WireEvent{Type: models.WireFinish, FinishReason: reason}
		}
		rt.recordTurn(session, st, turnID, reason, time.Since(start))
	}

	emit(&models.WireEvent{Type: models.WireStart, ConversationID: session.ConversationID})

	session.Messages = append(session.Messages, models.NewUserMessage(req.Message))

	reason := rt.driveLoop(ctx, session, st, emit)

	rt.maintainHistory(session)
	if err := rt.persist(session); err != nil {
		rt.logger.Error("session save failed",
			"conversation_id", session.ConversationID, "error", err)
		emit(&models.WireEvent{Type: models.WireError,
			ErrorText: "conversation state could not be saved"})
		finish(models.FinishError)
		return
	}
	finish(reason)
}

// driveLoop runs stream/execute/continue rounds until the model stops or a
// budget trips. It returns the finish reason.
func (rt *Runtime) driveLoop(ctx context.Context, session *models.ConversationSession, st *turnState, emit func(*models.WireEvent) bool) string {
	for {
		reqStart := time.Now()
		events, err := rt.openStream(ctx, session, st)
		if errors.Is(err, ErrInputBudget) {
			rt.logger.Warn("input token budget exceeded",
				"conversation_id", session.ConversationID,
				"budget", rt.cfg.MaxInputTokens)
			emit(&models.WireEvent{Type: models.WireError,
				ErrorText: "the conversation is too long to continue; please start a new one"})
			return models.FinishBudget
		}
		if err != nil {
			rt.logger.Error("model stream failed to open",
				"conversation_id", session.ConversationID, "error", err)
			emit(&models.WireEvent{Type: models.WireError,
				ErrorText: "the assistant is temporarily unavailable"})
			return models.FinishError
		}

		calls, doneReason, streamErr := rt.consumeStream(ctx, events, session, st, emit)
		if rt.metrics != nil {
			rt.metrics.LLMRequestDuration.WithLabelValues(rt.provider.Name(), rt.cfg.Model).
				Observe(time.Since(reqStart).Seconds())
		}
		if streamErr != nil {
			if ctx.Err() != nil {
				return models.FinishTimeout
			}
			rt.logger.Error("model stream failed",
				"conversation_id", session.ConversationID, "error", streamErr)
			emit(&models.WireEvent{Type: models.WireError,
				ErrorText: "the assistant stream was interrupted"})
			return models.FinishError
		}

		if len(calls) == 0 {
			if doneReason == DoneLength {
				return models.FinishBudget
			}
			return models.FinishStop
		}

		budgetHit, execErr := rt.executeCalls(ctx, session, st, calls, emit)
		if execErr != nil {
			return models.FinishTimeout
		}
		if budgetHit {
			return models.FinishBudget
		}
		// Loop back: the model sees the tool returns and continues.
	}
}

func (rt *Runtime) openStream(ctx context.Context, session *models.ConversationSession, st *turnState) (<-chan *ModelEvent, error) {
	history := append(sessions.SummaryPrelude(session), session.Messages...)
	system := BuildSystemPrompt(st.tc, st.toolsets)
	if rt.cfg.Estimator != nil && rt.cfg.MaxInputTokens > 0 {
		estimate := rt.cfg.Estimator.Count(system) + tokens.CountMessages(rt.cfg.Estimator, history)
		if estimate > rt.cfg.MaxInputTokens {
			return nil, fmt.Errorf("%w: estimated %d tokens, limit %d",
				ErrInputBudget, estimate, rt.cfg.MaxInputTokens)
		}
	}
	return rt.provider.Stream(ctx, &ModelRequest{
		Model:     rt.cfg.Model,
		System:    system,
		Messages:  history,
		Tools:     st.schemas,
		MaxTokens: rt.cfg.MaxOutputTokens,
	})
}

// consumeStream forwards one provider round to the wire, records assistant
// text into the session, and collects the round's tool calls.
func (rt *Runtime) consumeStream(ctx context.Context, events <-chan *ModelEvent, session *models.ConversationSession, st *turnState, emit func(*models.WireEvent) bool) ([]models.ToolCall, string, error) {
	var calls []models.ToolCall
	texts := make(map[int]*strings.Builder)
	doneReason := DoneStop

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return calls, doneReason, nil
			}
			switch ev.Type {
			case EventTextStart:
				id := fmt.Sprintf("t-%d", st.partSeq)
				st.partSeq++
				st.openParts[ev.Index] = id
				texts[ev.Index] = &strings.Builder{}
				emit(&models.WireEvent{Type: models.WireTextStart, ID: id})

			case EventTextDelta:
				if b := texts[ev.Index]; b != nil {
					b.WriteString(ev.Text)
				}
				emit(&models.WireEvent{Type: models.WireTextDelta,
					ID: st.openParts[ev.Index], Delta: ev.Text})

			case EventTextEnd:
				emit(&models.WireEvent{Type: models.WireTextEnd, ID: st.openParts[ev.Index]})
				if b := texts[ev.Index]; b != nil && b.Len() > 0 {
					session.Messages = append(session.Messages,
						models.NewAssistantText(b.String()))
				}
				delete(texts, ev.Index)
				delete(st.openParts, ev.Index)

			case EventToolCallStart:
				emit(&models.WireEvent{Type: models.WireToolInputStart,
					ToolCallID: ev.ToolCallID, ToolName: ev.ToolName})

			case EventToolCallDelta:
				// Argument fragments stay internal; the client only sees
				// the complete input.

			case EventToolCall:
				calls = append(calls, *ev.ToolCall)
				emit(&models.WireEvent{Type: models.WireToolInputAvailable,
					ToolCallID: ev.ToolCall.ID,
					ToolName:   ev.ToolCall.Name,
					Input:      ev.ToolCall.Input})

			case EventDone:
				doneReason = ev.Reason
				st.inputTokens += ev.InputTokens
				st.outputTokens += ev.OutputTokens

			case EventError:
				return nil, "", ev.Err
			}
		}
	}
}

// executeCalls runs the round's tool calls sequentially, records the pairs
// in the session, and reports whether the tool budget tripped.
func (rt *Runtime) executeCalls(ctx context.Context, session *models.ConversationSession, st *turnState, calls []models.ToolCall, emit func(*models.WireEvent) bool) (budgetHit bool, err error) {
	for _, call := range calls {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if st.toolCallCount >= rt.cfg.MaxToolCalls {
			// Budget exhausted: the call is dropped unexecuted, so only
			// executed call/return pairs reach the persisted history.
			rt.logger.Warn("tool call budget exhausted, dropping call",
				"conversation_id", session.ConversationID,
				"tool", call.Name,
				"budget", rt.cfg.MaxToolCalls)
			return true, nil
		}

		session.Messages = append(session.Messages,
			models.NewToolCallMessage(call.ID, call.Name, call.Input))

		st.toolCallCount++
		st.toolNames = append(st.toolNames, call.Name)

		outcome := rt.executor.Execute(ctx, st.tc, call)
		session.Messages = append(session.Messages,
			models.NewToolReturnMessage(call.ID, call.Name,
				outcome.Return.Result, outcome.Return.Status))
		emit(&models.WireEvent{Type: models.WireToolOutputAvailable,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Output:     outcome.Return.Result})
	}
	return false, nil
}

// maintainHistory applies budget truncation and folds dropped messages
// into the running summary. Summary failures lose detail, not the turn.
func (rt *Runtime) maintainHistory(session *models.ConversationSession) {
	if rt.truncator == nil {
		return
	}
	dropped := rt.truncator.Truncate(session)
	if len(dropped) == 0 {
		return
	}
	// Summarization runs against a fresh context: the turn deadline may
	// already be spent, and a lost summary should not block persistence.
	sumCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := sessions.ApplySummary(sumCtx, rt.summarizer, session, dropped); err != nil {
		rt.logger.Warn("history summary failed, dropped messages are lost",
			"conversation_id", session.ConversationID, "error", err)
	}
}

func (rt *Runtime) persist(session *models.ConversationSession) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.store.Save(saveCtx, session)
}

func (rt *Runtime) recordTurn(session *models.ConversationSession, st *turnState, turnID, reason string, elapsed time.Duration) {
	tm := models.TurnMetrics{
		ConversationID:   session.ConversationID,
		TurnID:           turnID,
		ToolCallCount:    st.toolCallCount,
		ToolNames:        st.toolNames,
		TotalLatencyMS:   elapsed.Milliseconds(),
		InputTokens:      st.inputTokens,
		OutputTokens:     st.outputTokens,
		ToolsetsSelected: ToolsetNames(st.toolsets),
		TerminatedReason: reason,
	}
	rt.logger.Info("turn completed",
		"conversation_id", tm.ConversationID,
		"turn_id", tm.TurnID,
		"tool_calls", tm.ToolCallCount,
		"tools", tm.ToolNames,
		"latency_ms", tm.TotalLatencyMS,
		"input_tokens", tm.InputTokens,
		"output_tokens", tm.OutputTokens,
		"toolsets", tm.ToolsetsSelected,
		"terminated_reason", tm.TerminatedReason)

	if rt.metrics != nil {
		rt.metrics.TurnCounter.WithLabelValues(reason).Inc()
		rt.metrics.TurnDuration.Observe(elapsed.Seconds())
		if st.inputTokens > 0 {
			rt.metrics.LLMTokens.WithLabelValues(rt.provider.Name(), rt.cfg.Model, "input").
				Add(float64(st.inputTokens))
		}
		if st.outputTokens > 0 {
			rt.metrics.LLMTokens.WithLabelValues(rt.provider.Name(), rt.cfg.Model, "output").
				Add(float64(st.outputTokens))
		}
	}
}

// historyHasArtifacts reports whether any prior generation tool succeeded
// in this conversation.
func (rt *Runtime) historyHasArtifacts(session *models.ConversationSession) bool {
	for _, m := range session.Messages {
		if m.Kind == models.MessageToolReturn && rt.registry.IsGeneration(m.ToolName) &&
			m.Status == string(models.StatusOK) {
			return true
		}
	}
	return false
}
