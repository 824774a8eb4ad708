package agent

import "context"

// TurnContext carries the authenticated identity and turn metadata every
// tool handler receives. Tools must scope all data access to TeacherID.
type TurnContext struct {
	TeacherID      string
	ConversationID string
	TurnID         string

	// ClassID is the class the teacher selected for this turn, when the
	// client supplied one.
	ClassID string

	// Debug mirrors the gateway DEBUG flag. Mock data paths are legal only
	// when this is true.
	Debug bool
}

type turnContextKey struct{}

// WithTurnContext attaches the turn context to ctx for handlers reached
// through third-party callbacks that only receive a context.
func WithTurnContext(ctx context.Context, tc *TurnContext) context.Context {
	return context.WithValue(ctx, turnContextKey{}, tc)
}

// TurnContextFrom recovers the turn context, or nil when absent.
func TurnContextFrom(ctx context.Context) *TurnContext {
	tc, _ := ctx.Value(turnContextKey{}).(*TurnContext)
	return tc
}
