package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrTurnInFlight reports that a conversation already has an active turn.
var ErrTurnInFlight = errors.New("conversation already has a turn in flight")

// conversationLocks serializes turns per conversation. In "reject" mode a
// second arrival fails immediately; in "queue" mode it waits for the
// active turn or its own context, whichever ends first.
type conversationLocks struct {
	mode string

	mu     sync.Mutex
	active map[string]chan struct{}
}

func newConversationLocks(mode string) *conversationLocks {
	return &conversationLocks{mode: mode, active: make(map[string]chan struct{})}
}

// acquire claims the conversation. The returned release function must be
// called exactly once.
func (l *conversationLocks) acquire(ctx context.Context, conversationID string) (func(), error) {
	for {
		l.mu.Lock()
		waiting, busy := l.active[conversationID]
		if !busy {
			done := make(chan struct{})
			l.active[conversationID] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.active, conversationID)
				l.mu.Unlock()
				close(done)
			}, nil
		}
		l.mu.Unlock()

		if l.mode != "queue" {
			return nil, ErrTurnInFlight
		}
		select {
		case <-waiting:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
