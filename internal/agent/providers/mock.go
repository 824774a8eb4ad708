package providers

import (
	"context"

	"github.com/classpilot/classpilot/internal/agent"
)

// MockProvider replays scripted event sequences, one script per Stream
// call in order. It exists for tests and local development; production
// wiring never constructs it.
type MockProvider struct {
	// Scripts are consumed front to back; the last script repeats once
	// the rest are exhausted.
	Scripts [][]*agent.ModelEvent

	// OpenErr, when set, makes every Stream call fail.
	OpenErr error

	calls int
}

// Name identifies the provider.
func (p *MockProvider) Name() string { return "mock" }

// Stream replays the next script.
func (p *MockProvider) Stream(ctx context.Context, _ *agent.ModelRequest) (<-chan *agent.ModelEvent, error) {
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	idx := p.calls
	if idx >= len(p.Scripts) {
		idx = len(p.Scripts) - 1
	}
	p.calls++

	script := []*agent.ModelEvent{}
	if idx >= 0 {
		script = p.Scripts[idx]
	}

	events := make(chan *agent.ModelEvent, len(script)+1)
	go func() {
		defer close(events)
		for _, ev := range script {
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Calls reports how many streams were opened.
func (p *MockProvider) Calls() int { return p.calls }
