package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/classpilot/classpilot/internal/agent"
)

// ErrNoProvider reports an empty fallback chain.
var ErrNoProvider = errors.New("no model provider configured")

// FallbackProvider tries a chain of providers in order when opening a
// stream. Failover happens only at stream open; once events are flowing
// the stream is committed, since partial output has already reached the
// client.
type FallbackProvider struct {
	chain  []agent.ModelProvider
	logger *slog.Logger
}

// NewFallbackProvider builds a chain. The first provider is primary.
func NewFallbackProvider(logger *slog.Logger, chain ...agent.ModelProvider) (*FallbackProvider, error) {
	if len(chain) == 0 {
		return nil, ErrNoProvider
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackProvider{chain: chain, logger: logger}, nil
}

// Name reports the primary provider's name.
func (p *FallbackProvider) Name() string { return p.chain[0].Name() }

// Stream opens on the first provider that accepts the request.
func (p *FallbackProvider) Stream(ctx context.Context, req *agent.ModelRequest) (<-chan *agent.ModelEvent, error) {
	var lastErr error
	for i, provider := range p.chain {
		events, err := provider.Stream(ctx, req)
		if err == nil {
			if i > 0 {
				p.logger.Warn("primary model provider unavailable, using fallback",
					"provider", provider.Name())
			}
			return events, nil
		}
		lastErr = err
		p.logger.Warn("model provider rejected stream",
			"provider", provider.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all model providers failed: %w", lastErr)
}
