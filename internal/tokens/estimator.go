// Package tokens provides token estimation for history budgeting. The
// estimator is selected once at startup and cached; the three-level
// fallback (model-aware encoding, generic BPE, character heuristic) trades
// accuracy for availability in that order.
package tokens

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/classpilot/classpilot/pkg/models"
)

// Estimator counts tokens in text. Implementations must be safe for
// concurrent use.
type Estimator interface {
	Count(text string) int
	Name() string
}

// NewEstimator picks the best available estimator for the given model.
// The choice is made once; callers hold the returned handle for the
// process lifetime.
func NewEstimator(model string, logger *slog.Logger) Estimator {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return &bpeEstimator{enc: enc, name: "model:" + model}
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		if logger != nil {
			logger.Debug("no model-specific encoding, using cl100k_base", "model", model)
		}
		return &bpeEstimator{enc: enc, name: "bpe:cl100k_base"}
	}
	if logger != nil {
		logger.Warn("BPE encodings unavailable, using character heuristic", "model", model)
	}
	return heuristicEstimator{}
}

type bpeEstimator struct {
	enc  *tiktoken.Tiktoken
	name string
}

func (e *bpeEstimator) Count(text string) int {
	return len(e.enc.Encode(text, nil, nil))
}

func (e *bpeEstimator) Name() string { return e.name }

// heuristicEstimator approximates 2.5 characters per token, a middle
// ground between English prose and CJK text.
type heuristicEstimator struct{}

func (heuristicEstimator) Count(text string) int {
	return int(float64(len(text)) / 2.5)
}

func (heuristicEstimator) Name() string { return "heuristic" }

// perMessageOverhead accounts for role framing tokens per message.
const perMessageOverhead = 3

// CountMessage estimates tokens for one history message including its
// structured payloads.
func CountMessage(e Estimator, m models.Message) int {
	n := perMessageOverhead
	if m.Content != "" {
		n += e.Count(m.Content)
	}
	if len(m.Arguments) > 0 {
		n += e.Count(string(m.Arguments))
	}
	if len(m.Result) > 0 {
		n += e.Count(string(m.Result))
	}
	if m.ToolName != "" {
		n += e.Count(m.ToolName)
	}
	return n
}

// CountMessages estimates total tokens across a message list.
func CountMessages(e Estimator, msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += CountMessage(e, m)
	}
	return total
}
