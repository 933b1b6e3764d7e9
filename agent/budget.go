package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/davidmey/tern/llm"
)

// Heuristic constants. Four characters per token is the usual conservative
// rule of thumb for English text and JSON; the per-message overhead covers
// role markers and framing the serialized content doesn't show.
const (
	charsPerToken         = 4
	messageOverheadTokens = 4
)

// Estimator decides whether a model request fits the context window. It
// prefers the transport's own token counter when one exists and falls back
// to a local heuristic when counting fails or isn't supported.
type Estimator struct {
	counter    llm.TokenCounter
	maxContext int
	maxOutput  int
	logger     *slog.Logger
}

func NewEstimator(client llm.Client, maxContext, maxOutput int, logger *slog.Logger) *Estimator {
	e := &Estimator{maxContext: maxContext, maxOutput: maxOutput, logger: logger}
	if counter, ok := client.(llm.TokenCounter); ok {
		e.counter = counter
	}
	return e
}

// Ceiling is the input budget: the context window minus the output
// allowance reserved for the model's reply.
func (e *Estimator) Ceiling() int {
	return e.maxContext - e.maxOutput
}

// Estimate returns the token count of req, authoritative when the transport
// can count remotely, heuristic otherwise.
func (e *Estimator) Estimate(ctx context.Context, req llm.Request) int {
	if e.counter != nil {
		n, err := e.counter.CountTokens(ctx, req)
		if err == nil && n > 0 {
			return n
		}
		if err != nil && e.logger != nil {
			e.logger.Debug("remote token count unavailable, using heuristic", "error", err)
		}
	}
	return HeuristicEstimate(req)
}

// HeuristicEstimate approximates the token count of a request from its
// serialized size. It deliberately leans high: overestimating triggers
// compaction a little early, underestimating risks a hard transport
// rejection mid-turn.
func HeuristicEstimate(req llm.Request) int {
	chars := len(req.System)
	for _, t := range req.Tools {
		chars += len(t.Name) + len(t.Description)
		if data, err := json.Marshal(t.InputSchema); err == nil {
			chars += len(data)
		}
	}
	for _, m := range req.Messages {
		if data, err := json.Marshal(m.Content); err == nil {
			chars += len(data)
		}
	}
	tokens := (chars + charsPerToken - 1) / charsPerToken
	return tokens + messageOverheadTokens*len(req.Messages)
}
