package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/llm"
	"github.com/davidmey/tern/session"
)

const summarizationInstructions = `Summarize the conversation above for your own future use. Capture the user's goals, the decisions made, the work completed, the tool outcomes that still matter, and anything unresolved. Write the summary so you can continue the conversation from it alone, without the original messages.`

const midTurnAddendum = `

The conversation was interrupted mid-task. The latest tool results are included above; fold their outcome and the exact state of the in-flight task into the summary so the task can continue from the summary alone.`

// midTurnContinuation is the deterministic message that restarts an
// interrupted task after its tool results were folded into the summary.
// Re-sending the original results is not possible: their tool_use ids no
// longer exist once the transcript is replaced.
const midTurnContinuation = `Continue the interrupted task using the context summary above. The outcome of the last tool calls is included in the summary.`

// Compactor shrinks the transcript when a pending model request would not
// fit the context window. It summarizes the most recent conversation suffix
// that fits, replaces the whole transcript with the summary, and re-appends
// the pending input so the turn continues seamlessly.
type Compactor struct {
	client    llm.Client
	estimator *Estimator
	sess      *session.Session
	system    string
	maxOutput int
	logger    *slog.Logger
}

// CheckAndCompact measures the request the engine is about to send. Under
// the ceiling it does nothing and returns "". Over the ceiling it compacts
// and returns the recorded reason. A failed compaction leaves the transcript
// and the log untouched.
func (c *Compactor) CheckAndCompact(ctx context.Context, req llm.Request) (string, error) {
	est := c.estimator.Estimate(ctx, req)
	ceiling := c.estimator.Ceiling()
	if est <= ceiling {
		return "", nil
	}
	return c.compact(ctx, req, est, ceiling)
}

func (c *Compactor) compact(ctx context.Context, req llm.Request, est, ceiling int) (string, error) {
	transcript := c.sess.Transcript
	starts := transcript.TurnStarts()
	if len(starts) < 2 {
		return "", errors.Newk(errors.KindBudget,
			"conversation of ~%d tokens exceeds the %d token ceiling with too little history to compact", est, ceiling)
	}

	// The pending input is always the transcript's last message at this
	// point: either the user text that opened the turn or a tool-result
	// bundle mid-turn.
	pending, ok := transcript.Last()
	if !ok {
		return "", errors.Newk(errors.KindBudget, "nothing to compact in an empty transcript")
	}
	midTurn := pending.IsToolResults()

	msgs := transcript.Messages()
	summaryReq := session.UserText(summarizationRequest(midTurn))

	// Find the largest recent suffix whose summarization request still fits.
	// Turns before the cut are dropped outright; they cannot be sent, so
	// they cannot be summarized either.
	cut := -1
	var candidate []session.Message
	for i := 1; i < len(starts); i++ {
		candidate = append(append([]session.Message(nil), msgs[starts[i]:]...), summaryReq)
		creq := llm.Request{System: c.system, Messages: candidate, MaxTokens: c.maxOutput}
		if c.estimator.Estimate(ctx, creq) <= ceiling {
			cut = i
			break
		}
	}
	if cut == -1 {
		return "", errors.Newk(errors.KindBudget,
			"no suffix of the conversation fits the %d token ceiling, even summarized", ceiling)
	}

	if c.logger != nil {
		c.logger.Info("compacting conversation",
			"estimated_tokens", est, "ceiling", ceiling,
			"turns_dropped", cut, "turns_summarized", len(starts)-cut)
	}

	resp, err := c.client.Complete(ctx, llm.Request{
		System:    c.system,
		Messages:  candidate,
		MaxTokens: c.maxOutput,
	})
	if err != nil {
		return "", errors.Wrapf(err, "summarization call failed")
	}
	summary := strings.TrimSpace(session.Assistant(resp.Content).Text())
	if summary == "" {
		return "", errors.Newk(errors.KindTransport, "summarization call returned no text")
	}
	wrapped := "Summary of the conversation so far:\n\n" + summary

	continuation := pending
	if midTurn {
		continuation = session.UserText(midTurnContinuation)
	}

	reason := fmt.Sprintf("estimated %d tokens over ceiling %d", est, ceiling)
	if err := c.sess.CommitCompaction(reason, 0, cut, wrapped, &continuation); err != nil {
		return "", err
	}
	return reason, nil
}

func summarizationRequest(midTurn bool) string {
	if midTurn {
		return summarizationInstructions + midTurnAddendum
	}
	return summarizationInstructions
}
