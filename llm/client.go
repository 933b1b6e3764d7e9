package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmey/tern/session"
)

// Stop reasons, provider-neutral.
const (
	StopEnd       = "end"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ToolSchema describes one tool to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is the full, self-contained input of one model call. It is a value
// snapshot: implementations must not retain or mutate it.
type Request struct {
	System    string
	Tools     []ToolSchema
	Messages  []session.Message
	MaxTokens int
}

// Response is the unified model response.
type Response struct {
	Content    []session.ContentBlock
	StopReason string
}

// Client is the model transport contract.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// TokenCounter is the optional authoritative token-count capability. Clients
// that cannot count remotely simply don't implement it and the budget
// estimator falls back to its heuristic.
type TokenCounter interface {
	CountTokens(ctx context.Context, req Request) (int, error)
}

// RateLimitError signals a retryable rate-limit response. RetryAfter is the
// server-provided delay, zero when the server gave none.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// ScriptedClient replays a fixed sequence of responses, one per Complete
// call. Used by tests and as the default client when no provider is
// configured.
type ScriptedClient struct {
	Responses []Response
	Requests  []Request // records every Complete input, in order
	Err       error     // returned once all scripted responses are spent
}

func (s *ScriptedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.Requests = append(s.Requests, req)
	if len(s.Requests) > len(s.Responses) {
		if s.Err != nil {
			return nil, s.Err
		}
		return &Response{
			Content:    []session.ContentBlock{session.TextBlock("scripted client exhausted")},
			StopReason: StopEnd,
		}, nil
	}
	resp := s.Responses[len(s.Requests)-1]
	return &resp, nil
}
