package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/session"
)

// AnthropicClient is a client for the Anthropic API. It is the only provider
// with an authoritative remote token count, which the budget estimator
// prefers over its heuristic.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient creates a new AnthropicClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicClient(ctx context.Context, modelName string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicClient{
		client: &client,
		model:  modelName,
	}, nil
}

// Complete sends one message-completion request to the Anthropic API.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  convertMessagesToAnthropic(req.Messages),
		Tools:     convertToolsToAnthropic(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}
	return processAnthropicResponse(resp)
}

// CountTokens asks the API for the exact token count of a candidate request.
func (a *AnthropicClient) CountTokens(ctx context.Context, req Request) (int, error) {
	params := anthropic.MessageCountTokensParams{
		Model:    anthropic.Model(a.model),
		Messages: convertMessagesToAnthropic(req.Messages),
	}
	if req.System != "" {
		params.System = anthropic.MessageCountTokensParamsSystemUnion{OfTextBlockArray: []anthropic.TextBlockParam{{Text: req.System}}}
	}
	for _, t := range convertToolsToAnthropic(req.Tools) {
		if t.OfTool != nil {
			params.Tools = append(params.Tools, anthropic.MessageCountTokensToolUnionParam{OfTool: t.OfTool})
		}
	}

	count, err := a.client.Messages.CountTokens(ctx, params)
	if err != nil {
		return 0, mapAnthropicError(err)
	}
	return int(count.InputTokens), nil
}

// mapAnthropicError converts SDK rate-limit responses into RateLimitError so
// the retry layer can honor the server's delay.
func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfterHeader(apiErr.Response), Err: err}
	}
	return errors.Wrapf(err, "anthropic request failed")
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	if d, err := time.ParseDuration(resp.Header.Get("Retry-After") + "s"); err == nil && d > 0 {
		return d
	}
	return 0
}

// convertMessagesToAnthropic converts our internal message format to Anthropic's format.
func convertMessagesToAnthropic(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case session.BlockText:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfText: &anthropic.TextBlockParam{Text: b.Text},
				})
			case session.BlockToolUse:
				input, err := json.Marshal(b.Input)
				if err != nil {
					// Unmarshalable input would already have failed at the
					// dispatch boundary; skip rather than poison the call.
					continue
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    b.ID,
						Name:  b.Name,
						Input: input,
					},
				})
			case session.BlockToolResult:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolResult: &anthropic.ToolResultBlockParam{
						ToolUseID: b.ToolUseID,
						IsError:   anthropic.Bool(b.IsError),
						Content: []anthropic.ToolResultBlockParamContentUnion{{
							OfText: &anthropic.TextBlockParam{Text: b.Content},
						}},
					},
				})
			case session.BlockThinking:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfThinking: &anthropic.ThinkingBlockParam{
						Thinking:  b.Thinking,
						Signature: b.Signature,
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if msg.Role == session.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

// convertToolsToAnthropic converts tool schemas to Anthropic's tool format.
func convertToolsToAnthropic(tools []ToolSchema) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		properties := t.InputSchema["properties"]
		if properties == nil {
			properties = map[string]any{}
		}
		var required []string
		if r, ok := t.InputSchema["required"].([]string); ok {
			required = r
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   required,
				},
			},
		})
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into the
// neutral Response format.
func processAnthropicResponse(resp *anthropic.Message) (*Response, error) {
	var blocks []session.ContentBlock
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, session.TextBlock(c.Text))
		case anthropic.ToolUseBlock:
			var input map[string]any
			if err := json.Unmarshal(c.Input, &input); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
			}
			blocks = append(blocks, session.ToolUseBlock(c.ID, c.Name, input))
		case anthropic.ThinkingBlock:
			blocks = append(blocks, session.ContentBlock{
				Type:      session.BlockThinking,
				Thinking:  c.Thinking,
				Signature: c.Signature,
			})
		}
	}

	stop := StopEnd
	switch resp.StopReason {
	case anthropic.StopReasonToolUse:
		stop = StopToolUse
	case anthropic.StopReasonMaxTokens:
		stop = StopMaxTokens
	}

	return &Response{Content: blocks, StopReason: stop}, nil
}
