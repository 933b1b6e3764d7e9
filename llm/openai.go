package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"

	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/session"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient is a client for the OpenAI Chat Completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAIClient. It requires the OPENAI_API_KEY
// environment variable to be set, and supports OPENAI_BASE_URL for custom
// API endpoints.
func NewOpenAIClient(ctx context.Context, modelName string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAIClient{client: &c, model: modelName}, nil
}

// Complete sends one chat-completion request to OpenAI.
func (o *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenAI(req.System, req.Messages),
		Tools:    convertToolsToOpenAI(req.Tools),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if stderrors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, &RateLimitError{RetryAfter: retryAfterHeader(apiErr.Response), Err: err}
		}
		return nil, errors.Wrapf(err, "openai request failed")
	}
	return processOpenAIResponse(resp)
}

// processOpenAIResponse converts an OpenAI API response into the neutral
// Response format.
func processOpenAIResponse(resp *openai.ChatCompletion) (*Response, error) {
	if len(resp.Choices) == 0 {
		return &Response{StopReason: StopEnd}, nil
	}
	choice := resp.Choices[0]

	var blocks []session.ContentBlock
	if choice.Message.Content != "" {
		blocks = append(blocks, session.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		// Arguments are a JSON string; we expect a flat map of arguments.
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
		}
		blocks = append(blocks, session.ToolUseBlock(tc.ID, tc.Function.Name, args))
	}

	stop := StopEnd
	switch choice.FinishReason {
	case "tool_calls":
		stop = StopToolUse
	case "length":
		stop = StopMaxTokens
	}
	return &Response{Content: blocks, StopReason: stop}, nil
}

// convertMessagesToOpenAI converts our internal message format to OpenAI's.
// The system prompt becomes a leading system message; tool results become
// individual tool-role messages, as that API requires.
func convertMessagesToOpenAI(system string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch {
		case msg.Role == session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, b := range msg.ToolCalls() {
				argsBytes, err := json.Marshal(b.Input)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: could not marshal tool call arguments for %s: %v. Skipping function call in history.\n", b.Name, err)
					continue
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   b.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      b.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		case msg.IsToolResults():
			for _, b := range msg.Content {
				chatMessages = append(chatMessages, openai.ToolMessage(b.Content, b.ToolUseID))
			}
		default:
			chatMessages = append(chatMessages, openai.UserMessage(msg.Text()))
		}
	}
	return chatMessages
}

// convertToolsToOpenAI converts tool schemas to the OpenAI tool format.
func convertToolsToOpenAI(tools []ToolSchema) []openai.ChatCompletionToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	var out []openai.ChatCompletionToolUnionParam
	for _, t := range tools {
		params := openai.FunctionParameters{
			"type":       "object",
			"properties": map[string]any{},
		}
		for k, v := range t.InputSchema {
			params[k] = v
		}
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  params,
		}))
	}
	return out
}
