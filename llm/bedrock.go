package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/session"
)

// BedrockClient is a client for Anthropic models on AWS Bedrock, speaking
// the raw InvokeModel JSON protocol.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient creates a new BedrockClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Complete sends one request to the Anthropic model via AWS Bedrock.
func (b *BedrockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := buildBedrockRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}
	return processBedrockResponse(resp.Body)
}

// buildBedrockRequest serializes the request into the Anthropic-on-Bedrock
// wire format.
func buildBedrockRequest(req Request) ([]byte, error) {
	var messages []map[string]any
	for _, msg := range req.Messages {
		var blocks []map[string]any
		for _, c := range msg.Content {
			switch c.Type {
			case session.BlockText:
				blocks = append(blocks, map[string]any{"type": "text", "text": c.Text})
			case session.BlockToolUse:
				blocks = append(blocks, map[string]any{
					"type": "tool_use", "id": c.ID, "name": c.Name, "input": c.Input,
				})
			case session.BlockToolResult:
				blocks = append(blocks, map[string]any{
					"type": "tool_result", "tool_use_id": c.ToolUseID,
					"content": c.Content, "is_error": c.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		messages = append(messages, map[string]any{"role": msg.Role, "content": blocks})
	}

	body := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        req.MaxTokens,
		"messages":          messages,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			schema := t.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": schema,
			})
		}
		body["tools"] = tools
	}

	return json.Marshal(body)
}

// processBedrockResponse converts a Bedrock response body into the neutral
// Response format.
func processBedrockResponse(body []byte) (*Response, error) {
	var response map[string]any
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if errMsg, ok := response["error"]; ok {
		return nil, errors.New("Bedrock API error: %v", errMsg)
	}

	var blocks []session.ContentBlock
	callCount := 0
	if content, ok := response["content"].([]any); ok {
		for _, item := range content {
			itemMap, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch itemMap["type"] {
			case "text":
				if text, ok := itemMap["text"].(string); ok {
					blocks = append(blocks, session.TextBlock(text))
				}
			case "tool_use":
				name, _ := itemMap["name"].(string)
				input, _ := itemMap["input"].(map[string]any)
				if name == "" {
					continue
				}
				// Bedrock does not always echo an ID; synthesize a stable one.
				id, _ := itemMap["id"].(string)
				if id == "" {
					id = fmt.Sprintf("call_%d_%s", callCount, name)
				}
				callCount++
				blocks = append(blocks, session.ToolUseBlock(id, name, input))
			}
		}
	}

	stop := StopEnd
	switch response["stop_reason"] {
	case "tool_use":
		stop = StopToolUse
	case "max_tokens":
		stop = StopMaxTokens
	}
	return &Response{Content: blocks, StopReason: stop}, nil
}
