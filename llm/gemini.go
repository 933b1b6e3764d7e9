package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"

	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/session"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	model *genai.GenerativeModel
}

// NewGeminiClient creates a new GeminiClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{
		model: client.GenerativeModel(modelName),
	}, nil
}

// Complete sends one request to the Gemini API.
func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	history := convertMessagesToGemini(req.Messages)
	if len(history) == 0 {
		return nil, errors.New("gemini request requires at least one message")
	}

	g.model.Tools = convertToolsToGemini(req.Tools)
	if req.System != "" {
		g.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	// The last message is the new prompt; everything before it is history.
	last := history[len(history)-1]
	chat := g.model.StartChat()
	chat.History = history[:len(history)-1]

	resp, err := chat.SendMessage(ctx, last.Parts...)
	if err != nil {
		var apiErr *googleapi.Error
		if stderrors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
			return nil, &RateLimitError{Err: err}
		}
		return nil, errors.Wrapf(err, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

// convertMessagesToGemini converts our internal message format to Gemini's.
// Tool results become FunctionResponse parts inside a user message; the
// function name is recovered from the tool_use block the result answers.
func convertMessagesToGemini(messages []session.Message) []*genai.Content {
	callNames := make(map[string]string)
	var contents []*genai.Content
	for _, msg := range messages {
		role := "user"
		if msg.Role == session.RoleAssistant {
			role = "model"
		}
		var parts []genai.Part
		for _, b := range msg.Content {
			switch b.Type {
			case session.BlockText:
				parts = append(parts, genai.Text(b.Text))
			case session.BlockToolUse:
				callNames[b.ID] = b.Name
				parts = append(parts, genai.FunctionCall{Name: b.Name, Args: b.Input})
			case session.BlockToolResult:
				parts = append(parts, genai.FunctionResponse{
					Name:     callNames[b.ToolUseID],
					Response: map[string]any{"result": b.Content},
				})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

// convertToolsToGemini converts tool schemas to Gemini's FunctionDeclaration
// format. Gemini wants the arguments nested under a single object property;
// the declared schema stays generic and the model infers the fields from the
// tool description.
func convertToolsToGemini(tools []ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var funcDecls []*genai.FunctionDeclaration
	for _, t := range tools {
		funcDecls = append(funcDecls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"args": {
						Type:        genai.TypeObject,
						Description: "Arguments for the function call, as a map.",
					},
				},
				Required: []string{"args"},
			},
		})
	}
	return []*genai.Tool{{FunctionDeclarations: funcDecls}}
}

// processGeminiResponse converts a Gemini API response into the neutral
// Response format. Gemini assigns no call IDs, so stable per-response IDs
// are synthesized for tool_result correlation.
func processGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("received an empty response from Gemini")
	}
	candidate := resp.Candidates[0]

	var blocks []session.ContentBlock
	callCount := 0
	for _, part := range candidate.Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			blocks = append(blocks, session.TextBlock(string(v)))
		case genai.FunctionCall:
			args, ok := v.Args["args"].(map[string]any)
			if !ok {
				args = v.Args
			}
			id := fmt.Sprintf("call_%d_%s", callCount, v.Name)
			callCount++
			blocks = append(blocks, session.ToolUseBlock(id, v.Name, args))
		default:
			return nil, errors.New("unsupported part type in Gemini response: %T", v)
		}
	}

	stop := StopEnd
	if callCount > 0 {
		stop = StopToolUse
	} else if candidate.FinishReason == genai.FinishReasonMaxTokens {
		stop = StopMaxTokens
	}
	return &Response{Content: blocks, StopReason: stop}, nil
}
