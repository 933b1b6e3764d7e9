package session

import "strings"

// Message roles. The model protocol only has two sides; tool results travel
// inside user messages, matching the underlying wire format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockThinking   = "thinking"
)

// ContentBlock is one tagged unit of message content. Which fields are
// meaningful depends on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse: the model's request to invoke a tool.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// BlockToolResult: the outcome of one tool call. Content carries the
	// serialized result payload; IsError marks a failure payload, which is
	// still a valid result.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// BlockThinking: opaque reasoning content, round-tripped untouched.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Message is one exchange unit in a conversation.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

func ToolResultBlock(toolUseID, payload string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: payload, IsError: isError}
}

// UserText builds the message that opens a turn.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

// UserToolResults bundles tool results into the user-side message that
// answers a batch of tool calls.
func UserToolResults(results []ContentBlock) Message {
	return Message{Role: RoleUser, Content: results}
}

// Assistant wraps model output blocks into an assistant message.
func Assistant(blocks []ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// AssistantText builds a plain-text assistant message.
func AssistantText(text string) Message {
	return Assistant([]ContentBlock{TextBlock(text)})
}

// ToolCalls returns the tool_use blocks of the message in order.
func (m Message) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// IsToolResults reports whether the message is a user message carrying only
// tool results.
func (m Message) IsToolResults() bool {
	if m.Role != RoleUser || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// IsTurnStart reports whether the message opens a turn: any user message
// that is not a tool-result bundle.
func (m Message) IsTurnStart() bool {
	return m.Role == RoleUser && !m.IsToolResults()
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}
