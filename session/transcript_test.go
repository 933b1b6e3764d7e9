package session

import "testing"

func TestTurnStarts(t *testing.T) {
	tr := NewTranscript()
	tr.Append(UserText("first turn"))
	tr.Append(Assistant([]ContentBlock{
		ToolUseBlock("call_1", "web_search", map[string]any{"query": "go slog"}),
	}))
	tr.Append(UserToolResults([]ContentBlock{
		ToolResultBlock("call_1", `{"results":[]}`, false),
	}))
	tr.Append(AssistantText("nothing found"))
	tr.Append(UserText("second turn"))
	tr.Append(AssistantText("ok"))

	starts := tr.TurnStarts()
	if len(starts) != 2 {
		t.Fatalf("TurnStarts = %v, want 2 entries", starts)
	}
	if starts[0] != 0 || starts[1] != 4 {
		t.Errorf("TurnStarts = %v, want [0 4]", starts)
	}
	if tr.NumTurns() != 2 {
		t.Errorf("NumTurns = %d, want 2", tr.NumTurns())
	}
}

func TestToolResultBundleIsNotATurnStart(t *testing.T) {
	results := UserToolResults([]ContentBlock{
		ToolResultBlock("call_1", "out", false),
		ToolResultBlock("call_2", "out", true),
	})
	if results.IsTurnStart() {
		t.Error("a tool-result bundle must not open a turn")
	}
	if !results.IsToolResults() {
		t.Error("IsToolResults should hold for a pure result bundle")
	}

	mixed := Message{Role: RoleUser, Content: []ContentBlock{
		TextBlock("also some text"),
		ToolResultBlock("call_1", "out", false),
	}}
	if mixed.IsToolResults() {
		t.Error("a message with text content is not a pure result bundle")
	}
	if !mixed.IsTurnStart() {
		t.Error("a user message with text opens a turn")
	}
}

func TestMessagesReturnsSnapshot(t *testing.T) {
	tr := NewTranscript()
	tr.Append(UserText("one"))

	snapshot := tr.Messages()
	tr.Append(AssistantText("two"))
	if len(snapshot) != 1 {
		t.Errorf("snapshot grew with the transcript: %d messages", len(snapshot))
	}

	snapshot[0] = AssistantText("mutated")
	if got, _ := tr.Last(); got.Text() != "two" {
		t.Errorf("mutating a snapshot reached the transcript: %+v", got)
	}
	if tr.Messages()[0].Text() != "one" {
		t.Error("mutating a snapshot reached the transcript head")
	}
}

func TestReplaceSwapsHistory(t *testing.T) {
	tr := NewTranscript()
	tr.Append(UserText("a"))
	tr.Append(AssistantText("b"))
	tr.Append(UserText("c"))

	tr.Replace(CompactionReplacement("the summary")...)
	if tr.Len() != 2 {
		t.Fatalf("Len after Replace = %d, want 2", tr.Len())
	}
	first, _ := tr.Last()
	if first.Text() != CompactionAck {
		t.Errorf("last message after Replace = %q", first.Text())
	}
	if tr.Messages()[0].Text() != "the summary" {
		t.Errorf("first message after Replace = %q", tr.Messages()[0].Text())
	}
}
