package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidmey/tern/config"
	"github.com/davidmey/tern/llm"
	"github.com/davidmey/tern/session"
	"github.com/davidmey/tern/tools"
)

// fakeTool records its invocations and replies with a canned payload.
type fakeTool struct {
	name  string
	reply string
	err   error
	calls []map[string]any
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool" }
func (f *fakeTool) InputSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// loopClient answers every request with the same tool call, forever.
type loopClient struct {
	completions int
}

func (l *loopClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	l.completions++
	return &llm.Response{
		Content: []session.ContentBlock{
			session.ToolUseBlock("call_loop", "echo_tool", map[string]any{"n": l.completions}),
		},
		StopReason: llm.StopToolUse,
	}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(maxSteps int) *config.Config {
	return &config.Config{
		MaxContextTokens: config.DefaultMaxContextTokens,
		MaxOutputTokens:  config.DefaultMaxOutputTokens,
		MaxSteps:         maxSteps,
		Toolsets:         []config.Toolset{{Name: "default", Tools: []string{"echo_tool"}}},
	}
}

// newTestAgent builds an agent over a fresh session in a temp working
// directory, exposing only the fake echo_tool.
func newTestAgent(t *testing.T, client llm.Client, cfg *config.Config) (*Agent, *fakeTool) {
	t.Helper()
	t.Chdir(t.TempDir())

	sess, err := session.New("test")
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	t.Cleanup(func() { sess.Log.Close() })

	logger := testLogger()
	registry := tools.NewToolRegistry(cfg, ".", logger)
	echo := &fakeTool{name: "echo_tool", reply: `{"ok":true}`}
	registry.Register(echo)

	a, err := New(cfg, sess, registry, "default", ModeAuto, client, ".", logger)
	if err != nil {
		t.Fatalf("agent.New failed: %v", err)
	}
	return a, echo
}

// readLogEntries decodes the session log the agent under test wrote.
func readLogEntries(t *testing.T, name string) []session.Entry {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(".tern", "sessions", name+".jsonl"))
	if err != nil {
		t.Fatalf("reading session log: %v", err)
	}
	var entries []session.Entry
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e session.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("malformed log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func entryKinds(entries []session.Entry) []string {
	kinds := make([]string, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestRunSingleToolCallTurn(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content: []session.ContentBlock{
				session.TextBlock("let me check"),
				session.ToolUseBlock("call_1", "echo_tool", map[string]any{"command": "ls"}),
			},
			StopReason: llm.StopToolUse,
		},
		{
			Content:    []session.ContentBlock{session.TextBlock("there is one file")},
			StopReason: llm.StopEnd,
		},
	}}
	a, echo := newTestAgent(t, client, testConfig(10))

	outcome, err := a.Run(context.Background(), "list files")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.StopReason != StopEnd {
		t.Errorf("stop reason = %q, want %q", outcome.StopReason, StopEnd)
	}
	if outcome.Text != "there is one file" {
		t.Errorf("outcome text = %q", outcome.Text)
	}
	if len(echo.calls) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(echo.calls))
	}
	if echo.calls[0]["command"] != "ls" {
		t.Errorf("tool args = %v", echo.calls[0])
	}

	want := []string{
		session.EntrySessionStart,
		session.EntryTurnStart,
		session.EntryAssistantStep,
		session.EntryToolResultStep,
		session.EntryAssistantStep,
		session.EntryTurnEnd,
	}
	entries := readLogEntries(t, "test")
	kinds := entryKinds(entries)
	if len(kinds) != len(want) {
		t.Fatalf("log kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("log kinds = %v, want %v", kinds, want)
		}
	}
	if entries[5].StopReason != StopEnd {
		t.Errorf("turn_end stop reason = %q", entries[5].StopReason)
	}

	// The second model call must see the tool result bundle as its last
	// message.
	if len(client.Requests) != 2 {
		t.Fatalf("model called %d times, want 2", len(client.Requests))
	}
	last := client.Requests[1].Messages[len(client.Requests[1].Messages)-1]
	if !last.IsToolResults() {
		t.Errorf("second request should end with tool results, got %+v", last)
	}
}

func TestRunStopsAtStepCeiling(t *testing.T) {
	client := &loopClient{}
	a, echo := newTestAgent(t, client, testConfig(100))

	outcome, err := a.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.StopReason != StopMaxTurns {
		t.Errorf("stop reason = %q, want %q", outcome.StopReason, StopMaxTurns)
	}
	if client.completions != 100 {
		t.Errorf("model called %d times, want exactly 100", client.completions)
	}
	if len(echo.calls) != 100 {
		t.Errorf("tool executed %d times, want exactly 100", len(echo.calls))
	}

	entries := readLogEntries(t, "test")
	steps := 0
	for _, e := range entries {
		if e.Kind == session.EntryAssistantStep {
			steps++
		}
	}
	if steps != 100 {
		t.Errorf("log holds %d assistant steps, want exactly 100", steps)
	}
	tail := entries[len(entries)-1]
	if tail.Kind != session.EntryTurnEnd || tail.StopReason != StopMaxTurns {
		t.Errorf("log tail = %+v, want turn_end with max_turns", tail)
	}
}

func TestToolErrorBecomesErrorResult(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content: []session.ContentBlock{
				session.ToolUseBlock("call_1", "echo_tool", nil),
			},
			StopReason: llm.StopToolUse,
		},
		{
			Content:    []session.ContentBlock{session.TextBlock("understood, moving on")},
			StopReason: llm.StopEnd,
		},
	}}
	a, echo := newTestAgent(t, client, testConfig(10))
	echo.err = context.DeadlineExceeded

	outcome, err := a.Run(context.Background(), "try the tool")
	if err != nil {
		t.Fatalf("a tool failure must not fail the turn: %v", err)
	}
	if outcome.StopReason != StopEnd {
		t.Errorf("stop reason = %q", outcome.StopReason)
	}

	results := client.Requests[1].Messages[len(client.Requests[1].Messages)-1]
	if len(results.Content) != 1 {
		t.Fatalf("result bundle = %+v", results)
	}
	r := results.Content[0]
	if !r.IsError || r.ToolUseID != "call_1" {
		t.Errorf("expected an error-marked result for call_1, got %+v", r)
	}
	if !strings.Contains(r.Content, "error") {
		t.Errorf("error result payload = %q", r.Content)
	}
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content: []session.ContentBlock{
				session.ToolUseBlock("call_1", "no_such_tool", nil),
			},
			StopReason: llm.StopToolUse,
		},
		{
			Content:    []session.ContentBlock{session.TextBlock("ok")},
			StopReason: llm.StopEnd,
		},
	}}
	a, _ := newTestAgent(t, client, testConfig(10))

	if _, err := a.Run(context.Background(), "hallucinate"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r := client.Requests[1].Messages[len(client.Requests[1].Messages)-1].Content[0]
	if !r.IsError || !strings.Contains(r.Content, "not available") {
		t.Errorf("unknown tool should produce a not-available error result, got %+v", r)
	}
}

func TestPromptModeDeclineBecomesErrorResult(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content: []session.ContentBlock{
				session.ToolUseBlock("call_1", "echo_tool", nil),
			},
			StopReason: llm.StopToolUse,
		},
		{
			Content:    []session.ContentBlock{session.TextBlock("fine, skipping it")},
			StopReason: llm.StopEnd,
		},
	}}
	a, echo := newTestAgent(t, client, testConfig(10))
	a.Mode = ModePrompt
	a.Callbacks.ShouldExecuteTool = func(call session.ContentBlock) bool { return false }

	if _, err := a.Run(context.Background(), "do something risky"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(echo.calls) != 0 {
		t.Errorf("declined tool still executed %d times", len(echo.calls))
	}
	r := client.Requests[1].Messages[len(client.Requests[1].Messages)-1].Content[0]
	if !r.IsError || !strings.Contains(r.Content, "declined") {
		t.Errorf("declined call should produce an error result, got %+v", r)
	}
}

func TestCallbacksObserveTurn(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content: []session.ContentBlock{
				session.ToolUseBlock("call_1", "echo_tool", nil),
			},
			StopReason: llm.StopToolUse,
		},
		{
			Content:    []session.ContentBlock{session.TextBlock("done")},
			StopReason: llm.StopEnd,
		},
	}}
	a, _ := newTestAgent(t, client, testConfig(10))

	var messages, toolCalls, toolResults []string
	a.Callbacks = Callbacks{
		OnAssistantMessage: func(text string) { messages = append(messages, text) },
		OnToolCall:         func(call session.ContentBlock) { toolCalls = append(toolCalls, call.Name) },
		OnToolResult: func(call session.ContentBlock, result string, isError bool) {
			toolResults = append(toolResults, result)
		},
	}

	if _, err := a.Run(context.Background(), "go"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(messages) != 1 || messages[0] != "done" {
		t.Errorf("OnAssistantMessage saw %v", messages)
	}
	if len(toolCalls) != 1 || toolCalls[0] != "echo_tool" {
		t.Errorf("OnToolCall saw %v", toolCalls)
	}
	if len(toolResults) != 1 {
		t.Errorf("OnToolResult saw %v", toolResults)
	}
}

func TestResumeRunsPendingToolCalls(t *testing.T) {
	client := &llm.ScriptedClient{Responses: []llm.Response{
		{
			Content:    []session.ContentBlock{session.TextBlock("all caught up")},
			StopReason: llm.StopEnd,
		},
	}}
	a, echo := newTestAgent(t, client, testConfig(10))

	// Simulate the committed prefix of an interrupted turn.
	calls := []session.ContentBlock{
		session.ToolUseBlock("call_1", "echo_tool", map[string]any{"step": "one"}),
		session.ToolUseBlock("call_2", "echo_tool", map[string]any{"step": "two"}),
	}
	if err := a.Session.CommitTurnStart("interrupted work"); err != nil {
		t.Fatalf("CommitTurnStart failed: %v", err)
	}
	if err := a.Session.CommitAssistantStep(calls); err != nil {
		t.Fatalf("CommitAssistantStep failed: %v", err)
	}

	outcome, err := a.Resume(context.Background(), session.Pending{
		Kind:  session.PendingToolCalls,
		Calls: calls,
	})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if outcome == nil || outcome.StopReason != StopEnd {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(echo.calls) != 2 {
		t.Fatalf("resume executed %d calls, want 2", len(echo.calls))
	}
	if echo.calls[0]["step"] != "one" || echo.calls[1]["step"] != "two" {
		t.Errorf("calls ran out of order: %v", echo.calls)
	}

	// The model call after resume must see both results committed.
	last := client.Requests[0].Messages[len(client.Requests[0].Messages)-1]
	if !last.IsToolResults() || len(last.Content) != 2 {
		t.Errorf("request after resume should end with two tool results: %+v", last)
	}
}

func TestResumeWithNothingPending(t *testing.T) {
	client := &llm.ScriptedClient{}
	a, _ := newTestAgent(t, client, testConfig(10))

	outcome, err := a.Resume(context.Background(), session.Pending{Kind: session.PendingNone})
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if outcome != nil {
		t.Errorf("outcome = %+v, want nil", outcome)
	}
	if len(client.Requests) != 0 {
		t.Errorf("no model call is owed when nothing is pending, saw %d", len(client.Requests))
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	a, _ := newTestAgent(t, &llm.ScriptedClient{}, testConfig(10))
	if _, err := a.Run(context.Background(), "   "); err == nil {
		t.Fatal("blank input must not start a turn")
	}
	entries := readLogEntries(t, "test")
	for _, e := range entries {
		if e.Kind == session.EntryTurnStart {
			t.Errorf("blank input still opened a turn: %+v", e)
		}
	}
}
