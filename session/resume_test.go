package session

import (
	"os"
	"testing"

	"github.com/davidmey/tern/errors"
)

// writeLog writes raw lines as a session log so tests control the exact
// byte-level state a crash would leave behind.
func writeLog(t *testing.T, name string, lines ...string) {
	t.Helper()
	path, err := sessionPath(name)
	if err != nil {
		t.Fatalf("sessionPath failed: %v", err)
	}
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func appendAll(t *testing.T, name string, entries ...Entry) {
	t.Helper()
	log, err := Open(name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append(%s) failed: %v", e.Kind, err)
		}
	}
}

func TestReplayRebuildsTranscript(t *testing.T) {
	t.Chdir(t.TempDir())

	call := ToolUseBlock("call_1", "execute_command", map[string]any{"command": "ls"})
	result := ToolResultBlock("call_1", `{"stdout":"a.txt\n","stderr":"","returncode":0}`, false)
	appendAll(t, "demo",
		Entry{Kind: EntrySessionStart, Session: "demo"},
		Entry{Kind: EntryTurnStart, Input: "list files"},
		Entry{Kind: EntryAssistantStep, Content: []ContentBlock{call}},
		Entry{Kind: EntryToolResultStep, Results: []ContentBlock{result}},
		Entry{Kind: EntryAssistantStep, Content: []ContentBlock{TextBlock("there is one file, a.txt")}},
		Entry{Kind: EntryTurnEnd, StopReason: "end"},
	)

	transcript, pending, err := Replay("demo")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if pending.Kind != PendingNone {
		t.Errorf("pending = %v, want PendingNone", pending.Kind)
	}

	msgs := transcript.Messages()
	if len(msgs) != 4 {
		t.Fatalf("replayed %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Text() != "list files" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if calls := msgs[1].ToolCalls(); len(calls) != 1 || calls[0].ID != "call_1" {
		t.Errorf("message 1 tool calls = %+v", msgs[1])
	}
	if !msgs[2].IsToolResults() {
		t.Errorf("message 2 should be a tool-result bundle: %+v", msgs[2])
	}
	if msgs[3].Role != RoleAssistant || msgs[3].Text() == "" {
		t.Errorf("message 3 = %+v", msgs[3])
	}
}

func TestReplayDiscardsTruncatedTail(t *testing.T) {
	t.Chdir(t.TempDir())

	writeLog(t, "crashy",
		`{"kind":"session_start","session":"crashy"}`,
		`{"kind":"turn_start","input":"hello"}`,
		`{"kind":"assistant_step","content":[{"type":"text","te`, // cut mid-write
	)

	transcript, pending, err := Replay("crashy")
	if err != nil {
		t.Fatalf("a truncated tail is an uncommitted entry, not corruption: %v", err)
	}
	if transcript.Len() != 1 {
		t.Fatalf("replayed %d messages, want 1", transcript.Len())
	}
	if pending.Kind != PendingModelCall {
		t.Errorf("pending after turn_start tail = %v, want PendingModelCall", pending.Kind)
	}
}

func TestReplayRejectsMidFileCorruption(t *testing.T) {
	t.Chdir(t.TempDir())

	writeLog(t, "damaged",
		`{"kind":"session_start","session":"damaged"}`,
		`garbage that is not JSON`,
		`{"kind":"turn_start","input":"hello"}`,
	)

	_, _, err := Replay("damaged")
	if err == nil {
		t.Fatal("well-formed entries after a malformed line must fail replay")
	}
	if errors.KindOf(err) != errors.KindLogCorrupt {
		t.Errorf("error kind = %v, want KindLogCorrupt: %v", errors.KindOf(err), err)
	}
}

func TestReplayClassifiesPendingToolCalls(t *testing.T) {
	t.Chdir(t.TempDir())

	// Crash after the model asked for two tools but before any result was
	// committed: resume owes exactly those two calls.
	calls := []ContentBlock{
		ToolUseBlock("call_1", "read_file", map[string]any{"path": "go.mod"}),
		ToolUseBlock("call_2", "execute_command", map[string]any{"command": "ls"}),
	}
	appendAll(t, "midflight",
		Entry{Kind: EntrySessionStart, Session: "midflight"},
		Entry{Kind: EntryTurnStart, Input: "inspect the project"},
		Entry{Kind: EntryAssistantStep, Content: append([]ContentBlock{TextBlock("looking around")}, calls...)},
	)

	_, pending, err := Replay("midflight")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if pending.Kind != PendingToolCalls {
		t.Fatalf("pending = %v, want PendingToolCalls", pending.Kind)
	}
	if len(pending.Calls) != 2 {
		t.Fatalf("pending %d calls, want 2", len(pending.Calls))
	}
	if pending.Calls[0].ID != "call_1" || pending.Calls[1].ID != "call_2" {
		t.Errorf("pending calls out of order: %+v", pending.Calls)
	}
}

func TestReplayTextOnlyAssistantTailIsComplete(t *testing.T) {
	t.Chdir(t.TempDir())

	// Only the turn_end marker was lost; the terminal response itself
	// committed, so nothing is owed.
	appendAll(t, "almostdone",
		Entry{Kind: EntrySessionStart, Session: "almostdone"},
		Entry{Kind: EntryTurnStart, Input: "hi"},
		Entry{Kind: EntryAssistantStep, Content: []ContentBlock{TextBlock("hello")}},
	)

	_, pending, err := Replay("almostdone")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if pending.Kind != PendingNone {
		t.Errorf("pending = %v, want PendingNone", pending.Kind)
	}
}

func TestReplayAfterToolResultsOwesModelCall(t *testing.T) {
	t.Chdir(t.TempDir())

	appendAll(t, "owecall",
		Entry{Kind: EntrySessionStart, Session: "owecall"},
		Entry{Kind: EntryTurnStart, Input: "run ls"},
		Entry{Kind: EntryAssistantStep, Content: []ContentBlock{
			ToolUseBlock("call_1", "execute_command", map[string]any{"command": "ls"}),
		}},
		Entry{Kind: EntryToolResultStep, Results: []ContentBlock{
			ToolResultBlock("call_1", `{"stdout":""}`, false),
		}},
	)

	_, pending, err := Replay("owecall")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if pending.Kind != PendingModelCall {
		t.Errorf("pending = %v, want PendingModelCall", pending.Kind)
	}
}

func TestReplayAppliesCompaction(t *testing.T) {
	t.Chdir(t.TempDir())

	continuation := UserText("now add a test for the parser")
	appendAll(t, "squeezed",
		Entry{Kind: EntrySessionStart, Session: "squeezed"},
		Entry{Kind: EntryTurnStart, Input: "write a parser"},
		Entry{Kind: EntryAssistantStep, Content: []ContentBlock{TextBlock("done")}},
		Entry{Kind: EntryTurnEnd, StopReason: "end"},
		Entry{Kind: EntryTurnStart, Input: "now add a test for the parser"},
		Entry{Kind: EntryCompaction, Reason: "over ceiling", RemovedTo: 1,
			Summary: "Summary of the conversation so far:\n\nA parser was written.",
			Pending: &continuation},
	)

	transcript, pending, err := Replay("squeezed")
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if pending.Kind != PendingModelCall {
		t.Errorf("pending after compaction tail = %v, want PendingModelCall", pending.Kind)
	}

	msgs := transcript.Messages()
	if len(msgs) != 3 {
		t.Fatalf("replayed %d messages, want summary, ack, continuation", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Text() == "" {
		t.Errorf("message 0 should carry the summary: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Text() != CompactionAck {
		t.Errorf("message 1 should be the fixed acknowledgment: %+v", msgs[1])
	}
	if msgs[2].Text() != "now add a test for the parser" {
		t.Errorf("message 2 should be the re-appended pending input: %+v", msgs[2])
	}
}

func TestSessionCommitOrdering(t *testing.T) {
	t.Chdir(t.TempDir())

	sess, err := New("ordered")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := sess.CommitTurnStart("hello"); err != nil {
		t.Fatalf("CommitTurnStart failed: %v", err)
	}
	if err := sess.CommitAssistantStep([]ContentBlock{TextBlock("hi there")}); err != nil {
		t.Fatalf("CommitAssistantStep failed: %v", err)
	}
	if err := sess.CommitTurnEnd("end"); err != nil {
		t.Fatalf("CommitTurnEnd failed: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	resumed, pending, err := Resume("ordered")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	defer resumed.Close()
	if pending.Kind != PendingNone {
		t.Errorf("pending = %v, want PendingNone", pending.Kind)
	}
	if got, want := resumed.Transcript.Len(), sess.Transcript.Len(); got != want {
		t.Errorf("resumed transcript has %d messages, original had %d", got, want)
	}
	for i, m := range resumed.Transcript.Messages() {
		orig := sess.Transcript.Messages()[i]
		if m.Role != orig.Role || m.Text() != orig.Text() {
			t.Errorf("message %d differs after resume: %+v vs %+v", i, m, orig)
		}
	}
}
