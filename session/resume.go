package session

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/davidmey/tern/errors"
)

// CompactionAck is the synthetic assistant acknowledgment that follows the
// summary after compaction, keeping the user/assistant alternation intact.
const CompactionAck = "Understood. I have the summary of the earlier conversation and will continue from here."

// CompactionReplacement is the exact two-message transcript a compaction
// leaves behind. Shared between the compactor and log replay so both build
// the same state.
func CompactionReplacement(summary string) []Message {
	return []Message{UserText(summary), AssistantText(CompactionAck)}
}

// PendingKind classifies where a resumed session picks up.
type PendingKind int

const (
	// PendingNone: the last turn closed; the next input starts fresh.
	PendingNone PendingKind = iota
	// PendingToolCalls: the last committed step is assistant output with
	// unexecuted tool calls. Resume runs exactly those calls before any
	// model call.
	PendingToolCalls
	// PendingModelCall: the last committed step awaits only a model call.
	PendingModelCall
)

// Pending describes the reconstructed interruption point.
type Pending struct {
	Kind  PendingKind
	Calls []ContentBlock // set for PendingToolCalls
}

// Replay rebuilds the transcript and interruption point for a session from
// its log. A malformed trailing entry (crash mid-write) is discarded as
// uncommitted; malformed structure before the tail is corruption and fatal.
func Replay(name string) (*Transcript, Pending, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, Pending{}, err
	}
	entries, err := readEntries(path)
	if err != nil {
		return nil, Pending{}, err
	}

	transcript := NewTranscript()
	for _, e := range entries {
		switch e.Kind {
		case EntrySessionStart, EntryResume, EntryTurnEnd:
			// No transcript effect.
		case EntryTurnStart:
			transcript.Append(UserText(e.Input))
		case EntryAssistantStep:
			transcript.Append(Assistant(e.Content))
		case EntryToolResultStep:
			transcript.Append(UserToolResults(e.Results))
		case EntryCompaction:
			transcript.Replace(CompactionReplacement(e.Summary)...)
			if e.Pending != nil {
				transcript.Append(*e.Pending)
			}
		default:
			return nil, Pending{}, errors.Newk(errors.KindLogCorrupt,
				"unknown entry kind %q in session %s", e.Kind, name)
		}
	}

	return transcript, classifyTail(entries), nil
}

// classifyTail inspects the final committed entry to decide how the engine
// re-enters the state machine.
func classifyTail(entries []Entry) Pending {
	if len(entries) == 0 {
		return Pending{Kind: PendingNone}
	}
	last := entries[len(entries)-1]
	switch last.Kind {
	case EntryAssistantStep:
		var calls []ContentBlock
		for _, b := range last.Content {
			if b.Type == BlockToolUse {
				calls = append(calls, b)
			}
		}
		if len(calls) > 0 {
			return Pending{Kind: PendingToolCalls, Calls: calls}
		}
		// Terminal output was committed; only the turn_end marker was lost.
		return Pending{Kind: PendingNone}
	case EntryToolResultStep, EntryTurnStart, EntryCompaction:
		return Pending{Kind: PendingModelCall}
	default:
		return Pending{Kind: PendingNone}
	}
}

// readEntries parses the log line by line. Lines stream through a scanner so
// resume never loads the whole file; entries after the first malformed line
// decide whether that line is an uncommitted tail or mid-file corruption.
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open session log %s", path)
	}
	defer f.Close()

	var entries []Entry
	malformed := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if malformed {
			// Well-formed data after a broken line: the file is damaged
			// in the middle, not merely truncated. Do not guess.
			return nil, errors.Newk(errors.KindLogCorrupt,
				"session log %s is corrupt before its tail", path)
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			malformed = true
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading session log %s", path)
	}
	return entries, nil
}
