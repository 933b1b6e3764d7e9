package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/davidmey/tern/errors"
)

// Log entry kinds.
const (
	EntrySessionStart   = "session_start"
	EntryResume         = "resume"
	EntryTurnStart      = "turn_start"
	EntryAssistantStep  = "assistant_step"
	EntryToolResultStep = "tool_result_step"
	EntryCompaction     = "compaction"
	EntryTurnEnd        = "turn_end"
)

// Entry is one line of the session log. Which fields are set depends on Kind.
type Entry struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"ts"`

	// EntrySessionStart
	Session string `json:"session,omitempty"`

	// EntryTurnStart
	Input string `json:"input,omitempty"`

	// EntryAssistantStep
	Content []ContentBlock `json:"content,omitempty"`

	// EntryToolResultStep
	Results []ContentBlock `json:"results,omitempty"`

	// EntryCompaction. RemovedFrom/RemovedTo is the half-open turn range
	// dropped from the summarization candidate; Pending is the message
	// re-appended after the transcript replacement, recorded so replay
	// rebuilds the exact post-compaction state.
	Reason      string   `json:"reason,omitempty"`
	RemovedFrom int      `json:"removed_from,omitempty"`
	RemovedTo   int      `json:"removed_to,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Pending     *Message `json:"pending,omitempty"`

	// EntryTurnEnd
	StopReason string `json:"stop_reason,omitempty"`
}

// Log is the append-only durable record of a session. Every Append flushes
// to stable storage before returning; callers only advance in-memory state
// after a successful Append, so on restart the log never runs ahead of the
// committed state.
type Log struct {
	name string
	path string
	f    *os.File
}

// Open creates or reopens the log for the named session. Opening writes
// nothing; the caller decides whether a session_start or resume entry is due.
func Open(name string) (*Log, error) {
	path, err := sessionPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open session log %s", path)
	}
	return &Log{name: name, path: path, f: f}, nil
}

func (l *Log) Name() string { return l.name }
func (l *Log) Path() string { return l.path }

// Append stamps, serializes, and durably writes one entry.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize %s entry", e.Kind)
	}
	data = append(data, '\n')
	if _, err := l.f.Write(data); err != nil {
		return errors.Wrapf(err, "failed to append %s entry", e.Kind)
	}
	if err := l.f.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync session log")
	}
	return nil
}

func (l *Log) Close() error {
	return l.f.Close()
}

// CleanupIfEmpty closes the log, removing the file when the session never
// completed a turn. Called on orderly shutdown; a session worth resuming is
// never empty. Corrupt logs are evidence and are kept.
func (l *Log) CleanupIfEmpty() error {
	entries, readErr := readEntries(l.path)
	if err := l.f.Close(); err != nil {
		return err
	}
	if readErr != nil {
		return nil
	}
	for _, e := range entries {
		if e.Kind == EntryTurnEnd {
			return nil
		}
	}
	return os.Remove(l.path)
}

// Latest returns the name of the most recently modified session, or "" when
// no prior session exists. Absence is a normal start-fresh case, not an error.
func Latest() (string, error) {
	dir, err := sessionDir()
	if err != nil {
		return "", err
	}
	glob, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return "", errors.Wrapf(err, "could not list sessions")
	}
	var latest string
	var latestMod time.Time
	for _, p := range glob {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = p
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return "", nil
	}
	base := filepath.Base(latest)
	return base[:len(base)-len(".jsonl")], nil
}

// Exists reports whether a session log with the given name is on disk.
func Exists(name string) bool {
	path, err := sessionPath(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func sessionDir() (string, error) {
	dir := filepath.Join(".tern", "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "could not create session directory")
	}
	return dir, nil
}

func sessionPath(name string) (string, error) {
	dir, err := sessionDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".jsonl"), nil
}
