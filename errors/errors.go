package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Kind classifies an error so that callers can report transport failures,
// tool failures, budget exhaustion, and log corruption differently.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers model transport failures (network, rate limit
	// after retries, auth). The turn fails; the session stays usable.
	KindTransport
	// KindTool marks a tool execution failure. Never surfaced as a turn
	// error; it travels back to the model inside a tool result.
	KindTool
	// KindBudget marks a request that cannot fit the context window even
	// after compaction. Fatal for the request, not the session.
	KindBudget
	// KindLogCorrupt marks a session log with malformed structure before
	// its tail. Resume must not guess past it.
	KindLogCorrupt
)

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// WithKind tags err with a Kind. Returns nil for a nil err.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Newk creates a new tagged error in one step.
func Newk(kind Kind, format string, a ...interface{}) error {
	return &kindError{kind: kind, err: fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))}
}

// KindOf reports the Kind of the first tagged error in err's chain, or
// KindUnknown if none is tagged.
func KindOf(err error) Kind {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
