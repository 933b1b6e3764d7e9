// Package terminal implements the interactive command-line front end.
//
// It reads prompts from stdin, prints assistant output and tool traffic
// according to the configured verbosity, and asks for confirmation before
// tool calls when the agent runs in prompt mode.
//
// Ctrl-C cancels the turn in flight. Because every committed step is
// already in the session log, the terminal then exits and the session can
// be resumed exactly where it stopped.
//
// # Verbosity
//
//   - None: no tool traffic is shown
//   - Info: tool names are shown as they are called
//   - All: tool names, arguments, and results are shown
package terminal
