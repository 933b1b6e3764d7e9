package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/davidmey/tern/agent"
	"github.com/davidmey/tern/session"
)

// Terminal is the interactive CLI front end for the agent.
type Terminal struct {
	agent     *agent.Agent
	verbosity agent.ToolVerbosity
	reader    *bufio.Reader
}

// New wires a terminal onto the agent, installing callbacks that print
// conversation traffic according to the chosen verbosity.
func New(a *agent.Agent, verbosity agent.ToolVerbosity) *Terminal {
	t := &Terminal{
		agent:     a,
		verbosity: verbosity,
		reader:    bufio.NewReader(os.Stdin),
	}
	a.Callbacks = agent.Callbacks{
		OnAssistantMessage: func(message string) {
			fmt.Printf("tern: %s\n", message)
		},
		OnToolCall: func(call session.ContentBlock) {
			switch t.verbosity {
			case agent.ToolVerbosityAll:
				fmt.Printf("tern wants to call tool `%s` with args: %v\n", call.Name, call.Input)
			case agent.ToolVerbosityInfo:
				fmt.Printf("tern wants to call tool `%s`\n", call.Name)
			}
		},
		OnToolResult: func(call session.ContentBlock, result string, isError bool) {
			if t.verbosity != agent.ToolVerbosityAll {
				return
			}
			if isError {
				fmt.Printf("Tool `%s` failed: %s\n", call.Name, result)
				return
			}
			fmt.Printf("Tool `%s` output: %s\n", call.Name, result)
		},
		ShouldExecuteTool: func(call session.ContentBlock) bool {
			fmt.Printf("Allow tool `%s`? (y/n): ", call.Name)
			answer, err := t.reader.ReadString('\n')
			if err != nil {
				return false
			}
			return strings.TrimSpace(strings.ToLower(answer)) == "y"
		},
		OnCompaction: func(reason string) {
			fmt.Printf("[compacted conversation history: %s]\n", reason)
		},
		OnWarning: func(warning string) {
			fmt.Printf("Warning: %s\n", warning)
		},
	}
	return t
}

// Run drives the interactive session. A pending interruption from a resumed
// session is finished before anything else; then an optional initial prompt
// from the command line runs, and finally the prompt loop takes over until
// EOF or an exit command.
//
// Ctrl-C cancels the in-flight turn. The session log stays resumable, so
// the terminal exits and points the user at the resume flag instead of
// continuing with a half-finished turn in memory.
func (t *Terminal) Run(ctx context.Context, initialPrompt string, pending session.Pending) error {
	if pending.Kind != session.PendingNone {
		fmt.Println("Finishing the interrupted turn...")
		done, err := t.runTurn(ctx, func(tctx context.Context) (*agent.Outcome, error) {
			return t.agent.Resume(tctx, pending)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}

	if initialPrompt != "" {
		done, err := t.runTurn(ctx, func(tctx context.Context) (*agent.Outcome, error) {
			return t.agent.Run(tctx, initialPrompt)
		})
		if err != nil || done {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}

		done, err := t.runTurn(ctx, func(tctx context.Context) (*agent.Outcome, error) {
			return t.agent.Run(tctx, input)
		})
		if err != nil {
			fmt.Printf("Error: %+v\n", err)
			continue
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

// runTurn executes one turn under an interrupt-aware context. The returned
// bool reports whether the terminal should stop: true after an interrupt,
// because the turn's tail now lives only in the log and must be resumed.
func (t *Terminal) runTurn(ctx context.Context, run func(context.Context) (*agent.Outcome, error)) (bool, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	outcome, err := run(turnCtx)
	if err != nil {
		if turnCtx.Err() != nil {
			fmt.Printf("\nInterrupted. Resume this session later with -r %s\n", t.agent.Session.Name)
			return true, nil
		}
		return false, err
	}
	if outcome != nil && outcome.StopReason == agent.StopMaxTurns {
		fmt.Println("tern: stopped after reaching the step limit for this turn.")
	}
	return false, nil
}
