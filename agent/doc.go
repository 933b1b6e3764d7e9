// Package agent implements the turn engine: the loop that alternates model
// calls and tool execution over a durable session until the model stops
// asking for tools.
//
// # Architecture
//
// The package splits the engine into three cooperating pieces:
//
//   - Agent: drives turns. Run starts a turn from user input; Resume
//     re-enters a turn reconstructed from the session log after a crash.
//   - Estimator: decides whether the next model request fits the context
//     window, preferring the transport's own token counter and falling back
//     to a conservative local heuristic.
//   - Compactor: runs before every model call. When the request would not
//     fit, it asks the model to summarize the recent conversation, replaces
//     the transcript with the summary, and re-appends the pending input so
//     the turn continues seamlessly.
//
// Every state transition is committed to the session log before the
// in-memory transcript advances, which is what makes Resume exact.
//
// # Usage
//
//	a, err := agent.New(cfg, sess, registry, toolset, mode, client, workspace, logger)
//	if err != nil {
//	    // handle error
//	}
//	a.Callbacks = agent.Callbacks{
//	    OnAssistantMessage: func(text string) { fmt.Println(text) },
//	}
//	outcome, err := a.Run(ctx, "user message")
//
// # Modes
//
//   - ModeAuto: tools execute without confirmation.
//   - ModePrompt: every tool call is routed through ShouldExecuteTool
//     first; a declined call becomes an error result the model sees.
//
// # Callbacks
//
// Callbacks decouple the engine from presentation. The terminal front end
// (agent/terminal) installs printing callbacks; tests install recording
// ones. All callbacks are optional.
package agent
