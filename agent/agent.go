package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/davidmey/tern/config"
	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/llm"
	"github.com/davidmey/tern/session"
	"github.com/davidmey/tern/tools"
)

// Mode controls whether tool calls run unattended or require confirmation.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModePrompt Mode = "prompt"
)

// ToolVerbosity controls how much tool traffic a front end displays.
type ToolVerbosity string

const (
	ToolVerbosityNone ToolVerbosity = "none"
	ToolVerbosityInfo ToolVerbosity = "info"
	ToolVerbosityAll  ToolVerbosity = "all"
)

// Turn stop reasons.
const (
	StopEnd      = "end"
	StopMaxTurns = "max_turns"
)

// Outcome is the result of one completed turn.
type Outcome struct {
	Text       string
	StopReason string
}

// Callbacks let a front end observe and steer a turn without the engine
// knowing anything about presentation. All fields are optional.
type Callbacks struct {
	OnAssistantMessage func(text string)
	OnToolCall         func(call session.ContentBlock)
	OnToolResult       func(call session.ContentBlock, result string, isError bool)
	// ShouldExecuteTool is consulted in prompt mode before every tool call.
	// Returning false turns the call into a declined-by-user error result.
	ShouldExecuteTool func(call session.ContentBlock) bool
	OnCompaction      func(reason string)
	OnWarning         func(msg string)
}

// Agent drives turns: it alternates model calls and tool dispatch over a
// durable session until the model stops asking for tools.
type Agent struct {
	Config         *config.Config
	Session        *session.Session
	Client         llm.Client
	AvailableTools []tools.Tool
	Mode           Mode
	Callbacks      Callbacks

	toolsByName map[string]tools.Tool
	system      string
	compactor   *Compactor
	logger      *slog.Logger
}

func New(cfg *config.Config, sess *session.Session, registry *tools.ToolRegistry, toolset string, mode Mode, client llm.Client, workspace string, logger *slog.Logger) (*Agent, error) {
	ts, err := cfg.GetToolset(toolset)
	if err != nil {
		return nil, err
	}
	activeTools, err := registry.GetActiveTools(ts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]tools.Tool, len(activeTools))
	for _, t := range activeTools {
		byName[t.Name()] = t
	}

	system := systemPrompt(workspace)
	a := &Agent{
		Config:         cfg,
		Session:        sess,
		Client:         client,
		AvailableTools: activeTools,
		Mode:           mode,
		toolsByName:    byName,
		system:         system,
		logger:         logger,
	}
	a.compactor = &Compactor{
		client:    client,
		estimator: NewEstimator(client, cfg.MaxContextTokens, cfg.MaxOutputTokens, logger),
		sess:      sess,
		system:    system,
		maxOutput: cfg.MaxOutputTokens,
		logger:    logger,
	}
	return a, nil
}

func systemPrompt(workspace string) string {
	return fmt.Sprintf(`You are a coding assistant working in the directory %s.
You can run shell commands, read and write files, search the web, and fetch documentation.
Use tools to verify your work instead of assuming, and explain what you are doing as you go.`, workspace)
}

// Run executes one full turn. The input opens the turn; the loop then
// alternates model calls and tool dispatch until the model produces a
// response with no tool calls or the step ceiling is reached.
func (a *Agent) Run(ctx context.Context, input string) (*Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New("cannot start a turn with empty input")
	}
	if err := a.Session.CommitTurnStart(input); err != nil {
		return nil, err
	}
	return a.loop(ctx)
}

// Resume re-enters an interrupted turn. Pending tool calls run before any
// model call, exactly the calls whose results were never committed; a
// pending model call re-enters the loop directly. With nothing pending the
// session simply waits for new input.
func (a *Agent) Resume(ctx context.Context, pending session.Pending) (*Outcome, error) {
	switch pending.Kind {
	case session.PendingNone:
		return nil, nil
	case session.PendingToolCalls:
		a.logger.Info("resuming interrupted turn", "pending_tool_calls", len(pending.Calls))
		results := a.dispatch(ctx, pending.Calls)
		if err := a.Session.CommitToolResults(results); err != nil {
			return nil, err
		}
		return a.loop(ctx)
	case session.PendingModelCall:
		a.logger.Info("resuming interrupted turn at model call")
		return a.loop(ctx)
	default:
		return nil, errors.New("unknown pending state %d", pending.Kind)
	}
}

func (a *Agent) loop(ctx context.Context) (*Outcome, error) {
	for step := 0; step < a.Config.MaxSteps; step++ {
		req := a.buildRequest()

		reason, err := a.compactor.CheckAndCompact(ctx, req)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			if a.Callbacks.OnCompaction != nil {
				a.Callbacks.OnCompaction(reason)
			}
			req = a.buildRequest()
		}

		resp, err := a.Client.Complete(ctx, req)
		if err != nil {
			return nil, errors.Wrapf(err, "model call failed")
		}
		if err := a.Session.CommitAssistantStep(resp.Content); err != nil {
			return nil, err
		}

		msg := session.Assistant(resp.Content)
		text := msg.Text()
		if text != "" && a.Callbacks.OnAssistantMessage != nil {
			a.Callbacks.OnAssistantMessage(text)
		}
		if resp.StopReason == llm.StopMaxTokens && a.Callbacks.OnWarning != nil {
			a.Callbacks.OnWarning("model output was truncated at the output token limit")
		}

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			if err := a.Session.CommitTurnEnd(StopEnd); err != nil {
				return nil, err
			}
			return &Outcome{Text: text, StopReason: StopEnd}, nil
		}

		results := a.dispatch(ctx, calls)
		if err := a.Session.CommitToolResults(results); err != nil {
			return nil, err
		}
	}

	a.logger.Warn("turn hit the step ceiling", "max_steps", a.Config.MaxSteps)
	if err := a.Session.CommitTurnEnd(StopMaxTurns); err != nil {
		return nil, err
	}
	return &Outcome{StopReason: StopMaxTurns}, nil
}

func (a *Agent) buildRequest() llm.Request {
	schemas := make([]llm.ToolSchema, 0, len(a.AvailableTools))
	for _, t := range a.AvailableTools {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return llm.Request{
		System:    a.system,
		Tools:     schemas,
		Messages:  a.Session.Transcript.Messages(),
		MaxTokens: a.Config.MaxOutputTokens,
	}
}

// dispatch executes tool calls sequentially, in the order the model issued
// them. Failures never abort the turn; they travel back to the model as
// error-marked results.
func (a *Agent) dispatch(ctx context.Context, calls []session.ContentBlock) []session.ContentBlock {
	results := make([]session.ContentBlock, 0, len(calls))
	for _, call := range calls {
		results = append(results, a.executeCall(ctx, call))
	}
	return results
}

func (a *Agent) executeCall(ctx context.Context, call session.ContentBlock) session.ContentBlock {
	if a.Callbacks.OnToolCall != nil {
		a.Callbacks.OnToolCall(call)
	}
	if a.Mode == ModePrompt && a.Callbacks.ShouldExecuteTool != nil && !a.Callbacks.ShouldExecuteTool(call) {
		return a.errorResult(call, errors.Newk(errors.KindTool, "user declined execution of tool '%s'", call.Name))
	}

	tool, ok := a.toolsByName[call.Name]
	if !ok {
		return a.errorResult(call, errors.Newk(errors.KindTool, "tool '%s' is not available", call.Name))
	}

	a.logger.Log(ctx, config.LevelTrace, "executing tool", "tool", call.Name, "args", call.Input)
	out, err := tool.Execute(ctx, call.Input)
	if err != nil {
		return a.errorResult(call, err)
	}
	if a.Callbacks.OnToolResult != nil {
		a.Callbacks.OnToolResult(call, out, false)
	}
	return session.ToolResultBlock(call.ID, out, false)
}

func (a *Agent) errorResult(call session.ContentBlock, err error) session.ContentBlock {
	a.logger.Warn("tool call failed", "tool", call.Name, "error", err)
	payload, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		payload = []byte(`{"error": "tool failed and its error could not be serialized"}`)
	}
	if a.Callbacks.OnToolResult != nil {
		a.Callbacks.OnToolResult(call, string(payload), true)
	}
	return session.ToolResultBlock(call.ID, string(payload), true)
}
