package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/davidmey/tern/errors"
)

// ExecuteCommandTool runs allowlisted shell commands rooted in the workspace.
type ExecuteCommandTool struct {
	workspace       string
	allowedCommands []string
}

func (t *ExecuteCommandTool) Name() string { return "execute_command" }

func (t *ExecuteCommandTool) Description() string {
	desc := "Executes a shell command in the coding workspace. Use for file operations, running scripts, git commands, building projects, etc."
	if len(t.allowedCommands) == 0 {
		return desc + " No commands are currently allowed."
	}
	allowedList := "Allowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}
	return desc + "\n" + allowedList
}

func (t *ExecuteCommandTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := args["command"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'command' argument")
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return "", err
	}
	if !allowed {
		name := command
		if fields := strings.Fields(command); len(fields) > 0 {
			name = fields[0]
		}
		return "", errors.New("command '%s' is not in the list of allowed commands", name)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = t.workspace

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	returncode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returncode = exitErr.ExitCode()
		} else {
			return "", errors.Wrapf(runErr, "command execution failed")
		}
	}

	// Result carries stdout/stderr/returncode so the model can see failures
	// without the call itself erroring.
	result, err := json.Marshal(map[string]any{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returncode,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize command result")
	}
	return string(result), nil
}
