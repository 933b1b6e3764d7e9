package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/davidmey/tern/errors"
)

// SandboxTool executes commands inside a docker container with the
// workspace mounted. The container is keyed by the workspace mount path:
// the first call creates it, later calls in the session reuse it, and Close
// tears it down.
type SandboxTool struct {
	workspace string
	image     string

	mu        sync.Mutex
	container string // non-empty once the container is running
}

func NewSandboxTool(workspace, image string) *SandboxTool {
	return &SandboxTool{workspace: workspace, image: image}
}

func (t *SandboxTool) Name() string { return "sandbox_exec" }
func (t *SandboxTool) Description() string {
	return "Execute a command in an isolated docker sandbox with the workspace mounted at /workspace. Use for running untrusted or experimental code. The sandbox persists across calls."
}

func (t *SandboxTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to run inside the sandbox",
			},
		},
		"required": []string{"command"},
	}
}

func (t *SandboxTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, ok := args["command"].(string)
	if !ok || strings.TrimSpace(command) == "" {
		return "", errors.New("missing or invalid 'command' argument")
	}

	container, err := t.ensureContainer(ctx)
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "docker", "exec", container, "/bin/sh", "-c", command)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	returncode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			returncode = exitErr.ExitCode()
		} else {
			return "", errors.Wrapf(runErr, "sandbox execution failed")
		}
	}

	result, err := json.Marshal(map[string]any{
		"stdout":     stdout.String(),
		"stderr":     stderr.String(),
		"returncode": returncode,
		"sandbox":    container,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to serialize sandbox result")
	}
	return string(result), nil
}

// ensureContainer starts the per-workspace container on first use, or
// reconnects to one already running under the derived name.
func (t *SandboxTool) ensureContainer(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.container != "" {
		return t.container, nil
	}

	name := containerName(t.workspace)
	if exec.CommandContext(ctx, "docker", "inspect", name).Run() == nil {
		t.container = name
		return name, nil
	}

	cmd := exec.CommandContext(ctx, "docker", "run", "-d",
		"--name", name,
		"-v", t.workspace+":/workspace",
		"-w", "/workspace",
		t.image, "sleep", "infinity")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "failed to start sandbox container. Output:\n%s", string(out))
	}
	t.container = name
	return name, nil
}

// Close removes the sandbox container if this session created or used one.
func (t *SandboxTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.container == "" {
		return nil
	}
	out, err := exec.Command("docker", "rm", "-f", t.container).CombinedOutput()
	t.container = ""
	if err != nil {
		return errors.Wrapf(err, "failed to remove sandbox container. Output:\n%s", string(out))
	}
	return nil
}

// containerName derives a stable name from the mount path so repeated
// sessions over the same workspace share one sandbox identity.
func containerName(workspace string) string {
	sum := sha256.Sum256([]byte(workspace))
	return fmt.Sprintf("tern-sandbox-%s", hex.EncodeToString(sum[:6]))
}
