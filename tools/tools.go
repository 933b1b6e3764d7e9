package tools

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/davidmey/tern/config"
	"github.com/davidmey/tern/errors"
	"github.com/davidmey/tern/tools/mcp"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// InputSchema returns the JSON-schema object describing Execute's args.
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds all available tools, including tools discovered from
// configured MCP servers.
type ToolRegistry struct {
	tools      map[string]Tool
	mcpClients map[string]*mcp.MCPClient
	logger     *slog.Logger
}

// NewToolRegistry builds the registry of built-in tools rooted at the
// workspace directory, then connects any configured MCP servers.
func NewToolRegistry(cfg *config.Config, workspace string, logger *slog.Logger) *ToolRegistry {
	r := &ToolRegistry{
		tools:      make(map[string]Tool),
		mcpClients: make(map[string]*mcp.MCPClient),
		logger:     logger,
	}

	r.Register(&ReadFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&WriteFileTool{fsAccess: &cfg.FilesystemAccess})
	r.Register(&ExecuteCommandTool{workspace: workspace, allowedCommands: cfg.AllowedCommands})
	r.Register(&WebSearchTool{})
	r.Register(&FetchWebTool{})
	r.Register(NewSandboxTool(workspace, cfg.SandboxImage))

	for _, server := range cfg.AdditionalMCPServers {
		client, err := mcp.NewMCPClient(server.Name, server.Command, server.Args, logger)
		if err != nil {
			logger.Warn("failed to start MCP server", "server", server.Name, "error", err)
			continue
		}
		r.mcpClients[server.Name] = client
		for _, t := range client.Tools() {
			r.Register(t)
		}
	}

	return r
}

func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// GetActiveTools returns the tool instances for a given toolset. Entries may
// use glob patterns (e.g. "gopls.*") to select groups of MCP tools.
func (r *ToolRegistry) GetActiveTools(ts *config.Toolset) ([]Tool, error) {
	var activeTools []Tool
	seen := make(map[string]bool)
	for _, toolName := range ts.Tools {
		if strings.ContainsAny(toolName, "*?[") {
			matched := false
			for name, t := range r.tools {
				if ok, _ := path.Match(toolName, name); ok && !seen[name] {
					activeTools = append(activeTools, t)
					seen[name] = true
					matched = true
				}
			}
			if !matched {
				r.logger.Warn("toolset pattern matched no tools", "pattern", toolName, "toolset", ts.Name)
			}
			continue
		}

		t, ok := r.GetTool(toolName)
		if !ok {
			return nil, errors.New("tool '%s' from toolset '%s' is not registered", toolName, ts.Name)
		}
		if !seen[toolName] {
			activeTools = append(activeTools, t)
			seen[toolName] = true
		}
	}
	return activeTools, nil
}

// Close releases external resources: MCP server subprocesses and any
// sandbox containers created during the session.
func (r *ToolRegistry) Close() {
	for name, client := range r.mcpClients {
		if err := client.Stop(); err != nil {
			r.logger.Warn("failed to stop MCP server", "server", name, "error", err)
		}
	}
	for _, t := range r.tools {
		if closer, ok := t.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("failed to close tool", "tool", t.Name(), "error", err)
			}
		}
	}
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, errors.New("invalid glob pattern '%s': %v", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}
	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fall back to literal comparison for an invalid regex.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
