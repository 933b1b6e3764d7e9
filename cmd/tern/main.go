package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davidmey/tern/agent"
	"github.com/davidmey/tern/agent/terminal"
	"github.com/davidmey/tern/config"
	"github.com/davidmey/tern/llm"
	"github.com/davidmey/tern/session"
	"github.com/davidmey/tern/tools"
)

func main() {
	modeFlag := flag.String("m", "", "Execution mode: 'auto' or 'prompt'")
	sessionFlag := flag.String("s", "", "Session name to create or use")
	toolsetFlag := flag.String("t", "", "Toolset to use (defaults to 'default')")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	continueFlag := flag.Bool("c", false, "Continue the most recent session")
	toolVerbosityFlag := flag.String("tool-verbosity", "", "Tool verbosity level: 'none', 'info', or 'all'")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error in configuration: %+v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(level)

	sessionName := *resumeFlag
	if *continueFlag {
		if sessionName != "" {
			fmt.Fprintln(os.Stderr, "Use either -r or -c, not both.")
			os.Exit(1)
		}
		sessionName, err = session.Latest()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding the most recent session: %+v\n", err)
			os.Exit(1)
		}
	}

	var sess *session.Session
	var pending session.Pending
	if sessionName != "" {
		sess, pending, err = session.Resume(sessionName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
		fmt.Printf("Resuming session: %s\n", sessionName)
	} else {
		sessionName = *sessionFlag
		if sessionName == "" {
			sessionName = defaultSessionName()
		}
		sess, err = session.New(sessionName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session '%s': %+v\n", sessionName, err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", sessionName)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
	}()

	if *modeFlag == "" {
		*modeFlag = "prompt"
	}
	var opMode agent.Mode
	switch *modeFlag {
	case "auto":
		opMode = agent.ModeAuto
	case "prompt":
		opMode = agent.ModePrompt
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode '%s'. Must be 'auto' or 'prompt'.\n", *modeFlag)
		os.Exit(1)
	}

	if *toolVerbosityFlag == "" {
		*toolVerbosityFlag = "none"
	}
	var verbosity agent.ToolVerbosity
	switch *toolVerbosityFlag {
	case "none":
		verbosity = agent.ToolVerbosityNone
	case "info":
		verbosity = agent.ToolVerbosityInfo
	case "all":
		verbosity = agent.ToolVerbosityAll
	default:
		fmt.Fprintf(os.Stderr, "Invalid tool verbosity '%s'. Must be 'none', 'info', or 'all'.\n", *toolVerbosityFlag)
		os.Exit(1)
	}

	client, err := newClient(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing %s client: %+v\n", cfg.LLMClient, err)
		os.Exit(1)
	}

	workspace, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving working directory: %+v\n", err)
		os.Exit(1)
	}

	registry := tools.NewToolRegistry(cfg, workspace, logger)
	defer registry.Close()

	a, err := agent.New(cfg, sess, registry, *toolsetFlag, opMode, llm.NewRetryClient(client, logger), workspace, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	initialPrompt := strings.Join(flag.Args(), " ")
	fmt.Println("tern is ready. Type your prompt, /quit to exit.")
	term := terminal.New(a, verbosity)
	if err := term.Run(context.Background(), initialPrompt, pending); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		registry.Close()
		sess.Close()
		os.Exit(1)
	}
}

func newClient(cfg *config.Config) (llm.Client, error) {
	ctx := context.Background()
	switch cfg.LLMClient {
	case "anthropic":
		return llm.NewAnthropicClient(ctx, cfg.Model)
	case "openai":
		return llm.NewOpenAIClient(ctx, cfg.Model)
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.Model)
	case "bedrock":
		return llm.NewBedrockClient(ctx, cfg.Model)
	default:
		return &llm.ScriptedClient{}, nil
	}
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "tern"
	}
	return fmt.Sprintf("%s_%s", filepath.Base(wd), time.Now().Format("2006-01-02_15-04-05"))
}
