package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
	"github.com/dmora/agentpipe/engine/cli/claude"
)

const stopTimeout = 5 * time.Second

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath     string
	model          string
	binary         string
	workDir        string
	systemPrompt   string
	resume         string
	permissionMode string
	logLevel       string
	verbose        bool
}

func (f *rootFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML session config file")
	pf.StringVarP(&f.model, "model", "m", "", "Model to use (overrides config)")
	pf.StringVar(&f.binary, "binary", "", "Agent executable (default: claude on PATH)")
	pf.StringVarP(&f.workDir, "workdir", "C", "", "Working directory of the agent")
	pf.StringVar(&f.systemPrompt, "system-prompt", "", "System prompt (overrides config)")
	pf.StringVar(&f.resume, "resume", "", "Resume an existing session id")
	pf.StringVar(&f.permissionMode, "permission-mode", "", "Permission mode: default, acceptEdits, bypassPermissions, plan")
	pf.StringVar(&f.logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error")
	pf.BoolVar(&f.verbose, "verbose", false, "Enable the agent's verbose output")
}

// sessionConfig loads the config file, if any, and applies flag overrides.
func (f *rootFlags) sessionConfig(mode agentpipe.Mode) (agentpipe.Config, error) {
	var cfg agentpipe.Config
	if f.configPath != "" {
		loaded, err := agentpipe.LoadConfig(f.configPath)
		if err != nil {
			return agentpipe.Config{}, err
		}
		cfg = loaded
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.systemPrompt != "" {
		cfg.SystemPrompt = f.systemPrompt
	}
	if f.resume != "" {
		cfg.ResumeID = f.resume
	}
	if f.permissionMode != "" {
		cfg.PermissionMode = agentpipe.PermissionMode(f.permissionMode)
	}
	if f.verbose {
		cfg.Verbose = true
	}
	cfg.Mode = mode
	return cfg, cfg.Validate()
}

// newClient builds a client logging to stderr at the requested level.
func (f *rootFlags) newClient() (*cli.Client, error) {
	logger, err := newLogger(f.logLevel)
	if err != nil {
		return nil, err
	}
	return cli.New(claude.New(),
		cli.WithBinary(f.binary),
		cli.WithWorkDir(f.workDir),
		cli.WithLogger(logger),
	), nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// shutdown stops the client on a fresh context so an interrupted command
// still reaps the agent.
func shutdown(client *cli.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return client.Shutdown(ctx)
}

func exitCode(err error) (int, bool) {
	if errors.Is(err, context.Canceled) {
		return 130, true
	}
	code, ok := agentpipe.ExitCode(err)
	if !ok || code <= 0 {
		return 0, false
	}
	return code, true
}
