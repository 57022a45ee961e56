package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/cmd/agentpipe/internal/display"
)

// exitProbe bounds how long a failed turn waits for the agent's exit status.
const exitProbe = time.Second

func chatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Hold an interactive conversation with one agent process",
		Long: "Start an Interactive session and send each line read from stdin " +
			"as a turn. Type 'exit' or press Ctrl+D to quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := display.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return chat(cmd.Context(), flags, cmd.InOrStdin(), p)
		},
	}
}

func chat(parent context.Context, flags *rootFlags, in io.Reader, p *display.Printer) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := flags.sessionConfig(agentpipe.ModeInteractive)
	if err != nil {
		return err
	}
	client, err := flags.newClient()
	if err != nil {
		return err
	}
	if err := client.Start(ctx, cfg); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer func() {
		err = errors.Join(err, shutdown(client))
	}()

	out, err := client.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	scanner := bufio.NewScanner(in)
	p.Prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			p.Prompt()
			continue
		case "exit", "quit":
			p.Bye()
			return nil
		}
		err := agentpipe.RunTurn(ctx, client, out, func(m agentpipe.Message) error {
			p.Message(m)
			return nil
		}, agentpipe.TextMessage(line))
		if err != nil {
			waitCtx, cancel := context.WithTimeout(ctx, exitProbe)
			werr := client.Wait(waitCtx)
			cancel()
			if werr != nil && waitCtx.Err() == nil {
				return fmt.Errorf("agent exited: %w", werr)
			}
			return err
		}
		p.Prompt()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	p.Bye()
	return nil
}
