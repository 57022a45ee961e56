package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/cmd/agentpipe/internal/display"
	"github.com/dmora/agentpipe/engine/cli"
	"github.com/dmora/agentpipe/filter"
)

func askCmd(flags *rootFlags) *cobra.Command {
	var (
		images []string
		raw    bool
		quiet  bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run a single prompt and print the agent's output",
		Long: "Run a single prompt in OneShot mode. The prompt is taken from the " +
			"arguments, or from stdin when no arguments are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			msg, err := promptMessage(prompt, images)
			if err != nil {
				return err
			}
			p := display.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return ask(cmd.Context(), flags, msg, func(m agentpipe.Message) {
				switch {
				case raw:
					p.Raw(m)
				case quiet:
					if m.Type == agentpipe.MessageTurnResult {
						p.Message(m)
					}
				default:
					p.Message(m)
				}
			})
		},
	}
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "Attach an image file (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print every message with its raw protocol line")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only the final result")
	return cmd
}

func ask(parent context.Context, flags *rootFlags, msg agentpipe.UserMessage, emit func(agentpipe.Message)) (err error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := flags.sessionConfig(agentpipe.ModeOneShot)
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

	out, err := client.Submit(ctx, msg)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	var failed bool
	for m := range filter.Turn(ctx, out) {
		emit(m)
		if m.Type == agentpipe.MessageTurnResult && m.Result != nil && m.Result.IsError {
			failed = true
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := client.Wait(ctx); err != nil {
		return err
	}
	if failed {
		return errors.New("agent reported an error result")
	}
	return nil
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

// promptMessage builds one user turn from text and image files.
func promptMessage(prompt string, images []string) (agentpipe.UserMessage, error) {
	msg := agentpipe.TextMessage(prompt)
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return agentpipe.UserMessage{}, fmt.Errorf("read image: %w", err)
		}
		msg.Content = append(msg.Content, agentpipe.ImageContent(data, ""))
	}
	return msg, nil
}

// Compile-time check that the client can drive RunTurn.
var _ agentpipe.Sender = (*cli.Client)(nil)
