//go:build !windows

package cli_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testBackend runs script with bash. Stdin turns are the plain text of the
// turn; stdout lines are small JSON objects with a "kind" discriminator.
type testBackend struct {
	script string
	argsFn func(cfg agentpipe.Config, promptFile string)
}

func (b *testBackend) Binary() string { return "bash" }

func (b *testBackend) Args(cfg agentpipe.Config, promptFile string) ([]string, error) {
	if b.argsFn != nil {
		b.argsFn(cfg, promptFile)
	}
	return []string{"-c", b.script}, nil
}

func (b *testBackend) FormatTurn(msgs ...agentpipe.UserMessage) ([]byte, error) {
	var parts []string
	for _, m := range msgs {
		for _, c := range m.Content {
			if c.Type == agentpipe.ContentText {
				parts = append(parts, c.Text)
			}
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty turn")
	}
	return []byte(strings.Join(parts, " ")), nil
}

type wireLine struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
}

func (b *testBackend) ParseLine(line string) (cli.Event, error) {
	if strings.TrimSpace(line) == "" {
		return cli.Event{}, cli.ErrSkipLine
	}
	var w wireLine
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return cli.Event{}, err
	}
	ev := cli.Event{Type: w.Kind, Raw: json.RawMessage(line)}
	switch w.Kind {
	case "init":
		ev.Kind = cli.EventSystemInit
		ev.Init = &agentpipe.SessionStarted{SessionID: w.SessionID, Model: "test-model"}
	case "assistant":
		ev.Kind = cli.EventAssistant
		ev.Messages = []agentpipe.Message{{Type: agentpipe.MessageText, Content: w.Text}}
	case "summary":
		ev.Kind = cli.EventSummary
		ev.Summary = w.Text
	case "result":
		ev.Kind = cli.EventResult
		ev.Result = &agentpipe.TurnResult{IsError: w.IsError, Result: w.Result}
	}
	return ev, nil
}

// exitBackend adds an exit directive to testBackend.
type exitBackend struct {
	testBackend
}

func (b *exitBackend) ExitDirective() []byte { return []byte("EXIT") }

// Fake agents.
const (
	// oneShotAgent answers a single turn and exits.
	oneShotAgent = `read -r line
echo '{"kind":"init","session_id":"agent-1"}'
printf '{"kind":"assistant","text":"%s"}\n' "$line"
echo '{"kind":"result","result":"done"}'`

	// echoAgent answers every turn with its text until stdin closes.
	echoAgent = `while IFS= read -r line; do
  printf '{"kind":"assistant","text":"%s"}\n' "$line"
  echo '{"kind":"result","result":"ok"}'
done`

	// exitAwareAgent is echoAgent that leaves on an EXIT line.
	exitAwareAgent = `while IFS= read -r line; do
  [ "$line" = "EXIT" ] && exit 0
  printf '{"kind":"assistant","text":"%s"}\n' "$line"
  echo '{"kind":"result","result":"ok"}'
done`

	// stubbornAgent ignores stdin and never exits on its own.
	stubbornAgent = `trap '' TERM; sleep 30`
)

func newClient(t *testing.T, b cli.Backend, opts ...cli.ClientOption) *cli.Client {
	t.Helper()
	base := []cli.ClientOption{
		cli.WithWorkDir(t.TempDir()),
		cli.WithPollInterval(20 * time.Millisecond),
		cli.WithShutdownTimeout(2 * time.Second),
	}
	c := cli.New(b, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func interactive() agentpipe.Config {
	return agentpipe.Config{Mode: agentpipe.ModeInteractive}
}

// collect reads ch until it closes.
func collect(t *testing.T, ch <-chan agentpipe.Message) []agentpipe.Message {
	t.Helper()
	var msgs []agentpipe.Message
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		case <-timeout:
			t.Fatalf("timed out collecting output; got %d messages", len(msgs))
			return msgs
		}
	}
}

// untilResult reads ch up to and including the next TurnResult.
func untilResult(t *testing.T, ch <-chan agentpipe.Message) []agentpipe.Message {
	t.Helper()
	var msgs []agentpipe.Message
	timeout := time.After(10 * time.Second)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				t.Fatalf("output closed before turn result; got %v", msgs)
			}
			msgs = append(msgs, m)
			if m.Type == agentpipe.MessageTurnResult {
				return msgs
			}
		case <-timeout:
			t.Fatalf("timed out waiting for turn result; got %v", msgs)
			return msgs
		}
	}
}

func texts(msgs []agentpipe.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Type == agentpipe.MessageText {
			out = append(out, m.Content)
		}
	}
	return out
}
