// Package display formats agent messages for the agentpipe command.
// It lives under cmd/agentpipe/internal so it is not importable by external code.
package display

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dmora/agentpipe"
)

const (
	contentPreview = 120
	rawPreview     = 200
)

// Printer writes messages to out and errors to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer
}

// New returns a Printer writing to out and errOut.
func New(out, errOut io.Writer) *Printer {
	return &Printer{out: out, errOut: errOut}
}

// Message formats a single message. Usage and unknown infrastructure
// messages are silently ignored.
func (p *Printer) Message(msg agentpipe.Message) {
	switch msg.Type {
	case agentpipe.MessageSessionStarted:
		if msg.Session != nil && msg.Session.SessionID != "" {
			fmt.Fprintf(p.out, "[init]    session %s (%s)\n", msg.Session.SessionID, msg.Session.Model)
		} else {
			fmt.Fprintln(p.out, "[init]    (session started)")
		}
	case agentpipe.MessageReasoning:
		fmt.Fprintf(p.out, "[think]   %s\n", msg.Content)
	case agentpipe.MessageText:
		fmt.Fprintf(p.out, "[text]    %s\n", msg.Content)
	case agentpipe.MessageToolCall:
		fmt.Fprintf(p.out, "[tool]    %s %s\n", toolName(msg), truncate(string(toolInput(msg)), contentPreview))
	case agentpipe.MessageToolCallResult:
		if msg.Tool != nil && msg.Tool.IsError {
			fmt.Fprintf(p.errOut, "[tool!]   %s\n", truncate(msg.Content, contentPreview))
		} else {
			fmt.Fprintf(p.out, "[output]  %s\n", truncate(msg.Content, contentPreview))
		}
	case agentpipe.MessageImage:
		if msg.Image != nil {
			fmt.Fprintf(p.out, "[image]   %s, %d bytes\n", msg.Image.MediaType, len(msg.Image.Data))
		}
	case agentpipe.MessageTurnResult:
		p.result(msg)
	case agentpipe.MessageUsage:
		// silent; totals are shown with the result
	default:
		fmt.Fprintf(p.out, "[%s]  %s\n", msg.Type, msg.Content)
	}
}

func (p *Printer) result(msg agentpipe.Message) {
	res := msg.Result
	if res == nil {
		fmt.Fprintf(p.out, "[result]  %s\n", msg.Content)
		return
	}
	if res.IsError {
		fmt.Fprintf(p.errOut, "[error]   %s: %s\n", res.Subtype, msg.Content)
		return
	}
	fmt.Fprintf(p.out, "[result]  %s\n", msg.Content)
	for _, d := range res.PermissionDenials {
		fmt.Fprintf(p.errOut, "[denied]  %s\n", d.ToolName)
	}
	if res.NumTurns > 0 || res.DurationMs > 0 {
		fmt.Fprintf(p.out, "          %d turn(s), %s\n", res.NumTurns, time.Duration(res.DurationMs)*time.Millisecond)
	}
}

// Raw prints a diagnostic line for every message, showing the parsed
// type, content preview, and raw stdout line.
func (p *Printer) Raw(msg agentpipe.Message) {
	ts := msg.Timestamp.Format(time.TimeOnly + ".000")
	fmt.Fprintf(p.out, "[%s] %-18s %s\n", ts, msg.Type, truncate(msg.Content, contentPreview))
	if len(msg.Raw) > 0 {
		fmt.Fprintf(p.out, "           raw: %s\n", truncate(string(msg.Raw), rawPreview))
	}
}

// Prompt prints the chat input prompt.
func (p *Printer) Prompt() {
	fmt.Fprint(p.out, "\nyou> ")
}

// Bye prints the chat farewell.
func (p *Printer) Bye() {
	fmt.Fprintln(p.out, "\nbye")
}

func toolName(msg agentpipe.Message) string {
	if msg.Tool == nil {
		return ""
	}
	return msg.Tool.Name
}

func toolInput(msg agentpipe.Message) []byte {
	if msg.Tool == nil {
		return nil
	}
	return msg.Tool.Input
}

// truncate shortens s to at most n runes on one line.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
