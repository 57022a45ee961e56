package cli

import (
	"encoding/json"
	"errors"

	"github.com/dmora/agentpipe"
)

// ErrSkipLine is returned by Backend.ParseLine for lines that carry no
// event (blank lines). The client skips them silently.
var ErrSkipLine = errors.New("cli: skip line")

// Backend is the wire protocol of one agent CLI.
//
// The client owns process lifecycle and stream plumbing; the backend only
// translates between the [agentpipe] vocabulary and the agent's command
// line and JSONL events. Wire-format changes stay inside the backend.
type Backend interface {
	// Binary returns the default executable name, resolved on PATH when
	// the client has no explicit binary or interpreter configured.
	Binary() string

	// Args builds the process arguments for cfg. promptFile is the path of
	// the system prompt file written by the client, or "" if none.
	Args(cfg agentpipe.Config, promptFile string) ([]string, error)

	// FormatTurn encodes msgs as a single stdin line.
	FormatTurn(msgs ...agentpipe.UserMessage) ([]byte, error)

	// ParseLine decodes one stdout line. It returns ErrSkipLine for lines
	// without content and a non-nil error for malformed lines; the client
	// logs and skips both.
	ParseLine(line string) (Event, error)
}

// Exiter is an optional Backend capability: a stdin line asking an
// interactive agent to exit on its own. Shutdown sends it before closing
// stdin.
type Exiter interface {
	ExitDirective() []byte
}

// EventKind classifies a decoded stdout event.
type EventKind int

const (
	// EventUnknown is an event the backend does not recognize. Logged and
	// dropped.
	EventUnknown EventKind = iota

	// EventAssistant carries assistant output (Text, Reasoning, ToolCall).
	EventAssistant

	// EventUser carries echoed user input, mostly tool results.
	EventUser

	// EventSummary is informational. Logged only.
	EventSummary

	// EventSystemInit reports the session the agent started.
	EventSystemInit

	// EventResult is the terminal event of a turn.
	EventResult
)

func (k EventKind) String() string {
	switch k {
	case EventAssistant:
		return "assistant"
	case EventUser:
		return "user"
	case EventSummary:
		return "summary"
	case EventSystemInit:
		return "system_init"
	case EventResult:
		return "result"
	default:
		return "unknown"
	}
}

// Event is one decoded stdout line.
type Event struct {
	// Kind classifies the event.
	Kind EventKind

	// Type is the wire discriminator, for logging.
	Type string

	// Messages are the caller-facing messages decoded from the event, in
	// wire order. For EventResult these precede the turn result (usage).
	Messages []agentpipe.Message

	// Init is set for EventSystemInit.
	Init *agentpipe.SessionStarted

	// Result is set for EventResult.
	Result *agentpipe.TurnResult

	// Summary is the text of an EventSummary.
	Summary string

	// Raw is the original line.
	Raw json.RawMessage
}
