package clitest

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
)

// RunBackendTests runs all applicable compliance suites for a [cli.Backend].
// The optional [cli.Exiter] capability is discovered via type assertion,
// mirroring how the client resolves it at shutdown.
func RunBackendTests(t *testing.T, factory func() cli.Backend) {
	t.Helper()

	t.Run("Args", func(t *testing.T) {
		RunArgsTests(t, factory)
	})
	t.Run("FormatTurn", func(t *testing.T) {
		RunFormatTurnTests(t, factory)
	})
	t.Run("ParseLine", func(t *testing.T) {
		RunParserTests(t, factory)
	})

	if _, ok := factory().(cli.Exiter); ok {
		t.Run("Exiter", func(t *testing.T) {
			RunExiterTests(t, func() cli.Exiter { return factory().(cli.Exiter) })
		})
	}
}

// RunArgsTests tests the command-line contract of Binary and Args.
// The factory is called once per subtest to ensure fresh backend state.
func RunArgsTests(t *testing.T, factory func() cli.Backend) {
	t.Helper()

	t.Run("BinaryNonEmpty", func(t *testing.T) {
		b := factory()
		if b.Binary() == "" {
			t.Error("binary must be non-empty")
		}
		if strings.Contains(b.Binary(), "\x00") {
			t.Error("binary must not contain null bytes")
		}
	})

	t.Run("ZeroConfig", func(t *testing.T) {
		args, err := factory().Args(agentpipe.Config{}, "")
		if err != nil {
			t.Fatalf("Args(zero config) error: %v", err)
		}
		if args == nil {
			t.Error("args must be non-nil")
		}
	})

	t.Run("NoNullBytesInArgs", func(t *testing.T) {
		args, err := factory().Args(agentpipe.Config{
			Model:        "test-model",
			AllowedTools: []string{"Read"},
			Mode:         agentpipe.ModeInteractive,
		}, "/tmp/prompt.txt")
		if err != nil {
			t.Fatalf("Args error: %v", err)
		}
		if i, ok := indexNullArg(args); ok {
			t.Errorf("args[%d] contains null bytes", i)
		}
	})

	t.Run("NullByteModelRejected", func(t *testing.T) {
		args, err := factory().Args(agentpipe.Config{Model: "gpt\x00evil"}, "")
		if err == nil {
			t.Errorf("Args with null-byte model returned %v, want error", args)
		}
	})

	t.Run("InvalidConfigRejected", func(t *testing.T) {
		if _, err := factory().Args(agentpipe.Config{MaxTurns: -1}, ""); err == nil {
			t.Error("Args with invalid config should return an error")
		}
	})

	t.Run("ResumeIDPassed", func(t *testing.T) {
		const id = "ses_abcdefghij1234567890abcd"
		args, err := factory().Args(agentpipe.Config{ResumeID: id}, "")
		if err != nil {
			t.Fatalf("Args error: %v", err)
		}
		if !containsArg(args, id) {
			t.Errorf("args %v must contain resume ID %q", args, id)
		}
	})
}

// RunFormatTurnTests tests the outbound turn contract: one JSON value,
// no line terminator, every message merged into that single line.
func RunFormatTurnTests(t *testing.T, factory func() cli.Backend) {
	t.Helper()

	t.Run("SingleLineJSON", func(t *testing.T) {
		line, err := factory().FormatTurn(agentpipe.TextMessage("hello\nworld"))
		if err != nil {
			t.Fatalf("FormatTurn error: %v", err)
		}
		if bytes.ContainsAny(line, "\r\n") {
			t.Errorf("turn %q contains a line terminator", line)
		}
		if !json.Valid(line) {
			t.Errorf("turn %q is not valid JSON", line)
		}
	})

	t.Run("MultipleMessagesOneLine", func(t *testing.T) {
		line, err := factory().FormatTurn(agentpipe.TextMessage("a"), agentpipe.TextMessage("b"))
		if err != nil {
			t.Fatalf("FormatTurn error: %v", err)
		}
		if bytes.ContainsAny(line, "\r\n") || !json.Valid(line) {
			t.Errorf("merged turn %q is not a single JSON line", line)
		}
	})

	t.Run("EmptyTurnRejected", func(t *testing.T) {
		if _, err := factory().FormatTurn(); err == nil {
			t.Error("FormatTurn() with no messages should return an error")
		}
	})

	t.Run("ImageEncodes", func(t *testing.T) {
		png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
		msg := agentpipe.UserMessage{Content: []agentpipe.Content{
			agentpipe.TextContent("look"),
			agentpipe.ImageContent(png, ""),
		}}
		line, err := factory().FormatTurn(msg)
		if err != nil {
			t.Fatalf("FormatTurn error: %v", err)
		}
		if !json.Valid(line) {
			t.Errorf("image turn %q is not valid JSON", line)
		}
	})
}

// RunParserTests tests the ParseLine contract.
// Assertions use [errors.Is] to match how the client checks parser results.
// The factory is called once per subtest to ensure fresh backend state.
func RunParserTests(t *testing.T, factory func() cli.Backend) {
	t.Helper()
	runParserErrors(t, factory)
	runParserRobustness(t, factory)
}

// runParserErrors tests error-path semantics: ErrSkipLine vs real errors.
func runParserErrors(t *testing.T, factory func() cli.Backend) {
	t.Helper()

	t.Run("EmptyLineReturnsErrSkipLine", func(t *testing.T) {
		_, err := factory().ParseLine("")
		if !errors.Is(err, cli.ErrSkipLine) {
			t.Errorf("ParseLine(\"\") error = %v, want ErrSkipLine", err)
		}
	})

	t.Run("WhitespaceOnlyReturnsErrSkipLine", func(t *testing.T) {
		_, err := factory().ParseLine("   ")
		if !errors.Is(err, cli.ErrSkipLine) {
			t.Errorf("ParseLine(\"   \") error = %v, want ErrSkipLine", err)
		}
	})

	t.Run("InvalidJSONReturnsNonSkipError", func(t *testing.T) {
		_, err := factory().ParseLine("not json")
		if err == nil {
			t.Error("ParseLine(\"not json\") should return an error")
		}
		if errors.Is(err, cli.ErrSkipLine) {
			t.Error("ParseLine(\"not json\") should return a non-skip error, got ErrSkipLine")
		}
	})

	t.Run("UnknownTypeIsNotAnError", func(t *testing.T) {
		ev, err := factory().ParseLine(`{"type":"from_the_future","x":1}`)
		if err != nil {
			t.Fatalf("ParseLine(unknown type) error = %v, want nil", err)
		}
		if ev.Kind != cli.EventUnknown {
			t.Errorf("Kind = %s, want %s", ev.Kind, cli.EventUnknown)
		}
	})
}

// garbageCorpus is a fixed set of adversarial inputs used by robustness tests.
var garbageCorpus = []string{
	"\x00",
	strings.Repeat("x", 65536),
	"{{{",
	"\xff\xfe",
	`{"":null}`,
	"null",
	"[]",
}

// runParserRobustness tests no-panic guarantees and guard invariants.
func runParserRobustness(t *testing.T, factory func() cli.Backend) {
	t.Helper()

	t.Run("TypeFieldWrongTypeNoPanic", func(t *testing.T) { //nolint:revive // no assertions, panics are the failure signal
		b := factory()
		for _, input := range []string{`{"type":99}`, `{"type":true}`, `{"type":[]}`} {
			_, _ = b.ParseLine(input)
		}
	})

	t.Run("GarbageNoPanic", func(t *testing.T) { //nolint:revive // no assertions, panics are the failure signal
		b := factory()
		for _, input := range garbageCorpus {
			_, _ = b.ParseLine(input)
		}
	})

	t.Run("ValidEventHasType", func(t *testing.T) {
		// Guard invariant: if any input accidentally parses into a
		// valid Event (nil error), that event must carry a non-empty Type.
		b := factory()
		corpus := make([]string, 0, len(garbageCorpus)+2)
		corpus = append(corpus, garbageCorpus...)
		corpus = append(corpus, `{"type":99}`, `{"type":"unknown"}`)
		for _, input := range corpus {
			ev, err := b.ParseLine(input)
			if err == nil && ev.Type == "" {
				t.Errorf("ParseLine(%q) returned event with empty Type and nil error", input)
			}
		}
	})
}

// RunExiterTests tests the [cli.Exiter] contract.
func RunExiterTests(t *testing.T, factory func() cli.Exiter) {
	t.Helper()

	t.Run("DirectiveIsOneLine", func(t *testing.T) {
		d := factory().ExitDirective()
		if len(d) == 0 {
			t.Fatal("exit directive must be non-empty")
		}
		if bytes.ContainsAny(d, "\r\n") {
			t.Errorf("exit directive %q contains a line terminator", d)
		}
	})

	t.Run("DirectiveNotShared", func(t *testing.T) {
		e := factory()
		d := e.ExitDirective()
		orig := d[0]
		d[0] ^= 0xFF
		if again := e.ExitDirective(); again[0] != orig {
			t.Error("ExitDirective returns a shared buffer")
		}
	})
}

// containsArg reports whether args contains s as an exact element.
func containsArg(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

// indexNullArg returns the index of the first arg containing a null byte.
func indexNullArg(args []string) (int, bool) {
	for i, a := range args {
		if strings.Contains(a, "\x00") {
			return i, true
		}
	}
	return 0, false
}
