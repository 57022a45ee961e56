//go:build ignore

// Command mock-claude simulates Claude Code in stream-json mode for
// integration tests. Every stdin turn is answered with a fixed event
// sequence chosen by the turn's text:
//
//	/exit  exit 0
//	fail   assistant text, then an error result
//	args   the command line as assistant text
//	other  thinking, text echo, tool call, tool result, result
//
// A system/init event precedes the first answer.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type turn struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func emit(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mock-claude:", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}

func text(s string) map[string]any {
	return map[string]any{"type": "text", "text": s}
}

func assistant(blocks ...map[string]any) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role":    "assistant",
			"content": blocks,
			"usage":   map[string]any{"input_tokens": 3, "output_tokens": 5},
		},
	}
}

func result(isError bool, s string) map[string]any {
	subtype := "success"
	if isError {
		subtype = "error_during_execution"
	}
	return map[string]any{
		"type":        "result",
		"subtype":     subtype,
		"is_error":    isError,
		"result":      s,
		"session_id":  "mock-session",
		"num_turns":   1,
		"duration_ms": 12,
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
	}
}

func main() {
	fmt.Fprintln(os.Stderr, "mock-claude: ready")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	initialized := false
	for scanner.Scan() {
		var t turn
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil || t.Type != "user" {
			fmt.Fprintln(os.Stderr, "mock-claude: bad input:", scanner.Text())
			continue
		}
		var parts []string
		for _, c := range t.Message.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text)
			}
		}
		prompt := strings.Join(parts, " ")

		if prompt == "/exit" {
			os.Exit(0)
		}
		if !initialized {
			emit(map[string]any{
				"type":        "system",
				"subtype":     "init",
				"session_id":  "mock-session",
				"model":       "mock-model",
				"tools":       []string{"Read", "Bash"},
				"mcp_servers": []map[string]any{{"name": "files", "status": "connected"}},
			})
			initialized = true
		}

		switch prompt {
		case "fail":
			emit(assistant(text("trying")))
			emit(result(true, "provider error"))
		case "args":
			emit(assistant(text(strings.Join(os.Args[1:], " "))))
			emit(result(false, "ok"))
		default:
			emit(assistant(map[string]any{"type": "thinking", "thinking": "considering"}))
			emit(assistant(text("echo: " + prompt)))
			emit(assistant(map[string]any{
				"type": "tool_use", "id": "toolu_1", "name": "Read",
				"input": map[string]any{"path": "a.txt"},
			}))
			emit(map[string]any{
				"type": "user",
				"message": map[string]any{
					"role": "user",
					"content": []map[string]any{{
						"type": "tool_result", "tool_use_id": "toolu_1", "content": "file contents",
					}},
				},
			})
			emit(result(false, "echo: "+prompt))
		}
	}
}
