package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
	"github.com/tidwall/gjson"
)

// Inbound wire shapes. Only the fields the client uses are declared.
type (
	wireBlock struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		Thinking  string          `json:"thinking"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
		Source    *wireSource     `json:"source"`
	}

	wireUsage struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	}

	wireMessage struct {
		Content json.RawMessage `json:"content"`
		Usage   *wireUsage      `json:"usage"`
	}

	wireEnvelope struct {
		Message wireMessage `json:"message"`
	}

	wireInit struct {
		SessionID  string   `json:"session_id"`
		Model      string   `json:"model"`
		Tools      []string `json:"tools"`
		MCPServers []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"mcp_servers"`
	}

	wireResult struct {
		Subtype           string     `json:"subtype"`
		IsError           bool       `json:"is_error"`
		Result            string     `json:"result"`
		SessionID         string     `json:"session_id"`
		NumTurns          int        `json:"num_turns"`
		DurationMs        int        `json:"duration_ms"`
		Usage             *wireUsage `json:"usage"`
		PermissionDenials []struct {
			ToolName  string          `json:"tool_name"`
			ToolUseID string          `json:"tool_use_id"`
			ToolInput json.RawMessage `json:"tool_input"`
		} `json:"permission_denials"`
	}
)

// ParseLine decodes one line of Claude's stream-json output.
// Returns cli.ErrSkipLine for blank or whitespace-only lines.
func (b *Backend) ParseLine(line string) (cli.Event, error) {
	if strings.TrimSpace(line) == "" {
		return cli.Event{}, cli.ErrSkipLine
	}
	if !gjson.Valid(line) {
		return cli.Event{}, errors.New("claude: invalid JSON")
	}

	typ := gjson.Get(line, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return cli.Event{}, errors.New("claude: missing or empty type field")
	}

	ev := cli.Event{Type: typ.Str, Raw: json.RawMessage(line)}
	var err error
	switch typ.Str {
	case "assistant":
		err = parseAssistant(line, &ev)
	case "user":
		err = parseUser(line, &ev)
	case "summary":
		ev.Kind = cli.EventSummary
		ev.Summary = gjson.Get(line, "summary").String()
	case "system":
		subtype := gjson.Get(line, "subtype").String()
		ev.Type = "system/" + sanitizeType(subtype)
		if subtype == "init" {
			err = parseInit(line, &ev)
		}
	case "result":
		err = parseResult(line, &ev)
	default:
		ev.Type = sanitizeType(typ.Str)
	}
	if err != nil {
		return cli.Event{}, err
	}
	return ev, nil
}

// parseAssistant emits one message per content part, in order, followed by
// the message usage if any.
func parseAssistant(line string, ev *cli.Event) error {
	ev.Kind = cli.EventAssistant
	var env wireEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return fmt.Errorf("claude: decode assistant: %w", err)
	}
	blocks, err := decodeBlocks(env.Message.Content)
	if err != nil {
		return err
	}
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			ev.Messages = append(ev.Messages, agentpipe.Message{Type: agentpipe.MessageText, Content: blk.Text})
		case "thinking":
			ev.Messages = append(ev.Messages, agentpipe.Message{Type: agentpipe.MessageReasoning, Content: blk.Thinking})
		case "tool_use":
			ev.Messages = append(ev.Messages, agentpipe.Message{
				Type: agentpipe.MessageToolCall,
				Tool: &agentpipe.ToolCall{ID: blk.ID, Name: blk.Name, Input: blk.Input},
			})
		case "image":
			if img, err := decodeImage(blk.Source); err == nil {
				ev.Messages = append(ev.Messages, agentpipe.Message{Type: agentpipe.MessageImage, Image: img})
			}
		}
	}
	if u := toUsage(env.Message.Usage); u != nil && len(ev.Messages) > 0 {
		ev.Messages = append(ev.Messages, agentpipe.Message{Type: agentpipe.MessageUsage, Usage: u})
	}
	return nil
}

// parseUser emits tool results and images echoed back by the agent. Plain
// echoed text is the caller's own input and is not repeated.
func parseUser(line string, ev *cli.Event) error {
	ev.Kind = cli.EventUser
	var env wireEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return fmt.Errorf("claude: decode user: %w", err)
	}
	blocks, err := decodeBlocks(env.Message.Content)
	if err != nil {
		return err
	}
	for _, blk := range blocks {
		switch blk.Type {
		case "tool_result":
			ev.Messages = append(ev.Messages, agentpipe.Message{
				Type:    agentpipe.MessageToolCallResult,
				Content: resultText(blk.Content),
				Tool:    &agentpipe.ToolCall{ID: blk.ToolUseID, Output: blk.Content, IsError: blk.IsError},
			})
			ev.Messages = append(ev.Messages, resultImages(blk.Content)...)
		case "image":
			if img, err := decodeImage(blk.Source); err == nil {
				ev.Messages = append(ev.Messages, agentpipe.Message{Type: agentpipe.MessageImage, Image: img})
			}
		}
	}
	return nil
}

func parseInit(line string, ev *cli.Event) error {
	ev.Kind = cli.EventSystemInit
	var w wireInit
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return fmt.Errorf("claude: decode init: %w", err)
	}
	started := &agentpipe.SessionStarted{SessionID: w.SessionID, Model: w.Model, Tools: w.Tools}
	for _, s := range w.MCPServers {
		started.MCPServers = append(started.MCPServers, agentpipe.MCPServerStatus{Name: s.Name, Status: s.Status})
	}
	ev.Init = started
	return nil
}

func parseResult(line string, ev *cli.Event) error {
	ev.Kind = cli.EventResult
	var w wireResult
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return fmt.Errorf("claude: decode result: %w", err)
	}
	res := &agentpipe.TurnResult{
		IsError:    w.IsError,
		Subtype:    w.Subtype,
		Result:     w.Result,
		SessionID:  w.SessionID,
		NumTurns:   w.NumTurns,
		DurationMs: w.DurationMs,
	}
	for _, d := range w.PermissionDenials {
		res.PermissionDenials = append(res.PermissionDenials, agentpipe.PermissionDenial{
			ToolName:  d.ToolName,
			ToolUseID: d.ToolUseID,
			ToolInput: d.ToolInput,
		})
	}
	ev.Result = res
	if u := toUsage(w.Usage); u != nil {
		ev.Messages = []agentpipe.Message{{Type: agentpipe.MessageUsage, Usage: u}}
	}
	return nil
}

// decodeBlocks reads a content field that is either a block array or a
// plain string (returned as a single text block).
func decodeBlocks(raw json.RawMessage) ([]wireBlock, error) {
	content := gjson.ParseBytes(raw)
	switch {
	case !content.Exists():
		return nil, nil
	case content.Type == gjson.String:
		return []wireBlock{{Type: "text", Text: content.Str}}, nil
	case !content.IsArray():
		return nil, errors.New("claude: content is neither a string nor an array")
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("claude: decode content: %w", err)
	}
	return blocks, nil
}

// resultText extracts the text of a tool_result content field.
func resultText(raw json.RawMessage) string {
	content := gjson.ParseBytes(raw)
	if content.Type == gjson.String {
		return content.Str
	}
	var b strings.Builder
	for _, part := range content.Array() {
		if part.Get("type").String() == "text" {
			b.WriteString(part.Get("text").String())
		}
	}
	return b.String()
}

// resultImages extracts image blocks nested in a tool_result.
func resultImages(raw json.RawMessage) []agentpipe.Message {
	content := gjson.ParseBytes(raw)
	if !content.IsArray() {
		return nil
	}
	var msgs []agentpipe.Message
	for _, part := range content.Array() {
		if part.Get("type").String() != "image" {
			continue
		}
		src := &wireSource{
			Type:      part.Get("source.type").String(),
			MediaType: part.Get("source.media_type").String(),
			Data:      part.Get("source.data").String(),
		}
		if img, err := decodeImage(src); err == nil {
			msgs = append(msgs, agentpipe.Message{Type: agentpipe.MessageImage, Image: img})
		}
	}
	return msgs
}

// toUsage converts wire usage, returning nil when nothing was counted.
func toUsage(u *wireUsage) *agentpipe.Usage {
	if u == nil || *u == (wireUsage{}) {
		return nil
	}
	return &agentpipe.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
	}
}

// sanitizeType bounds an unknown discriminator before it reaches logs.
func sanitizeType(typeStr string) string {
	const maxTypeLen = 64
	if len(typeStr) > maxTypeLen {
		return "unknown"
	}
	for _, r := range typeStr {
		if unicode.IsControl(r) {
			return "unknown"
		}
	}
	return typeStr
}
