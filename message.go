package agentpipe

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of message decoded from the agent.
type MessageType string

const (
	// MessageText is assistant text output.
	MessageText MessageType = "text"

	// MessageReasoning is assistant thinking output.
	MessageReasoning MessageType = "reasoning"

	// MessageToolCall indicates the agent is invoking a tool.
	MessageToolCall MessageType = "tool_call"

	// MessageToolCallResult contains the output of a tool invocation.
	MessageToolCallResult MessageType = "tool_call_result"

	// MessageImage carries an image produced during the turn
	// (typically inside a tool result).
	MessageImage MessageType = "image"

	// MessageUsage carries token usage reported by the agent.
	MessageUsage MessageType = "usage"

	// MessageSessionStarted marks the start of a session in continuous
	// subscription mode.
	MessageSessionStarted MessageType = "session_started"

	// MessageTurnResult is the terminal message of a turn.
	MessageTurnResult MessageType = "turn_result"
)

// Message is a structured output from the agent process.
//
// Message is the stable contract between the client and its callers:
// changes to the agent's wire format only affect the codec.
type Message struct {
	// Type identifies the kind of message.
	Type MessageType `json:"type"`

	// Content is the text content (for Text and Reasoning messages).
	Content string `json:"content,omitempty"`

	// Tool contains tool invocation details (ToolCall, ToolCallResult).
	Tool *ToolCall `json:"tool,omitempty"`

	// Image contains image data (Image).
	Image *Image `json:"image,omitempty"`

	// Usage contains token usage data (Usage).
	Usage *Usage `json:"usage,omitempty"`

	// Session describes the started session (SessionStarted).
	Session *SessionStarted `json:"session,omitempty"`

	// Result describes the end of a turn (TurnResult).
	Result *TurnResult `json:"result,omitempty"`

	// Raw is the original JSON line the message was decoded from.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Timestamp is when the message was decoded.
	Timestamp time.Time `json:"timestamp"`
}

// ToolCall describes a tool invocation by the agent.
type ToolCall struct {
	// ID correlates a call with its result.
	ID string `json:"id,omitempty"`

	// Name is the tool identifier. Empty on results.
	Name string `json:"name,omitempty"`

	// Input is the tool's input parameters as raw JSON.
	Input json.RawMessage `json:"input,omitempty"`

	// Output is the tool's result as raw JSON.
	Output json.RawMessage `json:"output,omitempty"`

	// IsError reports whether the tool result is an error.
	IsError bool `json:"is_error,omitempty"`
}

// Usage contains token usage data from the agent's model.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// SessionStarted is the payload of a MessageSessionStarted message,
// taken from the agent's init event.
type SessionStarted struct {
	SessionID  string            `json:"session_id,omitempty"`
	Model      string            `json:"model,omitempty"`
	Tools      []string          `json:"tools,omitempty"`
	MCPServers []MCPServerStatus `json:"mcp_servers,omitempty"`
}

// MCPServerStatus reports the connection state of one MCP server.
type MCPServerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TurnResult is the payload of a MessageTurnResult message.
type TurnResult struct {
	// IsError reports an in-band error for the turn.
	IsError bool `json:"is_error"`

	// Subtype is the agent's result subtype (e.g. "success").
	Subtype string `json:"subtype,omitempty"`

	// Result is the final text of the turn, if reported.
	Result string `json:"result,omitempty"`

	// SessionID is the agent's session identifier.
	SessionID string `json:"session_id,omitempty"`

	// NumTurns is the number of agent turns used.
	NumTurns int `json:"num_turns,omitempty"`

	// DurationMs is the wall time of the turn as reported by the agent.
	DurationMs int `json:"duration_ms,omitempty"`

	// PermissionDenials lists tool uses the agent was not allowed to run.
	PermissionDenials []PermissionDenial `json:"permission_denials,omitempty"`
}

// PermissionDenial describes a tool use rejected by the permission mode.
type PermissionDenial struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}
