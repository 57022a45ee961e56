package agentpipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects the session lifetime.
type Mode string

const (
	// ModeOneShot runs a single turn; the process exits after it.
	ModeOneShot Mode = "oneshot"

	// ModeInteractive keeps one process alive across many turns.
	ModeInteractive Mode = "interactive"
)

// PermissionMode controls the agent's permission/sandbox behavior.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
	PermissionPlan        PermissionMode = "plan"
)

// MCPServer is one MCP server definition handed to the agent.
// It is serialized verbatim into the --mcp-config JSON map.
type MCPServer struct {
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Config is the caller-supplied session configuration.
//
// Config is retained by the client for the lifetime of a session and may
// be reused for a restart. The client keeps its own deep copy.
type Config struct {
	// Model is the model identifier passed to the agent.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// MaxTurns caps agent turns per request. Zero means agent default.
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`

	// MaxThinkingTokens caps the thinking budget. Zero means agent default.
	MaxThinkingTokens int `json:"max_thinking_tokens,omitempty" yaml:"max_thinking_tokens,omitempty"`

	// PermissionMode selects the agent's permission behavior.
	PermissionMode PermissionMode `json:"permission_mode,omitempty" yaml:"permission_mode,omitempty"`

	// SettingSources lists the agent setting sources to load (e.g. "user,project").
	SettingSources []string `json:"setting_sources,omitempty" yaml:"setting_sources,omitempty"`

	// AllowedTools lists tool names the agent may use without prompting.
	AllowedTools []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`

	// MCPServers maps server names to their definitions.
	MCPServers map[string]MCPServer `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`

	// SystemPrompt is written to a temporary file and passed by path.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`

	// ResumeID resumes an existing agent session.
	ResumeID string `json:"resume_id,omitempty" yaml:"resume_id,omitempty"`

	// Mode selects OneShot or Interactive. Empty means ModeOneShot.
	Mode Mode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Verbose enables the agent's verbose output.
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// EffectiveMode returns c.Mode, defaulting to ModeOneShot.
func (c Config) EffectiveMode() Mode {
	if c.Mode == "" {
		return ModeOneShot
	}
	return c.Mode
}

// Validate reports configuration errors that would otherwise surface as
// an unusable command line.
func (c Config) Validate() error {
	switch c.EffectiveMode() {
	case ModeOneShot, ModeInteractive:
	default:
		return fmt.Errorf("config: unknown mode %q; valid: oneshot, interactive", c.Mode)
	}
	if c.MaxTurns < 0 {
		return fmt.Errorf("config: max_turns must not be negative, got %d", c.MaxTurns)
	}
	if c.MaxThinkingTokens < 0 {
		return fmt.Errorf("config: max_thinking_tokens must not be negative, got %d", c.MaxThinkingTokens)
	}
	switch c.PermissionMode {
	case "", PermissionDefault, PermissionAcceptEdits, PermissionBypass, PermissionPlan:
	default:
		return fmt.Errorf("config: unknown permission mode %q; valid: default, acceptEdits, bypassPermissions, plan", c.PermissionMode)
	}
	for name, v := range map[string]string{
		"model":         c.Model,
		"resume_id":     c.ResumeID,
		"system_prompt": c.SystemPrompt,
	} {
		if strings.ContainsRune(v, '\x00') {
			return fmt.Errorf("config: %s contains null bytes", name)
		}
	}
	for _, tool := range c.AllowedTools {
		if tool == "" || strings.ContainsAny(tool, ",\x00") {
			return fmt.Errorf("config: invalid allowed tool name %q", tool)
		}
	}
	return nil
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	c.SettingSources = slices.Clone(c.SettingSources)
	c.AllowedTools = slices.Clone(c.AllowedTools)
	if c.MCPServers != nil {
		servers := make(map[string]MCPServer, len(c.MCPServers))
		for name, s := range c.MCPServers {
			s.Args = slices.Clone(s.Args)
			s.Env = maps.Clone(s.Env)
			s.Headers = maps.Clone(s.Headers)
			servers[name] = s
		}
		c.MCPServers = servers
	}
	return c
}

// LoadConfig reads a YAML session configuration from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML session configuration. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
