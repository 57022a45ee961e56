package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
)

const defaultBinary = "claude"

// exitCommand is the slash command that ends an interactive session.
const exitCommand = "/exit"

// Backend is the Claude Code CLI backend for cli.Client.
type Backend struct {
	binary string
	exit   []byte
}

// Compile-time interface satisfaction checks.
var (
	_ cli.Backend = (*Backend)(nil)
	_ cli.Exiter  = (*Backend)(nil)
)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithBinary overrides the default executable name ("claude").
// Empty values are ignored.
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// New creates a Claude Code CLI backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	// A fixed text turn always encodes.
	b.exit, _ = b.FormatTurn(agentpipe.TextMessage(exitCommand))
	return b
}

// Binary returns the executable resolved on PATH by default.
func (b *Backend) Binary() string {
	return b.binary
}

// ExitDirective returns the "/exit" user turn.
func (b *Backend) ExitDirective() []byte {
	return slices.Clone(b.exit)
}

// Args builds the command line for a stream-json session. Both OneShot and
// Interactive sessions read turns from stdin; they differ only in when the
// client closes it.
func (b *Backend) Args(cfg agentpipe.Config, promptFile string) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
	}
	if cfg.Verbose {
		args = append(args, "--verbose")
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(cfg.MaxTurns))
	}
	if cfg.MaxThinkingTokens > 0 {
		args = append(args, "--max-thinking-tokens", strconv.Itoa(cfg.MaxThinkingTokens))
	}
	if cfg.PermissionMode != "" && cfg.PermissionMode != agentpipe.PermissionDefault {
		args = append(args, "--permission-mode", string(cfg.PermissionMode))
	}
	if len(cfg.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(cfg.SettingSources, ","))
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if len(cfg.MCPServers) > 0 {
		mcp, err := mcpConfig(cfg.MCPServers)
		if err != nil {
			return nil, err
		}
		args = append(args, "--mcp-config", mcp)
	}
	if cfg.ResumeID != "" {
		args = append(args, "--resume", cfg.ResumeID)
	}
	if promptFile != "" {
		if containsNull(promptFile) {
			return nil, errors.New("claude: system prompt path contains null bytes")
		}
		args = append(args, "--system-prompt-file", promptFile)
	}
	return args, nil
}

// mcpConfig encodes servers as the --mcp-config JSON document. The value
// is passed as a single argv element, so no shell quoting applies.
func mcpConfig(servers map[string]agentpipe.MCPServer) (string, error) {
	data, err := json.Marshal(struct {
		MCPServers map[string]agentpipe.MCPServer `json:"mcpServers"`
	}{servers})
	if err != nil {
		return "", fmt.Errorf("claude: encode mcp config: %w", err)
	}
	return string(data), nil
}

// containsNull reports whether s contains a null byte.
func containsNull(s string) bool {
	return strings.ContainsRune(s, '\x00')
}
