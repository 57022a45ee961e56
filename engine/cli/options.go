package cli

import (
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Default client configuration values.
const (
	defaultOutputBuffer    = 100
	defaultScannerBuffer   = 1 << 20 // 1 MB
	defaultShutdownTimeout = 10 * time.Second
	defaultExitGrace       = 2 * time.Second
	defaultKillWait        = 2 * time.Second
	defaultMonitorWait     = time.Second
	defaultPollInterval    = 250 * time.Millisecond
	defaultName            = "default"

	// DefaultRetryPrompt is the synthetic user turn written after a turn
	// ends with an in-band error.
	DefaultRetryPrompt = "The previous attempt ended with an error. Please retry and continue the task."
)

// ClientOptions holds resolved construction-time configuration for a Client.
// Use New with ClientOption functions to customize these values.
type ClientOptions struct {
	// Binary overrides the backend's default executable.
	Binary string

	// Interpreter and Script run the agent as "Interpreter Script args...".
	// Interpreter takes precedence over Binary.
	Interpreter string
	Script      string

	// WorkDir is the agent's working directory. Empty means the current
	// directory of this process.
	WorkDir string

	// Env holds extra environment variables for the agent; they override
	// inherited ones.
	Env map[string]string

	// OutputBuffer is the channel buffer size for decoded messages.
	OutputBuffer int

	// ScannerBuffer is the maximum stdout/stderr line size in bytes.
	ScannerBuffer int

	// ShutdownTimeout bounds the wait for a natural exit during Shutdown
	// when the context has no deadline, and after a OneShot turn.
	ShutdownTimeout time.Duration

	// ExitGrace bounds the wait after the exit directive.
	ExitGrace time.Duration

	// KillWait bounds the wait for exit after a forced termination.
	KillWait time.Duration

	// MonitorWait bounds the wait for the stderr monitor during Shutdown.
	MonitorWait time.Duration

	// PollInterval is the stderr monitor tick.
	PollInterval time.Duration

	// RetryPrompt is the text of the synthetic retry turn.
	RetryPrompt string

	// Logger receives structured logs. Defaults to a no-op logger.
	Logger zerolog.Logger

	// Registerer receives the client metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Name identifies the client in logs and in the "client" label of the
	// state gauge. Clients sharing a Registerer need distinct names for
	// their states to be reported separately.
	Name string
}

// ClientOption configures a Client at construction time.
type ClientOption func(*ClientOptions)

// WithBinary overrides the agent executable (name on PATH or a path).
// Empty values are ignored.
func WithBinary(path string) ClientOption {
	return func(o *ClientOptions) {
		if path != "" {
			o.Binary = path
		}
	}
}

// WithInterpreter runs script with interpreter (e.g. "node", "cli.js").
// Empty interpreter values are ignored.
func WithInterpreter(interpreter, script string) ClientOption {
	return func(o *ClientOptions) {
		if interpreter != "" {
			o.Interpreter = interpreter
			o.Script = script
		}
	}
}

// WithWorkDir sets the agent's working directory. It must be absolute.
func WithWorkDir(dir string) ClientOption {
	return func(o *ClientOptions) {
		o.WorkDir = dir
	}
}

// WithEnv adds environment variables for the agent process.
func WithEnv(env map[string]string) ClientOption {
	return func(o *ClientOptions) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		maps.Copy(o.Env, env)
	}
}

// WithOutputBuffer sets the channel buffer size for decoded messages.
// Values <= 0 are ignored.
func WithOutputBuffer(size int) ClientOption {
	return func(o *ClientOptions) {
		if size > 0 {
			o.OutputBuffer = size
		}
	}
}

// WithScannerBuffer sets the maximum line size in bytes for stdout and
// stderr. Values <= 0 are ignored.
func WithScannerBuffer(size int) ClientOption {
	return func(o *ClientOptions) {
		if size > 0 {
			o.ScannerBuffer = size
		}
	}
}

// WithShutdownTimeout sets the default wait for a natural exit.
// Values <= 0 are ignored.
func WithShutdownTimeout(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithExitGrace sets the wait after the exit directive.
// Values <= 0 are ignored.
func WithExitGrace(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.ExitGrace = d
		}
	}
}

// WithKillWait sets the wait for exit after forced termination.
// Values <= 0 are ignored.
func WithKillWait(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.KillWait = d
		}
	}
}

// WithMonitorWait sets the wait for the stderr monitor during shutdown.
// Values <= 0 are ignored.
func WithMonitorWait(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.MonitorWait = d
		}
	}
}

// WithPollInterval sets the stderr monitor tick. Values <= 0 are ignored.
func WithPollInterval(d time.Duration) ClientOption {
	return func(o *ClientOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithRetryPrompt overrides the synthetic retry turn text.
// Empty values are ignored.
func WithRetryPrompt(prompt string) ClientOption {
	return func(o *ClientOptions) {
		if prompt != "" {
			o.RetryPrompt = prompt
		}
	}
}

// WithLogger sets the structured log sink.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(o *ClientOptions) {
		o.Logger = l
	}
}

// WithName sets the client name used in logs and metrics.
// Empty values are ignored.
func WithName(name string) ClientOption {
	return func(o *ClientOptions) {
		if name != "" {
			o.Name = name
		}
	}
}

// WithRegisterer registers the client metrics on reg.
func WithRegisterer(reg prometheus.Registerer) ClientOption {
	return func(o *ClientOptions) {
		o.Registerer = reg
	}
}

func resolveClientOptions(opts ...ClientOption) ClientOptions {
	o := ClientOptions{
		OutputBuffer:    defaultOutputBuffer,
		ScannerBuffer:   defaultScannerBuffer,
		ShutdownTimeout: defaultShutdownTimeout,
		ExitGrace:       defaultExitGrace,
		KillWait:        defaultKillWait,
		MonitorWait:     defaultMonitorWait,
		PollInterval:    defaultPollInterval,
		RetryPrompt:     DefaultRetryPrompt,
		Logger:          zerolog.Nop(),
		Name:            defaultName,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
