package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmora/agentpipe"
	"github.com/rs/zerolog"
)

// Client drives one agent CLI process at a time over stdin/stdout JSONL.
//
// A Client is safe for concurrent use. Start and Shutdown are serialized by
// the lifecycle state machine; Send may be called from several goroutines;
// at most one output consumer (Submit or Subscribe) is active at a time.
type Client struct {
	backend Backend
	opts    ClientOptions
	log     zerolog.Logger
	metrics *Metrics
	life    agentpipe.Lifecycle

	mu   sync.Mutex
	proc *process // current or most recent session
}

// New creates a client for backend.
func New(backend Backend, opts ...ClientOption) *Client {
	o := resolveClientOptions(opts...)
	c := &Client{
		backend: backend,
		opts:    o,
		log:     o.Logger.With().Str("component", "agentpipe").Str("client", o.Name).Logger(),
		metrics: newMetrics(o.Registerer, o.Name),
	}
	c.metrics.setState(agentpipe.StateNotStarted)
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() agentpipe.State {
	return c.life.Load()
}

// Metrics returns the client counters.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Session returns a snapshot of the current (or most recent) session, and
// false if no session was ever started.
func (c *Client) Session() (agentpipe.SessionInfo, bool) {
	p := c.current()
	if p == nil {
		return agentpipe.SessionInfo{}, false
	}
	return p.snapshot(), true
}

// Start spawns the agent for cfg. It fails with ErrInvalidState unless the
// client is NotStarted or Stopped; a Running client whose process has
// already exited is healed to Stopped first. If spawning fails the client
// returns to NotStarted.
//
// The context parameter is reserved for future use (e.g., start timeout);
// process lifetime is controlled via Shutdown.
func (c *Client) Start(ctx context.Context, cfg agentpipe.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	if err := c.begin(); err != nil {
		return err
	}
	c.metrics.setState(agentpipe.StateStarting)

	p, err := c.spawn(cfg.Clone())
	if err != nil {
		c.life.Rollback()
		c.metrics.setState(agentpipe.StateNotStarted)
		c.log.Error().Err(err).Msg("start agent")
		return err
	}

	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()

	c.life.Promote()
	c.metrics.setState(agentpipe.StateRunning)
	c.metrics.SessionsStarted.Inc()
	p.log.Info().Str("path", p.cmd.Path).Str("work_dir", p.info.WorkDir).Msg("agent started")
	return nil
}

// begin claims the Starting state, healing a stale Running state once.
func (c *Client) begin() error {
	err := c.life.Begin()
	if err == nil || c.life.Load() != agentpipe.StateRunning {
		return err
	}
	p := c.current()
	if p == nil || !p.hasExited() {
		return err
	}
	p.log.Warn().Msg("agent exited while client was running; resetting session")
	p.release()
	// A concurrent OneShot completion may already have stopped the session.
	if c.life.Heal() {
		c.metrics.DesyncHeals.Inc()
		c.metrics.setState(agentpipe.StateStopped)
	}
	return c.life.Begin()
}

// Wait blocks until the agent process of the current session exits and
// returns its exit error (*agentpipe.ExitError for non-zero exits).
func (c *Client) Wait(ctx context.Context) error {
	p := c.current()
	if p == nil {
		return fmt.Errorf("%w: no session", agentpipe.ErrInvalidState)
	}
	select {
	case <-p.exited:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseInput closes the agent's stdin, signaling end of input. Further
// Send calls fail with ErrInputClosed.
func (c *Client) CloseInput() error {
	p, err := c.running()
	if err != nil {
		return err
	}
	return p.stdin.Close()
}

// completeIfCurrent moves a Running client to Stopped, provided p is still
// its session. A OneShot consumer that outlived its session must not stop
// the one that replaced it.
func (c *Client) completeIfCurrent(p *process) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != p {
		return false
	}
	return c.life.Complete()
}

func (c *Client) current() *process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

// running returns the session if the client is Running.
func (c *Client) running() (*process, error) {
	if s := c.life.Load(); s != agentpipe.StateRunning {
		return nil, fmt.Errorf("%w: client is %s", agentpipe.ErrInvalidState, s)
	}
	p := c.current()
	if p == nil {
		return nil, fmt.Errorf("%w: no session", agentpipe.ErrInvalidState)
	}
	return p, nil
}
