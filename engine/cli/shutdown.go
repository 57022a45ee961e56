package cli

import (
	"context"
	"time"

	"github.com/dmora/agentpipe"
)

// Shutdown ends the running session. It is a no-op unless the client is
// Running, and always leaves the client Stopped.
//
// The agent is first asked to exit (interactive backends implementing
// Exiter), then stdin is closed and the process is given until ctx's
// deadline (or the configured shutdown timeout) to exit before its process
// tree is killed. The stderr monitor is awaited briefly and abandoned if
// it does not finish. Shutdown does not return an error for an agent that
// had to be killed; use Wait for the exit status.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.life.BeginShutdown() {
		return nil
	}
	c.metrics.setState(agentpipe.StateShuttingDown)
	p := c.current()
	start := time.Now()

	defer func() {
		c.life.Finish()
		c.metrics.setState(agentpipe.StateStopped)
		p.log.Info().Dur("elapsed", time.Since(start)).Msg("agent shut down")
	}()

	// 1. Ask the agent to leave on its own.
	if p.mode == agentpipe.ModeInteractive && !p.stdin.Closed() && !p.hasExited() {
		if ex, ok := c.backend.(Exiter); ok {
			c.sendExitDirective(ctx, p, ex)
		}
	}

	// 2. Stop background work and signal end of input.
	p.bgCancel()
	p.closeInput()

	// 3. Wait for a natural exit.
	budget := c.opts.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline)
	}
	if !p.waitExit(ctx, budget) {
		// 4. Force termination of the whole tree.
		c.forceKill(p)
		if !p.waitExit(context.Background(), c.opts.KillWait) {
			p.log.Error().Dur("wait", c.opts.KillWait).Msg("agent still running after kill")
		}
	}

	// 5. Let the stderr monitor drain.
	if !p.monitor.Wait(c.opts.MonitorWait) {
		p.log.Warn().Msg("stderr monitor did not finish; abandoning")
	}

	// 6. Release pipes and temporary files.
	p.release()
	return nil
}

// sendExitDirective writes the backend's exit line and waits up to the
// exit grace period for the agent to leave. The write runs on its own
// goroutine so a stalled pipe cannot hold up shutdown; closing stdin in
// the next step unblocks it.
func (c *Client) sendExitDirective(ctx context.Context, p *process, ex Exiter) {
	grace, cancel := context.WithTimeout(ctx, c.opts.ExitGrace)
	defer cancel()

	written := make(chan error, 1)
	go func() {
		written <- p.stdin.WriteLine(grace, ex.ExitDirective())
	}()

	select {
	case err := <-written:
		if err != nil {
			p.log.Debug().Err(err).Msg("send exit directive")
			return
		}
	case <-grace.Done():
		p.log.Debug().Msg("exit directive not written within grace period")
		return
	}
	if p.waitExit(grace, c.opts.ExitGrace) {
		p.log.Debug().Msg("agent exited after exit directive")
	}
}
