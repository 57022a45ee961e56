package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli/internal/jsonl"
	"github.com/dmora/agentpipe/engine/internal/errfmt"
)

// Submit writes the single turn of a OneShot session, closes stdin and
// returns the decoded output. The channel closes after the TurnResult once
// the agent has exited and the client is Stopped, when the agent's stdout
// ends, or when ctx is done. A cancelled Submit leaves the session
// Running; call Shutdown to end it.
func (c *Client) Submit(ctx context.Context, msgs ...agentpipe.UserMessage) (<-chan agentpipe.Message, error) {
	p, err := c.running()
	if err != nil {
		return nil, err
	}
	if p.mode != agentpipe.ModeOneShot {
		return nil, fmt.Errorf("%w: Submit requires a oneshot session; use Subscribe and Send", agentpipe.ErrUnsupported)
	}
	if !p.reading.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: output already has a consumer", agentpipe.ErrInvalidState)
	}
	if !p.submitted.CompareAndSwap(false, true) {
		p.reading.Store(false)
		return nil, fmt.Errorf("%w: oneshot turn already submitted", agentpipe.ErrInvalidState)
	}

	line, err := c.backend.FormatTurn(msgs...)
	if err != nil {
		p.submitted.Store(false)
		p.reading.Store(false)
		return nil, fmt.Errorf("cli: format turn: %w", err)
	}
	if err := p.stdin.WriteLine(ctx, line); err != nil {
		p.reading.Store(false)
		return nil, writeError(err)
	}
	p.closeInput()

	out := make(chan agentpipe.Message, c.opts.OutputBuffer)
	go func() {
		defer close(out)
		defer p.reading.Store(false)
		if c.pump(ctx, p, out, false) == pumpCancelled {
			return
		}
		c.completeOneShot(p)
	}()
	return out, nil
}

// Subscribe returns the output of an Interactive session across turns.
// Each turn ends with a TurnResult; each agent session start is announced
// with a SessionStarted message. The channel closes when ctx is done or the
// agent's stdout ends. Cancelling a subscription never loses a line: a
// later Subscribe continues where this one stopped.
func (c *Client) Subscribe(ctx context.Context) (<-chan agentpipe.Message, error) {
	p, err := c.running()
	if err != nil {
		return nil, err
	}
	if p.mode != agentpipe.ModeInteractive {
		return nil, fmt.Errorf("%w: Subscribe requires an interactive session; use Submit", agentpipe.ErrUnsupported)
	}
	if !p.reading.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: output already has a consumer", agentpipe.ErrInvalidState)
	}

	out := make(chan agentpipe.Message, c.opts.OutputBuffer)
	go func() {
		defer close(out)
		defer p.reading.Store(false)
		c.pump(ctx, p, out, true)
	}()
	return out, nil
}

// Send writes one user turn to an Interactive session. Concurrent calls are
// serialized; ctx bounds the wait for a concurrent writer.
func (c *Client) Send(ctx context.Context, msgs ...agentpipe.UserMessage) error {
	p, err := c.running()
	if err != nil {
		return err
	}
	if p.mode != agentpipe.ModeInteractive {
		return fmt.Errorf("%w: Send requires an interactive session; use Submit", agentpipe.ErrUnsupported)
	}
	line, err := c.backend.FormatTurn(msgs...)
	if err != nil {
		return fmt.Errorf("cli: format turn: %w", err)
	}
	if err := p.stdin.WriteLine(ctx, line); err != nil {
		return writeError(err)
	}
	return nil
}

// writeError maps writer errors to the client vocabulary.
func writeError(err error) error {
	if errors.Is(err, jsonl.ErrClosed) {
		return agentpipe.ErrInputClosed
	}
	return fmt.Errorf("cli: write turn: %w", err)
}

// completeOneShot finishes a OneShot session after its output ended.
func (c *Client) completeOneShot(p *process) {
	if !p.waitExit(context.Background(), c.opts.ShutdownTimeout) {
		p.log.Warn().Dur("timeout", c.opts.ShutdownTimeout).Msg("agent did not exit after turn")
		c.forceKill(p)
		p.waitExit(context.Background(), c.opts.KillWait)
	}
	p.monitor.Wait(c.opts.MonitorWait)
	p.release()
	if c.completeIfCurrent(p) {
		c.metrics.setState(agentpipe.StateStopped)
		p.log.Info().Msg("oneshot session complete")
	}
}

type pumpOutcome int

const (
	pumpResult    pumpOutcome = iota // OneShot TurnResult delivered
	pumpEOF                          // stdout ended
	pumpCancelled                    // consumer context done
)

// turnState tracks the current turn for retry decisions.
type turnState struct {
	assistant int  // assistant events observed
	retried   bool // a retry turn was already injected
}

// pump decodes stdout lines into out until a OneShot turn ends, stdout
// ends, or ctx is done. In continuous mode it spans turns and announces
// session starts.
//
// Only lines actually received are consumed; a pump stopped by ctx leaves
// the feed's pending read in place, and messages it could not deliver are
// kept as backlog for the next consumer.
func (c *Client) pump(ctx context.Context, p *process, out chan<- agentpipe.Message, continuous bool) pumpOutcome {
	deliver := func(msgs []agentpipe.Message) bool {
		for i, m := range msgs {
			if m.Timestamp.IsZero() {
				m.Timestamp = time.Now()
			}
			if ctx.Err() != nil {
				p.backlog = append(p.backlog, msgs[i:]...)
				return false
			}
			select {
			case out <- m:
			case <-ctx.Done():
				p.backlog = append(p.backlog, msgs[i:]...)
				return false
			}
		}
		return true
	}

	if len(p.backlog) > 0 {
		pending := p.backlog
		p.backlog = nil
		if !deliver(pending) {
			return pumpCancelled
		}
		if !continuous && pending[len(pending)-1].Type == agentpipe.MessageTurnResult {
			return pumpResult
		}
	}

	for {
		var line string
		select {
		case <-ctx.Done():
			return pumpCancelled
		case l, ok := <-p.stdout.Lines():
			if !ok {
				if err := p.stdout.Err(); err != nil {
					p.log.Debug().Err(err).Msg("stdout ended with error")
				}
				return pumpEOF
			}
			line = l
		}

		msgs, done := c.decode(ctx, p, line, continuous)
		if !deliver(msgs) {
			return pumpCancelled
		}
		if done && !continuous {
			return pumpResult
		}
	}
}

// decode turns one stdout line into caller-facing messages. done reports
// that the line ended a turn.
func (c *Client) decode(ctx context.Context, p *process, line string, continuous bool) (msgs []agentpipe.Message, done bool) {
	ev, err := c.backend.ParseLine(line)
	if errors.Is(err, ErrSkipLine) {
		return nil, false
	}
	if err != nil {
		c.metrics.MalformedLines.Inc()
		p.log.Warn().Err(err).Str("line", errfmt.Preview(line)).Msg("skipping malformed line")
		return nil, false
	}

	switch ev.Kind {
	case EventSystemInit:
		p.absorb(ev.Init)
		if continuous && ev.Init != nil {
			return []agentpipe.Message{{Type: agentpipe.MessageSessionStarted, Session: ev.Init, Raw: ev.Raw}}, false
		}
		return nil, false

	case EventSummary:
		p.log.Debug().Str("summary", errfmt.Truncate(ev.Summary)).Msg("agent summary")
		return nil, false

	case EventAssistant, EventUser:
		if ev.Kind == EventAssistant && len(ev.Messages) > 0 {
			p.turn.assistant++
		}
		return ev.Messages, false

	case EventResult:
		res := ev.Result
		if res == nil {
			p.log.Warn().Str("type", ev.Type).Msg("result event without payload")
			return nil, false
		}
		for _, d := range res.PermissionDenials {
			p.log.Warn().Str("tool", d.ToolName).Str("tool_use_id", d.ToolUseID).Msg("tool permission denied")
		}
		if res.IsError && p.turn.assistant > 0 && !p.turn.retried && c.injectRetry(ctx, p) {
			p.turn.retried = true
			return nil, false
		}
		p.turn = turnState{}
		msgs = append(msgs, ev.Messages...)
		msgs = append(msgs, agentpipe.Message{Type: agentpipe.MessageTurnResult, Content: res.Result, Result: res, Raw: ev.Raw})
		return msgs, true

	default:
		p.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event")
		return nil, false
	}
}

// injectRetry writes the synthetic retry turn after an errored turn. It
// reports whether the turn was written; a OneShot session, whose stdin is
// already closed, never retries.
func (c *Client) injectRetry(ctx context.Context, p *process) bool {
	if p.stdin.Closed() {
		p.log.Debug().Msg("turn ended with error; input closed, not retrying")
		return false
	}
	line, err := c.backend.FormatTurn(agentpipe.TextMessage(c.opts.RetryPrompt))
	if err != nil {
		p.log.Error().Err(err).Msg("format retry turn")
		return false
	}
	if err := p.stdin.WriteLine(ctx, line); err != nil {
		p.log.Warn().Err(err).Msg("write retry turn")
		return false
	}
	c.metrics.RetryTurns.Inc()
	p.log.Warn().Msg("turn ended with error; retry turn sent")
	return true
}
