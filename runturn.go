package agentpipe

import (
	"context"
	"errors"
)

// Sender transmits a user turn to a running interactive session.
type Sender interface {
	Send(ctx context.Context, msgs ...UserMessage) error
}

// errStreamClosed is returned by RunTurn when out closes before a
// MessageTurnResult arrives.
var errStreamClosed = errors.New("agentpipe: output closed before turn result")

// RunTurn sends one turn and drains out until MessageTurnResult or channel
// close. handler is called for each message (including the TurnResult).
//
// out is the subscription channel of the session (Client.Subscribe). The
// caller keeps ownership of the subscription; RunTurn only reads from it,
// so it can be called once per turn over the same subscription.
//
// Send runs in a goroutine while the calling goroutine drains out. If Send
// returns an error, the drain stops and RunTurn returns it. If the handler
// returns an error, the drain stops and RunTurn returns it. Context
// cancellation stops the drain.
func RunTurn(ctx context.Context, s Sender, out <-chan Message, handler func(Message) error, msgs ...UserMessage) error {
	sendCh := make(chan error, 1)
	go func() {
		sendCh <- s.Send(ctx, msgs...)
	}()

	return drainOutput(ctx, out, sendCh, handler)
}

// drainOutput reads from out until MessageTurnResult, channel close, or
// context cancellation. Checks sendCh for Send errors.
func drainOutput(ctx context.Context, out <-chan Message, sendCh <-chan error, handler func(Message) error) error {
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				if err := collectSendError(sendCh); err != nil {
					return err
				}
				return errStreamClosed
			}
			if err := handler(msg); err != nil {
				return err
			}
			if msg.Type == MessageTurnResult {
				return collectSendError(sendCh)
			}

		case err := <-sendCh:
			if err != nil {
				return err
			}
			sendCh = nil // Send succeeded; stop selecting on it.

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// collectSendError drains the Send error channel without blocking.
func collectSendError(sendCh <-chan error) error {
	select {
	case err := <-sendCh:
		return err
	default:
		return nil
	}
}
