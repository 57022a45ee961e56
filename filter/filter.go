// Package filter provides composable channel middleware for agentpipe
// message streams. Consumers wrap the output of Submit or Subscribe with
// these functions to select the messages they need.
package filter

import (
	"context"

	"github.com/dmora/agentpipe"
)

// Filter returns a channel that only passes messages of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan agentpipe.Message, types ...agentpipe.MessageType) <-chan agentpipe.Message {
	allowed := make(map[agentpipe.MessageType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(msg agentpipe.Message) (bool, bool) {
		_, ok := allowed[msg.Type]
		return ok, false
	})
}

// Content returns a channel that drops bookkeeping messages (usage and
// session markers), passing what the agent said and did plus turn results.
func Content(ctx context.Context, ch <-chan agentpipe.Message) <-chan agentpipe.Message {
	return pipe(ctx, ch, func(msg agentpipe.Message) (bool, bool) {
		return IsContent(msg.Type) || msg.Type == agentpipe.MessageTurnResult, false
	})
}

// TurnResults returns a channel that passes only MessageTurnResult.
func TurnResults(ctx context.Context, ch <-chan agentpipe.Message) <-chan agentpipe.Message {
	return pipe(ctx, ch, func(msg agentpipe.Message) (bool, bool) {
		return msg.Type == agentpipe.MessageTurnResult, false
	})
}

// Turn passes messages up to and including the next MessageTurnResult and
// then closes. Messages after the result stay in ch for the next call, so
// Turn can be applied once per turn to a long-lived subscription.
func Turn(ctx context.Context, ch <-chan agentpipe.Message) <-chan agentpipe.Message {
	return pipe(ctx, ch, func(msg agentpipe.Message) (bool, bool) {
		return true, msg.Type == agentpipe.MessageTurnResult
	})
}

// IsContent reports whether t carries agent output: text, reasoning, tool
// calls and their results, or images.
func IsContent(t agentpipe.MessageType) bool {
	switch t {
	case agentpipe.MessageText,
		agentpipe.MessageReasoning,
		agentpipe.MessageToolCall,
		agentpipe.MessageToolCallResult,
		agentpipe.MessageImage:
		return true
	default:
		return false
	}
}

// pipe spawns a goroutine that reads from ch, passes messages accepted by
// the predicate to the returned channel, and closes it when ch closes, ctx
// is cancelled, or the predicate reports the last message. Callers must
// either drain the returned channel or cancel ctx to avoid goroutine leaks.
// Messages accepted by the predicate may be silently dropped if ctx is
// cancelled mid-send.
func pipe(ctx context.Context, ch <-chan agentpipe.Message, accept func(agentpipe.Message) (pass, last bool)) <-chan agentpipe.Message {
	out := make(chan agentpipe.Message)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				pass, last := accept(msg)
				if pass && !trySend(ctx, out, msg) {
					return
				}
				if last {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends msg on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- agentpipe.Message, msg agentpipe.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
