package jsonl

import (
	"context"
	"time"
)

// DefaultPollInterval is the default Monitor tick.
const DefaultPollInterval = 250 * time.Millisecond

// Monitor consumes a diagnostic stream (stderr) for the lifetime of a
// process, handing every line to a callback.
//
// The loop races the feed's pending read against a poll tick. A tick never
// discards or re-issues the pending read; it only checks whether the
// process has exited, in which case the monitor finishes even if a
// descendant still holds the stream open.
type Monitor struct {
	done chan struct{}
}

// StartMonitor starts consuming feed until ctx is done, the feed ends, or
// exited is closed and a full tick passes without a line. onLine runs on the
// monitor goroutine.
func StartMonitor(ctx context.Context, feed *Feed, exited <-chan struct{}, poll time.Duration, onLine func(string)) *Monitor {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	m := &Monitor{done: make(chan struct{})}
	go m.run(ctx, feed, exited, poll, onLine)
	return m
}

// Done is closed when the monitor goroutine has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until the monitor finishes or timeout elapses. It reports
// whether the monitor finished.
func (m *Monitor) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.done:
		return true
	case <-timer.C:
		return false
	}
}

func (m *Monitor) run(ctx context.Context, feed *Feed, exited <-chan struct{}, poll time.Duration, onLine func(string)) {
	defer close(m.done)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	active := false // a line arrived since the last tick
	for {
		select {
		case line, ok := <-feed.Lines():
			if !ok {
				return
			}
			active = true
			onLine(line)
		case <-ticker.C:
			if !active && isClosed(exited) {
				return
			}
			active = false
		case <-ctx.Done():
			return
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
