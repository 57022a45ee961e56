// Package jsonl provides the stdio channels between the client and an agent
// process: a serialized line writer for stdin and line feeds for stdout and
// stderr.
//
// # Pending-read preservation
//
// A blocking read on a pipe cannot be cancelled, and a pipe cannot tolerate
// two overlapping reads. Every stream therefore gets exactly one [Feed]
// goroutine that owns the blocking read and hands complete lines over a
// channel. Consumers select on that channel together with their own
// cancellation or a poll tick. When a consumer gives up, the pending read is
// not abandoned or re-issued: it stays with the feed, and the line it
// eventually produces goes to the next consumer. Lines are therefore never
// lost or reordered across consumers.
//
// Exported within internal/, visible to the cli package only.
package jsonl
