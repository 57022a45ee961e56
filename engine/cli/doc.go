// Package cli drives a long-lived agent CLI process over stdin/stdout JSONL.
//
// A [Backend] defines the agent's command line and wire format; [Client]
// owns everything else: spawning the process in its own process group,
// serialized stdin writes, a single-consumer stdout stream, a stderr
// monitor, the lifecycle state machine and an ordered shutdown that ends
// in a forced tree kill when the agent does not leave on its own.
//
// # Modes
//
// In OneShot mode ([agentpipe.ModeOneShot]) [Client.Submit] writes the only
// turn, closes stdin and streams the output; the session is Stopped once
// the turn result was delivered and the process has exited.
//
// In Interactive mode ([agentpipe.ModeInteractive]) the process stays
// alive across turns: [Client.Send] writes turns and [Client.Subscribe]
// streams their output. A turn that ends with an in-band error after the
// agent did some work is retried once with a synthetic user turn.
//
// # Consumer Obligations
//
// Callers must either drain an output channel to completion or cancel its
// context, and must call [Client.Shutdown] to end an Interactive session.
// Failing to do so leaves the agent running and leaks goroutines.
//
// Concrete backends (claude) implement the Backend interface.
package cli
