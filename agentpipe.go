// Package agentpipe drives a long-lived agent CLI process over a
// line-delimited JSON (JSONL) stdio protocol.
//
// The root package defines the shared vocabulary; the subprocess client
// lives in engine/cli and the wire codec in engine/cli/claude.
//
// # Core Types
//
//   - [Config]: immutable session configuration supplied to Start
//   - [Message]: decoded output from the agent, one of the [MessageType] variants
//   - [UserMessage] and [Content]: outbound turn content (text and images)
//   - [Lifecycle]: the client state machine ([State] values)
//   - [SessionInfo]: identity of the running session
//
// # Modes
//
// [ModeOneShot] sends a single turn, closes the agent's stdin and lets the
// process run to completion. [ModeInteractive] keeps one process alive for
// many turns; callers subscribe to the output stream once and send turns
// as they go.
//
// # Quick Start
//
//	client := cli.New(claude.New(), cli.WithLogger(logger))
//	if err := client.Start(ctx, agentpipe.Config{Model: "sonnet"}); err != nil {
//	    log.Fatal(err)
//	}
//	out, err := client.Submit(ctx, agentpipe.TextMessage("Hello"))
//	if err != nil { log.Fatal(err) }
//	for msg := range out {
//	    fmt.Println(msg.Type, msg.Content)
//	}
package agentpipe
