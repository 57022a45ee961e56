// Package claude provides the Claude Code CLI backend for [cli.Client].
//
// The [Backend] runs Claude Code in print mode with stream-json input and
// output, so one process serves one turn (OneShot) or many (Interactive):
//
//	client := cli.New(claude.New())
//	err := client.Start(ctx, agentpipe.Config{Model: "sonnet", Verbose: true})
//
// Claude Code only emits stream-json in print mode together with
// --verbose; set [agentpipe.Config.Verbose] for real sessions.
//
// # Wire Format
//
// Each user turn is one line:
//
//	{"type":"user","message":{"role":"user","content":[{"type":"text","text":"hi"}]}}
//
// Image blocks carry {"type":"base64","media_type":...,"data":...} sources.
// Inbound lines are dispatched on their "type" field:
//
//   - assistant: [agentpipe.MessageText], [agentpipe.MessageReasoning] and
//     [agentpipe.MessageToolCall] per content block, in order, then
//     [agentpipe.MessageUsage]
//   - user: [agentpipe.MessageToolCallResult] per tool_result block and
//     [agentpipe.MessageImage] for images; echoed text is dropped
//   - system/init: the session id, model, tools and MCP server statuses
//   - summary: logged by the client
//   - result: the turn result, preceded by its usage
//
// Anything else decodes to [cli.EventUnknown].
//
// # Shutdown
//
// [Backend.ExitDirective] is the "/exit" user turn, written by the client
// before it closes stdin of an interactive session.
package claude
