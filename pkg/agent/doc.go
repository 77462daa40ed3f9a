// Package agent runs Sofia's chat turns in two modes sharing one local
// tool runtime.
//
// Direct mode (Runner) talks to an LLM provider API, carries the
// conversation in local session transcripts, and loops over tool calls
// itself. Hosted mode (HostedRunner) delegates the conversation to a
// published Azure AI Foundry agent: the service holds history and
// instructions, while this process answers function_call items with
// local tool results and mcp_approval_request items with approval
// decisions.
//
// Invariants:
// - Tool calls route through toolexecutor only.
// - Tool loops stop after a bounded number of turns.
// - User input and assistant replies are appended to the session
//   transcript on every successful turn.
//
// Usage (hosted):
//
//	runner, _ := agent.NewHostedRunner(agent.HostedConfig{...})
//	_, _ = runner.EnsureConversation(ctx, "cli:default")
//	result, _ := runner.Run(ctx, "how many pizzas for 12 people?")
//	fmt.Println(result.Reply)
package agent
